package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/multibar/networkkit/pkg/network"
	"github.com/multibar/networkkit/pkg/workstation"
)

// runFetch fetches JSON from every URL concurrently and prints the
// responses in argument order.
func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	common := addCommonFlags(fs)
	method := fs.String("method", "GET", "HTTP method")
	body := fs.String("body", "", "Request body")
	concurrency := fs.Int("concurrency", 4, "Maximum concurrent fetches")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: networkkit fetch [options] URL...

Fetch JSON from one or more URLs and print each response on its own line.
Identical requests share one transport call.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() == 0 || *concurrency < 1 {
		fmt.Fprintln(os.Stderr, "Error: at least one URL and a positive -concurrency are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, code := openStation(ctx, common)
	if code != ExitSuccess {
		return code
	}
	defer s.Close()

	configs := make([]network.Configuration, fs.NArg())
	for i, raw := range fs.Args() {
		opts := []network.EndpointOption{network.WithMethod(network.Method(strings.ToUpper(*method)))}
		if *body != "" {
			opts = append(opts, network.WithBody([]byte(*body)))
		}
		cfg, err := s.endpoint(raw, opts...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid URL %q: %v\n", raw, err)
			return ExitInvalidArgs
		}
		configs[i] = cfg
	}

	return fetchAll(ctx, s, configs, fs.Args(), *concurrency, os.Stdout)
}

// fetchAll runs one typed fetch per configuration. The first failure
// cancels the others.
func fetchAll(ctx context.Context, s *station, configs []network.Configuration, urls []string, limit int, out io.Writer) int {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make([]json.RawMessage, len(configs))
	for i, cfg := range configs {
		g.Go(func() error {
			raw, err := workstation.Fetch[json.RawMessage](ctx, s.ws, cfg)
			if err != nil {
				return fmt.Errorf("%s: %w", urls[i], err)
			}
			s.logger.Debug("fetched", "url", urls[i], "bytes", len(raw))
			results[i] = raw
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}

	for _, raw := range results {
		fmt.Fprintln(out, string(raw))
	}
	return ExitSuccess
}
