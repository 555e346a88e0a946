package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/multibar/networkkit/internal/progress"
	"github.com/multibar/networkkit/pkg/network"
	"github.com/multibar/networkkit/pkg/workstation"
)

// runDownload downloads every URL into the configured store and optionally
// copies the results into a local directory.
func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	common := addCommonFlags(fs)
	output := fs.String("output", "", "Directory the downloaded files are copied to")
	background := fs.Bool("background", false, "Use the background session")
	enqueue := fs.Bool("enqueue", false, "Queue duplicate URLs instead of sharing one transfer")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: networkkit download [options] URL...

Download URLs into the configured store and print the stored locations.
Interrupted downloads resume with range requests when the server allows it.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one URL is required")
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

	session := workstation.Foreground
	if *background {
		session = workstation.Background
		s.ws.SetBackgroundCompletion(func() {
			s.logger.Info("background session drained")
		})
	}

	works := make([]workstation.Work, fs.NArg())
	for i, raw := range fs.Args() {
		req, err := s.request(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid URL %q: %v\n", raw, err)
			return exitCode(err)
		}
		works[i] = workstation.Download(req, session)
	}

	return s.download(ctx, works, fs.Args(), *enqueue, *output, os.Stdout)
}

func (s *station) download(ctx context.Context, works []workstation.Work, urls []string, enqueue bool, output string, out io.Writer) int {
	var reporter *progress.Reporter
	if s.cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			Output:         os.Stderr,
			UpdateInterval: time.Second,
			Action:         "Downloading",
		})
		reporter.Start()
		defer reporter.Stop()
	}

	results, err := s.perform(ctx, works, urls, enqueue, reporter)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[networkkit] Download interrupted, partial files are discarded")
		return ExitInterrupted
	}

	code := ExitSuccess
	for i, p := range results {
		if p.State == network.StateFailed {
			fmt.Fprintf(os.Stderr, "Error downloading %s: %v\n", urls[i], p.Err)
			if code == ExitSuccess {
				code = exitCode(p.Err)
			}
			continue
		}
		location := p.Result.Location
		if output != "" {
			dst, err := s.export(ctx, location, output)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error copying %s: %v\n", location, err)
				code = ExitStorageError
				continue
			}
			location = dst
		}
		fmt.Fprintf(out, "%s\t%s\n", urls[i], location)
	}
	return code
}

// export copies a stored location into dir and returns the local path.
func (s *station) export(ctx context.Context, location, dir string) (string, error) {
	r, err := s.store.Open(ctx, location)
	if err != nil {
		return "", err
	}
	defer r.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	dst := filepath.Join(dir, path.Base(location))
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create output file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", dst, err)
	}
	return dst, nil
}
