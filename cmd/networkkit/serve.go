package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/multibar/networkkit/internal/inspect"
	"github.com/multibar/networkkit/pkg/network"
)

// runServe exposes a workstation through the inspector API until
// interrupted.
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	common := addCommonFlags(fs)
	addr := fs.String("addr", "", "Listen address (default from config)")
	open := fs.Bool("insecure", false, "Serve without bearer authentication even if a secret is set")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: networkkit serve [options]

Run the inspector API. Workers can be submitted, listed, toggled and
cancelled over HTTP. When an auth secret is configured, /v1 routes require
a bearer token signed with it.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, code := openStation(ctx, common)
	if code != ExitSuccess {
		return code
	}
	defer s.Close()

	if !common.verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	opts := inspect.Options{Logger: s.logger}
	if s.cfg.Auth.Secret != "" {
		opts.Tokens = s.signer
		if !*open {
			opts.Verifier = s.signer
		}
	}
	if s.cfg.APIKey.Value != "" {
		opts.Key = &network.Key{Header: s.cfg.APIKey.Header, Value: s.cfg.APIKey.Value}
	}

	listen := s.cfg.Inspect.Addr
	if *addr != "" {
		listen = *addr
	}

	if err := inspect.New(s.ws, opts).Run(ctx, listen); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	fmt.Fprintln(os.Stderr, "[networkkit] Inspector stopped")
	return ExitSuccess
}
