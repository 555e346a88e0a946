package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/multibar/networkkit/internal/progress"
	"github.com/multibar/networkkit/pkg/network"
	"github.com/multibar/networkkit/pkg/workstation"
)

// runUpload sends a file as the body of a request and prints the response.
func runUpload(args []string) int {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	common := addCommonFlags(fs)
	file := fs.String("file", "", "File to upload, - for stdin (required)")
	method := fs.String("method", "POST", "HTTP method")
	background := fs.Bool("background", false, "Use the background session")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: networkkit upload [options] URL

Send a file as the body of a request and print the response body.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *file == "" || fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: -file and exactly one URL are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	data, err := readPayload(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", *file, err)
		return ExitGeneralError
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, code := openStation(ctx, common)
	if code != ExitSuccess {
		return code
	}
	defer s.Close()

	raw := fs.Arg(0)
	req, err := s.request(raw, network.WithMethod(network.Method(strings.ToUpper(*method))))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid URL %q: %v\n", raw, err)
		return exitCode(err)
	}

	session := workstation.Foreground
	if *background {
		session = workstation.Background
	}

	var reporter *progress.Reporter
	if s.cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			Output:         os.Stderr,
			UpdateInterval: time.Second,
			Action:         "Uploading " + progress.FormatBytes(int64(len(data))) + " to",
		})
		reporter.Start()
		defer reporter.Stop()
	}

	results, err := s.perform(ctx, []workstation.Work{workstation.Upload(data, req, session)}, []string{raw}, false, reporter)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[networkkit] Upload interrupted")
		return ExitInterrupted
	}
	if p := results[0]; p.State == network.StateFailed {
		fmt.Fprintf(os.Stderr, "Error uploading to %s: %v\n", raw, p.Err)
		return exitCode(p.Err)
	}

	os.Stdout.Write(results[0].Result.Data)
	return ExitSuccess
}

func readPayload(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}
