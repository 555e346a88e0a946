package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitInvalidArgs     = 2
	ExitSourceNotAccess = 3
	ExitConfigError     = 4
	ExitStorageError    = 5
	ExitInterrupted     = 6
	ExitDecodeError     = 7
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "fetch":
		return runFetch(cmdArgs)
	case "download":
		return runDownload(cmdArgs)
	case "upload":
		return runUpload(cmdArgs)
	case "serve":
		return runServe(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: networkkit <command> [options]

Commands:
  fetch     Fetch JSON from one or more URLs and print the responses
  download  Download URLs into the configured store
  upload    Send a file as the body of a request and print the response
  serve     Run the inspector API over a workstation

Run 'networkkit <command> -h' for command-specific help.`)
}
