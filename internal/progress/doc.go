// Package progress provides progress reporting for workers.
//
// This package outputs human-readable progress information to stdout:
// one line per started and terminal worker, plus a periodically refreshed
// status line while workers are running.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{Action: "Downloading"})
//	reporter.Track(id, url)
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	ws.Perform(work, id, false, reporter.Observe)
//
// # Output Format
//
//	[networkkit] Downloading: https://example.com/file.tar.gz
//	[networkkit] Progress: 45.2% | 1 active | 0 queued | 0 paused | 0 finished | 0 failed
//	[networkkit] Finished: https://example.com/file.tar.gz -> downloads/6f1c.../file.tar.gz
//	[networkkit] Done: 1/1 finished | 0 failed | Total time: 12s
package progress
