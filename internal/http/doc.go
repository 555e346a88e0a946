// Package http is the transport under the workstation: sessions that run
// data, download and upload tasks and report their events to a Delegate.
//
// This package handles:
//   - Session-wide default headers (Accept-Encoding, Accept-Language, User-Agent)
//   - Retry with exponential backoff before the first response byte
//   - Suspend and resume, with range requests for downloads
//   - Committing finished downloads into a store
//   - Drain notification for background sessions
//
// # Usage
//
//	fg := http.NewSession(http.Options{Client: "app/1.0"}, nil, delegate)
//	bg := http.NewSession(http.Options{Background: true, Identifier: "app.background"}, st, delegate)
//
//	task := bg.DownloadTask(req)
//	task.Resume()
//	// delegate.WroteData(...) ... delegate.FinishedDownloading(task, location)
//	// delegate.Completed(task, nil)
package http
