package network

import (
	"fmt"

	"github.com/google/uuid"
)

// State enumerates the progress states of a worker.
type State int

const (
	StateLoading State = iota
	StateQueued
	StateDownloading
	StateUploading
	StatePaused
	StateFailed
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateQueued:
		return "queued"
	case StateDownloading:
		return "downloading"
	case StateUploading:
		return "uploading"
	case StatePaused:
		return "paused"
	case StateFailed:
		return "failed"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the payload of a finished worker: response bytes for short
// fetches and uploads, or a store location for downloads.
type Result struct {
	Data     []byte
	Location string
}

// Progress is the current state of a worker.
//
// Fraction is set for downloading and uploading, Err for failed and Result
// for finished.
type Progress struct {
	State    State
	Fraction float64
	Err      error
	Result   Result
}

// Loading returns the loading state.
func Loading() Progress { return Progress{State: StateLoading} }

// Queued returns the queued state.
func Queued() Progress { return Progress{State: StateQueued} }

// Paused returns the paused state.
func Paused() Progress { return Progress{State: StatePaused} }

// Downloading returns a downloading state with fraction clamped to [0, 1].
func Downloading(fraction float64) Progress {
	return Progress{State: StateDownloading, Fraction: clamp(fraction)}
}

// Uploading returns an uploading state with fraction clamped to [0, 1].
func Uploading(fraction float64) Progress {
	return Progress{State: StateUploading, Fraction: clamp(fraction)}
}

// Failed returns a failed state of the given kind.
func Failed(kind, cause error) Progress {
	return Progress{State: StateFailed, Err: Fail(kind, cause)}
}

// FailedWith returns a failed state carrying f.
func FailedWith(f *Failure) Progress {
	return Progress{State: StateFailed, Err: f}
}

// FinishedData returns a finished state carrying response bytes.
func FinishedData(data []byte) Progress {
	if data == nil {
		data = []byte{}
	}
	return Progress{State: StateFinished, Result: Result{Data: data}}
}

// FinishedFile returns a finished state carrying a store location.
func FinishedFile(location string) Progress {
	return Progress{State: StateFinished, Result: Result{Location: location}}
}

// Terminal reports whether p is failed or finished.
func (p Progress) Terminal() bool {
	return p.State == StateFailed || p.State == StateFinished
}

func (p Progress) String() string {
	switch p.State {
	case StateDownloading, StateUploading:
		return fmt.Sprintf("%s(%.1f%%)", p.State, p.Fraction*100)
	case StateFailed:
		return fmt.Sprintf("failed(%v)", p.Err)
	case StateFinished:
		if p.Result.Location != "" {
			return fmt.Sprintf("finished(file: %s)", p.Result.Location)
		}
		return fmt.Sprintf("finished(data: %d bytes)", len(p.Result.Data))
	default:
		return p.State.String()
	}
}

// Output is delivered to every leech of a worker on each transition.
type Output struct {
	ID       uuid.UUID
	Progress Progress
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
