package http

import (
	"errors"
	"sync"

	"github.com/multibar/networkkit/internal/store"
	"github.com/multibar/networkkit/pkg/network"
)

// ErrNoStore is reported by download tasks of a session without a store.
var ErrNoStore = errors.New("http: session has no download store")

// Task is a single transport operation. Tasks do nothing until the first
// Resume.
type Task interface {
	// Request returns the request the task was created for.
	Request() network.Request
	// Resume starts the task, or continues it after Suspend.
	Resume()
	// Suspend pauses the transfer. Suspended downloads release their
	// connection and continue with a range request on Resume.
	Suspend()
	// Cancel aborts the task. The delegate still receives Completed.
	Cancel()
	// Fraction is the completed share of the transfer, 0 when unknown.
	Fraction() float64
}

// Delegate receives task events. Events of one task are delivered from a
// single goroutine in order; events of different tasks may interleave.
type Delegate interface {
	// ReceivedData delivers a chunk of a data or upload task's response body.
	ReceivedData(task Task, data []byte)
	// Completed is the last event of every task. err is nil on success.
	Completed(task Task, err error)
	// FinishedDownloading reports the store location of a finished download,
	// before Completed.
	FinishedDownloading(task Task, location string)
	// ResumedDownload reports that a suspended download continued at offset.
	ResumedDownload(task Task, offset, expected int64)
	// WroteData reports download progress.
	WroteData(task Task, written, totalWritten, totalExpected int64)
	// SentBodyData reports upload progress.
	SentBodyData(task Task, sent, totalSent, totalExpected int64)
	// FinishedEvents reports that a background session has no tasks left.
	FinishedEvents(session *Session)
}

// Session creates tasks that share a connection pool and default headers.
type Session struct {
	opts     Options
	client   *client
	store    *store.Store
	delegate Delegate

	mu      sync.Mutex
	tasks   map[*task]struct{}
	invalid bool
}

// NewSession creates a session. Zero-valued options are replaced with
// defaults. store may be nil when the session never downloads.
func NewSession(opts Options, st *store.Store, delegate Delegate) *Session {
	def := DefaultOptions()
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = def.RetryBackoff
	}
	if opts.RetryMaxBackoff <= 0 {
		opts.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}

	return &Session{
		opts:     opts,
		client:   newClient(opts),
		store:    st,
		delegate: delegate,
		tasks:    make(map[*task]struct{}),
	}
}

// Identifier returns the background identifier, empty for foreground sessions.
func (s *Session) Identifier() string { return s.opts.Identifier }

// Background reports whether s is a background session.
func (s *Session) Background() bool { return s.opts.Background }

// DataTask returns a task that streams the response body of req to the
// delegate.
func (s *Session) DataTask(req network.Request) Task {
	return newTask(s, kindData, req, nil)
}

// DownloadTask returns a task that stores the response body of req.
func (s *Session) DownloadTask(req network.Request) Task {
	return newTask(s, kindDownload, req, nil)
}

// UploadTask returns a task that sends body with req.
func (s *Session) UploadTask(req network.Request, body []byte) Task {
	return newTask(s, kindUpload, req, body)
}

// Invalidate cancels every running task. Tasks resumed afterwards complete
// with ErrInvalidated.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.invalid = true
	tasks := make([]*task, 0, len(s.tasks))
	for t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	s.client.client.CloseIdleConnections()
}

// Running returns the number of started, unfinished tasks.
func (s *Session) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Session) start(t *task) {
	s.mu.Lock()
	if s.invalid {
		s.mu.Unlock()
		go s.delegate.Completed(t, ErrInvalidated)
		return
	}
	s.tasks[t] = struct{}{}
	s.mu.Unlock()

	go t.run()
}

func (s *Session) finish(t *task) {
	s.mu.Lock()
	delete(s.tasks, t)
	drained := s.opts.Background && !s.invalid && len(s.tasks) == 0
	s.mu.Unlock()

	if drained {
		s.delegate.FinishedEvents(s)
	}
}
