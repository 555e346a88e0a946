package testutils

import (
	"sync"

	nkhttp "github.com/multibar/networkkit/internal/http"
	"github.com/multibar/networkkit/pkg/network"
)

// Transport is a session that records the tasks it creates and never
// touches the network. Tests drive the tasks' events by hand.
type Transport struct {
	// Delegate receives the events of every task. Set it before the first
	// event is emitted.
	Delegate nkhttp.Delegate

	mu          sync.Mutex
	tasks       []*Task
	invalidated bool
}

// NewTransport returns an empty fake session.
func NewTransport() *Transport {
	return &Transport{}
}

func (s *Transport) DataTask(req network.Request) nkhttp.Task {
	return s.add("data", req, nil)
}

func (s *Transport) DownloadTask(req network.Request) nkhttp.Task {
	return s.add("download", req, nil)
}

func (s *Transport) UploadTask(req network.Request, body []byte) nkhttp.Task {
	return s.add("upload", req, body)
}

func (s *Transport) Invalidate() {
	s.mu.Lock()
	s.invalidated = true
	tasks := append([]*Task(nil), s.tasks...)
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
}

// Invalidated reports whether Invalidate was called.
func (s *Transport) Invalidated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

// Tasks returns every task created so far, in creation order.
func (s *Transport) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Task(nil), s.tasks...)
}

// Last returns the most recent task, nil when none was created.
func (s *Transport) Last() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return nil
	}
	return s.tasks[len(s.tasks)-1]
}

// Drain reports the session as finished with all its events.
func (s *Transport) Drain() {
	s.Delegate.FinishedEvents(nil)
}

func (s *Transport) add(kind string, req network.Request, body []byte) *Task {
	t := &Task{Kind: kind, Body: body, session: s, request: req}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
	return t
}

// Task is a fake transport task. It counts the calls made on it.
type Task struct {
	Kind string
	Body []byte

	session *Transport
	request network.Request

	mu        sync.Mutex
	resumes   int
	suspends  int
	cancelled bool
	fraction  float64
}

func (t *Task) Request() network.Request { return t.request }

func (t *Task) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resumes++
}

func (t *Task) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suspends++
}

func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
}

func (t *Task) Fraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fraction
}

// Resumes returns how often Resume was called.
func (t *Task) Resumes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resumes
}

// Suspends returns how often Suspend was called.
func (t *Task) Suspends() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspends
}

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Receive delivers a response chunk.
func (t *Task) Receive(data []byte) {
	t.session.Delegate.ReceivedData(t, data)
}

// Write reports download progress and records the fraction.
func (t *Task) Write(total, expected int64) {
	t.setFraction(total, expected)
	t.session.Delegate.WroteData(t, 0, total, expected)
}

// Send reports upload progress and records the fraction.
func (t *Task) Send(total, expected int64) {
	t.setFraction(total, expected)
	t.session.Delegate.SentBodyData(t, 0, total, expected)
}

// Resumed reports a download continued at offset.
func (t *Task) Resumed(offset, expected int64) {
	t.setFraction(offset, expected)
	t.session.Delegate.ResumedDownload(t, offset, expected)
}

// Store reports a finished download at location.
func (t *Task) Store(location string) {
	t.session.Delegate.FinishedDownloading(t, location)
}

// Complete ends the task with err.
func (t *Task) Complete(err error) {
	t.session.Delegate.Completed(t, err)
}

func (t *Task) setFraction(done, expected int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if expected > 0 {
		t.fraction = float64(done) / float64(expected)
	}
}
