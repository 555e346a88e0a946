package workstation

import (
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	nkhttp "github.com/multibar/networkkit/internal/http"
	"github.com/multibar/networkkit/pkg/network"
)

// Leech receives every progress transition of a worker.
type Leech func(network.Output)

// KeepAlive keeps the host process running while work is loading.
// Acquire is called when a worker starts loading; expire is invoked if the
// host runs out of time and cancels the worker's transport. The returned
// release is called once the worker reaches a terminal state.
type KeepAlive interface {
	Acquire(expire func()) (release func())
}

type noKeepAlive struct{}

func (noKeepAlive) Acquire(func()) func() { return func() {} }

// Worker is one tracked unit of work: a transport operation and the leeches
// observing it.
type Worker struct {
	id        uuid.UUID
	work      Work
	source    *url.URL
	created   time.Time
	leech     Leech
	keepAlive KeepAlive

	mu       sync.Mutex
	progress network.Progress
	task     nkhttp.Task
	leeches  map[uuid.UUID]Leech
	release  func()

	// Outputs waiting for fan-out, in transition order.
	pending    []delivery
	delivering bool
}

type delivery struct {
	out     network.Output
	leeches []Leech
}

func newWorker(id uuid.UUID, work Work, source *url.URL, leech Leech, keepAlive KeepAlive) *Worker {
	w := &Worker{
		id:        id,
		work:      work,
		source:    source,
		created:   time.Now(),
		leech:     leech,
		keepAlive: keepAlive,
		progress:  network.Loading(),
		leeches:   make(map[uuid.UUID]Leech),
	}
	if leech != nil {
		w.leeches[id] = leech
	}
	return w
}

// ID returns the id the worker was submitted under.
func (w *Worker) ID() uuid.UUID { return w.id }

// Work returns the submitted work.
func (w *Worker) Work() Work { return w.work }

// Request returns the request of the worker's work.
func (w *Worker) Request() network.Request { return w.work.Request }

// Created returns when the worker was submitted.
func (w *Worker) Created() time.Time { return w.created }

// Source returns the resolved URL of the worker.
func (w *Worker) Source() *url.URL {
	u := *w.source
	return &u
}

// Progress returns the current state.
func (w *Worker) Progress() network.Progress {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progress
}

// Task returns the transport task the worker rides, nil while queued.
func (w *Worker) Task() nkhttp.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.task
}

// adopt sets t as the worker's task if it has none.
func (w *Worker) adopt(t nkhttp.Task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.task == nil {
		w.task = t
	}
}

// Subscribe adds a leech under subscriber. Subscribing again replaces it.
func (w *Worker) Subscribe(subscriber uuid.UUID, leech Leech) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.leeches[subscriber] = leech
}

// Unsubscribe removes the leech of subscriber. The submitter's own leech
// cannot be removed.
func (w *Worker) Unsubscribe(subscriber uuid.UUID) {
	if subscriber == w.id {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.leeches, subscriber)
}

// join subscribes leech under a fresh key and hands it the current progress.
func (w *Worker) join(leech Leech) {
	w.mu.Lock()
	w.leeches[uuid.New()] = leech
	w.pending = append(w.pending, delivery{
		out:     network.Output{ID: w.id, Progress: w.progress},
		leeches: []Leech{leech},
	})
	w.mu.Unlock()
	w.deliver()
}

// Leeches returns the number of subscribers.
func (w *Worker) Leeches() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.leeches)
}

// update moves the worker to p and notifies every leech. Nothing happens
// once the worker is terminal. It reports whether the transition happened.
func (w *Worker) update(p network.Progress) bool {
	changed := false
	w.transition(func(network.Progress) (network.Progress, bool) {
		changed = true
		return p, true
	})
	return changed
}

// transition applies next to the current progress under the worker lock.
// When next accepts, the new progress is queued for every leech. Terminal
// workers never transition. It returns the resulting progress.
//
// Leeches see transitions in the order they were applied, even when a
// leech or the keep-alive transitions the worker again.
func (w *Worker) transition(next func(network.Progress) (network.Progress, bool)) network.Progress {
	w.mu.Lock()
	cur := w.progress
	if cur.Terminal() {
		w.mu.Unlock()
		return cur
	}
	p, ok := next(cur)
	if !ok {
		w.mu.Unlock()
		return cur
	}
	w.progress = p

	var previous func()
	if p.State == network.StateLoading || p.Terminal() {
		previous, w.release = w.release, nil
	}
	leeches := make([]Leech, 0, len(w.leeches))
	for _, l := range w.leeches {
		leeches = append(leeches, l)
	}
	w.pending = append(w.pending, delivery{out: network.Output{ID: w.id, Progress: p}, leeches: leeches})
	w.mu.Unlock()

	if previous != nil {
		previous()
	}
	if p.State == network.StateLoading {
		release := w.keepAlive.Acquire(w.expire)
		w.mu.Lock()
		if w.progress.Terminal() {
			w.mu.Unlock()
			release()
		} else {
			w.release = release
			w.mu.Unlock()
		}
	}

	w.deliver()
	return p
}

// deliver fans out pending outputs. Only one caller delivers at a time;
// outputs queued meanwhile are picked up by that caller.
func (w *Worker) deliver() {
	w.mu.Lock()
	if w.delivering {
		w.mu.Unlock()
		return
	}
	w.delivering = true
	for len(w.pending) > 0 {
		d := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()
		for _, l := range d.leeches {
			l(d.out)
		}
		w.mu.Lock()
	}
	w.delivering = false
	w.mu.Unlock()
}

// expire cancels the worker's transport when the keep-alive runs out.
func (w *Worker) expire() {
	if t := w.Task(); t != nil {
		t.Cancel()
	}
}
