package workstation

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"

	nkhttp "github.com/multibar/networkkit/internal/http"
	"github.com/multibar/networkkit/internal/store"
	"github.com/multibar/networkkit/pkg/network"
)

// ErrWorkerExists is the cause of a submission whose id belongs to a live
// worker of another request.
var ErrWorkerExists = errors.New("workstation: worker id in use")

// DefaultBackgroundIdentifier names the background session when none is set.
const DefaultBackgroundIdentifier = "networkkit.background"

// Transport creates tasks on one session. *http.Session implements it.
type Transport interface {
	DataTask(req network.Request) nkhttp.Task
	DownloadTask(req network.Request) nkhttp.Task
	UploadTask(req network.Request, body []byte) nkhttp.Task
	Invalidate()
}

type options struct {
	logger     *slog.Logger
	keepAlive  KeepAlive
	listener   Listener
	http       nkhttp.Options
	store      *store.Store
	foreground Transport
	background Transport
}

// Option configures a Workstation.
type Option func(*options)

// WithLogger sets the logger for worker lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithKeepAlive sets the capability acquired while workers load.
func WithKeepAlive(k KeepAlive) Option {
	return func(o *options) { o.keepAlive = k }
}

// WithListener sets the observer of registry changes.
func WithListener(l Listener) Option {
	return func(o *options) { o.listener = l }
}

// WithHTTPOptions sets the options both sessions are built with.
func WithHTTPOptions(opts nkhttp.Options) Option {
	return func(o *options) { o.http = opts }
}

// WithClient sets the client identifier sent as User-Agent.
func WithClient(client string) Option {
	return func(o *options) { o.http.Client = client }
}

// WithStore sets the store finished downloads are committed to.
func WithStore(st *store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithSessions replaces the transport sessions. The transports must deliver
// their events to the Workstation's delegate methods.
func WithSessions(foreground, background Transport) Option {
	return func(o *options) {
		o.foreground = foreground
		o.background = background
	}
}

// Workstation accepts work, deduplicates and queues it, drives the transport
// sessions and routes their events to workers.
type Workstation struct {
	ctx        *Context
	foreground Transport
	background Transport
	client     string
	logger     *slog.Logger
	keepAlive  KeepAlive

	pool    pond.Pool
	pending sync.WaitGroup

	mu         sync.Mutex
	completion func()
}

// New builds a Workstation with its foreground and background sessions.
func New(opts ...Option) *Workstation {
	o := options{
		logger:    slog.New(slog.DiscardHandler),
		keepAlive: noKeepAlive{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	w := &Workstation{
		ctx:       NewContext(o.listener),
		client:    o.http.Client,
		logger:    o.logger,
		keepAlive: o.keepAlive,
		pool:      pond.NewPool(1),
	}

	w.foreground, w.background = o.foreground, o.background
	if w.foreground == nil {
		fg := o.http
		fg.Background = false
		fg.Identifier = ""
		w.foreground = nkhttp.NewSession(fg, o.store, w)
	}
	if w.background == nil {
		bg := o.http
		bg.Background = true
		if bg.Identifier == "" {
			bg.Identifier = DefaultBackgroundIdentifier
		}
		w.background = nkhttp.NewSession(bg, o.store, w)
	}
	return w
}

// Client returns the client identifier requests are built with.
func (w *Workstation) Client() string { return w.client }

// Perform submits work under id. leech receives every transition of the
// worker. With enqueue set, work whose request is already running waits in
// the queue instead of joining the running transport.
//
// Perform does not block. Work without a URL fails with ErrURL before
// Perform returns. Work submitted under the id of a live worker for the same
// request joins that worker: leech receives its current progress and every
// later transition. Under a live id of another request the work fails with
// ErrWorkerExists as cause.
func (w *Workstation) Perform(work Work, id uuid.UUID, enqueue bool, leech Leech) {
	source := work.URL()
	if source == nil {
		w.logger.Warn("worker rejected", "id", id, "reason", "no url")
		if leech != nil {
			leech(network.Output{ID: id, Progress: network.Failed(network.ErrURL, nil)})
		}
		return
	}
	worker := newWorker(id, work, source, leech, w.keepAlive)
	w.schedule(func() { w.submit(worker, enqueue) })
}

// Flush waits until every submission made so far has been handled.
func (w *Workstation) Flush() {
	w.pending.Wait()
}

func (w *Workstation) schedule(job func()) {
	if w.pool.Stopped() {
		return
	}
	w.pending.Add(1)
	w.pool.Submit(func() {
		defer w.pending.Done()
		job()
	})
}

// submit runs on the submission queue.
func (w *Workstation) submit(worker *Worker, enqueue bool) {
	if live := w.ctx.Worker(worker.id); live != nil {
		w.rejoin(live, worker)
		return
	}
	if !w.ctx.Add(worker, enqueue) {
		if worker.Progress().State == network.StateQueued {
			w.logger.Debug("worker queued", "id", worker.id, "url", worker.source.String())
			return
		}
		w.logger.Debug("worker attached", "id", worker.id, "url", worker.source.String())
		worker.update(network.Loading())
		return
	}

	w.logger.Debug("worker started", "id", worker.id, "kind", worker.work.Kind.String(), "url", worker.source.String())
	worker.update(network.Loading())

	work := worker.work
	var task nkhttp.Task
	switch work.Kind {
	case KindShort:
		task = w.foreground.DataTask(work.Request)
	case KindDownload:
		task = w.session(work.Session).DownloadTask(work.Request)
	case KindUpload:
		task = w.session(work.Session).UploadTask(work.Request, work.Payload)
	}
	if !w.ctx.AttachTask(work.Request, task) {
		w.logger.Debug("task dropped", "id", worker.id, "reason", "cancelled before start")
		task.Cancel()
		return
	}
	task.Resume()
}

// rejoin handles work submitted under the id of a live worker. The same
// request subscribes to the live worker; any other request fails without
// touching it.
func (w *Workstation) rejoin(live, worker *Worker) {
	if live.Request().Key() != worker.Request().Key() {
		w.logger.Warn("worker rejected", "id", worker.id, "reason", "id in use")
		worker.update(network.Failed(network.ErrUnknown, ErrWorkerExists))
		return
	}
	w.logger.Debug("worker rejoined", "id", worker.id, "url", worker.source.String())
	if worker.leech != nil {
		live.join(worker.leech)
	}
}

func (w *Workstation) session(s Session) Transport {
	if s == Background {
		return w.background
	}
	return w.foreground
}

// promote starts the first queued worker of req on the submission queue.
func (w *Workstation) promote(req network.Request) {
	w.schedule(func() {
		if next := w.ctx.Next(req); next != nil {
			w.logger.Debug("worker promoted", "id", next.id)
			w.submit(next, false)
		}
	})
}

// Toggle pauses a downloading worker or resumes a paused one and returns
// the resulting progress. A worker without a transport task, or in any
// other state, is left as it is.
func (w *Workstation) Toggle(worker *Worker) network.Progress {
	task := worker.Task()
	if task == nil {
		return worker.Progress()
	}

	var action func()
	p := worker.transition(func(cur network.Progress) (network.Progress, bool) {
		switch cur.State {
		case network.StatePaused:
			action = task.Resume
			return network.Downloading(task.Fraction()), true
		case network.StateDownloading:
			action = task.Suspend
			return network.Paused(), true
		default:
			return cur, false
		}
	})
	if action != nil {
		action()
	}
	return p
}

// Cancel stops worker and reports failed(cancelled) to its leeches. The
// transport task is cancelled when no other worker rides it, and the next
// queued worker of the request is promoted once the slot is free.
//
// Other workers sharing the task keep running; use CancelAll to stop every
// worker of a request.
func (w *Workstation) Cancel(worker *Worker) {
	registered := w.ctx.Remove(worker)
	task := worker.Task()

	released := registered
	if task != nil && registered {
		if len(w.ctx.riding(task)) > 0 {
			released = false
		} else {
			task.Cancel()
		}
	}

	w.logger.Debug("worker cancelled", "id", worker.id, "released", released)
	worker.update(network.Failed(network.ErrCancelled, nil))
	if released {
		w.promote(worker.Request())
	}
}

// CancelAll cancels every registered and queued worker of req and their
// transport tasks.
func (w *Workstation) CancelAll(req network.Request) {
	queued := w.ctx.Dequeue(req)
	workers := w.ctx.RemoveRequest(req)

	cancelled := make(map[nkhttp.Task]bool)
	for _, worker := range workers {
		if task := worker.Task(); task != nil && !cancelled[task] {
			cancelled[task] = true
			task.Cancel()
		}
	}
	for _, worker := range append(workers, queued...) {
		worker.update(network.Failed(network.ErrCancelled, nil))
	}
	w.logger.Debug("request cancelled", "url", req.String(), "workers", len(workers), "queued", len(queued))
}

// SetBackgroundCompletion sets fn to run once, the next time the background
// session finishes all its events.
func (w *Workstation) SetBackgroundCompletion(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.completion = fn
}

// Workers returns the registered workers.
func (w *Workstation) Workers() []*Worker { return w.ctx.Snapshot() }

// Queue returns the queued workers in promotion order.
func (w *Workstation) Queue() []*Worker { return w.ctx.Queue() }

// Worker finds a registered or queued worker by id.
func (w *Workstation) Worker(id uuid.UUID) *Worker { return w.ctx.Worker(id) }

// Subscribe adds leech to the worker with the given id. It reports whether
// the worker was found.
func (w *Workstation) Subscribe(id, subscriber uuid.UUID, leech Leech) bool {
	worker := w.ctx.Worker(id)
	if worker == nil {
		return false
	}
	worker.Subscribe(subscriber, leech)
	return true
}

// Unsubscribe removes the leech of subscriber from the worker with the
// given id.
func (w *Workstation) Unsubscribe(id, subscriber uuid.UUID) {
	if worker := w.ctx.Worker(id); worker != nil {
		worker.Unsubscribe(subscriber)
	}
}

// Context returns the registry of w.
func (w *Workstation) Context() *Context { return w.ctx }

// Close drains the submission queue and invalidates both sessions. Running
// tasks are cancelled.
func (w *Workstation) Close() {
	w.pool.StopAndWait()
	w.foreground.Invalidate()
	if w.background != w.foreground {
		w.background.Invalidate()
	}
}
