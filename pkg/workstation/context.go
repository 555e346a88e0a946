package workstation

import (
	"bytes"
	"slices"
	"sync"

	"github.com/google/uuid"

	nkhttp "github.com/multibar/networkkit/internal/http"
	"github.com/multibar/networkkit/pkg/network"
)

// Listener observes registry changes. Callbacks run after the registry lock
// is released and receive snapshots.
type Listener interface {
	Updated(workers []*Worker)
	Queued(queue []*Worker)
}

// Context is the registry of active workers, the queue of workers waiting
// for a transport slot, and the response bytes accumulated per request.
//
// A worker is either registered or queued, never both. Registered workers
// with the same request ride the same transport task.
type Context struct {
	listener Listener

	mu      sync.Mutex
	workers []*Worker
	queue   []*Worker
	data    map[string][]byte
}

// NewContext returns an empty registry. listener may be nil.
func NewContext(listener Listener) *Context {
	return &Context{
		listener: listener,
		data:     make(map[string][]byte),
	}
}

// Add registers worker, queues it, or attaches it to a running transport.
//
// With enqueue set, a worker whose request is already being served by other
// workers goes to the back of the queue and becomes queued. Otherwise it is
// registered and rides the task of its first coworker. A worker whose id is
// already registered or queued is not added again; the live worker keeps
// its place. Add reports whether the caller must start a transport task for
// the worker.
func (c *Context) Add(worker *Worker, enqueue bool) bool {
	c.mu.Lock()
	if c.lookup(worker.id) != nil {
		c.mu.Unlock()
		return false
	}
	key := worker.Request().Key()
	var coworkers []*Worker
	for _, w := range c.workers {
		if w.Request().Key() == key {
			coworkers = append(coworkers, w)
		}
	}

	if enqueue && len(coworkers) > 0 {
		c.queue = append(c.queue, worker)
		queue := slices.Clone(c.queue)
		c.mu.Unlock()

		worker.update(network.Queued())
		c.notifyQueue(queue)
		return false
	}

	if len(coworkers) > 0 {
		worker.adopt(coworkers[0].Task())
	}
	c.workers = append(c.workers, worker)
	workers, queue := slices.Clone(c.workers), slices.Clone(c.queue)
	c.mu.Unlock()

	c.notify(workers, queue)
	return len(coworkers) == 0
}

// Remove drops worker from the registry and the queue. The request's data is
// dropped once no registered worker needs it. Remove reports whether the
// worker was registered.
func (c *Context) Remove(worker *Worker) bool {
	c.mu.Lock()
	i := slices.Index(c.workers, worker)
	if i >= 0 {
		c.workers = slices.Delete(c.workers, i, i+1)
	}
	if j := c.queued(worker.id); j >= 0 {
		c.queue = slices.Delete(c.queue, j, j+1)
	}
	c.release(worker.Request().Key())
	workers, queue := slices.Clone(c.workers), slices.Clone(c.queue)
	c.mu.Unlock()

	c.notify(workers, queue)
	return i >= 0
}

// RemoveRequest unregisters every worker of req and drops its data.
func (c *Context) RemoveRequest(req network.Request) []*Worker {
	return c.take(req, nil)
}

// take unregisters the workers of req that ride task, or all of them when
// task is nil, and returns them with the request's data dropped if nothing
// else needs it.
func (c *Context) take(req network.Request, task nkhttp.Task) []*Worker {
	c.mu.Lock()
	key := req.Key()
	var taken []*Worker
	c.workers = slices.DeleteFunc(c.workers, func(w *Worker) bool {
		if w.Request().Key() != key || (task != nil && w.Task() != task) {
			return false
		}
		taken = append(taken, w)
		return true
	})
	if task == nil {
		delete(c.data, key)
	} else {
		c.release(key)
	}
	workers, queue := slices.Clone(c.workers), slices.Clone(c.queue)
	c.mu.Unlock()

	if len(taken) > 0 {
		c.notify(workers, queue)
	}
	return taken
}

// finish takes the workers riding task out of the registry and returns them
// with the bytes accumulated for the request.
func (c *Context) finish(task nkhttp.Task) ([]*Worker, []byte) {
	c.mu.Lock()
	data := c.data[task.Request().Key()]
	c.mu.Unlock()

	workers := c.take(task.Request(), task)
	return workers, data
}

// Dequeue drops every queued worker of req and returns them.
func (c *Context) Dequeue(req network.Request) []*Worker {
	c.mu.Lock()
	key := req.Key()
	var dropped []*Worker
	c.queue = slices.DeleteFunc(c.queue, func(w *Worker) bool {
		if w.Request().Key() == key {
			dropped = append(dropped, w)
			return true
		}
		return false
	})
	queue := slices.Clone(c.queue)
	c.mu.Unlock()

	if len(dropped) > 0 {
		c.notifyQueue(queue)
	}
	return dropped
}

// Next pops the first queued worker of req, nil when none is waiting.
func (c *Context) Next(req network.Request) *Worker {
	c.mu.Lock()
	key := req.Key()
	i := slices.IndexFunc(c.queue, func(w *Worker) bool { return w.Request().Key() == key })
	if i < 0 {
		c.mu.Unlock()
		return nil
	}
	next := c.queue[i]
	c.queue = slices.Delete(c.queue, i, i+1)
	queue := slices.Clone(c.queue)
	c.mu.Unlock()

	c.notifyQueue(queue)
	return next
}

// Data returns a copy of the bytes accumulated for req.
func (c *Context) Data(req network.Request) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.data[req.Key()])
}

// AddData appends data to the buffer of req. Bytes for a request without
// registered workers are dropped. When task is not nil, only workers riding
// it count. AddData reports whether the bytes were kept.
func (c *Context) AddData(data []byte, req network.Request, task nkhttp.Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := req.Key()
	if !slices.ContainsFunc(c.workers, func(w *Worker) bool {
		return w.Request().Key() == key && (task == nil || w.Task() == task)
	}) {
		return false
	}
	c.data[key] = append(c.data[key], data...)
	return true
}

// Workers returns the registered workers of req.
func (c *Context) Workers(req network.Request) []*Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := req.Key()
	var out []*Worker
	for _, w := range c.workers {
		if w.Request().Key() == key {
			out = append(out, w)
		}
	}
	return out
}

// Snapshot returns every registered worker in registration order.
func (c *Context) Snapshot() []*Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.workers)
}

// Queue returns the queued workers in promotion order.
func (c *Context) Queue() []*Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.queue)
}

// Worker finds a registered or queued worker by id.
func (c *Context) Worker(id uuid.UUID) *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(id)
}

// AttachTask hands task to every registered worker of req that has none.
// It reports whether any registered worker rides task afterwards; when none
// does, the task has no owner and must not run.
func (c *Context) AttachTask(req network.Request, task nkhttp.Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := req.Key()
	ridden := false
	for _, w := range c.workers {
		if w.Request().Key() == key {
			w.adopt(task)
			ridden = ridden || w.Task() == task
		}
	}
	return ridden
}

// riding returns the registered workers on task.
func (c *Context) riding(task nkhttp.Task) []*Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := task.Request().Key()
	var out []*Worker
	for _, w := range c.workers {
		if w.Request().Key() == key && w.Task() == task {
			out = append(out, w)
		}
	}
	return out
}

// lookup finds a registered or queued worker by id. c.mu must be held.
func (c *Context) lookup(id uuid.UUID) *Worker {
	for _, w := range c.workers {
		if w.id == id {
			return w
		}
	}
	if i := c.queued(id); i >= 0 {
		return c.queue[i]
	}
	return nil
}

func (c *Context) queued(id uuid.UUID) int {
	return slices.IndexFunc(c.queue, func(w *Worker) bool { return w.id == id })
}

// release drops the data of key when no registered worker is left for it.
// c.mu must be held.
func (c *Context) release(key string) {
	if !slices.ContainsFunc(c.workers, func(w *Worker) bool { return w.Request().Key() == key }) {
		delete(c.data, key)
	}
}

func (c *Context) notify(workers, queue []*Worker) {
	if c.listener == nil {
		return
	}
	c.listener.Updated(workers)
	c.listener.Queued(queue)
}

func (c *Context) notifyQueue(queue []*Worker) {
	if c.listener != nil {
		c.listener.Queued(queue)
	}
}
