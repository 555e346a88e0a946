package workstation

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"

	"github.com/google/uuid"

	"github.com/multibar/networkkit/internal/lifecycle"
	"github.com/multibar/networkkit/internal/testutils"
	"github.com/multibar/networkkit/pkg/network"
)

// observer is a leech that records every output it receives.
type observer struct {
	mu   sync.Mutex
	outs []network.Output
}

func (o *observer) leech(out network.Output) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outs = append(o.outs, out)
}

func (o *observer) states() []network.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	states := make([]network.State, len(o.outs))
	for i, out := range o.outs {
		states[i] = out.Progress.State
	}
	return states
}

func (o *observer) last() network.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.outs) == 0 {
		return network.Progress{State: -1}
	}
	return o.outs[len(o.outs)-1].Progress
}

func (o *observer) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.outs)
}

func newStation(t *testing.T, opts ...Option) (*Workstation, *testutils.Transport, *testutils.Transport) {
	t.Helper()
	fg, bg := testutils.NewTransport(), testutils.NewTransport()
	ws := New(append([]Option{WithSessions(fg, bg)}, opts...)...)
	fg.Delegate, bg.Delegate = ws, ws
	t.Cleanup(ws.Close)
	return ws, fg, bg
}

func mustRequest(t *testing.T, raw string) network.Request {
	t.Helper()
	cfg, err := network.ParseEndpoint(raw)
	if err != nil {
		t.Fatalf("ParseEndpoint(%q): %v", raw, err)
	}
	req, err := network.NewRequest(cfg, "test/1.0")
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func equalStates(got []network.State, want ...network.State) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestShortFetch(t *testing.T) {
	ws, fg, bg := newStation(t)
	req := mustRequest(t, "https://api.example.com/v2/info?id=1")

	var obs observer
	u1 := uuid.New()
	ws.Perform(Short(req), u1, false, obs.leech)
	ws.Flush()

	task := fg.Last()
	if task == nil || task.Kind != "data" {
		t.Fatalf("expected a data task on the foreground session, got %+v", task)
	}
	if task.Resumes() != 1 {
		t.Errorf("expected the task to be resumed once, got %d", task.Resumes())
	}
	if len(bg.Tasks()) != 0 {
		t.Error("short work must not use the background session")
	}

	task.Receive([]byte(`{"ok":`))
	task.Receive([]byte(`true}`))
	task.Complete(nil)

	if got := obs.states(); !equalStates(got, network.StateLoading, network.StateFinished) {
		t.Fatalf("unexpected states %v", got)
	}
	if got := string(obs.last().Result.Data); got != `{"ok":true}` {
		t.Errorf("unexpected data %q", got)
	}
	if obs.outs[0].ID != u1 {
		t.Errorf("output carries id %s, want %s", obs.outs[0].ID, u1)
	}
	if len(ws.Workers()) != 0 {
		t.Errorf("finished workers should leave the registry, got %d", len(ws.Workers()))
	}
	if len(ws.Context().Data(req)) != 0 {
		t.Error("finished request should drop its data")
	}
}

func TestShortFetchFailure(t *testing.T) {
	ws, fg, _ := newStation(t)
	req := mustRequest(t, "https://api.example.com/v2/info")

	var obs observer
	ws.Perform(Short(req), uuid.New(), false, obs.leech)
	ws.Flush()

	cause := errors.New("connection reset")
	fg.Last().Complete(cause)

	p := obs.last()
	if p.State != network.StateFailed {
		t.Fatalf("expected failed, got %v", p)
	}
	if !errors.Is(p.Err, network.ErrUnknown) || !errors.Is(p.Err, cause) {
		t.Errorf("expected unknown failure wrapping the cause, got %v", p.Err)
	}
}

func TestPerformWithoutURL(t *testing.T) {
	ws, fg, _ := newStation(t)

	var obs observer
	ws.Perform(Short(network.Request{}), uuid.New(), false, obs.leech)

	p := obs.last()
	if p.State != network.StateFailed || !errors.Is(p.Err, network.ErrURL) {
		t.Fatalf("expected synchronous failed(url), got %v", p)
	}
	ws.Flush()
	if len(fg.Tasks()) != 0 || len(ws.Workers()) != 0 {
		t.Error("work without a url must not create a worker or task")
	}
}

func TestDeduplication(t *testing.T) {
	ws, fg, _ := newStation(t)
	req := mustRequest(t, "https://api.example.com/v2/info?id=1")

	const n = 5
	observers := make([]*observer, n)
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := range n {
		observers[i] = &observer{}
		ids[i] = uuid.New()
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws.Perform(Short(req), ids[i], false, observers[i].leech)
		}()
	}
	wg.Wait()
	ws.Flush()

	tasks := fg.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("expected one transport task, got %d", len(tasks))
	}
	for _, id := range ids {
		if w := ws.Worker(id); w == nil || w.Task() != tasks[0] {
			t.Errorf("worker %s should ride the shared task", id)
		}
	}

	tasks[0].Receive([]byte("shared"))
	tasks[0].Complete(nil)

	for i, obs := range observers {
		p := obs.last()
		if p.State != network.StateFinished || string(p.Result.Data) != "shared" {
			t.Errorf("observer %d: expected finished(shared), got %v", i, p)
		}
	}
}

func TestEnqueueScenario(t *testing.T) {
	ws, fg, _ := newStation(t)
	req := mustRequest(t, "https://api.example.com/v2/info?id=1")

	var o1, o2 observer
	u1, u2 := uuid.New(), uuid.New()
	ws.Perform(Short(req), u1, false, o1.leech)
	ws.Perform(Short(req), u2, true, o2.leech)
	ws.Flush()

	if got := o2.states(); !equalStates(got, network.StateQueued) {
		t.Fatalf("second worker should be queued, got %v", got)
	}
	if q := ws.Queue(); len(q) != 1 || q[0].ID() != u2 {
		t.Fatalf("expected u2 in the queue, got %v", q)
	}
	if ws.Worker(u2).Task() != nil {
		t.Error("queued worker must not ride a task")
	}

	first := fg.Last()
	first.Receive([]byte("one"))
	first.Complete(nil)
	ws.Flush()

	tasks := fg.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("promoted worker should start its own task, got %d tasks", len(tasks))
	}
	if len(ws.Queue()) != 0 {
		t.Error("queue should be empty after promotion")
	}

	tasks[1].Receive([]byte("two"))
	tasks[1].Complete(nil)

	if got := o2.states(); !equalStates(got, network.StateQueued, network.StateLoading, network.StateFinished) {
		t.Errorf("unexpected states for promoted worker %v", got)
	}
	if got := string(o2.last().Result.Data); got != "two" {
		t.Errorf("promoted worker got data %q, want its own response", got)
	}
	if got := string(o1.last().Result.Data); got != "one" {
		t.Errorf("first worker got data %q", got)
	}
}

func TestQueueFIFO(t *testing.T) {
	ws, fg, _ := newStation(t)
	req := mustRequest(t, "https://api.example.com/items")

	var a, b1, b2 observer
	idB1, idB2 := uuid.New(), uuid.New()
	ws.Perform(Short(req), uuid.New(), false, a.leech)
	ws.Perform(Short(req), idB1, true, b1.leech)
	ws.Perform(Short(req), idB2, true, b2.leech)
	ws.Flush()

	fg.Last().Complete(nil)
	ws.Flush()

	if b1.last().State != network.StateLoading {
		t.Fatalf("b1 should be promoted first, got %v", b1.last())
	}
	if b2.last().State != network.StateQueued {
		t.Fatalf("b2 should stay queued until b1 terminates, got %v", b2.last())
	}
	if q := ws.Queue(); len(q) != 1 || q[0].ID() != idB2 {
		t.Fatalf("expected b2 alone in the queue, got %d", len(q))
	}

	fg.Last().Complete(nil)
	ws.Flush()

	if b1.last().State != network.StateFinished {
		t.Errorf("b1 should be finished, got %v", b1.last())
	}
	if b2.last().State != network.StateLoading {
		t.Errorf("b2 should be promoted after b1, got %v", b2.last())
	}
	if len(fg.Tasks()) != 3 {
		t.Errorf("expected 3 tasks, got %d", len(fg.Tasks()))
	}
}

func TestEnqueueWithoutRunningRequestStarts(t *testing.T) {
	ws, fg, _ := newStation(t)
	req := mustRequest(t, "https://api.example.com/items")

	var obs observer
	ws.Perform(Short(req), uuid.New(), true, obs.leech)
	ws.Flush()

	if got := obs.states(); !equalStates(got, network.StateLoading) {
		t.Errorf("enqueued work with a free slot should start, got %v", got)
	}
	if len(fg.Tasks()) != 1 {
		t.Errorf("expected one task, got %d", len(fg.Tasks()))
	}
}

func TestTerminalOnce(t *testing.T) {
	ws, fg, _ := newStation(t)
	req := mustRequest(t, "https://files.example.com/a.bin")

	var obs observer
	id := uuid.New()
	ws.Perform(Download(req, Foreground), id, false, obs.leech)
	ws.Flush()
	worker := ws.Worker(id)

	task := fg.Last()
	task.Write(10, 100)
	task.Store("downloads/a.bin")
	n := obs.count()

	task.Write(20, 100)
	task.Complete(nil)
	task.Complete(errors.New("late"))
	ws.Cancel(worker)
	ws.Toggle(worker)

	if obs.count() != n {
		t.Errorf("terminal worker received %d more outputs", obs.count()-n)
	}
	if p := obs.last(); p.State != network.StateFinished || p.Result.Location != "downloads/a.bin" {
		t.Errorf("expected finished(file), got %v", p)
	}
}

func TestCancelReleasesSlot(t *testing.T) {
	ws, fg, _ := newStation(t)
	req := mustRequest(t, "https://api.example.com/items")

	var a, b observer
	idA := uuid.New()
	ws.Perform(Short(req), idA, false, a.leech)
	ws.Perform(Short(req), uuid.New(), true, b.leech)
	ws.Flush()

	first := fg.Last()
	ws.Cancel(ws.Worker(idA))
	ws.Flush()

	if !first.Cancelled() {
		t.Error("cancelling the only rider should cancel the task")
	}
	p := a.last()
	if p.State != network.StateFailed || !errors.Is(p.Err, network.ErrCancelled) {
		t.Errorf("expected failed(cancelled), got %v", p)
	}
	if b.last().State != network.StateLoading {
		t.Fatalf("queued successor should be promoted, got %v", b.last())
	}

	second := fg.Last()
	if second == first {
		t.Fatal("successor should start a new task")
	}

	// Events of the cancelled task must not reach the successor.
	first.Receive([]byte("stale"))
	first.Complete(errors.New("cancelled"))
	if b.last().State != network.StateLoading {
		t.Fatalf("stale completion leaked into successor: %v", b.last())
	}

	second.Receive([]byte("fresh"))
	second.Complete(nil)
	if got := string(b.last().Result.Data); got != "fresh" {
		t.Errorf("successor data %q, want fresh", got)
	}
}

func TestCancelSharedWorker(t *testing.T) {
	ws, fg, _ := newStation(t)
	req := mustRequest(t, "https://api.example.com/items")

	var o1, o2 observer
	u1, u2 := uuid.New(), uuid.New()
	ws.Perform(Short(req), u1, false, o1.leech)
	ws.Perform(Short(req), u2, false, o2.leech)
	ws.Flush()

	task := fg.Last()
	ws.Cancel(ws.Worker(u1))

	if task.Cancelled() {
		t.Error("task still ridden by another worker must keep running")
	}
	if !errors.Is(o1.last().Err, network.ErrCancelled) {
		t.Errorf("cancelled worker should fail with cancelled, got %v", o1.last())
	}
	if o2.last().State != network.StateLoading {
		t.Errorf("other rider should be untouched, got %v", o2.last())
	}

	task.Receive([]byte("ok"))
	task.Complete(nil)
	if p := o2.last(); p.State != network.StateFinished || string(p.Result.Data) != "ok" {
		t.Errorf("other rider should finish, got %v", p)
	}
	if o1.count() != 1 {
		t.Errorf("cancelled worker received %d outputs, want 1", o1.count())
	}
}

func TestCancelAll(t *testing.T) {
	ws, fg, _ := newStation(t)
	req := mustRequest(t, "https://api.example.com/items")

	var o1, o2, o3 observer
	ws.Perform(Short(req), uuid.New(), false, o1.leech)
	ws.Perform(Short(req), uuid.New(), false, o2.leech)
	ws.Perform(Short(req), uuid.New(), true, o3.leech)
	ws.Flush()

	ws.CancelAll(req)
	ws.Flush()

	if !fg.Last().Cancelled() {
		t.Error("shared task should be cancelled")
	}
	for i, obs := range []*observer{&o1, &o2, &o3} {
		if p := obs.last(); p.State != network.StateFailed || !errors.Is(p.Err, network.ErrCancelled) {
			t.Errorf("worker %d: expected failed(cancelled), got %v", i, p)
		}
	}
	if len(ws.Workers()) != 0 || len(ws.Queue()) != 0 {
		t.Error("registry and queue should be empty")
	}
	if len(fg.Tasks()) != 1 {
		t.Errorf("no worker should be promoted, got %d tasks", len(fg.Tasks()))
	}
}

func TestCancelQueuedWorker(t *testing.T) {
	ws, fg, _ := newStation(t)
	req := mustRequest(t, "https://api.example.com/items")

	var a, b observer
	idB := uuid.New()
	ws.Perform(Short(req), uuid.New(), false, a.leech)
	ws.Perform(Short(req), idB, true, b.leech)
	ws.Flush()

	ws.Cancel(ws.Worker(idB))
	ws.Flush()

	if len(ws.Queue()) != 0 {
		t.Error("cancelled worker should leave the queue")
	}
	if fg.Last().Cancelled() {
		t.Error("cancelling a queued worker must not touch the running task")
	}
	fg.Last().Complete(nil)
	ws.Flush()
	if len(fg.Tasks()) != 1 {
		t.Errorf("cancelled worker must not be promoted, got %d tasks", len(fg.Tasks()))
	}
}

func TestToggle(t *testing.T) {
	ws, fg, _ := newStation(t)
	req := mustRequest(t, "https://files.example.com/big.bin")

	var obs observer
	id := uuid.New()
	ws.Perform(Download(req, Foreground), id, false, obs.leech)
	ws.Flush()
	worker := ws.Worker(id)
	task := fg.Last()

	if p := ws.Toggle(worker); p.State != network.StateLoading {
		t.Errorf("toggling a loading worker should be a no-op, got %v", p)
	}

	task.Write(50, 100)
	if p := ws.Toggle(worker); p.State != network.StatePaused {
		t.Fatalf("expected paused, got %v", p)
	}
	if task.Suspends() != 1 {
		t.Errorf("expected one suspend, got %d", task.Suspends())
	}

	task.Write(60, 100)
	if worker.Progress().State != network.StatePaused {
		t.Errorf("ticks must not unpause a worker, got %v", worker.Progress())
	}

	p := ws.Toggle(worker)
	if p.State != network.StateDownloading || p.Fraction != 0.6 {
		t.Fatalf("expected downloading(0.6), got %v", p)
	}
	if task.Resumes() != 2 {
		t.Errorf("expected start plus one resume, got %d", task.Resumes())
	}

	want := []network.State{network.StateLoading, network.StateDownloading, network.StatePaused, network.StateDownloading}
	if got := obs.states(); !equalStates(got, want...) {
		t.Errorf("unexpected states %v", got)
	}
}

func TestToggleWithoutTask(t *testing.T) {
	ws, _, _ := newStation(t)
	req := mustRequest(t, "https://files.example.com/big.bin")

	idB := uuid.New()
	ws.Perform(Download(req, Foreground), uuid.New(), false, nil)
	ws.Perform(Download(req, Foreground), idB, true, nil)
	ws.Flush()

	queued := ws.Worker(idB)
	for range 2 {
		if p := ws.Toggle(queued); p.State != network.StateQueued {
			t.Errorf("worker without a task should report its progress unchanged, got %v", p)
		}
	}
}

func TestDownloadNoSpace(t *testing.T) {
	ws, _, bg := newStation(t)
	req := mustRequest(t, "https://files.example.com/huge.bin")

	var o1, o2 observer
	ws.Perform(Download(req, Background), uuid.New(), false, o1.leech)
	ws.Perform(Download(req, Background), uuid.New(), false, o2.leech)
	ws.Flush()

	task := bg.Last()
	if task == nil || task.Kind != "download" {
		t.Fatalf("expected a download task on the background session, got %+v", task)
	}
	task.Write(10, 100)
	task.Complete(fmt.Errorf("write staging file: %w", syscall.ENOSPC))

	for i, obs := range []*observer{&o1, &o2} {
		p := obs.last()
		if p.State != network.StateFailed || !errors.Is(p.Err, network.ErrSpace) {
			t.Errorf("worker %d: expected failed(space), got %v", i, p)
		}
	}
}

func TestDownloadCompletedWithoutFile(t *testing.T) {
	ws, fg, _ := newStation(t)
	req := mustRequest(t, "https://files.example.com/a.bin")

	var obs observer
	ws.Perform(Download(req, Foreground), uuid.New(), false, obs.leech)
	ws.Flush()
	fg.Last().Complete(nil)

	if p := obs.last(); p.State != network.StateFailed || !errors.Is(p.Err, network.ErrData) {
		t.Errorf("expected failed(data), got %v", p)
	}
}

func TestUpload(t *testing.T) {
	ws, fg, bg := newStation(t)
	req := mustRequest(t, "https://api.example.com/upload")

	var obs observer
	ws.Perform(Upload([]byte("0123456789"), req, Background), uuid.New(), false, obs.leech)
	ws.Flush()

	if len(fg.Tasks()) != 0 {
		t.Fatal("background upload must not use the foreground session")
	}
	task := bg.Last()
	if task.Kind != "upload" || string(task.Body) != "0123456789" {
		t.Fatalf("unexpected task %s with body %q", task.Kind, task.Body)
	}

	task.Send(5, 10)
	if p := obs.last(); p.State != network.StateUploading || p.Fraction != 0.5 {
		t.Errorf("expected uploading(0.5), got %v", p)
	}
	task.Receive([]byte("stored"))
	task.Complete(nil)

	if p := obs.last(); p.State != network.StateFinished || string(p.Result.Data) != "stored" {
		t.Errorf("expected finished(stored), got %v", p)
	}
}

func TestSubscribe(t *testing.T) {
	ws, fg, _ := newStation(t)
	req := mustRequest(t, "https://api.example.com/items")

	var owner, extra observer
	id, sub := uuid.New(), uuid.New()
	ws.Perform(Short(req), id, false, owner.leech)
	ws.Flush()

	if ws.Subscribe(uuid.New(), sub, extra.leech) {
		t.Error("subscribing to an unknown worker should fail")
	}
	if !ws.Subscribe(id, sub, extra.leech) {
		t.Fatal("subscribe should find the worker")
	}
	worker := ws.Worker(id)
	ws.Unsubscribe(id, id)
	if worker.Leeches() != 2 {
		t.Fatalf("the submitter cannot be unsubscribed, got %d leeches", worker.Leeches())
	}

	fg.Last().Complete(nil)
	if extra.last().State != network.StateFinished || owner.last().State != network.StateFinished {
		t.Error("every leech should receive the terminal state")
	}

	worker.Unsubscribe(sub)
	if worker.Leeches() != 1 {
		t.Errorf("expected one leech after unsubscribe, got %d", worker.Leeches())
	}
}

func TestBackgroundCompletion(t *testing.T) {
	ws, _, bg := newStation(t)

	calls := 0
	ws.SetBackgroundCompletion(func() { calls++ })
	bg.Drain()
	bg.Drain()

	if calls != 1 {
		t.Errorf("completion should run once, ran %d times", calls)
	}
}

func TestKeepAlive(t *testing.T) {
	guard := lifecycle.NewGuard()
	ws, fg, _ := newStation(t, WithKeepAlive(guard))
	req := mustRequest(t, "https://files.example.com/a.bin")

	ws.Perform(Download(req, Foreground), uuid.New(), false, nil)
	ws.Flush()
	if guard.Held() != 1 {
		t.Fatalf("loading worker should hold a token, got %d", guard.Held())
	}

	guard.Expire()
	task := fg.Last()
	if !task.Cancelled() {
		t.Error("expiring the guard should cancel the transport")
	}

	task.Complete(errors.New("cancelled"))
	if guard.Held() != 0 {
		t.Errorf("terminal worker should release its token, got %d", guard.Held())
	}
}

type listener struct {
	mu      sync.Mutex
	workers int
	queue   int
	updates int
}

func (l *listener) Updated(workers []*Worker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workers = len(workers)
	l.updates++
}

func (l *listener) Queued(queue []*Worker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = len(queue)
}

func TestListener(t *testing.T) {
	var l listener
	ws, fg, _ := newStation(t, WithListener(&l))
	req := mustRequest(t, "https://api.example.com/items")

	ws.Perform(Short(req), uuid.New(), false, nil)
	ws.Perform(Short(req), uuid.New(), true, nil)
	ws.Flush()

	l.mu.Lock()
	if l.workers != 1 || l.queue != 1 {
		t.Errorf("expected 1 worker and 1 queued, got %d and %d", l.workers, l.queue)
	}
	l.mu.Unlock()

	fg.Last().Complete(nil)
	ws.Flush()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workers != 1 || l.queue != 0 {
		t.Errorf("after promotion expected 1 worker and empty queue, got %d and %d", l.workers, l.queue)
	}
}

func TestClose(t *testing.T) {
	fg, bg := testutils.NewTransport(), testutils.NewTransport()
	ws := New(WithSessions(fg, bg))
	fg.Delegate, bg.Delegate = ws, ws

	ws.Close()
	if !fg.Invalidated() || !bg.Invalidated() {
		t.Error("Close should invalidate both sessions")
	}

	var obs observer
	ws.Perform(Short(mustRequest(t, "https://api.example.com/items")), uuid.New(), false, obs.leech)
	ws.Flush()
	if len(fg.Tasks()) != 0 {
		t.Error("closed workstation should not start tasks")
	}
}

func TestResubmitSameID(t *testing.T) {
	guard := lifecycle.NewGuard()
	ws, fg, _ := newStation(t, WithKeepAlive(guard))
	req := mustRequest(t, "https://api.example.com/items")

	var o1, o2 observer
	id := uuid.New()
	ws.Perform(Short(req), id, false, o1.leech)
	ws.Perform(Short(req), id, false, o2.leech)
	ws.Flush()

	if len(fg.Tasks()) != 1 {
		t.Fatalf("resubmitting a live id must not start another task, got %d", len(fg.Tasks()))
	}
	if len(ws.Workers()) != 1 {
		t.Errorf("expected one registered worker, got %d", len(ws.Workers()))
	}
	if guard.Held() != 1 {
		t.Errorf("expected one keep-alive token, got %d", guard.Held())
	}

	task := fg.Last()
	task.Receive([]byte("ok"))
	task.Complete(nil)

	for i, obs := range []*observer{&o1, &o2} {
		if got := obs.states(); !equalStates(got, network.StateLoading, network.StateFinished) {
			t.Errorf("leech %d: unexpected states %v", i, got)
		}
		if got := string(obs.last().Result.Data); got != "ok" {
			t.Errorf("leech %d: unexpected data %q", i, got)
		}
	}
	if guard.Held() != 0 {
		t.Errorf("finished worker should release its token, got %d", guard.Held())
	}
}

func TestResubmitSameIDOtherRequest(t *testing.T) {
	ws, fg, _ := newStation(t)
	reqA := mustRequest(t, "https://api.example.com/a")
	reqB := mustRequest(t, "https://api.example.com/b")

	var o1, o2 observer
	id := uuid.New()
	ws.Perform(Short(reqA), id, false, o1.leech)
	ws.Perform(Short(reqB), id, false, o2.leech)
	ws.Flush()

	p := o2.last()
	if p.State != network.StateFailed || !errors.Is(p.Err, ErrWorkerExists) {
		t.Errorf("expected failed(worker exists), got %v", p)
	}
	if o1.last().State != network.StateLoading {
		t.Errorf("live worker should be untouched, got %v", o1.last())
	}
	if len(fg.Tasks()) != 1 {
		t.Errorf("rejected work must not start a task, got %d", len(fg.Tasks()))
	}
	if w := ws.Worker(id); w == nil || w.Request().Key() != reqA.Key() {
		t.Error("live worker should keep its place")
	}
}

func TestContextAddKeepsLiveWorker(t *testing.T) {
	ctx := NewContext(nil)
	req := mustRequest(t, "https://api.example.com/items")
	work := Short(req)
	id := uuid.New()

	first := newWorker(id, work, work.URL(), nil, noKeepAlive{})
	second := newWorker(id, work, work.URL(), nil, noKeepAlive{})

	if !ctx.Add(first, false) {
		t.Fatal("first worker should start a task")
	}
	if ctx.Add(second, false) {
		t.Error("a registered id must not start a task")
	}
	if ctx.Add(second, true) {
		t.Error("a registered id must not be queued")
	}
	if ctx.Worker(id) != first {
		t.Error("registered worker was replaced")
	}
	if len(ctx.Snapshot()) != 1 || len(ctx.Queue()) != 0 {
		t.Errorf("expected one registered and none queued, got %d and %d", len(ctx.Snapshot()), len(ctx.Queue()))
	}
}

// cancelOnAcquire cancels its worker the moment the worker starts loading.
type cancelOnAcquire struct {
	ws *Workstation
	id uuid.UUID

	mu       sync.Mutex
	released int
}

func (k *cancelOnAcquire) Acquire(func()) func() {
	if w := k.ws.Worker(k.id); w != nil {
		k.ws.Cancel(w)
	}
	return func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		k.released++
	}
}

func TestCancelBeforeTaskStarts(t *testing.T) {
	keepAlive := &cancelOnAcquire{id: uuid.New()}
	ws, fg, _ := newStation(t, WithKeepAlive(keepAlive))
	keepAlive.ws = ws
	req := mustRequest(t, "https://files.example.com/a.bin")

	var obs observer
	ws.Perform(Download(req, Foreground), keepAlive.id, false, obs.leech)
	ws.Flush()

	if got := obs.states(); !equalStates(got, network.StateLoading, network.StateFailed) {
		t.Fatalf("unexpected states %v", got)
	}
	if !errors.Is(obs.last().Err, network.ErrCancelled) {
		t.Errorf("expected failed(cancelled), got %v", obs.last())
	}

	task := fg.Last()
	if task == nil {
		t.Fatal("expected a task to be created")
	}
	if task.Resumes() != 0 {
		t.Errorf("task without riders must not run, resumed %d times", task.Resumes())
	}
	if !task.Cancelled() {
		t.Error("task without riders should be cancelled")
	}
	if len(ws.Workers()) != 0 {
		t.Errorf("cancelled worker should leave the registry, got %d", len(ws.Workers()))
	}
	keepAlive.mu.Lock()
	defer keepAlive.mu.Unlock()
	if keepAlive.released != 1 {
		t.Errorf("keep-alive should be released once, got %d", keepAlive.released)
	}
}

func TestLeechTransitionsInOrder(t *testing.T) {
	ws, fg, _ := newStation(t)
	req := mustRequest(t, "https://api.example.com/items")

	var obs observer
	leech := func(out network.Output) {
		obs.leech(out)
		if out.Progress.State == network.StateLoading {
			if w := ws.Worker(out.ID); w != nil {
				ws.Cancel(w)
			}
		}
	}
	ws.Perform(Short(req), uuid.New(), false, leech)
	ws.Flush()

	if got := obs.states(); !equalStates(got, network.StateLoading, network.StateFailed) {
		t.Fatalf("unexpected states %v", got)
	}
	if task := fg.Last(); task.Resumes() != 0 || !task.Cancelled() {
		t.Errorf("task of a cancelled worker should not run, resumes=%d cancelled=%v", task.Resumes(), task.Cancelled())
	}
}
