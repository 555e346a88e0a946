package http

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/multibar/networkkit/pkg/network"
)

type kind int

const (
	kindData kind = iota
	kindDownload
	kindUpload
)

type task struct {
	session *Session
	kind    kind
	request network.Request
	payload []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	started     bool
	gate        chan struct{} // non-nil while suspended
	interrupt   context.CancelFunc
	interrupted bool

	done     atomic.Int64
	expected atomic.Int64
}

func newTask(s *Session, k kind, req network.Request, payload []byte) *task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		session: s,
		kind:    k,
		request: req,
		payload: payload,
		ctx:     ctx,
		cancel:  cancel,
	}
	t.expected.Store(-1)
	return t
}

func (t *task) Request() network.Request { return t.request }

func (t *task) Resume() {
	t.mu.Lock()
	if !t.started {
		t.started = true
		t.mu.Unlock()
		t.session.start(t)
		return
	}
	if t.gate != nil {
		close(t.gate)
		t.gate = nil
	}
	t.mu.Unlock()
}

func (t *task) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.gate != nil {
		return
	}
	t.gate = make(chan struct{})
	if t.interrupt != nil {
		t.interrupted = true
		t.interrupt()
	}
}

func (t *task) Cancel() { t.cancel() }

func (t *task) Fraction() float64 {
	expected := t.expected.Load()
	if expected <= 0 {
		return 0
	}
	return float64(t.done.Load()) / float64(expected)
}

// wait blocks while the task is suspended.
func (t *task) wait() error {
	t.mu.Lock()
	gate := t.gate
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-t.ctx.Done():
		}
	}
	return t.ctx.Err()
}

func (t *task) run() {
	defer t.session.finish(t)
	defer t.cancel()

	var err error
	switch t.kind {
	case kindData:
		err = t.runData()
	case kindUpload:
		err = t.runUpload()
	case kindDownload:
		err = t.runDownload()
	}
	t.session.delegate.Completed(t, err)
}

func (t *task) runData() error {
	resp, err := t.session.client.do(t.ctx, func() (*http.Request, error) {
		return t.request.HTTP(t.ctx, nil)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	t.expected.Store(resp.ContentLength)
	return t.stream(resp, true)
}

func (t *task) runUpload() error {
	total := int64(len(t.payload))
	t.expected.Store(total)

	resp, err := t.session.client.do(t.ctx, func() (*http.Request, error) {
		req, err := t.request.HTTP(t.ctx, t.payload)
		if err != nil {
			return nil, err
		}
		if req.Method == http.MethodGet || req.Method == "" {
			req.Method = http.MethodPost
		}
		t.done.Store(0)
		req.Body = io.NopCloser(&uploadReader{task: t, r: bytes.NewReader(t.payload), total: total})
		req.GetBody = nil
		req.ContentLength = total
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return t.stream(resp, false)
}

// stream delivers the response body to the delegate. count tracks the body
// in the task's fraction.
func (t *task) stream(resp *http.Response, count bool) error {
	body, err := decode(resp)
	if err != nil {
		return err
	}

	buf := make([]byte, t.session.opts.BufferSize)
	for {
		if err := t.wait(); err != nil {
			return err
		}
		n, err := body.Read(buf)
		if n > 0 {
			if count {
				t.done.Add(int64(n))
			}
			t.session.delegate.ReceivedData(t, bytes.Clone(buf[:n]))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
	}
}

func (t *task) runDownload() error {
	if t.session.store == nil {
		return ErrNoStore
	}
	f, err := t.session.store.Stage()
	if err != nil {
		return err
	}
	defer func() {
		f.Close()
		os.Remove(f.Name())
	}()

	var (
		offset int64
		etag   string
	)
	for {
		attemptCtx, stop := context.WithCancel(t.ctx)
		t.mu.Lock()
		t.interrupt = stop
		t.mu.Unlock()

		err := t.attempt(attemptCtx, f, &offset, &etag)
		stop()
		if err == nil {
			break
		}
		if t.consumeInterrupt() {
			continue
		}
		return err
	}

	t.mu.Lock()
	t.interrupt = nil
	t.mu.Unlock()

	name := ""
	if u := t.request.URL(); u != nil {
		name = u.Path
	}
	location, err := t.session.store.Commit(t.ctx, f, name)
	if err != nil {
		return err
	}
	t.session.delegate.FinishedDownloading(t, location)
	return nil
}

// consumeInterrupt reports whether the last attempt was stopped by Suspend
// rather than by failure or cancellation.
func (t *task) consumeInterrupt() bool {
	t.mu.Lock()
	interrupted := t.interrupted
	t.interrupted = false
	t.mu.Unlock()
	return interrupted && t.ctx.Err() == nil
}

// attempt downloads from *offset to the end into f.
func (t *task) attempt(ctx context.Context, f *os.File, offset *int64, etag *string) error {
	if err := t.wait(); err != nil {
		return err
	}

	resuming := *offset > 0
	resp, err := t.session.client.do(ctx, func() (*http.Request, error) {
		req, err := t.request.HTTP(ctx, nil)
		if err != nil {
			return nil, err
		}
		// Ranges address the stored bytes, so ask for them unencoded.
		req.Header.Set("Accept-Encoding", "identity")
		if resuming {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", *offset))
			if *etag != "" {
				req.Header.Set("If-Range", *etag)
			}
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if *etag == "" {
		*etag = resp.Header.Get("ETag")
	}

	total := resp.ContentLength
	if resuming {
		if resp.StatusCode == http.StatusPartialContent {
			start, _, size, err := ParseContentRange(resp.Header.Get("Content-Range"))
			if err != nil {
				return err
			}
			if start != *offset {
				return fmt.Errorf("%w: resumed at byte %d, want %d", ErrRangeNotSupported, start, *offset)
			}
			total = size
			t.expected.Store(total)
			t.session.delegate.ResumedDownload(t, *offset, total)
		} else {
			// Full body: the server ignored the range or the source changed.
			if err := f.Truncate(0); err != nil {
				return fmt.Errorf("truncate staging file: %w", err)
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind staging file: %w", err)
			}
			*offset = 0
			t.done.Store(0)
		}
	}
	t.expected.Store(total)

	buf := make([]byte, t.session.opts.BufferSize)
	for {
		if err := t.wait(); err != nil {
			return err
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return fmt.Errorf("write staging file: %w", err)
			}
			*offset += int64(n)
			t.done.Store(*offset)
			t.session.delegate.WroteData(t, int64(n), *offset, total)
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read body: %w", rerr)
		}
	}
}

// decode undoes the Content-Encoding the session asked for.
func decode(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		return zr, nil
	default:
		return resp.Body, nil
	}
}

// uploadReader reports upload progress and honours Suspend.
type uploadReader struct {
	task  *task
	r     *bytes.Reader
	total int64
}

func (u *uploadReader) Read(p []byte) (int, error) {
	if err := u.task.wait(); err != nil {
		return 0, err
	}
	n, err := u.r.Read(p)
	if n > 0 {
		sent := u.task.done.Add(int64(n))
		u.task.session.delegate.SentBodyData(u.task, int64(n), sent, u.total)
	}
	return n, err
}
