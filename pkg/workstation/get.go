package workstation

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/multibar/networkkit/pkg/network"
)

// Get fetches cfg as short work and decodes the JSON response into T.
//
// onProgress receives 0 while loading or queued and the transfer fraction
// afterwards; it may be nil. onCompletion is called exactly once, with the
// decoded value or with the failure. Decode errors carry ErrDecode.
func Get[T any](ws *Workstation, cfg network.Configuration, id uuid.UUID, enqueue bool, onProgress func(float64), onCompletion func(T, error)) {
	var zero T
	req, err := network.NewRequest(cfg, ws.client)
	if err != nil {
		ws.logger.Warn("get failed", "id", id, "error", err)
		onCompletion(zero, network.AsFailure(err, network.ErrURL))
		return
	}

	log := ws.logger.With("id", id, "url", req.String())
	log.Debug("get started")

	progress := func(f float64) {
		if onProgress != nil {
			onProgress(f)
		}
	}
	ws.Perform(Short(req), id, enqueue, func(out network.Output) {
		p := out.Progress
		switch p.State {
		case network.StateLoading, network.StateQueued:
			progress(0)
		case network.StateDownloading, network.StateUploading:
			progress(p.Fraction)
		case network.StateFinished:
			var v T
			if err := json.Unmarshal(p.Result.Data, &v); err != nil {
				log.Info("get failed", "error", err)
				onCompletion(zero, network.Fail(network.ErrDecode, err))
				return
			}
			log.Debug("get finished")
			onCompletion(v, nil)
		case network.StateFailed:
			if errors.Is(p.Err, network.ErrCancelled) {
				log.Debug("get cancelled")
			} else {
				log.Info("get failed", "error", p.Err)
			}
			onCompletion(zero, p.Err)
		}
	})
}

// Fetch is the blocking form of Get. When ctx ends first the worker is
// cancelled and ctx.Err is returned.
func Fetch[T any](ctx context.Context, ws *Workstation, cfg network.Configuration) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	id := uuid.New()
	Get(ws, cfg, id, false, nil, func(v T, err error) {
		done <- result{v, err}
	})

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		// Runs after the submission of id on the serial queue.
		ws.schedule(func() {
			if worker := ws.Worker(id); worker != nil {
				ws.Cancel(worker)
			}
		})
		var zero T
		return zero, ctx.Err()
	}
}
