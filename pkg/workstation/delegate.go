package workstation

import (
	nkhttp "github.com/multibar/networkkit/internal/http"
	"github.com/multibar/networkkit/pkg/network"
)

var _ nkhttp.Delegate = (*Workstation)(nil)

// ReceivedData accumulates a response chunk for the workers riding task.
func (w *Workstation) ReceivedData(task nkhttp.Task, data []byte) {
	w.ctx.AddData(data, task.Request(), task)
}

// Completed moves every worker riding task to its terminal state and
// promotes the next queued worker of the request.
func (w *Workstation) Completed(task nkhttp.Task, err error) {
	workers, data := w.ctx.finish(task)
	if len(workers) == 0 {
		return
	}

	for _, worker := range workers {
		p := outcome(worker.work.Kind, data, err)
		if p.State == network.StateFailed {
			w.logger.Info("worker failed", "id", worker.id, "url", worker.source.String(), "error", p.Err)
		} else {
			w.logger.Debug("worker finished", "id", worker.id, "url", worker.source.String())
		}
		worker.update(p)
	}
	w.promote(task.Request())
}

// outcome is the terminal progress of a worker of kind whose task completed
// with err after delivering data.
func outcome(kind Kind, data []byte, err error) network.Progress {
	switch kind {
	case KindShort:
		if err != nil {
			return network.Failed(network.ErrUnknown, err)
		}
		return network.FinishedData(data)
	case KindUpload:
		if err != nil {
			return network.FailedWith(network.TransferFailure(err))
		}
		return network.FinishedData(data)
	default:
		if err != nil {
			return network.FailedWith(network.TransferFailure(err))
		}
		// Finished downloads leave the registry before completing.
		return network.Failed(network.ErrData, nil)
	}
}

// FinishedDownloading reports the stored file to every worker riding task.
func (w *Workstation) FinishedDownloading(task nkhttp.Task, location string) {
	workers := w.ctx.take(task.Request(), task)
	if len(workers) == 0 {
		return
	}
	for _, worker := range workers {
		w.logger.Debug("worker finished", "id", worker.id, "location", location)
		worker.update(network.FinishedFile(location))
	}
	w.promote(task.Request())
}

// ResumedDownload reports the resumed fraction of a download.
func (w *Workstation) ResumedDownload(task nkhttp.Task, offset, expected int64) {
	w.tick(task, network.Downloading(fraction(offset, expected)))
}

// WroteData reports download progress.
func (w *Workstation) WroteData(task nkhttp.Task, _, totalWritten, totalExpected int64) {
	w.tick(task, network.Downloading(fraction(totalWritten, totalExpected)))
}

// SentBodyData reports upload progress.
func (w *Workstation) SentBodyData(task nkhttp.Task, _, totalSent, totalExpected int64) {
	w.tick(task, network.Uploading(fraction(totalSent, totalExpected)))
}

// FinishedEvents runs the background completion once.
func (w *Workstation) FinishedEvents(*nkhttp.Session) {
	w.mu.Lock()
	fn := w.completion
	w.completion = nil
	w.mu.Unlock()

	w.logger.Debug("background session drained", "completion", fn != nil)
	if fn != nil {
		fn()
	}
}

// tick moves the workers riding task to p. Paused workers stay paused.
func (w *Workstation) tick(task nkhttp.Task, p network.Progress) {
	for _, worker := range w.ctx.riding(task) {
		worker.transition(func(cur network.Progress) (network.Progress, bool) {
			return p, cur.State != network.StatePaused
		})
	}
}

func fraction(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total)
}
