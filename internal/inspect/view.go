package inspect

import (
	"time"

	"github.com/google/uuid"

	"github.com/multibar/networkkit/pkg/network"
	"github.com/multibar/networkkit/pkg/workstation"
)

// WorkerView is the JSON form of a worker.
type WorkerView struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	Kind     string    `json:"kind"`
	Session  string    `json:"session"`
	State    string    `json:"state"`
	Fraction float64   `json:"fraction,omitempty"`
	Error    string    `json:"error,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Location string    `json:"location,omitempty"`
	Size     int       `json:"size,omitempty"`
	Created  time.Time `json:"created"`
}

func viewOf(w *workstation.Worker) WorkerView {
	return newView(w.ID(), w.Source().String(), w.Work(), w.Created(), w.Progress())
}

func views(workers []*workstation.Worker) []WorkerView {
	out := make([]WorkerView, 0, len(workers))
	for _, w := range workers {
		out = append(out, viewOf(w))
	}
	return out
}

func newView(id uuid.UUID, source string, work workstation.Work, created time.Time, p network.Progress) WorkerView {
	v := WorkerView{
		ID:       id.String(),
		URL:      source,
		Kind:     work.Kind.String(),
		Session:  work.Session.String(),
		State:    p.State.String(),
		Fraction: p.Fraction,
		Created:  created,
	}
	if p.Err != nil {
		v.Error = p.Err.Error()
		v.Reason = reason(network.Kind(p.Err))
	}
	if p.State == network.StateFinished {
		v.Location = p.Result.Location
		v.Size = len(p.Result.Data)
	}
	return v
}

func reason(kind error) string {
	switch kind {
	case network.ErrURL:
		return "url"
	case network.ErrData:
		return "data"
	case network.ErrSpace:
		return "space"
	case network.ErrDecode:
		return "decode"
	case network.ErrCancelled:
		return "cancelled"
	case network.ErrKey:
		return "key"
	default:
		return "unknown"
	}
}
