package progress

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/multibar/networkkit/pkg/network"
)

// Options configures the progress reporter.
type Options struct {
	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// Action names what the tracked workers do (for display).
	// Default: "Fetching"
	Action string
}

type entry struct {
	source   string
	progress network.Progress
}

// Reporter outputs human-readable progress information for workers.
type Reporter struct {
	opts Options

	mu        sync.Mutex
	entries   map[uuid.UUID]*entry
	order     []uuid.UUID
	startTime time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	stopped   bool

	finished atomic.Int32
	failed   atomic.Int32
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	if opts.Action == "" {
		opts.Action = "Fetching"
	}

	return &Reporter{
		opts:    opts,
		entries: make(map[uuid.UUID]*entry),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Track registers a worker before it is submitted.
func (r *Reporter) Track(id uuid.UUID, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return
	}
	r.entries[id] = &entry{source: source, progress: network.Loading()}
	r.order = append(r.order, id)
	fmt.Fprintf(r.opts.Output, "[networkkit] %s: %s\n", r.opts.Action, source)
}

// Observe records a worker output. Its signature matches a workstation
// leech so it can be subscribed directly.
func (r *Reporter) Observe(out network.Output) {
	r.mu.Lock()
	e, ok := r.entries[out.ID]
	if !ok {
		e = &entry{source: out.ID.String()}
		r.entries[out.ID] = e
		r.order = append(r.order, out.ID)
	}
	if e.progress.Terminal() {
		r.mu.Unlock()
		return
	}
	e.progress = out.Progress
	source := e.source
	r.mu.Unlock()

	p := out.Progress
	switch p.State {
	case network.StateFinished:
		r.finished.Add(1)
		if p.Result.Location != "" {
			fmt.Fprintf(r.opts.Output, "[networkkit] Finished: %s -> %s\n", source, p.Result.Location)
		} else {
			fmt.Fprintf(r.opts.Output, "[networkkit] Finished: %s (%s)\n", source, formatBytes(int64(len(p.Result.Data))))
		}
	case network.StateFailed:
		r.failed.Add(1)
		fmt.Fprintf(r.opts.Output, "[networkkit] Failed: %s: %v\n", source, p.Err)
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.mu.Unlock()

	go r.updateLoop()
}

// Stop stops the progress reporter and prints the summary.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	} else {
		r.printFinalStatus()
	}
}

// Summary returns how many tracked workers finished and failed.
func (r *Reporter) Summary() (finished, failed int) {
	return int(r.finished.Load()), int(r.failed.Load())
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// counts tallies the tracked workers by state and averages their fraction.
func (r *Reporter) counts() (states map[network.State]int, percent float64, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	states = make(map[network.State]int)
	var sum float64
	for _, id := range r.order {
		p := r.entries[id].progress
		states[p.State]++
		switch p.State {
		case network.StateFinished:
			sum++
		case network.StateDownloading, network.StateUploading:
			sum += p.Fraction
		}
	}
	total = len(r.order)
	if total > 0 {
		percent = sum / float64(total) * 100
	}
	return states, percent, total
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	states, percent, _ := r.counts()
	active := states[network.StateLoading] + states[network.StateDownloading] + states[network.StateUploading]

	fmt.Fprintf(r.opts.Output, "\r[networkkit] Progress: %.1f%% | %d active | %d queued | %d paused | %d finished | %d failed    ",
		percent,
		active,
		states[network.StateQueued],
		states[network.StatePaused],
		states[network.StateFinished],
		states[network.StateFailed],
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	states, _, total := r.counts()
	var duration time.Duration
	if !r.startTime.IsZero() {
		duration = time.Since(r.startTime)
	}

	fmt.Fprintf(r.opts.Output, "\r[networkkit] Done: %d/%d finished | %d failed | Total time: %s    \n",
		states[network.StateFinished],
		total,
		states[network.StateFailed],
		formatDuration(duration),
	)
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// ParseBytes parses a human-readable byte string (e.g., "256MB"). KB and
// KiB both mean 1024 bytes.
func ParseBytes(s string) (int64, error) {
	var multiplier int64 = 1
	s = strings.TrimSpace(s)

	units := []struct {
		suffix string
		size   int64
	}{
		{"TiB", 1 << 40}, {"GiB", 1 << 30}, {"MiB", 1 << 20}, {"KiB", 1 << 10},
		{"TB", 1 << 40}, {"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.size
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}

	return int64(value * float64(multiplier)), nil
}
