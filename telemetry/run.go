package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/animus/plateocr/api"
)

// Poster delivers run records to the run-tracking service. *api.Client
// implements it.
type Poster interface {
	PostRunEvent(ctx context.Context, runID string, event api.RunEvent) error
	PostRunMetrics(ctx context.Context, runID string, metrics api.RunMetrics) error
}

const (
	defaultQueueSize   = 256
	defaultPostTimeout = 2 * time.Second
)

type record struct {
	event   *api.RunEvent
	metrics *api.RunMetrics
}

// Run posts telemetry for a single run in the background. Records are
// queued and delivered in order by one goroutine. A full queue drops the
// record with a warning; a failed post is logged and skipped.
type Run struct {
	poster  Poster
	runID   string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	queue     chan record
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

// RunOption configures a Run.
type RunOption func(*Run)

// WithQueueSize sets the number of records buffered before dropping.
func WithQueueSize(n int) RunOption {
	return func(r *Run) {
		if n > 0 {
			r.queue = make(chan record, n)
		}
	}
}

// WithPostTimeout bounds each delivery attempt.
func WithPostTimeout(d time.Duration) RunOption {
	return func(r *Run) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(l *slog.Logger) RunOption {
	return func(r *Run) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) RunOption {
	return func(r *Run) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRun starts the delivery goroutine for runID.
func NewRun(poster Poster, runID string, opts ...RunOption) *Run {
	r := &Run{
		poster:  poster,
		runID:   runID,
		timeout: defaultPostTimeout,
		logger:  slog.Default(),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.queue == nil {
		r.queue = make(chan record, defaultQueueSize)
	}

	go r.loop()
	return r
}

func (r *Run) loop() {
	defer close(r.done)
	for rec := range r.queue {
		r.deliver(rec)
	}
}

func (r *Run) deliver(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var err error
	switch {
	case rec.event != nil:
		err = r.poster.PostRunEvent(ctx, r.runID, *rec.event)
	case rec.metrics != nil:
		err = r.poster.PostRunMetrics(ctx, r.runID, *rec.metrics)
	}
	if err != nil {
		r.logger.Warn("telemetry post failed", "run_id", r.runID, "error", err)
	}
}

func (r *Run) enqueue(rec record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- rec:
	default:
		r.logger.Warn("telemetry queue full, dropping record", "run_id", r.runID)
	}
}

func (r *Run) Event(level, message string, meta Fields) {
	at := r.now().UTC()
	r.enqueue(record{event: &api.RunEvent{
		OccurredAt: &at,
		Level:      level,
		Message:    message,
		Metadata:   orEmpty(meta),
	}})
}

// Status is sent as an info event carrying kind=status.
func (r *Run) Status(status, message string, meta Fields) {
	r.Event("info", message, Merge(F("kind", "status", "status", status), meta))
}

// Progress is sent as an info event carrying kind=progress.
func (r *Run) Progress(step, total int, percent float64, message string) {
	r.Event("info", message, F(
		"kind", "progress",
		"step", step,
		"total_steps", total,
		"percent", percent,
	))
}

func (r *Run) Metrics(step int64, metrics Metrics, meta Fields) {
	if metrics == nil {
		metrics = M()
	}
	r.enqueue(record{metrics: &api.RunMetrics{
		Step:     step,
		Metrics:  metrics,
		Metadata: orEmpty(meta),
	}})
}

func (r *Run) Metric(step int64, name string, value float64) {
	r.Metrics(step, M(name, value), nil)
}

// Close stops accepting records and waits until the queue is drained or ctx
// is done. Records still queued when ctx ends are abandoned.
func (r *Run) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func orEmpty(meta Fields) Fields {
	if meta == nil {
		return F()
	}
	return meta
}
