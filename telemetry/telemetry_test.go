package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus/plateocr/api"
)

func TestFieldsKeepOrder(t *testing.T) {
	f := F("zeta", 1, "alpha", "a", "mid", true)
	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":"a","mid":true}`, string(data))
}

func TestFieldsOddArgs(t *testing.T) {
	f := F("a", 1, "dangling")
	v, ok := f.Get("dangling")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestMerge(t *testing.T) {
	m := Merge(F("kind", "status", "status", "a"), F("status", "b", "extra", 2))
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"kind":"status","status":"b","extra":2}`, string(data))

	assert.Equal(t, 0, Merge(nil, nil).Len())
}

func TestMetricsSkipNonNumeric(t *testing.T) {
	m := M("loss", 0.5, "epoch", 3, "name", "x", "acc", float32(0.25))
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"loss":0.5,"epoch":3,"acc":0.25}`, string(data))
}

func TestFromMap(t *testing.T) {
	f := FromMap(map[string]any{"b": 2, "a": 1, "z": 26, "m": 13}, "z", "missing", "m")
	assert.Equal(t, `{"z":26,"m":13,"a":1,"b":2}`, encode(t, f))

	m := MetricsFromMap(map[string]float64{"val_loss": 2, "loss": 1, "mAP": 0.5}, "loss", "val_loss", "mAP")
	assert.Equal(t, `{"loss":1,"val_loss":2,"mAP":0.5}`, encode(t, m))
}

type recorder struct {
	statuses []string
	closed   int
	err      error
}

func (r *recorder) Status(status, _ string, _ Fields) { r.statuses = append(r.statuses, status) }
func (r *recorder) Event(string, string, Fields) {}
func (r *recorder) Metrics(int64, Metrics, Fields) {}
func (r *recorder) Metric(int64, string, float64) {}
func (r *recorder) Progress(int, int, float64, string) {}
func (r *recorder) Close(context.Context) error { r.closed++; return r.err }

func TestMulti(t *testing.T) {
	a := &recorder{}
	b := &recorder{err: errors.New("boom")}
	s := Multi(a, b, Nop{})

	s.Status("starting", "", nil)
	s.Status("training", "", nil)
	err := s.Close(context.Background())

	assert.Equal(t, []string{"starting", "training"}, a.statuses)
	assert.Equal(t, []string{"starting", "training"}, b.statuses)
	assert.Equal(t, 1, a.closed)
	assert.ErrorContains(t, err, "boom")
}

type fakePoster struct {
	mu      sync.Mutex
	events  []api.RunEvent
	metrics []api.RunMetrics
	runIDs  []string

	started chan struct{}
	release chan struct{}
	err     error
}

func (p *fakePoster) wait() {
	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}
	if p.release != nil {
		<-p.release
	}
}

func (p *fakePoster) PostRunEvent(_ context.Context, runID string, event api.RunEvent) error {
	p.wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runIDs = append(p.runIDs, runID)
	p.events = append(p.events, event)
	return p.err
}

func (p *fakePoster) PostRunMetrics(_ context.Context, runID string, metrics api.RunMetrics) error {
	p.wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runIDs = append(p.runIDs, runID)
	p.metrics = append(p.metrics, metrics)
	return p.err
}

func encode(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestRunDelivers(t *testing.T) {
	poster := &fakePoster{}
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRun(poster, "run-1", WithClock(func() time.Time { return at }))

	r.Status("training", "training", F("job_kind", "train"))
	r.Progress(2, 4, 0.5, "epoch")
	r.Event("warn", "careful", nil)
	r.Metrics(3, M("loss", 1.5), F("epoch", 3))
	r.Metric(0, "eval_preview_samples", 4)
	require.NoError(t, r.Close(context.Background()))

	require.Len(t, poster.events, 3)
	assert.Equal(t, []string{"run-1", "run-1", "run-1", "run-1", "run-1"}, poster.runIDs)

	status := poster.events[0]
	assert.Equal(t, "info", status.Level)
	assert.Equal(t, "training", status.Message)
	assert.Equal(t, at, *status.OccurredAt)
	assert.Equal(t, `{"kind":"status","status":"training","job_kind":"train"}`, encode(t, status.Metadata))

	progress := poster.events[1]
	assert.Equal(t, `{"kind":"progress","step":2,"total_steps":4,"percent":0.5}`, encode(t, progress.Metadata))

	assert.Equal(t, "warn", poster.events[2].Level)
	assert.Equal(t, `{}`, encode(t, poster.events[2].Metadata))

	require.Len(t, poster.metrics, 2)
	assert.Equal(t, int64(3), poster.metrics[0].Step)
	assert.Equal(t, `{"loss":1.5}`, encode(t, poster.metrics[0].Metrics))
	assert.Equal(t, `{"epoch":3}`, encode(t, poster.metrics[0].Metadata))
	assert.Equal(t, `{"eval_preview_samples":4}`, encode(t, poster.metrics[1].Metrics))
}

func TestRunPostFailureContinues(t *testing.T) {
	poster := &fakePoster{err: errors.New("unavailable")}
	r := NewRun(poster, "run-1")

	r.Event("info", "a", nil)
	r.Event("info", "b", nil)
	require.NoError(t, r.Close(context.Background()))
	assert.Len(t, poster.events, 2)
}

func TestRunDropsWhenFull(t *testing.T) {
	poster := &fakePoster{started: make(chan struct{}, 1), release: make(chan struct{})}
	r := NewRun(poster, "run-1", WithQueueSize(1))

	r.Event("info", "first", nil)
	<-poster.started

	r.Event("info", "second", nil)
	r.Event("info", "dropped", nil)
	close(poster.release)
	require.NoError(t, r.Close(context.Background()))

	var messages []string
	for _, e := range poster.events {
		messages = append(messages, e.Message)
	}
	assert.Equal(t, []string{"first", "second"}, messages)
}

func TestRunCloseTimeout(t *testing.T) {
	poster := &fakePoster{started: make(chan struct{}, 1), release: make(chan struct{})}
	defer close(poster.release)
	r := NewRun(poster, "run-1")

	r.Event("info", "stuck", nil)
	<-poster.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)
}

func TestRunIgnoresAfterClose(t *testing.T) {
	poster := &fakePoster{}
	r := NewRun(poster, "run-1")
	require.NoError(t, r.Close(context.Background()))
	require.NoError(t, r.Close(context.Background()))

	r.Event("info", "late", nil)
	assert.Empty(t, poster.events)
}

func TestLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := OpenLedger(path)
	require.NoError(t, err)

	ctx := context.Background()
	s, err := l.Run(ctx, "local-1", "train")
	require.NoError(t, err)

	s.Status("starting", "starting", F("job_kind", "train"))
	s.Metrics(1, M("loss", 2.5, "val_loss", 2.75), nil)
	s.Metric(2, "loss", 1.25)
	s.Event("warn", "slow", F("seconds", 3))
	s.Status("finished", "done", nil)
	require.NoError(t, s.Close(ctx))

	// writes after Close are ignored
	s.Metric(3, "loss", 0)
	require.NoError(t, l.Close())

	l, err = OpenLedger(path)
	require.NoError(t, err)
	defer l.Close()

	runs, err := l.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "local-1", runs[0].RunID)
	assert.Equal(t, "train", runs[0].Kind)
	assert.Equal(t, "finished", runs[0].Status)

	metrics, err := l.Metrics(ctx, "local-1")
	require.NoError(t, err)
	want := []MetricRecord{
		{RunID: "local-1", Step: 1, Name: "loss", Value: 2.5},
		{RunID: "local-1", Step: 1, Name: "val_loss", Value: 2.75},
		{RunID: "local-1", Step: 2, Name: "loss", Value: 1.25},
	}
	if diff := cmp.Diff(want, metrics); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}

	events, err := l.Events(ctx, "local-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "starting", events[0].Message)
	assert.Equal(t, map[string]any{"kind": "status", "status": "starting", "job_kind": "train"}, events[0].Metadata)
	assert.Equal(t, "warn", events[1].Level)
	assert.Equal(t, map[string]any{"seconds": float64(3)}, events[1].Metadata)
	assert.Equal(t, "done", events[2].Message)
}
