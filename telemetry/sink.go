// Package telemetry reports run status, events, metrics and progress to the
// run-tracking service or a local ledger.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Fields is an insertion-ordered set of metadata. Entries keep their order
// when encoded as JSON.
type Fields = *orderedmap.OrderedMap[string, any]

// F builds Fields from alternating keys and values, like slog attributes.
// A trailing key without value is stored with a nil value.
func F(kv ...any) Fields {
	m := orderedmap.New[string, any](len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		var value any
		if i+1 < len(kv) {
			value = kv[i+1]
		}
		m.Set(key, value)
	}
	return m
}

// Merge returns a new Fields holding a followed by the entries of b.
// Keys present in both keep their position from a and the value from b.
func Merge(a, b Fields) Fields {
	out := orderedmap.New[string, any]()
	for _, src := range []Fields{a, b} {
		if src == nil {
			continue
		}
		for pair := src.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, pair.Value)
		}
	}
	return out
}

// FromMap copies m into Fields. Keys listed in order come first, the rest
// follow sorted.
func FromMap[V any](m map[string]V, order ...string) Fields {
	out := orderedmap.New[string, any](len(m))
	for _, k := range order {
		if v, ok := m[k]; ok {
			out.Set(k, v)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if _, ok := out.Get(k); !ok {
			out.Set(k, m[k])
		}
	}
	return out
}

// MetricsFromMap is FromMap for metric values.
func MetricsFromMap(m map[string]float64, order ...string) Metrics {
	out := orderedmap.New[string, float64](len(m))
	for pair := FromMap(m, order...).Oldest(); pair != nil; pair = pair.Next() {
		out.Set(pair.Key, pair.Value.(float64))
	}
	return out
}

// Metrics is an insertion-ordered set of named values.
type Metrics = *orderedmap.OrderedMap[string, float64]

// M builds Metrics from alternating names and values.
func M(kv ...any) Metrics {
	m := orderedmap.New[string, float64](len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		v, ok := toFloat(kv[i+1])
		if !ok {
			continue
		}
		m.Set(fmt.Sprint(kv[i]), v)
	}
	return m
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Sink receives run telemetry. Implementations never block the caller on
// network or disk failures; they log and continue.
type Sink interface {
	Status(status, message string, meta Fields)
	Event(level, message string, meta Fields)
	Metrics(step int64, metrics Metrics, meta Fields)
	Metric(step int64, name string, value float64)
	Progress(step, total int, percent float64, message string)

	// Close flushes pending records until ctx is done.
	Close(ctx context.Context) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Status(string, string, Fields)      {}
func (Nop) Event(string, string, Fields)       {}
func (Nop) Metrics(int64, Metrics, Fields)     {}
func (Nop) Metric(int64, string, float64)      {}
func (Nop) Progress(int, int, float64, string) {}
func (Nop) Close(context.Context) error        { return nil }

type multi []Sink

// Multi fans every record out to all sinks in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) Status(status, message string, meta Fields) {
	for _, s := range m {
		s.Status(status, message, meta)
	}
}

func (m multi) Event(level, message string, meta Fields) {
	for _, s := range m {
		s.Event(level, message, meta)
	}
}

func (m multi) Metrics(step int64, metrics Metrics, meta Fields) {
	for _, s := range m {
		s.Metrics(step, metrics, meta)
	}
}

func (m multi) Metric(step int64, name string, value float64) {
	for _, s := range m {
		s.Metric(step, name, value)
	}
}

func (m multi) Progress(step, total int, percent float64, message string) {
	for _, s := range m {
		s.Progress(step, total, percent, message)
	}
}

func (m multi) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes telemetry to a slog.Logger. It is used for local runs without a
// run-tracking service.
type Log struct {
	Logger *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l Log) Status(status, message string, meta Fields) {
	l.logger().Info(message, append([]any{"status", status}, attrs(meta)...)...)
}

func (l Log) Event(level, message string, meta Fields) {
	l.logger().Log(context.Background(), parseLevel(level), message, attrs(meta)...)
}

func (l Log) Metrics(step int64, metrics Metrics, meta Fields) {
	args := []any{"step", step}
	if metrics != nil {
		for pair := metrics.Oldest(); pair != nil; pair = pair.Next() {
			args = append(args, pair.Key, pair.Value)
		}
	}
	l.logger().Info("metrics", append(args, attrs(meta)...)...)
}

func (l Log) Metric(step int64, name string, value float64) {
	l.logger().Info("metric", "step", step, name, value)
}

func (l Log) Progress(step, total int, percent float64, message string) {
	l.logger().Debug("progress", "step", step, "total", total, "percent", percent, "message", message)
}

func (Log) Close(context.Context) error { return nil }

func attrs(meta Fields) []any {
	if meta == nil {
		return nil
	}
	args := make([]any, 0, 2*meta.Len())
	for pair := meta.Oldest(); pair != nil; pair = pair.Next() {
		args = append(args, pair.Key, pair.Value)
	}
	return args
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
