// Package train runs minibatch training of the sequence model and keeps the
// snapshot with the best validation loss.
package train

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Config holds the hyperparameters of one run. It is not modified after
// ParseConfig returns.
type Config struct {
	Epochs               int
	BatchSize            int
	LearningRate         float64
	HiddenSize           int
	MinEpochSeconds      float64
	ImageWidth           int
	ImageHeight          int
	MaxTrainSamples      int
	MaxValidationSamples int
	Seed                 int64
}

// DefaultConfig is the configuration produced by an empty params map.
func DefaultConfig() Config {
	return ParseConfig(nil)
}

// ParseConfig reads run parameters. Unknown or malformed values fall back to
// defaults and every field is clamped into its allowed range.
func ParseConfig(params map[string]any) Config {
	epochs := first(params, epochsCandidates, 40)
	minEpochSeconds := first(params, minEpochSecondsCandidates, 0.5)

	return Config{
		Epochs:               clamp(epochs, 1, 5000),
		BatchSize:            clamp(asInt(params["train_batch_size"], 32), 4, 512),
		LearningRate:         clamp(asFloat(params["train_lr"], 0.2), 0.0001, 5.0),
		HiddenSize:           clamp(asInt(params["train_hidden_size"], 128), 16, 2048),
		MinEpochSeconds:      clamp(minEpochSeconds, 0, 60),
		ImageWidth:           clamp(asInt(params["image_width"], 96), 16, 512),
		ImageHeight:          clamp(asInt(params["image_height"], 24), 8, 256),
		MaxTrainSamples:      clamp(asInt(params["max_train_samples"], 200), 10, 50000),
		MaxValidationSamples: clamp(asInt(params["max_validation_samples"], 64), 10, 50000),
		Seed:                 int64(clamp(asInt(params["seed"], 17), 0, math.MaxInt32)),
	}
}

// candidate is one parameter key for a field. parse reports false when the
// value is missing, malformed or outside the range the key accepts.
type candidate[T any] struct {
	key   string
	parse func(any) (T, bool)
}

// Legacy keys follow the current ones and take any parseable value; the
// result is clamped afterwards.
var (
	epochsCandidates = []candidate[int]{
		{"train_epochs", positiveInt},
		{"train_steps", parseInt},
	}
	minEpochSecondsCandidates = []candidate[float64]{
		{"train_min_epoch_seconds", nonNegativeFloat},
		{"min_epoch_seconds", parseFloat},
	}
)

// first returns the value of the first candidate that parses, or def.
func first[T any](params map[string]any, candidates []candidate[T], def T) T {
	for _, c := range candidates {
		if v, ok := c.parse(params[c.key]); ok {
			return v
		}
	}
	return def
}

func positiveInt(v any) (int, bool) {
	n, ok := parseInt(v)
	return n, ok && n > 0
}

func nonNegativeFloat(v any) (float64, bool) {
	f, ok := parseFloat(v)
	return f, ok && f >= 0
}

// AsMap returns the configuration using the run parameter keys.
func (c Config) AsMap() map[string]any {
	return map[string]any{
		"train_epochs":            c.Epochs,
		"train_batch_size":        c.BatchSize,
		"train_lr":                c.LearningRate,
		"train_hidden_size":       c.HiddenSize,
		"train_min_epoch_seconds": c.MinEpochSeconds,
		"image_width":             c.ImageWidth,
		"image_height":            c.ImageHeight,
		"max_train_samples":       c.MaxTrainSamples,
		"max_validation_samples":  c.MaxValidationSamples,
		"seed":                    c.Seed,
	}
}

// asInt accepts integers, truncated floats and trimmed integer strings.
// Booleans are rejected even though some decoders treat them as numbers.
func asInt(v any, def int) int {
	if n, ok := parseInt(v); ok {
		return n
	}
	return def
}

func parseInt(v any) (int, bool) {
	switch v := v.(type) {
	case bool:
		return 0, false
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return truncate(float64(v))
	case float64:
		return truncate(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
		if f, err := v.Float64(); err == nil {
			return truncate(f)
		}
		return 0, false
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

func asFloat(v any, def float64) float64 {
	if f, ok := parseFloat(v); ok {
		return f
	}
	return def
}

func parseFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case bool:
		return 0, false
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return finite(float64(v))
	case float64:
		return finite(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return finite(f)
		}
		return 0, false
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return finite(f)
	default:
		return 0, false
	}
}

func truncate(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(max(math.MinInt32, min(math.MaxInt32, f))), true
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func clamp[T int | float64](v, lo, hi T) T {
	return max(lo, min(hi, v))
}
