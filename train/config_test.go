package train

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseConfigDefaults(t *testing.T) {
	want := Config{
		Epochs:               40,
		BatchSize:            32,
		LearningRate:         0.2,
		HiddenSize:           128,
		MinEpochSeconds:      0.5,
		ImageWidth:           96,
		ImageHeight:          24,
		MaxTrainSamples:      200,
		MaxValidationSamples: 64,
		Seed:                 17,
	}

	if diff := cmp.Diff(want, ParseConfig(map[string]any{})); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, DefaultConfig()); diff != "" {
		t.Errorf("DefaultConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestParseConfig(t *testing.T) {
	cases := []struct {
		name   string
		params map[string]any
		check  func(Config) bool
	}{
		{"epochs", map[string]any{"train_epochs": 3}, func(c Config) bool { return c.Epochs == 3 }},
		{"legacy steps", map[string]any{"train_steps": 7}, func(c Config) bool { return c.Epochs == 7 }},
		{"epochs win over steps", map[string]any{"train_epochs": 5, "train_steps": 7}, func(c Config) bool { return c.Epochs == 5 }},
		{"zero epochs uses steps", map[string]any{"train_epochs": 0, "train_steps": 9}, func(c Config) bool { return c.Epochs == 9 }},
		{"epochs clamp high", map[string]any{"train_epochs": 100000}, func(c Config) bool { return c.Epochs == 5000 }},
		{"garbage epochs uses steps", map[string]any{"train_epochs": "x", "train_steps": 6}, func(c Config) bool { return c.Epochs == 6 }},
		{"garbage steps default", map[string]any{"train_steps": "x"}, func(c Config) bool { return c.Epochs == 40 }},
		{"negative steps clamp", map[string]any{"train_steps": -3}, func(c Config) bool { return c.Epochs == 1 }},
		{"string epochs", map[string]any{"train_epochs": " 12 "}, func(c Config) bool { return c.Epochs == 12 }},
		{"float epochs truncate", map[string]any{"train_epochs": 4.9}, func(c Config) bool { return c.Epochs == 4 }},
		{"bool rejected", map[string]any{"train_epochs": true}, func(c Config) bool { return c.Epochs == 40 }},
		{"garbage string", map[string]any{"train_batch_size": "lots"}, func(c Config) bool { return c.BatchSize == 32 }},
		{"batch clamp low", map[string]any{"train_batch_size": 1}, func(c Config) bool { return c.BatchSize == 4 }},
		{"lr string", map[string]any{"train_lr": "0.05"}, func(c Config) bool { return c.LearningRate == 0.05 }},
		{"lr clamp", map[string]any{"train_lr": 99}, func(c Config) bool { return c.LearningRate == 5 }},
		{"lr bool", map[string]any{"train_lr": false}, func(c Config) bool { return c.LearningRate == 0.2 }},
		{"lr nan string", map[string]any{"train_lr": "NaN"}, func(c Config) bool { return c.LearningRate == 0.2 }},
		{"hidden clamp", map[string]any{"train_hidden_size": 8}, func(c Config) bool { return c.HiddenSize == 16 }},
		{"min epoch zero", map[string]any{"train_min_epoch_seconds": 0}, func(c Config) bool { return c.MinEpochSeconds == 0 }},
		{"min epoch legacy", map[string]any{"min_epoch_seconds": 2}, func(c Config) bool { return c.MinEpochSeconds == 2 }},
		{"min epoch negative uses legacy", map[string]any{"train_min_epoch_seconds": -1, "min_epoch_seconds": 3}, func(c Config) bool { return c.MinEpochSeconds == 3 }},
		{"min epoch negative legacy clamps", map[string]any{"min_epoch_seconds": -4}, func(c Config) bool { return c.MinEpochSeconds == 0 }},
		{"min epoch clamp", map[string]any{"train_min_epoch_seconds": 600}, func(c Config) bool { return c.MinEpochSeconds == 60 }},
		{"width clamp", map[string]any{"image_width": 4}, func(c Config) bool { return c.ImageWidth == 16 }},
		{"height clamp", map[string]any{"image_height": 1000}, func(c Config) bool { return c.ImageHeight == 256 }},
		{"train samples clamp", map[string]any{"max_train_samples": 1}, func(c Config) bool { return c.MaxTrainSamples == 10 }},
		{"validation samples", map[string]any{"max_validation_samples": 500}, func(c Config) bool { return c.MaxValidationSamples == 500 }},
		{"seed", map[string]any{"seed": 123}, func(c Config) bool { return c.Seed == 123 }},
		{"seed negative", map[string]any{"seed": -5}, func(c Config) bool { return c.Seed == 0 }},
		{"seed json number", map[string]any{"seed": json.Number("99")}, func(c Config) bool { return c.Seed == 99 }},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseConfig(tt.params); !tt.check(got) {
				t.Errorf("unexpected config: %+v", got)
			}
		})
	}
}

func TestFirst(t *testing.T) {
	candidates := []candidate[int]{
		{"new", positiveInt},
		{"old", parseInt},
	}

	cases := []struct {
		name   string
		params map[string]any
		want   int
	}{
		{"none", nil, 11},
		{"new", map[string]any{"new": 2, "old": 3}, 2},
		{"new rejected", map[string]any{"new": -2, "old": 3}, 3},
		{"old only", map[string]any{"old": "-8"}, -8},
		{"both invalid", map[string]any{"new": "a", "old": false}, 11},
	}
	for _, tt := range cases {
		if got := first(tt.params, candidates, 11); got != tt.want {
			t.Errorf("%s: first() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestParseConfigJSONParams(t *testing.T) {
	var params map[string]any
	if err := json.Unmarshal([]byte(`{"train_epochs": 6, "train_lr": 0.1, "seed": "42"}`), &params); err != nil {
		t.Fatal(err)
	}

	cfg := ParseConfig(params)
	if cfg.Epochs != 6 || cfg.LearningRate != 0.1 || cfg.Seed != 42 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}
