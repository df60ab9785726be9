package jobs

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus/plateocr/dataset"
	"github.com/animus/plateocr/modelfile"
	"github.com/animus/plateocr/predict"
	"github.com/animus/plateocr/telemetry"
	"github.com/animus/plateocr/train"
)

// LocalOptions configures a training run without the run-tracking service.
type LocalOptions struct {
	// Source is a dataset directory or a zip archive of one.
	Source string

	// Output is the path of the model file to write.
	Output string

	// Params are run parameters as accepted by train.ParseConfig.
	Params map[string]any
}

// LocalTraining trains on a local dataset and writes the model to
// opts.Output. Telemetry goes to deps.Sink, typically a ledger.
func LocalTraining(ctx context.Context, deps Deps, opts LocalOptions) (*TrainingResult, error) {
	sink := deps.sink()
	sink.Status("starting", "training starting", telemetry.F("job_kind", "local"))

	cfg := train.ParseConfig(opts.Params)
	sink.Event("info", "training config resolved", configFields(cfg))

	root, cleanup, err := localRoot(deps, opts.Source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	splits, err := ScanSplits(root, cfg)
	if err != nil {
		return nil, err
	}
	reportSplits(sink, splits)

	prepared, err := Prepare(splits, cfg, sink)
	if err != nil {
		return nil, err
	}

	m, result, err := Fit(ctx, prepared, cfg, deps)
	if err != nil {
		return nil, err
	}

	if err := modelfile.Save(opts.Output, m, prepared.Stats); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}

	sink.Status("finished", "training finished", telemetry.F(
		"job_kind", "local",
		"model_path", opts.Output,
		"val_loss", result.ValLoss,
		"best_epoch", result.BestEpoch,
	))

	return &TrainingResult{
		ModelPath: opts.Output,
		Config:    cfg,
		Train:     len(splits.Train),
		Val:       len(splits.Val),
		ValSource: splits.ValSource,
		ValLoss:   result.ValLoss,
		BestEpoch: result.BestEpoch,
	}, nil
}

// LocalEvalOptions configures an evaluation of a local model file.
type LocalEvalOptions struct {
	Source string
	Model  string
	Split  string

	// Limit caps the number of images. Zero evaluates the whole split.
	Limit int
}

// LocalEvaluation predicts every image of a local dataset split with the
// model at opts.Model. Nothing is uploaded.
func LocalEvaluation(ctx context.Context, deps Deps, opts LocalEvalOptions) (*EvalResult, error) {
	sink := deps.sink()
	split := dataset.NormalizeSplit(opts.Split)
	sink.Status("starting_evaluation", "evaluation starting", telemetry.F(
		"job_kind", "local",
		"split", split,
		"model_path", opts.Model,
	))

	m, err := predict.Load(opts.Model)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	root, cleanup, err := localRoot(deps, opts.Source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	limit := opts.Limit
	if limit <= 0 {
		limit = math.MaxInt
	}
	samples, err := dataset.ScanSplit(root, split, limit)
	if err != nil {
		return nil, err
	}

	result := &EvalResult{TrainedModel: true}
	for idx, sample := range samples {
		sink.Progress(idx+1, len(samples), float64(idx+1)/float64(len(samples)), "evaluate")

		pred, err := m.Predict(ctx, predict.Input{Path: sample.Path, Label: sample.Label})
		if err != nil {
			return nil, err
		}
		result.Samples = append(result.Samples, scoreSample(idx, sample, pred))
	}

	result.ExactMatch, result.MeanEditDistance = Summarize(result.Samples)
	sink.Metrics(0, telemetry.M(
		"eval_exact_match", result.ExactMatch,
		"eval_mean_edit_distance", result.MeanEditDistance,
	), telemetry.F("split", split, "samples", len(result.Samples)))
	sink.Status("finished_evaluation", "evaluation finished", telemetry.F("job_kind", "local"))

	return result, nil
}

// localRoot resolves source to a dataset root, extracting zip archives into
// a scratch directory first.
func localRoot(deps Deps, source string) (string, func(), error) {
	fi, err := os.Stat(source)
	if err != nil {
		return "", nil, err
	}

	if fi.IsDir() {
		root, err := dataset.ResolveRoot(source)
		return root, func() {}, err
	}

	if !strings.EqualFold(filepath.Ext(source), ".zip") {
		return "", nil, fmt.Errorf("dataset %s: expected a directory or a .zip archive", source)
	}

	work, cleanup, err := deps.workDir("plateocr-local-")
	if err != nil {
		return "", nil, err
	}
	root, err := extractDataset(source, filepath.Join(work, "dataset"))
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return root, cleanup, nil
}
