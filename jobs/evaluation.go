package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/sync/errgroup"

	"github.com/animus/plateocr/api"
	"github.com/animus/plateocr/dataset"
	"github.com/animus/plateocr/modelfile"
	"github.com/animus/plateocr/predict"
	"github.com/animus/plateocr/telemetry"
)

// ErrModelArtifactNotFound is returned when the run has no model artifact.
var ErrModelArtifactNotFound = errors.New("model_artifact_not_found")

const defaultPreviewSamples = 16

// EvalOptions selects what an evaluation previews.
type EvalOptions struct {
	RunID            string
	DatasetVersionID string

	// EvaluationID groups the preview artifacts. Empty uses RunID.
	EvaluationID string

	Split          string
	PreviewSamples int
}

// EvalSample is the outcome for one preview image.
type EvalSample struct {
	Index        int     `json:"index"`
	Path         string  `json:"path"`
	Label        string  `json:"label"`
	Predicted    string  `json:"predicted"`
	Confidence   float64 `json:"confidence"`
	Correct      bool    `json:"is_correct"`
	EditDistance int     `json:"edit_distance"`
}

// EvalResult summarizes a finished evaluation.
type EvalResult struct {
	Samples          []EvalSample `json:"samples"`
	ExactMatch       float64      `json:"exact_match"`
	MeanEditDistance float64      `json:"mean_edit_distance"`

	// TrainedModel is false when the artifact was not a model file and
	// the pass-through predictor was used.
	TrainedModel bool `json:"trained_model"`
}

// Summarize computes the aggregate metrics of samples.
func Summarize(samples []EvalSample) (exact, meanDistance float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var correct, distance int
	for _, s := range samples {
		if s.Correct {
			correct++
		}
		distance += s.EditDistance
	}
	n := float64(len(samples))
	return float64(correct) / n, float64(distance) / n
}

// Evaluation runs the evaluation job: it loads the newest model artifact of
// the run, predicts the first images of a dataset split and uploads an input
// and a prediction preview artifact per image.
func Evaluation(ctx context.Context, deps Deps, opts EvalOptions) (*EvalResult, error) {
	sink := deps.sink()
	split := dataset.NormalizeSplit(opts.Split)
	limit := opts.PreviewSamples
	if limit <= 0 {
		limit = defaultPreviewSamples
	}

	sink.Status("starting_evaluation", "evaluation starting", telemetry.F(
		"job_kind", "evaluation",
		"evaluation_id", opts.EvaluationID,
		"split", split,
	))

	work, cleanup, err := deps.workDir("plateocr-eval-")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	artifacts, err := deps.Client.ListRunArtifacts(ctx, opts.RunID, kindModel, 1)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 || strings.TrimSpace(artifacts[0].ArtifactID) == "" {
		return nil, ErrModelArtifactNotFound
	}
	artifact := artifacts[0]

	filename := strings.ToLower(strings.TrimSpace(artifact.Filename))
	trained := modelfile.IsModelFile(filename)

	modelPath := filepath.Join(work, "model"+modelfile.Ext)
	if !trained {
		missing := filename
		if missing == "" {
			missing = "(missing)"
		}
		sink.Event("warn", "model artifact is not a model file; falling back to filename-stem predictor",
			telemetry.F("filename", missing))

		modelPath = filepath.Join(work, "model.bin")
		if name := filepath.Base(filename); filename != "" && name != "." && name != string(filepath.Separator) {
			modelPath = filepath.Join(work, name)
		}
	}
	archive := filepath.Join(work, "dataset.zip")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := deps.Client.DownloadRunArtifact(gctx, opts.RunID, strings.TrimSpace(artifact.ArtifactID), modelPath)
		return err
	})
	g.Go(func() error {
		_, err := deps.Client.DownloadDatasetVersion(gctx, opts.DatasetVersionID, archive)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var predictor predict.Predictor = predict.PassThrough{}
	if trained {
		m, err := predict.Load(modelPath)
		if err != nil {
			return nil, fmt.Errorf("load model artifact: %w", err)
		}
		predictor = m
	}

	root, err := extractDataset(archive, filepath.Join(work, "dataset"))
	if err != nil {
		return nil, err
	}

	samples, err := dataset.ScanSplit(root, split, limit)
	if err != nil {
		return nil, err
	}

	group := opts.EvaluationID
	if group == "" {
		group = opts.RunID
	}

	result := &EvalResult{TrainedModel: trained}
	for idx, sample := range samples {
		sink.Progress(idx+1, len(samples), float64(idx+1)/float64(len(samples)), "preview")

		pred, err := predictor.Predict(ctx, predict.Input{Path: sample.Path, Label: sample.Label})
		if err != nil {
			return nil, err
		}

		s := scoreSample(idx, sample, pred)
		if err := uploadPreviews(ctx, deps.Client, opts.RunID, fmt.Sprintf("%s:%d", group, idx), split, s); err != nil {
			return nil, err
		}
		result.Samples = append(result.Samples, s)
	}

	result.ExactMatch, result.MeanEditDistance = Summarize(result.Samples)

	sink.Metric(0, "eval_preview_samples", float64(limit))
	sink.Metrics(0, telemetry.M(
		"eval_exact_match", result.ExactMatch,
		"eval_mean_edit_distance", result.MeanEditDistance,
	), telemetry.F("split", split, "samples", len(result.Samples)))
	sink.Status("finished_evaluation", "evaluation finished", telemetry.F("job_kind", "evaluation"))

	return result, nil
}

func scoreSample(idx int, sample dataset.Sample, pred predict.Prediction) EvalSample {
	return EvalSample{
		Index:        idx,
		Path:         sample.Path,
		Label:        sample.Label,
		Predicted:    pred.Text,
		Confidence:   pred.Confidence,
		Correct:      pred.Text == sample.Label,
		EditDistance: levenshtein.ComputeDistance(pred.Text, sample.Label),
	}
}

func uploadPreviews(ctx context.Context, client Client, runID, group, split string, s EvalSample) error {
	ext := strings.ToLower(filepath.Ext(s.Path))
	contentType := dataset.ContentType(s.Path)

	uploads := []api.ArtifactUpload{
		{
			Kind:        kindPreview,
			Name:        "input",
			Path:        s.Path,
			Filename:    s.Label + "_input" + ext,
			ContentType: contentType,
			Metadata: telemetry.F(
				"preview_group", group,
				"preview_role", "input",
				"preview_index", s.Index,
				"label", s.Label,
				"split", split,
			),
		},
		{
			Kind:        kindPreview,
			Name:        "prediction",
			Path:        s.Path,
			Filename:    s.Label + "_prediction" + ext,
			ContentType: contentType,
			Metadata: telemetry.F(
				"preview_group", group,
				"preview_role", "prediction",
				"preview_index", s.Index,
				"predicted_class", s.Predicted,
				"confidence", s.Confidence,
				"split", split,
				"is_correct", s.Correct,
				"edit_distance", s.EditDistance,
			),
		},
	}

	for _, up := range uploads {
		if _, err := client.UploadRunArtifact(ctx, runID, up); err != nil {
			return fmt.Errorf("upload %s preview %d: %w", up.Name, s.Index, err)
		}
	}
	return nil
}
