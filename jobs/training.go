package jobs

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/animus/plateocr/api"
	"github.com/animus/plateocr/dataset"
	"github.com/animus/plateocr/modelfile"
	"github.com/animus/plateocr/telemetry"
	"github.com/animus/plateocr/train"
)

// TrainingResult summarizes a finished training job.
type TrainingResult struct {
	// Artifact is the uploaded model. It is nil for local runs, which set
	// ModelPath instead.
	Artifact  *api.Artifact
	ModelPath string
	Config    train.Config
	Train     int
	Val       int
	ValSource string
	ValLoss   float64
	BestEpoch int
}

// Training runs the training job of runID on the dataset version: it reads
// the run parameters, downloads and extracts the dataset, trains and uploads
// the best model as a run artifact.
func Training(ctx context.Context, deps Deps, runID, datasetVersionID string) (*TrainingResult, error) {
	sink := deps.sink()
	sink.Status("starting", "training starting", telemetry.F("job_kind", "training"))

	run, err := deps.Client.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	cfg := train.ParseConfig(run.Params)
	sink.Event("info", "training config resolved", configFields(cfg))

	work, cleanup, err := deps.workDir("plateocr-train-")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	sink.Status("downloading_dataset", "downloading dataset version", nil)
	archive := filepath.Join(work, "dataset.zip")
	meta, err := deps.Client.DownloadDatasetVersion(ctx, datasetVersionID, archive)
	if err != nil {
		return nil, err
	}
	sink.Event("info", "dataset downloaded", telemetry.F("dataset_meta", meta))

	sink.Status("extracting_dataset", "extracting dataset zip", nil)
	root, err := extractDataset(archive, filepath.Join(work, "dataset"))
	if err != nil {
		return nil, err
	}

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

	modelPath := filepath.Join(work, "model"+modelfile.Ext)
	if err := modelfile.Save(modelPath, m, prepared.Stats); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}

	sink.Status("uploading_model", "uploading model artifact", nil)
	artifact, err := deps.Client.UploadRunArtifact(ctx, runID, api.ArtifactUpload{
		Kind:        kindModel,
		Name:        ModelArtifactName,
		Path:        modelPath,
		Filename:    filepath.Base(modelPath),
		ContentType: "application/octet-stream",
		Metadata: telemetry.F(
			"format", modelfile.Format,
			"schema", modelfile.Schema,
			"train_samples", len(splits.Train),
			"val_samples", len(splits.Val),
			"val_source", splits.ValSource,
			"summary", telemetry.F("val_loss", result.ValLoss),
		),
	})
	if err != nil {
		return nil, err
	}

	sink.Status("finished", "training finished", telemetry.F("job_kind", "training"))

	return &TrainingResult{
		Artifact:  artifact,
		Config:    cfg,
		Train:     len(splits.Train),
		Val:       len(splits.Val),
		ValSource: splits.ValSource,
		ValLoss:   result.ValLoss,
		BestEpoch: result.BestEpoch,
	}, nil
}

func extractDataset(archive, dest string) (string, error) {
	if err := dataset.Extract(archive, dest); err != nil {
		return "", fmt.Errorf("extract dataset: %w", err)
	}
	return dataset.ResolveRoot(dest)
}

func reportSplits(sink telemetry.Sink, s *Splits) {
	sink.Event("info", "splits scanned", telemetry.F(
		"train_samples", len(s.Train),
		"val_samples", len(s.Val),
		"val_source", s.ValSource,
	))
	if s.ValSource == SourceTrain {
		sink.Event("warn", "no validation images, validating on training images", telemetry.F(
			"val_samples", len(s.Val),
		))
	}
}
