package jobs

import (
	"context"
	"fmt"

	"github.com/animus/plateocr/dataset"
	"github.com/animus/plateocr/labels"
	"github.com/animus/plateocr/modelfile"
	"github.com/animus/plateocr/telemetry"
	"github.com/animus/plateocr/train"
	"github.com/animus/plateocr/vision"
)

// Validation sources reported as val_source.
const (
	SourceValidation = "validation"
	SourceTrain      = "train"
)

// Splits are the scanned samples of a dataset root.
type Splits struct {
	Train     []dataset.Sample
	Val       []dataset.Sample
	ValSource string
}

// ScanSplits collects training and validation samples below root. Without a
// usable validation split the first training images are used instead and
// ValSource is SourceTrain, so the validation loss is not a held-out measure.
func ScanSplits(root string, cfg train.Config) (*Splits, error) {
	trainDir, err := dataset.SplitDir(root, dataset.SplitTrain)
	if err != nil {
		return nil, err
	}

	trainSamples, err := dataset.Scan(trainDir, cfg.MaxTrainSamples)
	if err != nil {
		return nil, err
	}
	if len(trainSamples) == 0 {
		return nil, &dataset.StructureError{Split: dataset.SplitTrain, Reason: "no images"}
	}

	s := &Splits{Train: trainSamples, ValSource: SourceValidation}

	valDir, err := dataset.SplitDir(root, dataset.SplitValidation)
	if err != nil {
		s.ValSource = SourceTrain
		valDir = trainDir
	}

	s.Val, err = dataset.Scan(valDir, cfg.MaxValidationSamples)
	if err != nil {
		return nil, err
	}
	if len(s.Val) == 0 {
		s.ValSource = SourceTrain
		s.Val = trainSamples[:min(len(trainSamples), cfg.MaxValidationSamples)]
	}

	return s, nil
}

// Prepared is the encoded and normalized input of a training run.
type Prepared struct {
	Splits      *Splits
	Vocab       labels.Vocabulary
	MaxLabelLen int
	Stats       vision.Stats
	Data        train.Data
}

// Prepare encodes the labels of both splits and loads their features. Both
// tensors are normalized with the statistics of the training tensor.
func Prepare(splits *Splits, cfg train.Config, sink telemetry.Sink) (*Prepared, error) {
	trainLabels := dataset.Labels(splits.Train)
	valLabels := dataset.Labels(splits.Val)
	all := append(append([]string{}, trainLabels...), valLabels...)

	maxLen := labels.MaxLength(all)
	vocab := labels.Build(all)

	sink.Status("loading_features", "loading image features", nil)
	xTrain, err := vision.Features(dataset.Paths(splits.Train), cfg.ImageWidth, cfg.ImageHeight)
	if err != nil {
		return nil, fmt.Errorf("training features: %w", err)
	}
	xVal, err := vision.Features(dataset.Paths(splits.Val), cfg.ImageWidth, cfg.ImageHeight)
	if err != nil {
		return nil, fmt.Errorf("validation features: %w", err)
	}

	stats := vision.ComputeStats(xTrain)
	stats.Apply(xTrain)
	stats.Apply(xVal)

	return &Prepared{
		Splits:      splits,
		Vocab:       vocab,
		MaxLabelLen: maxLen,
		Stats:       stats,
		Data: train.Data{
			XTrain: xTrain,
			YTrain: labels.Encode(trainLabels, vocab, maxLen),
			XVal:   xVal,
			YVal:   labels.Encode(valLabels, vocab, maxLen),
			Vocab:  len(vocab),
		},
	}, nil
}

// epochReporter forwards epoch results as run metrics and progress.
type epochReporter struct {
	sink telemetry.Sink
}

func (r epochReporter) ReportEpoch(e train.EpochReport) {
	r.sink.Metrics(int64(e.Epoch),
		telemetry.MetricsFromMap(e.Metrics(), "loss", "val_loss", "mAP"),
		telemetry.FromMap(e.Metadata(), "train_full_acc", "train_char_acc", "val_char_acc", "epoch", "epochs"))
	r.sink.Progress(e.Epoch, e.Epochs, e.Percent(), "training")
}

// Fit trains on p and returns the model to persist with p.Stats.
func Fit(ctx context.Context, p *Prepared, cfg train.Config, deps Deps) (*modelfile.Model, *train.Result, error) {
	sink := deps.sink()
	sink.Status("training", "training model", nil)

	trainer := &train.Trainer{
		Config:   cfg,
		Reporter: epochReporter{sink: sink},
		Sleep:    deps.Sleep,
		Logger:   deps.logger(),
	}
	result, err := trainer.Train(ctx, p.Data)
	if err != nil {
		return nil, nil, err
	}

	m := &modelfile.Model{
		Config: modelfile.Config{
			HiddenSize:  cfg.HiddenSize,
			ImageHeight: cfg.ImageHeight,
			ImageWidth:  cfg.ImageWidth,
			MaxLabelLen: p.MaxLabelLen,
			PadToken:    labels.Pad,
			Schema:      modelfile.Schema,
			Seed:        cfg.Seed,
			Vocab:       p.Vocab,
		},
		Params: result.Params,
	}
	return m, result, nil
}

// configFields is the resolved configuration attached to the config event.
func configFields(cfg train.Config) telemetry.Fields {
	return telemetry.FromMap(cfg.AsMap(),
		"train_epochs", "train_batch_size", "train_lr", "train_hidden_size", "train_min_epoch_seconds",
		"image_width", "image_height", "max_train_samples", "max_validation_samples")
}
