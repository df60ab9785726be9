package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/animus/plateocr/model"
)

// ErrEmptyTrainingSet is returned when the training tensor has no rows.
var ErrEmptyTrainingSet = errors.New("empty_train_set")

// Data is the encoded input of one run. The validation tensor may be empty.
type Data struct {
	XTrain *mat.Dense
	YTrain [][]int
	XVal   *mat.Dense
	YVal   [][]int
	Vocab  int
}

// Snapshot is a copy of the parameters taken after an epoch. Its Params
// are never written to after the snapshot is taken.
type Snapshot struct {
	Params  *model.Params
	ValLoss float64
	Epoch   int
}

// EpochReport is emitted once per completed epoch.
type EpochReport struct {
	Epoch  int
	Epochs int

	Train model.Metrics
	Val   model.Metrics
}

// Metrics returns the values logged as run metrics.
func (r EpochReport) Metrics() map[string]float64 {
	return map[string]float64{
		"loss":     r.Train.Loss,
		"val_loss": r.Val.Loss,
		"mAP":      r.Val.FullAccuracy,
	}
}

// Metadata returns the values attached to the run metrics.
func (r EpochReport) Metadata() map[string]any {
	return map[string]any{
		"train_full_acc": r.Train.FullAccuracy,
		"train_char_acc": r.Train.CharAccuracy,
		"val_char_acc":   r.Val.CharAccuracy,
		"epoch":          r.Epoch,
		"epochs":         r.Epochs,
	}
}

// Percent is the fraction of epochs completed.
func (r EpochReport) Percent() float64 {
	return float64(r.Epoch) / float64(r.Epochs)
}

// Reporter receives per-epoch progress.
type Reporter interface {
	ReportEpoch(EpochReport)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(EpochReport)

func (f ReporterFunc) ReportEpoch(r EpochReport) { f(r) }

// Result is the outcome of a completed run.
type Result struct {
	Params *model.Params

	// ValLoss is the best validation loss, or 0 if no epoch improved on
	// the initial value.
	ValLoss   float64
	BestEpoch int
	Epochs    int
}

// Trainer runs the epoch loop. Sleep and Now default to the wall clock.
type Trainer struct {
	Config   Config
	Reporter Reporter
	Sleep    func(context.Context, time.Duration) error
	Now      func() time.Time
	Logger   *slog.Logger
}

// Train fits a fresh model to data. Parameters are initialized and batches are
// shuffled from a single stream seeded by Config.Seed, so equal inputs and
// configuration produce identical results.
//
// Cancellation is checked between epochs. A cancelled run returns the
// context error and no result.
func (t *Trainer) Train(ctx context.Context, data Data) (*Result, error) {
	if data.XTrain == nil || data.XTrain.IsEmpty() || len(data.YTrain) == 0 {
		return nil, ErrEmptyTrainingSet
	}

	n, features := data.XTrain.Dims()
	if len(data.YTrain) != n {
		return nil, fmt.Errorf("training labels: got %d rows, want %d", len(data.YTrain), n)
	}
	positions := len(data.YTrain[0])

	cfg := t.Config
	logger := t.logger()
	rng := model.NewRand(cfg.Seed)
	params := model.New(features, cfg.HiddenSize, positions, data.Vocab, rng)

	logger.Debug("training started",
		"samples", n, "features", features, "positions", positions, "vocab", data.Vocab,
		"epochs", cfg.Epochs, "batch_size", cfg.BatchSize, "lr", cfg.LearningRate)

	var best *Snapshot
	bestLoss := math.Inf(1)
	batches := (n + cfg.BatchSize - 1) / cfg.BatchSize

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		started := t.now()
		perm := rng.Perm(n)

		for b := range batches {
			idx := perm[b*cfg.BatchSize : min(n, (b+1)*cfg.BatchSize)]
			xb, yb := Rows(data.XTrain, data.YTrain, idx)
			params.Step(xb, yb, cfg.LearningRate)
		}

		report := EpochReport{
			Epoch:  epoch,
			Epochs: cfg.Epochs,
			Train:  params.Evaluate(data.XTrain, data.YTrain),
			Val:    params.Evaluate(data.XVal, data.YVal),
		}

		if report.Val.Loss < bestLoss {
			bestLoss = report.Val.Loss
			best = &Snapshot{Params: params.Clone(), ValLoss: bestLoss, Epoch: epoch}
		}

		logger.Debug("epoch finished", "epoch", epoch, "loss", report.Train.Loss, "val_loss", report.Val.Loss)
		if t.Reporter != nil {
			t.Reporter.ReportEpoch(report)
		}

		if err := t.pace(ctx, started); err != nil {
			return nil, err
		}
	}

	if best == nil {
		return &Result{Params: params, Epochs: cfg.Epochs}, nil
	}

	return &Result{
		Params:    best.Params,
		ValLoss:   best.ValLoss,
		BestEpoch: best.Epoch,
		Epochs:    cfg.Epochs,
	}, nil
}

// pace sleeps until the epoch has lasted at least MinEpochSeconds.
func (t *Trainer) pace(ctx context.Context, started time.Time) error {
	if t.Config.MinEpochSeconds <= 0 {
		return nil
	}

	minimum := time.Duration(t.Config.MinEpochSeconds * float64(time.Second))
	remaining := minimum - t.now().Sub(started)
	if remaining <= 0 {
		return nil
	}

	sleep := t.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	return sleep(ctx, remaining)
}

func (t *Trainer) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *Trainer) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Rows gathers the rows idx of x and y into a new batch.
func Rows(x *mat.Dense, y [][]int, idx []int) (*mat.Dense, [][]int) {
	_, c := x.Dims()
	xb := mat.NewDense(len(idx), c, nil)
	yb := make([][]int, len(idx))
	for i, j := range idx {
		xb.SetRow(i, x.RawRowView(j))
		yb[i] = y[j]
	}
	return xb, yb
}
