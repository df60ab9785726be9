// cmd_job.go - Job-Ausfuehrung gegen den Run-Tracking-Dienst
// Hauptfunktionen: JobHandler, closeSink
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus/plateocr/api"
	"github.com/animus/plateocr/envconfig"
	"github.com/animus/plateocr/jobs"
	"github.com/animus/plateocr/telemetry"
)

// flushTimeout begrenzt das Nachsenden der Telemetrie nach Jobende
const flushTimeout = 5 * time.Second

// JobHandler - Fuehrt den per ANIMUS_JOB_KIND gewaehlten Job aus
func JobHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireJob(); err != nil {
		return err
	}

	client, err := api.ClientFromConfig(cfg)
	if err != nil {
		return err
	}

	logger := slog.Default()
	sink := telemetry.Multi(
		telemetry.NewRun(client, cfg.RunID, telemetry.WithLogger(logger)),
		telemetry.Log{Logger: logger},
	)
	defer closeSink(sink)

	return runJob(cmd, cfg, jobs.Deps{Client: client, Sink: sink, Logger: logger})
}

func runJob(cmd *cobra.Command, cfg envconfig.Config, deps jobs.Deps) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch cfg.JobKind {
	case envconfig.JobEvaluation:
		res, err := jobs.Evaluation(ctx, deps, jobs.EvalOptions{
			RunID:            cfg.RunID,
			DatasetVersionID: cfg.DatasetVersionID,
			EvaluationID:     cfg.EvaluationID,
			Split:            cfg.EvalSplit,
			PreviewSamples:   cfg.PreviewSamples,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "evaluated %d previews, exact match %.3f, mean edit distance %.3f\n",
			len(res.Samples), res.ExactMatch, res.MeanEditDistance)
	default:
		res, err := jobs.Training(ctx, deps, cfg.RunID, cfg.DatasetVersionID)
		if err != nil {
			return err
		}
		artifact := ""
		if res.Artifact != nil {
			artifact = res.Artifact.ArtifactID
		}
		fmt.Fprintf(out, "trained on %d images (%d %s validation), val_loss %.4f at epoch %d, artifact %s\n",
			res.Train, res.Val, res.ValSource, res.ValLoss, res.BestEpoch, artifact)
	}

	return nil
}

// closeSink - Leert die Telemetrie-Queue mit festem Timeout
func closeSink(sink telemetry.Sink) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := sink.Close(ctx); err != nil {
		slog.Warn("telemetry not fully delivered", "error", err)
	}
}
