// cmd_local.go - Lokales Training und lokale Evaluation
// Hauptfunktionen: TrainHandler, EvaluateHandler, openLocalRun
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/animus/plateocr/jobs"
	"github.com/animus/plateocr/telemetry"
)

// defaultLedgerPath - ~/.plateocr/ledger.db
func defaultLedgerPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".plateocr", "ledger.db"), nil
}

// openLedger - Oeffnet die Ledger-Datenbank aus --ledger oder dem Default-Pfad
func openLedger(cmd *cobra.Command) (*telemetry.Ledger, error) {
	path, err := cmd.Flags().GetString("ledger")
	if err != nil {
		return nil, err
	}
	if path == "" {
		if path, err = defaultLedgerPath(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create directory %w", err)
	}
	return telemetry.OpenLedger(path)
}

// openLocalRun - Legt einen Run im Ledger an und buendelt ihn mit Log und
// Fortschrittsanzeige
func openLocalRun(cmd *cobra.Command, kind string) (*telemetry.Ledger, telemetry.Sink, string, error) {
	ledger, err := openLedger(cmd)
	if err != nil {
		return nil, nil, "", err
	}

	runID := uuid.NewString()
	run, err := ledger.Run(cmd.Context(), runID, kind)
	if err != nil {
		ledger.Close()
		return nil, nil, "", err
	}

	sinks := []telemetry.Sink{run, telemetry.Log{Logger: slog.Default()}}
	if p := newProgress(cmd.ErrOrStderr()); p != nil {
		sinks = append(sinks, p)
	}
	return ledger, telemetry.Multi(sinks...), runID, nil
}

// TrainHandler - Trainiert lokal und schreibt die Modelldatei
func TrainHandler(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	raw, err := cmd.Flags().GetStringToString("param")
	if err != nil {
		return err
	}
	params := make(map[string]any, len(raw))
	for k, v := range raw {
		params[k] = v
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("could not create directory %w", err)
	}

	ledger, sink, runID, err := openLocalRun(cmd, "train")
	if err != nil {
		return err
	}
	defer ledger.Close()

	res, err := jobs.LocalTraining(cmd.Context(), jobs.Deps{Sink: sink, Logger: slog.Default()}, jobs.LocalOptions{
		Source: args[0],
		Output: output,
		Params: params,
	})
	closeSink(sink)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (run %s): %d train, %d %s validation, val_loss %.4f at epoch %d\n",
		res.ModelPath, runID, res.Train, res.Val, res.ValSource, res.ValLoss, res.BestEpoch)
	return nil
}

// EvaluateHandler - Bewertet eine lokale Modelldatei auf einem Split
func EvaluateHandler(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	modelPath, err := cmd.Flags().GetString("model")
	if err != nil {
		return err
	}
	split, err := cmd.Flags().GetString("split")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	showSamples, err := cmd.Flags().GetBool("samples")
	if err != nil {
		return err
	}

	ledger, sink, _, err := openLocalRun(cmd, "evaluate")
	if err != nil {
		return err
	}
	defer ledger.Close()

	res, err := jobs.LocalEvaluation(cmd.Context(), jobs.Deps{Sink: sink, Logger: slog.Default()}, jobs.LocalEvalOptions{
		Source: args[0],
		Model:  modelPath,
		Split:  split,
		Limit:  limit,
	})
	closeSink(sink)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if showSamples {
		var data [][]string
		for _, s := range res.Samples {
			data = append(data, []string{
				shortPath(s.Path),
				s.Label,
				s.Predicted,
				strconv.FormatFloat(s.Confidence, 'f', 3, 64),
				strconv.Itoa(s.EditDistance),
			})
		}

		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"PATH", "LABEL", "PREDICTED", "CONFIDENCE", "DISTANCE"})
		renderPlain(table, data)
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "samples %d, exact match %.3f, mean edit distance %.3f\n",
		len(res.Samples), res.ExactMatch, res.MeanEditDistance)
	return nil
}
