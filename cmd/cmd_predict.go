// cmd_predict.go - Predict Command, lokal oder ueber den Server
// Hauptfunktionen: PredictHandler, predictLocal, predictRemote
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/animus/plateocr/api"
	"github.com/animus/plateocr/predict"
)

type namedPrediction struct {
	Path string `json:"path"`
	predict.Prediction
}

// PredictHandler - Liest die Kennzeichen der Bilder aus den Argumenten
func PredictHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	modelPath, err := cmd.Flags().GetString("model")
	if err != nil {
		return err
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	var preds []namedPrediction
	if modelPath != "" {
		preds, err = predictLocal(cmd.Context(), modelPath, args)
	} else {
		preds, err = predictRemote(cmd.Context(), api.ServerClient(cfg), args)
		var statusError api.StatusError
		if errors.As(err, &statusError) && statusError.Code == "network_error" {
			return fmt.Errorf("%w (is the server running at %s?)", err, cfg.Host)
		}
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(preds)
	}

	var data [][]string
	for _, p := range preds {
		data = append(data, []string{shortPath(p.Path), p.Text, strconv.FormatFloat(p.Confidence, 'f', 3, 64)})
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"PATH", "TEXT", "CONFIDENCE"})
	renderPlain(table, data)
	return nil
}

func predictLocal(ctx context.Context, modelPath string, paths []string) ([]namedPrediction, error) {
	m, err := predict.Load(modelPath)
	if err != nil {
		return nil, err
	}

	preds := make([]namedPrediction, 0, len(paths))
	for _, path := range paths {
		p, err := m.Predict(ctx, predict.Input{Path: path})
		if err != nil {
			return nil, err
		}
		preds = append(preds, namedPrediction{Path: path, Prediction: p})
	}
	return preds, nil
}

func predictRemote(ctx context.Context, client *api.Client, paths []string) ([]namedPrediction, error) {
	req := &api.PredictRequest{Images: make([][]byte, 0, len(paths))}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		req.Images = append(req.Images, data)
	}

	resp, err := client.Predict(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Predictions) != len(paths) {
		return nil, fmt.Errorf("server returned %d predictions for %d images", len(resp.Predictions), len(paths))
	}

	preds := make([]namedPrediction, len(paths))
	for i, p := range resp.Predictions {
		preds[i] = namedPrediction{Path: paths[i], Prediction: predict.Prediction{Text: p.Text, Confidence: p.Confidence}}
	}
	return preds, nil
}
