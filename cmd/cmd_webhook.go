// cmd_webhook.go - Signierte CI-Webhooks
// Hauptfunktionen: WebhookHandler
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus/plateocr/api"
	"github.com/animus/plateocr/envconfig"
)

// WebhookHandler - Sendet den JSON-Payload aus Datei oder stdin
func WebhookHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.CIWebhookSecret == "" {
		return &envconfig.ConfigError{Key: "ANIMUS_CI_WEBHOOK_SECRET", Reason: "missing required"}
	}

	client, err := api.ClientFromConfig(cfg)
	if err != nil {
		return err
	}

	r := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	var payload json.RawMessage
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("webhook payload is empty")
		}
		return fmt.Errorf("webhook payload: %w", err)
	}

	resp, err := client.PostCIWebhook(cmd.Context(), cfg.CIWebhookSecret, time.Time{}, payload)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
