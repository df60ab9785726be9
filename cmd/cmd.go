// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs, loadConfig
package cmd

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/animus/plateocr/envconfig"
	"github.com/animus/plateocr/logutil"
	"github.com/animus/plateocr/version"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// loadConfig - Liest die Umgebung und setzt den Default-Logger
func loadConfig() (envconfig.Config, error) {
	cfg, err := envconfig.Load()
	slog.SetDefault(logutil.NewLogger(os.Stderr, cfg.LogLevel))
	return cfg, err
}

// versionHandler - Gibt die Client-Version aus
func versionHandler(cmd *cobra.Command, _ []string) {
	fmt.Fprintf(cmd.OutOrStdout(), "plateocr version is %s\n", version.Version)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	// Fortschrittszeilen brauchen VT-Verarbeitung der Windows-Konsole
	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "plateocr",
		Short:         "License plate OCR training and inference",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	jobCmd := &cobra.Command{
		Use:     "job",
		Short:   "Run the training or evaluation job configured by the environment",
		Args:    cobra.NoArgs,
		RunE:    JobHandler,
		Aliases: []string{"run"},
	}

	trainCmd := &cobra.Command{
		Use:   "train DATASET",
		Short: "Train a model on a local dataset directory or zip archive",
		Args:  cobra.ExactArgs(1),
		RunE:  TrainHandler,
	}
	trainCmd.Flags().StringP("output", "o", "model.safetensors", "Path of the model file to write")
	trainCmd.Flags().StringToStringP("param", "p", nil, "Training parameter, e.g. -p train_epochs=20 (repeatable)")
	trainCmd.Flags().String("ledger", "", "Telemetry ledger database (default ~/.plateocr/ledger.db)")

	evaluateCmd := &cobra.Command{
		Use:   "evaluate DATASET",
		Short: "Evaluate a local model file on a dataset split",
		Args:  cobra.ExactArgs(1),
		RunE:  EvaluateHandler,
	}
	evaluateCmd.Flags().StringP("model", "m", "model.safetensors", "Model file")
	evaluateCmd.Flags().String("split", "evaluate", "Dataset split")
	evaluateCmd.Flags().Int("limit", 0, "Maximum number of images (0 evaluates all)")
	evaluateCmd.Flags().Bool("samples", false, "Print every sample")
	evaluateCmd.Flags().String("ledger", "", "Telemetry ledger database (default ~/.plateocr/ledger.db)")

	predictCmd := &cobra.Command{
		Use:   "predict IMAGE [IMAGE...]",
		Short: "Read the plate text of images",
		Args:  cobra.MinimumNArgs(1),
		RunE:  PredictHandler,
	}
	predictCmd.Flags().StringP("model", "m", "", "Model file (default: ask the running server)")
	predictCmd.Flags().Bool("json", false, "Print predictions as JSON")

	showCmd := &cobra.Command{
		Use:   "show [MODEL]",
		Short: "Show the configuration of a model file or of the served model",
		Args:  cobra.MaximumNArgs(1),
		RunE:  ShowHandler,
	}

	serveCmd := &cobra.Command{
		Use:     "serve MODEL",
		Aliases: []string{"start"},
		Short:   "Start the inference server for a model file",
		Args:    cobra.ExactArgs(1),
		RunE:    RunServer,
	}

	webhookCmd := &cobra.Command{
		Use:   "webhook [PAYLOAD]",
		Short: "Send a signed CI webhook with a JSON payload file (or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  WebhookHandler,
	}

	historyCmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List local runs or show the metrics of one",
		Args:  cobra.MaximumNArgs(1),
		RunE:  HistoryHandler,
	}
	historyCmd.Flags().String("ledger", "", "Telemetry ledger database (default ~/.plateocr/ledger.db)")
	historyCmd.Flags().Bool("events", false, "Show events instead of metrics")

	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["PLATEOCR_HOST"], envVars["PLATEOCR_DEBUG"]}

	for _, cmd := range []*cobra.Command{
		jobCmd,
		trainCmd,
		evaluateCmd,
		predictCmd,
		showCmd,
		serveCmd,
		webhookCmd,
		historyCmd,
	} {
		switch cmd {
		case jobCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["DATAPILOT_URL"],
				envVars["TOKEN"],
				envVars["RUN_ID"],
				envVars["DATASET_VERSION_ID"],
				envVars["ANIMUS_JOB_KIND"],
				envVars["ANIMUS_EVALUATION_ID"],
				envVars["ANIMUS_EVAL_SPLIT"],
				envVars["ANIMUS_EVAL_PREVIEW_SAMPLES"],
				envVars["PLATEOCR_HTTP_TIMEOUT"],
				envVars["PLATEOCR_DEBUG"],
			})
		case trainCmd, evaluateCmd, historyCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["PLATEOCR_DEBUG"]})
		case serveCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["PLATEOCR_DEBUG"],
				envVars["PLATEOCR_HOST"],
				envVars["PLATEOCR_ORIGINS"],
			})
		case webhookCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["DATAPILOT_URL"],
				envVars["TOKEN"],
				envVars["ANIMUS_CI_WEBHOOK_SECRET"],
				envVars["PLATEOCR_HTTP_TIMEOUT"],
			})
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(
		jobCmd,
		trainCmd,
		evaluateCmd,
		predictCmd,
		showCmd,
		serveCmd,
		webhookCmd,
		historyCmd,
	)

	return rootCmd
}
