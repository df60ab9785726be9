// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - Var: liest eine Variable ohne Quotes und Leerzeichen
// - String/Int: typisierte Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap/Values: alle Variablen fuer Hilfe-Texte und Logs
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// Int gibt eine Funktion zurueck, die einen int mit Default-Wert liest
func Int(key string, defaultValue int) func() int {
	return func() int {
		if s := Var(key); s != "" {
			if n, err := strconv.Atoi(s); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Geheimnisse (TOKEN, Webhook-Secret) werden nur als gesetzt/leer gemeldet
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"DATAPILOT_URL":               {"DATAPILOT_URL", Var("DATAPILOT_URL"), "Base URL of the run-tracking gateway"},
		"TOKEN":                       {"TOKEN", redact(Var("TOKEN")), "Bearer token for the gateway"},
		"RUN_ID":                      {"RUN_ID", Var("RUN_ID"), "Run the job reports to"},
		"DATASET_VERSION_ID":          {"DATASET_VERSION_ID", Var("DATASET_VERSION_ID"), "Dataset version to download"},
		"ANIMUS_JOB_KIND":             {"ANIMUS_JOB_KIND", Var("ANIMUS_JOB_KIND"), "training or evaluation (default: training)"},
		"ANIMUS_EVALUATION_ID":        {"ANIMUS_EVALUATION_ID", Var("ANIMUS_EVALUATION_ID"), "Evaluation id used to group previews"},
		"ANIMUS_EVAL_SPLIT":           {"ANIMUS_EVAL_SPLIT", Var("ANIMUS_EVAL_SPLIT"), "Dataset split for previews (default: evaluate)"},
		"ANIMUS_EVAL_PREVIEW_SAMPLES": {"ANIMUS_EVAL_PREVIEW_SAMPLES", Int("ANIMUS_EVAL_PREVIEW_SAMPLES", 16)(), "Number of preview images (default: 16)"},
		"ANIMUS_CI_WEBHOOK_SECRET":    {"ANIMUS_CI_WEBHOOK_SECRET", redact(Var("ANIMUS_CI_WEBHOOK_SECRET")), "Secret for signing CI webhooks"},
		"PLATEOCR_DEBUG":              {"PLATEOCR_DEBUG", LogLevel(), "Show additional debug information (e.g. PLATEOCR_DEBUG=1)"},
		"PLATEOCR_HOST":               {"PLATEOCR_HOST", Host(), "Address of the inference server (default 127.0.0.1:11500)"},
		"PLATEOCR_ORIGINS":            {"PLATEOCR_ORIGINS", AllowedOrigins(), "Extra allowed CORS origins of the server (comma-separated)"},
		"PLATEOCR_HTTP_TIMEOUT":       {"PLATEOCR_HTTP_TIMEOUT", HTTPTimeout(), "Timeout for gateway requests (default \"30s\")"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
