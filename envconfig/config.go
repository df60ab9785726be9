// config.go - Konfiguration aus der Umgebung fuer Jobs und CLI
//
// Dieses Modul enthaelt:
// - Config: einmalig an der Einstiegsgrenze gelesene Konfiguration
// - Load: liest alle Variablen, RequireJob prueft Pflichtwerte
// - Host: Adresse des Inferenz-Servers (PLATEOCR_HOST)
// - AllowedOrigins: erlaubte CORS-Origins des Servers (PLATEOCR_ORIGINS)
// - LogLevel: Log-Level (PLATEOCR_DEBUG)
// - HTTPTimeout: Timeout fuer API-Anfragen (PLATEOCR_HTTP_TIMEOUT)
//
// Weitere Hilfsfunktionen sind ausgelagert:
// - config_utils.go: Var, typisierte Getter, EnvVar und AsMap
package envconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrConfig wird von allen Konfigurationsfehlern erfuellt
var ErrConfig = errors.New("invalid configuration")

// ConfigError beschreibt eine fehlende oder ungueltige Variable
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s env: %s", e.Reason, e.Key)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// JobKind unterscheidet Training und Evaluation
type JobKind string

const (
	JobTraining   JobKind = "training"
	JobEvaluation JobKind = "evaluation"
)

// Config ist die gesamte Umgebungskonfiguration eines Prozesses.
// Sie wird einmal in cmd erzeugt und per Parameter weitergereicht.
type Config struct {
	DatapilotURL     *url.URL
	Token            string
	RunID            string
	DatasetVersionID string

	JobKind        JobKind
	EvaluationID   string
	EvalSplit      string
	PreviewSamples int

	CIWebhookSecret string

	Host           *url.URL
	AllowedOrigins []string
	LogLevel       slog.Level
	HTTPTimeout    time.Duration
}

// Load liest die Umgebung. Pflichtwerte fuer Jobs werden erst von
// RequireJob geprueft, damit lokale Kommandos ohne sie laufen.
func Load() (Config, error) {
	cfg := Config{
		Token:            Var("TOKEN"),
		RunID:            Var("RUN_ID"),
		DatasetVersionID: Var("DATASET_VERSION_ID"),
		EvaluationID:     Var("ANIMUS_EVALUATION_ID"),
		EvalSplit:        Var("ANIMUS_EVAL_SPLIT"),
		PreviewSamples:   clamp(Int("ANIMUS_EVAL_PREVIEW_SAMPLES", 16)(), 1, 128),
		CIWebhookSecret:  Var("ANIMUS_CI_WEBHOOK_SECRET"),
		Host:             Host(),
		AllowedOrigins:   AllowedOrigins(),
		LogLevel:         LogLevel(),
		HTTPTimeout:      HTTPTimeout(),
	}

	if cfg.EvalSplit == "" {
		cfg.EvalSplit = "evaluate"
	}

	switch kind := strings.ToLower(Var("ANIMUS_JOB_KIND")); kind {
	case "", string(JobTraining):
		cfg.JobKind = JobTraining
	case string(JobEvaluation):
		cfg.JobKind = JobEvaluation
	default:
		// unbekannte Werte laufen als Training
		slog.Warn("unknown job kind, running training", "kind", kind)
		cfg.JobKind = JobTraining
	}

	if s := Var("DATAPILOT_URL"); s != "" {
		u, err := url.Parse(strings.TrimRight(s, "/"))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return cfg, &ConfigError{Key: "DATAPILOT_URL", Reason: "invalid"}
		}
		cfg.DatapilotURL = u
	}

	return cfg, nil
}

// RequireJob prueft die Variablen, ohne die kein Job starten kann
func (c Config) RequireJob() error {
	if c.DatapilotURL == nil {
		return &ConfigError{Key: "DATAPILOT_URL", Reason: "missing required"}
	}

	for _, kv := range []struct{ key, value string }{
		{"TOKEN", c.Token},
		{"RUN_ID", c.RunID},
		{"DATASET_VERSION_ID", c.DatasetVersionID},
	} {
		if kv.value == "" {
			return &ConfigError{Key: kv.key, Reason: "missing required"}
		}
	}

	return nil
}

// Host gibt Scheme und Host des Inferenz-Servers zurueck
// Konfigurierbar via PLATEOCR_HOST
// Default: http://127.0.0.1:11500
func Host() *url.URL {
	defaultPort := "11500"

	s := strings.TrimSpace(Var("PLATEOCR_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins gibt erlaubte Origins zurueck
// Konfigurierbar via PLATEOCR_ORIGINS (komma-separiert)
// Enthaelt Standard-Origins fuer localhost
func AllowedOrigins() (origins []string) {
	if s := Var("PLATEOCR_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	return origins
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via PLATEOCR_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("PLATEOCR_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// HTTPTimeout gibt das Timeout fuer einzelne API-Anfragen zurueck
// Konfigurierbar via PLATEOCR_HTTP_TIMEOUT (Dauer oder Sekunden)
// Default: 30 Sekunden, 0 oder negativ = kein Timeout
func HTTPTimeout() (timeout time.Duration) {
	timeout = 30 * time.Second
	if s := Var("PLATEOCR_HTTP_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			timeout = d
		} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			timeout = time.Duration(n) * time.Second
		}
	}

	if timeout < 0 {
		return 0
	}

	return timeout
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
