// types.go - Typen der Gateway-API (Fehler, Runs, Artefakte, Telemetrie)
// Enthaelt: StatusError, Run, Artifact, ArtifactUpload, RunEvent, RunMetrics, DatasetDownload,
// sowie PredictRequest/PredictResponse/ShowResponse des Inferenz-Servers
package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusError ist ein Fehler des Gateways oder des Transports.
// Code ist der "error"-Wert des Antwort-Bodys, "request_failed" wenn dieser
// fehlt, "network_error" ohne Antwort.
type StatusError struct {
	StatusCode int
	Code       string
	RequestID  string
	Body       string
}

func (e StatusError) Error() string {
	msg := fmt.Sprintf("api error %d: %s", e.StatusCode, e.Code)
	if e.RequestID != "" {
		msg += " (request_id=" + e.RequestID + ")"
	}
	return msg
}

// Run ist ein Experiment-Run mit seinen Trainingsparametern
type Run struct {
	RunID            string         `json:"run_id"`
	ExperimentID     string         `json:"experiment_id,omitempty"`
	DatasetVersionID string         `json:"dataset_version_id,omitempty"`
	Status           string         `json:"status,omitempty"`
	Params           map[string]any `json:"params"`
	Metrics          map[string]any `json:"metrics,omitempty"`
}

// Experiment gruppiert Runs
type Experiment struct {
	ExperimentID string         `json:"experiment_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// CreateRunRequest legt einen Run in einem Experiment an
type CreateRunRequest struct {
	DatasetVersionID string         `json:"dataset_version_id,omitempty"`
	Status           string         `json:"status"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	Params           map[string]any `json:"params,omitempty"`
	Metrics          map[string]any `json:"metrics,omitempty"`
}

// Artifact beschreibt ein gespeichertes Run-Artefakt
type Artifact struct {
	ArtifactID  string          `json:"artifact_id"`
	RunID       string          `json:"run_id"`
	Kind        string          `json:"kind"`
	Name        string          `json:"name,omitempty"`
	Filename    string          `json:"filename,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	SHA256      string          `json:"sha256,omitempty"`
	SizeBytes   int64           `json:"size_bytes,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at,omitzero"`
}

// ArtifactUpload ist eine hochzuladende Datei
type ArtifactUpload struct {
	Kind        string
	Name        string
	Path        string
	Filename    string
	ContentType string
	Metadata    any
}

// RunEvent ist ein Log-Eintrag eines Runs
type RunEvent struct {
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	Level      string     `json:"level,omitempty"`
	Message    string     `json:"message"`
	Metadata   any        `json:"metadata,omitempty"`
}

// RunMetrics ist ein Satz Metriken zu einem Schritt
type RunMetrics struct {
	Step     int64 `json:"step"`
	Metrics  any   `json:"metrics"`
	Metadata any   `json:"metadata,omitempty"`
}

// DatasetDownload beschreibt eine heruntergeladene Datensatz-Version
type DatasetDownload struct {
	Path        string `json:"path"`
	Bytes       int64  `json:"bytes"`
	SHA256      string `json:"sha256"`
	ContentType string `json:"content_type,omitempty"`
}

// PredictRequest ist die JSON-Anfrage an /api/predict.
// Images sind kodierte Bilddateien (base64 im JSON).
type PredictRequest struct {
	Images [][]byte `json:"images"`
}

// Prediction ist das Ergebnis fuer ein Bild
type Prediction struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// PredictResponse enthaelt eine Vorhersage pro Bild in Eingabereihenfolge
type PredictResponse struct {
	Predictions   []Prediction  `json:"predictions"`
	TotalDuration time.Duration `json:"total_duration,omitempty"`
}

// ShowResponse beschreibt das geladene Modell des Servers
type ShowResponse struct {
	Path        string   `json:"path"`
	Schema      string   `json:"schema"`
	ImageWidth  int      `json:"image_width"`
	ImageHeight int      `json:"image_height"`
	HiddenSize  int      `json:"hidden_size"`
	MaxLabelLen int      `json:"max_label_len"`
	Vocab       []string `json:"vocab"`
	PixelMean   float64  `json:"pixel_mean"`
	PixelStd    float64  `json:"pixel_std"`
}
