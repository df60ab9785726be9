// Package jobs runs the training and evaluation jobs of a tracked run.
package jobs

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/animus/plateocr/api"
	"github.com/animus/plateocr/telemetry"
)

const (
	// ModelArtifactName is the name of uploaded model artifacts.
	ModelArtifactName = "demo-car-plate-ocr-model"

	kindModel   = "model"
	kindPreview = "preview"
)

// Client is the part of the run-tracking service the jobs use.
// *api.Client implements it.
type Client interface {
	GetRun(ctx context.Context, runID string) (*api.Run, error)
	ListRunArtifacts(ctx context.Context, runID, kind string, limit int) ([]api.Artifact, error)
	UploadRunArtifact(ctx context.Context, runID string, up api.ArtifactUpload) (*api.Artifact, error)
	DownloadRunArtifact(ctx context.Context, runID, artifactID, dest string) (*api.DatasetDownload, error)
	DownloadDatasetVersion(ctx context.Context, versionID, dest string) (*api.DatasetDownload, error)
}

// Deps are the collaborators of a job.
type Deps struct {
	Client Client
	Sink   telemetry.Sink
	Logger *slog.Logger

	// TempDir is the parent of the per-job work directory. Empty uses the
	// system default.
	TempDir string

	// Sleep paces training epochs. Nil uses the wall clock.
	Sleep func(context.Context, time.Duration) error
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) sink() telemetry.Sink {
	if d.Sink != nil {
		return d.Sink
	}
	return telemetry.Nop{}
}

// workDir creates a scratch directory removed by the returned func.
func (d Deps) workDir(prefix string) (string, func(), error) {
	dir, err := os.MkdirTemp(d.TempDir, prefix)
	if err != nil {
		return "", nil, err
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			d.logger().Warn("failed to remove work directory", "dir", dir, "error", err)
		}
	}, nil
}
