package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	experimentsPrefix = "/api/experiments"
	datasetsPrefix    = "/api/dataset-registry"
)

func runPath(runID string, elem ...string) string {
	return experimentsPrefix + "/experiment-runs/" + url.PathEscape(runID) + strings.Join(elem, "")
}

// GetRun returns the run and its parameters.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, runPath(runID), nil, nil, &run); err != nil {
		return nil, err
	}
	if run.Params == nil {
		run.Params = map[string]any{}
	}
	return &run, nil
}

// CreateExperiment creates a named experiment.
func (c *Client) CreateExperiment(ctx context.Context, name, description string, metadata map[string]any) (*Experiment, error) {
	req := Experiment{Name: name, Description: description, Metadata: metadata}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}

	var resp Experiment
	if err := c.do(ctx, http.MethodPost, experimentsPrefix+"/experiments", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateRun creates a run below experimentID.
func (c *Client) CreateRun(ctx context.Context, experimentID string, req CreateRunRequest) (*Run, error) {
	var run Run
	path := experimentsPrefix + "/experiments/" + url.PathEscape(experimentID) + "/runs"
	if err := c.do(ctx, http.MethodPost, path, nil, req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRunArtifacts returns artifacts of kind, newest first. A limit of zero
// leaves the server default.
func (c *Client) ListRunArtifacts(ctx context.Context, runID, kind string, limit int) ([]Artifact, error) {
	query := url.Values{}
	if kind != "" {
		query.Set("kind", kind)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Artifacts []Artifact `json:"artifacts"`
	}
	if err := c.do(ctx, http.MethodGet, runPath(runID, "/artifacts"), query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Artifacts, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// UploadRunArtifact sends the file at up.Path as a multipart form with the
// fields kind, name, metadata and file.
func (c *Client) UploadRunArtifact(ctx context.Context, runID string, up ArtifactUpload) (*Artifact, error) {
	f, err := os.Open(up.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	metadata, err := json.Marshal(up.Metadata)
	if err != nil {
		return nil, err
	}
	if up.Metadata == nil {
		metadata = []byte("{}")
	}

	filename := up.Filename
	if filename == "" {
		filename = filepath.Base(up.Path)
	}
	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			for _, field := range [][2]string{{"kind", up.Kind}, {"name", up.Name}, {"metadata", string(metadata)}} {
				if err := mw.WriteField(field[0], field[1]); err != nil {
					return err
				}
			}

			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
			h.Set("Content-Type", contentType)
			part, err := mw.CreatePart(h)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, f); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	request, err := c.newRequest(ctx, http.MethodPost, runPath(runID, "/artifacts"), nil, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	request.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Artifact Artifact `json:"artifact"`
	}
	if err := c.roundTrip(request, &resp); err != nil {
		pr.Close()
		return nil, err
	}
	return &resp.Artifact, nil
}

// DownloadRunArtifact streams an artifact to dest.
func (c *Client) DownloadRunArtifact(ctx context.Context, runID, artifactID, dest string) (*DatasetDownload, error) {
	return c.download(ctx, runPath(runID, "/artifacts/", url.PathEscape(artifactID), "/download"), dest)
}

// DownloadDatasetVersion streams the archive of a dataset version to dest.
func (c *Client) DownloadDatasetVersion(ctx context.Context, versionID, dest string) (*DatasetDownload, error) {
	return c.download(ctx, datasetsPrefix+"/dataset-versions/"+url.PathEscape(versionID)+"/download", dest)
}

func (c *Client) download(ctx context.Context, path, dest string) (*DatasetDownload, error) {
	request, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "*/*")

	resp, err := c.send(request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, checkError(resp, body)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, err
	}

	f, err := os.Create(dest)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	return &DatasetDownload{
		Path:        dest,
		Bytes:       n,
		SHA256:      hex.EncodeToString(h.Sum(nil)),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// PostRunEvent appends a log event to the run.
func (c *Client) PostRunEvent(ctx context.Context, runID string, event RunEvent) error {
	return c.do(ctx, http.MethodPost, runPath(runID, "/events"), nil, event, nil)
}

// PostRunMetrics records metrics for a step of the run.
func (c *Client) PostRunMetrics(ctx context.Context, runID string, metrics RunMetrics) error {
	return c.do(ctx, http.MethodPost, runPath(runID, "/metrics"), nil, metrics, nil)
}
