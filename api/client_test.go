package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	base, err := url.Parse(ts.URL)
	require.NoError(t, err)
	return NewClient(base, ts.Client(), "tok")
}

func TestClientHeaders(t *testing.T) {
	var got http.Header
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{"run_id":"r1","params":{"train_epochs":3}}`))
	})

	run, err := c.GetRun(context.Background(), "r1")
	require.NoError(t, err)

	if got.Get("Authorization") != "Bearer tok" {
		t.Errorf("Authorization = %q", got.Get("Authorization"))
	}
	if got.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q", got.Get("Accept"))
	}
	if id := got.Get("X-Request-Id"); len(id) != 32 {
		t.Errorf("X-Request-Id = %q, want 32 hex chars", id)
	}
	if run.RunID != "r1" || run.Params["train_epochs"] != float64(3) {
		t.Errorf("unexpected run: %+v", run)
	}
}

func TestGetRunPath(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/experiments/experiment-runs/run-7" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"run_id":"run-7"}`))
	})

	run, err := c.GetRun(context.Background(), "run-7")
	require.NoError(t, err)
	if run.Params == nil {
		t.Error("Params must default to an empty map")
	}
}

func TestStatusError(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   StatusError
	}{
		{
			name:   "error body",
			status: http.StatusNotFound,
			body:   `{"error":"run_not_found","request_id":"abc"}`,
			want:   StatusError{StatusCode: 404, Code: "run_not_found", RequestID: "abc", Body: `{"error":"run_not_found","request_id":"abc"}`},
		},
		{
			name:   "no code",
			status: http.StatusBadGateway,
			body:   `{}`,
			want:   StatusError{StatusCode: 502, Code: "request_failed", Body: `{}`},
		},
		{
			name:   "not json",
			status: http.StatusInternalServerError,
			body:   "boom",
			want:   StatusError{StatusCode: 500, Code: "request_failed", Body: "boom"},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			var requestID string
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				requestID = r.Header.Get("X-Request-Id")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.GetRun(context.Background(), "r")
			var se StatusError
			require.ErrorAs(t, err, &se)

			want := tt.want
			if want.RequestID == "" {
				want.RequestID = requestID
			}
			if diff := cmp.Diff(want, se); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			if !IsStatusError(err) {
				t.Error("IsStatusError = false")
			}
		})
	}
}

func TestInvalidJSONResponse(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	})

	_, err := c.GetRun(context.Background(), "r")
	var se StatusError
	require.ErrorAs(t, err, &se)
	if se.Code != "invalid_json_response" || se.StatusCode != 200 {
		t.Errorf("got %+v", se)
	}
}

func TestNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base, _ := url.Parse(ts.URL)
	ts.Close()

	c := NewClient(base, http.DefaultClient, "")
	_, err := c.GetRun(context.Background(), "r")
	var se StatusError
	require.ErrorAs(t, err, &se)
	if se.Code != "network_error" || se.StatusCode != 0 {
		t.Errorf("got %+v", se)
	}
}

func TestListRunArtifacts(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/experiments/experiment-runs/r1/artifacts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if q := r.URL.Query(); q.Get("kind") != "model" || q.Get("limit") != "1" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{"artifacts":[{"artifact_id":"a1","run_id":"r1","kind":"model","filename":"model.safetensors"}]}`))
	})

	got, err := c.ListRunArtifacts(context.Background(), "r1", "model", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	if got[0].ArtifactID != "a1" || got[0].Filename != "model.safetensors" {
		t.Errorf("got %+v", got[0])
	}
}

func TestUploadRunArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AB12.png")
	require.NoError(t, os.WriteFile(path, []byte("PNGDATA"), 0o644))

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/experiments/experiment-runs/r1/artifacts" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatal(err)
		}

		if r.FormValue("kind") != "preview" || r.FormValue("name") != "input" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}

		var meta map[string]any
		if err := json.Unmarshal([]byte(r.FormValue("metadata")), &meta); err != nil {
			t.Fatal(err)
		}
		if meta["label"] != "AB12" {
			t.Errorf("metadata = %v", meta)
		}

		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		if hdr.Filename != "AB12_input.png" || hdr.Header.Get("Content-Type") != "image/png" || string(body) != "PNGDATA" {
			t.Errorf("file part: %q %q %q", hdr.Filename, hdr.Header.Get("Content-Type"), body)
		}

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"artifact":{"artifact_id":"x9","run_id":"r1","kind":"preview"}}`))
	})

	art, err := c.UploadRunArtifact(context.Background(), "r1", ArtifactUpload{
		Kind:        "preview",
		Name:        "input",
		Path:        path,
		Filename:    "AB12_input.png",
		ContentType: "image/png",
		Metadata:    map[string]any{"label": "AB12"},
	})
	require.NoError(t, err)
	if art.ArtifactID != "x9" {
		t.Errorf("artifact = %+v", art)
	}
}

func TestUploadMissingFile(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.UploadRunArtifact(context.Background(), "r1", ArtifactUpload{Path: filepath.Join(t.TempDir(), "nope")})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v", err)
	}
}

func TestDownload(t *testing.T) {
	payload := []byte("zip bytes")
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/dataset-registry/dataset-versions/dv1/download",
			"/api/experiments/experiment-runs/r1/artifacts/a1/download":
			w.Header().Set("Content-Type", "application/zip")
			w.Write(payload)
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"not_found","request_id":"rid"}`))
		}
	})

	ctx := context.Background()
	dir := t.TempDir()
	sum := sha256.Sum256(payload)

	meta, err := c.DownloadDatasetVersion(ctx, "dv1", filepath.Join(dir, "ds", "dataset.zip"))
	require.NoError(t, err)
	if meta.Bytes != int64(len(payload)) || meta.SHA256 != hex.EncodeToString(sum[:]) || meta.ContentType != "application/zip" {
		t.Errorf("meta = %+v", meta)
	}
	data, err := os.ReadFile(meta.Path)
	require.NoError(t, err)
	if string(data) != string(payload) {
		t.Errorf("file = %q", data)
	}

	_, err = c.DownloadRunArtifact(ctx, "r1", "a1", filepath.Join(dir, "model.bin"))
	require.NoError(t, err)

	_, err = c.DownloadDatasetVersion(ctx, "missing", filepath.Join(dir, "x.zip"))
	var se StatusError
	require.ErrorAs(t, err, &se)
	if se.Code != "not_found" || se.RequestID != "rid" {
		t.Errorf("got %+v", se)
	}
}

func TestPostTelemetry(t *testing.T) {
	var paths []string
	var bodies []map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, body)
		w.WriteHeader(http.StatusCreated)
	})

	ctx := context.Background()
	require.NoError(t, c.PostRunEvent(ctx, "r1", RunEvent{Level: "info", Message: "hello"}))
	require.NoError(t, c.PostRunMetrics(ctx, "r1", RunMetrics{Step: 2, Metrics: map[string]float64{"loss": 0.5}}))

	want := []string{"/api/experiments/experiment-runs/r1/events", "/api/experiments/experiment-runs/r1/metrics"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
	if bodies[0]["message"] != "hello" || bodies[1]["step"] != float64(2) {
		t.Errorf("bodies = %v", bodies)
	}
}

func TestCreateExperimentAndRun(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/experiments/experiments":
			w.Write([]byte(`{"experiment_id":"e1","name":"plates"}`))
		case "/api/experiments/experiments/e1/runs":
			var req CreateRunRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatal(err)
			}
			if req.Status != "queued" {
				t.Errorf("status = %q", req.Status)
			}
			w.Write([]byte(`{"run_id":"r5","experiment_id":"e1","status":"queued"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	ctx := context.Background()
	exp, err := c.CreateExperiment(ctx, "plates", "", nil)
	require.NoError(t, err)
	run, err := c.CreateRun(ctx, exp.ExperimentID, CreateRunRequest{Status: "queued"})
	require.NoError(t, err)
	if run.RunID != "r5" {
		t.Errorf("run = %+v", run)
	}
}

func TestCIWebhookSignature(t *testing.T) {
	got := CIWebhookSignature("s3cret", "1700000000", "post", []byte(`{"event":"push"}`))
	if want := "OwKMOeTygaoBfUH9Ls-m2kp2Qe3qJIZ9dT-B2fGsVEI"; got != want {
		t.Errorf("signature = %q, want %q", got, want)
	}
}

func TestPostCIWebhook(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/experiments/ci/webhook" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		ts := r.Header.Get("X-Animus-CI-Ts")
		if ts != "1700000000" {
			t.Errorf("ts = %q", ts)
		}
		if sig := r.Header.Get("X-Animus-CI-Sig"); sig != CIWebhookSignature("s3cret", ts, r.Method, body) {
			t.Errorf("bad signature %q", sig)
		}
		w.Write([]byte(`{"ok":true}`))
	})

	resp, err := c.PostCIWebhook(context.Background(), "s3cret", time.Unix(1700000000, 0), map[string]any{"event": "push"})
	require.NoError(t, err)
	if resp["ok"] != true {
		t.Errorf("resp = %v", resp)
	}

	if _, err := c.PostCIWebhook(context.Background(), " ", time.Time{}, nil); err == nil {
		t.Error("expected error for empty secret")
	}
}
