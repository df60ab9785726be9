package api

import (
	"context"
	"net/http"

	"github.com/animus/plateocr/envconfig"
)

// Predict sends encoded images to the inference server.
func (c *Client) Predict(ctx context.Context, req *PredictRequest) (*PredictResponse, error) {
	var resp PredictResponse
	if err := c.do(ctx, http.MethodPost, "/api/predict", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Show describes the model the inference server has loaded.
func (c *Client) Show(ctx context.Context) (*ShowResponse, error) {
	var resp ShowResponse
	if err := c.do(ctx, http.MethodGet, "/api/show", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Version returns the version of the inference server.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, nil, &version); err != nil {
		return "", err
	}
	return version.Version, nil
}

// ServerClient returns a client for the inference server at PLATEOCR_HOST.
func ServerClient(cfg envconfig.Config) *Client {
	return NewClient(cfg.Host, &http.Client{Timeout: cfg.HTTPTimeout}, "")
}
