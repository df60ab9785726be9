// Package api implements the client for the run-tracking and dataset-registry
// services a training job reports to.
//
// The methods of [Client] correspond to the REST endpoints under
// /api/experiments and /api/dataset-registry on the gateway.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/animus/plateocr/envconfig"
	"github.com/animus/plateocr/version"
)

// Client encapsulates client state for interacting with the gateway.
// Use [ClientFromConfig] to create new Clients.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

func checkError(resp *http.Response, body []byte) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}

	apiError := StatusError{StatusCode: resp.StatusCode, Code: "request_failed"}

	var payload struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			apiError.Code = payload.Error
		}
		apiError.RequestID = payload.RequestID
	}
	if len(body) > 0 {
		apiError.Body = string(body)
	}
	if apiError.RequestID == "" {
		apiError.RequestID = resp.Request.Header.Get("X-Request-Id")
	}

	return apiError
}

// ClientFromConfig creates a new [Client] for the gateway at DATAPILOT_URL
// authenticated with TOKEN.
func ClientFromConfig(cfg envconfig.Config) (*Client, error) {
	if cfg.DatapilotURL == nil {
		return nil, &envconfig.ConfigError{Key: "DATAPILOT_URL", Reason: "missing required"}
	}

	return &Client{
		base:  cfg.DatapilotURL,
		http:  &http.Client{Timeout: cfg.HTTPTimeout},
		token: cfg.Token,
	}, nil
}

func NewClient(base *url.URL, http *http.Client, token string) *Client {
	return &Client{
		base:  base,
		http:  http,
		token: token,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	requestURL := c.base.JoinPath(path)
	if len(query) > 0 {
		requestURL.RawQuery = query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL.String(), body)
	if err != nil {
		return nil, err
	}

	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", fmt.Sprintf("plateocr/%s (%s %s) Go/%s", version.Version, runtime.GOARCH, runtime.GOOS, runtime.Version()))
	request.Header.Set("X-Request-Id", strings.ReplaceAll(uuid.NewString(), "-", ""))
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	return request, nil
}

// send performs request.
// Transport failures are reported as a StatusError with code network_error.
func (c *Client) send(request *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(request)
	if err != nil {
		if ctxErr := request.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, StatusError{
			Code:      "network_error",
			RequestID: request.Header.Get("X-Request-Id"),
			Body:      err.Error(),
		}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, reqData, respData any) error {
	var reqBody io.Reader
	var contentType string

	switch reqData := reqData.(type) {
	case nil:
		// noop
	case io.Reader:
		reqBody = reqData
	default:
		data, err := json.Marshal(reqData)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
		contentType = "application/json"
	}

	request, err := c.newRequest(ctx, method, path, query, reqBody)
	if err != nil {
		return err
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}

	return c.roundTrip(request, respData)
}

func (c *Client) roundTrip(request *http.Request, respData any) error {
	respObj, err := c.send(request)
	if err != nil {
		return err
	}
	defer respObj.Body.Close()

	respBody, err := io.ReadAll(respObj.Body)
	if err != nil {
		return err
	}

	if err := checkError(respObj, respBody); err != nil {
		return err
	}

	if len(respBody) > 0 && respData != nil {
		if err := json.Unmarshal(respBody, respData); err != nil {
			return StatusError{
				StatusCode: respObj.StatusCode,
				Code:       "invalid_json_response",
				RequestID:  request.Header.Get("X-Request-Id"),
			}
		}
	}
	return nil
}

// IsStatusError reports whether err came from the gateway or the transport.
func IsStatusError(err error) bool {
	var statusError StatusError
	return errors.As(err, &statusError)
}
