package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CIWebhookSignature signs a CI webhook body. The signed message is
// "<ts>\n<METHOD>\n<hex sha256 of body>" and the result is unpadded base64url.
func CIWebhookSignature(secret, ts, method string, body []byte) string {
	sum := sha256.Sum256(body)
	msg := strings.Join([]string{
		strings.TrimSpace(ts),
		strings.ToUpper(strings.TrimSpace(method)),
		hex.EncodeToString(sum[:]),
	}, "\n")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// PostCIWebhook sends payload to the CI webhook endpoint signed with secret.
// A zero ts uses the current time.
func (c *Client) PostCIWebhook(ctx context.Context, secret string, ts time.Time, payload any) (map[string]any, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("ci webhook secret is required")
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	stamp := strconv.FormatInt(ts.Unix(), 10)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	request, err := c.newRequest(ctx, http.MethodPost, experimentsPrefix+"/ci/webhook", nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("X-Animus-CI-Ts", stamp)
	request.Header.Set("X-Animus-CI-Sig", CIWebhookSignature(secret, stamp, http.MethodPost, body))

	var resp map[string]any
	if err := c.roundTrip(request, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
