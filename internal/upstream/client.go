// Package upstream invokes the external inference endpoints. The endpoints
// answer a {code, msg, data} envelope; code zero means the inference
// produced a usable result.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/iepose/aigcd/internal/domain"
)

// Result is the inference server's response envelope. Raw preserves the
// exact body so it can be stored on the job verbatim.
type Result struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`

	Raw []byte `json:"-"`
}

// Client posts inference requests. The HTTP client carries no timeout of its
// own: the inference servers legitimately run for many minutes, and the
// dispatcher bounds each call with its watchdog context instead.
type Client struct {
	httpClient *http.Client
}

// NewClient creates an upstream client. httpClient may be nil.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient}
}

// Invoke posts the stored request body to url and decodes the envelope.
// Transport and HTTP-status failures map to domain.ErrUpstreamUnavailable,
// undecodable bodies to domain.ErrUpstreamInvalidResponse. An envelope with
// a non-zero code is returned without error; the caller decides.
func (c *Client) Invoke(ctx context.Context, url string, request []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(request))
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return nil, fmt.Errorf("%w: content type %q", domain.ErrUpstreamInvalidResponse, ct)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrUpstreamUnavailable, err)
	}

	result := &Result{Raw: buf.Bytes()}
	if err := json.Unmarshal(result.Raw, result); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamInvalidResponse, err)
	}
	return result, nil
}

// Envelope codes written into job responses by this service itself.
const (
	CodeOK            = 0
	CodeDispatchError = 1
	CodeCanceled      = 20
)

// ErrorBody builds a response envelope for failures generated on this side
// of the inference call.
func ErrorBody(code int, msg string) []byte {
	body, _ := json.Marshal(Result{Code: code, Msg: msg})
	return body
}
