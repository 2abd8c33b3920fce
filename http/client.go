// Package http provides the JSON transport used by the IVXP client SDK, with
// coded error classification so callers can tell retryable transport faults
// from protocol rejections.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	ivxp "github.com/ivxp/ivxp-go"
)

// DefaultTimeout bounds a single request round trip.
const DefaultTimeout = 30 * time.Second

// JSONClient is a thin JSON request/response transport.
type JSONClient struct {
	httpClient *http.Client
}

// Option configures the client.
type Option func(*JSONClient)

// WithHTTPClient substitutes the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *JSONClient) {
		c.httpClient = hc
	}
}

// NewJSONClient creates a transport with the default timeout.
func NewJSONClient(opts ...Option) *JSONClient {
	c := &JSONClient{
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response is a decoded-enough reply: raw body plus HTTP status. Callers
// schema-validate Body at the wire boundary.
type Response struct {
	StatusCode int
	Body       []byte
}

// Get performs a GET and classifies failures.
func (c *JSONClient) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil)
}

// Post marshals body as JSON and performs a POST.
func (c *JSONClient) Post(ctx context.Context, rawURL string, body interface{}) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, ivxp.WrapError(ivxp.ErrCodeInvalidRequestParams, "failed to encode request body", err)
	}
	return c.do(ctx, http.MethodPost, rawURL, payload)
}

func (c *JSONClient) do(ctx context.Context, method, rawURL string, body []byte) (*Response, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, ivxp.WrapError(ivxp.ErrCodeInvalidProviderURL, fmt.Sprintf("invalid URL %q", rawURL), err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, ivxp.WrapError(ivxp.ErrCodeInvalidRequestParams, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ivxp.WrapError(ivxp.ErrCodeCancelled, "request cancelled", ctx.Err())
		}
		return nil, &ivxp.ProtocolError{
			Code:        ivxp.ErrCodeNetworkError,
			Message:     "request failed to reach provider",
			Recoverable: true,
			Cause:       err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ivxp.WrapError(ivxp.ErrCodeInvalidResponse, "failed to read response body", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

// DecodeJSON unmarshals a response body, classifying malformed bodies.
func DecodeJSON(resp *Response, out interface{}) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return ivxp.WrapError(ivxp.ErrCodeInvalidResponse, "response is not valid JSON", err)
	}
	return nil
}

// ClassifyStatus converts a non-2xx reply into a coded error: 5xx means the
// provider is unavailable (retryable); everything else is a request failure
// carrying the status and the provider's sanitized error message.
func ClassifyStatus(resp *Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	message := http.StatusText(resp.StatusCode)
	var errBody struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(resp.Body, &errBody) == nil && errBody.Error != "" {
		message = errBody.Error
	}

	if resp.StatusCode >= 500 {
		return (&ivxp.ProtocolError{
			Code:        ivxp.ErrCodeProviderUnavailable,
			Message:     message,
			Recoverable: true,
		}).WithDetail("status", resp.StatusCode)
	}

	// A coded rejection from the provider keeps its own code; retrying those
	// will not help. Uncoded 4xx stays a generic retryable request failure.
	code := ivxp.ErrCodeRequestFailed
	recoverable := true
	if errBody.Code != "" {
		code = errBody.Code
		recoverable = false
	}
	return (&ivxp.ProtocolError{
		Code:        code,
		Message:     message,
		Recoverable: recoverable,
	}).WithDetail("status", resp.StatusCode)
}

// StatusOf extracts the HTTP status recorded on a classified error, or 0.
func StatusOf(err error) int {
	pe, ok := err.(*ivxp.ProtocolError)
	if !ok || pe.Details == nil {
		return 0
	}
	if status, ok := pe.Details["status"].(int); ok {
		return status
	}
	return 0
}
