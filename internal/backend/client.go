package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ErrTransport wraps every failure to obtain a decodable reply: connection
// errors, timeouts, non-2xx statuses and unreadable bodies.
var ErrTransport = errors.New("backend transport failure")

// maxResponseSize caps the reply body read from the backend (1MB).
const maxResponseSize = 1 << 20

// levelTrace matches the trace level configured by the CLI.
const levelTrace = slog.Level(-8)

// StatusError reports a non-2xx HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned HTTP %d", e.StatusCode)
}

// Unwrap makes StatusError match ErrTransport.
func (e *StatusError) Unwrap() error {
	return ErrTransport
}

// Client sends one request and returns the decoded reply.
type Client interface {
	Chat(ctx context.Context, req Request) (*ChatResponse, error)
}

// HTTPClientConfig holds configuration for the HTTP client.
type HTTPClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultHTTPClientConfig returns default configuration.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		BaseURL: "http://localhost:8000/",
		Timeout: 30 * time.Second,
	}
}

// HTTPClient posts requests to the backend's chat endpoint.
type HTTPClient struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the backend at cfg.BaseURL.
func NewHTTPClient(cfg HTTPClientConfig, logger *slog.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultHTTPClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	endpoint, err := url.JoinPath(cfg.BaseURL, "chat")
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL %q: %w", cfg.BaseURL, err)
	}

	return &HTTPClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}, nil
}

// Endpoint returns the URL requests are posted to.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

// Chat posts req and decodes the reply. Every error wraps ErrTransport.
func (c *HTTPClient) Chat(ctx context.Context, req Request) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrTransport, err)
	}
	c.logger.Log(ctx, levelTrace, "backend request", "endpoint", c.endpoint, "body", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close backend response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}
	c.logger.Log(ctx, levelTrace, "backend response", "status", httpResp.StatusCode, "body", string(data))

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: string(data)}
	}

	resp, err := DecodeResponse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	c.logger.Debug("backend reply received",
		"type", resp.Type,
		"results", len(resp.Results),
		"legacy", resp.Legacy,
		"duration", time.Since(start))
	return resp, nil
}
