package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/psantana5/whisperq/pkg/models"
	"github.com/psantana5/whisperq/pkg/ratelimit"
	"github.com/psantana5/whisperq/pkg/tracing"
)

// Config holds remote queue client settings
type Config struct {
	Endpoint          string // e.g. https://api.runpod.ai/v2/<endpoint-id>
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64 // client-side limit shared by submit and poll, 0 = unlimited
	Burst             int
}

// Client is a stateless wrapper over the remote queue HTTP API
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewClient creates a new remote queue client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    ratelimit.NewLimiter(cfg.RequestsPerSecond, cfg.Burst),
	}
}

// addAuthHeader adds authentication header to request
func (c *Client) addAuthHeader(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	if c.endpoint == "" {
		return 0, nil, fmt.Errorf("remote queue endpoint is not configured")
	}
	if err := c.limiter.Wait(ctx, c.endpoint); err != nil {
		return 0, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addAuthHeader(req)
	tracing.InjectHTTPHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, data, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// Submit enqueues a transcription request and returns the remote job ID
func (c *Client) Submit(ctx context.Context, input models.TranscriptionRequest) (*SubmitResponse, error) {
	data, err := json.Marshal(map[string]interface{}{"input": input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	status, body, err := c.do(ctx, http.MethodPost, "/run", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{Op: "submit", StatusCode: status, Body: string(body)}
	}

	var out SubmitResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode submit response: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("submit response carried no job id: %s", strings.TrimSpace(string(body)))
	}
	out.HTTPStatus = status
	out.Body = body
	return &out, nil
}

// Status polls the remote queue for a job. The returned Poll is non-nil
// whenever an HTTP response was received, even if err is set.
func (c *Client) Status(ctx context.Context, remoteID string) (*Poll, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(remoteID), nil)
	if err != nil {
		if status == 0 {
			return nil, fmt.Errorf("failed to poll job: %w", err)
		}
		return &Poll{HTTPStatus: status, Body: body}, err
	}

	poll := &Poll{HTTPStatus: status, Body: body}
	if status < 200 || status >= 300 {
		return poll, &APIError{Op: "status", StatusCode: status, Body: string(body)}
	}

	var out StatusResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return poll, fmt.Errorf("failed to decode status response: %w", err)
	}
	poll.Response = &out
	return poll, nil
}
