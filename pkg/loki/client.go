// Package loki pkg/loki/client.go is the HTTP client for the Loki backend's
// readiness, deletion, and compaction endpoints.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	healthTimeout  = 10 * time.Second
	cleanupTimeout = 30 * time.Second

	// Retention band targeted by each cleanup. The 3-day lower bound keeps a
	// safety buffer so recent logs are never deleted.
	retentionStart = 7 * 24 * time.Hour
	retentionEnd   = 3 * 24 * time.Hour

	maxErrorBodyBytes = 4096
)

// Window returns the retention band [now-7d, now-3d] in UTC.
func Window(now time.Time) (start, end time.Time) {
	now = now.UTC()
	return now.Add(-retentionStart), now.Add(-retentionEnd)
}

type deleteRequest struct {
	Query string `json:"query"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Client talks to a single Loki backend over HTTP.
type Client struct {
	baseURL  string
	query    string
	client   *http.Client
	recorder CleanupRecorder
	now      func() time.Time
}

// NewClient creates a Client for the backend at baseURL. Delete requests are
// scoped to query; cleanup outcomes are reported through recorder.
func NewClient(baseURL, query string, recorder CleanupRecorder) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		query:    query,
		client:   &http.Client{},
		recorder: recorder,
		now:      time.Now,
	}
}

// IsHealthy probes the backend's readiness endpoint. Any network error,
// timeout, or non-200 status yields false.
func (c *Client) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", http.NoBody)
	if err != nil {
		log.Printf("Failed to build health check request: %v", err)
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("Loki health check failed: %v", err)
		return false
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("Loki health check returned status %d", resp.StatusCode)
		return false
	}

	return true
}

// RunCleanup issues a delete request for the retention band and, on success,
// best-effort triggers compaction. Returns true only if the delete request
// was accepted. All failures are contained here and surfaced via counters
// and logs.
func (c *Client) RunCleanup(ctx context.Context) bool {
	if !c.IsHealthy(ctx) {
		log.Printf("Skipping cleanup: %v", ErrBackendUnhealthy)
		return false
	}

	start, end := Window(c.now())

	log.Printf("Triggering cleanup for period: %s to %s", start.Format(time.RFC3339), end.Format(time.RFC3339))

	if err := c.deleteRange(ctx, start, end); err != nil {
		log.Printf("Cleanup failed: %v", err)
		c.recorder.IncCleanupErrors()

		return false
	}

	c.recorder.IncCleanupOperations()

	// Compaction is an optimization, not a correctness requirement. Its
	// result is logged and deliberately discarded.
	if err := c.triggerCompaction(ctx); err != nil {
		log.Printf("Compaction trigger failed: %v", err)
	}

	return true
}

func (c *Client) deleteRange(ctx context.Context, start, end time.Time) error {
	payload := deleteRequest{
		Query: c.query,
		Start: start.Format("2006-01-02T15:04:05Z"),
		End:   end.Format("2006-01-02T15:04:05Z"),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", errBuildRequest, err)
	}

	ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/delete", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", errBuildRequest, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errRequest, err)
	}
	defer closeBody(resp.Body)

	if !isAcceptableStatus(resp.StatusCode) {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("%w: %d - %s", ErrUnacceptableStatus, resp.StatusCode, string(detail))
	}

	log.Printf("Cleanup API response: %d", resp.StatusCode)

	return nil
}

func (c *Client) triggerCompaction(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/compactor/ring", http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: %w", errBuildRequest, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errRequest, err)
	}
	defer closeBody(resp.Body)

	// Any response counts; the compactor may legitimately reject the nudge.
	log.Printf("Compaction triggered: %d", resp.StatusCode)

	return nil
}

// isAcceptableStatus reports whether a delete response counts as success.
// 200, 202, and 204 cover the synchronous-complete, accepted-async, and
// no-content variants backends use.
func isAcceptableStatus(code int) bool {
	switch code {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return true
	default:
		return false
	}
}

func closeBody(body io.Closer) {
	if err := body.Close(); err != nil {
		log.Printf("Failed to close response body: %v", err)
	}
}
