// Package client provides a REST client for the casegraph server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/casegraph/internal/api"
	"github.com/raphaelgruber/casegraph/internal/models"
	"github.com/raphaelgruber/casegraph/internal/timeline"
)

// Client is a REST client for the casegraph server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses CASEGRAPH_URL env var or defaults to localhost:8484.
// Timeout can be configured via CASEGRAPH_CLIENT_TIMEOUT env var (default 2m).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("CASEGRAPH_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 2 * time.Minute // refresh re-enriches the whole timeline
	if t := os.Getenv("CASEGRAPH_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx response. Code and Context come from the server's
// error body when it sent one.
type APIError struct {
	Status  int
	Code    string
	Message string
	Context map[string]any
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server error: %d - %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server error: %d %s - %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// do sends a JSON request and decodes a JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var errBody api.ErrorResponse
		if json.Unmarshal(respBody, &errBody) == nil && errBody.Code != "" {
			apiErr.Code = errBody.Code
			apiErr.Message = errBody.Message
			apiErr.Context = errBody.Context
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func casePath(caseID, suffix string) string {
	return "/api/v1/cases/" + url.PathEscape(caseID) + suffix
}

func runPath(runID, suffix string) string {
	return "/api/v1/workflow/runs/" + url.PathEscape(runID) + suffix
}

func caseQuery(caseID string) url.Values {
	return url.Values{"case_id": {caseID}}
}

// =============================================================================
// TIMELINE
// =============================================================================

// TimelineOptions are the filters of a timeline page request. Timestamps are
// zone-less ISO-8601 strings; empty values mean no filter.
type TimelineOptions struct {
	Cursor          string
	Limit           int
	FromTS          string
	ToTS            string
	Entity          string
	RiskBand        string
	MotionDueBefore string
	MotionDueAfter  string
}

func (o TimelineOptions) values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set("cursor", o.Cursor)
	set("from_ts", o.FromTS)
	set("to_ts", o.ToTS)
	set("entity", o.Entity)
	set("risk_band", o.RiskBand)
	set("motion_due_before", o.MotionDueBefore)
	set("motion_due_after", o.MotionDueAfter)
	if o.Limit != 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	return v
}

// ListTimeline returns one page of the enriched case timeline.
func (c *Client) ListTimeline(ctx context.Context, caseID string, opts TimelineOptions) (*api.PageView, error) {
	var page api.PageView
	if err := c.do(ctx, http.MethodGet, casePath(caseID, "/timeline"), opts.values(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// RefreshTimeline re-enriches the case timeline.
func (c *Client) RefreshTimeline(ctx context.Context, caseID string) (*timeline.Stats, error) {
	var stats timeline.Stats
	if err := c.do(ctx, http.MethodPost, casePath(caseID, "/timeline/refresh"), nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Storyboard returns one narrative scene per timeline event.
func (c *Client) Storyboard(ctx context.Context, caseID string) ([]models.StoryboardScene, error) {
	var resp struct {
		Scenes []models.StoryboardScene `json:"scenes"`
	}
	if err := c.do(ctx, http.MethodGet, casePath(caseID, "/timeline/storyboard"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Scenes, nil
}

// PutEvents stores authored events and returns the resulting enrichment stats.
func (c *Client) PutEvents(ctx context.Context, caseID string, events []api.EventInput) (*timeline.Stats, error) {
	var stats timeline.Stats
	body := api.PutEventsRequest{Events: events}
	if err := c.do(ctx, http.MethodPost, casePath(caseID, "/timeline/events"), nil, body, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// =============================================================================
// WORKFLOW RUNS
// =============================================================================

// StartRun starts a workflow run. Nil phases select the server's default plan.
func (c *Client) StartRun(ctx context.Context, caseID string, phases []string) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	body := api.StartRunRequest{CaseID: caseID, Phases: phases}
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflow/runs", nil, body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun returns the current state of a run.
func (c *Client) GetRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	if err := c.do(ctx, http.MethodGet, runPath(runID, ""), caseQuery(caseID), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RunEvents reads the run event log from since.
func (c *Client) RunEvents(ctx context.Context, caseID, runID string, since int) (*api.EventsResponse, error) {
	q := caseQuery(caseID)
	q.Set("since", strconv.Itoa(since))
	var resp api.EventsResponse
	if err := c.do(ctx, http.MethodGet, runPath(runID, "/events"), q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) control(ctx context.Context, action, caseID, runID string, body any) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	if err := c.do(ctx, http.MethodPost, runPath(runID, "/"+action), caseQuery(caseID), body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// PauseRun asks the run to park at the next phase boundary.
func (c *Client) PauseRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error) {
	return c.control(ctx, "pause", caseID, runID, nil)
}

// ResumeRun continues a paused run.
func (c *Client) ResumeRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error) {
	return c.control(ctx, "resume", caseID, runID, nil)
}

// StopRun asks the run to stop at the next phase boundary.
func (c *Client) StopRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error) {
	return c.control(ctx, "stop", caseID, runID, nil)
}

// RetryPhase re-queues phase and every phase after it. An empty phase
// retries the first failed phase.
func (c *Client) RetryPhase(ctx context.Context, caseID, runID, phase string) (*models.WorkflowRun, error) {
	return c.control(ctx, "retry", caseID, runID, api.RetryRequest{Phase: phase})
}

// ListRuns returns the runs of a case, newest first.
func (c *Client) ListRuns(ctx context.Context, caseID string) ([]*models.WorkflowRun, error) {
	var resp api.RunsResponse
	if err := c.do(ctx, http.MethodGet, casePath(caseID, "/runs"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// PhaseRun returns the stored output of one phase execution.
func (c *Client) PhaseRun(ctx context.Context, id string) (*models.PhaseRun, error) {
	var pr models.PhaseRun
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflow/phase-runs/"+url.PathEscape(id), nil, nil, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// =============================================================================
// SERVER
// =============================================================================

// Stats returns server runtime statistics.
func (c *Client) Stats(ctx context.Context) (*api.StatsResponse, error) {
	var stats api.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Health checks that the server and its database are reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// =============================================================================
// STREAMING
// =============================================================================

// StreamRun tails the run event log from since over a websocket. onEvent is
// invoked for each entry; return an error from onEvent to abort. It returns
// the terminal run status once the server ends the stream.
func (c *Client) StreamRun(
	ctx context.Context,
	caseID, runID string,
	since int,
	onEvent func(models.RunEvent) error,
) (models.RunStatus, error) {
	wsBase := c.baseURL
	wsBase = strings.Replace(wsBase, "http://", "ws://", 1)
	wsBase = strings.Replace(wsBase, "https://", "wss://", 1)

	q := caseQuery(caseID)
	q.Set("since", strconv.Itoa(since))
	u, err := url.Parse(wsBase + runPath(runID, "/stream") + "?" + q.Encode())
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
			var errBody api.ErrorResponse
			if json.Unmarshal(body, &errBody) == nil && errBody.Code != "" {
				apiErr.Code = errBody.Code
				apiErr.Message = errBody.Message
			}
			return "", apiErr
		}
		return "", fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var msg api.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("read message: %w", err)
		}

		switch msg.Type {
		case api.StreamEvent:
			if msg.Event == nil {
				continue
			}
			if err := onEvent(*msg.Event); err != nil {
				return "", err
			}
		case api.StreamEnd:
			return msg.Status, nil
		case api.StreamError:
			return "", fmt.Errorf("stream error: %s", msg.Error)
		default:
			// Ignore unknown message types
			continue
		}
	}
}
