// Package api serves the casegraph REST API: timeline queries and workflow
// run control, plus a websocket tail of run event logs.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/raphaelgruber/casegraph/internal/config"
	"github.com/raphaelgruber/casegraph/internal/metrics"
	"github.com/raphaelgruber/casegraph/internal/models"
	"github.com/raphaelgruber/casegraph/internal/scheduler"
	"github.com/raphaelgruber/casegraph/internal/timeline"
	"github.com/raphaelgruber/casegraph/internal/workflow"
)

// TimelineService is the timeline surface the API exposes.
type TimelineService interface {
	ListEvents(ctx context.Context, caseID string, q timeline.Query) (timeline.Page, error)
	RefreshEnrichments(ctx context.Context, caseID string) (timeline.Stats, error)
	Storyboard(ctx context.Context, caseID string) ([]models.StoryboardScene, error)
	PutEvents(ctx context.Context, caseID string, events []models.TimelineEvent) (timeline.Stats, error)
}

// WorkflowService controls workflow runs.
type WorkflowService interface {
	StartRun(ctx context.Context, caseID string, phases []string) (*models.WorkflowRun, error)
	GetRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error)
	ReadEvents(ctx context.Context, caseID, runID string, since int) ([]models.RunEvent, int, error)
	PauseRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error)
	ResumeRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error)
	StopRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error)
	RetryPhase(ctx context.Context, caseID, runID, phase string) (*models.WorkflowRun, error)
}

// RunHistory reads stored runs and phase outputs.
type RunHistory interface {
	ListCaseRuns(ctx context.Context, caseID string) ([]*models.WorkflowRun, error)
	GetPhaseRun(ctx context.Context, id string) (*models.PhaseRun, error)
}

// Deps holds the services behind the API. Timeline and Workflow are required.
type Deps struct {
	Timeline  TimelineService
	Workflow  WorkflowService
	History   RunHistory
	Collector *metrics.Collector
	Scheduler interface{ Status() scheduler.Status }
	Ping      func(ctx context.Context) error
	Logger    *slog.Logger

	// StreamPoll is how often the event stream re-reads the run log.
	StreamPoll time.Duration
}

type handler struct {
	Deps
}

// New builds the echo instance with all routes registered.
func New(deps Deps) *echo.Echo {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.StreamPoll <= 0 {
		deps.StreamPoll = 500 * time.Millisecond
	}
	h := &handler{Deps: deps}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = h.handleError

	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(config.ServiceName))
	e.Use(RequestLogger(deps.Logger))

	e.GET("/health", h.health)

	v1 := e.Group("/api/v1")
	v1.GET("/stats", h.stats)

	cases := v1.Group("/cases/:case")
	cases.GET("/timeline", h.listTimeline)
	cases.POST("/timeline/refresh", h.refreshTimeline)
	cases.GET("/timeline/storyboard", h.storyboard)
	cases.POST("/timeline/events", h.putEvents)
	cases.GET("/runs", h.listCaseRuns)

	runs := v1.Group("/workflow/runs")
	runs.POST("", h.startRun)
	runs.GET("/:run", h.getRun)
	runs.GET("/:run/events", h.readEvents)
	runs.GET("/:run/stream", h.streamEvents)
	runs.POST("/:run/pause", h.pauseRun)
	runs.POST("/:run/resume", h.resumeRun)
	runs.POST("/:run/stop", h.stopRun)
	runs.POST("/:run/retry", h.retryPhase)

	v1.GET("/workflow/phase-runs/:id", h.getPhaseRun)
	return e
}

func (h *handler) health(c echo.Context) error {
	if h.Ping != nil {
		if err := h.Ping(c.Request().Context()); err != nil {
			h.Logger.Warn("health check failed", "error", err)
			return c.String(http.StatusServiceUnavailable, "unavailable\n")
		}
	}
	return c.String(http.StatusOK, "ok\n")
}

// StatsResponse is the body of GET /api/v1/stats. Refresh is set when the
// enrichment refresh scheduler runs.
type StatsResponse struct {
	metrics.Snapshot
	Refresh *scheduler.Status `json:"refresh,omitempty"`
}

func (h *handler) stats(c echo.Context) error {
	var resp StatsResponse
	if h.Collector != nil {
		resp.Snapshot = h.Collector.Snapshot()
	}
	if h.Scheduler != nil {
		st := h.Scheduler.Status()
		resp.Refresh = &st
	}
	return c.JSON(http.StatusOK, resp)
}

// handleError maps service errors onto status codes and ErrorResponse bodies.
func (h *handler) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("unhandled error",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err)
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		h.Logger.Warn("write error response", "error", err)
	}
}

func classify(err error) (int, ErrorResponse) {
	var verr *timeline.ValidationError
	var herr *echo.HTTPError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorResponse{Code: verr.Code, Message: verr.Message, Context: verr.Context}
	case errors.As(err, &herr):
		return herr.Code, ErrorResponse{Code: httpCode(herr.Code), Message: fmt.Sprint(herr.Message)}
	case errors.Is(err, workflow.ErrRunNotFound):
		return http.StatusNotFound, ErrorResponse{Code: "RUN_NOT_FOUND", Message: err.Error()}
	case errors.Is(err, workflow.ErrUnknownPhase),
		errors.Is(err, workflow.ErrDuplicatePhase),
		errors.Is(err, workflow.ErrNoPhases),
		errors.Is(err, workflow.ErrCaseRequired):
		return http.StatusBadRequest, ErrorResponse{Code: "WORKFLOW_INVALID", Message: err.Error()}
	case errors.Is(err, workflow.ErrRunActive):
		return http.StatusConflict, ErrorResponse{Code: "RUN_ACTIVE", Message: err.Error()}
	case errors.Is(err, workflow.ErrRunnerClosed):
		return http.StatusServiceUnavailable, ErrorResponse{Code: "RUNNER_CLOSED", Message: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL", Message: "internal server error"}
	}
}

func httpCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusNotImplemented:
		return "NOT_IMPLEMENTED"
	default:
		return "HTTP_" + fmt.Sprint(status)
	}
}
