package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/raphaelgruber/casegraph/internal/models"
)

// POST /api/v1/workflow/runs
func (h *handler) startRun(c echo.Context) error {
	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	run, err := h.Workflow.StartRun(c.Request().Context(), req.CaseID, req.Phases)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, run)
}

// GET /api/v1/workflow/runs/:run?case_id=
func (h *handler) getRun(c echo.Context) error {
	caseID, err := caseParam(c)
	if err != nil {
		return err
	}
	run, err := h.Workflow.GetRun(c.Request().Context(), caseID, c.Param("run"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// GET /api/v1/workflow/runs/:run/events?case_id=&since=
func (h *handler) readEvents(c echo.Context) error {
	caseID, err := caseParam(c)
	if err != nil {
		return err
	}
	since, err := sinceParam(c)
	if err != nil {
		return err
	}
	events, next, err := h.Workflow.ReadEvents(c.Request().Context(), caseID, c.Param("run"), since)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, EventsResponse{Events: nonNil(events), Next: next})
}

type controlFunc func(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error)

func (h *handler) control(fn controlFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		caseID, err := caseParam(c)
		if err != nil {
			return err
		}
		run, err := fn(c.Request().Context(), caseID, c.Param("run"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, run)
	}
}

// POST /api/v1/workflow/runs/:run/pause?case_id=
func (h *handler) pauseRun(c echo.Context) error { return h.control(h.Workflow.PauseRun)(c) }

// POST /api/v1/workflow/runs/:run/resume?case_id=
func (h *handler) resumeRun(c echo.Context) error { return h.control(h.Workflow.ResumeRun)(c) }

// POST /api/v1/workflow/runs/:run/stop?case_id=
func (h *handler) stopRun(c echo.Context) error { return h.control(h.Workflow.StopRun)(c) }

// POST /api/v1/workflow/runs/:run/retry?case_id=
//
// An empty phase retries the first failed phase.
func (h *handler) retryPhase(c echo.Context) error {
	caseID, err := caseParam(c)
	if err != nil {
		return err
	}
	var req RetryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	run, err := h.Workflow.RetryPhase(c.Request().Context(), caseID, c.Param("run"), req.Phase)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// GET /api/v1/cases/:case/runs
func (h *handler) listCaseRuns(c echo.Context) error {
	if h.History == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "run history is not available")
	}
	runs, err := h.History.ListCaseRuns(c.Request().Context(), c.Param("case"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RunsResponse{Runs: nonNil(runs)})
}

// GET /api/v1/workflow/phase-runs/:id
func (h *handler) getPhaseRun(c echo.Context) error {
	if h.History == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "run history is not available")
	}
	pr, err := h.History.GetPhaseRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pr)
}

func caseParam(c echo.Context) (string, error) {
	caseID := c.QueryParam("case_id")
	if caseID == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "case_id is required")
	}
	return caseID, nil
}

func sinceParam(c echo.Context) (int, error) {
	s := c.QueryParam("since")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "since must be a non-negative integer")
	}
	return n, nil
}
