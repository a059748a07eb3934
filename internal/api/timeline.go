package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/raphaelgruber/casegraph/internal/timeline"
)

// GET /api/v1/cases/:case/timeline
func (h *handler) listTimeline(c echo.Context) error {
	q, err := timelineQuery(c)
	if err != nil {
		return err
	}
	page, err := h.Timeline.ListEvents(c.Request().Context(), c.Param("case"), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pageView(page))
}

// POST /api/v1/cases/:case/timeline/refresh
func (h *handler) refreshTimeline(c echo.Context) error {
	stats, err := h.Timeline.RefreshEnrichments(c.Request().Context(), c.Param("case"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// GET /api/v1/cases/:case/timeline/storyboard
func (h *handler) storyboard(c echo.Context) error {
	scenes, err := h.Timeline.Storyboard(c.Request().Context(), c.Param("case"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"scenes": nonNil(scenes)})
}

// POST /api/v1/cases/:case/timeline/events
func (h *handler) putEvents(c echo.Context) error {
	var req PutEventsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Events) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "events are required")
	}
	events, err := toEvents(req.Events)
	if err != nil {
		return err
	}
	stats, err := h.Timeline.PutEvents(c.Request().Context(), c.Param("case"), events)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// timelineQuery reads the query string. A missing limit means DefaultLimit;
// every other missing parameter means no filter.
func timelineQuery(c echo.Context) (timeline.Query, error) {
	q := timeline.Query{
		Cursor:   c.QueryParam("cursor"),
		Limit:    timeline.DefaultLimit,
		Entity:   c.QueryParam("entity"),
		RiskBand: c.QueryParam("risk_band"),
	}
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, &timeline.ValidationError{
				Code:    timeline.CodeLimitInvalid,
				Message: "limit must be an integer",
				Context: map[string]any{"limit": s},
			}
		}
		q.Limit = n
	}

	params := []struct {
		name string
		dst  **time.Time
	}{
		{"from_ts", &q.FromTS},
		{"to_ts", &q.ToTS},
		{"motion_due_before", &q.MotionDueBefore},
		{"motion_due_after", &q.MotionDueAfter},
	}
	for _, p := range params {
		s := c.QueryParam(p.name)
		if s == "" {
			continue
		}
		t, err := timeline.ParseTimestamp(p.name, s)
		if err != nil {
			return q, err
		}
		*p.dst = &t
	}
	return q, nil
}
