package api

import (
	"fmt"
	"slices"
	"time"

	"github.com/raphaelgruber/casegraph/internal/models"
	"github.com/raphaelgruber/casegraph/internal/timeline"
)

// ErrorResponse is the body of every non-2xx response. Timeline validation
// failures carry their code and context unchanged.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// EventView is the wire form of a timeline event. Timestamps are rendered
// without a zone designator.
type EventView struct {
	ID        string   `json:"id"`
	TS        string   `json:"ts"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Citations []string `json:"citations"`

	EntityHighlights     []models.EntityHighlight    `json:"entity_highlights"`
	RelationTags         []models.RelationTag        `json:"relation_tags"`
	Confidence           *float64                    `json:"confidence,omitempty"`
	RiskScore            *float64                    `json:"risk_score,omitempty"`
	RiskBand             string                      `json:"risk_band,omitempty"`
	OutcomeProbabilities []models.OutcomeProbability `json:"outcome_probabilities"`
	RecommendedActions   []string                    `json:"recommended_actions"`
	MotionDeadline       *string                     `json:"motion_deadline,omitempty"`
}

// PageView is one page of a case timeline.
type PageView struct {
	Events     []EventView `json:"events"`
	NextCursor *string     `json:"next_cursor"`
	Limit      int         `json:"limit"`
	HasMore    bool        `json:"has_more"`
}

// EventInput is an authored event. Derived fields are not accepted.
type EventInput struct {
	ID        string   `json:"id"`
	TS        string   `json:"ts"`
	Title     string   `json:"title,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Citations []string `json:"citations,omitempty"`
}

// PutEventsRequest is the body of POST /cases/:case/timeline/events.
type PutEventsRequest struct {
	Events []EventInput `json:"events"`
}

// StartRunRequest is the body of POST /workflow/runs. An empty phase list
// runs the configured default plan.
type StartRunRequest struct {
	CaseID string   `json:"case_id"`
	Phases []string `json:"phases"`
}

// RetryRequest is the body of POST /workflow/runs/:run/retry. An empty
// phase selects the first failed phase.
type RetryRequest struct {
	Phase string `json:"phase"`
}

// EventsResponse is a slice of a run's event log. Next is the since value
// for the following read.
type EventsResponse struct {
	Events []models.RunEvent `json:"events"`
	Next   int               `json:"next"`
}

// RunsResponse lists the runs of one case, newest first.
type RunsResponse struct {
	Runs []*models.WorkflowRun `json:"runs"`
}

func eventView(ev models.TimelineEvent) EventView {
	v := EventView{
		ID:                   ev.ID,
		TS:                   timeline.FormatTimestamp(ev.TS),
		Title:                ev.Title,
		Summary:              ev.Summary,
		Citations:            nonNil(ev.Citations),
		EntityHighlights:     nonNil(ev.EntityHighlights),
		RelationTags:         nonNil(ev.RelationTags),
		Confidence:           ev.Confidence,
		RiskScore:            ev.RiskScore,
		RiskBand:             ev.RiskBand,
		OutcomeProbabilities: nonNil(ev.OutcomeProbabilities),
		RecommendedActions:   nonNil(ev.RecommendedActions),
	}
	if ev.MotionDeadline != nil {
		s := timeline.FormatTimestamp(*ev.MotionDeadline)
		v.MotionDeadline = &s
	}
	return v
}

func pageView(p timeline.Page) PageView {
	events := make([]EventView, len(p.Events))
	for i, ev := range p.Events {
		events[i] = eventView(ev)
	}
	return PageView{Events: events, NextCursor: p.NextCursor, Limit: p.Limit, HasMore: p.HasMore}
}

// toEvents parses authored inputs. Timestamp errors name the offending index.
func toEvents(inputs []EventInput) ([]models.TimelineEvent, error) {
	events := make([]models.TimelineEvent, len(inputs))
	for i, in := range inputs {
		var ts time.Time
		if in.TS != "" {
			parsed, err := timeline.ParseTimestamp(fmt.Sprintf("events[%d].ts", i), in.TS)
			if err != nil {
				return nil, err
			}
			ts = parsed
		}
		events[i] = models.TimelineEvent{
			ID:        in.ID,
			TS:        ts,
			Title:     in.Title,
			Summary:   in.Summary,
			Citations: slices.Clone(in.Citations),
		}
	}
	return events, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
