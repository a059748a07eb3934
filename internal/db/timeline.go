package db

import (
	"context"
	"time"

	"github.com/raphaelgruber/casegraph/internal/models"
	"github.com/raphaelgruber/casegraph/internal/timeline"
)

// timelineRow is the stored form of a timeline event. The record id is
// [case_id, event_id].
type timelineRow struct {
	CaseID               string                      `json:"case_id"`
	EventID              string                      `json:"event_id"`
	TS                   time.Time                   `json:"ts"`
	Title                string                      `json:"title"`
	Summary              string                      `json:"summary"`
	Citations            []string                    `json:"citations"`
	EntityHighlights     []models.EntityHighlight    `json:"entity_highlights"`
	RelationTags         []models.RelationTag        `json:"relation_tags"`
	Confidence           *float64                    `json:"confidence"`
	RiskScore            *float64                    `json:"risk_score"`
	RiskBand             string                      `json:"risk_band"`
	OutcomeProbabilities []models.OutcomeProbability `json:"outcome_probabilities"`
	RecommendedActions   []string                    `json:"recommended_actions"`
	MotionDeadline       *time.Time                  `json:"motion_deadline"`
}

func toTimelineRow(caseID string, ev models.TimelineEvent) timelineRow {
	return timelineRow{
		CaseID:               caseID,
		EventID:              ev.ID,
		TS:                   ev.TS.UTC(),
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
		MotionDeadline:       utcPtr(ev.MotionDeadline),
	}
}

// toModel restores naive timestamps: datetimes may decode in the local zone.
func (r timelineRow) toModel() models.TimelineEvent {
	return models.TimelineEvent{
		ID:                   r.EventID,
		TS:                   r.TS.UTC(),
		Title:                r.Title,
		Summary:              r.Summary,
		Citations:            nonNil(r.Citations),
		EntityHighlights:     nonNil(r.EntityHighlights),
		RelationTags:         nonNil(r.RelationTags),
		Confidence:           r.Confidence,
		RiskScore:            r.RiskScore,
		RiskBand:             r.RiskBand,
		OutcomeProbabilities: nonNil(r.OutcomeProbabilities),
		RecommendedActions:   nonNil(r.RecommendedActions),
		MotionDeadline:       utcPtr(r.MotionDeadline),
	}
}

// ReadAll returns the stored timeline of a case ordered by timestamp and id.
func (c *Client) ReadAll(ctx context.Context, caseID string) ([]models.TimelineEvent, error) {
	results, err := query[[]timelineRow](ctx, c, "read timeline", `
		SELECT * OMIT id FROM timeline_event WHERE case_id = $case ORDER BY ts, event_id
	`, map[string]any{"case": caseID})
	if err != nil {
		return nil, err
	}
	rows, _ := lastResult(results)

	events := make([]models.TimelineEvent, len(rows))
	for i, row := range rows {
		events[i] = row.toModel()
	}
	return events, nil
}

// WriteAll upserts the given events of a case. Events not passed are kept.
func (c *Client) WriteAll(ctx context.Context, caseID string, events []models.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]timelineRow, len(events))
	for i, ev := range events {
		rows[i] = toTimelineRow(caseID, ev)
	}

	_, err := query[any](ctx, c, "write timeline", `
		FOR $row IN $rows {
			UPSERT type::record("timeline_event", [$case, $row.event_id]) CONTENT $row;
		};
	`, map[string]any{"case": caseID, "rows": rows})
	return err
}

// ListCases returns the ids of cases that have timeline events.
func (c *Client) ListCases(ctx context.Context) ([]string, error) {
	type caseRow struct {
		CaseID string `json:"case_id"`
	}
	results, err := query[[]caseRow](ctx, c, "list cases", `
		SELECT case_id FROM timeline_event GROUP BY case_id ORDER BY case_id
	`, nil)
	if err != nil {
		return nil, err
	}
	rows, _ := lastResult(results)

	cases := make([]string, len(rows))
	for i, row := range rows {
		cases[i] = row.CaseID
	}
	return cases, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var (
	_ timeline.Store       = (*Client)(nil)
	_ timeline.GraphLookup = (*Client)(nil)
)
