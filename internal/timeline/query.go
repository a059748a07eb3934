package timeline

import (
	"encoding/base64"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/casegraph/internal/models"
)

// Page size bounds.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

const cursorLayout = "2006-01-02T15:04:05.999999999"

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Query selects a page of a case timeline. Zero values mean "no filter".
type Query struct {
	Cursor          string
	Limit           int
	FromTS          *time.Time
	ToTS            *time.Time
	Entity          string
	RiskBand        string
	MotionDueBefore *time.Time
	MotionDueAfter  *time.Time
}

// Page is one page of filtered timeline events.
type Page struct {
	Events     []models.TimelineEvent `json:"events"`
	NextCursor *string                `json:"next_cursor"`
	Limit      int                    `json:"limit"`
	HasMore    bool                   `json:"has_more"`
}

type cursorPos struct {
	ts time.Time
	id string
}

// validated is a Query that passed validation.
type validated struct {
	Query
	band   string
	cursor *cursorPos
}

func (q Query) validate() (validated, error) {
	v := validated{Query: q}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return v, invalid(CodeLimitInvalid, "limit must be between 1 and 100", map[string]any{"limit": q.Limit})
	}
	bounds := []struct {
		label string
		ts    *time.Time
	}{
		{"from_ts", q.FromTS},
		{"to_ts", q.ToTS},
		{"motion_due_before", q.MotionDueBefore},
		{"motion_due_after", q.MotionDueAfter},
	}
	for _, b := range bounds {
		if b.ts != nil && !IsNaive(*b.ts) {
			return v, invalid(CodeTimezoneAware, b.label+" must be timezone-naive", map[string]any{"label": b.label})
		}
	}
	if q.FromTS != nil && q.ToTS != nil && q.FromTS.After(*q.ToTS) {
		return v, invalid(CodeInvalidRange, "from_ts must be earlier than to_ts", map[string]any{
			"from_ts": q.FromTS.Format(cursorLayout),
			"to_ts":   q.ToTS.Format(cursorLayout),
		})
	}
	if q.RiskBand != "" {
		v.band = strings.ToLower(q.RiskBand)
		switch v.band {
		case models.RiskBandLow, models.RiskBandMedium, models.RiskBandHigh:
		default:
			return v, invalid(CodeRiskBandInvalid, "unsupported risk band", map[string]any{"risk_band": q.RiskBand})
		}
	}
	if q.Cursor != "" {
		pos, err := decodeCursor(q.Cursor)
		if err != nil {
			return v, err
		}
		v.cursor = &pos
	}
	return v, nil
}

func (q validated) hasFilters() bool {
	return q.Entity != "" || q.FromTS != nil || q.ToTS != nil || q.band != "" ||
		q.MotionDueBefore != nil || q.MotionDueAfter != nil
}

// IsNaive reports whether t carries no zone, i.e. sits in the UTC location.
func IsNaive(t time.Time) bool {
	return t.Location() == time.UTC
}

// FormatTimestamp renders t without a zone designator.
func FormatTimestamp(t time.Time) string {
	return t.Format(cursorLayout)
}

// ParseTimestamp parses a zone-less ISO-8601 timestamp. Strings carrying a
// zone designator are rejected with CodeTimezoneAware.
func ParseTimestamp(label, s string) (time.Time, error) {
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if _, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return time.Time{}, invalid(CodeTimezoneAware, label+" must be timezone-naive", map[string]any{"label": label})
	}
	return time.Time{}, invalid(CodeTimestampInvalid, label+" is not a valid timestamp", map[string]any{"label": label, "value": s})
}

func filterByTime(events []models.TimelineEvent, from, to *time.Time) []models.TimelineEvent {
	if from == nil && to == nil {
		return events
	}
	return slices.DeleteFunc(slices.Clone(events), func(ev models.TimelineEvent) bool {
		return (from != nil && ev.TS.Before(*from)) || (to != nil && ev.TS.After(*to))
	})
}

// matchHighlights keeps events highlighting the entity by normalized id or by
// a case-insensitive label substring.
func matchHighlights(events []models.TimelineEvent, entity string) []models.TimelineEvent {
	targetID := models.NormalizeEntityID(entity)
	targetLabel := strings.ToLower(entity)
	var out []models.TimelineEvent
	for _, ev := range events {
		if slices.ContainsFunc(ev.EntityHighlights, func(h models.EntityHighlight) bool {
			return h.ID == targetID || strings.Contains(strings.ToLower(h.Label), targetLabel)
		}) {
			out = append(out, ev)
		}
	}
	return out
}

// matchDocuments keeps events citing a document whose graph entities match.
func matchDocuments(events []models.TimelineEvent, entity string, mapping map[string][]models.GraphEntity) []models.TimelineEvent {
	targetID := models.NormalizeEntityID(entity)
	targetLabel := strings.ToLower(entity)
	allowed := make(map[string]struct{})
	for doc, nodes := range mapping {
		if slices.ContainsFunc(nodes, func(n models.GraphEntity) bool {
			return n.ID == targetID || strings.Contains(strings.ToLower(n.Properties["label"]), targetLabel)
		}) {
			allowed[doc] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	var out []models.TimelineEvent
	for _, ev := range events {
		if slices.ContainsFunc(ev.Citations, func(c string) bool {
			_, ok := allowed[c]
			return ok
		}) {
			out = append(out, ev)
		}
	}
	return out
}

func filterByRiskBand(events []models.TimelineEvent, band string) []models.TimelineEvent {
	return slices.DeleteFunc(slices.Clone(events), func(ev models.TimelineEvent) bool {
		return strings.ToLower(ev.RiskBand) != band
	})
}

// filterByMotionDeadline keeps events with a deadline strictly inside the window.
func filterByMotionDeadline(events []models.TimelineEvent, before, after *time.Time) []models.TimelineEvent {
	return slices.DeleteFunc(slices.Clone(events), func(ev models.TimelineEvent) bool {
		d := ev.MotionDeadline
		if d == nil {
			return true
		}
		return (before != nil && !d.Before(*before)) || (after != nil && !d.After(*after))
	})
}

func filterAfterCursor(events []models.TimelineEvent, pos cursorPos) []models.TimelineEvent {
	return slices.DeleteFunc(slices.Clone(events), func(ev models.TimelineEvent) bool {
		return !after(ev, pos)
	})
}

func after(ev models.TimelineEvent, pos cursorPos) bool {
	if ev.TS.Equal(pos.ts) {
		return ev.ID > pos.id
	}
	return ev.TS.After(pos.ts)
}

func paginate(events []models.TimelineEvent, limit int) Page {
	page := Page{Limit: limit, HasMore: len(events) > limit}
	page.Events = events[:min(limit, len(events))]
	if page.Events == nil {
		page.Events = []models.TimelineEvent{}
	}
	if page.HasMore {
		c := encodeCursor(page.Events[len(page.Events)-1])
		page.NextCursor = &c
	}
	return page
}

func encodeCursor(ev models.TimelineEvent) string {
	payload := ev.TS.Format(cursorLayout) + "|" + ev.ID
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeCursor(cursor string) (cursorPos, error) {
	bad := invalid(CodeCursorInvalid, "invalid cursor", map[string]any{"cursor": cursor})
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(cursor, "="))
	if err != nil {
		return cursorPos{}, bad
	}
	tsPart, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return cursorPos{}, bad
	}
	ts, err := time.Parse(cursorLayout, tsPart)
	if err != nil {
		return cursorPos{}, bad
	}
	return cursorPos{ts: ts, id: id}, nil
}

// sortEvents orders events by (ts, id).
func sortEvents(events []models.TimelineEvent) {
	slices.SortStableFunc(events, func(a, b models.TimelineEvent) int {
		if c := a.TS.Compare(b.TS); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
