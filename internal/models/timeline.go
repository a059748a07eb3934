package models

import "time"

// Risk bands derived from a risk score.
const (
	RiskBandLow    = "low"
	RiskBandMedium = "medium"
	RiskBandHigh   = "high"
)

// TimelineEvent is one chronological occurrence tied to a case.
// Title, Summary, Citations and TS are authored; every other field is derived
// by the enrichment pass and rewritten on each refresh.
type TimelineEvent struct {
	ID        string    `json:"id"`
	TS        time.Time `json:"ts"` // naive, carried in the UTC location
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Citations []string  `json:"citations"`

	EntityHighlights     []EntityHighlight    `json:"entity_highlights"`
	RelationTags         []RelationTag        `json:"relation_tags"`
	Confidence           *float64             `json:"confidence,omitempty"`
	RiskScore            *float64             `json:"risk_score,omitempty"`
	RiskBand             string               `json:"risk_band,omitempty"`
	OutcomeProbabilities []OutcomeProbability `json:"outcome_probabilities"`
	RecommendedActions   []string             `json:"recommended_actions"`
	MotionDeadline       *time.Time           `json:"motion_deadline,omitempty"`
}

// EntityHighlight is a graph entity reached through one of the event's citations.
type EntityHighlight struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
	Doc   string `json:"doc"`
}

// RelationTag is a graph edge touching a highlighted entity.
// Doc is empty when the edge carries no doc_id property.
type RelationTag struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
	Label  string `json:"label"`
	Doc    string `json:"doc,omitempty"`
}

// OutcomeProbability is one entry of the forecast outcome distribution.
type OutcomeProbability struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// StoryboardScene is a narrative card built from one timeline event.
type StoryboardScene struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Narrative    string   `json:"narrative"`
	VisualPrompt string   `json:"visual_prompt,omitempty"`
	Citations    []string `json:"citations"`
}
