// Package forecast scores the litigation risk of a timeline event.
//
// Forecast is a pure function of the event text, its enrichment counts, its
// timestamp and the supplied clock; it performs no I/O.
package forecast

import (
	"math"
	"strings"
	"time"

	"github.com/raphaelgruber/casegraph/internal/models"
)

// Band thresholds: scores below BandLowMax are low, below BandMediumMax medium.
const (
	BandLowMax    = 0.33
	BandMediumMax = 0.66
)

// Outcome labels, in distribution order.
const (
	OutcomeAdverse    = "Adverse outcome"
	OutcomeFavorable  = "Favorable outcome"
	OutcomeSettlement = "Settlement"
)

// Recommended action messages.
const (
	ActionEscalate    = "Escalate to lead counsel for immediate review."
	ActionContingency = "Prepare contingency brief addressing adverse arguments."
	ActionCheckIn     = "Schedule strategy check-in with litigation team."
	ActionMonitor     = "Monitor for new evidence and maintain current course."
	ActionPrioritize  = "Prioritize filings before motion deadline."
)

// urgentWithinDays is the horizon under which a motion deadline triggers ActionPrioritize.
const urgentWithinDays = 10

var severityTerms = []string{"investigation", "fraud", "penalty", "violation", "sanction", "breach"}

var deadlineTerms = []string{"deadline", "due", "hearing"}

// Input carries everything the forecaster looks at.
type Input struct {
	Title      string
	Summary    string
	Highlights int
	Relations  int
	Citations  int
	TS         time.Time
}

// Result is the forecast for one event.
type Result struct {
	Score          float64
	Band           string
	Outcomes       []models.OutcomeProbability
	Actions        []string
	MotionDeadline *time.Time
}

// Forecast computes the risk forecast for in as of now.
func Forecast(in Input, now time.Time) Result {
	text := strings.ToLower(in.Title + " " + in.Summary)

	motion := containsAny(text, "motion")
	logit := -1.0 +
		1.6*indicator(containsAny(text, severityTerms...)) +
		1.2*indicator(motion) +
		0.9*indicator(containsAny(text, deadlineTerms...)) +
		0.7*ratio(in.Highlights) +
		0.5*ratio(in.Relations) +
		0.45*ratio(in.Citations) +
		0.8*recency(in.TS, now)

	score := clamp01(round2(1.0 / (1.0 + math.Exp(-logit))))
	band := Band(score)

	res := Result{
		Score:    score,
		Band:     band,
		Outcomes: Outcomes(score),
		Actions:  bandActions(band),
	}

	if motion {
		deadline := in.TS.Add(time.Duration(MotionOffsetDays(text)) * 24 * time.Hour)
		res.MotionDeadline = &deadline
		if wholeDays(deadline.Sub(now.UTC())) <= urgentWithinDays {
			res.Actions = append(res.Actions, ActionPrioritize)
		}
	}
	return res
}

// Band maps a risk score onto its band.
func Band(score float64) string {
	switch {
	case score < BandLowMax:
		return models.RiskBandLow
	case score < BandMediumMax:
		return models.RiskBandMedium
	default:
		return models.RiskBandHigh
	}
}

// Outcomes returns the rounded outcome distribution for a risk score.
// Rounding can leave the sum a little off 1.0.
func Outcomes(score float64) []models.OutcomeProbability {
	adverse := 0.4 + score
	favorable := 0.3 + (1.0 - score)
	settlement := 0.2 + (1.0 - math.Abs(0.5-score))
	total := adverse + favorable + settlement
	return []models.OutcomeProbability{
		{Label: OutcomeAdverse, Probability: round2(adverse / total)},
		{Label: OutcomeFavorable, Probability: round2(favorable / total)},
		{Label: OutcomeSettlement, Probability: round2(settlement / total)},
	}
}

// MotionOffsetDays returns the filing window for a motion described by the
// lower-cased text.
func MotionOffsetDays(text string) int {
	days := 21
	if containsAny(text, "summary judgment", "dismiss") {
		days = 28
	}
	if containsAny(text, "emergency", "expedited") {
		days = 7
	}
	if containsAny(text, "hearing", "oral argument") {
		days = min(days, 14)
	}
	return days
}

func bandActions(band string) []string {
	switch band {
	case models.RiskBandHigh:
		return []string{ActionEscalate, ActionContingency}
	case models.RiskBandMedium:
		return []string{ActionCheckIn}
	default:
		return []string{ActionMonitor}
	}
}

// recency is 1 for events happening now, decaying linearly to 0 after a year.
func recency(ts, now time.Time) float64 {
	age := max(wholeDays(now.UTC().Sub(ts.UTC())), 0)
	return 1.0 - math.Min(float64(age)/365.0, 1.0)
}

// wholeDays floors a duration to whole days, rounding toward negative infinity.
func wholeDays(d time.Duration) int {
	return int(math.Floor(float64(d) / float64(24*time.Hour)))
}

func ratio(n int) float64 {
	return math.Min(float64(n)/5.0, 1.0)
}

func indicator(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func containsAny(text string, terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
