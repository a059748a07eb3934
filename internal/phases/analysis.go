package phases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/casegraph/internal/models"
	"github.com/raphaelgruber/casegraph/internal/workflow"
)

// digestLimit caps the events quoted in a generative prompt.
const digestLimit = 40

const legalTheoriesPrompt = `You are a litigation analyst. From the case chronology, identify the legal
theories available to our client and to the opposing party. For each theory
name the supporting events by id and the main weakness. Be concise.`

const strategyPrompt = `You are senior litigation counsel. From the case chronology and its risk
assessment, recommend a litigation strategy: immediate actions, motions to
prepare and settlement posture. Reference events by id.`

const draftingPrompt = `You are a legal drafter. Draft a statement of facts for a motion based only
on the case chronology. Cite the supporting documents in brackets after each
fact.`

// timelinePhase refreshes the case timeline enrichment and returns it.
func (s *Set) timelinePhase(ctx context.Context, caseID string, _ map[string]any) (map[string]any, error) {
	events, stats, err := s.events(ctx, caseID)
	if err != nil {
		return nil, err
	}

	bands := map[string]int{}
	for _, ev := range events {
		if ev.RiskBand != "" {
			bands[ev.RiskBand]++
		}
	}
	return map[string]any{
		"events":     nonNil(events),
		"citations":  citations(events),
		"risk_bands": bands,
		"enrichment": map[string]any{
			"mutated":    stats.Mutated,
			"documents":  stats.Documents,
			"highlights": stats.Highlights,
			"relations":  stats.Relations,
		},
	}, nil
}

// generative returns a handler that sends the case digest to the model with
// the given system prompt.
func (s *Set) generative(phase, systemPrompt string) workflow.Handler {
	return workflow.HandlerFunc(func(ctx context.Context, caseID string, _ map[string]any) (map[string]any, error) {
		if s.model == nil {
			return skipped(), nil
		}
		events, _, err := s.events(ctx, caseID)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			return map[string]any{"skipped": true, "reason": "case timeline is empty"}, nil
		}

		text, err := s.model.GenerateWithSystem(ctx, systemPrompt, digest(events))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", phase, err)
		}
		text = strings.TrimSpace(text)
		return map[string]any{
			"text":      text,
			"citations": citations(events),
			"artifacts": []map[string]any{{
				"kind":       phase,
				"model":      s.model.Model(),
				"chars":      len(text),
				"created_at": s.now().Format(time.RFC3339),
			}},
		}, nil
	})
}

// qaReview checks the enriched timeline for gaps a reviewer must close
// before filing. With a model configured it also asks for a narrative review.
func (s *Set) qaReview(ctx context.Context, caseID string, _ map[string]any) (map[string]any, error) {
	events, _, err := s.events(ctx, caseID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	issues := []map[string]any{}
	for _, ev := range events {
		if len(ev.Citations) == 0 {
			issues = append(issues, issue(ev, "uncited", "event has no supporting citation"))
		}
		if ev.RiskBand == models.RiskBandHigh && len(ev.EntityHighlights) == 0 {
			issues = append(issues, issue(ev, "unresolved_high_risk", "high-risk event is not linked to any graph entity"))
		}
		if ev.MotionDeadline != nil && ev.MotionDeadline.Before(now) {
			issues = append(issues, issue(ev, "deadline_passed",
				"motion deadline "+ev.MotionDeadline.Format(time.DateOnly)+" has passed"))
		}
	}

	out := map[string]any{
		"issues":   issues,
		"reviewed": len(events),
		"passed":   len(issues) == 0,
	}
	if s.model != nil && len(events) > 0 {
		review, err := s.model.GenerateWithSystem(ctx,
			"You are a QA reviewer for litigation work product. List factual gaps, unsupported claims and missing evidence in the chronology.",
			digest(events))
		if err != nil {
			return nil, fmt.Errorf("qa review: %w", err)
		}
		out["review"] = strings.TrimSpace(review)
	}
	return out, nil
}

func issue(ev models.TimelineEvent, code, message string) map[string]any {
	return map[string]any{"event_id": ev.ID, "code": code, "message": message}
}

// digest renders the timeline as a compact chronology for prompts.
func digest(events []models.TimelineEvent) string {
	var b strings.Builder
	b.WriteString("Case chronology:\n")
	for i, ev := range events {
		if i == digestLimit {
			fmt.Fprintf(&b, "... %d more events omitted\n", len(events)-digestLimit)
			break
		}
		fmt.Fprintf(&b, "- [%s] %s %s", ev.ID, ev.TS.Format(time.DateOnly), ev.Title)
		if ev.RiskBand != "" {
			fmt.Fprintf(&b, " (risk: %s)", ev.RiskBand)
		}
		if len(ev.Citations) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(ev.Citations, ", "))
		}
		b.WriteString("\n")
		if ev.Summary != "" {
			fmt.Fprintf(&b, "  %s\n", ev.Summary)
		}
	}
	return b.String()
}
