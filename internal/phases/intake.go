package phases

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/raphaelgruber/casegraph/internal/models"
)

// ingestion reports what the case timeline holds and which documents it cites.
func (s *Set) ingestion(ctx context.Context, caseID string, _ map[string]any) (map[string]any, error) {
	events, stats, err := s.events(ctx, caseID)
	if err != nil {
		return nil, err
	}
	docs := citations(events)

	out := map[string]any{
		"event_count":        len(events),
		"documents_resolved": stats.Documents,
		"citations":          docs,
	}
	if len(events) > 0 {
		out["first_ts"] = events[0].TS.Format(time.RFC3339)
		out["last_ts"] = events[len(events)-1].TS.Format(time.RFC3339)
	}
	s.logger.Info("ingestion summarized", "case", caseID, "events", len(events), "documents", len(docs))
	return out, nil
}

// preprocess flags events that later phases cannot use well.
func (s *Set) preprocess(ctx context.Context, caseID string, _ map[string]any) (map[string]any, error) {
	events, _, err := s.events(ctx, caseID)
	if err != nil {
		return nil, err
	}

	untitled := []string{}
	uncited := []string{}
	empty := []string{}
	for _, ev := range events {
		if strings.TrimSpace(ev.Title) == "" {
			untitled = append(untitled, ev.ID)
		}
		if len(ev.Citations) == 0 {
			uncited = append(uncited, ev.ID)
		}
		if strings.TrimSpace(ev.Summary) == "" {
			empty = append(empty, ev.ID)
		}
	}
	return map[string]any{
		"events_checked": len(events),
		"untitled":       untitled,
		"uncited":        uncited,
		"empty_summary":  empty,
	}, nil
}

// forensics fingerprints the citation trail of every cited document so that
// later runs can detect a changed evidence set.
func (s *Set) forensics(ctx context.Context, caseID string, _ map[string]any) (map[string]any, error) {
	events, _, err := s.events(ctx, caseID)
	if err != nil {
		return nil, err
	}

	citedBy := make(map[string][]models.TimelineEvent)
	for _, ev := range events {
		for _, doc := range ev.Citations {
			citedBy[doc] = append(citedBy[doc], ev)
		}
	}

	artifacts := []map[string]any{}
	for _, doc := range citations(events) {
		h := sha256.New()
		h.Write([]byte(doc))
		ids := make([]string, 0, len(citedBy[doc]))
		for _, ev := range citedBy[doc] {
			h.Write([]byte{0})
			h.Write([]byte(ev.ID))
			h.Write([]byte(ev.TS.Format(time.RFC3339Nano)))
			ids = append(ids, ev.ID)
		}
		artifacts = append(artifacts, map[string]any{
			"kind":        "citation_fingerprint",
			"doc_id":      doc,
			"sha256":      hex.EncodeToString(h.Sum(nil)),
			"cited_by":    ids,
			"computed_at": s.now().Format(time.RFC3339),
		})
	}

	return map[string]any{
		"forensics": map[string]any{"artifacts": artifacts},
		"artifacts": artifacts,
	}, nil
}
