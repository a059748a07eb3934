// Package phases provides the default handlers of the case workflow plan.
//
// Every handler reads the enriched case timeline and returns a JSON-friendly
// output map. Outputs use the keys recognized by the workflow summary builder
// (events, citations, forensics, artifacts, entities, relations) so phase
// summaries and graph merges work without extra wiring.
package phases

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/raphaelgruber/casegraph/internal/models"
	"github.com/raphaelgruber/casegraph/internal/timeline"
	"github.com/raphaelgruber/casegraph/internal/workflow"
)

// Phase names of the default plan.
const (
	Ingestion       = "ingestion"
	Preprocess      = "preprocess"
	Forensics       = "forensics"
	ParsingChunking = "parsing_chunking"
	Indexing        = "indexing"
	FactExtraction  = "fact_extraction"
	Timeline        = "timeline"
	LegalTheories   = "legal_theories"
	Strategy        = "strategy"
	Drafting        = "drafting"
	QAReview        = "qa_review"
)

// TimelineReader reads the enriched timeline of a case.
type TimelineReader interface {
	Events(ctx context.Context, caseID string) ([]models.TimelineEvent, timeline.Stats, error)
}

// Model is the language model used by the generative phases.
type Model interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	ExtractEntitiesAndRelations(ctx context.Context, text string, existingEntities []string) (string, error)
	Model() string
}

// Deps are the collaborators of the default handlers.
type Deps struct {
	Timeline TimelineReader
	// Model is optional. Without it the generative phases succeed with a
	// skipped output.
	Model  Model
	Logger *slog.Logger
	Now    func() time.Time
}

// Set holds the default handlers.
type Set struct {
	timeline TimelineReader
	model    Model
	logger   *slog.Logger
	now      func() time.Time
}

// New creates the default handler set.
func New(deps Deps) *Set {
	s := &Set{
		timeline: deps.Timeline,
		model:    deps.Model,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Handlers returns the handler of every default phase keyed by phase name.
func (s *Set) Handlers() map[string]workflow.Handler {
	return map[string]workflow.Handler{
		Ingestion:       workflow.HandlerFunc(s.ingestion),
		Preprocess:      workflow.HandlerFunc(s.preprocess),
		Forensics:       workflow.HandlerFunc(s.forensics),
		ParsingChunking: workflow.HandlerFunc(s.parsingChunking),
		Indexing:        workflow.HandlerFunc(s.indexing),
		FactExtraction:  workflow.HandlerFunc(s.factExtraction),
		Timeline:        workflow.HandlerFunc(s.timelinePhase),
		LegalTheories:   s.generative(LegalTheories, legalTheoriesPrompt),
		Strategy:        s.generative(Strategy, strategyPrompt),
		Drafting:        s.generative(Drafting, draftingPrompt),
		QAReview:        workflow.HandlerFunc(s.qaReview),
	}
}

// Register adds every default handler to reg in sorted phase order.
func (s *Set) Register(reg *workflow.Registry) error {
	handlers := s.Handlers()
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := reg.Register(name, handlers[name]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Set) events(ctx context.Context, caseID string) ([]models.TimelineEvent, timeline.Stats, error) {
	if s.timeline == nil {
		return nil, timeline.Stats{}, fmt.Errorf("timeline service not configured")
	}
	events, stats, err := s.timeline.Events(ctx, caseID)
	if err != nil {
		return nil, timeline.Stats{}, fmt.Errorf("load timeline: %w", err)
	}
	return events, stats, nil
}

// citations returns the distinct cited documents in first-seen order.
func citations(events []models.TimelineEvent) []string {
	seen := make(map[string]bool)
	var docs []string
	for _, ev := range events {
		for _, doc := range ev.Citations {
			if doc == "" || seen[doc] {
				continue
			}
			seen[doc] = true
			docs = append(docs, doc)
		}
	}
	if docs == nil {
		return []string{}
	}
	return docs
}
