package phases

import (
	"context"
	"slices"
	"strings"
	"unicode"
)

// Chunk sizes in bytes.
const (
	chunkMaxSize    = 1000
	chunkTargetSize = 750
)

// Chunk is a retrievable slice of one event's text.
type Chunk struct {
	EventID  string `json:"event_id"`
	Position int    `json:"position"`
	Content  string `json:"content"`
}

// parsingChunking splits event text into chunks at paragraph boundaries,
// falling back to sentence boundaries for oversized paragraphs.
func (s *Set) parsingChunking(ctx context.Context, caseID string, _ map[string]any) (map[string]any, error) {
	events, _, err := s.events(ctx, caseID)
	if err != nil {
		return nil, err
	}

	chunks := []Chunk{}
	for _, ev := range events {
		text := strings.TrimSpace(ev.Title + "\n\n" + ev.Summary)
		for i, content := range chunkText(text, chunkMaxSize, chunkTargetSize) {
			chunks = append(chunks, Chunk{EventID: ev.ID, Position: i, Content: content})
		}
	}
	return map[string]any{
		"chunks":      chunks,
		"chunk_count": len(chunks),
	}, nil
}

// indexing builds an entity index over the enriched timeline: for each
// highlighted entity, the events that reach it.
func (s *Set) indexing(ctx context.Context, caseID string, _ map[string]any) (map[string]any, error) {
	events, _, err := s.events(ctx, caseID)
	if err != nil {
		return nil, err
	}

	index := make(map[string][]string)
	for _, ev := range events {
		for _, h := range ev.EntityHighlights {
			if !slices.Contains(index[h.ID], ev.ID) {
				index[h.ID] = append(index[h.ID], ev.ID)
			}
		}
	}
	return map[string]any{
		"entity_index":   index,
		"indexed_events": len(events),
		"entity_count":   len(index),
	}, nil
}

// chunkText splits text into chunks no longer than maxSize where possible.
func chunkText(text string, maxSize, targetSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxSize {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for para := range strings.SplitSeq(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len()+len(para) > maxSize {
			flush()
		}
		if len(para) > maxSize {
			chunks = append(chunks, splitSentences(para, targetSize)...)
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}

// splitSentences groups sentences into chunks of about targetSize.
func splitSentences(text string, targetSize int) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
			sentences = append(sentences, string(runes[start:i+1]))
			start = i + 1
		}
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}

	var chunks []string
	var current strings.Builder
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(sentence) > targetSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
