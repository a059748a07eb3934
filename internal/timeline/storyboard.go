package timeline

import (
	"fmt"
	"slices"
	"strings"

	"github.com/raphaelgruber/casegraph/internal/models"
)

const storyboardCitations = 5

// BuildStoryboard turns events into numbered narrative scenes.
func BuildStoryboard(events []models.TimelineEvent) []models.StoryboardScene {
	scenes := make([]models.StoryboardScene, 0, len(events))
	for i, ev := range events {
		narrative := strings.TrimSpace(ev.Summary)
		if len(ev.Citations) > 0 {
			cited := ev.Citations[:min(len(ev.Citations), storyboardCitations)]
			narrative += fmt.Sprintf(" (Citations: %s)", strings.Join(cited, ", "))
		}
		var prompt string
		if ev.Title != "" {
			prompt = fmt.Sprintf("Illustration of %s.", ev.Title)
		}
		scenes = append(scenes, models.StoryboardScene{
			ID:           ev.ID,
			Title:        fmt.Sprintf("Scene %d: %s", i+1, ev.Title),
			Narrative:    narrative,
			VisualPrompt: prompt,
			Citations:    slices.Clone(ev.Citations),
		})
	}
	return scenes
}
