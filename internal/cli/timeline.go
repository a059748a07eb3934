package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/casegraph/internal/api"
	"github.com/raphaelgruber/casegraph/internal/client"
)

var (
	tlOpts client.TimelineOptions
	tlAll  bool
)

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Query and maintain case timelines",
}

var timelineListCmd = &cobra.Command{
	Use:   "list <case-id>",
	Short: "List enriched timeline events",
	Long: `List the enriched events of a case timeline, oldest first.

Timestamps are zone-less ISO-8601 (2024-03-01 or 2024-03-01T09:30:00).

Examples:
  casegraph timeline list acme-v-globex
  casegraph timeline list acme-v-globex --entity "Acme Corp" --risk-band high
  casegraph timeline list acme-v-globex --from 2024-01-01 --to 2024-06-30 --all
  casegraph timeline list acme-v-globex --due-before 2024-04-01`,
	Args: cobra.ExactArgs(1),
	RunE: runTimelineList,
}

var timelineRefreshCmd = &cobra.Command{
	Use:   "refresh <case-id>",
	Short: "Re-enrich a case timeline against the current graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runTimelineRefresh,
}

var timelineStoryboardCmd = &cobra.Command{
	Use:   "storyboard <case-id>",
	Short: "Print one narrative scene per timeline event",
	Args:  cobra.ExactArgs(1),
	RunE:  runTimelineStoryboard,
}

var timelinePutCmd = &cobra.Command{
	Use:   "put <case-id> <file>",
	Short: "Store authored events from a YAML or JSON file",
	Long: `Store authored timeline events and re-enrich the case.
Events with an existing id are replaced. Use "-" to read from stdin.

File format:
  events:
    - id: ev-1
      ts: "2024-03-01T09:30:00"
      title: Contract signed
      summary: Both parties sign the supply agreement.
      citations: [doc-1]`,
	Args: cobra.ExactArgs(2),
	RunE: runTimelinePut,
}

func init() {
	f := timelineListCmd.Flags()
	f.IntVarP(&tlOpts.Limit, "limit", "n", 20, "page size (1-100)")
	f.StringVar(&tlOpts.Cursor, "cursor", "", "resume after this cursor")
	f.StringVar(&tlOpts.FromTS, "from", "", "earliest event timestamp (inclusive)")
	f.StringVar(&tlOpts.ToTS, "to", "", "latest event timestamp (inclusive)")
	f.StringVarP(&tlOpts.Entity, "entity", "e", "", "entity id or label")
	f.StringVarP(&tlOpts.RiskBand, "risk-band", "r", "", "low, medium or high")
	f.StringVar(&tlOpts.MotionDueBefore, "due-before", "", "motion deadline before this timestamp")
	f.StringVar(&tlOpts.MotionDueAfter, "due-after", "", "motion deadline after this timestamp")
	f.BoolVarP(&tlAll, "all", "a", false, "follow cursors until the last page")

	timelineCmd.AddCommand(timelineListCmd)
	timelineCmd.AddCommand(timelineRefreshCmd)
	timelineCmd.AddCommand(timelineStoryboardCmd)
	timelineCmd.AddCommand(timelinePutCmd)
}

func runTimelineList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	opts := tlOpts
	var events []api.EventView
	var next *string
	for {
		page, err := apiClient.ListTimeline(ctx, args[0], opts)
		if err != nil {
			return fmt.Errorf("list timeline: %w", err)
		}
		if jsonOutput && !tlAll {
			return printJSON(out, page)
		}
		events = append(events, page.Events...)
		next = page.NextCursor
		if !tlAll || !page.HasMore || next == nil {
			break
		}
		opts.Cursor = *next
	}

	if jsonOutput {
		return printJSON(out, events)
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No events found")
		return nil
	}

	fmt.Fprintf(out, "%-19s %-14s %-6s %-5s %s\n", "TS", "ID", "RISK", "SCORE", "TITLE")
	fmt.Fprintln(out, strings.Repeat("-", 72))
	for _, ev := range events {
		score := ""
		if ev.RiskScore != nil {
			score = fmt.Sprintf("%.2f", *ev.RiskScore)
		}
		fmt.Fprintf(out, "%-19s %-14s %-6s %-5s %s\n", ev.TS, ev.ID, ev.RiskBand, score, ev.Title)
		if ev.MotionDeadline != nil {
			fmt.Fprintf(out, "%34s motion due %s\n", "", *ev.MotionDeadline)
		}
	}
	if !tlAll && next != nil {
		fmt.Fprintf(out, "\nMore events: --cursor %s\n", *next)
	}
	return nil
}

func runTimelineRefresh(cmd *cobra.Command, args []string) error {
	stats, err := apiClient.RefreshTimeline(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("refresh timeline: %w", err)
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, stats)
	}
	fmt.Fprintf(out, "Refreshed %s: mutated=%t documents=%d highlights=%d relations=%d\n",
		args[0], stats.Mutated, stats.Documents, stats.Highlights, stats.Relations)
	return nil
}

func runTimelineStoryboard(cmd *cobra.Command, args []string) error {
	scenes, err := apiClient.Storyboard(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("storyboard: %w", err)
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, scenes)
	}
	for i, scene := range scenes {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, scene.Title)
		fmt.Fprintf(out, "  %s\n", scene.Narrative)
		if scene.VisualPrompt != "" {
			fmt.Fprintf(out, "  visual: %s\n", scene.VisualPrompt)
		}
	}
	return nil
}

// eventsFile is the on-disk form accepted by "timeline put".
type eventsFile struct {
	Events []struct {
		ID        string   `yaml:"id"`
		TS        string   `yaml:"ts"`
		Title     string   `yaml:"title"`
		Summary   string   `yaml:"summary"`
		Citations []string `yaml:"citations"`
	} `yaml:"events"`
}

func readEvents(r io.Reader) ([]api.EventInput, error) {
	var f eventsFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("parse events: %w", err)
	}
	if len(f.Events) == 0 {
		return nil, fmt.Errorf("no events in file")
	}
	inputs := make([]api.EventInput, len(f.Events))
	for i, ev := range f.Events {
		inputs[i] = api.EventInput{
			ID:        ev.ID,
			TS:        ev.TS,
			Title:     ev.Title,
			Summary:   ev.Summary,
			Citations: ev.Citations,
		}
	}
	return inputs, nil
}

func runTimelinePut(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if args[1] != "-" {
		file, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("open events file: %w", err)
		}
		defer file.Close()
		r = file
	}

	inputs, err := readEvents(r)
	if err != nil {
		return err
	}
	stats, err := apiClient.PutEvents(context.Background(), args[0], inputs)
	if err != nil {
		return fmt.Errorf("put events: %w", err)
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, stats)
	}
	fmt.Fprintf(out, "Stored %d events for %s (documents=%d highlights=%d)\n",
		len(inputs), args[0], stats.Documents, stats.Highlights)
	return nil
}
