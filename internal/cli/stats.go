package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/casegraph/internal/api"
	"github.com/raphaelgruber/casegraph/internal/metrics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server runtime statistics",
	Long: `Show in-memory server statistics since the last restart: timeline query,
enrichment, database and LLM timings, per-phase timings and the last
scheduled enrichment refresh.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	stats, err := apiClient.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), stats)
	}
	printServerStats(cmd, stats)
	return nil
}

// printServerStats displays server runtime statistics.
func printServerStats(cmd *cobra.Command, stats *api.StatsResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server Statistics (in-memory, since restart)\n")
	fmt.Fprintf(out, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(out, "Uptime: %.1f seconds\n", stats.UptimeSeconds)

	sections := []struct {
		title  string
		op     *metrics.OperationSnapshot
		tokens bool
	}{
		{"Timeline Query", stats.TimelineQuery, false},
		{"Enrichment", stats.Enrichment, false},
		{"LLM Generate", stats.LLMGenerate, true},
		{"DB Query", stats.DBQuery, false},
	}
	for _, s := range sections {
		if s.op == nil {
			continue
		}
		fmt.Fprintf(out, "\n%s:\n", s.title)
		printOpStats(cmd, s.op)
		if s.tokens {
			printTokenStats(cmd, s.op)
		}
	}

	if len(stats.Phases) > 0 {
		fmt.Fprintf(out, "\nPhases:\n")
		names := make([]string, 0, len(stats.Phases))
		for name := range stats.Phases {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			op := stats.Phases[name]
			fmt.Fprintf(out, "  %-18s %4d runs, %d failed, avg %.1fms, max %dms\n",
				name, op.Count, op.Failures, op.AvgTimeMs, op.MaxTimeMs)
		}
	}

	if r := stats.Refresh; r != nil {
		fmt.Fprintf(out, "\nEnrichment Refresh (%s):\n", r.Schedule)
		if !r.LastRun.IsZero() {
			fmt.Fprintf(out, "  Last run: %s, %d cases, %d mutated, %d failed, %dms\n",
				r.LastRun.Format("2006-01-02 15:04:05"), r.Cases, r.Mutated, r.Failed, r.DurationMs)
		}
		if !r.NextRun.IsZero() {
			fmt.Fprintf(out, "  Next run: %s\n", r.NextRun.Format("2006-01-02 15:04:05"))
		}
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(cmd *cobra.Command, op *metrics.OperationSnapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Fprintf(out, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(cmd *cobra.Command, op *metrics.OperationSnapshot) {
	tok := op.Tokens
	if tok == nil {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  Tokens In:  %d total, avg %.0f, min %d, max %d\n",
		tok.TotalInput, tok.AvgInput, tok.MinInput, tok.MaxInput)
	fmt.Fprintf(out, "  Tokens Out: %d total, avg %.0f, min %d, max %d\n",
		tok.TotalOutput, tok.AvgOutput, tok.MinOutput, tok.MaxOutput)
}
