package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/casegraph/internal/models"
)

var (
	runsWatch bool
	runsSince int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Start and control case workflow runs",
	Long: `Start and control case workflow runs.

Examples:
  casegraph runs start acme-v-globex                 # default phase plan
  casegraph runs start acme-v-globex ingestion timeline --watch
  casegraph runs list acme-v-globex
  casegraph runs pause acme-v-globex 3f1c...
  casegraph runs retry acme-v-globex 3f1c... drafting
  casegraph runs watch acme-v-globex 3f1c...`,
}

var runsStartCmd = &cobra.Command{
	Use:   "start <case-id> [phase...]",
	Short: "Start a workflow run",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRunsStart,
}

var runsListCmd = &cobra.Command{
	Use:   "list <case-id>",
	Short: "List the runs of a case, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsList,
}

var runsGetCmd = &cobra.Command{
	Use:   "get <case-id> <run-id>",
	Short: "Show a run and its phases",
	Args:  cobra.ExactArgs(2),
	RunE:  runRunsGet,
}

var runsEventsCmd = &cobra.Command{
	Use:   "events <case-id> <run-id>",
	Short: "Print the run event log",
	Args:  cobra.ExactArgs(2),
	RunE:  runRunsEvents,
}

var runsRetryCmd = &cobra.Command{
	Use:   "retry <case-id> <run-id> [phase]",
	Short: "Re-run a phase and everything after it (default: first failed phase)",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runRunsRetry,
}

var runsWatchCmd = &cobra.Command{
	Use:   "watch <case-id> <run-id>",
	Short: "Follow a run until it finishes",
	Args:  cobra.ExactArgs(2),
	RunE:  runRunsWatch,
}

var runsOutputCmd = &cobra.Command{
	Use:   "output <phase-run-id>",
	Short: "Print the stored output of a phase execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsOutput,
}

func init() {
	runsStartCmd.Flags().BoolVarP(&runsWatch, "watch", "w", false, "follow the run until it finishes")
	runsEventsCmd.Flags().IntVar(&runsSince, "since", 0, "first event sequence number")

	runsCmd.AddCommand(runsStartCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)
	runsCmd.AddCommand(runsEventsCmd)
	runsCmd.AddCommand(controlCmd("pause", "Pause a run at the next phase boundary"))
	runsCmd.AddCommand(controlCmd("resume", "Resume a paused run"))
	runsCmd.AddCommand(controlCmd("stop", "Stop a run at the next phase boundary"))
	runsCmd.AddCommand(runsRetryCmd)
	runsCmd.AddCommand(runsWatchCmd)
	runsCmd.AddCommand(runsOutputCmd)
}

func runRunsStart(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	run, err := apiClient.StartRun(ctx, args[0], args[1:])
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	out := cmd.OutOrStdout()
	if runsWatch {
		fmt.Fprintf(out, "Started run %s (%d phases)\n", run.RunID, len(run.Phases))
		return watchRun(cmd, run)
	}
	if jsonOutput {
		return printJSON(out, run)
	}
	fmt.Fprintf(out, "Started run %s (%d phases)\n", run.RunID, len(run.Phases))
	fmt.Fprintf(out, "Use 'casegraph runs watch %s %s' to follow it.\n", run.CaseID, run.RunID)
	return nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	runs, err := apiClient.ListRuns(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-10s %-16s %-8s %s\n", "ID", "STATUS", "CURRENT", "PHASES", "CREATED")
	fmt.Fprintln(out, strings.Repeat("-", 90))
	for _, run := range runs {
		current := ""
		if run.CurrentPhase != nil {
			current = *run.CurrentPhase
		}
		fmt.Fprintf(out, "%-36s %-10s %-16s %-8s %s\n",
			run.RunID, run.Status, current, phaseCount(run), run.CreatedAt.Format(time.DateTime))
	}
	return nil
}

func runRunsGet(cmd *cobra.Command, args []string) error {
	run, err := apiClient.GetRun(context.Background(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, run)
	}
	printRun(out, run)
	return nil
}

func runRunsEvents(cmd *cobra.Command, args []string) error {
	resp, err := apiClient.RunEvents(context.Background(), args[0], args[1], runsSince)
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, resp)
	}
	for _, ev := range resp.Events {
		printEvent(out, ev)
	}
	return nil
}

// controlCmd builds the pause, resume and stop subcommands.
func controlCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <case-id> <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			var run *models.WorkflowRun
			var err error
			switch action {
			case "pause":
				run, err = apiClient.PauseRun(ctx, args[0], args[1])
			case "resume":
				run, err = apiClient.ResumeRun(ctx, args[0], args[1])
			default:
				run, err = apiClient.StopRun(ctx, args[0], args[1])
			}
			if err != nil {
				return fmt.Errorf("%s run: %w", action, err)
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, run)
			}
			fmt.Fprintf(out, "Run %s: %s (pause=%t stop=%t)\n", run.RunID, run.Status, run.Control.Pause, run.Control.Stop)
			return nil
		},
	}
}

func runRunsRetry(cmd *cobra.Command, args []string) error {
	phase := ""
	if len(args) == 3 {
		phase = args[2]
	}
	run, err := apiClient.RetryPhase(context.Background(), args[0], args[1], phase)
	if err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, run)
	}
	fmt.Fprintf(out, "Run %s: %s\n", run.RunID, run.Status)
	return nil
}

func runRunsWatch(cmd *cobra.Command, args []string) error {
	run, err := apiClient.GetRun(context.Background(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	return watchRun(cmd, run)
}

// watchRun shows the interactive progress view on a terminal and tails the
// event log as plain lines otherwise.
func watchRun(cmd *cobra.Command, run *models.WorkflowRun) error {
	out := cmd.OutOrStdout()
	if f, ok := out.(*os.File); ok && !jsonOutput && term.IsTerminal(int(f.Fd())) {
		return RunProgress(apiClient, run)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	status, err := apiClient.StreamRun(ctx, run.CaseID, run.RunID, 0, func(ev models.RunEvent) error {
		if jsonOutput {
			return printJSON(out, ev)
		}
		printEvent(out, ev)
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch run: %w", err)
	}
	if status != models.RunStatusSucceeded {
		final, err := apiClient.GetRun(context.Background(), run.CaseID, run.RunID)
		if err != nil {
			return fmt.Errorf("run %s", status)
		}
		return runError(final)
	}
	return nil
}

func runRunsOutput(cmd *cobra.Command, args []string) error {
	pr, err := apiClient.PhaseRun(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("get phase output: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), pr)
}

func phaseCount(run *models.WorkflowRun) string {
	done := 0
	for _, p := range run.Phases {
		if p.Status == models.PhaseStatusSucceeded {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(run.Phases))
}

func printRun(w io.Writer, run *models.WorkflowRun) {
	fmt.Fprintf(w, "Run: %s\n", run.RunID)
	fmt.Fprintf(w, "  Case: %s\n", run.CaseID)
	fmt.Fprintf(w, "  Status: %s\n", run.Status)
	if run.CurrentPhase != nil {
		fmt.Fprintf(w, "  Current phase: %s\n", *run.CurrentPhase)
	}
	if run.Control.Pause || run.Control.Stop {
		fmt.Fprintf(w, "  Control: pause=%t stop=%t\n", run.Control.Pause, run.Control.Stop)
	}
	fmt.Fprintf(w, "  Created: %s\n", run.CreatedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed: %s\n", run.CompletedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "  Duration: %s\n", run.CompletedAt.Sub(run.CreatedAt).Round(time.Second))
	}

	fmt.Fprintln(w, "\nPhases:")
	for _, p := range run.Phases {
		fmt.Fprintf(w, "  %-18s %-10s", p.Phase, p.Status)
		if p.RunID != nil {
			fmt.Fprintf(w, " output=%s", *p.RunID)
		}
		if len(p.Summary) > 0 {
			fmt.Fprintf(w, " %s", formatSummary(p.Summary))
		}
		fmt.Fprintln(w)
		if p.Error != nil {
			fmt.Fprintf(w, "    error: %s\n", *p.Error)
		}
	}
}

func printEvent(w io.Writer, ev models.RunEvent) {
	fmt.Fprintf(w, "%4d %s %-22s", ev.Seq, ev.Timestamp.Format("15:04:05"), ev.Event)
	if phase, ok := ev.Payload["phase"].(string); ok {
		fmt.Fprintf(w, " %s", phase)
	}
	if msg, ok := ev.Payload["error"].(string); ok {
		fmt.Fprintf(w, " error=%q", msg)
	}
	fmt.Fprintln(w)
}

// formatSummary renders summary keys in sorted order.
func formatSummary(summary map[string]any) string {
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, summary[k])
	}
	return strings.Join(parts, " ")
}
