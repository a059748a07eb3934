package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/casegraph/internal/client"
	"github.com/raphaelgruber/casegraph/internal/models"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the run
type tickMsg time.Time

// runUpdateMsg carries the updated run
type runUpdateMsg struct {
	run *models.WorkflowRun
	err error
}

// progressModel is the bubbletea model for workflow run progress.
type progressModel struct {
	client   *client.Client
	caseID   string
	runID    string
	run      *models.WorkflowRun
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(c *client.Client, run *models.WorkflowRun) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:   c,
		caseID:   run.CaseID,
		runID:    run.RunID,
		run:      run,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchRun()

	case runUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch run status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.run = msg.run
		if m.run.Status.Terminal() {
			m.done = true
			m.err = runError(m.run)
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if m.run == nil {
		return "Loading run status...\n"
	}

	completed := 0
	for _, p := range m.run.Phases {
		if p.Status == models.PhaseStatusSucceeded {
			completed++
		}
	}
	var pct float64
	if len(m.run.Phases) > 0 {
		pct = float64(completed) / float64(len(m.run.Phases))
	}

	var b strings.Builder
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.run.Status))
	fmt.Fprintf(&b, "%s %s %d/%d phases\n", status, m.progress.ViewAs(pct), completed, len(m.run.Phases))
	b.WriteString(m.phaseList())
	b.WriteString(m.theme.hintStyle().Render("Press Ctrl+C to continue in background"))
	b.WriteString("\n")
	return b.String()
}

func (m progressModel) phaseList() string {
	var b strings.Builder
	for _, p := range m.run.Phases {
		var mark string
		switch p.Status {
		case models.PhaseStatusSucceeded:
			mark = m.theme.completedStyle().Render("✓")
		case models.PhaseStatusFailed:
			mark = m.theme.errorStyle().Render("✗")
		case models.PhaseStatusRunning:
			mark = m.theme.statusStyle().Render("▶")
		default:
			mark = m.theme.hintStyle().Render("·")
		}
		fmt.Fprintf(&b, "  %s %s", mark, p.Phase)
		if p.Error != nil {
			fmt.Fprintf(&b, "  %s", m.theme.errorStyle().Render(*p.Error))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nRun %s continues in background.\nUse 'casegraph runs get %s %s' to check status.\n",
			m.runID, m.caseID, m.runID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.run == nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}

	var header string
	if m.err != nil {
		header = m.theme.errorStyle().Render(fmt.Sprintf("✗ Run %s: %s", m.run.Status, m.err))
	} else {
		header = m.theme.completedStyle().Render("✓ Completed")
	}
	return header + "\n\n" + m.phaseList()
}

// fetchRun runs in a separate goroutine (command) to avoid blocking Update().
func (m progressModel) fetchRun() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		run, err := m.client.GetRun(ctx, m.caseID, m.runID)
		return runUpdateMsg{run: run, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runError describes why a terminal run did not succeed, or returns nil.
func runError(run *models.WorkflowRun) error {
	switch run.Status {
	case models.RunStatusSucceeded:
		return nil
	case models.RunStatusFailed:
		for _, p := range run.Phases {
			if p.Status == models.PhaseStatusFailed && p.Error != nil {
				return fmt.Errorf("phase %s failed: %s", p.Phase, *p.Error)
			}
		}
		return fmt.Errorf("run failed")
	default:
		return fmt.Errorf("run %s", run.Status)
	}
}

// RunProgress runs the interactive progress UI for a workflow run.
// Returns nil on success or Ctrl+C (background), error when the run fails
// or is stopped.
func RunProgress(c *client.Client, run *models.WorkflowRun) error {
	model := newProgressModel(c, run)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		// If user quit with Ctrl+C, the run continues in background - not an error
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}
