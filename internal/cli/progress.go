package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/siftworks/sitesift/internal/service"
)

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

// tickMsg triggers the next polling pass.
type tickMsg time.Time

// passMsg carries the outcome of one polling pass.
type passMsg struct {
	report service.PollReport
	err    error
}

// watchModel is the bubbletea model for the live polling display.
type watchModel struct {
	ctx      context.Context
	poller   *service.Poller
	interval time.Duration
	progress progress.Model
	theme    Theme

	last      service.PollReport
	passes    int
	completed int
	failed    int
	expired   int
	done      bool
	quitting  bool
	err       error
}

func newWatchModel(ctx context.Context, poller *service.Poller, interval time.Duration) watchModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return watchModel{
		ctx:      ctx,
		poller:   poller,
		interval: interval,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init starts the first pass immediately.
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.runPass(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.runPass()

	case passMsg:
		if msg.err != nil {
			m.err = msg.err
			m.done = true
			return m, tea.Quit
		}
		m.last = msg.report
		m.passes++
		m.completed += msg.report.Completed
		m.failed += msg.report.Failed
		m.expired += msg.report.Expired
		if msg.report.Active() == 0 {
			m.done = true
			return m, tea.Quit
		}
		return m, tickCmd(m.interval)

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if m.passes == 0 {
		return "Polling jobs...\n"
	}

	settled := m.last.Polled - m.last.Active()
	var pct float64
	if m.last.Polled > 0 {
		pct = float64(settled) / float64(m.last.Polled)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[pass %d]", m.passes))
	counts := fmt.Sprintf("%d/%d jobs settled", settled, m.last.Polled)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop watching; jobs keep running remotely")

	return fmt.Sprintf("%s %s %s\n%s\n", status, m.progress.ViewAs(pct), counts, hint)
}

func (m watchModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render("\nStopped watching. Jobs continue remotely; run 'sitesift poll' to resume.\n")
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Polling failed: %s\n", m.err))
	}

	output := m.theme.completedStyle().Render("✓ All jobs settled") + "\n\n"
	output += fmt.Sprintf("  Completed: %d\n", m.completed)
	if m.failed > 0 {
		output += m.theme.errorStyle().Render(fmt.Sprintf("  Failed:    %d\n", m.failed))
	}
	if m.expired > 0 {
		output += m.theme.errorStyle().Render(fmt.Sprintf("  Expired:   %d\n", m.expired))
	}
	output += "\nRun 'sitesift merge' to consolidate results.\n"
	return output
}

// runPass runs one polling pass off the update loop.
func (m watchModel) runPass() tea.Cmd {
	return func() tea.Msg {
		report, err := m.poller.RunOnce(m.ctx)
		return passMsg{report: report, err: err}
	}
}

// tickCmd schedules the next pass.
func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runPollWatch runs the interactive polling display until every job
// settles or the user stops watching.
func runPollWatch(ctx context.Context, poller *service.Poller, interval time.Duration) error {
	model := newWatchModel(ctx, poller, interval)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(watchModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}
