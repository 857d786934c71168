package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/cascadewatch/types"
)

var quitKeys = key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"))

// statusMsg carries one RunStatus update from the subscribed channel into
// the Bubble Tea event loop.
type statusMsg types.RunStatus

// closedMsg signals the subscription channel closed. store.RunStore never
// closes its subscription channels, so the model does not wait for this
// after a terminal status.
type closedMsg struct{}

// WatchModel renders live stage/progress transitions for a single run, as
// pushed by store.RunStore.Subscribe — no polling.
type WatchModel struct {
	runID    string
	updates  <-chan types.RunStatus
	latest   types.RunStatus
	gotFirst bool
	quitting bool
}

// NewWatchModel creates a watch model fed by updates. The model quits on
// the first terminal status it receives, or when the channel closes.
func NewWatchModel(runID string, updates <-chan types.RunStatus) WatchModel {
	return WatchModel{runID: runID, updates: updates}
}

func (m WatchModel) Init() tea.Cmd {
	return waitForStatus(m.updates)
}

func waitForStatus(ch <-chan types.RunStatus) tea.Cmd {
	return func() tea.Msg {
		status, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return statusMsg(status)
	}
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, quitKeys) {
			m.quitting = true
			return m, tea.Quit
		}
	case statusMsg:
		m.latest = types.RunStatus(msg)
		m.gotFirst = true
		if isTerminal(m.latest.State) {
			return m, tea.Quit
		}
		return m, waitForStatus(m.updates)
	case closedMsg:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func isTerminal(state types.RunState) bool {
	return state == types.RunReadyForReview || state == types.RunExported || state == types.RunFailed
}

func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.gotFirst {
		return TitleStyle.Render(fmt.Sprintf("watching %s", m.runID)) + "\n" + LabelStyle.Render("waiting for first status update") + "\n"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("run %s", m.latest.RunID)))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("state:"), StateStyle(strings.ToLower(string(m.latest.State))).Render(string(m.latest.State))))
	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("stage:"), ValueStyle.Render(string(m.latest.Stage))))
	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("progress:"), renderProgressBar(m.latest.ProgressPct)))
	if m.latest.StageMessage != "" {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("message:"), ValueStyle.Render(m.latest.StageMessage)))
	}
	if m.latest.ErrorMessage != "" {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("error:"), ErrorStyle.Render(m.latest.ErrorMessage)))
	}

	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("press q to quit"))
	return b.String()
}

func renderProgressBar(pct int) string {
	const width = 30
	filled := width * pct / 100
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("%s %3d%%", lipgloss.NewStyle().Foreground(highlightColor).Render(bar), pct)
}

// RunWatch runs the watch TUI to completion (until the run reaches a
// terminal state or the user quits).
func RunWatch(runID string, updates <-chan types.RunStatus) error {
	p := tea.NewProgram(NewWatchModel(runID, updates))
	_, err := p.Run()
	return err
}
