package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"invisibrow/internal/events"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Start the terminal UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI()
	},
}

const logTail = 12

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	borderStyle = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
)

type busEventMsg events.Event

type refreshMsg time.Time

type tuiModel struct {
	app       *app
	sessionID string

	input textinput.Model
	tasks table.Model

	logs    []string
	pending *events.Event // unresolved verification request
	err     error
}

func newTUIModel(a *app, sessionID string) tuiModel {
	ti := textinput.New()
	ti.Placeholder = "enter a goal and press Enter"
	ti.Focus()
	ti.CharLimit = 500

	columns := []table.Column{
		{Title: "ID", Width: 8},
		{Title: "Status", Width: 10},
		{Title: "Goal", Width: 44},
		{Title: "Tokens", Width: 9},
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithHeight(8),
	)

	return tuiModel{app: a, sessionID: sessionID, input: ti, tasks: tbl}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.app.bus), refreshTick())
}

func waitForEvent(bus *events.Bus) tea.Cmd {
	ch, cancel := bus.Subscribe()
	return func() tea.Msg {
		defer cancel()
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return busEventMsg(ev)
	}
}

func refreshTick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			goal := strings.TrimSpace(m.input.Value())
			if goal == "" {
				break
			}
			m.input.Reset()
			if _, err := m.app.scheduler.Submit(m.sessionID, goal); err != nil {
				m.err = err
			}
			m.refreshTasks()
			return m, nil
		case "ctrl+v":
			// Resolve the pending verification once the user solved it.
			if m.pending != nil {
				m.app.bus.Publish(events.Event{
					Kind:      events.KindVerificationResolved,
					SessionID: m.pending.SessionID,
				})
				m.pending = nil
			}
			return m, nil
		case "ctrl+x":
			if row := m.tasks.SelectedRow(); row != nil {
				for _, t := range m.app.scheduler.Tasks() {
					if strings.HasPrefix(t.ID, row[0]) && !t.Status.IsTerminal() {
						_ = m.app.scheduler.Stop(t.ID)
					}
				}
			}
			return m, nil
		}

	case busEventMsg:
		ev := events.Event(msg)
		switch ev.Kind {
		case events.KindLog:
			m.appendLog(fmt.Sprintf("[%s] %s", ev.Level, ev.Message))
		case events.KindVerificationNeeded:
			cp := ev
			m.pending = &cp
			m.appendLog(fmt.Sprintf("verification needed: %s (%s)", ev.Reason, ev.URL))
		case events.KindVerificationResolved:
			m.pending = nil
		}
		return m, waitForEvent(m.app.bus)

	case refreshMsg:
		m.refreshTasks()
		return m, refreshTick()
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.tasks, cmd = m.tasks.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *tuiModel) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > logTail {
		m.logs = m.logs[len(m.logs)-logTail:]
	}
}

func (m *tuiModel) refreshTasks() {
	list := m.app.scheduler.Tasks()
	rows := make([]table.Row, 0, len(list))
	for _, t := range list {
		goal := t.Goal
		if len(goal) > 44 {
			goal = goal[:41] + "..."
		}
		rows = append(rows, table.Row{
			shortID(t.ID),
			string(t.Status),
			goal,
			fmt.Sprintf("%d", t.TokenUsage.InputTokens+t.TokenUsage.OutputTokens),
		})
	}
	m.tasks.SetRows(rows)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (m tuiModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("invisibrow"))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(borderStyle.Render(m.tasks.View()))
	b.WriteString("\n")

	if m.pending != nil {
		b.WriteString(alertStyle.Render(
			fmt.Sprintf("verification needed: %s - solve it in the browser, then press ctrl+v", m.pending.Reason)))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(alertStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}

	for _, line := range m.logs {
		b.WriteString(statusStyle.Render(line))
		b.WriteString("\n")
	}
	b.WriteString(statusStyle.Render("enter: submit  ctrl+x: stop task  ctrl+v: resolve  esc: quit"))
	return b.String()
}

func runTUI() error {
	a, err := newApp(context.Background())
	if err != nil {
		return err
	}
	defer a.close()

	sess, err := a.defaultSession()
	if err != nil {
		return err
	}

	p := tea.NewProgram(newTUIModel(a, sess.ID), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
