package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"

	"go-pcm/program"
	"go-pcm/scheduler"
	"go-pcm/theme"
)

// Model is the interactive monitor: it shows the waveform table and
// execution progress while the scheduler drives the instrument in the
// background.
type Model struct {
	Sched     *scheduler.Scheduler
	Ops       []program.Op
	ParseErrs []*program.ParseError
	Theme     *theme.Theme

	started  bool
	done     bool
	runErr   error
	quitting bool

	cancel context.CancelFunc
}

type UpdateMsg struct{}

type DoneMsg struct {
	Err error
}

func NewModel(sched *scheduler.Scheduler, res *program.Result, th *theme.Theme) Model {
	return Model{
		Sched:     sched,
		Ops:       res.Ops,
		ParseErrs: res.Errors,
		Theme:     th,
	}
}

func ListenForUpdates(sched *scheduler.Scheduler) tea.Cmd {
	return func() tea.Msg {
		<-sched.UpdateChan
		return UpdateMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return ListenForUpdates(m.Sched)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit

		case "r", "enter":
			if m.started {
				return m, nil
			}
			m.started = true
			ctx, cancel := context.WithCancel(context.Background())
			m.cancel = cancel
			sched, ops := m.Sched, m.Ops
			run := func() tea.Msg {
				return DoneMsg{Err: sched.Run(ctx, ops)}
			}
			return m, run
		}

	case UpdateMsg:
		return m, ListenForUpdates(m.Sched)

	case DoneMsg:
		m.done = true
		m.runErr = msg.Err
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	st := m.Sched.Status()

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	warnStyle := lipgloss.NewStyle().Foreground(m.Theme.Warning())
	activeStyle := lipgloss.NewStyle().Foreground(m.Theme.Active())
	fgStyle := lipgloss.NewStyle().Foreground(m.Theme.FG())

	state := "IDLE"
	switch {
	case st.Running:
		state = "RUN"
	case m.done && m.runErr != nil:
		state = "FAIL"
	case m.done:
		state = "DONE"
	}

	output := "off"
	if st.Output {
		output = "ON"
	}

	header := headerStyle.Render(fmt.Sprintf("go-pcm  %s  op %d/%d  sweeps:%d  output:%s  log:%s",
		state, st.OpIndex+1, st.OpCount, st.Sweeps, output, humanize.Comma(int64(st.LogLen))))

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")

	// Waveform table
	out.WriteString(dimStyle.Render("  id  samples  quantum      ticks      duration"))
	out.WriteString("\n")
	for _, row := range m.Sched.Waveforms() {
		if row.Err != "" {
			out.WriteString(warnStyle.Render(fmt.Sprintf("  %2d  %7d  %s", row.ID, row.Samples, row.Err)))
		} else {
			dur := durafmt.Parse(row.Duration.Round(time.Millisecond)).LimitFirstN(2)
			out.WriteString(fgStyle.Render(fmt.Sprintf("  %2d  %7d  %-11s  %9s  %s",
				row.ID, row.Samples, row.Quantum+" s", humanize.Comma(int64(row.Ticks)), dur)))
		}
		out.WriteString("\n")
	}

	// Parse errors, if the program had any
	if len(m.ParseErrs) > 0 {
		out.WriteString("\n")
		for _, perr := range m.ParseErrs {
			out.WriteString(warnStyle.Render("  " + perr.Error()))
			out.WriteString("\n")
		}
	}

	out.WriteString("\n")
	switch {
	case st.Running:
		out.WriteString(activeStyle.Render("  " + st.Current))
	case m.done && m.runErr != nil:
		out.WriteString(warnStyle.Render("  " + m.runErr.Error()))
	case m.done:
		out.WriteString(fgStyle.Render("  program complete"))
	default:
		out.WriteString(dimStyle.Render(fmt.Sprintf("  %d operations loaded", len(m.Ops))))
	}

	out.WriteString("\n\n")
	out.WriteString(dimStyle.Render("  r:run  q:quit"))
	out.WriteString("\n")

	return out.String()
}
