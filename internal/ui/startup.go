// Package ui renders terminal views for the desktop shell.
package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/openprism/desktop/internal/desktop"
)

// ProgressMsg carries one startup progress event into the model.
type ProgressMsg desktop.Progress

// DoneMsg ends startup.
type DoneMsg struct {
	Endpoint string
	Err      error
}

// StartFunc brings the backend up, reporting progress as it goes.
type StartFunc func(ctx context.Context, progress func(desktop.Progress)) (string, error)

// StartupModel shows a spinner with the startup steps seen so far.
type StartupModel struct {
	spinner  spinner.Model
	steps    []desktop.Progress
	endpoint string
	err      error
	done     bool
	aborted  bool
}

// NewStartupModel returns an idle startup view.
func NewStartupModel() StartupModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = warnStyle
	return StartupModel{spinner: s}
}

func (m StartupModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m StartupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.aborted = true
			return m, tea.Quit
		}
	case ProgressMsg:
		m.steps = append(m.steps, desktop.Progress(msg))
		return m, nil
	case DoneMsg:
		m.done = true
		m.endpoint = msg.Endpoint
		m.err = msg.Err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m StartupModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("OpenPrism"))
	b.WriteString("\n\n")
	for i, step := range m.steps {
		last := i == len(m.steps)-1
		var marker string
		switch {
		case step.Phase == desktop.PhaseFailed:
			marker = failStyle.Render("✗")
		case last && !m.done:
			marker = m.spinner.View()
		default:
			marker = okStyle.Render("✓")
		}
		fmt.Fprintf(&b, "%s %s\n", marker, describe(step))
	}
	switch {
	case m.err != nil:
		fmt.Fprintf(&b, "\n%s\n", failStyle.Render(m.err.Error()))
	case m.done:
		fmt.Fprintf(&b, "\n%s %s\n", okStyle.Render("backend ready at"), m.endpoint)
	case len(m.steps) == 0:
		fmt.Fprintf(&b, "%s starting\n", m.spinner.View())
	}
	return b.String()
}

func describe(p desktop.Progress) string {
	var label string
	switch p.Phase {
	case desktop.PhaseAllocate:
		label = "allocating port"
	case desktop.PhaseSpawn:
		label = "starting backend"
	case desktop.PhaseHealth:
		label = "waiting for health"
	case desktop.PhaseExternal:
		label = "checking external backend"
	case desktop.PhaseRetry:
		label = "retrying startup"
	case desktop.PhaseReady:
		label = "ready"
	case desktop.PhaseFailed:
		label = "startup failed"
	default:
		label = string(p.Phase)
	}
	if p.Attempt > 1 {
		label = fmt.Sprintf("%s (attempt %d)", label, p.Attempt)
	}
	if p.Detail != "" && p.Phase != desktop.PhaseFailed {
		label += " " + dimStyle.Render(p.Detail)
	}
	return label
}

// RunStartup drives start while rendering progress. Quitting the view
// cancels start.
func RunStartup(ctx context.Context, start StartFunc, opts ...tea.ProgramOption) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(NewStartupModel(), append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	result := make(chan DoneMsg, 1)
	go func() {
		endpoint, err := start(ctx, func(p desktop.Progress) {
			program.Send(ProgressMsg(p))
		})
		msg := DoneMsg{Endpoint: endpoint, Err: err}
		result <- msg
		program.Send(msg)
	}()

	final, runErr := program.Run()
	if m, ok := final.(StartupModel); ok && m.aborted {
		cancel()
	}
	done := <-result
	if done.Err == nil && runErr != nil && done.Endpoint == "" {
		return "", runErr
	}
	return done.Endpoint, done.Err
}
