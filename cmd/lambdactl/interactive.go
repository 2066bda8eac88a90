package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/limes-faas/faas"
	"github.com/wippyai/limes-faas/lambda"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statusReadyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
	statusRunningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700"))
	statusStoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	selectedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#7D56F4"))
	resultStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90"))
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	helpStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

type consoleState int

const (
	stateInputArg consoleState = iota
	stateShowResult
)

type functionRow struct {
	id     string
	status faas.Status
}

type consoleModel struct {
	rt       *faas.Runtime
	err      error
	filename string
	moduleID string
	fns      []functionRow
	selected int
	arg      textinput.Model
	result   string
	state    consoleState
	loading  bool
}

func newConsoleModel(rt *faas.Runtime, filename string) *consoleModel {
	ti := textinput.New()
	ti.Placeholder = "argument passed to run(args)"
	ti.Prompt = "arg: "
	ti.Width = 50
	return &consoleModel{rt: rt, filename: filename, arg: ti, loading: true, state: stateInputArg}
}

type registeredMsg struct {
	moduleID string
	err      error
}

type initializedMsg struct {
	functionID string
	err        error
}

type execResultMsg struct {
	result string
	err    error
}

func (m *consoleModel) Init() tea.Cmd {
	return m.registerModule
}

func (m *consoleModel) registerModule() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return registeredMsg{err: err}
	}
	id, err := m.rt.RegisterModule(context.Background(), data)
	return registeredMsg{moduleID: id, err: err}
}

func (m *consoleModel) initFunction() tea.Msg {
	id, err := m.rt.InitFunction(context.Background(), m.moduleID, netip.Addr{}, lambda.WASIConfig{})
	return initializedMsg{functionID: id, err: err}
}

func (m *consoleModel) execSelected() tea.Msg {
	row := m.fns[m.selected]
	result, err := m.rt.ExecFunction(context.Background(), row.id, m.arg.Value())
	return execResultMsg{result: result, err: err}
}

func (m *consoleModel) stopSelected() tea.Msg {
	row := m.fns[m.selected]
	err := m.rt.StopFunction(row.id)
	return execResultMsg{err: err}
}

func (m *consoleModel) refreshStatus() {
	for i := range m.fns {
		status, err := m.rt.FunctionStatus(m.fns[i].id)
		if err == nil {
			m.fns[i].status = status
		}
	}
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "n":
			if m.moduleID != "" && m.state == stateInputArg {
				return m, m.initFunction
			}

		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.selected < len(m.fns)-1 {
				m.selected++
			}

		case "enter":
			if m.state == stateInputArg && len(m.fns) > 0 {
				return m, m.execSelected
			}
			if m.state == stateShowResult {
				m.state = stateInputArg
				m.result = ""
				m.err = nil
			}

		case "s":
			if len(m.fns) > 0 {
				return m, m.stopSelected
			}
		}

	case registeredMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.moduleID = msg.moduleID
		return m, m.initFunction

	case initializedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.fns = append(m.fns, functionRow{id: msg.functionID, status: faas.StatusReady})

	case execResultMsg:
		m.refreshStatus()
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	var cmd tea.Cmd
	m.arg, cmd = m.arg.Update(msg)
	return m, cmd
}

func (m *consoleModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("lambdactl"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	if m.loading {
		b.WriteString("Registering module...\n")
		return b.String()
	}
	if m.err != nil && m.state != stateShowResult {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	}

	b.WriteString(fmt.Sprintf("Module: %s\n\n", m.moduleID))
	b.WriteString("Functions (n to init another):\n")
	for i, fn := range m.fns {
		cursor := "  "
		line := fmt.Sprintf("%s  %s", fn.id, statusLabel(fn.status))
		if i == m.selected {
			cursor = "> "
			b.WriteString(selectedStyle.Render(cursor + line))
		} else {
			b.WriteString(cursor + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch m.state {
	case stateInputArg:
		b.WriteString(m.arg.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter exec • s stop • n init another • q quit"))
	case stateShowResult:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render("Result: " + m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func statusLabel(s faas.Status) string {
	switch s {
	case faas.StatusReady:
		return statusReadyStyle.Render("ready")
	case faas.StatusRunning:
		return statusRunningStyle.Render("running")
	case faas.StatusStopped:
		return statusStoppedStyle.Render("stopped")
	default:
		return "unknown"
	}
}

func runInteractive(filename string, vcpus int, memory uint64, maxFunctions int) error {
	ctx := context.Background()
	rt, err := faas.NewBuilder().
		WithVCPUs(vcpus).
		WithTotalMemory(memory).
		WithMaxFunctions(maxFunctions).
		Build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	p := tea.NewProgram(newConsoleModel(rt, filename), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
