package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/lito/core"
	"github.com/muesli/reflow/wordwrap"
)

const maxTranscriptLines = 200

type (
	stateMsg      orchestration.State
	interimMsg    string
	utteranceMsg  string
	responseMsg   string
	turnEndMsg    orchestration.TurnRecord
	turnCancelMsg orchestration.TurnRecord
	errMsg        struct{ err error }
	stoppedMsg    struct{ err error }
)

// tui shows the conversation with a live state indicator and a prompt line.
// Orchestrator callbacks reach the model through Program.Send.
type tui struct {
	program *tea.Program
}

func newTUI() *tui {
	return &tui{}
}

func (t *tui) send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

func (t *tui) callbacks() []orchestration.OrchestratorOption {
	return []orchestration.OrchestratorOption{
		orchestration.WithStateChangedCallback(func(state orchestration.State) { t.send(stateMsg(state)) }),
		orchestration.WithInterimTranscriptionCallback(func(transcript string) { t.send(interimMsg(transcript)) }),
		orchestration.WithTranscriptionCallback(func(utterance orchestration.Utterance) { t.send(utteranceMsg(utterance.Text)) }),
		orchestration.WithResponseCallback(func(delta string) { t.send(responseMsg(delta)) }),
		orchestration.WithResponseEndCallback(func(record orchestration.TurnRecord) { t.send(turnEndMsg(record)) }),
		orchestration.WithCancellationCallback(func(record orchestration.TurnRecord) { t.send(turnCancelMsg(record)) }),
		orchestration.WithErrorCallback(func(err error) { t.send(errMsg{err}) }),
	}
}

func (t *tui) run(ctx context.Context, orchestrator *orchestration.Orchestrator) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.program = tea.NewProgram(newTUIModel(orchestrator, cancel), tea.WithAltScreen(), tea.WithContext(ctx))

	stopped := make(chan error, 1)
	go func() {
		err := orchestrator.Orchestrate(ctx)
		stopped <- err
		t.send(stoppedMsg{err})
	}()

	_, err := t.program.Run()
	cancel()
	if orchestratorErr := <-stopped; orchestratorErr != nil {
		return orchestratorErr
	}
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

type tuiModel struct {
	orchestrator *orchestration.Orchestrator
	quit         context.CancelFunc

	spinner spinner.Model
	input   textinput.Model
	width   int

	state      orchestration.State
	interim    string
	reply      strings.Builder
	transcript []string
}

func newTUIModel(orchestrator *orchestration.Orchestrator, quit context.CancelFunc) *tuiModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	input := textinput.New()
	input.Placeholder = "type a prompt, Esc interrupts, Ctrl+C quits"
	input.Focus()

	return &tuiModel{
		orchestrator: orchestrator,
		quit:         quit,
		spinner:      s,
		input:        input,
		width:        consoleWidth,
	}
}

func (m *tuiModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink)
}

func (m *tuiModel) appendLine(line string) {
	m.transcript = append(m.transcript, line)
	if len(m.transcript) > maxTranscriptLines {
		m.transcript = m.transcript[len(m.transcript)-maxTranscriptLines:]
	}
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.quit()
			return m, tea.Quit
		case tea.KeyEsc:
			return m, m.cancelTurn
		case tea.KeyEnter:
			prompt := strings.TrimSpace(m.input.Value())
			if prompt == "" {
				return m, nil
			}
			m.input.Reset()
			m.appendLine(userLabelStyle.Render("You:") + " " + prompt)
			return m, m.sendPrompt(prompt)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-4, 10)
		return m, nil

	case stateMsg:
		m.state = orchestration.State(msg)
		return m, nil

	case interimMsg:
		m.interim = string(msg)
		return m, nil

	case utteranceMsg:
		m.interim = ""
		m.appendLine(userLabelStyle.Render("Recognized:") + " " + string(msg))
		return m, nil

	case responseMsg:
		m.reply.WriteString(string(msg))
		return m, nil

	case turnEndMsg:
		m.reply.Reset()
		if msg.Reply != "" {
			m.appendLine(assistantLabelStyle.Render("Bot response:") + " " + msg.Reply)
		}
		return m, nil

	case turnCancelMsg:
		m.reply.Reset()
		m.appendLine(noticeStyle.Render(fmt.Sprintf("(interrupted: %s)", strings.Join(msg.Spoken, ""))))
		return m, nil

	case errMsg:
		m.appendLine(errorStyle.Render("error: " + msg.err.Error()))
		return m, nil

	case stoppedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// Orchestrator calls run as commands, off the event loop, because its
// callbacks block on Program.Send.
func (m *tuiModel) cancelTurn() tea.Msg {
	m.orchestrator.CancelTurn()
	return nil
}

func (m *tuiModel) sendPrompt(prompt string) tea.Cmd {
	return func() tea.Msg {
		if err := m.orchestrator.SendPrompt(prompt); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m *tuiModel) View() string {
	var b strings.Builder
	for _, line := range m.transcript {
		b.WriteString(wordwrap.String(line, m.width))
		b.WriteString("\n")
	}
	if m.reply.Len() > 0 {
		b.WriteString(wordwrap.String(assistantLabelStyle.Render("Bot:")+" "+m.reply.String(), m.width))
		b.WriteString("\n")
	}

	status := m.state.String()
	if m.state != orchestration.StateIdle {
		status = m.spinner.View() + " " + status
	}
	if m.interim != "" {
		status += noticeStyle.Render("  " + m.interim)
	}
	b.WriteString("\n" + status + "\n")
	b.WriteString(m.input.View())
	return b.String()
}
