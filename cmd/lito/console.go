package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/lito/core"
	"github.com/muesli/reflow/wordwrap"
)

const consoleWidth = 80

var (
	userLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	noticeStyle         = lipgloss.NewStyle().Faint(true)
	errorStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// console prints recognized utterances and replies as plain lines. Lines typed
// on stdin are sent as prompts, "/cancel" interrupts the current reply.
type console struct {
	in io.Reader

	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer, in io.Reader) *console {
	return &console{out: out, in: in}
}

func (c *console) println(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, text)
}

func (c *console) labelled(style lipgloss.Style, label, text string) {
	c.println(style.Render(label) + " " + wordwrap.String(text, consoleWidth-len(label)-1))
}

func (c *console) callbacks() []orchestration.OrchestratorOption {
	return []orchestration.OrchestratorOption{
		orchestration.WithTranscriptionCallback(func(utterance orchestration.Utterance) {
			c.labelled(userLabelStyle, "Recognized:", utterance.Text)
		}),
		orchestration.WithResponseEndCallback(func(record orchestration.TurnRecord) {
			if record.Reply != "" {
				c.labelled(assistantLabelStyle, "Bot response:", record.Reply)
			}
		}),
		orchestration.WithCancellationCallback(func(record orchestration.TurnRecord) {
			c.println(noticeStyle.Render(fmt.Sprintf("(interrupted after %d of the reply's sentences)", len(record.Spoken))))
		}),
		orchestration.WithErrorCallback(func(err error) {
			c.println(errorStyle.Render("error: " + err.Error()))
		}),
	}
}

func (c *console) run(ctx context.Context, orchestrator *orchestration.Orchestrator) error {
	go c.readPrompts(orchestrator)
	return orchestrator.Orchestrate(ctx)
}

func (c *console) readPrompts(orchestrator *orchestration.Orchestrator) {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/cancel":
			orchestrator.CancelTurn()
		default:
			if err := orchestrator.SendPrompt(line); err != nil {
				return
			}
		}
	}
}
