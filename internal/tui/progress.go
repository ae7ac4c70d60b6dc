// Package tui renders a compress run's progress in the terminal.
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shorty/shorty-agent/internal/encoder"
)

var (
	appStyle = lipgloss.NewStyle().Margin(1, 2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFF")).
			Background(lipgloss.Color("#2D7FF9")).
			Padding(0, 1).
			Bold(true)

	stepStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#2D7FF9")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	doneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00C853")).Bold(true)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5252")).Bold(true)

	barFullStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#2D7FF9"))
	barEmptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

const barWidth = 40

// PassMsg announces that a pass is starting.
type PassMsg struct {
	Pass   int
	Passes int
}

// ProgressMsg carries one progress sample from the encoder.
type ProgressMsg encoder.ProgressEvent

// DoneMsg ends the run.
type DoneMsg struct {
	Outcome encoder.Outcome
	Pass    int
	Err     error
}

type Config struct {
	Title    string
	Detail   string // shown under the title, e.g. the bitrate plan
	Passes   int
	Events   <-chan tea.Msg
	OnCancel func()
}

type Model struct {
	cfg     Config
	spinner spinner.Model

	pass       int
	percent    float64
	elapsed    int
	cancelling bool
	done       bool
	result     DoneMsg
}

func New(cfg Config) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	if cfg.Passes < 1 {
		cfg.Passes = 1
	}
	return Model{cfg: cfg, spinner: s, pass: 1}
}

// Listen waits for the next message from the encode goroutine.
func Listen(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return DoneMsg{Err: fmt.Errorf("encode stopped without a result")}
		}
		return msg
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, Listen(m.cfg.Events))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			if m.done {
				return m, tea.Quit
			}
			if !m.cancelling {
				m.cancelling = true
				if m.cfg.OnCancel != nil {
					m.cfg.OnCancel()
				}
			}
		}
		return m, nil

	case PassMsg:
		m.pass = msg.Pass
		if msg.Passes > 0 {
			m.cfg.Passes = msg.Passes
		}
		return m, Listen(m.cfg.Events)

	case ProgressMsg:
		m.pass = msg.PassIndex
		m.elapsed = msg.ElapsedSeconds
		m.percent = msg.OverallPercent
		return m, Listen(m.cfg.Events)

	case DoneMsg:
		m.done = true
		m.result = msg
		if msg.Err == nil && msg.Outcome.IsSuccess() {
			m.percent = 100
		}
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" Shorty "))
	s.WriteString(" " + m.cfg.Title)
	s.WriteString("\n")
	if m.cfg.Detail != "" {
		s.WriteString(dimStyle.Render(m.cfg.Detail))
		s.WriteString("\n")
	}
	s.WriteString("\n")

	switch {
	case m.done:
		s.WriteString(m.resultLine())
	default:
		label := "Compressing"
		if m.cfg.Passes > 1 {
			label = fmt.Sprintf("Pass %d/%d", m.pass, m.cfg.Passes)
		}
		if m.cancelling {
			label = "Cancelling"
		}
		s.WriteString(stepStyle.Render(label))
		s.WriteString("\n\n")
		s.WriteString(fmt.Sprintf("%s %s  %.0f%%\n\n", m.spinner.View(), renderBar(m.percent), m.percent))
		s.WriteString(dimStyle.Render(fmt.Sprintf("encoded %s  ·  ctrl+c to cancel", formatClock(m.elapsed))))
	}

	return appStyle.Render(s.String())
}

func (m Model) resultLine() string {
	r := m.result
	switch {
	case r.Err != nil:
		return errStyle.Render("Error: " + r.Err.Error())
	case r.Outcome.Status == encoder.StatusCancelled:
		return dimStyle.Render("Cancelled.")
	case r.Outcome.IsSuccess():
		return doneStyle.Render(fmt.Sprintf("Done in %s", r.Outcome.Duration.Round(time.Second)))
	}
	return errStyle.Render(fmt.Sprintf("Encoder exited with code %d", r.Outcome.ExitCode))
}

// Result is the run's outcome once the program has quit.
func (m Model) Result() (DoneMsg, bool) {
	return m.result, m.done
}

func (m Model) Percent() float64 {
	return m.percent
}

func renderBar(percent float64) string {
	filled := int(math.Max(0, math.Min(barWidth, percent/100*barWidth)))
	return barFullStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", barWidth-filled))
}

func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}
