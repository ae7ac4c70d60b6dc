package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/shorty/shorty-agent/internal/encoder"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return nm, cmd
}

func TestModel_Progress(t *testing.T) {
	events := make(chan tea.Msg, 1)
	m := New(Config{Title: "clip.mp4", Passes: 2, Events: events})

	m, cmd := update(t, m, PassMsg{Pass: 1, Passes: 2})
	if cmd == nil {
		t.Fatal("PassMsg should keep listening")
	}

	m, _ = update(t, m, ProgressMsg{PassIndex: 2, PassCount: 2, ElapsedSeconds: 45, OverallPercent: 87.5})
	if m.Percent() != 87.5 {
		t.Errorf("Percent() = %v, want 87.5", m.Percent())
	}

	view := m.View()
	for _, want := range []string{"clip.mp4", "Pass 2/2", "88%", "00:00:45"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}
}

func TestModel_SinglePassLabel(t *testing.T) {
	m := New(Config{Title: "clip.mp4", Passes: 1})
	if view := m.View(); !strings.Contains(view, "Compressing") {
		t.Errorf("View() = %q, want Compressing label", view)
	}
}

func TestModel_CancelOnce(t *testing.T) {
	calls := 0
	m := New(Config{Passes: 2, OnCancel: func() { calls++ }})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd != nil {
		t.Error("cancel should not quit before the encoder stops")
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})

	if calls != 1 {
		t.Errorf("OnCancel calls = %d, want 1", calls)
	}
	if !strings.Contains(m.View(), "Cancelling") {
		t.Errorf("View() should show Cancelling:\n%s", m.View())
	}
	if _, done := m.Result(); done {
		t.Error("Result() reported done before DoneMsg")
	}
}

func TestModel_Done(t *testing.T) {
	tests := []struct {
		name     string
		msg      DoneMsg
		wantText string
		wantPct  float64
	}{
		{"success", DoneMsg{Outcome: encoder.Outcome{Status: encoder.StatusSucceeded, Duration: 3 * time.Second}, Pass: 2}, "Done in 3s", 100},
		{"cancelled", DoneMsg{Outcome: encoder.Outcome{Status: encoder.StatusCancelled, ExitCode: -1}, Pass: 1}, "Cancelled.", 0},
		{"failed", DoneMsg{Outcome: encoder.Outcome{Status: encoder.StatusFailed, ExitCode: 1}, Pass: 1}, "exited with code 1", 0},
		{"error", DoneMsg{Err: errors.New("not found"), Pass: 1}, "Error: not found", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(Config{Passes: 2})
			m, cmd := update(t, m, tt.msg)
			if cmd == nil {
				t.Fatal("DoneMsg should quit")
			}

			res, done := m.Result()
			if !done {
				t.Fatal("Result() not done")
			}
			if res.Pass != tt.msg.Pass {
				t.Errorf("Pass = %d, want %d", res.Pass, tt.msg.Pass)
			}
			if m.Percent() != tt.wantPct {
				t.Errorf("Percent() = %v, want %v", m.Percent(), tt.wantPct)
			}
			if !strings.Contains(m.View(), tt.wantText) {
				t.Errorf("View() missing %q:\n%s", tt.wantText, m.View())
			}
		})
	}
}

func TestListen(t *testing.T) {
	events := make(chan tea.Msg, 1)
	events <- PassMsg{Pass: 2, Passes: 2}

	if msg := Listen(events)(); msg != (PassMsg{Pass: 2, Passes: 2}) {
		t.Errorf("Listen() = %#v", msg)
	}

	close(events)
	msg, ok := Listen(events)().(DoneMsg)
	if !ok || msg.Err == nil {
		t.Errorf("Listen() on closed channel = %#v, want DoneMsg with error", msg)
	}
}

func TestRenderBar(t *testing.T) {
	if got := strings.Count(renderBar(50), "█"); got != barWidth/2 {
		t.Errorf("filled cells at 50%% = %d, want %d", got, barWidth/2)
	}
	if got := strings.Count(renderBar(150), "█"); got != barWidth {
		t.Errorf("filled cells at 150%% = %d, want %d", got, barWidth)
	}
	if got := strings.Count(renderBar(-5), "░"); got != barWidth {
		t.Errorf("empty cells at -5%% = %d, want %d", got, barWidth)
	}
}

func TestFormatClock(t *testing.T) {
	cases := map[int]string{0: "00:00:00", 59: "00:00:59", 3725: "01:02:05", -3: "00:00:00"}
	for in, want := range cases {
		if got := formatClock(in); got != want {
			t.Errorf("formatClock(%d) = %q, want %q", in, got, want)
		}
	}
}
