package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

const helperEnv = "SHORTY_ENCODER_HELPER"

// TestHelperProcess is not a real test. It is re-executed by the tests below
// to stand in for the encoder binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	mode, rest := args[1], args[2:]

	status := func(sec int) {
		fmt.Fprintf(os.Stderr, "frame=%d fps=30 q=28.0 size=%dkB time=00:%02d:%02d.50 bitrate=500kbits/s speed=1x\r",
			sec*30, sec*64, sec/60, sec%60)
	}

	switch mode {
	case "progress":
		n, _ := strconv.Atoi(rest[0])
		fmt.Fprintln(os.Stderr, "Input #0, mov,mp4, from 'in.mp4':")
		for i := 1; i <= n; i++ {
			status(i)
		}
		fmt.Fprintln(os.Stderr)
		os.Exit(0)
	case "sequence":
		for _, s := range rest {
			sec, _ := strconv.Atoi(s)
			status(sec)
		}
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "in.mp4: No such file or directory")
		os.Exit(1)
	case "flood":
		for i := 0; i < 2000; i++ {
			fmt.Fprintf(os.Stderr, "noise line %04d\n", i)
		}
		fmt.Fprintln(os.Stderr, "Conversion failed!")
		os.Exit(1)
	case "hang":
		status(1)
		time.Sleep(time.Minute)
		os.Exit(0)
	case "stubborn":
		signal.Ignore(os.Interrupt)
		status(1)
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(2)
}

func helperCommand(t *testing.T, args ...string) []string {
	t.Helper()
	t.Setenv(helperEnv, "1")
	return append([]string{os.Args[0], "-test.run=TestHelperProcess", "--"}, args...)
}

func newTestRunner() *Runner {
	return NewRunner(Config{GracePeriod: 500 * time.Millisecond})
}

func waitOutcome(t *testing.T, h *Handle) Outcome {
	t.Helper()
	select {
	case out := <-h.Done():
		return out
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

func firstEvent(t *testing.T, h *Handle) ProgressEvent {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		if !ok {
			t.Fatal("events closed before first progress")
		}
		return ev
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for progress")
		return ProgressEvent{}
	}
}

func TestRun_Success(t *testing.T) {
	r := newTestRunner()
	req := RunRequest{
		Command:                 helperCommand(t, "progress", "3"),
		ExpectedDurationSeconds: 10,
		PassIndex:               2,
		PassCount:               2,
	}

	var events []ProgressEvent
	out, err := r.Run(context.Background(), req, func(ev ProgressEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != StatusSucceeded || out.ExitCode != 0 {
		t.Fatalf("outcome = %+v, want succeeded", out)
	}
	if !out.IsSuccess() {
		t.Error("IsSuccess() = false")
	}

	want := []float64{55, 60, 65}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, ev := range events {
		if ev.ElapsedSeconds != i+1 {
			t.Errorf("event %d elapsed = %d, want %d", i, ev.ElapsedSeconds, i+1)
		}
		if ev.OverallPercent != want[i] {
			t.Errorf("event %d percent = %v, want %v", i, ev.OverallPercent, want[i])
		}
		if ev.PassIndex != 2 || ev.PassCount != 2 {
			t.Errorf("event %d pass = %d/%d", i, ev.PassIndex, ev.PassCount)
		}
	}

	if r.Active() {
		t.Error("runner still active after Run returned")
	}
	if r.CurrentPass() != 0 {
		t.Errorf("CurrentPass = %d after run, want 0", r.CurrentPass())
	}
}

func TestRun_DropsRegressions(t *testing.T) {
	r := newTestRunner()
	req := RunRequest{
		Command:                 helperCommand(t, "sequence", "5", "3", "7", "7"),
		ExpectedDurationSeconds: 100,
		PassIndex:               1,
		PassCount:               1,
	}

	var elapsed []int
	if _, err := r.Run(context.Background(), req, func(ev ProgressEvent) {
		elapsed = append(elapsed, ev.ElapsedSeconds)
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []int{5, 7, 7}
	if fmt.Sprint(elapsed) != fmt.Sprint(want) {
		t.Errorf("elapsed = %v, want %v", elapsed, want)
	}
}

func TestRun_UnknownDurationEmitsNothing(t *testing.T) {
	r := newTestRunner()
	req := RunRequest{
		Command:   helperCommand(t, "progress", "3"),
		PassIndex: 1,
		PassCount: 1,
	}

	calls := 0
	out, err := r.Run(context.Background(), req, func(ProgressEvent) { calls++ })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != StatusSucceeded {
		t.Errorf("status = %s", out.Status)
	}
	if calls != 0 {
		t.Errorf("sink called %d times, want 0", calls)
	}
}

func TestRun_FailureCarriesDiagnostics(t *testing.T) {
	r := newTestRunner()
	req := RunRequest{Command: helperCommand(t, "fail"), ExpectedDurationSeconds: 10, PassIndex: 1, PassCount: 1}

	out, err := r.Run(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", out.Status)
	}
	if out.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", out.ExitCode)
	}
	if !strings.Contains(out.Detail, "No such file or directory") {
		t.Errorf("detail = %q, want stderr text", out.Detail)
	}
}

func TestRun_FailureDetailIsBounded(t *testing.T) {
	r := newTestRunner()
	req := RunRequest{Command: helperCommand(t, "flood"), PassIndex: 1, PassCount: 1}

	out, err := r.Run(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Detail) > maxStderrBytes {
		t.Errorf("detail is %d bytes, want at most %d", len(out.Detail), maxStderrBytes)
	}
	if !strings.HasSuffix(out.Detail, "Conversion failed!") {
		t.Errorf("detail lost the final line: %q", truncate(out.Detail, 64))
	}
}

func TestRun_InvalidRequest(t *testing.T) {
	r := newTestRunner()
	tests := []struct {
		name string
		req  RunRequest
	}{
		{"empty command", RunRequest{PassIndex: 1, PassCount: 1}},
		{"zero pass count", RunRequest{Command: []string{"ffmpeg"}, PassIndex: 1}},
		{"zero pass index", RunRequest{Command: []string{"ffmpeg"}, PassCount: 2}},
		{"pass beyond count", RunRequest{Command: []string{"ffmpeg"}, PassIndex: 3, PassCount: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Run(context.Background(), tt.req, nil)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("error = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestRun_ExecutableNotFound(t *testing.T) {
	r := newTestRunner()
	for _, name := range []string{
		"shorty-no-such-encoder-binary",
		filepath.Join(t.TempDir(), "missing", "ffmpeg"),
	} {
		_, err := r.Run(context.Background(), RunRequest{Command: []string{name}, PassIndex: 1, PassCount: 1}, nil)
		if !errors.Is(err, ErrExecutableNotFound) {
			t.Errorf("Run(%q) error = %v, want ErrExecutableNotFound", name, err)
		}
		var le *LaunchError
		if errors.As(err, &le) {
			t.Errorf("Run(%q) returned a LaunchError for a missing binary", name)
		}
	}
	if r.Active() {
		t.Error("runner left active after launch failure")
	}
}

func TestRun_LaunchFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("not a program"), 0644); err != nil {
		t.Fatal(err)
	}

	r := newTestRunner()
	_, err := r.Run(context.Background(), RunRequest{Command: []string{path}, PassIndex: 1, PassCount: 1}, nil)
	if !errors.Is(err, ErrLaunchFailed) {
		t.Fatalf("error = %v, want ErrLaunchFailed", err)
	}
	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("error %T is not a *LaunchError", err)
	}
	if errors.Is(err, ErrExecutableNotFound) {
		t.Error("launch failure misreported as not found")
	}
}

func TestStart_CancelIsNotFailure(t *testing.T) {
	r := newTestRunner()
	h, err := r.Start(context.Background(), RunRequest{
		Command:                 helperCommand(t, "hang"),
		ExpectedDurationSeconds: 60,
		PassIndex:               1,
		PassCount:               2,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ev := firstEvent(t, h)
	if ev.OverallPercent >= 50 {
		t.Errorf("first pass percent = %v, want < 50", ev.OverallPercent)
	}
	if !r.Active() || r.CurrentPass() != 1 {
		t.Errorf("Active=%v CurrentPass=%d during run", r.Active(), r.CurrentPass())
	}

	h.Cancel()
	h.Cancel()

	out := waitOutcome(t, h)
	if out.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled (detail %q)", out.Status, out.Detail)
	}
	if _, open := <-h.Events(); open {
		t.Error("events channel still open after outcome")
	}
	if r.Active() {
		t.Error("runner still active after cancellation")
	}
}

func TestStart_CancelEscalatesToKill(t *testing.T) {
	r := NewRunner(Config{GracePeriod: 200 * time.Millisecond})
	h, err := r.Start(context.Background(), RunRequest{
		Command:                 helperCommand(t, "stubborn"),
		ExpectedDurationSeconds: 60,
		PassIndex:               1,
		PassCount:               1,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	firstEvent(t, h)

	began := time.Now()
	r.Cancel()
	out := waitOutcome(t, h)
	if out.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", out.Status)
	}
	if waited := time.Since(began); waited > 10*time.Second {
		t.Errorf("cancellation took %v", waited)
	}
}

func TestRun_ContextCancelIsCancelled(t *testing.T) {
	r := newTestRunner()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := r.Run(ctx, RunRequest{
		Command:                 helperCommand(t, "hang"),
		ExpectedDurationSeconds: 60,
		PassIndex:               1,
		PassCount:               1,
	}, func(ProgressEvent) { cancel() })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", out.Status)
	}
}

func TestRun_SinkPanicFails(t *testing.T) {
	r := newTestRunner()
	out, err := r.Run(context.Background(), RunRequest{
		Command:                 helperCommand(t, "hang"),
		ExpectedDurationSeconds: 60,
		PassIndex:               1,
		PassCount:               1,
	}, func(ProgressEvent) { panic("ui went away") })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", out.Status)
	}
	if !strings.Contains(out.Detail, "ui went away") {
		t.Errorf("detail = %q", out.Detail)
	}
	if r.Active() {
		t.Error("runner still active after failed run")
	}
}

func TestStart_Busy(t *testing.T) {
	r := newTestRunner()
	h, err := r.Start(context.Background(), RunRequest{
		Command:                 helperCommand(t, "hang"),
		ExpectedDurationSeconds: 60,
		PassIndex:               1,
		PassCount:               1,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer waitOutcome(t, h)
	defer h.Cancel()

	_, err = r.Run(context.Background(), RunRequest{Command: helperCommand(t, "progress", "1"), PassIndex: 1, PassCount: 1}, nil)
	if !errors.Is(err, ErrBusy) {
		t.Errorf("second run error = %v, want ErrBusy", err)
	}
}

func TestCancel_IdleIsNoop(t *testing.T) {
	r := newTestRunner()
	r.Cancel()

	out, err := r.Run(context.Background(), RunRequest{
		Command:   helperCommand(t, "progress", "1"),
		PassIndex: 1,
		PassCount: 1,
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != StatusSucceeded {
		t.Errorf("status = %s, want succeeded; an idle Cancel must not leak into the next run", out.Status)
	}
}
