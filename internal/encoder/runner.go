package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	DefaultGracePeriod = 5 * time.Second
	defaultEventBuffer = 64
	maxStatusLineBytes = 1024 * 1024
)

// Config holds the runner's configuration.
type Config struct {
	GracePeriod time.Duration // interrupt-to-kill escalation delay
	EventBuffer int           // Start's progress channel capacity
	Logger      *slog.Logger
}

// Runner owns at most one encoder process at a time.
type Runner struct {
	cfg Config

	mu        sync.Mutex
	active    bool
	cancelled bool
	pass      int
	stop      context.CancelFunc
}

func NewRunner(cfg Config) *Runner {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{cfg: cfg}
}

// Active reports whether a process is currently owned by the runner.
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// CurrentPass returns the pass being encoded, or 0 when idle.
func (r *Runner) CurrentPass() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pass
}

// Cancel requests termination of the active run and marks it cancelled.
// It returns immediately; the outcome arrives through Run or the Handle.
// Calling it while idle does nothing.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.cancelled {
		return
	}
	r.cancelled = true
	r.cfg.Logger.Info("encoder cancel requested", "pass", r.pass)
	if r.stop != nil {
		r.stop()
	}
}

// Run executes one pass and blocks until it reaches a terminal state. The
// returned error is only set when nothing was launched; everything after a
// successful start is reported through Outcome.
func (r *Runner) Run(ctx context.Context, req RunRequest, sink func(ProgressEvent)) (Outcome, error) {
	p, err := r.launch(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if p.done {
		return p.outcome, nil
	}
	return p.monitor(sink), nil
}

// Handle is the asynchronous view of a run started with Start.
type Handle struct {
	runner *Runner
	events chan ProgressEvent
	done   chan Outcome
}

// Events delivers progress. It is closed before the outcome is sent on Done.
func (h *Handle) Events() <-chan ProgressEvent { return h.events }

// Done receives exactly one Outcome and is then closed.
func (h *Handle) Done() <-chan Outcome { return h.done }

// Cancel is a shortcut for the owning runner's Cancel.
func (h *Handle) Cancel() { h.runner.Cancel() }

// Start launches a pass and monitors it on a separate goroutine. Launch
// errors are returned synchronously. Events are dropped when the consumer
// falls behind; the outcome never is.
func (r *Runner) Start(ctx context.Context, req RunRequest) (*Handle, error) {
	p, err := r.launch(ctx, req)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		runner: r,
		events: make(chan ProgressEvent, r.cfg.EventBuffer),
		done:   make(chan Outcome, 1),
	}

	go func() {
		out := p.outcome
		if !p.done {
			out = p.monitor(func(ev ProgressEvent) {
				select {
				case h.events <- ev:
				default:
				}
			})
		}
		close(h.events)
		h.done <- out
		close(h.done)
	}()

	return h, nil
}

// process is the state of one launched run.
type process struct {
	r       *Runner
	req     RunRequest
	cmd     *exec.Cmd
	ctx     context.Context
	stderr  io.ReadCloser
	tail    *limitedWriter
	started time.Time

	// done is set when the run ended before the process started, for
	// example because it was cancelled in between.
	done    bool
	outcome Outcome
}

func (r *Runner) launch(ctx context.Context, req RunRequest) (*process, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	runCtx, stop := context.WithCancel(ctx)
	r.active = true
	r.cancelled = false
	r.pass = req.PassIndex
	r.stop = stop
	r.mu.Unlock()

	path, err := exec.LookPath(req.Command[0])
	if err != nil {
		r.release()
		return nil, classifyLaunchError(req.Command[0], err)
	}

	cmd := exec.CommandContext(runCtx, path, req.Command[1:]...)
	cmd.Cancel = func() error { return interrupt(cmd.Process) }
	cmd.WaitDelay = r.cfg.GracePeriod

	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.release()
		return nil, &LaunchError{Path: path, Err: err}
	}

	p := &process{r: r, req: req, cmd: cmd, ctx: runCtx, stderr: stderr, tail: newTail()}

	r.cfg.Logger.Info("executing encoder command",
		"args", req.Command,
		"pass", req.PassIndex,
		"passes", req.PassCount,
	)

	p.started = time.Now()
	if err := cmd.Start(); err != nil {
		if runCtx.Err() != nil {
			r.release()
			return &process{done: true, outcome: Outcome{
				Status:   StatusCancelled,
				ExitCode: -1,
				Detail:   "cancelled before launch",
			}}, nil
		}
		r.release()
		return nil, classifyLaunchError(path, err)
	}

	return p, nil
}

// release frees the active-run slot.
func (r *Runner) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		r.stop()
	}
	r.active = false
	r.pass = 0
	r.stop = nil
}

func (r *Runner) wasCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// monitor reads the status stream until EOF, waits for the process and
// classifies the exit. The runner slot is released before it returns.
func (p *process) monitor(sink func(ProgressEvent)) Outcome {
	defer p.r.release()

	log := p.r.cfg.Logger
	readErr := p.readProgress(sink)
	if readErr != nil {
		log.Error("encoder progress monitor failed", "error", readErr)
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		_, _ = io.Copy(p.tail, p.stderr)
	}

	waitErr := p.cmd.Wait()
	elapsed := time.Since(p.started)

	exitCode := 0
	if p.cmd.ProcessState != nil {
		exitCode = p.cmd.ProcessState.ExitCode()
	} else if waitErr != nil {
		exitCode = -1
	}

	tail := strings.TrimSpace(p.tail.String())
	out := Outcome{ExitCode: exitCode, Duration: elapsed}

	switch {
	case readErr != nil:
		out.Status = StatusFailed
		out.Detail = strings.TrimSpace(readErr.Error() + "\n" + tail)
	case p.r.wasCancelled() || p.ctx.Err() != nil:
		out.Status = StatusCancelled
		out.Detail = "cancelled"
	case exitCode == 0 && (waitErr == nil || errors.Is(waitErr, exec.ErrWaitDelay)):
		out.Status = StatusSucceeded
	default:
		out.Status = StatusFailed
		out.Detail = tail
		if out.Detail == "" && waitErr != nil {
			out.Detail = waitErr.Error()
		}
	}

	switch out.Status {
	case StatusFailed:
		log.Warn("encoder command failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(out.Detail, 512),
		)
	case StatusCancelled:
		log.Info("encoder command cancelled",
			"pass", p.req.PassIndex,
			"duration_ms", elapsed.Milliseconds(),
		)
	default:
		log.Info("encoder command succeeded",
			"pass", p.req.PassIndex,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return out
}

// readProgress consumes stderr line by line, keeping the tail and emitting
// monotonic progress events. A panicking sink is reported as an error.
func (p *process) readProgress(sink func(ProgressEvent)) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("progress sink panicked: %v", v)
		}
	}()

	mapper := NewProgressMapper(p.req)
	last := -1

	scanner := bufio.NewScanner(io.TeeReader(p.stderr, p.tail))
	scanner.Buffer(make([]byte, 0, 64*1024), maxStatusLineBytes)
	scanner.Split(scanStatusLines)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		elapsed, ok := ParseElapsed(line)
		if !ok {
			p.r.cfg.Logger.Debug("encoder output", "line", truncate(line, 256))
			continue
		}
		if elapsed < last {
			continue
		}
		last = elapsed
		pct, ok := mapper.Percent(elapsed)
		if !ok || sink == nil {
			continue
		}
		sink(ProgressEvent{
			PassIndex:      p.req.PassIndex,
			PassCount:      p.req.PassCount,
			ElapsedSeconds: elapsed,
			OverallPercent: pct,
		})
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, fs.ErrClosed) {
		return fmt.Errorf("reading encoder output: %w", err)
	}
	return nil
}

func classifyLaunchError(path string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrExecutableNotFound, path)
	}
	return &LaunchError{Path: path, Err: err}
}

// interrupt asks the process to stop gracefully, falling back to a kill
// where interrupts are unsupported.
func interrupt(p *os.Process) error {
	if p == nil {
		return nil
	}
	err := p.Signal(os.Interrupt)
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return p.Kill()
}
