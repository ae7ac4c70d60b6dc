package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shorty/shorty-agent/internal/bitrate"
	"github.com/shorty/shorty-agent/internal/encoder"
	"github.com/shorty/shorty-agent/internal/ffmpeg"
)

const (
	StateIdle     = "idle"
	StateEncoding = "encoding"
	StatePaused   = "paused"

	pausedConfigKey   = "runner.paused"
	shutdownMessage   = "interrupted by shutdown"
	maxErrorDetail    = 512
	progressSaveDelta = 1.0
	progressSaveEvery = 2 * time.Second
)

// Snapshot is the runner state shown by status surfaces.
type Snapshot struct {
	State   string  `json:"state"`
	JobID   string  `json:"job_id,omitempty"`
	Pass    int     `json:"pass,omitempty"`
	Passes  int     `json:"passes,omitempty"`
	Percent float64 `json:"percent"`
}

type activeJob struct {
	id              string
	pass            int
	passes          int
	percent         float64
	cancel          context.CancelFunc
	cancelRequested bool
}

type Runner struct {
	service      *Service
	repo         Repository
	enc          PassRunner
	hub          *Hub
	ffmpegPath   string
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
	wake         chan struct{}

	mu     sync.Mutex
	active *activeJob
}

func NewRunner(service *Service, repo Repository, enc PassRunner, hub *Hub, ffmpegPath string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Runner{
		service:      service,
		repo:         repo,
		enc:          enc,
		hub:          hub,
		ffmpegPath:   ffmpegPath,
		logger:       logger,
		pollInterval: 5 * time.Second,
		wake:         make(chan struct{}, 1),
	}
	if service != nil {
		service.attach(r)
	}
	return r
}

// LoadState restores the paused flag saved by a previous process.
func (r *Runner) LoadState(ctx context.Context) error {
	v, err := r.repo.GetConfig(ctx, pausedConfigKey)
	if err != nil {
		return err
	}
	r.paused.Store(v == "true")
	return nil
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.wake:
		}
		for !r.paused.Load() && ctx.Err() == nil && r.processNextJob(ctx) {
		}
	}
}

// Wake makes the loop look for pending jobs now instead of at the next tick.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) Pause() {
	r.setPaused(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.setPaused(false)
	r.logger.Info("job runner resumed")
	r.Wake()
}

func (r *Runner) setPaused(v bool) {
	r.paused.Store(v)
	if err := r.repo.SetConfig(context.Background(), pausedConfigKey, fmt.Sprint(v)); err != nil {
		r.logger.Warn("failed to persist runner state", "error", err)
	}
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a := r.active; a != nil {
		return Snapshot{State: StateEncoding, JobID: a.id, Pass: a.pass, Passes: a.passes, Percent: a.percent}
	}
	if r.paused.Load() {
		return Snapshot{State: StatePaused}
	}
	return Snapshot{State: StateIdle}
}

// CancelActive stops jobID if it is the job being encoded. It returns
// false when that job is not active.
func (r *Runner) CancelActive(jobID string) bool {
	r.mu.Lock()
	a := r.active
	if a == nil || a.id != jobID {
		r.mu.Unlock()
		return false
	}
	a.cancelRequested = true
	r.mu.Unlock()

	a.cancel()
	r.enc.Cancel()
	return true
}

// CancelCurrent stops whichever job is being encoded.
func (r *Runner) CancelCurrent() bool {
	r.mu.Lock()
	a := r.active
	r.mu.Unlock()
	if a == nil {
		return false
	}
	return r.CancelActive(a.id)
}

func (r *Runner) processNextJob(ctx context.Context) bool {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return false
	}

	if len(jobs) == 0 {
		return false
	}

	r.execute(ctx, jobs[0])
	return true
}

func (r *Runner) execute(ctx context.Context, job *Job) {
	log := r.logger.With("job_id", job.ID)
	dbCtx := context.WithoutCancel(ctx)

	if err := r.repo.MarkJobRunning(dbCtx, job.ID); err != nil {
		log.Error("failed to mark job running", "error", err)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.setActive(&activeJob{id: job.ID, passes: job.Passes, cancel: cancel})
	r.publish(Event{JobID: job.ID, Type: EventStatus, Status: StatusRunning, Passes: job.Passes})

	log.Info("processing job",
		"input", job.InputPath,
		"output", job.OutputPath,
		"passes", job.Passes,
	)

	plan := Plan{Passes: job.Passes, ClipSeconds: job.DurationSeconds}
	if job.Settings.Mode == ffmpeg.ModeSize {
		plan.Bitrate = &bitrate.Result{VideoKbps: job.VideoKbps, AudioKbps: job.AudioKbps}
	}

	lastSaved := -progressSaveDelta
	lastSavedAt := time.Time{}
	onPass := func(pass int) {
		r.updateActive(func(a *activeJob) { a.pass = pass })
		if err := r.repo.UpdateJobProgress(dbCtx, job.ID, pass, r.Snapshot().Percent); err != nil {
			log.Warn("failed to save job pass", "error", err)
		}
		log.Info("encoder pass started", "pass", pass, "passes", job.Passes)
	}
	sink := func(ev encoder.ProgressEvent) {
		r.updateActive(func(a *activeJob) {
			a.pass = ev.PassIndex
			a.percent = ev.OverallPercent
		})
		r.publish(Event{
			JobID:          job.ID,
			Type:           EventProgress,
			Pass:           ev.PassIndex,
			Passes:         ev.PassCount,
			ElapsedSeconds: ev.ElapsedSeconds,
			Percent:        ev.OverallPercent,
		})
		if ev.OverallPercent-lastSaved >= progressSaveDelta || time.Since(lastSavedAt) >= progressSaveEvery {
			if err := r.repo.UpdateJobProgress(dbCtx, job.ID, ev.PassIndex, ev.OverallPercent); err == nil {
				lastSaved, lastSavedAt = ev.OverallPercent, time.Now()
			}
		}
	}

	out, pass, runErr := RunPasses(jobCtx, r.enc, r.ffmpegPath, job.Settings, plan, onPass, sink)
	cancelRequested := r.clearActive()

	status, msg := classify(out, pass, job.Passes, runErr, cancelRequested, ctx.Err() != nil)

	var outputBytes int64
	if status == StatusCompleted {
		if info, err := os.Stat(job.OutputPath); err == nil {
			outputBytes = info.Size()
		}
	} else if pass == job.Passes {
		if err := os.Remove(job.OutputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to remove partial output", "error", err)
		}
	}

	if err := r.repo.FinishJob(dbCtx, job.ID, status, msg, outputBytes); err != nil {
		log.Error("failed to finish job", "error", err)
	}

	final := Event{JobID: job.ID, Type: EventStatus, Status: status, Pass: pass, Passes: job.Passes, Error: msg}
	if status == StatusCompleted {
		final.Percent = 100
	}
	r.publish(final)

	switch status {
	case StatusCompleted:
		log.Info("job completed", "output_bytes", outputBytes, "duration", out.Duration)
	case StatusCancelled:
		log.Info("job cancelled", "pass", pass)
	default:
		log.Error("job failed", "pass", pass, "error", msg)
	}
}

func classify(out encoder.Outcome, pass, passes int, runErr error, cancelRequested, shuttingDown bool) (string, string) {
	if runErr != nil {
		if errors.Is(runErr, encoder.ErrExecutableNotFound) {
			return StatusFailed, "encoder executable not found"
		}
		return StatusFailed, runErr.Error()
	}
	switch out.Status {
	case encoder.StatusSucceeded:
		return StatusCompleted, ""
	case encoder.StatusCancelled:
		if !cancelRequested && shuttingDown {
			return StatusFailed, shutdownMessage
		}
		return StatusCancelled, ""
	default:
		return StatusFailed, fmt.Sprintf("pass %d of %d exited %d: %s",
			pass, passes, out.ExitCode, truncateStr(out.Detail, maxErrorDetail))
	}
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}

func (r *Runner) setActive(a *activeJob) {
	r.mu.Lock()
	r.active = a
	r.mu.Unlock()
}

func (r *Runner) updateActive(fn func(*activeJob)) {
	r.mu.Lock()
	if r.active != nil {
		fn(r.active)
	}
	r.mu.Unlock()
}

func (r *Runner) clearActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	requested := r.active != nil && r.active.cancelRequested
	r.active = nil
	return requested
}

func (r *Runner) publish(ev Event) {
	if r.hub != nil {
		r.hub.Publish(ev)
	}
}
