// Package ui runs the system tray menu for the desktop agent.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/shorty/shorty-agent/internal/jobs"
)

const refreshInterval = 2 * time.Second

// TrayRunner is the part of the job runner the tray controls.
type TrayRunner interface {
	Pause()
	Resume()
	IsPaused() bool
	Snapshot() jobs.Snapshot
	CancelCurrent() bool
}

type Tray struct {
	jobSvc jobs.JobService
	runner TrayRunner
	logger *slog.Logger

	statusItem *systray.MenuItem
	queueItem  *systray.MenuItem
	pauseItem  *systray.MenuItem
	cancelItem *systray.MenuItem

	mu   sync.Mutex
	stop chan struct{}

	onQuit func()
}

type TrayConfig struct {
	JobService jobs.JobService
	Runner     TrayRunner
	Logger     *slog.Logger
	OnQuit     func()
}

func NewTray(cfg TrayConfig) *Tray {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tray{
		jobSvc: cfg.JobService,
		runner: cfg.Runner,
		logger: logger,
		stop:   make(chan struct{}),
		onQuit: cfg.OnQuit,
	}
}

// Run blocks on the platform event loop until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Shorty")
	systray.SetTooltip("Shorty Agent")

	t.statusItem = systray.AddMenuItem("Idle", "Current encode")
	t.statusItem.Disable()

	t.queueItem = systray.AddMenuItem("Queued: 0", "Jobs waiting to run")
	t.queueItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Stop picking up new jobs")
	t.cancelItem = systray.AddMenuItem("Cancel current job", "Stop the running encode")
	t.cancelItem.Disable()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Shorty Agent")

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-t.cancelItem.ClickedCh:
				t.cancelCurrent()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	go t.refreshLoop()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.stop)
	t.logger.Info("system tray exiting")
}

func (t *Tray) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	t.refresh()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.refresh()
		}
	}
}

func (t *Tray) refresh() {
	if t.runner == nil {
		return
	}
	snap := t.runner.Snapshot()

	queued := 0
	if t.jobSvc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		n, err := t.jobSvc.CountJobs(ctx, jobs.StatusPending)
		cancel()
		if err != nil {
			t.logger.Debug("failed to count queued jobs", "error", err)
		}
		queued = n
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.statusItem.SetTitle(statusTitle(snap))
	t.queueItem.SetTitle(fmt.Sprintf("Queued: %d", queued))
	t.pauseItem.SetTitle(pauseTitle(t.runner.IsPaused()))
	if snap.State == jobs.StateEncoding {
		t.cancelItem.Enable()
	} else {
		t.cancelItem.Disable()
	}
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
	} else {
		t.runner.Pause()
	}
	t.pauseItem.SetTitle(pauseTitle(t.runner.IsPaused()))
	t.statusItem.SetTitle(statusTitle(t.runner.Snapshot()))
}

func (t *Tray) cancelCurrent() {
	if t.runner == nil {
		return
	}
	if t.runner.CancelCurrent() {
		t.logger.Info("current job cancel requested from tray")
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

func statusTitle(s jobs.Snapshot) string {
	switch s.State {
	case jobs.StateEncoding:
		if s.Passes > 1 {
			return fmt.Sprintf("Pass %d/%d: %.0f%%", s.Pass, s.Passes, s.Percent)
		}
		return fmt.Sprintf("Encoding: %.0f%%", s.Percent)
	case jobs.StatePaused:
		return "Paused"
	}
	return "Idle"
}

func pauseTitle(paused bool) string {
	if paused {
		return "Resume"
	}
	return "Pause"
}
