// Package watcher queues compress jobs for videos dropped into a folder.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/shorty/shorty-agent/internal/ffmpeg"
	"github.com/shorty/shorty-agent/internal/jobs"
	"github.com/shorty/shorty-agent/internal/logging"
	"github.com/shorty/shorty-agent/internal/output"
)

const DefaultQuietPeriod = 2 * time.Second

// JobCreator is the part of the job service the watcher feeds.
type JobCreator interface {
	CreateJob(ctx context.Context, req jobs.CreateRequest) (*jobs.Job, error)
}

type Config struct {
	Dir          string
	TargetSizeMB float64
	QuietPeriod  time.Duration
	Logger       *slog.Logger
}

type pendingFile struct {
	lastEvent time.Time
	size      int64
}

// FolderWatcher turns new video files in Dir into size-mode jobs once they
// have stopped changing for QuietPeriod.
type FolderWatcher struct {
	dir     string
	target  float64
	quiet   time.Duration
	creator JobCreator
	logger  *slog.Logger
	fsw     *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*pendingFile
	queued  map[string]bool
}

func New(cfg Config, creator JobCreator) (*FolderWatcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watch directory is required")
	}
	if cfg.TargetSizeMB <= 0 {
		return nil, fmt.Errorf("watch target size must be positive, got %v", cfg.TargetSizeMB)
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch path is not a directory: %s", dir)
	}

	quiet := cfg.QuietPeriod
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &FolderWatcher{
		dir:     dir,
		target:  cfg.TargetSizeMB,
		quiet:   quiet,
		creator: creator,
		logger:  logger,
		fsw:     fsw,
		pending: make(map[string]*pendingFile),
		queued:  make(map[string]bool),
	}, nil
}

func (w *FolderWatcher) Dir() string {
	return w.dir
}

// Run processes filesystem events until ctx is cancelled, then closes the
// underlying watcher.
func (w *FolderWatcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	w.logger.Info("watching folder", "dir", logging.SanitizePath(w.dir), "target_mb", w.target)

	ticker := time.NewTicker(w.quiet / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("folder watcher stopped")
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev, time.Now())
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

func (w *FolderWatcher) handle(ev fsnotify.Event, now time.Time) {
	path := filepath.Clean(ev.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		delete(w.pending, path)
		delete(w.queued, path)
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if !isCandidate(path) || w.queued[path] {
		return
	}

	if p, ok := w.pending[path]; ok {
		p.lastEvent = now
		return
	}
	w.pending[path] = &pendingFile{lastEvent: now, size: -1}
	w.logger.Debug("new file seen", "file", filepath.Base(path))
}

// flush queues files that have been quiet for the full period and whose size
// held steady since the last check.
func (w *FolderWatcher) flush(ctx context.Context, now time.Time) {
	var ready []string

	w.mu.Lock()
	for path, p := range w.pending {
		if now.Sub(p.lastEvent) < w.quiet {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			delete(w.pending, path)
			continue
		}
		if info.Size() == 0 || info.Size() != p.size {
			p.size = info.Size()
			p.lastEvent = now
			continue
		}
		delete(w.pending, path)
		w.queued[path] = true
		ready = append(ready, path)
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.enqueue(ctx, path)
	}
}

func (w *FolderWatcher) enqueue(ctx context.Context, path string) {
	job, err := w.creator.CreateJob(ctx, jobs.CreateRequest{
		Options: ffmpeg.Options{
			Input:        path,
			Mode:         ffmpeg.ModeSize,
			TargetSizeMB: w.target,
		},
		Origin: jobs.OriginWatch,
	})
	if err != nil {
		w.logger.Warn("failed to queue watched file", "file", filepath.Base(path), "error", err)
		return
	}
	w.logger.Info("watched file queued", "file", filepath.Base(path), "job_id", job.ID)
}

// Pending reports how many files are waiting out the quiet period.
func (w *FolderWatcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func isCandidate(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return output.IsVideoFile(path) && !output.IsCompressedName(path)
}
