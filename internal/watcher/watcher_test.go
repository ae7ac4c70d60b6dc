package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/shorty/shorty-agent/internal/ffmpeg"
	"github.com/shorty/shorty-agent/internal/jobs"
)

type fakeCreator struct {
	mu    sync.Mutex
	reqs  []jobs.CreateRequest
	err   error
	added chan struct{}
}

func newFakeCreator() *fakeCreator {
	return &fakeCreator{added: make(chan struct{}, 16)}
}

func (f *fakeCreator) CreateJob(ctx context.Context, req jobs.CreateRequest) (*jobs.Job, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	f.added <- struct{}{}
	if f.err != nil {
		return nil, f.err
	}
	return &jobs.Job{ID: "job-" + filepath.Base(req.Options.Input)}, nil
}

func (f *fakeCreator) requests() []jobs.CreateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]jobs.CreateRequest(nil), f.reqs...)
}

func newTestWatcher(t *testing.T, creator JobCreator) *FolderWatcher {
	t.Helper()
	w, err := New(Config{Dir: t.TempDir(), TargetSizeMB: 8, QuietPeriod: 2 * time.Second}, creator)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { w.fsw.Close() })
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNew_Validation(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.mp4")
	writeFile(t, file, "x")

	cases := []struct {
		name string
		cfg  Config
	}{
		{"empty dir", Config{TargetSizeMB: 8}},
		{"zero target", Config{Dir: t.TempDir()}},
		{"missing dir", Config{Dir: filepath.Join(t.TempDir(), "gone"), TargetSizeMB: 8}},
		{"file not dir", Config{Dir: file, TargetSizeMB: 8}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg, newFakeCreator()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFlush_QueuesAfterQuietPeriod(t *testing.T) {
	creator := newFakeCreator()
	w := newTestWatcher(t, creator)
	ctx := context.Background()

	path := filepath.Join(w.Dir(), "holiday.mp4")
	writeFile(t, path, "video-bytes")

	t0 := time.Now()
	w.handle(fsnotify.Event{Name: path, Op: fsnotify.Create}, t0)
	w.handle(fsnotify.Event{Name: path, Op: fsnotify.Write}, t0)

	w.flush(ctx, t0.Add(time.Second))
	w.flush(ctx, t0.Add(2*time.Second))
	if n := len(creator.requests()); n != 0 {
		t.Fatalf("queued %d jobs before size settled, want 0", n)
	}

	w.flush(ctx, t0.Add(4*time.Second))
	reqs := creator.requests()
	if len(reqs) != 1 {
		t.Fatalf("queued %d jobs, want 1", len(reqs))
	}

	req := reqs[0]
	if req.Origin != jobs.OriginWatch {
		t.Errorf("Origin = %s, want watch", req.Origin)
	}
	if req.Options.Mode != ffmpeg.ModeSize || req.Options.TargetSizeMB != 8 {
		t.Errorf("Options = %+v", req.Options)
	}
	if req.Options.Input != path {
		t.Errorf("Input = %s, want %s", req.Options.Input, path)
	}
	if w.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", w.Pending())
	}

	w.handle(fsnotify.Event{Name: path, Op: fsnotify.Write}, t0.Add(5*time.Second))
	w.flush(ctx, t0.Add(10*time.Second))
	if n := len(creator.requests()); n != 1 {
		t.Errorf("queued file was queued again: %d requests", n)
	}
}

func TestFlush_WaitsWhileGrowing(t *testing.T) {
	creator := newFakeCreator()
	w := newTestWatcher(t, creator)
	ctx := context.Background()

	path := filepath.Join(w.Dir(), "upload.mov")
	writeFile(t, path, "part")

	t0 := time.Now()
	w.handle(fsnotify.Event{Name: path, Op: fsnotify.Create}, t0)
	w.flush(ctx, t0.Add(2*time.Second))

	writeFile(t, path, "part-and-more")
	w.flush(ctx, t0.Add(4*time.Second))
	if n := len(creator.requests()); n != 0 {
		t.Fatalf("queued %d jobs while file was growing, want 0", n)
	}

	w.flush(ctx, t0.Add(6*time.Second))
	if n := len(creator.requests()); n != 1 {
		t.Fatalf("queued %d jobs, want 1", n)
	}
}

func TestHandle_IgnoresNonCandidates(t *testing.T) {
	w := newTestWatcher(t, newFakeCreator())
	now := time.Now()

	for _, name := range []string{"notes.txt", "clip_compressed.mp4", ".partial.mp4", "image.png"} {
		w.handle(fsnotify.Event{Name: filepath.Join(w.Dir(), name), Op: fsnotify.Create}, now)
	}
	w.handle(fsnotify.Event{Name: filepath.Join(w.Dir(), "clip.mkv"), Op: fsnotify.Chmod}, now)

	if n := w.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

func TestHandle_RemoveDropsPending(t *testing.T) {
	w := newTestWatcher(t, newFakeCreator())
	path := filepath.Join(w.Dir(), "clip.webm")
	now := time.Now()

	w.handle(fsnotify.Event{Name: path, Op: fsnotify.Create}, now)
	if n := w.Pending(); n != 1 {
		t.Fatalf("Pending() = %d, want 1", n)
	}

	w.handle(fsnotify.Event{Name: path, Op: fsnotify.Rename}, now)
	if n := w.Pending(); n != 0 {
		t.Errorf("Pending() = %d after rename, want 0", n)
	}
}

func TestFlush_VanishedFile(t *testing.T) {
	creator := newFakeCreator()
	w := newTestWatcher(t, creator)
	path := filepath.Join(w.Dir(), "temp.avi")
	t0 := time.Now()

	w.handle(fsnotify.Event{Name: path, Op: fsnotify.Create}, t0)
	w.flush(context.Background(), t0.Add(3*time.Second))

	if n := w.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
	if n := len(creator.requests()); n != 0 {
		t.Errorf("queued %d jobs for a missing file", n)
	}
}

func TestEnqueue_CreatorError(t *testing.T) {
	creator := newFakeCreator()
	creator.err = errors.New("probe failed")
	w := newTestWatcher(t, creator)

	w.enqueue(context.Background(), filepath.Join(w.Dir(), "broken.mp4"))

	if n := len(creator.requests()); n != 1 {
		t.Fatalf("CreateJob calls = %d, want 1", n)
	}
}

func TestRun_QueuesNewFile(t *testing.T) {
	creator := newFakeCreator()
	w, err := New(Config{Dir: t.TempDir(), TargetSizeMB: 8, QuietPeriod: 100 * time.Millisecond}, creator)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	writeFile(t, filepath.Join(w.Dir(), "drop.mp4"), "video")

	select {
	case <-creator.added:
	case <-time.After(5 * time.Second):
		t.Fatal("watched file was not queued")
	}

	reqs := creator.requests()
	if filepath.Base(reqs[0].Options.Input) != "drop.mp4" {
		t.Errorf("Input = %s", reqs[0].Options.Input)
	}
}
