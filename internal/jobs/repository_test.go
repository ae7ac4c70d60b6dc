package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/shorty/shorty-agent/internal/ffmpeg"
)

func newTestJob(id string, created time.Time) *Job {
	return &Job{
		ID:         id,
		Status:     StatusPending,
		Origin:     OriginCLI,
		InputPath:  "/videos/" + id + ".mov",
		OutputPath: "/videos/" + id + "_compressed.mp4",
		Settings:   ffmpeg.Options{Mode: ffmpeg.ModeCRF, CRF: 28, Codec: ffmpeg.CodecH265},
		Passes:     1,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestRepository_JobLifecycle(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	job := newTestJob("j1", time.Now())
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if err := repo.MarkJobRunning(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateJobProgress(ctx, job.ID, 1, 42.5); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusRunning || got.Pass != 1 || got.Progress != 42.5 {
		t.Errorf("running job = %s pass %d progress %v", got.Status, got.Pass, got.Progress)
	}
	if got.Settings.CRF != 28 || got.Settings.Codec != ffmpeg.CodecH265 {
		t.Errorf("Settings = %+v", got.Settings)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt not set")
	}

	if err := repo.FinishJob(ctx, job.ID, StatusCompleted, "", 1234); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetJob(ctx, job.ID)
	if got.Status != StatusCompleted || got.Progress != 100 || got.OutputBytes != 1234 {
		t.Errorf("finished job = %s progress %v bytes %d", got.Status, got.Progress, got.OutputBytes)
	}

	if ok, err := repo.CancelPendingJob(ctx, job.ID); err != nil || ok {
		t.Errorf("CancelPendingJob() on a finished job = %v, %v", ok, err)
	}
}

func TestRepository_FailedKeepsProgress(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	job := newTestJob("j1", time.Now())
	repo.CreateJob(ctx, job)
	repo.MarkJobRunning(ctx, job.ID)
	repo.UpdateJobProgress(ctx, job.ID, 1, 30)

	if err := repo.FinishJob(ctx, job.ID, StatusFailed, "exit 1", 0); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetJob(ctx, job.ID)
	if got.Progress != 30 || got.Error != "exit 1" {
		t.Errorf("failed job progress %v error %q", got.Progress, got.Error)
	}
}

func TestRepository_Ordering(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"first", "second", "third"} {
		if err := repo.CreateJob(ctx, newTestJob(id, base.Add(time.Duration(i)*time.Millisecond))); err != nil {
			t.Fatal(err)
		}
	}
	repo.FinishJob(ctx, "second", StatusCancelled, "", 0)

	pending, err := repo.ListPendingJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != "first" || pending[1].ID != "third" {
		t.Errorf("ListPendingJobs() = %v", ids(pending))
	}

	all, err := repo.ListJobs(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "third" || all[2].ID != "first" {
		t.Errorf("ListJobs() = %v, want newest first", ids(all))
	}

	limited, _ := repo.ListJobs(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("ListJobs(1) returned %d jobs", len(limited))
	}

	if n, _ := repo.CountJobs(ctx, StatusPending); n != 2 {
		t.Errorf("CountJobs(pending) = %d, want 2", n)
	}
	if n, _ := repo.CountJobs(ctx, ""); n != 3 {
		t.Errorf("CountJobs(all) = %d, want 3", n)
	}
}

func TestRepository_GetJobMissing(t *testing.T) {
	_, repo := setupTestDB(t)
	job, err := repo.GetJob(context.Background(), "missing")
	if err != nil || job != nil {
		t.Errorf("GetJob() = %v, %v, want nil, nil", job, err)
	}
}

func TestRepository_Config(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	if v, err := repo.GetConfig(ctx, "runner.paused"); err != nil || v != "" {
		t.Errorf("GetConfig() = %q, %v, want empty", v, err)
	}
	repo.SetConfig(ctx, "runner.paused", "true")
	repo.SetConfig(ctx, "runner.paused", "false")
	if v, _ := repo.GetConfig(ctx, "runner.paused"); v != "false" {
		t.Errorf("GetConfig() = %q, want false", v)
	}
}

func ids(jobs []*Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
