// Package jobs queues compress jobs, persists their history and drives the
// encoder through each job's passes.
package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/shorty/shorty-agent/internal/ffmpeg"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"

	OriginAPI   = "api"
	OriginWatch = "watch"
	OriginCLI   = "cli"
)

type Job struct {
	ID              string         `json:"id"`
	Status          string         `json:"status"`
	Origin          string         `json:"origin"`
	InputPath       string         `json:"input_path"`
	OutputPath      string         `json:"output_path"`
	Settings        ffmpeg.Options `json:"settings"`
	DurationSeconds float64        `json:"duration_seconds"`
	Pass            int            `json:"pass"`
	Passes          int            `json:"passes"`
	Progress        float64        `json:"progress"`
	VideoKbps       int            `json:"video_kbps,omitempty"`
	AudioKbps       int            `json:"audio_kbps,omitempty"`
	OutputBytes     int64          `json:"output_bytes,omitempty"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

// IsTerminal reports whether the job can no longer change state.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func NewID() string {
	return uuid.NewString()
}
