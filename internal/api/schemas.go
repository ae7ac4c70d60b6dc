package api

import (
	"time"

	"github.com/shorty/shorty-agent/internal/ffmpeg"
	"github.com/shorty/shorty-agent/internal/jobs"
	"github.com/shorty/shorty-agent/internal/sysinfo"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State       string                 `json:"state"`
	LastError   string                 `json:"last_error,omitempty"`
	Paused      bool                   `json:"paused"`
	JobsPending int                    `json:"jobs_pending"`
	JobsTotal   int                    `json:"jobs_total"`
	ActiveJob   *ActiveJobResponse     `json:"active_job,omitempty"`
	Encoder     *EncoderStatusResponse `json:"encoder,omitempty"`
	System      *sysinfo.Stats         `json:"system,omitempty"`
}

type ActiveJobResponse struct {
	ID      string  `json:"id"`
	Pass    int     `json:"pass"`
	Passes  int     `json:"passes"`
	Percent float64 `json:"percent"`
}

type EncoderStatusResponse struct {
	Path        string   `json:"path"`
	Version     string   `json:"version"`
	Encoders    []string `json:"encoders"`
	LastProbeAt string   `json:"last_probe_at,omitempty"`
}

type BitrateRequest struct {
	TargetSizeMB    float64 `json:"target_size_mb"`
	DurationSeconds float64 `json:"duration_seconds"`
	AudioBitrate    string  `json:"audio_bitrate,omitempty"`
	RemoveAudio     bool    `json:"remove_audio,omitempty"`
}

type BitrateResponse struct {
	VideoKbps   int     `json:"video_kbps"`
	AudioKbps   int     `json:"audio_kbps"`
	EstimatedMB float64 `json:"estimated_mb"`
}

// CreateJobRequest is the encode options plus an optional duration used
// when the source cannot be probed.
type CreateJobRequest struct {
	ffmpeg.Options
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

type CreateJobResponse struct {
	JobID       string `json:"job_id"`
	Passes      int    `json:"passes"`
	VideoKbps   int    `json:"video_kbps,omitempty"`
	AudioKbps   int    `json:"audio_kbps,omitempty"`
	OutputPath  string `json:"output_path"`
	EventsURL   string `json:"events_url"`
	DownloadURL string `json:"download_url"`
}

type JobResponse struct {
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
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
	StartedAt       string         `json:"started_at,omitempty"`
	FinishedAt      string         `json:"finished_at,omitempty"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type RunnerResponse struct {
	Paused bool   `json:"paused"`
	State  string `json:"state"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JobToResponse(j *jobs.Job) JobResponse {
	resp := JobResponse{
		ID:              j.ID,
		Status:          j.Status,
		Origin:          j.Origin,
		InputPath:       j.InputPath,
		OutputPath:      j.OutputPath,
		Settings:        j.Settings,
		DurationSeconds: j.DurationSeconds,
		Pass:            j.Pass,
		Passes:          j.Passes,
		Progress:        j.Progress,
		VideoKbps:       j.VideoKbps,
		AudioKbps:       j.AudioKbps,
		OutputBytes:     j.OutputBytes,
		Error:           j.Error,
		CreatedAt:       j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       j.UpdatedAt.Format(time.RFC3339),
	}
	resp.Settings.PassLogFile = ""
	if j.StartedAt != nil {
		resp.StartedAt = j.StartedAt.Format(time.RFC3339)
	}
	if j.FinishedAt != nil {
		resp.FinishedAt = j.FinishedAt.Format(time.RFC3339)
	}
	return resp
}
