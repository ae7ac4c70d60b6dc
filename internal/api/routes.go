package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shorty/shorty-agent/internal/bitrate"
	"github.com/shorty/shorty-agent/internal/encoder"
	"github.com/shorty/shorty-agent/internal/jobs"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())
	r.Use(middleware.GetHead)

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/bitrate", bitrateHandler(cfg))
		r.Post("/jobs", createJobHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Post("/jobs/{id}/cancel", cancelJobHandler(cfg))
		r.With(LoopbackGuard()).Get("/jobs/{id}/events", jobEventsHandler(cfg))
		r.With(LoopbackGuard()).Get("/jobs/{id}/output", jobOutputHandler(cfg))
		r.Post("/runner/pause", pauseHandler(cfg))
		r.Post("/runner/resume", resumeHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		version := cfg.Version
		if version == "" {
			version = "dev"
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		pending, _ := cfg.JobService.CountJobs(ctx, jobs.StatusPending)
		total, _ := cfg.JobService.CountJobs(ctx, "")

		resp := StatusResponse{
			State:       jobs.StateIdle,
			JobsPending: pending,
			JobsTotal:   total,
		}

		if cfg.Runner != nil {
			snap := cfg.Runner.Snapshot()
			resp.State = snap.State
			resp.Paused = cfg.Runner.IsPaused()
			if snap.JobID != "" {
				resp.ActiveJob = &ActiveJobResponse{ID: snap.JobID, Pass: snap.Pass, Passes: snap.Passes, Percent: snap.Percent}
			}
		}

		if resp.State == jobs.StateIdle {
			recent, _ := cfg.JobService.ListJobs(ctx, 1)
			if len(recent) > 0 && recent[0].Status == jobs.StatusFailed {
				resp.State = "error"
				resp.LastError = recent[0].Error
			}
		}

		if cfg.Doctor != nil {
			caps, err := cfg.Doctor.Get(ctx)
			if err == nil && caps != nil {
				resp.Encoder = &EncoderStatusResponse{
					Path:     caps.Path,
					Version:  caps.Version,
					Encoders: caps.EncoderList(),
				}
				if !caps.ProbedAt.IsZero() {
					resp.Encoder.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
			} else if resp.State == jobs.StateIdle {
				resp.State = "error"
				resp.LastError = "encoder unavailable"
			}
		}

		if cfg.System != nil {
			st := cfg.System.Sample(ctx)
			resp.System = &st
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func bitrateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BitrateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		res, err := bitrate.Allocate(bitrate.Request{
			TargetSizeMB:    req.TargetSizeMB,
			DurationSeconds: req.DurationSeconds,
			AudioBitrate:    req.AudioBitrate,
			RemoveAudio:     req.RemoveAudio,
		})
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusOK, BitrateResponse{
			VideoKbps:   res.VideoKbps,
			AudioKbps:   res.AudioKbps,
			EstimatedMB: bitrate.EstimateSizeMB(res, req.DurationSeconds),
		})
	}
}

func createJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.Input == "" {
			WriteError(w, http.StatusBadRequest, "input is required", "BAD_REQUEST")
			return
		}
		req.PassLogFile = ""

		job, err := cfg.JobService.CreateJob(r.Context(), jobs.CreateRequest{
			Options:         req.Options,
			DurationSeconds: req.DurationSeconds,
			Origin:          jobs.OriginAPI,
		})
		if err != nil {
			writeJobError(w, err)
			return
		}

		WriteJSON(w, http.StatusAccepted, CreateJobResponse{
			JobID:       job.ID,
			Passes:      job.Passes,
			VideoKbps:   job.VideoKbps,
			AudioKbps:   job.AudioKbps,
			OutputPath:  job.OutputPath,
			EventsURL:   "/jobs/" + job.ID + "/events",
			DownloadURL: "/jobs/" + job.ID + "/output",
		})
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 || n > 500 {
				WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500", "BAD_REQUEST")
				return
			}
			limit = n
		}

		list, err := cfg.JobService.ListJobs(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(list))}
		for i, j := range list {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.JobService.GetJob(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func cancelJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := cfg.JobService.CancelJob(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}

		WriteJSON(w, http.StatusAccepted, JobToResponse(job))
	}
}

func jobOutputHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := cfg.JobService.GetJob(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}
		if job.Status != jobs.StatusCompleted {
			WriteError(w, http.StatusConflict, "job has no output yet", "CONFLICT")
			return
		}
		if cfg.PlaybackServer == nil {
			WriteError(w, http.StatusInternalServerError, "output serving not configured", "INTERNAL_ERROR")
			return
		}

		if err := cfg.PlaybackServer.ServeFile(w, r, job.OutputPath); err != nil {
			cfg.Logger.Error("output download error", "error", err, "job_id", id)
		}
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusInternalServerError, "runner not configured", "INTERNAL_ERROR")
			return
		}
		cfg.Runner.Pause()
		WriteJSON(w, http.StatusOK, RunnerResponse{Paused: true, State: cfg.Runner.Snapshot().State})
	}
}

func resumeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusInternalServerError, "runner not configured", "INTERNAL_ERROR")
			return
		}
		cfg.Runner.Resume()
		WriteJSON(w, http.StatusOK, RunnerResponse{Paused: false, State: cfg.Runner.Snapshot().State})
	}
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
	case errors.Is(err, jobs.ErrJobFinished), errors.Is(err, jobs.ErrJobNotActive):
		WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
	case errors.Is(err, encoder.ErrExecutableNotFound):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "ENCODER_NOT_FOUND")
	case errors.Is(err, jobs.ErrInputNotFound),
		errors.Is(err, jobs.ErrInvalidJob),
		errors.Is(err, jobs.ErrProbeFailed):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
