package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shorty/shorty-agent/internal/bitrate"
	"github.com/shorty/shorty-agent/internal/ffmpeg"
	"github.com/shorty/shorty-agent/internal/output"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobFinished   = errors.New("job already finished")
	ErrInputNotFound = errors.New("input file not found")
	ErrInvalidJob    = errors.New("invalid job")
	ErrProbeFailed   = errors.New("media probe failed")
	ErrJobNotActive  = errors.New("job is not active")
)

// Defaults fill options the caller left empty.
type Defaults struct {
	Codec        ffmpeg.Codec
	Hardware     ffmpeg.Hardware
	Preset       string
	AudioBitrate string
}

// CreateRequest asks for one compress job. DurationSeconds is only used
// when the source cannot be probed.
type CreateRequest struct {
	Options         ffmpeg.Options
	DurationSeconds float64
	Origin          string
}

// Plan is how a job will be encoded.
type Plan struct {
	Passes      int             `json:"passes"`
	ClipSeconds float64         `json:"clip_seconds"`
	Bitrate     *bitrate.Result `json:"bitrate,omitempty"`
}

// PlanEncode picks the pass count and, in size mode, the bitrates.
func PlanEncode(opts ffmpeg.Options, clipSeconds float64) (Plan, error) {
	p := Plan{Passes: ffmpeg.Passes(opts), ClipSeconds: clipSeconds}
	if opts.Mode != ffmpeg.ModeSize {
		return p, nil
	}
	res, err := bitrate.Allocate(bitrate.Request{
		TargetSizeMB:    opts.TargetSizeMB,
		DurationSeconds: clipSeconds,
		AudioBitrate:    opts.AudioBitrate,
		RemoveAudio:     opts.RemoveAudio,
	})
	if err != nil {
		return Plan{}, err
	}
	p.Bitrate = &res
	return p, nil
}

type JobService interface {
	CreateJob(ctx context.Context, req CreateRequest) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	CountJobs(ctx context.Context, status string) (int, error)
	CancelJob(ctx context.Context, id string) (*Job, error)
}

// dispatcher is the part of the Runner the service needs.
type dispatcher interface {
	CancelActive(jobID string) bool
	Wake()
}

type Service struct {
	repo     Repository
	prober   ffmpeg.MediaProber
	hub      *Hub
	defaults Defaults
	logger   *slog.Logger

	mu     sync.RWMutex
	runner dispatcher
}

func NewService(repo Repository, prober ffmpeg.MediaProber, hub *Hub, defaults Defaults, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, prober: prober, hub: hub, defaults: defaults, logger: logger}
}

func (s *Service) attach(r dispatcher) {
	s.mu.Lock()
	s.runner = r
	s.mu.Unlock()
}

func (s *Service) dispatcher() dispatcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runner
}

// Apply fills options the caller left unset, then the encoder's own
// defaults.
func (d Defaults) Apply(opts ffmpeg.Options) ffmpeg.Options {
	if opts.Codec == "" {
		opts.Codec = d.Codec
	}
	if opts.Hardware == "" {
		opts.Hardware = d.Hardware
	}
	if opts.Preset == "" {
		opts.Preset = d.Preset
	}
	if opts.AudioBitrate == "" {
		opts.AudioBitrate = d.AudioBitrate
	}
	return opts.WithDefaults()
}

// ApplyDefaults fills unset options from the agent configuration.
func (s *Service) ApplyDefaults(opts ffmpeg.Options) ffmpeg.Options {
	return s.defaults.Apply(opts)
}

// Prepare resolves paths, probes the source and plans the encode for req.
// The returned options are complete and validated.
func Prepare(ctx context.Context, prober ffmpeg.MediaProber, defaults Defaults, req CreateRequest, logger *slog.Logger) (ffmpeg.Options, Plan, error) {
	opts := defaults.Apply(req.Options)

	input, err := filepath.Abs(opts.Input)
	if err != nil || opts.Input == "" {
		return opts, Plan{}, fmt.Errorf("%w: input path is required", ErrInvalidJob)
	}
	info, err := os.Stat(input)
	if err != nil {
		return opts, Plan{}, fmt.Errorf("%w: %s", ErrInputNotFound, filepath.Base(input))
	}
	if info.IsDir() {
		return opts, Plan{}, fmt.Errorf("%w: input is a directory", ErrInvalidJob)
	}
	opts.Input = input

	if opts.Output == "" {
		opts.Output = output.DefaultOutputPath(input, ".mp4")
	}
	if opts.Output, err = filepath.Abs(opts.Output); err != nil {
		return opts, Plan{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := output.ValidateOutputDir(filepath.Dir(opts.Output)); err != nil {
		return opts, Plan{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	sourceSeconds := req.DurationSeconds
	if prober != nil {
		media, err := prober.Probe(ctx, input)
		switch {
		case err == nil:
			if media.Duration > 0 {
				sourceSeconds = media.Duration
			}
			if opts.SourceWidth == 0 && opts.SourceHeight == 0 {
				opts.SourceWidth, opts.SourceHeight = media.Width, media.Height
			}
			if !media.HasAudio {
				opts.RemoveAudio = true
			}
		case sourceSeconds <= 0:
			return opts, Plan{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
		default:
			if logger != nil {
				logger.Warn("media probe failed, using supplied duration", "error", err)
			}
		}
	}

	if err := opts.Validate(); err != nil {
		return opts, Plan{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	clip := opts.ClipSeconds(sourceSeconds)
	if opts.Mode == ffmpeg.ModeSize && clip <= 0 {
		return opts, Plan{}, fmt.Errorf("%w: clip duration is unknown or empty", ErrInvalidJob)
	}
	plan, err := PlanEncode(opts, clip)
	if err != nil {
		return opts, Plan{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	return opts, plan, nil
}

func (s *Service) CreateJob(ctx context.Context, req CreateRequest) (*Job, error) {
	opts, plan, err := Prepare(ctx, s.prober, s.defaults, req, s.logger)
	if err != nil {
		return nil, err
	}
	clip := plan.ClipSeconds

	id := NewID()
	if plan.Passes > 1 {
		opts.PassLogFile = output.PassLogPrefix(opts.Output, id)
	}

	origin := req.Origin
	if origin == "" {
		origin = OriginAPI
	}

	now := time.Now()
	job := &Job{
		ID:              id,
		Status:          StatusPending,
		Origin:          origin,
		InputPath:       opts.Input,
		OutputPath:      opts.Output,
		Settings:        opts,
		DurationSeconds: clip,
		Passes:          plan.Passes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if plan.Bitrate != nil {
		job.VideoKbps = plan.Bitrate.VideoKbps
		job.AudioKbps = plan.Bitrate.AudioKbps
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("compress job created",
		"job_id", job.ID,
		"origin", origin,
		"mode", opts.Mode,
		"passes", plan.Passes,
		"video_kbps", job.VideoKbps,
		"audio_kbps", job.AudioKbps,
	)

	if d := s.dispatcher(); d != nil {
		d.Wake()
	}
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

func (s *Service) CountJobs(ctx context.Context, status string) (int, error) {
	return s.repo.CountJobs(ctx, status)
}

// CancelJob cancels a pending job outright or asks the runner to stop a
// running one. The running case completes asynchronously.
func (s *Service) CancelJob(ctx context.Context, id string) (*Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return job, ErrJobFinished
	}

	if job.Status == StatusPending {
		ok, err := s.repo.CancelPendingJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			s.logger.Info("pending job cancelled", "job_id", id)
			if s.hub != nil {
				s.hub.Publish(Event{JobID: id, Type: EventStatus, Status: StatusCancelled})
			}
			return s.GetJob(ctx, id)
		}
	}

	if d := s.dispatcher(); d == nil || !d.CancelActive(id) {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.IsTerminal() {
			return job, ErrJobFinished
		}
		return job, fmt.Errorf("%w: %s", ErrJobNotActive, id)
	}

	s.logger.Info("running job cancel requested", "job_id", id)
	return s.GetJob(ctx, id)
}
