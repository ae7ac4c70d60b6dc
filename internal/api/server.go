package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/shorty/shorty-agent/internal/ffmpeg"
	"github.com/shorty/shorty-agent/internal/jobs"
	"github.com/shorty/shorty-agent/internal/playback"
	"github.com/shorty/shorty-agent/internal/sysinfo"
)

// RunnerControl is the part of the job runner the API drives.
type RunnerControl interface {
	Pause()
	Resume()
	IsPaused() bool
	Snapshot() jobs.Snapshot
}

// TokenStore holds the bearer token clients must present.
type TokenStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	JobService     jobs.JobService
	Runner         RunnerControl
	Hub            *jobs.Hub
	Doctor         *ffmpeg.CachedDoctor
	PlaybackServer playback.PlaybackService
	Tokens         TokenStore
	System         sysinfo.Sampler
	Logger         *slog.Logger
	StartTime      time.Time
	DeviceID       string
	Version        string
}

// NewServer builds a server bound to loopback only. Port 0 picks a free port.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)),
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

// Listen binds the port so a conflict is reported before Serve runs in the
// background.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	return nil
}

// Serve blocks until Shutdown. Output downloads and event streams are long
// lived, so there is no write timeout.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("starting HTTP server", "addr", s.Addr())
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr is the bound address once listening, otherwise the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}
