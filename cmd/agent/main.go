package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/shorty/shorty-agent/internal/api"
	"github.com/shorty/shorty-agent/internal/config"
	"github.com/shorty/shorty-agent/internal/db"
	"github.com/shorty/shorty-agent/internal/encoder"
	"github.com/shorty/shorty-agent/internal/ffmpeg"
	"github.com/shorty/shorty-agent/internal/jobs"
	"github.com/shorty/shorty-agent/internal/logging"
	"github.com/shorty/shorty-agent/internal/playback"
	"github.com/shorty/shorty-agent/internal/sysinfo"
	"github.com/shorty/shorty-agent/internal/ui"
	"github.com/shorty/shorty-agent/internal/watcher"
)

const deviceIDKey = "device_id"

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting shorty agent", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := jobs.NewRepository(database.Conn())

	deviceID, err := ensureConfigValue(context.Background(), repo, deviceIDKey, newDeviceID)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureConfigValue(context.Background(), repo, api.AuthTokenKey, newAuthToken)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	shownID := deviceID
	if len(shownID) > 16 {
		shownID = shownID[:16] + "..."
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                    SHORTY AGENT v%-25s║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-28d║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s║\n", shownID)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	ffmpegPath, err := ffmpeg.Locate(cfg.FFmpegPath(), "ffmpeg")
	if err != nil {
		logger.Warn("ffmpeg unavailable, jobs will fail until it is installed", "error", err)
		ffmpegPath = "ffmpeg"
	}

	var prober ffmpeg.MediaProber
	if ffprobePath, err := ffmpeg.Locate(cfg.FFprobePath(), "ffprobe"); err != nil {
		logger.Warn("ffprobe unavailable, jobs need an explicit duration", "error", err)
	} else {
		prober = ffmpeg.NewProber(ffprobePath, logger)
	}

	doctor := ffmpeg.NewCachedDoctor(ffmpeg.NewDoctor(ffmpegPath, logger), logger)
	initCtx, initCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial encoder probe failed", "error", err)
	} else {
		logger.Info("encoder detected",
			"path", logging.SanitizePath(caps.Path),
			"version", caps.Version,
			"encoders", len(caps.Encoders),
		)
	}
	initCancel()

	hub := jobs.NewHub()
	jobSvc := jobs.NewService(repo, prober, hub, jobs.Defaults{
		Codec:        ffmpeg.Codec(cfg.DefaultCodec()),
		Hardware:     ffmpeg.Hardware(cfg.DefaultHardware()),
		Preset:       cfg.DefaultPreset(),
		AudioBitrate: cfg.DefaultAudio(),
	}, logging.WithComponent(logger, "jobs"))

	enc := encoder.NewRunner(encoder.Config{
		GracePeriod: cfg.CancelGrace(),
		Logger:      logging.WithComponent(logger, "encoder"),
	})

	runner := jobs.NewRunner(jobSvc, repo, enc, hub, ffmpegPath, logging.WithComponent(logger, "runner"))
	if err := runner.LoadState(context.Background()); err != nil {
		logger.Warn("failed to restore runner state", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runnerDone := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(runnerDone)
	}()

	if dir := cfg.WatchDir(); dir != "" {
		fw, err := watcher.New(watcher.Config{
			Dir:          dir,
			TargetSizeMB: cfg.WatchTargetMB(),
			Logger:       logging.WithComponent(logger, "watcher"),
		}, jobSvc)
		if err != nil {
			logger.Warn("watch folder disabled", "error", err)
		} else {
			go fw.Run(ctx)
		}
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		JobService:     jobSvc,
		Runner:         runner,
		Hub:            hub,
		Doctor:         doctor,
		PlaybackServer: playback.NewServer(logger),
		Tokens:         repo,
		System:         sysinfo.NewHostSampler(logging.WithComponent(logger, "sysinfo")),
		Logger:         logger,
		StartTime:      startTime,
		DeviceID:       deviceID,
		Version:        config.Version,
	})

	if err := apiServer.Listen(); err != nil {
		cancel()
		waitForRunner(runnerDone, cfg.CancelGrace()+5*time.Second, logger)
		return err
	}
	go func() {
		if err := apiServer.Serve(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	var tray *ui.Tray
	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			JobService: jobSvc,
			Runner:     runner,
			Logger:     logger,
			OnQuit:     quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	waitForRunner(runnerDone, cfg.CancelGrace()+5*time.Second, logger)

	logger.Info("shutdown complete")
	return nil
}

// waitForRunner gives an in-flight encode time to stop and record its
// final status before the database closes.
func waitForRunner(done <-chan struct{}, limit time.Duration, logger *slog.Logger) {
	select {
	case <-done:
	case <-time.After(limit):
		logger.Warn("job runner did not stop in time")
	}
}

// ensureConfigValue returns the stored value for key, generating and
// persisting one on first run.
func ensureConfigValue(ctx context.Context, repo jobs.Repository, key string, generate func() (string, error)) (string, error) {
	if existing, err := repo.GetConfig(ctx, key); err == nil && existing != "" {
		return existing, nil
	}
	value, err := generate()
	if err != nil {
		return "", err
	}
	if err := repo.SetConfig(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}

func newDeviceID() (string, error) {
	return uuid.NewString(), nil
}

func newAuthToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
