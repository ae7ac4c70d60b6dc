// Package config provides configuration management for the Shorty Agent.
// Configuration is loaded from environment variables with sensible defaults.
// A .env file in the working directory or the data directory is read first;
// it never overrides variables already set in the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort          = 8788
	DefaultLogLevel      = "info"
	DefaultDataDir       = ".shorty"
	DefaultCancelGrace   = 5 // seconds
	DefaultWatchTargetMB = 8
	DefaultAudio         = "96k"
	DefaultPreset        = "medium"
	DefaultCodec         = "h265"
	DefaultHardware      = "none"

	// Environment variable names
	EnvPort     = "SHORTY_PORT"
	EnvLogLevel = "SHORTY_LOG_LEVEL"
	EnvDataDir  = "SHORTY_DATA_DIR"
	EnvHeadless = "SHORTY_HEADLESS"

	// Encoder environment variable names
	EnvFFmpegPath         = "SHORTY_FFMPEG_PATH"
	EnvFFprobePath        = "SHORTY_FFPROBE_PATH"
	EnvCancelGraceSeconds = "SHORTY_CANCEL_GRACE_SECONDS"
	EnvDefaultAudio       = "SHORTY_DEFAULT_AUDIO"
	EnvDefaultPreset      = "SHORTY_DEFAULT_PRESET"
	EnvDefaultCodec       = "SHORTY_DEFAULT_CODEC"
	EnvDefaultHardware    = "SHORTY_DEFAULT_HW"

	// Watch folder environment variable names
	EnvWatchDir      = "SHORTY_WATCH_DIR"
	EnvWatchTargetMB = "SHORTY_WATCH_TARGET_MB"

	// Database filename
	DBFilename = "shorty.db"

	dotEnvFile = ".env"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	Headless() bool
	FFmpegPath() string
	FFprobePath() string
	CancelGrace() time.Duration
	WatchDir() string
	WatchTargetMB() float64
	DefaultAudio() string
	DefaultPreset() string
	DefaultCodec() string
	DefaultHardware() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	headless bool

	ffmpegPath  string
	ffprobePath string
	cancelGrace time.Duration

	watchDir      string
	watchTargetMB float64

	defaultAudio    string
	defaultPreset   string
	defaultCodec    string
	defaultHardware string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	if err := loadDotEnv(dotEnvFile); err != nil {
		return nil, err
	}

	cfg := &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		cancelGrace:     DefaultCancelGrace * time.Second,
		watchTargetMB:   DefaultWatchTargetMB,
		defaultAudio:    DefaultAudio,
		defaultPreset:   DefaultPreset,
		defaultCodec:    DefaultCodec,
		defaultHardware: DefaultHardware,
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}
	if err := loadDotEnv(filepath.Join(cfg.dataDir, dotEnvFile)); err != nil {
		return nil, err
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	cfg.ffmpegPath = os.Getenv(EnvFFmpegPath)
	cfg.ffprobePath = os.Getenv(EnvFFprobePath)

	if g := os.Getenv(EnvCancelGraceSeconds); g != "" {
		secs, err := strconv.ParseFloat(g, 64)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive number of seconds", EnvCancelGraceSeconds)
		}
		cfg.cancelGrace = time.Duration(secs * float64(time.Second))
	}

	cfg.watchDir = os.Getenv(EnvWatchDir)
	if w := os.Getenv(EnvWatchTargetMB); w != "" {
		mb, err := strconv.ParseFloat(w, 64)
		if err != nil || mb <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive size in MB", EnvWatchTargetMB)
		}
		cfg.watchTargetMB = mb
	}

	if a := os.Getenv(EnvDefaultAudio); a != "" {
		cfg.defaultAudio = a
	}
	if p := os.Getenv(EnvDefaultPreset); p != "" {
		cfg.defaultPreset = strings.ToLower(p)
	}
	if c := os.Getenv(EnvDefaultCodec); c != "" {
		cfg.defaultCodec = strings.ToLower(c)
	}
	if hw := os.Getenv(EnvDefaultHardware); hw != "" {
		cfg.defaultHardware = strings.ToLower(hw)
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// Headless disables the system tray
func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

// CancelGrace is how long a cancelled encoder may take to exit before it
// is killed
func (c *EnvConfig) CancelGrace() time.Duration {
	return c.cancelGrace
}

// WatchDir returns the watch folder, empty when disabled
func (c *EnvConfig) WatchDir() string {
	return c.watchDir
}

func (c *EnvConfig) WatchTargetMB() float64 {
	return c.watchTargetMB
}

func (c *EnvConfig) DefaultAudio() string {
	return c.defaultAudio
}

func (c *EnvConfig) DefaultPreset() string {
	return c.defaultPreset
}

func (c *EnvConfig) DefaultCodec() string {
	return c.defaultCodec
}

func (c *EnvConfig) DefaultHardware() string {
	return c.defaultHardware
}

// loadDotEnv reads path into the environment if it exists.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
