package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	defaultCacheTTL     = 5 * time.Minute
	defaultProbeTimeout = 15 * time.Second
)

// Capabilities describes the local ffmpeg build.
type Capabilities struct {
	Path     string          `json:"path"`
	Version  string          `json:"version"`
	Encoders map[string]bool `json:"-"`
	ProbedAt time.Time       `json:"probed_at"`
}

// Supports reports whether the encoder for codec on hw is compiled in.
func (c *Capabilities) Supports(codec Codec, hw Hardware) bool {
	if c == nil {
		return false
	}
	return c.Encoders[EncoderName(codec, hw)]
}

// EncoderList returns the video encoders this agent knows how to drive that
// the build provides.
func (c *Capabilities) EncoderList() []string {
	var out []string
	for _, hw := range []Hardware{HardwareNone, HardwareNVIDIA, HardwareAMD, HardwareIntel} {
		for _, codec := range []Codec{CodecH264, CodecH265, CodecAV1} {
			if c.Supports(codec, hw) {
				out = append(out, EncoderName(codec, hw))
			}
		}
	}
	return out
}

// CapabilityProber is anything that can inspect the encoder install.
type CapabilityProber interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// Doctor runs ffmpeg itself to discover its version and encoders.
type Doctor struct {
	ffmpegPath string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewDoctor(ffmpegPath string, logger *slog.Logger) *Doctor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Doctor{ffmpegPath: ffmpegPath, timeout: defaultProbeTimeout, logger: logger}
}

// Probe runs `ffmpeg -version` and `ffmpeg -encoders`.
func (d *Doctor) Probe(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	versionOut, err := d.run(ctx, "-hide_banner", "-version")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -version: %w", err)
	}
	encodersOut, err := d.run(ctx, "-hide_banner", "-encoders")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -encoders: %w", err)
	}

	caps := &Capabilities{
		Path:     d.ffmpegPath,
		Version:  parseVersion(versionOut),
		Encoders: parseEncoders(encodersOut),
		ProbedAt: time.Now(),
	}

	d.logger.Info("encoder probe complete",
		"version", caps.Version,
		"encoders", caps.EncoderList(),
	)
	return caps, nil
}

func (d *Doctor) run(ctx context.Context, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// parseVersion reads "ffmpeg version 6.1.1-3ubuntu5 Copyright ...".
func parseVersion(out []byte) string {
	line, _, _ := strings.Cut(string(out), "\n")
	fields := strings.Fields(line)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "version" {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(line)
}

// parseEncoders reads the table printed by -encoders. Data rows look like
// " V....D libx264              libx264 H.264 / AVC ...".
func parseEncoders(out []byte) map[string]bool {
	encoders := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	pastHeader := false
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[0] == "------" {
			pastHeader = true
			continue
		}
		if !pastHeader || len(fields[0]) != 6 {
			continue
		}
		switch fields[0][0] {
		case 'V', 'A', 'S':
			encoders[fields[1]] = true
		}
	}
	return encoders
}

// CachedDoctor wraps a prober to cache results with a configurable TTL.
type CachedDoctor struct {
	prober CapabilityProber
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(prober CapabilityProber, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe. On failure a stale cache is preferred over an
// error.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		d.logger.Warn("encoder probe failed", "error", err)
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
