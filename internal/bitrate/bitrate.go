// Package bitrate converts a target output size into per-stream bitrates that
// a two-pass encoder run can aim for.
//
// Allocate is a pure function: identical inputs always yield identical
// outputs and nothing is logged or stored. The constants below are policy
// values kept for compatibility with existing size targets; they are not
// derived from the actual container.
package bitrate

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// KbitsPerMB converts megabytes to kilobits (1 MB = 1024 KB = 8192 kbit).
	KbitsPerMB = 8192

	// OverheadFactor is the share of the budget reserved for muxing and index data.
	OverheadFactor = 0.08

	MinVideoKbps     = 50
	MinAudioKbps     = 32
	DefaultAudioKbps = 128

	// Proportional split used when even the video floor does not fit.
	starvedAudioShare = 0.3
	starvedVideoShare = 0.7
)

var ErrInvalidArgument = errors.New("invalid argument")

// Request describes the size budget for one clip.
type Request struct {
	TargetSizeMB    float64
	DurationSeconds float64
	AudioBitrate    string // "<int>k", e.g. "128k"
	RemoveAudio     bool
}

// Result holds the allocated bitrates in kilobits per second.
type Result struct {
	VideoKbps int `json:"video_kbps"`
	AudioKbps int `json:"audio_kbps"`
}

// Allocate splits the usable budget between video and audio. Video never
// drops below MinVideoKbps; kept audio never drops below MinAudioKbps and
// removed audio is always 0.
func Allocate(req Request) (Result, error) {
	if !isPositive(req.TargetSizeMB) {
		return Result{}, fmt.Errorf("%w: target size must be positive, got %v", ErrInvalidArgument, req.TargetSizeMB)
	}
	if !isPositive(req.DurationSeconds) {
		return Result{}, fmt.Errorf("%w: duration must be positive, got %v", ErrInvalidArgument, req.DurationSeconds)
	}

	duration := req.DurationSeconds

	audioKbps := 0
	if !req.RemoveAudio {
		audioKbps = ParseAudioKbps(req.AudioBitrate)
	}

	totalKbits := req.TargetSizeMB * KbitsPerMB
	usableKbits := totalKbits * (1 - OverheadFactor)
	audioKbitsNeeded := float64(audioKbps) * duration

	var videoKbps int
	if usableKbits > audioKbitsNeeded {
		videoKbps = maxInt(MinVideoKbps, floorDiv(usableKbits-audioKbitsNeeded, duration))
	} else {
		maxAudioKbits := usableKbits - MinVideoKbps*duration
		if maxAudioKbits < 0 {
			audioKbps = maxInt(0, floorDiv(starvedAudioShare*usableKbits, duration))
			videoKbps = maxInt(0, floorDiv(starvedVideoShare*usableKbits, duration))
		} else {
			audioKbps = floorDiv(maxAudioKbits, duration)
			if !req.RemoveAudio && audioKbps < MinAudioKbps {
				audioKbps = MinAudioKbps
			}
			remaining := usableKbits - float64(audioKbps)*duration
			videoKbps = maxInt(MinVideoKbps, floorDiv(remaining, duration))
		}
	}

	videoKbps = maxInt(videoKbps, MinVideoKbps)
	if req.RemoveAudio {
		audioKbps = 0
	} else {
		audioKbps = maxInt(audioKbps, MinAudioKbps)
	}

	return Result{VideoKbps: videoKbps, AudioKbps: audioKbps}, nil
}

// ParseAudioKbps reads an "<int>k" selection. Anything unparseable falls back
// to DefaultAudioKbps instead of failing.
func ParseAudioKbps(s string) int {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimSuffix(strings.TrimSuffix(trimmed, "k"), "K")
	v, err := strconv.Atoi(trimmed)
	if err != nil {
		return DefaultAudioKbps
	}
	return v
}

// EstimateSizeMB returns the container size the allocation aims for, i.e. the
// stream payload plus the reserved overhead.
func EstimateSizeMB(res Result, durationSeconds float64) float64 {
	if !isPositive(durationSeconds) {
		return 0
	}
	streamKbits := float64(res.VideoKbps+res.AudioKbps) * durationSeconds
	return streamKbits / (1 - OverheadFactor) / KbitsPerMB
}

// Kbps formats a bitrate the way encoder flags expect it.
func Kbps(v int) string {
	return strconv.Itoa(v) + "k"
}

func floorDiv(kbits, seconds float64) int {
	return int(math.Floor(kbits / seconds))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func isPositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1) && !math.IsNaN(v)
}
