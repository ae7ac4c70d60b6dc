// Package ffmpeg builds encoder command lines and inspects the local ffmpeg
// install and the media it is asked to compress.
package ffmpeg

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidOptions = errors.New("invalid encode options")

type Mode string

const (
	ModeSize Mode = "size"
	ModeCRF  Mode = "crf"
)

type Codec string

const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
	CodecAV1  Codec = "av1"
)

type Hardware string

const (
	HardwareNone   Hardware = "none"
	HardwareNVIDIA Hardware = "nvidia"
	HardwareAMD    Hardware = "amd"
	HardwareIntel  Hardware = "intel"
)

type Resolution string

const (
	ResolutionFull    Resolution = "full"
	ResolutionHalf    Resolution = "half"
	ResolutionQuarter Resolution = "quarter"
)

const (
	DefaultCRF    = 23
	DefaultPreset = "medium"
	DefaultAudio  = "128k"
)

var presets = map[string]int{
	"ultrafast": 12,
	"superfast": 11,
	"veryfast":  10,
	"faster":    9,
	"fast":      8,
	"medium":    7,
	"slow":      5,
	"slower":    4,
	"veryslow":  2,
}

// Crop is a rectangle in source pixels.
type Crop struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	X      int `json:"x"`
	Y      int `json:"y"`
}

// Filter renders the crop as an even-aligned ffmpeg crop filter.
func (c Crop) Filter() string {
	return fmt.Sprintf("crop=%d:%d:%d:%d", even(c.Width), even(c.Height), even(c.X), even(c.Y))
}

// Options is everything the caller chose for one compress job.
type Options struct {
	Input        string     `json:"input"`
	Output       string     `json:"output"`
	StartSeconds float64    `json:"start_seconds,omitempty"`
	EndSeconds   float64    `json:"end_seconds,omitempty"` // 0 = until the end
	Mode         Mode       `json:"mode"`
	CRF          int        `json:"crf,omitempty"`
	TargetSizeMB float64    `json:"target_size_mb,omitempty"`
	Codec        Codec      `json:"codec"`
	Hardware     Hardware   `json:"hardware"`
	Preset       string     `json:"preset,omitempty"`
	Resolution   Resolution `json:"resolution,omitempty"`
	SourceWidth  int        `json:"source_width,omitempty"`
	SourceHeight int        `json:"source_height,omitempty"`
	FPS          string     `json:"fps,omitempty"` // "" keeps the source rate
	Crop         *Crop      `json:"crop,omitempty"`
	AudioBitrate string     `json:"audio_bitrate,omitempty"`
	RemoveAudio  bool       `json:"remove_audio,omitempty"`
	PassLogFile  string     `json:"pass_log_file,omitempty"`
}

var audioPattern = regexp.MustCompile(`^\d+[kK]$`)

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeCRF
	}
	if o.Codec == "" {
		o.Codec = CodecH264
	}
	if o.Hardware == "" {
		o.Hardware = HardwareNone
	}
	if o.Preset == "" {
		o.Preset = DefaultPreset
	}
	if o.Resolution == "" {
		o.Resolution = ResolutionFull
	}
	if o.Mode == ModeCRF && o.CRF == 0 {
		o.CRF = DefaultCRF
	}
	if o.AudioBitrate == "" {
		o.AudioBitrate = DefaultAudio
	}
	return o
}

// Validate checks the options after defaults have been applied.
func (o Options) Validate() error {
	var problems []string
	if strings.TrimSpace(o.Input) == "" {
		problems = append(problems, "input is required")
	}
	if strings.TrimSpace(o.Output) == "" {
		problems = append(problems, "output is required")
	}
	if o.Input != "" && o.Input == o.Output {
		problems = append(problems, "output must differ from input")
	}
	if o.StartSeconds < 0 {
		problems = append(problems, "start must not be negative")
	}
	if o.EndSeconds != 0 && o.EndSeconds <= o.StartSeconds {
		problems = append(problems, "end must be after start")
	}
	switch o.Mode {
	case ModeSize:
		if o.TargetSizeMB <= 0 {
			problems = append(problems, "target size must be positive")
		}
	case ModeCRF:
		if o.CRF < 0 || o.CRF > 63 {
			problems = append(problems, "crf must be between 0 and 63")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown mode %q", o.Mode))
	}
	switch o.Codec {
	case CodecH264, CodecH265, CodecAV1:
	default:
		problems = append(problems, fmt.Sprintf("unknown codec %q", o.Codec))
	}
	switch o.Hardware {
	case HardwareNone, HardwareNVIDIA, HardwareAMD, HardwareIntel:
	default:
		problems = append(problems, fmt.Sprintf("unknown hardware %q", o.Hardware))
	}
	if _, ok := presets[o.Preset]; !ok {
		problems = append(problems, fmt.Sprintf("unknown preset %q", o.Preset))
	}
	switch o.Resolution {
	case ResolutionFull, ResolutionHalf, ResolutionQuarter:
	default:
		problems = append(problems, fmt.Sprintf("unknown resolution %q", o.Resolution))
	}
	if o.FPS != "" {
		if fps, err := strconv.Atoi(o.FPS); err != nil || fps <= 0 {
			problems = append(problems, fmt.Sprintf("invalid fps %q", o.FPS))
		}
	}
	if o.Crop != nil && (o.Crop.Width <= 0 || o.Crop.Height <= 0 || o.Crop.X < 0 || o.Crop.Y < 0) {
		problems = append(problems, "crop must have positive size and non-negative offset")
	}
	if !o.RemoveAudio && !audioPattern.MatchString(o.AudioBitrate) {
		problems = append(problems, fmt.Sprintf("audio bitrate %q must look like 128k", o.AudioBitrate))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(problems, "; "))
	}
	return nil
}

// ClipSeconds is the length of the trimmed clip given the source duration.
func (o Options) ClipSeconds(sourceSeconds float64) float64 {
	end := sourceSeconds
	if o.EndSeconds > 0 && (sourceSeconds <= 0 || o.EndSeconds < sourceSeconds) {
		end = o.EndSeconds
	}
	if d := end - o.StartSeconds; d > 0 {
		return d
	}
	return 0
}

// Passes is 2 for size targets on software encoders and 1 otherwise.
// Hardware encoders hit a size target with a single constrained pass.
func Passes(o Options) int {
	if o.Mode == ModeSize && (o.Hardware == HardwareNone || o.Hardware == "") {
		return 2
	}
	return 1
}

// EncoderName maps a codec and hardware choice to an ffmpeg encoder.
func EncoderName(codec Codec, hw Hardware) string {
	suffix := map[Hardware]string{
		HardwareNVIDIA: "_nvenc",
		HardwareAMD:    "_amf",
		HardwareIntel:  "_qsv",
	}[hw]

	if suffix == "" {
		switch codec {
		case CodecH265:
			return "libx265"
		case CodecAV1:
			return "libsvtav1"
		default:
			return "libx264"
		}
	}

	switch codec {
	case CodecH265:
		return "hevc" + suffix
	case CodecAV1:
		return "av1" + suffix
	default:
		return "h264" + suffix
	}
}

func even(v int) int {
	return v / 2 * 2
}
