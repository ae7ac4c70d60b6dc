package ffmpeg

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shorty/shorty-agent/internal/bitrate"
	"github.com/shorty/shorty-agent/internal/output"
)

// Build assembles the argument vector for one pass. br must be set in size
// mode. The executable path is the first element.
func Build(ffmpegPath string, o Options, pass, passes int, br *bitrate.Result) ([]string, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if passes < 1 || pass < 1 || pass > passes {
		return nil, fmt.Errorf("%w: pass %d of %d", ErrInvalidOptions, pass, passes)
	}
	if o.Mode == ModeSize && br == nil {
		return nil, fmt.Errorf("%w: size mode needs allocated bitrates", ErrInvalidOptions)
	}

	twoPass := passes > 1
	encoder := EncoderName(o.Codec, o.Hardware)

	args := []string{ffmpegPath, "-hide_banner", "-y"}
	args = append(args, hwaccelArgs(o.Hardware)...)

	args = append(args, "-ss", output.FormatTimestamp(o.StartSeconds), "-i", o.Input)
	if o.EndSeconds > o.StartSeconds {
		args = append(args, "-t", output.FormatTimestamp(o.EndSeconds-o.StartSeconds))
	}

	args = append(args, "-c:v", encoder)
	if o.Hardware == HardwareNone {
		if o.Codec == CodecAV1 {
			args = append(args, "-preset", strconv.Itoa(presets[o.Preset]))
		} else {
			args = append(args, "-preset", o.Preset)
		}
	}

	switch o.Mode {
	case ModeCRF:
		args = append(args, qualityArgs(o)...)
	case ModeSize:
		video := bitrate.Kbps(br.VideoKbps)
		args = append(args, "-b:v", video)
		if o.Hardware != HardwareNone {
			args = append(args, "-maxrate", video, "-bufsize", bitrate.Kbps(2*br.VideoKbps))
		}
		if twoPass {
			prefix := o.PassLogFile
			if prefix == "" {
				prefix = output.PassLogPrefix(o.Output, "")
			}
			if o.Codec == CodecH265 {
				args = append(args, "-x265-params", fmt.Sprintf("pass=%d:stats=%s", pass, x265Stats(prefix)))
			} else {
				args = append(args, "-pass", strconv.Itoa(pass), "-passlogfile", prefix)
			}
		}
	}

	if filters := videoFilters(o); len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	if twoPass && pass == 1 {
		return append(args, "-an", "-f", "mp4", os.DevNull), nil
	}

	if o.RemoveAudio {
		args = append(args, "-an")
	} else {
		audio := o.AudioBitrate
		if o.Mode == ModeSize && br.AudioKbps > 0 {
			audio = bitrate.Kbps(br.AudioKbps)
		}
		args = append(args, "-c:a", "aac", "-b:a", audio)
	}

	if strings.HasSuffix(strings.ToLower(o.Output), ".mp4") {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, o.Output), nil
}

func hwaccelArgs(hw Hardware) []string {
	switch hw {
	case HardwareNVIDIA:
		return []string{"-hwaccel", "cuda"}
	case HardwareAMD:
		return []string{"-hwaccel", "dxva2"}
	case HardwareIntel:
		return []string{"-hwaccel", "qsv", "-qsv_device", "hw"}
	default:
		return nil
	}
}

// qualityArgs expresses a constant-quality target in each encoder's dialect.
func qualityArgs(o Options) []string {
	q := strconv.Itoa(o.CRF)
	switch o.Hardware {
	case HardwareNVIDIA:
		return []string{"-rc", "vbr", "-cq", q}
	case HardwareAMD:
		return []string{"-rc", "cqp", "-qp_i", q, "-qp_p", q}
	case HardwareIntel:
		return []string{"-global_quality", q}
	default:
		return []string{"-crf", q}
	}
}

func videoFilters(o Options) []string {
	var filters []string
	if o.Crop != nil {
		filters = append(filters, o.Crop.Filter())
	}

	divisor := 1
	switch o.Resolution {
	case ResolutionHalf:
		divisor = 2
	case ResolutionQuarter:
		divisor = 4
	}
	if divisor > 1 {
		w, h := o.SourceWidth, o.SourceHeight
		if o.Crop != nil {
			w, h = o.Crop.Width, o.Crop.Height
		}
		if w > 0 && h > 0 {
			filters = append(filters, fmt.Sprintf("scale=%d:%d", even(w/divisor), even(h/divisor)))
		} else {
			filters = append(filters, fmt.Sprintf("scale=trunc(iw/%d/2)*2:trunc(ih/%d/2)*2", divisor, divisor))
		}
	}

	if o.FPS != "" {
		filters = append(filters, "fps="+o.FPS)
	}
	return filters
}

func x265Stats(prefix string) string {
	return prefix + "-x265.log"
}

// PassLogArtifacts lists the statistics files a two-pass encode using prefix
// may leave behind. Removing them is the caller's job once the final pass
// has ended, whether or not it succeeded.
func PassLogArtifacts(prefix string) []string {
	x265 := x265Stats(prefix)
	return []string{
		prefix + "-0.log",
		prefix + "-0.log.mbtree",
		prefix + "-0.log.temp",
		prefix + "-0.log.mbtree.temp",
		x265,
		x265 + ".cutree",
		x265 + ".temp",
		x265 + ".cutree.temp",
	}
}

// RemovePassLogs deletes whatever PassLogArtifacts finds and returns the
// number of files removed.
func RemovePassLogs(prefix string) (int, error) {
	removed := 0
	var firstErr error
	for _, path := range PassLogArtifacts(prefix) {
		err := os.Remove(path)
		switch {
		case err == nil:
			removed++
		case os.IsNotExist(err):
		case firstErr == nil:
			firstErr = err
		}
	}
	return removed, firstErr
}
