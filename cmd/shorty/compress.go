package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/shorty/shorty-agent/internal/bitrate"
	"github.com/shorty/shorty-agent/internal/config"
	"github.com/shorty/shorty-agent/internal/encoder"
	"github.com/shorty/shorty-agent/internal/ffmpeg"
	"github.com/shorty/shorty-agent/internal/jobs"
	"github.com/shorty/shorty-agent/internal/logging"
	"github.com/shorty/shorty-agent/internal/output"
	"github.com/shorty/shorty-agent/internal/tui"
)

type compressFlags struct {
	output   string
	sizeMB   float64
	crf      int
	start    string
	end      string
	duration string
	codec    string
	hw       string
	preset   string
	res      string
	fps      string
	crop     string
	audio    string
	noAudio  bool
	plain    bool
	verbose  bool
}

// options turns the flags into encode options for input. The second value
// is the fallback clip length used when the source cannot be probed.
func (f compressFlags) options(input string) (ffmpeg.Options, float64, error) {
	opts := ffmpeg.Options{
		Input:        input,
		Output:       f.output,
		Codec:        ffmpeg.Codec(f.codec),
		Hardware:     ffmpeg.Hardware(f.hw),
		Preset:       f.preset,
		Resolution:   ffmpeg.Resolution(f.res),
		FPS:          f.fps,
		AudioBitrate: f.audio,
		RemoveAudio:  f.noAudio,
	}

	switch {
	case f.sizeMB > 0 && f.crf > 0:
		return opts, 0, errors.New("--size and --crf cannot be combined")
	case f.sizeMB > 0:
		opts.Mode = ffmpeg.ModeSize
		opts.TargetSizeMB = f.sizeMB
	case f.crf > 0:
		opts.Mode = ffmpeg.ModeCRF
		opts.CRF = f.crf
	default:
		return opts, 0, errors.New("one of --size or --crf is required")
	}

	var err error
	if opts.StartSeconds, err = parseClock(f.start); err != nil {
		return opts, 0, fmt.Errorf("invalid --start: %w", err)
	}
	if opts.EndSeconds, err = parseClock(f.end); err != nil {
		return opts, 0, fmt.Errorf("invalid --end: %w", err)
	}
	if opts.Crop, err = parseCrop(f.crop); err != nil {
		return opts, 0, fmt.Errorf("invalid --crop: %w", err)
	}
	duration, err := parseClock(f.duration)
	if err != nil {
		return opts, 0, fmt.Errorf("invalid --duration: %w", err)
	}
	return opts, duration, nil
}

func newCompressCmd() *cobra.Command {
	var f compressFlags

	cmd := &cobra.Command{
		Use:   "compress <input>",
		Short: "Compress one video",
		Long: `Compresses a video to a target size (two-pass) or a constant quality.

Examples:
  shorty compress clip.mp4 --size 8
  shorty compress clip.mp4 --size 25 --start 0:10 --end 1:30 --res half
  shorty compress clip.mkv --crf 28 --codec h265 -o small.mp4
  shorty compress clip.mp4 --size 10 --hw nvidia --plain`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompress(cmd, f, args[0])
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.output, "output", "o", "", "Output file (default: <input>_compressed.mp4)")
	fl.Float64Var(&f.sizeMB, "size", 0, "Target size in MB")
	fl.IntVar(&f.crf, "crf", 0, "Constant quality value instead of a size target")
	fl.StringVar(&f.start, "start", "", "Clip start in seconds or HH:MM:SS")
	fl.StringVar(&f.end, "end", "", "Clip end in seconds or HH:MM:SS")
	fl.StringVar(&f.duration, "duration", "", "Source length to assume when ffprobe is unavailable")
	fl.StringVar(&f.codec, "codec", "", "Video codec: h264, h265 or av1")
	fl.StringVar(&f.hw, "hw", "", "Hardware encoder: none, nvidia, amd or intel")
	fl.StringVar(&f.preset, "preset", "", "Encoder preset, ultrafast to veryslow")
	fl.StringVar(&f.res, "res", "", "Output resolution: full, half or quarter")
	fl.StringVar(&f.fps, "fps", "", "Output frame rate (default: source)")
	fl.StringVar(&f.crop, "crop", "", "Crop rectangle as w:h:x:y")
	fl.StringVar(&f.audio, "audio", "", "Audio bitrate, e.g. 96k")
	fl.BoolVar(&f.noAudio, "no-audio", false, "Drop the audio track")
	fl.BoolVar(&f.plain, "plain", false, "Print progress lines instead of the interactive view")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "Log encoder activity to stderr")
	cmd.MarkFlagsMutuallyExclusive("size", "crf")

	return cmd
}

func runCompress(cmd *cobra.Command, f compressFlags, input string) error {
	opts, fallback, err := f.options(input)
	if err != nil {
		return err
	}

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := "error"
	if f.verbose {
		level = "debug"
	}
	logger := logging.NewLoggerTo(cmd.ErrOrStderr(), level)

	ffmpegPath, err := ffmpeg.Locate(cfg.FFmpegPath(), "ffmpeg")
	if err != nil {
		return err
	}
	var prober ffmpeg.MediaProber
	if p, err := ffmpeg.Locate(cfg.FFprobePath(), "ffprobe"); err == nil {
		prober = ffmpeg.NewProber(p, logger)
	} else {
		logger.Warn("ffprobe unavailable", "error", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defaults := jobs.Defaults{
		Codec:        ffmpeg.Codec(cfg.DefaultCodec()),
		Hardware:     ffmpeg.Hardware(cfg.DefaultHardware()),
		Preset:       cfg.DefaultPreset(),
		AudioBitrate: cfg.DefaultAudio(),
	}
	opts, plan, err := jobs.Prepare(ctx, prober, defaults, jobs.CreateRequest{
		Options:         opts,
		DurationSeconds: fallback,
		Origin:          jobs.OriginCLI,
	}, logger)
	if err != nil {
		return err
	}
	if plan.Passes > 1 {
		opts.PassLogFile = output.PassLogPrefix(opts.Output, jobs.NewID())
	}

	if caps, err := ffmpeg.NewDoctor(ffmpegPath, logger).Probe(ctx); err == nil && !caps.Supports(opts.Codec, opts.Hardware) {
		return fmt.Errorf("this ffmpeg build has no %s encoder", ffmpeg.EncoderName(opts.Codec, opts.Hardware))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	enc := encoder.NewRunner(encoder.Config{GracePeriod: cfg.CancelGrace(), Logger: logger})

	events := make(chan tea.Msg, 64)
	uiDone := make(chan struct{})
	results := make(chan tui.DoneMsg, 1)

	send := func(msg tea.Msg) {
		select {
		case events <- msg:
		case <-uiDone:
		}
	}

	go func() {
		out, pass, err := jobs.RunPasses(runCtx, enc, ffmpegPath, opts, plan,
			func(pass int) { send(tui.PassMsg{Pass: pass, Passes: plan.Passes}) },
			func(ev encoder.ProgressEvent) {
				select {
				case events <- tui.ProgressMsg(ev):
				default:
				}
			})
		done := tui.DoneMsg{Outcome: out, Pass: pass, Err: err}
		results <- done
		send(done)
	}()

	stdout := cmd.OutOrStdout()
	if f.plain {
		watchPlain(stdout, events)
	} else {
		model := tui.New(tui.Config{
			Title:    filepath.Base(opts.Input),
			Detail:   planDetail(opts, plan),
			Passes:   plan.Passes,
			Events:   events,
			OnCancel: func() { cancel(); enc.Cancel() },
		})
		if _, err := tea.NewProgram(model, tea.WithOutput(stdout), tea.WithoutSignalHandler()).Run(); err != nil {
			logger.Error("progress view failed", "error", err)
			cancel()
			enc.Cancel()
		}
	}
	close(uiDone)

	return finishCompress(stdout, opts, plan, <-results)
}

func watchPlain(w io.Writer, events <-chan tea.Msg) {
	last := -1
	for msg := range events {
		switch msg := msg.(type) {
		case tui.PassMsg:
			fmt.Fprintf(w, "pass %d/%d\n", msg.Pass, msg.Passes)
		case tui.ProgressMsg:
			pct := int(msg.OverallPercent)
			if pct != last {
				last = pct
				fmt.Fprintf(w, "%3d%%\n", pct)
			}
		case tui.DoneMsg:
			return
		}
	}
}

// finishCompress reports the result and removes partial output. A cancelled
// run is not an error.
func finishCompress(w io.Writer, opts ffmpeg.Options, plan jobs.Plan, res tui.DoneMsg) error {
	lastPass := res.Pass >= plan.Passes
	switch {
	case res.Err != nil:
		return res.Err
	case res.Outcome.Status == encoder.StatusCancelled:
		if lastPass {
			removePartial(opts.Output)
		}
		fmt.Fprintln(w, "Cancelled.")
		return nil
	case !res.Outcome.IsSuccess():
		if lastPass {
			removePartial(opts.Output)
		}
		return fmt.Errorf("pass %d of %d exited %d: %s", res.Pass, plan.Passes, res.Outcome.ExitCode, res.Outcome.Detail)
	}

	info, err := os.Stat(opts.Output)
	if err != nil {
		return fmt.Errorf("encoder reported success but the output is missing: %w", err)
	}
	fmt.Fprintf(w, "%s  %.2f MB\n", opts.Output, float64(info.Size())/(1024*1024))
	return nil
}

func removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not remove partial output: %v\n", err)
	}
}

func planDetail(opts ffmpeg.Options, plan jobs.Plan) string {
	if plan.Bitrate == nil {
		return fmt.Sprintf("%s crf %d", ffmpeg.EncoderName(opts.Codec, opts.Hardware), opts.CRF)
	}
	return fmt.Sprintf("%s video %s audio %s",
		ffmpeg.EncoderName(opts.Codec, opts.Hardware),
		bitrate.Kbps(plan.Bitrate.VideoKbps),
		bitrate.Kbps(plan.Bitrate.AudioKbps))
}
