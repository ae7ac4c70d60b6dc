package jobs

import (
	"context"

	"github.com/shorty/shorty-agent/internal/encoder"
	"github.com/shorty/shorty-agent/internal/ffmpeg"
	"github.com/shorty/shorty-agent/internal/output"
)

// PassRunner runs a single encoder pass. *encoder.Runner implements it.
type PassRunner interface {
	Run(ctx context.Context, req encoder.RunRequest, sink func(encoder.ProgressEvent)) (encoder.Outcome, error)
	Cancel()
}

// RunPasses encodes opts pass by pass. It stops at the first pass that does
// not succeed and returns that pass's outcome and number. The error is only
// set when a pass could not be built or launched. Two-pass statistics files
// are removed before it returns, whatever the outcome.
func RunPasses(ctx context.Context, enc PassRunner, ffmpegPath string, opts ffmpeg.Options, plan Plan,
	onPass func(pass int), sink func(encoder.ProgressEvent)) (encoder.Outcome, int, error) {

	if plan.Passes > 1 {
		if opts.PassLogFile == "" {
			opts.PassLogFile = output.PassLogPrefix(opts.Output, "")
		}
		defer ffmpeg.RemovePassLogs(opts.PassLogFile)
	}

	var out encoder.Outcome
	for pass := 1; pass <= plan.Passes; pass++ {
		if ctx.Err() != nil {
			return encoder.Outcome{Status: encoder.StatusCancelled, ExitCode: -1, Detail: "cancelled"}, pass, nil
		}

		args, err := ffmpeg.Build(ffmpegPath, opts, pass, plan.Passes, plan.Bitrate)
		if err != nil {
			return out, pass, err
		}
		if onPass != nil {
			onPass(pass)
		}

		out, err = enc.Run(ctx, encoder.RunRequest{
			Command:                 args,
			ExpectedDurationSeconds: plan.ClipSeconds,
			PassIndex:               pass,
			PassCount:               plan.Passes,
		}, sink)
		if err != nil {
			return out, pass, err
		}
		if !out.IsSuccess() {
			return out, pass, nil
		}
	}
	return out, plan.Passes, nil
}
