package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shorty/shorty-agent/internal/bitrate"
)

type bitrateFlags struct {
	sizeMB   float64
	duration string
	audio    string
	noAudio  bool
	asJSON   bool
}

func newBitrateCmd() *cobra.Command {
	var f bitrateFlags

	cmd := &cobra.Command{
		Use:   "bitrate",
		Short: "Show the bitrates a size target allocates",
		Long: `Splits a target file size into video and audio bitrates.

Examples:
  shorty bitrate --size 10 --duration 60
  shorty bitrate --size 8 --duration 00:02:30 --audio 96k
  shorty bitrate --size 25 --duration 300 --no-audio --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := parseClock(f.duration)
			if err != nil {
				return fmt.Errorf("invalid --duration: %w", err)
			}

			res, err := bitrate.Allocate(bitrate.Request{
				TargetSizeMB:    f.sizeMB,
				DurationSeconds: seconds,
				AudioBitrate:    f.audio,
				RemoveAudio:     f.noAudio,
			})
			if err != nil {
				return err
			}
			estimate := bitrate.EstimateSizeMB(res, seconds)

			out := cmd.OutOrStdout()
			if f.asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					VideoKbps   int     `json:"video_kbps"`
					AudioKbps   int     `json:"audio_kbps"`
					EstimatedMB float64 `json:"estimated_mb"`
				}{res.VideoKbps, res.AudioKbps, estimate})
			}

			fmt.Fprintf(out, "video  %s\n", bitrate.Kbps(res.VideoKbps))
			fmt.Fprintf(out, "audio  %s\n", bitrate.Kbps(res.AudioKbps))
			fmt.Fprintf(out, "size   ~%.2f MB\n", estimate)
			return nil
		},
	}

	cmd.Flags().Float64Var(&f.sizeMB, "size", 0, "Target size in MB")
	cmd.Flags().StringVar(&f.duration, "duration", "", "Clip length in seconds or HH:MM:SS")
	cmd.Flags().StringVar(&f.audio, "audio", "128k", "Audio bitrate, e.g. 96k")
	cmd.Flags().BoolVar(&f.noAudio, "no-audio", false, "Drop the audio track")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print the result as JSON")
	cmd.MarkFlagRequired("size")
	cmd.MarkFlagRequired("duration")

	return cmd
}
