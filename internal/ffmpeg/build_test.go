package ffmpeg

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shorty/shorty-agent/internal/bitrate"
)

func sizeOptions() Options {
	return Options{
		Input:        "/videos/in.mov",
		Output:       "/videos/in_compressed.mp4",
		Mode:         ModeSize,
		TargetSizeMB: 10,
		Codec:        CodecH264,
		AudioBitrate: "128k",
		PassLogFile:  "/videos/.job-passlog",
	}.WithDefaults()
}

// hasSeq reports whether want appears contiguously in args.
func hasSeq(args []string, want ...string) bool {
	for i := 0; i+len(want) <= len(args); i++ {
		match := true
		for j := range want {
			if args[i+j] != want[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestPasses(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want int
	}{
		{"size on cpu", Options{Mode: ModeSize, Hardware: HardwareNone}, 2},
		{"size with unset hardware", Options{Mode: ModeSize}, 2},
		{"size on nvenc", Options{Mode: ModeSize, Hardware: HardwareNVIDIA}, 1},
		{"crf on cpu", Options{Mode: ModeCRF, Hardware: HardwareNone}, 1},
	}
	for _, tt := range tests {
		if got := Passes(tt.opts); got != tt.want {
			t.Errorf("%s: Passes = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestBuild_TwoPassSize(t *testing.T) {
	opts := sizeOptions()
	opts.StartSeconds = 5
	opts.EndSeconds = 65
	br := &bitrate.Result{VideoKbps: 1128, AudioKbps: 128}

	first, err := Build("/usr/bin/ffmpeg", opts, 1, 2, br)
	if err != nil {
		t.Fatalf("Build pass 1: %v", err)
	}
	if first[0] != "/usr/bin/ffmpeg" {
		t.Errorf("executable = %q", first[0])
	}
	for _, seq := range [][]string{
		{"-ss", "00:00:05.000", "-i", "/videos/in.mov"},
		{"-t", "00:01:00.000"},
		{"-c:v", "libx264"},
		{"-preset", "medium"},
		{"-b:v", "1128k"},
		{"-pass", "1", "-passlogfile", "/videos/.job-passlog"},
	} {
		if !hasSeq(first, seq...) {
			t.Errorf("pass 1 missing %q in %q", seq, first)
		}
	}
	if got := first[len(first)-4:]; !hasSeq(got, "-an", "-f", "mp4", os.DevNull) {
		t.Errorf("pass 1 must end with null output, got %q", got)
	}
	if hasSeq(first, "-c:a", "aac") {
		t.Error("pass 1 must not encode audio")
	}

	second, err := Build("/usr/bin/ffmpeg", opts, 2, 2, br)
	if err != nil {
		t.Fatalf("Build pass 2: %v", err)
	}
	if !hasSeq(second, "-pass", "2", "-passlogfile", "/videos/.job-passlog") {
		t.Errorf("pass 2 missing pass flags: %q", second)
	}
	if !hasSeq(second, "-c:a", "aac", "-b:a", "128k") {
		t.Errorf("pass 2 missing audio: %q", second)
	}
	if second[len(second)-1] != opts.Output {
		t.Errorf("output must be last, got %q", second[len(second)-1])
	}
}

func TestBuild_X265UsesStatsParams(t *testing.T) {
	opts := sizeOptions()
	opts.Codec = CodecH265
	br := &bitrate.Result{VideoKbps: 900, AudioKbps: 96}

	args, err := Build("ffmpeg", opts, 1, 2, br)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !hasSeq(args, "-c:v", "libx265") {
		t.Errorf("missing libx265: %q", args)
	}
	if !hasSeq(args, "-x265-params", "pass=1:stats=/videos/.job-passlog-x265.log") {
		t.Errorf("missing x265 stats params: %q", args)
	}
	if hasSeq(args, "-pass", "1") {
		t.Error("libx265 must not use -pass")
	}
}

func TestBuild_HardwareSizeIsSinglePass(t *testing.T) {
	opts := sizeOptions()
	opts.Hardware = HardwareNVIDIA
	opts.Codec = CodecH265
	br := &bitrate.Result{VideoKbps: 1000, AudioKbps: 128}

	args, err := Build("ffmpeg", opts, 1, Passes(opts), br)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, seq := range [][]string{
		{"-hwaccel", "cuda"},
		{"-c:v", "hevc_nvenc"},
		{"-b:v", "1000k", "-maxrate", "1000k", "-bufsize", "2000k"},
		{"-c:a", "aac", "-b:a", "128k"},
	} {
		if !hasSeq(args, seq...) {
			t.Errorf("missing %q in %q", seq, args)
		}
	}
	if hasSeq(args, "-preset", "medium") {
		t.Error("hardware encoders must not get a cpu preset")
	}
	if args[len(args)-1] != opts.Output {
		t.Errorf("single pass must write the output, got %q", args[len(args)-1])
	}
}

func TestBuild_CRFFiltersAndAudio(t *testing.T) {
	opts := Options{
		Input:        "in.mp4",
		Output:       "out.mkv",
		Mode:         ModeCRF,
		CRF:          28,
		Codec:        CodecAV1,
		Preset:       "slow",
		Resolution:   ResolutionHalf,
		SourceWidth:  1921,
		SourceHeight: 1081,
		FPS:          "30",
		Crop:         &Crop{Width: 1001, Height: 801, X: 11, Y: 3},
		RemoveAudio:  true,
	}.WithDefaults()

	args, err := Build("ffmpeg", opts, 1, 1, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, seq := range [][]string{
		{"-c:v", "libsvtav1"},
		{"-preset", "5"},
		{"-crf", "28"},
		{"-vf", "crop=1000:800:10:2,scale=500:400,fps=30"},
		{"-an", "out.mkv"},
	} {
		if !hasSeq(args, seq...) {
			t.Errorf("missing %q in %q", seq, args)
		}
	}
	if hasSeq(args, "-t") {
		t.Error("no end time means no -t")
	}
	if hasSeq(args, "-movflags", "+faststart") {
		t.Error("faststart is mp4 only")
	}
}

func TestBuild_ScaleWithoutSourceDimensions(t *testing.T) {
	opts := Options{Input: "in.mp4", Output: "out.mp4", Resolution: ResolutionQuarter}.WithDefaults()
	args, err := Build("ffmpeg", opts, 1, 1, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !hasSeq(args, "-vf", "scale=trunc(iw/4/2)*2:trunc(ih/4/2)*2") {
		t.Errorf("missing expression scale: %q", args)
	}
	if !hasSeq(args, "-c:a", "aac", "-b:a", DefaultAudio) {
		t.Errorf("missing default audio: %q", args)
	}
}

func TestBuild_HardwareQuality(t *testing.T) {
	tests := []struct {
		hw   Hardware
		want []string
	}{
		{HardwareNVIDIA, []string{"-rc", "vbr", "-cq", "23"}},
		{HardwareAMD, []string{"-rc", "cqp", "-qp_i", "23", "-qp_p", "23"}},
		{HardwareIntel, []string{"-global_quality", "23"}},
	}
	for _, tt := range tests {
		opts := Options{Input: "in.mp4", Output: "out.mp4", Hardware: tt.hw}.WithDefaults()
		args, err := Build("ffmpeg", opts, 1, 1, nil)
		if err != nil {
			t.Fatalf("%s: Build: %v", tt.hw, err)
		}
		if !hasSeq(args, tt.want...) {
			t.Errorf("%s: missing %q in %q", tt.hw, tt.want, args)
		}
	}
}

func TestBuild_Rejects(t *testing.T) {
	good := sizeOptions()
	br := &bitrate.Result{VideoKbps: 500, AudioKbps: 64}

	tests := []struct {
		name   string
		mutate func(*Options)
		pass   int
		passes int
		br     *bitrate.Result
	}{
		{"missing input", func(o *Options) { o.Input = "" }, 1, 2, br},
		{"same output", func(o *Options) { o.Output = o.Input }, 1, 2, br},
		{"end before start", func(o *Options) { o.StartSeconds = 10; o.EndSeconds = 5 }, 1, 2, br},
		{"bad codec", func(o *Options) { o.Codec = "vp9" }, 1, 2, br},
		{"bad preset", func(o *Options) { o.Preset = "ludicrous" }, 1, 2, br},
		{"bad fps", func(o *Options) { o.FPS = "fast" }, 1, 2, br},
		{"bad audio", func(o *Options) { o.AudioBitrate = "loud" }, 1, 2, br},
		{"bad crop", func(o *Options) { o.Crop = &Crop{Width: 0, Height: 10} }, 1, 2, br},
		{"no bitrate in size mode", func(o *Options) {}, 1, 2, nil},
		{"pass out of range", func(o *Options) {}, 3, 2, br},
		{"zero size", func(o *Options) { o.TargetSizeMB = 0 }, 1, 2, br},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := good
			tt.mutate(&opts)
			_, err := Build("ffmpeg", opts, tt.pass, tt.passes, tt.br)
			if !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestClipSeconds(t *testing.T) {
	tests := []struct {
		start, end, source float64
		want               float64
	}{
		{0, 0, 120, 120},
		{10, 0, 120, 110},
		{10, 70, 120, 60},
		{10, 200, 120, 110},
		{0, 30, 0, 30},
		{130, 0, 120, 0},
	}
	for _, tt := range tests {
		o := Options{StartSeconds: tt.start, EndSeconds: tt.end}
		if got := o.ClipSeconds(tt.source); got != tt.want {
			t.Errorf("ClipSeconds(start=%v end=%v source=%v) = %v, want %v", tt.start, tt.end, tt.source, got, tt.want)
		}
	}
}

func TestEncoderName(t *testing.T) {
	tests := []struct {
		codec Codec
		hw    Hardware
		want  string
	}{
		{CodecH264, HardwareNone, "libx264"},
		{CodecH265, HardwareNone, "libx265"},
		{CodecAV1, HardwareNone, "libsvtav1"},
		{CodecH264, HardwareNVIDIA, "h264_nvenc"},
		{CodecH265, HardwareAMD, "hevc_amf"},
		{CodecAV1, HardwareIntel, "av1_qsv"},
	}
	for _, tt := range tests {
		if got := EncoderName(tt.codec, tt.hw); got != tt.want {
			t.Errorf("EncoderName(%s, %s) = %q, want %q", tt.codec, tt.hw, got, tt.want)
		}
	}
}

func TestRemovePassLogs(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, ".clip-passlog")
	for _, name := range []string{prefix + "-0.log", prefix + "-0.log.mbtree", filepath.Join(dir, "keep.mp4")} {
		if err := os.WriteFile(name, []byte("stats"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	n, err := RemovePassLogs(prefix)
	if err != nil {
		t.Fatalf("RemovePassLogs: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d files, want 2", n)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "keep.mp4" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("remaining files = %s", strings.Join(names, ", "))
	}
}
