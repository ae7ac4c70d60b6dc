package ffmpeg

import (
	"context"
	"errors"
	"testing"
	"time"
)

const sampleEncoders = `Encoders:
 V..... = Video
 A..... = Audio
 S..... = Subtitle
 .F.... = Frame-level multithreading
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V....D libx265              libx265 H.265 / HEVC (codec hevc)
 V....D libsvtav1            SVT-AV1(Scalable Video Technology for AV1) encoder (codec av1)
 A....D aac                  AAC (Advanced Audio Coding)
`

func TestParseEncoders(t *testing.T) {
	got := parseEncoders([]byte(sampleEncoders))
	for _, name := range []string{"libx264", "h264_nvenc", "libx265", "libsvtav1", "aac"} {
		if !got[name] {
			t.Errorf("encoder %q not detected", name)
		}
	}
	if got["="] {
		t.Error("legend rows must be skipped")
	}
}

func TestParseVersion(t *testing.T) {
	out := []byte("ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023 the FFmpeg developers\nbuilt with gcc 13\n")
	if got := parseVersion(out); got != "6.1.1-3ubuntu5" {
		t.Errorf("parseVersion = %q", got)
	}
}

func TestCapabilities_Supports(t *testing.T) {
	caps := &Capabilities{Encoders: parseEncoders([]byte(sampleEncoders))}
	if !caps.Supports(CodecH264, HardwareNVIDIA) {
		t.Error("expected h264_nvenc support")
	}
	if caps.Supports(CodecH265, HardwareIntel) {
		t.Error("hevc_qsv should be unsupported")
	}
	want := []string{"libx264", "libx265", "libsvtav1", "h264_nvenc"}
	got := caps.EncoderList()
	if len(got) != len(want) {
		t.Fatalf("EncoderList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("EncoderList[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	var none *Capabilities
	if none.Supports(CodecH264, HardwareNone) {
		t.Error("nil capabilities must support nothing")
	}
}

type fakeProber struct {
	fn func(ctx context.Context) (*Capabilities, error)
}

func (f *fakeProber) Probe(ctx context.Context) (*Capabilities, error) {
	return f.fn(ctx)
}

func TestCachedDoctor_TTL(t *testing.T) {
	calls := 0
	fake := &fakeProber{fn: func(ctx context.Context) (*Capabilities, error) {
		calls++
		return &Capabilities{Version: "6.1", ProbedAt: time.Now()}, nil
	}}

	doc := NewCachedDoctor(fake, nil)
	doc.ttl = 100 * time.Millisecond
	ctx := context.Background()

	caps1, err := doc.Get(ctx)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if caps1.Version != "6.1" {
		t.Errorf("Version = %q", caps1.Version)
	}

	caps2, err := doc.Get(ctx)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if caps2 != caps1 || calls != 1 {
		t.Errorf("expected cached result, calls = %d", calls)
	}

	time.Sleep(150 * time.Millisecond)

	if _, err := doc.Get(ctx); err != nil {
		t.Fatalf("third Get (after TTL): %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls after TTL expiry, got %d", calls)
	}
}

func TestCachedDoctor_StaleOnFailure(t *testing.T) {
	fail := false
	fake := &fakeProber{fn: func(ctx context.Context) (*Capabilities, error) {
		if fail {
			return nil, errors.New("ffmpeg vanished")
		}
		return &Capabilities{Version: "6.1", ProbedAt: time.Now()}, nil
	}}

	doc := NewCachedDoctor(fake, nil)
	first, err := doc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	fail = true
	stale, err := doc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh with cache: %v", err)
	}
	if stale != first {
		t.Error("expected stale cache on failure")
	}

	doc.Invalidate()
	if doc.Peek() != nil {
		t.Error("Peek after Invalidate should be nil")
	}
	if _, err := doc.Get(context.Background()); err == nil {
		t.Error("expected error with empty cache and failing probe")
	}
}
