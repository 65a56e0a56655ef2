package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"avsrt/internal/services"
)

func TestWriteThenReadWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.wav")
	samples := make([]int16, 16000)
	for i := range samples {
		samples[i] = int16(i % 100)
	}
	if err := WriteWAV(path, 16000, samples); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}

	info, pcm, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if err := ValidateWAV(info, 16000); err != nil {
		t.Fatalf("ValidateWAV: %v", err)
	}
	if len(pcm) != 32000 {
		t.Fatalf("pcm bytes = %d, want 32000", len(pcm))
	}
	if info.DurationMS() != 1000 {
		t.Fatalf("DurationMS = %d, want 1000", info.DurationMS())
	}

	headerOnly, err := ReadWAVInfo(path)
	if err != nil {
		t.Fatalf("ReadWAVInfo: %v", err)
	}
	if headerOnly != info {
		t.Fatalf("header info %+v differs from %+v", headerOnly, info)
	}
}

func TestReadWAVInfoClampsTruncatedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.wav")
	if err := WriteWAV(path, 16000, make([]int16, 1000)); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-1000], 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	info, err := ReadWAVInfo(path)
	if err != nil {
		t.Fatalf("ReadWAVInfo: %v", err)
	}
	if info.DataBytes != 1000 {
		t.Fatalf("DataBytes = %d, want 1000", info.DataBytes)
	}
}

func TestValidateWAVRejects(t *testing.T) {
	good := Info{Format: formatPCM, Channels: 1, SampleRate: 16000, BitsPerSample: 16}
	tests := []struct {
		name   string
		mutate func(*Info)
	}{
		{"stereo", func(i *Info) { i.Channels = 2 }},
		{"rate", func(i *Info) { i.SampleRate = 44100 }},
		{"depth", func(i *Info) { i.BitsPerSample = 24 }},
		{"float", func(i *Info) { i.Format = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := good
			tt.mutate(&info)
			if err := ValidateWAV(info, 16000); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestReadWAVRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(path, []byte("definitely not a wav header"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadWAVInfo(path); err == nil {
		t.Fatal("expected error for non-wav input")
	}
}

func TestFFmpegExtractArgsAndCommit(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "audio.wav")
	var gotName string
	var gotArgs []string
	ff := NewFFmpeg("ffmpeg-test", 16000).WithCommandRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return nil, os.WriteFile(args[len(args)-1], []byte("wav"), 0o644)
	})
	if err := ff.Extract(context.Background(), "/videos/movie.mp4", dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if gotName != "ffmpeg-test" {
		t.Fatalf("binary = %q", gotName)
	}
	for _, want := range [][]string{{"-i", "/videos/movie.mp4"}, {"-ac", "1"}, {"-ar", "16000"}, {"-c:a", "pcm_s16le"}} {
		idx := slices.Index(gotArgs, want[0])
		if idx < 0 || idx+1 >= len(gotArgs) || gotArgs[idx+1] != want[1] {
			t.Fatalf("expected %v in args %v", want, gotArgs)
		}
	}
	if !slices.Contains(gotArgs, "-vn") {
		t.Fatalf("expected -vn in args %v", gotArgs)
	}
	if data, err := os.ReadFile(dest); err != nil || string(data) != "wav" {
		t.Fatalf("dest not committed: %q, %v", data, err)
	}
	if _, err := os.Stat(dest + ".partial"); !os.IsNotExist(err) {
		t.Fatal("partial file left behind")
	}
}

func TestFFmpegExtractFailureIsStageExecution(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "audio.wav")
	ff := NewFFmpeg("ffmpeg", 16000).WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
		return []byte("Invalid data found when processing input"), errors.New("exit status 1")
	})
	err := ff.Extract(context.Background(), "/videos/broken.mp4", dest)
	if !errors.Is(err, services.ErrStageExecution) || !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected stage execution error, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("failed extraction must not leave audio.wav")
	}
}

func TestFFmpegClipArgs(t *testing.T) {
	var gotArgs []string
	ff := NewFFmpeg("ffmpeg", 16000).WithCommandRunner(func(_ context.Context, _ string, args ...string) ([]byte, error) {
		gotArgs = args
		return nil, nil
	})
	if err := ff.Clip(context.Background(), "audio.wav", 1500, 62005, "clip.wav"); err != nil {
		t.Fatalf("Clip: %v", err)
	}
	ss := slices.Index(gotArgs, "-ss")
	to := slices.Index(gotArgs, "-to")
	if ss < 0 || gotArgs[ss+1] != "1.500" || to < 0 || gotArgs[to+1] != "62.005" {
		t.Fatalf("unexpected clip args %v", gotArgs)
	}
	if err := ff.Clip(context.Background(), "audio.wav", 10, 10, "clip.wav"); err == nil {
		t.Fatal("expected error for empty range")
	}
}
