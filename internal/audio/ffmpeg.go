package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"avsrt/internal/artifact"
	"avsrt/internal/services"
)

// Extractor is the audio collaborator: it decodes the video's audio into a
// canonical WAV and cuts segment clips from it.
type Extractor interface {
	Extract(ctx context.Context, video, dest string) error
	Clip(ctx context.Context, audioPath string, startMS, endMS int64, dest string) error
}

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// FFmpeg extracts mono 16-bit PCM audio with ffmpeg.
type FFmpeg struct {
	binary     string
	sampleRate int
	run        CommandRunner
}

// NewFFmpeg returns an extractor that invokes binary at sampleRate.
func NewFFmpeg(binary string, sampleRate int) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &FFmpeg{binary: binary, sampleRate: sampleRate, run: runCommand}
}

// WithCommandRunner replaces the process runner (for testing).
func (f *FFmpeg) WithCommandRunner(runner CommandRunner) *FFmpeg {
	f.run = runner
	return f
}

// Extract decodes the first audio stream of video into dest. Output goes to a
// temp file first and is renamed into place once ffmpeg exits cleanly.
func (f *FFmpeg) Extract(ctx context.Context, video, dest string) error {
	tmp := dest + ".partial"
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", video,
		"-vn",
		"-sn",
		"-dn",
	}
	args = append(args, f.pcmArgs(tmp)...)
	if err := f.exec(ctx, "extract", args); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return artifact.CommitFile(tmp, dest)
}

// Clip cuts [startMS, endMS) from audioPath into dest.
func (f *FFmpeg) Clip(ctx context.Context, audioPath string, startMS, endMS int64, dest string) error {
	if endMS <= startMS {
		return services.Wrap(services.ErrStageExecution, "audio", "clip", fmt.Sprintf("invalid range %d-%d", startMS, endMS), nil)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", formatSeconds(startMS),
		"-to", formatSeconds(endMS),
		"-i", audioPath,
	}
	args = append(args, f.pcmArgs(dest)...)
	return f.exec(ctx, "clip", args)
}

func (f *FFmpeg) pcmArgs(dest string) []string {
	return []string{
		"-ac", "1",
		"-ar", strconv.Itoa(f.sampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		dest,
	}
}

func (f *FFmpeg) exec(ctx context.Context, operation string, args []string) error {
	output, err := f.run(ctx, f.binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		detail := strings.TrimSpace(string(output))
		return services.Wrap(services.ErrStageExecution, "audio", "ffmpeg "+operation, detail, fmt.Errorf("%w: %w", services.ErrExternalTool, err))
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	return cmd.CombinedOutput()
}

// formatSeconds renders milliseconds as seconds with millisecond precision.
func formatSeconds(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}
