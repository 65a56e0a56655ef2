package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"avsrt/internal/config"
	"avsrt/internal/pipeline"
	"avsrt/internal/testsupport"
	"avsrt/internal/vad"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	video      string
	mediaDir   string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("GOOGLE_TRANSLATE_API_KEY", "")

	configPath := filepath.Join(base, "avsrt.toml")
	writeTestConfig(t, configPath, cfg, "")

	mediaDir := filepath.Join(base, "media")
	video := filepath.Join(mediaDir, "ep01.mkv")
	testsupport.WriteFile(t, video, 2048)

	return &cliTestEnv{cfg: cfg, configPath: configPath, video: video, mediaDir: mediaDir}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config, extra string) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nstate_dir = %q\nlog_dir = %q\n\n[vad]\nbackend = %q\n\n[asr]\nworkers = 1\n%s",
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		cfg.VAD.Backend,
		extra,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// fakeDeps answers every stage without ffmpeg or whisperx: two one-second
// speech intervals in four seconds of audio.
func fakeDeps(translator *testsupport.FakeTranslator) pipeline.Deps {
	return pipeline.Deps{
		Extractor: &testsupport.FakeExtractor{DurationMS: 4000},
		Detector: &testsupport.FakeDetector{Intervals: []vad.Interval{
			{StartMS: 0, EndMS: 1000},
			{StartMS: 2000, EndMS: 3000},
		}},
		Transcriber: &testsupport.FakeTranscriber{Default: "こんにちは"},
		Translator:  translator,
	}
}

func runCLI(t *testing.T, collaborators pipeline.Deps, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommandWith(collaborators)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
