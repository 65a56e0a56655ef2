package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"avsrt/internal/config"
	langpkg "avsrt/internal/language"
)

// WhisperX invocation constants.
const (
	DefaultModel     = "large-v3"
	CUDAIndexURL     = "https://download.pytorch.org/whl/cu128"
	PypiIndexURL     = "https://pypi.org/simple"
	BatchSize        = "4"
	VADMethodSilero  = "silero"
	OutputFormatJSON = "json"
	CPUDevice        = "cpu"
	CUDADevice       = "cuda"
	CPUComputeType   = "float32"
	UVXCommand       = "uvx"
)

// WhisperXConfig captures runtime settings for WhisperX.
type WhisperXConfig struct {
	UVXBinary   string
	Model       string
	CUDAEnabled bool
}

// WhisperX transcribes clips by running whisperx through uvx.
type WhisperX struct {
	cfg           WhisperXConfig
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewWhisperX creates a WhisperX transcriber.
func NewWhisperX(cfg WhisperXConfig) *WhisperX {
	if cfg.UVXBinary == "" {
		cfg.UVXBinary = UVXCommand
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &WhisperX{cfg: cfg}
}

// WithCommandRunner sets a custom command runner (for testing).
func (w *WhisperX) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	w.commandRunner = runner
}

// Model returns the configured model name for logging.
func (w *WhisperX) Model() string {
	return w.cfg.Model
}

// Transcribe implements Transcriber. WhisperX writes <clip>.json into a
// scratch directory next to the clip, which is removed afterwards.
func (w *WhisperX) Transcribe(ctx context.Context, clipPath string, opts Options) (Result, error) {
	if clipPath == "" {
		return Result{}, fmt.Errorf("transcribe: clip path required")
	}
	outputDir, err := os.MkdirTemp(filepath.Dir(clipPath), "whisperx-")
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: output dir: %w", err)
	}
	defer os.RemoveAll(outputDir)

	if err := w.run(ctx, w.cfg.UVXBinary, w.buildArgs(clipPath, outputDir, opts)...); err != nil {
		return Result{}, fmt.Errorf("whisperx: %w", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(clipPath), filepath.Ext(clipPath))
	segments, err := LoadSegments(filepath.Join(outputDir, baseName+".json"))
	if err != nil {
		return Result{}, fmt.Errorf("whisperx: %w", err)
	}
	return aggregate(segments, opts.Language), nil
}

func (w *WhisperX) run(ctx context.Context, name string, args ...string) error {
	if w.commandRunner != nil {
		return w.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 changed torch.load default to weights_only=true, breaking WhisperX.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (w *WhisperX) buildArgs(source, outputDir string, opts Options) []string {
	args := make([]string, 0, 32)

	if w.cfg.CUDAEnabled {
		args = append(args,
			"--index-url", CUDAIndexURL,
			"--extra-index-url", PypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	args = append(args,
		"whisperx",
		source,
		"--model", w.cfg.Model,
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormatJSON,
		"--vad_method", VADMethodSilero,
		"--temperature", strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
	)
	if opts.BeamSize > 0 {
		args = append(args, "--beam_size", strconv.Itoa(opts.BeamSize))
	}

	if lang := langpkg.ToISO2(opts.Language); lang != "" {
		args = append(args, "--language", lang)
	}

	if w.cfg.CUDAEnabled {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}
	return args
}

// Segment is one transcribed span from WhisperX JSON output. Metric fields
// are kept raw so values that are not numbers can be reported.
type Segment struct {
	Text             string          `json:"text"`
	Start            float64         `json:"start"`
	End              float64         `json:"end"`
	AvgLogprob       json.RawMessage `json:"avg_logprob,omitempty"`
	NoSpeechProb     json.RawMessage `json:"no_speech_prob,omitempty"`
	CompressionRatio json.RawMessage `json:"compression_ratio,omitempty"`
}

type whisperXPayload struct {
	Segments []Segment `json:"segments"`
}

// Python's json module writes bare NaN and Infinity for metric values.
var nonFiniteMetric = regexp.MustCompile(`("(?:avg_logprob|no_speech_prob|compression_ratio)"\s*:\s*)(-?Infinity|NaN)`)

// LoadSegments loads segments from a WhisperX JSON file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, err
	}
	data = nonFiniteMetric.ReplaceAll(data, []byte(`$1"$2"`))
	var payload whisperXPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload.Segments, nil
}

// aggregate joins segment text and folds per-segment metrics into the
// clip-level worst case: lowest avg_logprob, highest no_speech_prob and
// compression_ratio.
func aggregate(segments []Segment, language string) Result {
	result := Result{Metrics: map[string]float64{}}
	var parts []string
	malformed := map[string]bool{}

	fold := func(name string, raw json.RawMessage, worse func(a, b float64) bool) {
		if len(raw) == 0 || string(raw) == "null" {
			return
		}
		var value float64
		if err := json.Unmarshal(raw, &value); err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			malformed[name] = true
			return
		}
		if current, ok := result.Metrics[name]; !ok || worse(value, current) {
			result.Metrics[name] = value
		}
	}
	lower := func(a, b float64) bool { return a < b }
	higher := func(a, b float64) bool { return a > b }

	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
		fold(config.MetricAvgLogprob, seg.AvgLogprob, lower)
		fold(config.MetricNoSpeechProb, seg.NoSpeechProb, higher)
		fold(config.MetricCompressionRatio, seg.CompressionRatio, higher)
	}

	for _, name := range []string{config.MetricAvgLogprob, config.MetricNoSpeechProb, config.MetricCompressionRatio} {
		if malformed[name] {
			delete(result.Metrics, name)
			result.Malformed = append(result.Malformed, name)
		}
	}

	separator := " "
	if langpkg.Script(language) != "" {
		separator = ""
	}
	result.Text = strings.Join(parts, separator)
	return result
}
