package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state and log directories.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Workspace controls how per-video working directories are resolved.
type Workspace struct {
	Suffix         string `toml:"suffix"`
	MismatchPolicy string `toml:"mismatch_policy"`
	Lock           bool   `toml:"lock"`
}

// Audio contains extraction settings.
type Audio struct {
	FFmpegBinary string `toml:"ffmpeg_binary"`
	SampleRate   int    `toml:"sample_rate"`
}

// VAD contains voice activity detection settings.
type VAD struct {
	Backend      string `toml:"backend"`
	Mode         int    `toml:"mode"`
	FrameMS      int    `toml:"frame_ms"`
	MinSpeechMS  int    `toml:"min_speech_ms"`
	MinSilenceMS int    `toml:"min_silence_ms"`
	PaddingMS    int    `toml:"padding_ms"`
	MaxSegmentMS int    `toml:"max_segment_ms"`
}

// ASR contains speech recognition settings.
type ASR struct {
	Backend            string  `toml:"backend"`
	UVXBinary          string  `toml:"uvx_binary"`
	Model              string  `toml:"model"`
	Language           string  `toml:"language"`
	CUDA               bool    `toml:"cuda"`
	Workers            int     `toml:"workers"`
	BeamSize           int     `toml:"beam_size"`
	SalvageBeamSize    int     `toml:"salvage_beam_size"`
	SalvageTemperature float64 `toml:"salvage_temperature"`
}

// MetricBounds is an inclusive range for one ASR quality metric. A nil bound
// is not checked.
type MetricBounds struct {
	Min *float64 `toml:"min" json:"min,omitempty"`
	Max *float64 `toml:"max" json:"max,omitempty"`
}

// Gate contains segment acceptance thresholds.
type Gate struct {
	MinTextChars         int                     `toml:"min_text_chars"`
	MinCharsDurationMS   int                     `toml:"min_chars_duration_ms"`
	MaxCharsPerSec       float64                 `toml:"max_chars_per_sec"`
	Script               string                  `toml:"script"`
	MinScriptRatio       float64                 `toml:"min_script_ratio"`
	MaxRepeatedCharRatio float64                 `toml:"max_repeated_char_ratio"`
	DropPunctOnly        bool                    `toml:"drop_punct_only"`
	Salvage              bool                    `toml:"salvage"`
	Metrics              map[string]MetricBounds `toml:"metrics"`
}

// Chunking contains subtitle block layout settings.
type Chunking struct {
	MergeGapMS        int     `toml:"merge_gap_ms"`
	MaxBlockMS        int     `toml:"max_block_ms"`
	MinBlockMS        int     `toml:"min_block_ms"`
	MaxLines          int     `toml:"max_lines"`
	CharsPerLine      int     `toml:"chars_per_line"`
	TargetCharsPerSec float64 `toml:"target_chars_per_sec"`
}

// Translate contains optional translation settings.
type Translate struct {
	Enabled        bool   `toml:"enabled"`
	Backend        string `toml:"backend"`
	SourceLanguage string `toml:"source_language"`
	TargetLanguage string `toml:"target_language"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	BatchSize      int    `toml:"batch_size"`
	Workers        int    `toml:"workers"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LLM contains connection settings for the LLM translation backend.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Ledger controls the run history database.
type Ledger struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for avsrt.
//
// Configuration sections by subsystem:
//   - Paths: state and log directories
//   - Workspace: per-video work directory naming and locking
//   - Audio, VAD, ASR: front half of the pipeline
//   - Gate, Chunking: segment filtering and block layout
//   - Translate, LLM: optional target-language subtitles
//   - Ledger: SQLite run history
//   - Logging: log format, level, and retention
type Config struct {
	Paths     Paths     `toml:"paths"`
	Workspace Workspace `toml:"workspace"`
	Audio     Audio     `toml:"audio"`
	VAD       VAD       `toml:"vad"`
	ASR       ASR       `toml:"asr"`
	Gate      Gate      `toml:"gate"`
	Chunking  Chunking  `toml:"chunking"`
	Translate Translate `toml:"translate"`
	LLM       LLM       `toml:"llm"`
	Ledger    Ledger    `toml:"ledger"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("avsrt.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LedgerPath returns the SQLite run history location.
func (c *Config) LedgerPath() string {
	if strings.TrimSpace(c.Ledger.Path) != "" {
		return c.Ledger.Path
	}
	return filepath.Join(c.Paths.StateDir, "ledger.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains the LLM connection settings handed to the client.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// GetLLM returns the LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
	}
}

// OverrideTranslation applies command-line translation settings on top of
// the loaded file and revalidates the translate section. An empty target
// keeps the configured language.
func (c *Config) OverrideTranslation(enabled bool, target string) error {
	c.Translate.Enabled = enabled
	if strings.TrimSpace(target) != "" {
		c.Translate.TargetLanguage = canonicalLanguage(target)
	}
	return c.validateTranslate()
}
