package config

import (
	"fmt"
	"os"
	"strings"

	"avsrt/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkspace()
	c.normalizeStages()
	c.normalizeTranslate()
	c.normalizeLLM()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Ledger.Path) != "" {
		if c.Ledger.Path, err = expandPath(strings.TrimSpace(c.Ledger.Path)); err != nil {
			return fmt.Errorf("ledger.path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeWorkspace() {
	c.Workspace.Suffix = strings.TrimSpace(c.Workspace.Suffix)
	if c.Workspace.Suffix == "" {
		c.Workspace.Suffix = defaultWorkspaceSuffix
	}
	c.Workspace.MismatchPolicy = strings.ToLower(strings.TrimSpace(c.Workspace.MismatchPolicy))
	if c.Workspace.MismatchPolicy == "" {
		c.Workspace.MismatchPolicy = MismatchNewWorkspace
	}
}

func (c *Config) normalizeStages() {
	c.Audio.FFmpegBinary = strings.TrimSpace(c.Audio.FFmpegBinary)
	if c.Audio.FFmpegBinary == "" {
		c.Audio.FFmpegBinary = defaultFFmpegBinary
	}
	c.VAD.Backend = strings.ToLower(strings.TrimSpace(c.VAD.Backend))
	if c.VAD.Backend == "" {
		c.VAD.Backend = VADBackendWebRTC
	}
	c.ASR.Backend = strings.ToLower(strings.TrimSpace(c.ASR.Backend))
	if c.ASR.Backend == "" {
		c.ASR.Backend = ASRBackendWhisperX
	}
	c.ASR.UVXBinary = strings.TrimSpace(c.ASR.UVXBinary)
	if c.ASR.UVXBinary == "" {
		c.ASR.UVXBinary = defaultUVXBinary
	}
	c.ASR.Model = strings.TrimSpace(c.ASR.Model)
	if c.ASR.Model == "" {
		c.ASR.Model = defaultASRModel
	}
	c.ASR.Language = canonicalLanguage(c.ASR.Language)
	c.Gate.Script = strings.ToLower(strings.TrimSpace(c.Gate.Script))
	if c.Gate.Metrics == nil {
		c.Gate.Metrics = map[string]MetricBounds{}
	}
	for name, bounds := range DefaultMetrics() {
		if _, ok := c.Gate.Metrics[name]; !ok {
			c.Gate.Metrics[name] = bounds
		}
	}
}

func (c *Config) normalizeTranslate() {
	c.Translate.Backend = strings.ToLower(strings.TrimSpace(c.Translate.Backend))
	if c.Translate.Backend == "" {
		c.Translate.Backend = TranslateBackendGoogle
	}
	c.Translate.SourceLanguage = canonicalLanguage(c.Translate.SourceLanguage)
	c.Translate.TargetLanguage = canonicalLanguage(c.Translate.TargetLanguage)
	c.Translate.BaseURL = strings.TrimSpace(c.Translate.BaseURL)
	if c.Translate.BaseURL == "" {
		c.Translate.BaseURL = defaultGoogleTranslateURL
	}
	c.Translate.APIKey = strings.TrimSpace(c.Translate.APIKey)
	if c.Translate.APIKey == "" {
		if value, ok := os.LookupEnv("GOOGLE_TRANSLATE_API_KEY"); ok {
			c.Translate.APIKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
}

// canonicalLanguage returns the BCP 47 form of code, or the trimmed input when
// it does not parse so Validate can report it.
func canonicalLanguage(code string) string {
	code = strings.TrimSpace(code)
	if canonical, err := language.Canonical(code); err == nil {
		return canonical
	}
	return code
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
