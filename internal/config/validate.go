package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"avsrt/internal/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validateWorkspace,
		c.validateAudio,
		c.validateVAD,
		c.validateASR,
		c.validateGate,
		c.validateChunking,
		c.validateTranslate,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateWorkspace() error {
	switch c.Workspace.MismatchPolicy {
	case MismatchNewWorkspace, MismatchRefuse:
	default:
		return fmt.Errorf("workspace.mismatch_policy must be %q or %q", MismatchNewWorkspace, MismatchRefuse)
	}
	if strings.ContainsAny(c.Workspace.Suffix, `/\`) {
		return errors.New("workspace.suffix must not contain path separators")
	}
	return nil
}

func (c *Config) validateAudio() error {
	if c.Audio.SampleRate != 8000 && c.Audio.SampleRate != 16000 && c.Audio.SampleRate != 32000 && c.Audio.SampleRate != 48000 {
		return errors.New("audio.sample_rate must be one of 8000, 16000, 32000, 48000")
	}
	return nil
}

func (c *Config) validateVAD() error {
	switch c.VAD.Backend {
	case VADBackendWebRTC, VADBackendWhole:
	default:
		return fmt.Errorf("vad.backend must be %q or %q", VADBackendWebRTC, VADBackendWhole)
	}
	if c.VAD.Mode < 0 || c.VAD.Mode > 3 {
		return errors.New("vad.mode must be between 0 and 3")
	}
	switch c.VAD.FrameMS {
	case 10, 20, 30:
	default:
		return errors.New("vad.frame_ms must be 10, 20, or 30")
	}
	if err := ensureNonNegativeMap(map[string]int{
		"vad.min_speech_ms":  c.VAD.MinSpeechMS,
		"vad.min_silence_ms": c.VAD.MinSilenceMS,
		"vad.padding_ms":     c.VAD.PaddingMS,
	}); err != nil {
		return err
	}
	if c.VAD.MaxSegmentMS <= 0 {
		return errors.New("vad.max_segment_ms must be positive")
	}
	return nil
}

func (c *Config) validateASR() error {
	if c.ASR.Backend != ASRBackendWhisperX {
		return fmt.Errorf("asr.backend must be %q", ASRBackendWhisperX)
	}
	if _, err := language.Canonical(c.ASR.Language); err != nil {
		return fmt.Errorf("asr.language: %w", err)
	}
	if err := ensurePositiveMap(map[string]int{
		"asr.workers":           c.ASR.Workers,
		"asr.beam_size":         c.ASR.BeamSize,
		"asr.salvage_beam_size": c.ASR.SalvageBeamSize,
	}); err != nil {
		return err
	}
	if c.ASR.SalvageTemperature < 0 || c.ASR.SalvageTemperature > 1 {
		return errors.New("asr.salvage_temperature must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateGate() error {
	if c.Gate.MinTextChars < 0 {
		return errors.New("gate.min_text_chars must be >= 0")
	}
	if c.Gate.MinCharsDurationMS < 0 {
		return errors.New("gate.min_chars_duration_ms must be >= 0")
	}
	if c.Gate.MaxCharsPerSec <= 0 {
		return errors.New("gate.max_chars_per_sec must be positive")
	}
	switch c.Gate.Script {
	case "ja", "zh", "ko", "":
	default:
		return errors.New(`gate.script must be "ja", "zh", "ko", or empty`)
	}
	if c.Gate.MinScriptRatio < 0 || c.Gate.MinScriptRatio > 1 {
		return errors.New("gate.min_script_ratio must be between 0 and 1")
	}
	if c.Gate.MaxRepeatedCharRatio <= 0 || c.Gate.MaxRepeatedCharRatio > 1 {
		return errors.New("gate.max_repeated_char_ratio must be in (0, 1]")
	}
	names := make([]string, 0, len(c.Gate.Metrics))
	for name := range c.Gate.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b := c.Gate.Metrics[name]
		if b.Min != nil && b.Max != nil && *b.Min > *b.Max {
			return fmt.Errorf("gate.metrics.%s.min must not exceed max", name)
		}
	}
	return nil
}

func (c *Config) validateChunking() error {
	if err := ensurePositiveMap(map[string]int{
		"chunking.max_block_ms":   c.Chunking.MaxBlockMS,
		"chunking.min_block_ms":   c.Chunking.MinBlockMS,
		"chunking.max_lines":      c.Chunking.MaxLines,
		"chunking.chars_per_line": c.Chunking.CharsPerLine,
	}); err != nil {
		return err
	}
	if c.Chunking.MergeGapMS < 0 {
		return errors.New("chunking.merge_gap_ms must be >= 0")
	}
	if c.Chunking.MinBlockMS > c.Chunking.MaxBlockMS {
		return errors.New("chunking.min_block_ms must not exceed chunking.max_block_ms")
	}
	if c.Chunking.TargetCharsPerSec < 0 {
		return errors.New("chunking.target_chars_per_sec must be >= 0")
	}
	return nil
}

func (c *Config) validateTranslate() error {
	switch c.Translate.Backend {
	case TranslateBackendGoogle, TranslateBackendLLM:
	default:
		return fmt.Errorf("translate.backend must be %q or %q", TranslateBackendGoogle, TranslateBackendLLM)
	}
	if err := ensurePositiveMap(map[string]int{
		"translate.batch_size":      c.Translate.BatchSize,
		"translate.workers":         c.Translate.Workers,
		"translate.timeout_seconds": c.Translate.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if !c.Translate.Enabled {
		return nil
	}
	if _, err := language.Canonical(c.Translate.SourceLanguage); err != nil {
		return fmt.Errorf("translate.source_language: %w", err)
	}
	if _, err := language.Canonical(c.Translate.TargetLanguage); err != nil {
		return fmt.Errorf("translate.target_language: %w", err)
	}
	if strings.EqualFold(c.Translate.SourceLanguage, c.Translate.TargetLanguage) {
		return errors.New("translate.target_language must differ from translate.source_language")
	}
	return nil
}

// TranslationCredentialError reports missing credentials for the configured
// translation backend, or nil when the backend can authenticate.
func (c *Config) TranslationCredentialError() error {
	switch c.Translate.Backend {
	case TranslateBackendLLM:
		if c.LLM.APIKey == "" {
			return errors.New("llm.api_key must be set for the llm translation backend (or set OPENROUTER_API_KEY)")
		}
	default:
		if c.Translate.APIKey == "" {
			return errors.New("translate.api_key must be set for the google translation backend (or set GOOGLE_TRANSLATE_API_KEY)")
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := sortedKeys(values)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func ensureNonNegativeMap(values map[string]int) error {
	for _, key := range sortedKeys(values) {
		if values[key] < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
	}
	return nil
}

func sortedKeys(values map[string]int) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
