package config

const (
	defaultConfigPath         = "~/.config/avsrt/config.toml"
	defaultStateDir           = "~/.local/share/avsrt"
	defaultLogDir             = "~/.local/share/avsrt/logs"
	defaultLogRetentionDays   = 30
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultWorkspaceSuffix    = ".av_srt"
	defaultFFmpegBinary       = "ffmpeg"
	defaultSampleRate         = 16000
	defaultUVXBinary          = "uvx"
	defaultASRModel           = "large-v3"
	defaultGoogleTranslateURL = "https://translation.googleapis.com/language/translate/v2"
	defaultLLMBaseURL         = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel           = "google/gemini-3-flash-preview"
	defaultLLMTitle           = "avsrt translator"
	defaultLLMTimeoutSeconds  = 60
)

// Workspace mismatch policies.
const (
	MismatchNewWorkspace = "new_workspace"
	MismatchRefuse       = "refuse"
)

// Backend names.
const (
	VADBackendWebRTC       = "webrtc"
	VADBackendWhole        = "whole"
	ASRBackendWhisperX     = "whisperx"
	TranslateBackendGoogle = "google"
	TranslateBackendLLM    = "llm"
)

// Metric names understood by the gate.
const (
	MetricNoSpeechProb     = "no_speech_prob"
	MetricAvgLogprob       = "avg_logprob"
	MetricCompressionRatio = "compression_ratio"
)

func bound(v float64) *float64 { return &v }

// DefaultMetrics returns the gate's default ASR metric bounds.
func DefaultMetrics() map[string]MetricBounds {
	return map[string]MetricBounds{
		MetricNoSpeechProb:     {Max: bound(0.6)},
		MetricAvgLogprob:       {Min: bound(-1.0)},
		MetricCompressionRatio: {Max: bound(2.4)},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Workspace: Workspace{
			Suffix:         defaultWorkspaceSuffix,
			MismatchPolicy: MismatchNewWorkspace,
			Lock:           true,
		},
		Audio: Audio{
			FFmpegBinary: defaultFFmpegBinary,
			SampleRate:   defaultSampleRate,
		},
		VAD: VAD{
			Backend:      VADBackendWebRTC,
			Mode:         3,
			FrameMS:      30,
			MinSpeechMS:  250,
			MinSilenceMS: 300,
			PaddingMS:    200,
			MaxSegmentMS: 30000,
		},
		ASR: ASR{
			Backend:            ASRBackendWhisperX,
			UVXBinary:          defaultUVXBinary,
			Model:              defaultASRModel,
			Language:           "ja",
			Workers:            2,
			BeamSize:           5,
			SalvageBeamSize:    10,
			SalvageTemperature: 0.2,
		},
		Gate: Gate{
			MinTextChars:         2,
			MinCharsDurationMS:   1000,
			MaxCharsPerSec:       20.0,
			Script:               "ja",
			MinScriptRatio:       0.30,
			MaxRepeatedCharRatio: 0.60,
			DropPunctOnly:        true,
			Metrics:              DefaultMetrics(),
		},
		Chunking: Chunking{
			MergeGapMS:        250,
			MaxBlockMS:        6000,
			MinBlockMS:        800,
			MaxLines:          2,
			CharsPerLine:      22,
			TargetCharsPerSec: 12.0,
		},
		Translate: Translate{
			Backend:        TranslateBackendGoogle,
			SourceLanguage: "ja",
			TargetLanguage: "zh-TW",
			BaseURL:        defaultGoogleTranslateURL,
			BatchSize:      100,
			Workers:        2,
			TimeoutSeconds: 30,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Ledger: Ledger{
			Enabled: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
