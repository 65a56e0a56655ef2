package pipeline

import (
	"context"
	"fmt"
	"time"

	"avsrt/internal/artifact"
	"avsrt/internal/asr"
	"avsrt/internal/audio"
	"avsrt/internal/chunking"
	"avsrt/internal/config"
	"avsrt/internal/gate"
	"avsrt/internal/logging"
	"avsrt/internal/services"
	"avsrt/internal/subtitles"
	"avsrt/internal/translation"
	"avsrt/internal/vad"
	"avsrt/internal/workspace"
)

// Stage names in execution order.
const (
	StageExtractAudio  = "extract_audio"
	StageVAD           = "vad"
	StageASR           = "asr"
	StageGate          = "gate"
	StageBlocks        = "blocks"
	StageNormalize     = "normalize"
	StageSRT           = "srt"
	StageTranslate     = "translate"
	StageSRTTranslated = "srt_translated"
)

// normalizeVersion and blocksVersion change whenever the normalization or
// chunking rules change so cached blocks are rebuilt.
const (
	normalizeVersion = 2
	blocksVersion    = 2
)

// blocksConfig is the fingerprinted configuration of the blocks stage.
type blocksConfig struct {
	config.Chunking
	Version int `json:"version"`
}

// Deps holds the outside collaborators. A nil field is built from the
// configuration the first time a stage needs it, so a fully cached run never
// touches ffmpeg or whisperx.
type Deps struct {
	Extractor   audio.Extractor
	Detector    vad.Detector
	Transcriber asr.Transcriber
	Translator  translation.Translator
}

type lazyDeps struct {
	cfg  *config.Config
	deps Deps
}

func (l *lazyDeps) extractor() audio.Extractor {
	if l.deps.Extractor == nil {
		l.deps.Extractor = audio.NewFFmpeg(l.cfg.Audio.FFmpegBinary, l.cfg.Audio.SampleRate)
	}
	return l.deps.Extractor
}

func (l *lazyDeps) detector() (vad.Detector, error) {
	if l.deps.Detector == nil {
		det, err := vad.New(l.cfg.VAD)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, StageVAD, "select backend", "", err)
		}
		l.deps.Detector = det
	}
	return l.deps.Detector, nil
}

func (l *lazyDeps) transcriber() (asr.Transcriber, error) {
	if l.deps.Transcriber == nil {
		tr, err := asr.New(l.cfg.ASR)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, StageASR, "select backend", "", err)
		}
		l.deps.Transcriber = tr
	}
	return l.deps.Transcriber, nil
}

func (l *lazyDeps) translator() (translation.Translator, error) {
	if l.deps.Translator == nil {
		tr, err := translation.New(l.cfg)
		if err != nil {
			return nil, err
		}
		l.deps.Translator = tr
	}
	return l.deps.Translator, nil
}

type extractConfig struct {
	SampleRate int       `json:"sample_rate"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	MTime      time.Time `json:"mtime"`
}

type vadConfig struct {
	config.VAD
	SampleRate int `json:"sample_rate"`
}

type asrConfig struct {
	Backend  string `json:"backend"`
	Model    string `json:"model"`
	Language string `json:"language"`
	BeamSize int    `json:"beam_size"`
}

type gateConfig struct {
	config.Gate
	SalvageBeamSize    int     `json:"salvage_beam_size"`
	SalvageTemperature float64 `json:"salvage_temperature"`
}

type translateConfig struct {
	Source       string            `json:"source"`
	Target       string            `json:"target"`
	Backend      map[string]string `json:"backend"`
	CharsPerLine int               `json:"chars_per_line"`
	MaxLines     int               `json:"max_lines"`
}

type srtConfig struct {
	Language string `json:"language"`
}

// Build assembles the stage list for ws. The translate stages are appended
// only when translation is enabled.
func Build(cfg *config.Config, ws *workspace.Handle, deps Deps) []Stage {
	lazy := &lazyDeps{cfg: cfg, deps: deps}
	store := ws.Store
	source := cfg.Translate.SourceLanguage
	target := cfg.Translate.TargetLanguage
	sourceSRT := ws.OutputPath(source)
	fp := ws.Record.Fingerprint

	stages := []Stage{
		{
			Name:     StageExtractAudio,
			Artifact: artifact.AudioName,
			Config: extractConfig{
				SampleRate: cfg.Audio.SampleRate,
				Path:       fp.Path,
				SizeBytes:  fp.SizeBytes,
				MTime:      fp.MTime,
			},
			External: true,
			Run: func(ctx context.Context, inv *Invocation) error {
				return lazy.extractor().Extract(ctx, ws.InputPath, store.Path(artifact.AudioName))
			},
			Validate: func(env *Env) error {
				info, err := audio.ReadWAVInfo(env.Store.Path(artifact.AudioName))
				if err != nil {
					return err
				}
				return audio.ValidateWAV(info, cfg.Audio.SampleRate)
			},
		},
		{
			Name:     StageVAD,
			Artifact: artifact.VADName,
			Config:   vadConfig{VAD: cfg.VAD, SampleRate: cfg.Audio.SampleRate},
			Upstream: StageExtractAudio,
			Run: func(ctx context.Context, inv *Invocation) error {
				det, err := lazy.detector()
				if err != nil {
					return err
				}
				segments, err := vad.Run(ctx, store, det, cfg.Audio.SampleRate, int64(cfg.VAD.MaxSegmentMS))
				if err != nil {
					return err
				}
				inv.Logger.Info("speech segments detected", logging.Int("segments", len(segments)))
				return nil
			},
			Validate: func(env *Env) error {
				var segments artifact.RawSegments
				return env.Store.ReadJSON(artifact.VADName, &segments)
			},
			Account: func(env *Env) error {
				var segments artifact.RawSegments
				if err := env.Store.ReadJSON(artifact.VADName, &segments); err != nil {
					return err
				}
				env.Counters.Set(CounterSegmentsProduced, int64(len(segments)))
				return nil
			},
		},
		{
			Name:     StageASR,
			Artifact: artifact.ASRName,
			Config: asrConfig{
				Backend:  cfg.ASR.Backend,
				Model:    cfg.ASR.Model,
				Language: cfg.ASR.Language,
				BeamSize: cfg.ASR.BeamSize,
			},
			Upstream: StageVAD,
			External: true,
			Run: func(ctx context.Context, inv *Invocation) error {
				tr, err := lazy.transcriber()
				if err != nil {
					return err
				}
				_, err = asr.Run(ctx, asr.Params{
					Store:       store,
					Extractor:   lazy.extractor(),
					Transcriber: tr,
					Options:     asr.DefaultOptions(cfg.ASR),
					Workers:     cfg.ASR.Workers,
					Fingerprint: inv.Fingerprint,
					Logger:      inv.Logger,
				})
				return err
			},
			Validate: func(env *Env) error {
				var raw artifact.RawSegments
				if err := env.Store.ReadJSON(artifact.VADName, &raw); err != nil {
					return err
				}
				var transcribed artifact.TranscribedSegments
				if err := env.Store.ReadJSON(artifact.ASRName, &transcribed); err != nil {
					return err
				}
				return artifact.MatchesSegments(raw, transcribed)
			},
		},
		{
			Name:     StageGate,
			Artifact: artifact.GatedName,
			Config: gateConfig{
				Gate:               cfg.Gate,
				SalvageBeamSize:    cfg.ASR.SalvageBeamSize,
				SalvageTemperature: cfg.ASR.SalvageTemperature,
			},
			Upstream: StageASR,
			Run: func(ctx context.Context, inv *Invocation) error {
				var salvager gate.Salvager
				if cfg.Gate.Salvage {
					tr, err := lazy.transcriber()
					if err != nil {
						return err
					}
					salvager = &asr.Salvager{
						Store:       store,
						Extractor:   lazy.extractor(),
						Transcriber: tr,
						Options:     asr.SalvageOptions(cfg.ASR),
					}
				}
				_, _, err := gate.New(cfg.Gate, salvager, inv.Logger).Run(ctx, store)
				return err
			},
			Validate: func(env *Env) error {
				var gated artifact.GatedSegments
				return env.Store.ReadJSON(artifact.GatedName, &gated)
			},
			Account: func(env *Env) error {
				var gated artifact.GatedSegments
				if err := env.Store.ReadJSON(artifact.GatedName, &gated); err != nil {
					return err
				}
				stats := gate.Tally(gated)
				env.Counters.Set(CounterSegmentsAccepted, int64(stats.Accepted))
				env.Counters.Set(CounterSegmentsRejected, int64(stats.Rejected))
				env.Counters.Set(CounterSalvageAttempts, int64(stats.SalvageAttempts))
				env.Counters.Set(CounterSalvageSuccesses, int64(stats.SalvageSuccesses))
				env.Counters.SetRejected(stats.ByReason)
				return nil
			},
		},
		{
			Name:     StageBlocks,
			Artifact: artifact.BlocksName,
			Config:   blocksConfig{Chunking: cfg.Chunking, Version: blocksVersion},
			Upstream: StageGate,
			Run: func(ctx context.Context, inv *Invocation) error {
				_, err := chunking.Run(store, cfg.Chunking)
				return err
			},
			Validate: func(env *Env) error {
				var blocks artifact.SubtitleBlocks
				return env.Store.ReadJSON(artifact.BlocksName, &blocks)
			},
			Account: func(env *Env) error {
				var blocks artifact.SubtitleBlocks
				if err := env.Store.ReadJSON(artifact.BlocksName, &blocks); err != nil {
					return err
				}
				env.Counters.Set(CounterBlocksProduced, int64(len(blocks)))
				return nil
			},
		},
		{
			Name:     StageNormalize,
			Artifact: artifact.NormalizedName,
			Config:   map[string]int{"version": normalizeVersion},
			Upstream: StageBlocks,
			Run: func(ctx context.Context, inv *Invocation) error {
				_, err := subtitles.RunNormalize(store)
				return err
			},
			Validate: func(env *Env) error {
				var blocks artifact.SubtitleBlocks
				return env.Store.ReadJSON(artifact.NormalizedName, &blocks)
			},
		},
		{
			Name:     StageSRT,
			Artifact: sourceSRT,
			Config:   srtConfig{Language: source},
			Upstream: StageNormalize,
			Run: func(ctx context.Context, inv *Invocation) error {
				n, err := subtitles.WriteSRT(store, artifact.NormalizedName, sourceSRT)
				if err != nil {
					return err
				}
				inv.Logger.Info("subtitles written", logging.String("path", sourceSRT), logging.Int("cues", n))
				return nil
			},
			Validate: func(env *Env) error {
				return subtitles.ValidateSRTFile(sourceSRT)
			},
		},
	}
	if !cfg.Translate.Enabled {
		return stages
	}

	translatedName := artifact.TranslatedBlocksName(target)
	targetSRT := ws.OutputPath(target)
	backend := translation.BackendMetadata(cfg)
	return append(stages,
		Stage{
			Name:     StageTranslate,
			Artifact: translatedName,
			Config: translateConfig{
				Source:       source,
				Target:       target,
				Backend:      backend,
				CharsPerLine: cfg.Chunking.CharsPerLine,
				MaxLines:     cfg.Chunking.MaxLines,
			},
			Upstream: StageNormalize,
			External: true,
			Run: func(ctx context.Context, inv *Invocation) (err error) {
				defer func() {
					if err != nil {
						discardTranslation(inv, store, translatedName, targetSRT)
					}
				}()
				tr, err := lazy.translator()
				if err != nil {
					return err
				}
				cache, err := translation.OpenCache(store, source, target, backend)
				if err != nil {
					return err
				}
				defer cache.Close()
				_, err = translation.Run(ctx, translation.Params{
					Store:        store,
					Cache:        cache,
					Translator:   tr,
					Source:       source,
					Target:       target,
					BatchSize:    cfg.Translate.BatchSize,
					Workers:      cfg.Translate.Workers,
					CharsPerLine: cfg.Chunking.CharsPerLine,
					MaxLines:     cfg.Chunking.MaxLines,
					Logger:       inv.Logger,
				})
				hits, misses, _ := cache.Stats()
				inv.Env.Counters.Set(CounterCacheHits, int64(hits))
				inv.Env.Counters.Set(CounterCacheMisses, int64(misses))
				return err
			},
			Validate: func(env *Env) error {
				var blocks artifact.SubtitleBlocks
				if err := env.Store.ReadJSON(translatedName, &blocks); err != nil {
					return err
				}
				var sourceBlocks artifact.SubtitleBlocks
				if err := env.Store.ReadJSON(artifact.NormalizedName, &sourceBlocks); err != nil {
					return err
				}
				if len(blocks) != len(sourceBlocks) {
					return fmt.Errorf("%d translated blocks for %d source blocks", len(blocks), len(sourceBlocks))
				}
				return nil
			},
		},
		Stage{
			Name:     StageSRTTranslated,
			Artifact: targetSRT,
			Config:   srtConfig{Language: target},
			Upstream: StageTranslate,
			Run: func(ctx context.Context, inv *Invocation) error {
				n, err := subtitles.WriteSRT(store, translatedName, targetSRT)
				if err != nil {
					return services.Wrap(services.ErrTranslation, StageSRTTranslated, "write subtitles", "", err)
				}
				inv.Logger.Info("subtitles written", logging.String("path", targetSRT), logging.Int("cues", n))
				return nil
			},
			Validate: func(env *Env) error {
				return subtitles.ValidateSRTFile(targetSRT)
			},
		},
	)
}

// discardTranslation removes translated outputs after a failed translate
// stage. They were built from earlier source blocks and must not sit next to
// a source file they no longer match.
func discardTranslation(inv *Invocation, store *artifact.Store, names ...string) {
	for _, name := range names {
		if err := store.Remove(name); err != nil {
			logging.WarnWithContext(inv.Logger, "stale translation not removed", "translation_discard_failed",
				logging.String("artifact", name),
				logging.String(logging.FieldErrorHint, "delete the file by hand"),
				logging.String(logging.FieldImpact, "translated subtitles may not match the source subtitles"),
				logging.Error(err),
			)
		}
	}
}
