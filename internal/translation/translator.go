package translation

import (
	"context"
	"time"

	"avsrt/internal/config"
	"avsrt/internal/services"
	"avsrt/internal/services/llm"
)

// Translator turns a batch of texts into the target language, returning one
// result per input in order. Failures wrap services.ErrTranslation.
type Translator interface {
	Translate(ctx context.Context, texts []string, source, target string) ([]string, error)
}

// New builds the translator selected by translate.backend. Missing
// credentials are a translation failure, not a configuration error, so the
// source-language output is still produced.
func New(cfg *config.Config) (Translator, error) {
	if err := cfg.TranslationCredentialError(); err != nil {
		return nil, services.Wrap(services.ErrTranslation, "translate", "configure backend", "", err)
	}
	switch cfg.Translate.Backend {
	case config.TranslateBackendLLM:
		return NewLLM(llm.NewClientFrom(cfg.GetLLM())), nil
	default:
		timeout := time.Duration(cfg.Translate.TimeoutSeconds) * time.Second
		return NewGoogle(cfg.Translate.BaseURL, cfg.Translate.APIKey, timeout), nil
	}
}

// BackendMetadata describes the configured backend for cache entries.
func BackendMetadata(cfg *config.Config) map[string]string {
	meta := map[string]string{"backend": cfg.Translate.Backend}
	if cfg.Translate.Backend == config.TranslateBackendLLM {
		meta["model"] = cfg.LLM.Model
	}
	return meta
}
