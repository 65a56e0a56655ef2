package preflight

import (
	"context"
	"fmt"

	"avsrt/internal/config"
	"avsrt/internal/ledger"
)

// CheckTranslationFromConfig evaluates the configured translation backend
// from config and connectivity.
func CheckTranslationFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "Translation"
	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Translate.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if err := cfg.TranslationCredentialError(); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	switch cfg.Translate.Backend {
	case config.TranslateBackendLLM:
		return CheckLLM(ctx, "Translation LLM", cfg.GetLLM())
	default:
		return CheckGoogleTranslate(ctx, "Google Translate",
			cfg.Translate.BaseURL, cfg.Translate.APIKey,
			cfg.Translate.SourceLanguage, cfg.Translate.TargetLanguage)
	}
}

// CheckLedger opens the run history database and reports its location.
func CheckLedger(cfg *config.Config) Result {
	const name = "Run ledger"
	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Ledger.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	l, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer l.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (schema ok)", l.Path())}
}
