package preflight

import (
	"context"
	"fmt"
	"strings"

	"avsrt/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	var results []Result

	// State and log directories (always checked)
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	for _, status := range CheckSystemDeps(cfg) {
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Command}
		if !status.Available {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}

	// Run ledger
	if cfg.Ledger.Enabled {
		results = append(results, CheckLedger(cfg))
	}

	// Translation backend
	if cfg.Translate.Enabled {
		results = append(results, CheckTranslationFromConfig(ctx, cfg))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// Summary renders failed results as one line each.
func Summary(results []Result) string {
	var sb strings.Builder
	for _, r := range Failed(results) {
		fmt.Fprintf(&sb, "%s: %s\n", r.Name, r.Detail)
	}
	return sb.String()
}
