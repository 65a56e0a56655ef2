package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"avsrt/internal/config"
	"avsrt/internal/ledger"
	"avsrt/internal/logging"
	"avsrt/internal/pipeline"
	"avsrt/internal/preflight"
	"avsrt/internal/services"
	"avsrt/internal/workspace"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags translateFlags

	cmd := &cobra.Command{
		Use:   "run <video>",
		Short: "Generate subtitles for a video, resuming any earlier run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return services.Wrap(services.ErrConfiguration, "", "translate flags", "", err)
			}

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return ctx.runVideo(signalCtx, cmd.OutOrStdout(), cfg, args[0])
		},
	}

	flags.register(cmd)
	return cmd
}

func (c *commandContext) runVideo(ctx context.Context, out io.Writer, cfg *config.Config, video string) (err error) {
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)

	logName := fmt.Sprintf("avsrt-%s.log", time.Now().UTC().Format("20060102T150405.000Z"))
	baseLogger, err := logging.NewFromConfig(cfg, logName)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logging.PruneLogs(baseLogger, cfg.Paths.LogDir, "avsrt-*.log", cfg.Logging.RetentionDays, logName)
	logger := logging.WithContext(ctx, baseLogger)

	if err := checkRunPrerequisites(cfg, c.deps, video); err != nil {
		logging.ErrorWithContext(logger, "run prerequisites not met", "run_preflight_failed", logging.Error(err))
		return err
	}

	runLedger := openLedger(ctx, cfg, logger, ledger.Run{
		ID:             runID,
		VideoPath:      video,
		Translate:      cfg.Translate.Enabled,
		TargetLanguage: targetLanguage(cfg),
	})
	if runLedger != nil {
		defer runLedger.Close()
		defer func() {
			if finishErr := runLedger.FinishRun(context.WithoutCancel(ctx), runID, err); finishErr != nil {
				logging.WarnWithContext(logger, "ledger finish failed", "ledger_write_failed",
					logging.Error(finishErr),
					logging.String(logging.FieldImpact, "run outcome missing from history"),
				)
			}
		}()
	}

	ws, err := workspace.NewResolver(cfg, baseLogger).Resolve(ctx, video)
	if err != nil {
		return err
	}
	defer ws.Close()
	if runLedger != nil {
		if err := runLedger.SetWorkspace(ctx, runID, ws.Dir); err != nil {
			logging.WarnWithContext(logger, "ledger workspace update failed", "ledger_write_failed", logging.Error(err))
		}
	}

	runLog, err := logging.OpenRunLog(ws.RunLogPath(), cfg.Logging.Level)
	if err != nil {
		return services.Wrap(services.ErrWorkspace, "", "open run log", "", err)
	}
	defer runLog.Close()
	baseLogger = runLog.Attach(baseLogger)
	logger = logging.WithContext(ctx, baseLogger)

	logger.Info("run started",
		logging.String("video", ws.InputPath),
		logging.String("workspace", ws.Dir),
		logging.Bool("resumed", ws.Resumed),
		logging.Bool("translate", cfg.Translate.Enabled),
		logging.String(logging.FieldEventType, "run_started"),
	)

	var observer pipeline.Observer
	if runLedger != nil {
		observer = runLedger
	}
	env := &pipeline.Env{Config: cfg, Workspace: ws, Store: ws.Store, Counters: pipeline.NewCounters()}
	stages := pipeline.Build(cfg, ws, c.deps)
	report, runErr := pipeline.NewRunner(runID, baseLogger, observer).Run(ctx, stages, env)

	env.Counters.LogSummary(logger)
	if runLedger != nil {
		if err := runLedger.RecordCounters(context.WithoutCancel(ctx), runID, report.Counters); err != nil {
			logging.WarnWithContext(logger, "ledger counters write failed", "ledger_write_failed", logging.Error(err))
		}
	}

	printRunReport(out, cfg, ws, report)

	if runErr != nil {
		stage, _ := pipeline.FailedStage(runErr)
		attrs := []logging.Attr{
			logging.String("failed_stage", stage),
			logging.String("error_kind", string(services.Classify(runErr))),
			logging.Error(runErr),
		}
		if !services.Fatal(runErr) {
			attrs = append(attrs, logging.String(logging.FieldImpact, "source-language subtitles were written; translated subtitles are missing"))
		}
		logging.ErrorWithContext(logger, "run failed", "run_failed", attrs...)
		return runErr
	}
	logger.Info("run finished", logging.String(logging.FieldEventType, "run_finished"))
	return nil
}

// checkRunPrerequisites fails fast on problems a run would otherwise hit
// mid-way: a missing input, an unwritable video directory, absent tools and
// missing translation credentials.
func checkRunPrerequisites(cfg *config.Config, collaborators pipeline.Deps, video string) error {
	info, err := os.Stat(video)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrInput, "", "open video", fmt.Sprintf("%s does not exist", video), nil)
		}
		return services.Wrap(services.ErrInput, "", "open video", "", err)
	}
	if !info.Mode().IsRegular() {
		return services.Wrap(services.ErrInput, "", "open video", fmt.Sprintf("%s is not a regular file", video), nil)
	}

	absVideo, err := filepath.Abs(video)
	if err != nil {
		return services.Wrap(services.ErrInput, "", "resolve video path", "", err)
	}
	if result := preflight.CheckDirectoryAccess("Video directory", filepath.Dir(absVideo)); !result.Passed {
		return services.Wrap(services.ErrWorkspace, "", "check video directory", result.Detail, nil)
	}

	if missing := preflight.MissingRequired(preflight.CheckSystemDeps(cfg)); len(missing) > 0 {
		details := make([]string, 0, len(missing))
		for _, status := range missing {
			details = append(details, fmt.Sprintf("%s (%s)", status.Name, status.Detail))
		}
		return services.Wrap(services.ErrConfiguration, "", "check dependencies",
			"missing "+strings.Join(details, ", "), nil)
	}

	if cfg.Translate.Enabled && collaborators.Translator == nil {
		if err := cfg.TranslationCredentialError(); err != nil {
			return services.Wrap(services.ErrConfiguration, "", "check translation credentials", "", err)
		}
	}
	return nil
}

// openLedger opens the run history and records run. Any failure is logged
// and the run proceeds without history.
func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger, run ledger.Run) *ledger.Ledger {
	if !cfg.Ledger.Enabled {
		return nil
	}
	l, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		logging.WarnWithContext(logger, "run ledger unavailable; continuing without history", "ledger_open_failed",
			logging.String("path", cfg.LedgerPath()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run avsrt doctor to check the state directory"),
			logging.String(logging.FieldImpact, "this run will not appear in avsrt history"),
		)
		return nil
	}
	if err := l.BeginRun(ctx, run); err != nil {
		logging.WarnWithContext(logger, "run ledger insert failed; continuing without history", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this run will not appear in avsrt history"),
		)
		_ = l.Close()
		return nil
	}
	return l
}

func targetLanguage(cfg *config.Config) string {
	if !cfg.Translate.Enabled {
		return ""
	}
	return cfg.Translate.TargetLanguage
}

func printRunReport(out io.Writer, cfg *config.Config, ws *workspace.Handle, report pipeline.Report) {
	fmt.Fprintf(out, "Workspace: %s\n", ws.Dir)

	rows := make([][]string, 0, len(report.Stages))
	for _, status := range report.Stages {
		duration := ""
		if status.State == pipeline.StateDone || status.State == pipeline.StateFailed {
			duration = status.Duration.Round(time.Millisecond).String()
		}
		rows = append(rows, []string{status.Name, string(status.State), duration, status.Reason})
	}
	fmt.Fprintln(out, renderTable([]column{left("Stage"), left("State"), right("Duration"), left("Reason")}, rows))

	counterNames := make([]string, 0, len(report.Counters))
	for name := range report.Counters {
		counterNames = append(counterNames, name)
	}
	slices.Sort(counterNames)
	counterRows := make([][]string, 0, len(counterNames))
	for _, name := range counterNames {
		counterRows = append(counterRows, []string{name, strconv.FormatInt(report.Counters[name], 10)})
	}
	if len(counterRows) > 0 {
		fmt.Fprintln(out, renderTable([]column{left("Counter"), right("Value")}, counterRows))
	}

	outputs := []struct {
		stage string
		label string
		lang  string
	}{
		{pipeline.StageSRT, "Subtitles", cfg.Translate.SourceLanguage},
		{pipeline.StageSRTTranslated, "Translated subtitles", cfg.Translate.TargetLanguage},
	}
	for _, output := range outputs {
		if stageProduced(report, output.stage) {
			fmt.Fprintf(out, "%s: %s\n", output.label, ws.OutputPath(output.lang))
		}
	}
}

func stageProduced(report pipeline.Report, name string) bool {
	for _, status := range report.Stages {
		if status.Name == name {
			return status.State == pipeline.StateDone || status.State == pipeline.StateSkipped
		}
	}
	return false
}
