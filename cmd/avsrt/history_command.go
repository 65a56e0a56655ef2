package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"avsrt/internal/ledger"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var runID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !cfg.Ledger.Enabled {
				fmt.Fprintln(out, "Run ledger is disabled (ledger.enabled = false)")
				return nil
			}

			l, err := ledger.Open(cfg.LedgerPath())
			if err != nil {
				return fmt.Errorf("open run ledger: %w", err)
			}
			defer l.Close()

			if id := strings.TrimSpace(runID); id != "" {
				return printRunDetail(cmd, out, l, id)
			}

			runs, err := l.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.ID,
					run.StartedAt.Local().Format(time.DateTime),
					string(run.Status),
					run.Duration().Round(time.Second).String(),
					run.VideoPath,
					run.TargetLanguage,
					run.ErrorKind,
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				left("Run"), left("Started"), left("Status"), right("Duration"), left("Video"), left("Target"), left("Error"),
			}, rows))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "Show stage events and counters for one run")
	return cmd
}

func printRunDetail(cmd *cobra.Command, out io.Writer, l *ledger.Ledger, runID string) error {
	run, err := l.GetRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Run: %s\n", run.ID)
	fmt.Fprintf(out, "Video: %s\n", run.VideoPath)
	if run.Workspace != "" {
		fmt.Fprintf(out, "Workspace: %s\n", run.Workspace)
	}
	fmt.Fprintf(out, "Status: %s\n", run.Status)
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error: %s\n", run.ErrorMessage)
	}

	stages, err := l.RunStages(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if len(stages) > 0 {
		rows := make([][]string, 0, len(stages))
		for _, record := range stages {
			duration := ""
			if record.Duration > 0 {
				duration = record.Duration.Round(time.Millisecond).String()
			}
			rows = append(rows, []string{
				record.RecordedAt.Local().Format(time.TimeOnly),
				record.Stage,
				record.Event,
				duration,
				record.Detail,
			})
		}
		fmt.Fprintln(out, renderTable([]column{left("Time"), left("Stage"), left("Event"), right("Duration"), left("Detail")}, rows))
	}

	counters, err := l.RunCounters(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if len(counters) > 0 {
		names := make([]string, 0, len(counters))
		for name := range counters {
			names = append(names, name)
		}
		slices.Sort(names)
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			rows = append(rows, []string{name, strconv.FormatInt(counters[name], 10)})
		}
		fmt.Fprintln(out, renderTable([]column{left("Counter"), right("Value")}, rows))
	}
	return nil
}
