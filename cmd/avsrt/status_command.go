package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"avsrt/internal/pipeline"
	"avsrt/internal/services"
	"avsrt/internal/workspace"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var flags translateFlags

	cmd := &cobra.Command{
		Use:   "status <video>",
		Short: "Show which stages a run would skip for a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return services.Wrap(services.ErrConfiguration, "", "translate flags", "", err)
			}

			inspection, err := workspace.Inspect(args[0], cfg.Workspace.Suffix)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Video: %s\n", inspection.Fingerprint.Path)
			if !inspection.Found {
				fmt.Fprintf(out, "Workspace: %s (not created)\n", inspection.Dir)
				fmt.Fprintln(out, "No earlier run found; every stage will run.")
				return nil
			}
			fmt.Fprintf(out, "Workspace: %s\n", inspection.Dir)

			ws := inspection.Handle()
			env := &pipeline.Env{Config: cfg, Workspace: ws, Store: ws.Store, Counters: pipeline.NewCounters()}
			statuses := pipeline.NewRunner("", nil, nil).Plan(pipeline.Build(cfg, ws, ctx.deps), env)

			rows := make([][]string, 0, len(statuses))
			for _, status := range statuses {
				completed := ""
				if !status.CompletedAt.IsZero() {
					completed = status.CompletedAt.Local().Format(time.DateTime)
				}
				rows = append(rows, []string{
					status.Name,
					filepath.Base(status.Artifact),
					yesNo(status.Present),
					yesNo(status.State == pipeline.StateSkipped),
					completed,
					status.Reason,
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				left("Stage"), left("Artifact"), left("Present"), left("Cache valid"), left("Completed"), left("Reason"),
			}, rows))
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
