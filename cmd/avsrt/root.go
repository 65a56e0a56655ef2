package main

import (
	"github.com/spf13/cobra"

	"avsrt/internal/pipeline"
)

func newRootCommand() *cobra.Command {
	return newRootCommandWith(pipeline.Deps{})
}

// newRootCommandWith builds the command tree with the given pipeline
// collaborators. Nil fields are built from configuration on first use.
func newRootCommandWith(collaborators pipeline.Deps) *cobra.Command {
	var configFlag string

	ctx := newCommandContext(&configFlag, collaborators)

	rootCmd := &cobra.Command{
		Use:           "avsrt",
		Short:         "Generate subtitles from a video's audio track",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
