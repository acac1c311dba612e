package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(open opener) *cobra.Command {
	ctx := newCommandContext(open)

	rootCmd := &cobra.Command{
		Use:           "pipelinectl",
		Short:         "Inspect and operate analysis pipeline jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newLedgerCommand(ctx))
	rootCmd.AddCommand(newResourcesCommand(ctx))
	rootCmd.AddCommand(newThreadCommand(ctx))
	rootCmd.AddCommand(newRetryCommand(ctx))

	return rootCmd
}
