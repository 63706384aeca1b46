package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "stepdocs-document",
		Short:        "Step document service",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// initialize logging (can be controlled with LOG_LEVEL env: debug|info|warn|error|fatal)
			logger.Init(os.Getenv("LOG_LEVEL"))
		},
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newCleanupFailuresCommand())
	return cmd
}
