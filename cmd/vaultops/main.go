package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultops-systems/vaultops/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "vaultops",
		Short: "File-based orchestrator for autonomous business operations",
		Long: `Vaultops runs a personal operations agent over a plain directory tree.
Watchers turn inbound email, files and social activity into action notes,
a reasoning step plans them, a human approves by moving files, and the
orchestrator executes approved actions through rate-limited adapters.
Every transition is an atomic rename and every action is audited.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewOrchestrateCmd(),
		commands.NewWatchCmd(),
		commands.NewCloudCmd(),
		commands.NewSyncCmd(),
		commands.NewMergeSignalsCmd(),
		commands.NewStatusCmd(),
		commands.NewBriefingCmd(),
		commands.NewAuditCmd(),
		commands.NewSendNowCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(commands.ExitCode(err))
	}
}
