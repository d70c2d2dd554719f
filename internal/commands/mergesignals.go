package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/signals"
)

// NewMergeSignalsCmd creates the merge-signals command.
func NewMergeSignalsCmd() *cobra.Command {
	var flags commonFlags

	cmd := &cobra.Command{
		Use:   "merge-signals",
		Short: "Merge peer signals into the dashboard",
		Long:  "Reads CLOUD_* signals and SYNC_STATUS.md from Signals/, rewrites the fenced cloud region of Dashboard.md, and archives consumed signals to Done.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMergeSignals(&flags)
		},
	}

	flags.register(cmd)
	return cmd
}

func runMergeSignals(flags *commonFlags) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}

	logger := newLogger()
	v, rec, err := openVault(cfg, logger)
	if err != nil {
		return err
	}
	defer rec.Close()

	n, err := signals.New(v, rec, retry.RealClock(), logger, cfg.DryRun).MergeOnce()
	if err != nil {
		return err
	}
	fmt.Printf("Merged %d signal(s) into the dashboard\n", n)
	return nil
}
