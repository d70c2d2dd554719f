package commands

import (
	"github.com/spf13/cobra"

	"github.com/vaultops-systems/vaultops/internal/adapter"
	"github.com/vaultops-systems/vaultops/internal/orchestrator"
	"github.com/vaultops-systems/vaultops/internal/retry"
)

// NewSendNowCmd creates the send-now command.
func NewSendNowCmd() *cobra.Command {
	var flags commonFlags

	cmd := &cobra.Command{
		Use:   "send-now [file]",
		Short: "Dispatch the Approved backlog synchronously",
		Long:  "Runs the policy gate and adapters over everything currently in Approved/ (or a single named file), in filename order, then exits. The same gate the long-running agent applies.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := ""
			if len(args) > 0 {
				file = args[0]
			}
			return runSendNow(cmd, &flags, file)
		},
	}

	flags.register(cmd)
	return cmd
}

func runSendNow(cmd *cobra.Command, flags *commonFlags, file string) error {
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

	backoff := retry.DefaultPolicy()
	if cfg.Retry != nil {
		backoff = *cfg.Retry
	}

	orch := orchestrator.New(orchestrator.Options{
		Vault:    v,
		Registry: buildRegistry(v, logger),
		Ledger:   adapter.NewLedger(v.Root()),
		Limiter:  retry.NewLimiter(cfg.RateLimits, retry.RealClock()),
		Recorder: rec,
		Logger:   logger,
		Mode:     cfg.Mode,
		DryRun:   cfg.DryRun,
		Config:   cfg.Orchestrator,
		Policy:   cfg.Policy,
		Backoff:  backoff,
	})
	if file != "" {
		return orch.RunOne(cmd.Context(), file)
	}
	return orch.RunOnce(cmd.Context())
}
