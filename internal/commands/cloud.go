package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vaultops-systems/vaultops/internal/peer"
	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// NewCloudCmd creates the cloud command.
func NewCloudCmd() *cobra.Command {
	var (
		flags commonFlags
		once  bool
	)

	cmd := &cobra.Command{
		Use:   "cloud",
		Short: "Run the cloud peer agent",
		Long:  "Claims safe tasks from Needs_Action, drafts replies and posts into Pending_Approval, and publishes heartbeat signals. Forbidden channels (WhatsApp, payments, banking) are never touched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCloud(cmd.Context(), &flags, once)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&once, "once", false, "Process the current backlog and exit")
	return cmd
}

func runCloud(ctx context.Context, flags *commonFlags, once bool) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	cfg.Mode = types.PeerCloud

	logger := newLogger()
	v, rec, err := openVault(cfg, logger)
	if err != nil {
		return err
	}
	defer rec.Close()

	agent := peer.New(v, rec, retry.RealClock(), logger, peer.Config{
		DryRun: cfg.DryRun,
	})

	if once {
		n, err := agent.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Processed %d task(s)\n", n)
		return nil
	}

	agent.Start(ctx)
	color.Green("Cloud peer running over %s", v.Root())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	color.Yellow("\nReceived %s, shutting down...", sig)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	agent.Stop(shutdownCtx)
	color.Green("Cloud peer stopped gracefully")
	return nil
}
