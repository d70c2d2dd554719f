package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/syncbridge"
)

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	var (
		flags    commonFlags
		once     bool
		pullOnly bool
		pushMsg  string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the vault through git",
		Long:  "Pulls remote changes with the per-directory conflict policy, then stages, commits and pushes local vault changes. Secrets and sidecar state are never staged.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), &flags, once, pullOnly, pushMsg)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&once, "once", false, "Run one sync cycle and exit")
	cmd.Flags().BoolVar(&pullOnly, "pull-only", false, "Pull without pushing, then exit")
	cmd.Flags().StringVar(&pushMsg, "push", "", "Push with this commit message, then exit")
	return cmd
}

func runSync(ctx context.Context, flags *commonFlags, once, pullOnly bool, pushMsg string) error {
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

	bridge, err := syncbridge.New(v, rec, syncbridge.ExecGit{}, retry.RealClock(), logger, syncbridge.Config{
		RepoRoot: repoRootFor(v.Root()),
		Branch:   cfg.Sync.Branch,
		Remote:   cfg.Sync.Remote,
		Interval: cfg.Sync.Interval,
		DryRun:   cfg.DryRun,
	})
	if err != nil {
		return configErr(err)
	}

	switch {
	case pullOnly:
		res, err := bridge.Pull(ctx)
		if err != nil {
			return err
		}
		reportPull(res)
		return nil
	case pushMsg != "":
		res, err := bridge.Push(ctx, pushMsg)
		if err != nil {
			return err
		}
		reportPush(res)
		return nil
	case once:
		return bridge.SyncOnce(ctx)
	}

	bridge.Start(ctx)
	color.Green("Sync bridge running (interval %s)", cfg.Sync.Interval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	color.Yellow("\nReceived %s, shutting down...", sig)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	bridge.Stop(shutdownCtx)
	color.Green("Sync bridge stopped gracefully")
	return nil
}

func reportPull(res *syncbridge.PullResult) {
	if res.Skipped != "" {
		color.Yellow("Pull skipped: %s", res.Skipped)
		return
	}
	fmt.Printf("Pulled %d file(s), %d conflict(s) resolved\n", len(res.Updated), len(res.Conflicts))
}

func reportPush(res *syncbridge.PushResult) {
	if res.Skipped != "" {
		color.Yellow("Push skipped: %s", res.Skipped)
		return
	}
	fmt.Printf("Pushed %d file(s)\n", len(res.Pushed))
}
