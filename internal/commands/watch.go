package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/watcher"
	"github.com/vaultops-systems/vaultops/internal/watchers/fswatch"
	"github.com/vaultops-systems/vaultops/internal/watchers/mailbox"
	"github.com/vaultops-systems/vaultops/internal/watchers/social"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	var (
		flags    commonFlags
		platform string
		interval time.Duration
		once     bool
		setup    bool
	)

	cmd := &cobra.Command{
		Use:   "watch {fs|mailbox|social}",
		Short: "Run a single watcher against the vault",
		Long:  "Polls one external source (the Inbox directory, the mail account, or a social platform feed) and emits action notes into Needs_Action.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if setup {
				return runWatchSetup(cmd.Context(), args[0])
			}
			return runWatch(cmd.Context(), args[0], &flags, platform, interval, once)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&platform, "platform", "linkedin", "Platform for the social watcher")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (overrides config)")
	cmd.Flags().BoolVar(&once, "once", false, "Poll once and exit")
	cmd.Flags().BoolVar(&setup, "setup", false, "Run the source's interactive credential setup")
	return cmd
}

func runWatch(ctx context.Context, kind string, flags *commonFlags, platform string, interval time.Duration, once bool) error {
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

	wcfg := watcher.Config{
		Interval: watchInterval(cfg, kind),
		DryRun:   cfg.DryRun,
	}
	if interval > 0 {
		wcfg.Interval = interval
	}
	if cfg.Retry != nil {
		wcfg.Policy = *cfg.Retry
	} else {
		wcfg.Policy = retry.DefaultPolicy()
	}

	var src watcher.Source
	switch kind {
	case "fs":
		fs := fswatch.New(v, logger, 0)
		if wake, werr := fs.Notify(ctx); werr == nil {
			wcfg.Wake = wake
		} else {
			logger.Warn("fsnotify unavailable, polling only", "error", werr)
		}
		src = fs
	case "mailbox":
		fetcher, ferr := mailbox.NewGmailFetcher(ctx, mailbox.GmailConfig{})
		if ferr != nil {
			return configErr(ferr)
		}
		src = mailbox.New(fetcher, logger)
	case "social":
		feed, ferr := social.NewExecFeed(os.Getenv("FEED_CMD"), platform, 0)
		if ferr != nil {
			return configErr(ferr)
		}
		src = social.New(feed, logger)
	default:
		return configErr(fmt.Errorf("unknown watcher %q (want fs, mailbox or social)", kind))
	}

	r := watcher.NewRunner(src, v, logger, wcfg)
	if once {
		return r.RunOnce(ctx)
	}

	r.Start(ctx)
	color.Green("Watcher %s running (interval %s)", src.Name(), wcfg.Interval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	color.Yellow("\nReceived %s, shutting down...", sig)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	r.Stop(shutdownCtx)
	color.Green("Watcher stopped gracefully")
	return nil
}

func runWatchSetup(ctx context.Context, kind string) error {
	if kind != "mailbox" {
		return configErr(fmt.Errorf("watcher %q has no setup flow", kind))
	}
	tokenPath, err := mailbox.GmailSetup(ctx, mailbox.GmailConfig{}, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	color.Green("Token saved to %s", tokenPath)
	return nil
}
