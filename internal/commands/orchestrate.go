package commands

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vaultops-systems/vaultops/internal/adapter"
	"github.com/vaultops-systems/vaultops/internal/briefing"
	"github.com/vaultops-systems/vaultops/internal/eventlog"
	"github.com/vaultops-systems/vaultops/internal/orchestrator"
	"github.com/vaultops-systems/vaultops/internal/reasoning"
	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/scheduler"
	"github.com/vaultops-systems/vaultops/internal/signals"
	"github.com/vaultops-systems/vaultops/internal/syncbridge"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/internal/watcher"
	"github.com/vaultops-systems/vaultops/internal/watchers/fswatch"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// NewOrchestrateCmd creates the orchestrate command, the long-running
// local agent: approval router, file watcher, scheduler and sync bridge
// in one process.
func NewOrchestrateCmd() *cobra.Command {
	var (
		flags      commonFlags
		debugAddr  string
		mode       string
		noSync     bool
		noWatch    bool
		noSchedule bool
	)

	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Run the local agent over the vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrchestrate(&flags, debugAddr, mode, noSync, noWatch, noSchedule)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&debugAddr, "debug-addr", "", "Serve expvar counters on this address")
	cmd.Flags().StringVar(&mode, "mode", "", "Peer mode: local or cloud (overrides config)")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Disable the git sync bridge")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Disable the Inbox file watcher")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "Disable the recurring jobs")
	return cmd
}

func runOrchestrate(flags *commonFlags, debugAddr, mode string, noSync, noWatch, noSchedule bool) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	if mode != "" {
		if mode != string(types.PeerLocal) && mode != string(types.PeerCloud) {
			return configErr(fmt.Errorf("mode must be local or cloud, got %q", mode))
		}
		cfg.Mode = types.PeerMode(mode)
	}

	logger := newLogger()
	v, rec, err := openVault(cfg, logger)
	if err != nil {
		return err
	}
	defer rec.Close()

	registry := buildRegistry(v, logger)
	limiter := retry.NewLimiter(cfg.RateLimits, retry.RealClock())
	ledger := adapter.NewLedger(v.Root())

	backoff := retry.DefaultPolicy()
	if cfg.Retry != nil {
		backoff = *cfg.Retry
	}

	orch := orchestrator.New(orchestrator.Options{
		Vault:    v,
		Registry: registry,
		Ledger:   ledger,
		Limiter:  limiter,
		Recorder: rec,
		Logger:   logger,
		Mode:     cfg.Mode,
		DryRun:   cfg.DryRun,
		Config:   cfg.Orchestrator,
		Policy:   cfg.Policy,
		Backoff:  backoff,
	})

	ctx := context.Background()
	orch.Start(ctx)

	var fsRunner *watcher.Runner
	if !noWatch {
		src := fswatch.New(v, logger, 0)
		wake, werr := src.Notify(ctx)
		if werr != nil {
			logger.Warn("inbox fsnotify unavailable, polling only", "error", werr)
		}
		fsRunner = watcher.NewRunner(src, v, logger, watcher.Config{
			Interval: watchInterval(cfg, "fswatch"),
			DryRun:   cfg.DryRun,
			Policy:   backoff,
			Wake:     wake,
		})
		fsRunner.Start(ctx)
	}

	var bridge *syncbridge.Bridge
	if !noSync {
		bridge, err = syncbridge.New(v, rec, syncbridge.ExecGit{}, retry.RealClock(), logger, syncbridge.Config{
			RepoRoot: repoRootFor(v.Root()),
			Branch:   cfg.Sync.Branch,
			Remote:   cfg.Sync.Remote,
			Interval: cfg.Sync.Interval,
			DryRun:   cfg.DryRun,
		})
		if err != nil {
			logger.Warn("sync bridge disabled", "reason", err)
			bridge = nil
		} else {
			bridge.Start(ctx)
		}
	}

	var sched *scheduler.Scheduler
	if !noSchedule {
		sched = scheduler.New(retry.RealClock(), logger, 0)
		if err := addBuiltinJobs(sched, v, rec, cfg, logger); err != nil {
			return err
		}
		sched.Start(ctx)
	}

	var debugSrv *http.Server
	if debugAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/debug/vars", expvar.Handler())
		debugSrv = &http.Server{Addr: debugAddr, Handler: mux}
		go func() {
			if serr := debugSrv.ListenAndServe(); serr != nil && serr != http.ErrServerClosed {
				logger.Warn("debug server failed", "error", serr)
			}
		}()
		logger.Info("debug counters served", "addr", debugAddr+"/debug/vars")
	}

	color.Green("Agent running over %s (mode=%s)", v.Root(), cfg.Mode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	color.Yellow("\nReceived %s, shutting down...", sig)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	if fsRunner != nil {
		fsRunner.Stop(shutdownCtx)
	}
	if bridge != nil {
		bridge.Stop(shutdownCtx)
	}
	orch.Stop(shutdownCtx)
	if debugSrv != nil {
		_ = debugSrv.Shutdown(shutdownCtx)
	}
	color.Green("Agent stopped gracefully")
	return nil
}

// addBuiltinJobs registers the recurring vault chores: inbox triage
// through the reasoning tool, signal merges, briefings and audits.
func addBuiltinJobs(sched *scheduler.Scheduler, v *vault.Vault, rec *eventlog.Appender, cfg *types.Config, logger *slog.Logger) error {
	var invoker reasoning.Invoker
	if exec, err := reasoning.NewExec("", v.Root(), 0, logger); err == nil {
		invoker = exec
	} else {
		logger.Info("reasoning tool unavailable, inbox jobs are no-ops", "reason", err)
		invoker = reasoning.Noop{Logger: logger}
	}

	merger := signals.New(v, rec, retry.RealClock(), logger, cfg.DryRun)
	gen := briefing.New(v, retry.RealClock(), logger)
	monday := time.Monday

	jobs := []scheduler.Job{
		{Name: "process-inbox", Every: 30 * time.Minute, Run: func(ctx context.Context) error {
			return invoker.Invoke(ctx, "process-inbox")
		}},
		{Name: "dashboard-refresh", Every: time.Hour, Run: func(ctx context.Context) error {
			return invoker.Invoke(ctx, "dashboard-refresh")
		}},
		{Name: "morning-briefing", At: "08:00", Run: func(ctx context.Context) error {
			_, err := gen.Morning()
			return err
		}},
		{Name: "weekly-audit", At: "07:00", Weekday: &monday, Run: func(ctx context.Context) error {
			_, err := gen.WeeklyAudit()
			return err
		}},
	}
	if cfg.Mode == types.PeerLocal {
		// Only the local peer owns the dashboard.
		jobs = append(jobs, scheduler.Job{
			Name: "signal-merge", Every: 30 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := merger.MergeOnce()
				return err
			},
		})
	}
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return fmt.Errorf("registering job %s: %w", job.Name, err)
		}
	}
	return nil
}

func watchInterval(cfg *types.Config, name string) time.Duration {
	if d, ok := cfg.Watchers.Intervals[name]; ok && d > 0 {
		return d
	}
	if cfg.Watchers.DefaultInterval > 0 {
		return cfg.Watchers.DefaultInterval
	}
	return 30 * time.Second
}
