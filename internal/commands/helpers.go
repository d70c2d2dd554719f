// Package commands implements the CLI subcommands for the vaultops
// binary.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultops-systems/vaultops/internal/adapter"
	"github.com/vaultops-systems/vaultops/internal/config"
	"github.com/vaultops-systems/vaultops/internal/eventlog"
	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// errConfig marks failures the operator fixes by editing vaultops.yaml
// or the environment, as opposed to transient runtime trouble.
var errConfig = errors.New("configuration error")

// ExitCode maps an error to the process exit code: 0 success,
// 1 transient failure, 2 configuration error, 3 permanent failure.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errConfig):
		return 2
	case retry.Categorize(err) == types.FailurePermanent:
		return 3
	default:
		return 1
	}
}

func configErr(err error) error {
	return fmt.Errorf("%w: %w", errConfig, err)
}

// loadConfig resolves the --config flag, falling back to the working
// directory.
func loadConfig(path string) (*types.Config, error) {
	if path == "" {
		path = "."
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, configErr(err)
	}
	return cfg, nil
}

// commonFlags are the flags every vault-touching subcommand shares.
type commonFlags struct {
	config string
	vault  string
	dryRun bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "Config file or directory (default .)")
	cmd.Flags().StringVar(&f.vault, "vault", "", "Vault root (overrides config)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Log intended actions without side effects")
}

// load resolves the config with flag overrides applied.
func (f *commonFlags) load() (*types.Config, error) {
	cfg, err := loadConfig(f.config)
	if err != nil {
		// --vault alone is enough to run without a config file.
		if f.vault == "" || !errors.Is(err, config.ErrVaultRequired) {
			return nil, err
		}
		cfg = &types.Config{RateLimits: types.DefaultRateLimits()}
	}
	if f.vault != "" {
		abs, aerr := filepath.Abs(f.vault)
		if aerr != nil {
			return nil, configErr(fmt.Errorf("resolving vault path: %w", aerr))
		}
		cfg.Vault = abs
	}
	if f.dryRun {
		cfg.DryRun = true
	}
	if cfg.Vault == "" {
		return nil, configErr(errors.New("vault path is required (config, VAULT_PATH or --vault)"))
	}
	if cfg.Mode == "" {
		cfg.Mode = types.PeerLocal
	}
	return cfg, nil
}

// openVault opens the configured vault and its audit log. The returned
// appender doubles as the vault's recorder; callers own closing it.
func openVault(cfg *types.Config, logger *slog.Logger) (*vault.Vault, *eventlog.Appender, error) {
	probe := vault.New(cfg.Vault, string(cfg.Mode), nil, logger)
	if err := probe.Ensure(); err != nil {
		return nil, nil, configErr(fmt.Errorf("preparing vault at %s: %w", cfg.Vault, err))
	}
	rec := eventlog.New(probe.LogsDir(), string(cfg.Mode), logger)
	v := vault.New(cfg.Vault, string(cfg.Mode), rec, logger)
	return v, rec, nil
}

// buildRegistry wires the dispatch adapters from the environment. A
// backend with no configuration is left nil; the registry falls those
// notes through to the generic adapter, which parks them back in
// Needs_Action with an explanation.
func buildRegistry(v *vault.Vault, logger *slog.Logger) *adapter.Registry {
	var email adapter.Adapter
	if t, err := adapter.NewSMTPTransport(config.SMTP()); err == nil {
		email = adapter.NewEmail(t, logger)
	} else {
		logger.Info("email adapter disabled", "reason", err)
	}

	var social adapter.Adapter
	if p, err := adapter.NewExecPoster(os.Getenv("POSTER_CMD"), 0); err == nil {
		social = adapter.NewSocial(p, logger)
	} else {
		logger.Info("social adapter disabled", "reason", err)
	}

	var accounting adapter.Adapter
	if c, err := adapter.NewERPClient(config.ERP()); err == nil {
		accounting = adapter.NewAccounting(c, logger)
	} else {
		logger.Info("accounting adapter disabled", "reason", err)
	}

	return adapter.NewRegistry(email, social, accounting, adapter.NewGeneric(v, logger))
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("VAULTOPS_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

const shutdownGrace = 10 * time.Second

// repoRootFor picks the git working tree for the sync bridge: the
// vault itself when it carries .git, otherwise its parent.
func repoRootFor(vaultRoot string) string {
	if _, err := os.Stat(filepath.Join(vaultRoot, ".git")); err == nil {
		return vaultRoot
	}
	return filepath.Dir(vaultRoot)
}
