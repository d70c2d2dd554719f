// Package config handles loading and validation of vaultops.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vaultops-systems/vaultops/pkg/types"
)

// FileName is the expected config file name when only a directory is given.
const FileName = "vaultops.yaml"

// ErrVaultRequired marks the one validation failure a caller may fill
// in from another source (the --vault flag).
var ErrVaultRequired = errors.New("vault path is required")

// Load reads, overlays environment variables, and validates the config.
// path may be the file itself or a directory containing vaultops.yaml.
// A missing file yields a default config rooted at VAULT_PATH.
func Load(path string) (*types.Config, error) {
	// Credentials and machine-local settings live in .env, next to the
	// config, never inside the vault.
	_ = godotenv.Load()

	cfg := &types.Config{}

	if path != "" {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			path = filepath.Join(path, FileName)
		}
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		case os.IsNotExist(err):
			// fall through to env + defaults
		default:
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays the supported environment variables. Env wins over
// the file so a deployment can repoint a shared config.
func applyEnv(cfg *types.Config) {
	if v := os.Getenv("VAULT_PATH"); v != "" {
		cfg.Vault = v
	}
	if v := os.Getenv("AGENT_MODE"); v != "" {
		cfg.Mode = types.PeerMode(strings.ToLower(v))
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		cfg.DryRun = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("GIT_VAULT_BRANCH"); v != "" {
		cfg.Sync.Branch = v
	}
}

func validate(cfg *types.Config) error {
	if cfg.Vault == "" {
		return fmt.Errorf("%w (set vault: in %s or VAULT_PATH)", ErrVaultRequired, FileName)
	}
	abs, err := filepath.Abs(cfg.Vault)
	if err != nil {
		return fmt.Errorf("resolving vault path: %w", err)
	}
	cfg.Vault = abs

	if cfg.Mode == "" {
		cfg.Mode = types.PeerLocal
	}
	if cfg.Mode != types.PeerLocal && cfg.Mode != types.PeerCloud {
		return fmt.Errorf("mode must be %q or %q, got %q", types.PeerLocal, types.PeerCloud, cfg.Mode)
	}

	if cfg.Orchestrator.PollInterval > types.MaxPollInterval {
		return fmt.Errorf("orchestrator.pollInterval must be at most %s", types.MaxPollInterval)
	}
	if cfg.Orchestrator.WorkersPerAdapter < 0 {
		return fmt.Errorf("orchestrator.workersPerAdapter cannot be negative")
	}

	if len(cfg.RateLimits) == 0 {
		cfg.RateLimits = types.DefaultRateLimits()
	}
	for _, rl := range cfg.RateLimits {
		if rl.Channel == "" {
			return fmt.Errorf("rate limit with empty channel")
		}
		if rl.Capacity <= 0 || rl.Refill <= 0 || rl.Interval <= 0 {
			return fmt.Errorf("rate limit %q needs positive capacity, refill, and interval", rl.Channel)
		}
	}

	if cfg.Retry != nil {
		if cfg.Retry.MaxAttempts <= 0 {
			return fmt.Errorf("retry.maxAttempts must be positive")
		}
		if cfg.Retry.BackoffSeconds <= 0 {
			return fmt.Errorf("retry.backoffSeconds must be positive")
		}
	}

	if cfg.Policy.AmountThreshold < 0 {
		return fmt.Errorf("policy.amountThreshold cannot be negative")
	}
	return nil
}

// SMTP reads the mail transport settings from the environment. These
// never appear in vaultops.yaml or any vault file.
func SMTP() (host, port, user, pass, from string) {
	return os.Getenv("SMTP_HOST"), os.Getenv("SMTP_PORT"),
		os.Getenv("SMTP_USER"), os.Getenv("SMTP_PASS"), os.Getenv("SMTP_FROM")
}

// ERP reads the accounting backend settings from the environment.
func ERP() (url, db, user, pass string) {
	return os.Getenv("ERP_URL"), os.Getenv("ERP_DB"),
		os.Getenv("ERP_USER"), os.Getenv("ERP_PASS")
}
