package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultops-systems/vaultops/pkg/types"
)

func write(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644))
	return dir
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"VAULT_PATH", "AGENT_MODE", "DRY_RUN", "GIT_VAULT_BRANCH"} {
		t.Setenv(k, "")
	}
}

func TestLoad_FullFile(t *testing.T) {
	clearEnv(t)
	dir := write(t, `
vault: /srv/vault
mode: cloud
dryRun: true
orchestrator:
  pollInterval: 2s
  workersPerAdapter: 4
rateLimits:
  - channel: email
    capacity: 5
    refill: 5
    interval: 1h
sync:
  branch: sync-main
  interval: 10m
policy:
  amountThreshold: 250
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/srv/vault", cfg.Vault)
	assert.Equal(t, types.PeerCloud, cfg.Mode)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 2*time.Second, cfg.Orchestrator.PollInterval)
	assert.Equal(t, 4, cfg.Orchestrator.WorkersPerAdapter)
	require.Len(t, cfg.RateLimits, 1)
	assert.Equal(t, "sync-main", cfg.Sync.Branch)
	assert.Equal(t, 250.0, cfg.Policy.AmountThreshold)
}

func TestLoad_MissingFileFallsBackToEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("VAULT_PATH", "/srv/envvault")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/srv/envvault", cfg.Vault)
	assert.Equal(t, types.PeerLocal, cfg.Mode)
	assert.Equal(t, types.DefaultRateLimits(), cfg.RateLimits)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := write(t, "vault: /srv/filevault\nmode: local\n")
	t.Setenv("VAULT_PATH", "/srv/envvault")
	t.Setenv("AGENT_MODE", "CLOUD")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("GIT_VAULT_BRANCH", "feature")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/srv/envvault", cfg.Vault)
	assert.Equal(t, types.PeerCloud, cfg.Mode)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "feature", cfg.Sync.Branch)
}

func TestLoad_VaultRequired(t *testing.T) {
	clearEnv(t)
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault path is required")
}

func TestLoad_RejectsBadValues(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"bad mode":        "vault: /v\nmode: hybrid\n",
		"poll too slow":   "vault: /v\norchestrator:\n  pollInterval: 30s\n",
		"empty channel":   "vault: /v\nrateLimits:\n  - capacity: 1\n    refill: 1\n    interval: 1h\n",
		"zero capacity":   "vault: /v\nrateLimits:\n  - channel: email\n    capacity: 0\n    refill: 1\n    interval: 1h\n",
		"bad retry":       "vault: /v\nretry:\n  maxAttempts: 0\n  backoffSeconds: 30\n",
		"negative amount": "vault: /v\npolicy:\n  amountThreshold: -1\n",
		"unparsable":      "vault: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(write(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoad_RelativeVaultResolved(t *testing.T) {
	clearEnv(t)
	dir := write(t, "vault: ./myvault\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.Vault))
}

func TestLoad_DirectFilePath(t *testing.T) {
	clearEnv(t)
	dir := write(t, "vault: /srv/vault\n")

	cfg, err := Load(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, "/srv/vault", cfg.Vault)
}
