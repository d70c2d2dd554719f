package commands

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("flaky network")))
	assert.Equal(t, 1, ExitCode(retry.Transient(errors.New("smtp down"))))
	assert.Equal(t, 2, ExitCode(configErr(errors.New("vault path missing"))))
	assert.Equal(t, 3, ExitCode(retry.Permanent(errors.New("address rejected"))))
}

func TestRepoRootFor(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, filepath.Dir(root), repoRootFor(root))

	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	assert.Equal(t, root, repoRootFor(root))
}

func TestRunInit_Scaffolds(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vault")
	require.NoError(t, runInit(root, true))

	for _, want := range []string{
		"vaultops.yaml", vault.DashboardFile, vault.HandbookFile, vault.GoalsFile,
		".gitignore", string(types.StageNeedsAction), string(types.StagePendingApproval),
		filepath.Join(string(types.StageInProgress), string(types.PeerCloud)),
	} {
		_, err := os.Stat(filepath.Join(root, want))
		assert.NoError(t, err, want)
	}

	ignore, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(ignore), "token.json")
	assert.Contains(t, string(ignore), ".env")
}

func TestRunInit_Idempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vault")
	require.NoError(t, runInit(root, true))

	// A customized handbook survives a re-run.
	handbook := filepath.Join(root, vault.HandbookFile)
	require.NoError(t, os.WriteFile(handbook, []byte("# Mine\n"), 0o644))
	require.NoError(t, runInit(root, true))

	got, err := os.ReadFile(handbook)
	require.NoError(t, err)
	assert.Equal(t, "# Mine\n", string(got))
}

func TestBuildRegistry_FallsBackToGeneric(t *testing.T) {
	for _, k := range []string{"SMTP_HOST", "SMTP_FROM", "ERP_URL", "ERP_DB", "POSTER_CMD"} {
		t.Setenv(k, "")
	}
	root := t.TempDir()
	v := vault.New(root, "test", nil, nil)
	require.NoError(t, v.Ensure())

	reg := buildRegistry(v, newLogger())
	require.Len(t, reg.All(), 1)
	assert.Equal(t, "generic", reg.All()[0].Name())
}

func TestLoadConfig_MissingVaultIsConfigError(t *testing.T) {
	t.Setenv("VAULT_PATH", "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vaultops.yaml"), []byte("mode: local\n"), 0o644))

	_, err := loadConfig(dir)
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}
