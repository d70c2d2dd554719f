package signals

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultops-systems/vaultops/internal/testutil"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

func newMerger(t *testing.T, dryRun bool) (*Merger, *vault.Vault, *testutil.Recorder) {
	t.Helper()
	v, rec := testutil.NewVault(t)
	clock := testutil.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(v, rec, clock, nil, dryRun), v, rec
}

func cloudSignal(t *testing.T, v *vault.Vault, status, tasks string, at time.Time) string {
	t.Helper()
	stem := vault.NewStem("CLOUD_STATUS", status, at)
	name, err := v.Emit(types.StageSignals, stem, types.Preamble{
		Type:    types.TypeCloudStatus,
		Status:  types.StatusPending,
		Created: at,
		Extra: map[string]string{
			"agent":           "cloud",
			"signal_status":   status,
			"tasks_processed": tasks,
		},
	}, "# Cloud Agent Signal: "+status+"\n")
	require.NoError(t, err)
	return name
}

func syncSignal(t *testing.T, v *vault.Vault, status string, at time.Time) {
	t.Helper()
	body := "---\ntype: sync_status\nstatus: " + status + "\ntimestamp: " + at.Format(time.RFC3339) +
		"\nbranch: main\n---\n\n# Vault Sync Status: " + status + "\n\n- **files_pulled**: 3\n- **files_pushed**: 1\n"
	require.NoError(t, os.WriteFile(filepath.Join(v.Dir(types.StageSignals), "SYNC_STATUS.md"), []byte(body), 0o644))
}

func dashboard(t *testing.T, v *vault.Vault) string {
	t.Helper()
	raw, err := v.ReadSingleton(vault.DashboardFile)
	require.NoError(t, err)
	return string(raw)
}

func TestMergeOnce_NoSignals(t *testing.T) {
	m, v, _ := newMerger(t, false)

	n, err := m.MergeOnce()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, dashboard(t, v), "_No cloud signals received yet._")
}

func TestMergeOnce_RendersLatestCloudAndSyncStatus(t *testing.T) {
	m, v, rec := newMerger(t, false)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cloudSignal(t, v, "active", "2", base)
	cloudSignal(t, v, "active", "7", base.Add(2*time.Hour)) // newer wins
	syncSignal(t, v, "synced", base.Add(time.Hour))

	n, err := m.MergeOnce()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	d := dashboard(t, v)
	assert.Contains(t, d, "| Tasks Processed | 7 |")
	assert.Contains(t, d, "synced (2025-06-01 10:00)")
	assert.Contains(t, d, "| Files Pulled (last sync) | 3 |")
	require.Len(t, rec.ByType("signals_merged"), 1)
}

func TestMergeOnce_ArchivesCloudSignalsKeepsSyncStatus(t *testing.T) {
	m, v, _ := newMerger(t, false)
	name := cloudSignal(t, v, "active", "1", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	syncSignal(t, v, "synced", time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC))

	_, err := m.MergeOnce()
	require.NoError(t, err)

	remaining, err := v.List(types.StageSignals)
	require.NoError(t, err)
	assert.Equal(t, []string{"SYNC_STATUS.md"}, remaining)

	done, err := v.List(types.StageDone)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "SIGNAL_"+name, done[0])
}

func TestMergeOnce_CountsDraftsAndClaims(t *testing.T) {
	m, v, _ := newMerger(t, false)
	cloudSignal(t, v, "active", "1", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

	_, err := v.Emit(types.StagePendingApproval, "CLOUD_DRAFT_EMAIL_x_20250601090000", types.Preamble{
		Type: types.TypeCloudDraftEmail, Created: time.Now(),
	}, "draft")
	require.NoError(t, err)
	_, err = v.Emit(types.StageNeedsAction, "EMAIL_y_20250601090000", types.Preamble{
		Type: types.TypeEmail, Created: time.Now(),
	}, "task")
	require.NoError(t, err)
	_, err = v.Claim("EMAIL_y_20250601090000", types.PeerCloud)
	require.NoError(t, err)

	_, err = m.MergeOnce()
	require.NoError(t, err)

	d := dashboard(t, v)
	assert.Contains(t, d, "| Pending Cloud Drafts | 1 |")
	assert.Contains(t, d, "| In-Progress (Cloud) | 1 |")
	assert.Contains(t, d, "- [ ] `CLOUD_DRAFT_EMAIL_x_20250601090000.md`")
	assert.Contains(t, d, "- `EMAIL_y_20250601090000.md`")
}

func TestMergeOnce_RewritesOnlyMarkedRegion(t *testing.T) {
	m, v, _ := newMerger(t, false)
	custom := "# Dashboard\n\nMy own notes stay put.\n\n" +
		vault.CloudRegionBegin + "\nstale content\n" + vault.CloudRegionEnd + "\n\n## Manual section\n\nkeep me\n"
	require.NoError(t, v.WriteSingleton(vault.DashboardFile, []byte(custom)))
	cloudSignal(t, v, "active", "4", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

	_, err := m.MergeOnce()
	require.NoError(t, err)

	d := dashboard(t, v)
	assert.Contains(t, d, "My own notes stay put.")
	assert.Contains(t, d, "## Manual section")
	assert.Contains(t, d, "keep me")
	assert.NotContains(t, d, "stale content")
	assert.Contains(t, d, "| Tasks Processed | 4 |")
	assert.Equal(t, 1, strings.Count(d, vault.CloudRegionBegin))
}

func TestMergeOnce_DryRunTouchesNothing(t *testing.T) {
	m, v, _ := newMerger(t, true)
	before := dashboard(t, v)
	name := cloudSignal(t, v, "active", "1", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

	n, err := m.MergeOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, before, dashboard(t, v))

	remaining, err := v.List(types.StageSignals)
	require.NoError(t, err)
	assert.Contains(t, remaining, name)
}

func TestMergeOnce_UnparsableSignalSkipped(t *testing.T) {
	m, v, _ := newMerger(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(v.Dir(types.StageSignals), "CLOUD_STATUS_garbage_x.md"),
		[]byte("---\n: : :\n---\n"), 0o644))
	cloudSignal(t, v, "active", "1", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

	n, err := m.MergeOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
