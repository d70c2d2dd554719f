package briefing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultops-systems/vaultops/internal/testutil"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

func newGenerator(t *testing.T, now time.Time) (*Generator, *vault.Vault) {
	t.Helper()
	v, _ := testutil.NewVault(t)
	return New(v, testutil.NewFakeClock(now), nil), v
}

func logAt(t *testing.T, dir string, at time.Time, events ...types.Event) {
	t.Helper()
	// Hand-written day files, the same shape the appender produces.
	var raw []byte
	for _, e := range events {
		e.Timestamp = at
		if e.Actor == "" {
			e.Actor = "test"
		}
		line, err := json.Marshal(e)
		require.NoError(t, err)
		raw = append(raw, line...)
		raw = append(raw, '\n')
	}
	path := filepath.Join(dir, at.Format("2006-01-02")+".jsonl")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func read(t *testing.T, v *vault.Vault, name string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(v.Dir(types.StageBriefings), name))
	require.NoError(t, err)
	return string(raw)
}

func TestMorning_SummarizesYesterdayAndQueues(t *testing.T) {
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	g, v := newGenerator(t, now)

	yesterday := now.AddDate(0, 0, -1)
	logAt(t, v.LogsDir(), yesterday,
		types.Event{EventType: "approval_dispatched", Result: "ok", File: "EMAIL_a.md"},
		types.Event{EventType: "approval_dispatched", Result: "ok", File: "EMAIL_b.md"},
		types.Event{EventType: "dispatch_failed", Result: "error", File: "EMAIL_c.md", Detail: "smtp timeout"},
	)
	_, err := v.Emit(types.StagePendingApproval, "CLOUD_DRAFT_EMAIL_x_20250601090000", types.Preamble{
		Type: types.TypeCloudDraftEmail, Created: now,
	}, "draft")
	require.NoError(t, err)

	name, err := g.Morning()
	require.NoError(t, err)
	assert.Equal(t, "BRIEFING_2025-06-02.md", name)

	body := read(t, v, name)
	assert.Contains(t, body, "type: morning_briefing")
	assert.Contains(t, body, "covers: 2025-06-01")
	assert.Contains(t, body, "| approval_dispatched | 2 |")
	assert.Contains(t, body, "smtp timeout")
	assert.Contains(t, body, "| Pending_Approval | 1 |")
	assert.Contains(t, body, "- [ ] `CLOUD_DRAFT_EMAIL_x_20250601090000.md`")
}

func TestMorning_QuietDay(t *testing.T) {
	g, v := newGenerator(t, time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC))

	name, err := g.Morning()
	require.NoError(t, err)
	assert.Contains(t, read(t, v, name), "No recorded activity.")
}

func TestWeeklyAudit_RatesAndThrottling(t *testing.T) {
	now := time.Date(2025, 6, 8, 7, 0, 0, 0, time.UTC)
	g, v := newGenerator(t, now)

	logAt(t, v.LogsDir(), now.AddDate(0, 0, -2),
		types.Event{EventType: "approval_dispatched", Result: "ok"},
		types.Event{EventType: "approval_dispatched", Result: "ok"},
		types.Event{EventType: "approval_dispatched", Result: "ok"},
		types.Event{EventType: "dispatch_deferred", Result: "deferred", Detail: "rate limit"},
	)
	logAt(t, v.LogsDir(), now.AddDate(0, 0, -5),
		types.Event{EventType: "dispatch_failed", Result: "error", Detail: "smtp down"},
	)
	// Outside the seven-day window, must not be counted.
	logAt(t, v.LogsDir(), now.AddDate(0, 0, -9),
		types.Event{EventType: "approval_dispatched", Result: "ok"},
	)

	name, err := g.WeeklyAudit()
	require.NoError(t, err)
	assert.Equal(t, "AUDIT_2025-06-08.md", name)

	body := read(t, v, name)
	assert.Contains(t, body, "| Total Events | 5 |")
	assert.Contains(t, body, "| Errors | 1 |")
	assert.Contains(t, body, "| Error Rate | 20.0% |")
	assert.Contains(t, body, "| Rate-Limit Deferrals | 1 |")
	assert.Contains(t, body, "| approval_dispatched | 3 |")
	assert.Contains(t, body, "smtp down")
}

func TestWeeklyAudit_EmptyPeriod(t *testing.T) {
	g, v := newGenerator(t, time.Date(2025, 6, 8, 7, 0, 0, 0, time.UTC))

	name, err := g.WeeklyAudit()
	require.NoError(t, err)
	body := read(t, v, name)
	assert.Contains(t, body, "| Total Events | 0 |")
	assert.Contains(t, body, "No recorded activity this period.")
}

func TestMorning_SecondRunSameDayDoesNotOverwrite(t *testing.T) {
	g, v := newGenerator(t, time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC))

	first, err := g.Morning()
	require.NoError(t, err)
	second, err := g.Morning()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	names, err := v.List(types.StageBriefings)
	require.NoError(t, err)
	assert.Len(t, names, 2)
}
