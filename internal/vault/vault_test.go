package vault

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultops-systems/vaultops/pkg/types"
)

type memRecorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *memRecorder) Append(e types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *memRecorder) byType(t string) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Event
	for _, e := range r.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestVault(t *testing.T) (*Vault, *memRecorder) {
	t.Helper()
	rec := &memRecorder{}
	v := New(t.TempDir(), "test", rec, nil)
	require.NoError(t, v.Ensure())
	return v, rec
}

func TestEnsure_CreatesStagesAndSingletons(t *testing.T) {
	v, _ := newTestVault(t)

	for _, s := range types.Stages {
		info, err := os.Stat(v.Dir(s))
		require.NoError(t, err, "stage %s", s)
		assert.True(t, info.IsDir())
	}
	for _, p := range []types.PeerMode{types.PeerLocal, types.PeerCloud} {
		_, err := os.Stat(v.PeerDir(p))
		require.NoError(t, err)
	}
	raw, err := v.ReadSingleton(DashboardFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), CloudRegionBegin)
}

func TestEmit_CollisionSuffix(t *testing.T) {
	v, rec := newTestVault(t)
	p := types.Preamble{Type: types.TypeEmail, Priority: types.P2, Status: types.StatusPending, Created: time.Now()}

	first, err := v.Emit(types.StageNeedsAction, "EMAIL_hello_20250101120000", p, "body")
	require.NoError(t, err)
	assert.Equal(t, "EMAIL_hello_20250101120000.md", first)

	second, err := v.Emit(types.StageNeedsAction, "EMAIL_hello_20250101120000", p, "body")
	require.NoError(t, err)
	assert.Equal(t, "EMAIL_hello_20250101120000_1.md", second)

	third, err := v.Emit(types.StageNeedsAction, "EMAIL_hello_20250101120000", p, "body")
	require.NoError(t, err)
	assert.Equal(t, "EMAIL_hello_20250101120000_2.md", third)

	assert.Len(t, rec.byType(types.TypeEmail), 3)
}

func TestEmit_AuditEventNamedAfterNoteType(t *testing.T) {
	v, rec := newTestVault(t)

	p := types.Preamble{Type: types.TypeFileDrop, Priority: types.P3, Status: types.StatusPending, Created: time.Now()}
	_, err := v.Emit(types.StageNeedsAction, "FILE_20250101120000_note", p, "body")
	require.NoError(t, err)

	events := rec.byType("file_drop")
	require.Len(t, events, 1)
	assert.Equal(t, "FILE_20250101120000_note", events[0].File)

	// A typeless preamble keeps the generic event name.
	_, err = v.Emit(types.StageNeedsAction, "PLAN_x_20250101120000", types.Preamble{Status: types.StatusPending, Created: time.Now()}, "b")
	require.NoError(t, err)
	assert.Len(t, rec.byType("note_emitted"), 1)
}

func TestMove_PreservesStemAndAudits(t *testing.T) {
	v, rec := newTestVault(t)
	p := types.Preamble{Type: types.TypeEmail, Status: types.StatusPending, Created: time.Now()}
	name, err := v.Emit(types.StageNeedsAction, "EMAIL_x_20250101120000", p, "b")
	require.NoError(t, err)

	require.NoError(t, v.Move(Stem(name), types.StageNeedsAction, types.StageDone))

	stage, found, ok := v.FindStem(Stem(name))
	require.True(t, ok)
	assert.Equal(t, types.StageDone, stage)
	assert.Equal(t, name, found)
	assert.Len(t, rec.byType("stage_transition"), 1)
}

func TestMove_NeverOverwrites(t *testing.T) {
	v, _ := newTestVault(t)
	p := types.Preamble{Type: types.TypeEmail, Status: types.StatusPending, Created: time.Now()}
	name, err := v.Emit(types.StageNeedsAction, "EMAIL_x_20250101120000", p, "b")
	require.NoError(t, err)

	// Same filename already sitting in Done/.
	require.NoError(t, os.WriteFile(filepath.Join(v.Dir(types.StageDone), name), []byte("old"), 0o644))

	err = v.Move(Stem(name), types.StageNeedsAction, types.StageDone)
	assert.ErrorIs(t, err, ErrStemExists)

	// Source stays where it was.
	stage, _, ok := v.FindStem(Stem(name))
	require.True(t, ok)
	assert.Equal(t, types.StageNeedsAction, stage)
}

func TestRenameNoReplace_RefusesOccupiedTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.md")
	dst := filepath.Join(dir, "dst.md")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

	err := renameNoReplace(src, dst)
	require.Error(t, err)
	assert.True(t, os.IsExist(err))

	// Neither side was touched: the occupant survives and the source
	// stays where it was.
	raw, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "old", string(raw))
	_, err = os.Stat(src)
	require.NoError(t, err)
}

func TestClaim_ExactlyOneWinner(t *testing.T) {
	v, _ := newTestVault(t)
	p := types.Preamble{Type: types.TypeEmail, Status: types.StatusPending, Created: time.Now()}
	name, err := v.Emit(types.StageNeedsAction, "EMAIL_race_20250101120000", p, "b")
	require.NoError(t, err)
	stem := Stem(name)

	type result struct{ err error }
	results := make(chan result, 2)
	var start sync.WaitGroup
	start.Add(1)
	for _, peer := range []types.PeerMode{types.PeerLocal, types.PeerCloud} {
		go func(peer types.PeerMode) {
			start.Wait()
			_, err := v.Claim(stem, peer)
			results <- result{err}
		}(peer)
	}
	start.Done()

	var wins, losses int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			wins++
		} else {
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
	assert.True(t, v.Claimed(stem))
}

func TestClaim_MissingFileIsClaimLost(t *testing.T) {
	v, _ := newTestVault(t)
	_, err := v.Claim("EMAIL_gone_20250101120000", types.PeerLocal)
	assert.ErrorIs(t, err, ErrClaimLost)
}

func TestRelease_ReturnsToNeedsAction(t *testing.T) {
	v, _ := newTestVault(t)
	p := types.Preamble{Type: types.TypeEmail, Status: types.StatusPending, Created: time.Now()}
	name, err := v.Emit(types.StageNeedsAction, "EMAIL_r_20250101120000", p, "b")
	require.NoError(t, err)
	stem := Stem(name)

	_, err = v.Claim(stem, types.PeerCloud)
	require.NoError(t, err)
	require.NoError(t, v.Release(stem, types.PeerCloud))

	stage, _, ok := v.FindStem(stem)
	require.True(t, ok)
	assert.Equal(t, types.StageNeedsAction, stage)
}

func TestSweepStale_RequeuesOldClaims(t *testing.T) {
	v, rec := newTestVault(t)
	p := types.Preamble{Type: types.TypeEmail, Status: types.StatusPending, Created: time.Now()}
	name, err := v.Emit(types.StageNeedsAction, "EMAIL_stale_20250101120000", p, "b")
	require.NoError(t, err)
	stem := Stem(name)

	claimed, err := v.Claim(stem, types.PeerCloud)
	require.NoError(t, err)

	// Age the claim past the TTL.
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(claimed, old, old))

	swept, err := v.SweepStale(types.PeerCloud, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{stem}, swept)

	stage, _, ok := v.FindStem(stem)
	require.True(t, ok)
	assert.Equal(t, types.StageNeedsAction, stage)
	assert.Len(t, rec.byType("claim_swept"), 1)
}

func TestSweepStale_KeepsFreshClaims(t *testing.T) {
	v, _ := newTestVault(t)
	p := types.Preamble{Type: types.TypeEmail, Status: types.StatusPending, Created: time.Now()}
	name, err := v.Emit(types.StageNeedsAction, "EMAIL_fresh_20250101120000", p, "b")
	require.NoError(t, err)

	_, err = v.Claim(Stem(name), types.PeerCloud)
	require.NoError(t, err)

	swept, err := v.SweepStale(types.PeerCloud, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, swept)
	assert.True(t, v.Claimed(Stem(name)))
}

func TestQuarantine_WritesErrorSibling(t *testing.T) {
	v, rec := newTestVault(t)
	p := types.Preamble{Type: types.TypeEmail, Status: types.StatusPending, Created: time.Now()}
	name, err := v.Emit(types.StageApproved, "EMAIL_bad_20250101120000", p, "b")
	require.NoError(t, err)
	stem := Stem(name)

	require.NoError(t, v.Quarantine(stem, types.StageApproved, "expired"))

	stage, _, ok := v.FindStem(stem)
	require.True(t, ok)
	assert.Equal(t, types.StageRejected, stage)

	sibling, err := os.ReadFile(filepath.Join(v.Dir(types.StageRejected), stem+"_error.md"))
	require.NoError(t, err)
	assert.Contains(t, string(sibling), "expired")
	assert.Len(t, rec.byType("quarantined"), 1)
}

func TestNoteRoundTrip(t *testing.T) {
	exp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := types.Preamble{
		Type:     types.TypeERPAction,
		Action:   types.ActionCreateInvoice,
		Priority: types.P1,
		Status:   types.StatusPending,
		Created:  time.Date(2025, 5, 31, 9, 0, 0, 0, time.UTC),
		Expires:  &exp,
		Amount:   1500,
		Currency: "USD",
		Partner:  "Acme Ltd",
		Extra:    map[string]string{"reference": "INV-42"},
	}

	raw, err := EncodeNote(p, "Invoice Acme for phase one.\n")
	require.NoError(t, err)

	got, body, err := DecodeNote(raw)
	require.NoError(t, err)
	assert.Equal(t, p.Type, got.Type)
	assert.Equal(t, p.Action, got.Action)
	assert.Equal(t, p.Amount, got.Amount)
	assert.Equal(t, "INV-42", got.Extra["reference"])
	require.NotNil(t, got.Expires)
	assert.True(t, got.Expires.Equal(exp))
	assert.Equal(t, "Invoice Acme for phase one.\n", body)
}

func TestDecodeNote_MissingFence(t *testing.T) {
	_, _, err := DecodeNote([]byte("no frontmatter here"))
	assert.Error(t, err)
}

func TestNewStem_Sanitizes(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	stem := NewStem(types.KindFile, "Q3 report (final).pdf", ts)
	assert.Equal(t, "FILE_Q3_report_final_pdf_20250102030405", stem)

	got, ok := StemTime(stem)
	require.True(t, ok)
	assert.Equal(t, ts.Format("20060102150405"), got.Format("20060102150405"))
}

func TestHasPriorApproval(t *testing.T) {
	v, _ := newTestVault(t)
	p := types.Preamble{Type: types.TypeERPAction, Status: types.StatusApproved, Created: time.Now()}
	_, err := v.Emit(types.StageDone, "APPROVAL_invoice_20250101120000", p, "approved")
	require.NoError(t, err)

	assert.True(t, v.HasPriorApproval("invoice"))
	assert.False(t, v.HasPriorApproval("refund"))
}

func TestMove_RefusesBackwardTransition(t *testing.T) {
	v, _ := newTestVault(t)
	p := types.Preamble{Type: types.TypeEmail, Status: types.StatusDone, Created: time.Now()}
	name, err := v.Emit(types.StageDone, "EMAIL_done_20250101120000", p, "b")
	require.NoError(t, err)

	// Done is terminal; a note never re-enters the queue.
	err = v.Move(Stem(name), types.StageDone, types.StageNeedsAction)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transition")

	stage, _, ok := v.FindStem(Stem(name))
	require.True(t, ok)
	assert.Equal(t, types.StageDone, stage)
}
