package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/vaultops-systems/vaultops/internal/metrics"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// expiresAt resolves a note's effective deadline: the explicit expires
// field when present, otherwise created plus the priority's default TTL.
func expiresAt(p types.Preamble) time.Time {
	if p.Expires != nil {
		return *p.Expires
	}
	created := p.Created
	if created.IsZero() {
		// An undated note gets the most patient deadline from now-ish;
		// without created there is nothing better to anchor on.
		return time.Now().Add(types.P3.TTL())
	}
	priority := p.Priority
	if !priority.Valid() {
		priority = types.P3
	}
	return created.Add(priority.TTL())
}

// stemTopic returns the middle segment of a canonical stem, the part
// between the kind prefix and the timestamp.
func stemTopic(stem string) string {
	parts := strings.Split(stem, "_")
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[1:len(parts)-1], "_")
}

// Sweep runs the recurring maintenance passes: expiry over the approval
// stages and the stale-claim sweep of the opposite peer's work zone.
func (o *Orchestrator) Sweep(ctx context.Context) {
	o.sweepExpired(ctx, types.StagePendingApproval)
	o.sweepExpired(ctx, types.StageApproved)
	o.sweepStaleClaims()
}

func (o *Orchestrator) sweepExpired(ctx context.Context, stage types.Stage) {
	names, err := o.vault.List(stage)
	if err != nil {
		o.logger.Error("expiry sweep list failed", "stage", stage, "error", err)
		return
	}
	now := o.clock.Now()
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		note, err := o.vault.Load(stage, name)
		if err != nil {
			continue // unreadable files are the scan path's problem
		}
		if !expiresAt(note.Preamble).Before(now) {
			continue
		}
		stem := vault.Stem(name)
		o.mu.Lock()
		_, busy := o.inFlight[stem]
		o.mu.Unlock()
		if busy {
			continue
		}
		if err := o.vault.Quarantine(stem, stage, "expired before dispatch"); err != nil {
			o.logger.Warn("expiry quarantine failed", "file", name, "error", err)
			continue
		}
		metrics.NotesExpired.Add(1)
		o.record("approval_expired", name, note.Preamble.Action, "rejected", "expired in "+string(stage))
		o.logger.Info("expired note swept", "file", name, "stage", stage)
	}
}

// sweepStaleClaims requeues the opposite peer's claims whose files have
// not been touched within the claim TTL. Only the opposite peer's zone
// is swept: a process never declares its own work dead.
func (o *Orchestrator) sweepStaleClaims() {
	other := o.mode.Other()
	swept, err := o.vault.SweepStale(other, o.cfg.ClaimTTL)
	if err != nil {
		o.logger.Error("stale claim sweep failed", "peer", other, "error", err)
		return
	}
	if len(swept) > 0 {
		metrics.ClaimsSwept.Add(int64(len(swept)))
		o.logger.Info("stale claims requeued", "peer", other, "count", len(swept))
	}
}
