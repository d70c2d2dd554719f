// Package peer runs the cloud side of the shared vault: it claims tasks
// from Needs_Action/, drafts replies and posts into Pending_Approval/,
// and reports its health through Signals/. It never executes sends and
// never touches the stages the local peer owns.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vaultops-systems/vaultops/internal/metrics"
	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// Work the cloud peer must never claim: channels bound to local-only
// sessions and anything that moves money.
var forbiddenPrefixes = []string{"WHATSAPP_", "PAYMENT_", "BANKING_"}

var forbiddenActions = map[string]struct{}{
	"send_whatsapp":            {},
	"whatsapp_message":         {},
	types.ActionProcessPayment: {},
	types.ActionBankTransfer:   {},
}

// Forbidden reports whether a task is outside the cloud work zone.
func Forbidden(filename, action string) bool {
	name := strings.ToUpper(filename)
	for _, p := range forbiddenPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	_, ok := forbiddenActions[action]
	return ok
}

// Agent is the cloud claim-and-draft loop.
type Agent struct {
	vault  *vault.Vault
	rec    vault.Recorder
	clock  retry.Clock
	logger *slog.Logger

	interval    time.Duration
	signalEvery time.Duration
	dryRun      bool

	mu         sync.Mutex
	tasksTotal int
	lastSignal time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config tunes the agent.
type Config struct {
	PollInterval time.Duration // default 30s
	SignalEvery  time.Duration // default 15m
	DryRun       bool
}

// New creates a cloud agent over the vault.
func New(v *vault.Vault, rec vault.Recorder, clock retry.Clock, logger *slog.Logger, cfg Config) *Agent {
	if clock == nil {
		clock = retry.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.SignalEvery <= 0 {
		cfg.SignalEvery = 15 * time.Minute
	}
	return &Agent{
		vault:       v,
		rec:         rec,
		clock:       clock,
		logger:      logger.With("component", "cloud_agent"),
		interval:    cfg.PollInterval,
		signalEvery: cfg.SignalEvery,
		dryRun:      cfg.DryRun,
	}
}

// Start begins the claim loop.
func (a *Agent) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.mu.Lock()
	a.lastSignal = a.clock.Now()
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("cloud agent started", "interval", a.interval, "dry_run", a.dryRun)
		a.record("cloud_agent_started", "", "", "ok", "")

		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		a.pass(ctx)

		for {
			select {
			case <-ctx.Done():
				a.shutdown()
				return
			case <-ticker.C:
				a.pass(ctx)
			}
		}
	}()
}

// Stop shuts the loop down and publishes the stop signal.
func (a *Agent) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.logger.Info("cloud agent stopped")
	case <-ctx.Done():
		a.logger.Warn("cloud agent stop timed out")
	}
}

func (a *Agent) pass(ctx context.Context) {
	n, err := a.RunOnce(ctx)
	if err != nil {
		a.logger.Error("claim pass failed", "error", err)
	}
	if n > 0 {
		a.logger.Info("tasks processed", "count", n, "total", a.total())
	}
	a.maybeSignal()
}

// RunOnce claims and processes every eligible file currently in
// Needs_Action/, in filename order. Returns the number handled.
func (a *Agent) RunOnce(ctx context.Context) (int, error) {
	names, err := a.vault.List(types.StageNeedsAction)
	if err != nil {
		return 0, fmt.Errorf("listing Needs_Action: %w", err)
	}

	processed := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		stem := vault.Stem(name)
		if a.vault.Claimed(stem) {
			continue
		}
		if a.dryRun {
			a.logger.Info("dry-run: would claim", "file", name)
			continue
		}

		if _, err := a.vault.Claim(stem, types.PeerCloud); err != nil {
			if errors.Is(err, vault.ErrClaimLost) {
				metrics.ClaimsLost.Add(1)
				continue
			}
			a.logger.Warn("claim failed", "file", name, "error", err)
			continue
		}
		metrics.ClaimsWon.Add(1)

		a.route(name)
		processed++
	}

	a.mu.Lock()
	a.tasksTotal += processed
	a.mu.Unlock()
	return processed, nil
}

// route inspects a claimed file and runs the matching draft handler.
// Anything the cloud cannot or must not handle goes back to
// Needs_Action/ for the local peer.
func (a *Agent) route(name string) {
	stem := vault.Stem(name)

	note, err := a.vault.LoadClaimed(types.PeerCloud, name)
	if err != nil {
		a.logger.Warn("claimed file unreadable, releasing", "file", name, "error", err)
		a.releaseBack(stem, "unreadable")
		return
	}

	if Forbidden(name, note.Preamble.Action) {
		a.record("task_skipped_cloud_forbidden", name, note.Preamble.Action, "released", "outside cloud work zone")
		a.logger.Info("cloud-forbidden task released", "file", name)
		a.releaseBack(stem, "cloud_forbidden")
		return
	}

	switch {
	case wantsEmailDraft(stem, note):
		a.handleDraft(note, a.draftEmailReply, "email_draft_created")
	case wantsSocialDraft(stem, note):
		a.handleDraft(note, a.draftSocialPost, "social_draft_created")
	default:
		a.record("task_no_cloud_handler", name, note.Preamble.Action, "released", "")
		a.logger.Info("no cloud handler, releasing", "file", name)
		a.releaseBack(stem, "no_cloud_handler")
	}
}

func (a *Agent) handleDraft(note *vault.Note, draft func(*vault.Note) (string, error), event string) {
	draftName, err := draft(note)
	if err != nil {
		a.logger.Error("draft failed, releasing", "file", note.Filename, "error", err)
		a.record(strings.Replace(event, "_created", "_error", 1), note.Filename, note.Preamble.Action, "released", err.Error())
		a.releaseBack(note.Stem(), "draft_error")
		return
	}
	a.record(event, note.Filename, note.Preamble.Action, "drafted", "draft "+draftName)
	if err := a.vault.Archive(note.Stem(), types.PeerCloud, types.StageDone); err != nil {
		a.logger.Warn("archiving claimed task failed", "file", note.Filename, "error", err)
	}
}

func (a *Agent) releaseBack(stem, reason string) {
	if err := a.vault.Release(stem, types.PeerCloud); err != nil {
		a.logger.Error("release failed", "stem", stem, "reason", reason, "error", err)
	}
}

func wantsEmailDraft(stem string, note *vault.Note) bool {
	if strings.HasPrefix(stem, types.KindEmail+"_") {
		return true
	}
	if note.Preamble.Type == types.TypeEmail {
		return true
	}
	switch note.Preamble.Action {
	case types.ActionSendEmail, "reply_email", "triage_email":
		return true
	}
	return false
}

func wantsSocialDraft(stem string, note *vault.Note) bool {
	if strings.HasPrefix(note.Preamble.Action, "post_to_") || note.Preamble.Action == "social_post" {
		return true
	}
	for _, kw := range []string{types.KindLinkedInPost + "_", types.KindSocial + "_"} {
		if strings.HasPrefix(stem, kw) && strings.Contains(stem, "POST") {
			return true
		}
	}
	return false
}

func (a *Agent) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tasksTotal
}

// maybeSignal publishes a heartbeat signal when the cadence has elapsed.
func (a *Agent) maybeSignal() {
	now := a.clock.Now()
	a.mu.Lock()
	due := now.Sub(a.lastSignal) >= a.signalEvery
	if due {
		a.lastSignal = now
	}
	a.mu.Unlock()
	if !due || a.dryRun {
		return
	}
	a.writeSignal("active")
}

func (a *Agent) shutdown() {
	a.record("cloud_agent_stopped", "", "", "ok", fmt.Sprintf("tasks_total=%d", a.total()))
	if !a.dryRun {
		a.writeSignal("stopped")
	}
	a.logger.Info("cloud agent loop exited", "tasks_total", a.total())
}

// writeSignal drops a CLOUD_STATUS file into Signals/ for the local
// peer to merge into the dashboard. The cloud never edits Dashboard.md.
func (a *Agent) writeSignal(status string) {
	now := a.clock.Now()
	stem := vault.NewStem("CLOUD_STATUS", status, now)
	p := types.Preamble{
		Type:    types.TypeCloudStatus,
		Status:  types.StatusPending,
		Created: now,
		Source:  "cloud",
		Extra: map[string]string{
			"agent":           "cloud",
			"signal_status":   status,
			"tasks_processed": fmt.Sprintf("%d", a.total()),
		},
	}
	body := fmt.Sprintf("# Cloud Agent Signal: %s\n\n- last_active: %s\n- tasks_processed: %d\n- poll_interval: %s\n",
		status, now.Format(time.RFC3339), a.total(), a.interval)
	if _, err := a.vault.Emit(types.StageSignals, stem, p, body); err != nil {
		a.logger.Warn("signal write failed", "error", err)
	}
}

func (a *Agent) record(eventType, file, action, result, detail string) {
	if a.rec == nil {
		return
	}
	if err := a.rec.Append(types.Event{
		EventType: eventType,
		Actor:     "cloud_agent",
		File:      file,
		Action:    action,
		Result:    result,
		Detail:    detail,
	}); err != nil {
		a.logger.Warn("audit append failed", "error", err)
	}
}
