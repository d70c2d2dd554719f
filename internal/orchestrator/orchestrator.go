// Package orchestrator routes approved action notes to their adapters.
// It owns the policy gate (expiry, amount threshold, rate limits), the
// per-adapter worker pools, and the recurring vault sweeps.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/vaultops-systems/vaultops/internal/adapter"
	"github.com/vaultops-systems/vaultops/internal/metrics"
	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

const sweepInterval = time.Minute

// Orchestrator watches Approved/ and drives dispatch.
type Orchestrator struct {
	vault    *vault.Vault
	registry *adapter.Registry
	ledger   *adapter.Ledger
	limiter  *retry.Limiter
	rec      vault.Recorder
	clock    retry.Clock
	logger   *slog.Logger

	mode     types.PeerMode
	dryRun   bool
	cfg      types.OrchestratorConfig
	policy   types.PolicyConfig
	backoff  types.RetryPolicy
	queues   map[string]chan *vault.Note
	byName   map[string]adapter.Adapter

	mu       sync.Mutex
	inFlight map[string]struct{}
	deferred map[string]time.Time
	attempts map[string]int

	cancel  context.CancelFunc
	workers *errgroup.Group
	wg      sync.WaitGroup
}

// Options collects orchestrator construction inputs.
type Options struct {
	Vault    *vault.Vault
	Registry *adapter.Registry
	Ledger   *adapter.Ledger
	Limiter  *retry.Limiter
	Recorder vault.Recorder
	Clock    retry.Clock
	Logger   *slog.Logger

	Mode    types.PeerMode
	DryRun  bool
	Config  types.OrchestratorConfig
	Policy  types.PolicyConfig
	Backoff types.RetryPolicy
}

// New creates an Orchestrator. Zero config fields get working defaults.
func New(opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg.PollInterval <= 0 || cfg.PollInterval > types.MaxPollInterval {
		cfg.PollInterval = types.MaxPollInterval
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.WorkersPerAdapter <= 0 {
		cfg.WorkersPerAdapter = 2
	}
	if cfg.DeferCooldown <= 0 {
		cfg.DeferCooldown = time.Minute
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = time.Hour
	}
	policy := opts.Policy
	if policy.AmountThreshold <= 0 {
		policy.AmountThreshold = 100
	}
	backoff := opts.Backoff
	if backoff.MaxAttempts == 0 {
		backoff = retry.DefaultPolicy()
	}
	clock := opts.Clock
	if clock == nil {
		clock = retry.RealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode := opts.Mode
	if mode == "" {
		mode = types.PeerLocal
	}

	o := &Orchestrator{
		vault:    opts.Vault,
		registry: opts.Registry,
		ledger:   opts.Ledger,
		limiter:  opts.Limiter,
		rec:      opts.Recorder,
		clock:    clock,
		logger:   logger.With("component", "orchestrator"),
		mode:     mode,
		dryRun:   opts.DryRun,
		cfg:      cfg,
		policy:   policy,
		backoff:  backoff,
		queues:   make(map[string]chan *vault.Note),
		byName:   make(map[string]adapter.Adapter),
		inFlight: make(map[string]struct{}),
		deferred: make(map[string]time.Time),
		attempts: make(map[string]int),
	}
	for _, a := range opts.Registry.All() {
		o.queues[a.Name()] = make(chan *vault.Note, 64)
		o.byName[a.Name()] = a
	}
	return o
}

// Start launches the intake loop, the worker pools and the sweep timer.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)

	o.workers, _ = errgroup.WithContext(ctx)
	for name, queue := range o.queues {
		a := o.byName[name]
		queue := queue
		for i := 0; i < o.cfg.WorkersPerAdapter; i++ {
			o.workers.Go(func() error {
				o.worker(ctx, a, queue)
				return nil
			})
		}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.loop(ctx)
	}()
	o.logger.Info("orchestrator started", "mode", o.mode, "dry_run", o.dryRun)
}

// Stop halts intake, then gives in-flight dispatches the shutdown grace
// to finish. Notes that do not finish stay in Approved/ and are picked
// up on the next start.
func (o *Orchestrator) Stop(ctx context.Context) {
	if o.cancel != nil {
		o.cancel()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		_ = o.workers.Wait()
		close(done)
	}()

	grace := o.cfg.ShutdownGrace
	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
	case <-o.clock.After(grace):
		o.logger.Warn("orchestrator stop exceeded grace", "grace", grace)
	case <-ctx.Done():
		o.logger.Warn("orchestrator stop canceled")
	}
}

// loop is the intake side: fsnotify wake plus rescan ticker plus sweeps.
func (o *Orchestrator) loop(ctx context.Context) {
	wake := o.notify(ctx)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	sweeper := time.NewTicker(sweepInterval)
	defer sweeper.Stop()

	o.Sweep(ctx)
	o.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("intake stopping")
			return
		case <-ticker.C:
			o.scan(ctx)
		case <-wake:
			o.scan(ctx)
		case <-sweeper.C:
			o.Sweep(ctx)
		}
	}
}

// notify opens an fsnotify watch on Approved/. A failed watch degrades
// to ticker-only rescans.
func (o *Orchestrator) notify(ctx context.Context) <-chan struct{} {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		o.logger.Warn("fsnotify unavailable, polling only", "error", err)
		return nil
	}
	if err := fw.Add(o.vault.Dir(types.StageApproved)); err != nil {
		o.logger.Warn("cannot watch Approved, polling only", "error", err)
		fw.Close()
		return nil
	}

	wake := make(chan struct{}, 1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) == 0 {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				o.logger.Warn("fsnotify error", "error", err)
			}
		}
	}()
	return wake
}

// scan walks Approved/ in filename order and enqueues everything that
// clears the policy gate.
func (o *Orchestrator) scan(ctx context.Context) {
	names, err := o.vault.List(types.StageApproved)
	if err != nil {
		o.logger.Error("listing Approved failed", "error", err)
		return
	}

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		o.offer(ctx, name, false)
	}
}

// RunOnce processes the current Approved/ backlog synchronously in
// filename order. Used by the send-now command.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	names, err := o.vault.List(types.StageApproved)
	if err != nil {
		return fmt.Errorf("listing Approved: %w", err)
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.offer(ctx, name, true)
	}
	return nil
}

// RunOne dispatches a single Approved/ file synchronously.
func (o *Orchestrator) RunOne(ctx context.Context, name string) error {
	names, err := o.vault.List(types.StageApproved)
	if err != nil {
		return fmt.Errorf("listing Approved: %w", err)
	}
	for _, n := range names {
		if n == name || vault.Stem(n) == name {
			o.offer(ctx, n, true)
			return nil
		}
	}
	return fmt.Errorf("%s not found in Approved", name)
}

// offer runs the policy gate for one file and either enqueues it or,
// when sync is set, dispatches inline.
func (o *Orchestrator) offer(ctx context.Context, name string, sync bool) {
	stem := vault.Stem(name)
	now := o.clock.Now()

	o.mu.Lock()
	if _, busy := o.inFlight[stem]; busy {
		o.mu.Unlock()
		return
	}
	if until, ok := o.deferred[stem]; ok && now.Before(until) {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	note, err := o.vault.Load(types.StageApproved, name)
	if err != nil {
		o.logger.Warn("unreadable approved note", "file", name, "error", err)
		if qerr := o.vault.Quarantine(stem, types.StageApproved, "unreadable preamble: "+err.Error()); qerr == nil {
			metrics.NotesQuarantined.Add(1)
		}
		return
	}

	if verdict := o.gate(note, now); verdict != "" {
		o.reject(note, verdict)
		return
	}

	a := o.registry.Select(note)

	if channel := a.Channel(note); channel != "" && o.limiter != nil && !o.limiter.Allow(channel) {
		o.deferStem(stem, o.cfg.DeferCooldown)
		metrics.RateLimitDeferrals.Add(1)
		o.record("dispatch_deferred", note.Filename, note.Preamble.Action, "deferred", "rate limit on "+channel)
		o.logger.Info("dispatch deferred by rate limit", "file", name, "channel", channel)
		return
	}

	if o.dryRun {
		o.logger.Info("dry-run: would dispatch", "file", name, "adapter", a.Name())
		o.deferStem(stem, o.cfg.DeferCooldown)
		return
	}

	if sync {
		o.dispatch(ctx, a, note)
		return
	}

	o.mu.Lock()
	o.inFlight[stem] = struct{}{}
	o.mu.Unlock()

	select {
	case o.queues[a.Name()] <- note:
	default:
		// Queue full: drop the claim, the next rescan re-offers it.
		o.mu.Lock()
		delete(o.inFlight, stem)
		o.mu.Unlock()
	}
}

// gate returns a rejection reason, or "" when the note may dispatch.
func (o *Orchestrator) gate(note *vault.Note, now time.Time) string {
	if expiresAt(note.Preamble).Before(now) {
		metrics.NotesExpired.Add(1)
		return "expired before dispatch"
	}
	if note.Preamble.Amount > o.policy.AmountThreshold && !o.approvalOnRecord(note) {
		return fmt.Sprintf("amount %.2f exceeds %.2f without an approval record",
			note.Preamble.Amount, o.policy.AmountThreshold)
	}
	return ""
}

// approvalOnRecord checks the human sign-off for a high-amount note:
// either the note itself went through the approval flow (APPROVAL_
// stem) or a matching APPROVAL_ record exists in Approved/ or Done/.
func (o *Orchestrator) approvalOnRecord(note *vault.Note) bool {
	stem := note.Stem()
	if len(stem) > len(types.KindApproval) && stem[:len(types.KindApproval)+1] == types.KindApproval+"_" {
		return true
	}
	if topic := stemTopic(stem); topic != "" && o.vault.HasPriorApproval(topic) {
		return true
	}
	return false
}

func (o *Orchestrator) worker(ctx context.Context, a adapter.Adapter, jobs <-chan *vault.Note) {
	for {
		select {
		case <-ctx.Done():
			return
		case note := <-jobs:
			// The dispatch context is detached from the intake
			// context: shutdown stops new work but in-flight calls
			// get the grace period to finish.
			o.dispatch(context.Background(), a, note)
		}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, a adapter.Adapter, note *vault.Note) {
	stem := note.Stem()
	defer func() {
		o.mu.Lock()
		delete(o.inFlight, stem)
		o.mu.Unlock()
	}()

	if o.ledger != nil && o.ledger.Dispatched(stem) {
		o.logger.Info("already dispatched, archiving", "file", note.Filename)
		o.finish(note, types.OutcomeSent, "replayed from ledger")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.DispatchTimeout)
	defer cancel()

	outcome, err := a.Dispatch(ctx, note)
	if err == nil {
		if o.ledger != nil {
			if lerr := o.ledger.Record(stem); lerr != nil {
				o.logger.Warn("recording dispatch failed", "error", lerr)
			}
		}
		o.mu.Lock()
		delete(o.attempts, stem)
		delete(o.deferred, stem)
		o.mu.Unlock()
		metrics.NotesDispatched.Add(1)
		o.finish(note, outcome, "via "+a.Name())
		return
	}

	category := retry.Categorize(err)
	metrics.DispatchFailures.Add(1)

	if !retry.IsRetryable(o.backoff, category) {
		o.logger.Error("dispatch failed permanently", "file", note.Filename, "category", category, "error", err)
		o.reject(note, fmt.Sprintf("%s: %v", category, err))
		return
	}

	o.mu.Lock()
	o.attempts[stem]++
	attempt := o.attempts[stem]
	o.mu.Unlock()

	if attempt >= o.backoff.MaxAttempts {
		o.logger.Error("dispatch attempts exhausted", "file", note.Filename, "attempts", attempt, "error", err)
		o.mu.Lock()
		delete(o.attempts, stem)
		o.mu.Unlock()
		o.reject(note, fmt.Sprintf("retries exhausted after %d attempts: %v", attempt, err))
		return
	}

	wait := retry.Jitter(retry.Backoff(o.backoff, attempt))
	o.deferStem(stem, wait)
	metrics.DispatchDeferred.Add(1)
	o.record("dispatch_retry", note.Filename, note.Preamble.Action, "deferred",
		fmt.Sprintf("attempt %d failed (%s), retry in %s", attempt, category, wait))
	o.logger.Warn("dispatch failed, will retry", "file", note.Filename, "attempt", attempt, "backoff", wait, "error", err)
}

// finish archives a handled note to Done/.
func (o *Orchestrator) finish(note *vault.Note, outcome types.Outcome, detail string) {
	if err := o.vault.Move(note.Stem(), types.StageApproved, types.StageDone); err != nil {
		o.logger.Error("archiving to Done failed", "file", note.Filename, "error", err)
		return
	}
	o.record("approval_dispatched", note.Filename, note.Preamble.Action, string(outcome), detail)
	o.logger.Info("note dispatched", "file", note.Filename, "outcome", outcome)
}

// reject quarantines a note with its reason sibling.
func (o *Orchestrator) reject(note *vault.Note, reason string) {
	if err := o.vault.Quarantine(note.Stem(), types.StageApproved, reason); err != nil {
		o.logger.Error("quarantine failed", "file", note.Filename, "error", err)
		return
	}
	metrics.NotesQuarantined.Add(1)
	o.record("approval_rejected", note.Filename, note.Preamble.Action, "rejected", reason)
	o.logger.Warn("note rejected", "file", note.Filename, "reason", reason)
}

func (o *Orchestrator) deferStem(stem string, d time.Duration) {
	o.mu.Lock()
	o.deferred[stem] = o.clock.Now().Add(d)
	o.mu.Unlock()
}

func (o *Orchestrator) record(eventType, file, action, result, detail string) {
	if o.rec == nil {
		return
	}
	if err := o.rec.Append(types.Event{
		EventType: eventType,
		File:      file,
		Action:    action,
		Result:    result,
		Detail:    detail,
	}); err != nil {
		o.logger.Warn("audit append failed", "error", err)
	}
}
