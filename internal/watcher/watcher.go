// Package watcher runs external-channel pollers that turn observations
// into action notes in Needs_Action/. A watcher never talks to the
// orchestrator directly: the emitted file is the only coupling.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vaultops-systems/vaultops/internal/metrics"
	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// Item is one observation a source wants turned into an action note.
type Item struct {
	ID       string // stable identity for dedup across restarts
	Stem     string
	Preamble types.Preamble
	Body     string

	// Optional raw payload written next to the note (file copies).
	PayloadName string
	Payload     []byte

	// Ack, when set, runs after the note lands in Needs_Action/ so the
	// source can consume its artifact (remove the Inbox original, mark
	// the message read). Ack errors are logged, never retried: the note
	// already exists and the seen set stops re-emission.
	Ack func() error
}

// Source polls an external channel. Poll returns everything currently
// visible; the runner dedups against its seen set, so returning an item
// twice is harmless.
type Source interface {
	Name() string
	Poll(ctx context.Context) ([]Item, error)
}

// Config tunes a Runner.
type Config struct {
	Interval time.Duration
	DryRun   bool
	Policy   types.RetryPolicy
	Clock    retry.Clock

	// Wake triggers an immediate poll outside the ticker cadence. Used
	// by sources with a push signal (fsnotify) so the ticker is only the
	// fallback.
	Wake <-chan struct{}
}

// Runner drives one Source on a ticker, dedups its items and emits the
// fresh ones into Needs_Action/. Failed polls back off exponentially;
// a permanent failure emits an URGENT note and stops the runner.
type Runner struct {
	source  Source
	vault   *vault.Vault
	seen    *seenSet
	breaker *retry.Breaker
	policy  types.RetryPolicy
	clock   retry.Clock
	logger  *slog.Logger
	config  Config

	mu        sync.Mutex
	failures  int
	nextPoll  time.Time
	permanent bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner for the source over the given vault.
func NewRunner(src Source, v *vault.Vault, logger *slog.Logger, cfg Config) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = retry.DefaultPolicy()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = retry.RealClock()
	}
	return &Runner{
		source:  src,
		vault:   v,
		seen:    newSeenSet(v.Root(), src.Name()),
		breaker: retry.NewBreaker(retry.DefaultBreakerConfig(), clock),
		policy:  cfg.Policy,
		clock:   clock,
		logger:  logger.With("watcher", src.Name()),
		config:  cfg,
	}
}

// Start begins the polling loop.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.logger.Info("watcher started", "interval", r.config.Interval)

		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()

		// Run immediately on start
		r.tick(ctx)

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("watcher stopping")
				return
			case <-ticker.C:
				if r.tick(ctx) {
					return
				}
			case <-r.config.Wake:
				if r.tick(ctx) {
					return
				}
			}
		}
	}()
}

// Stop gracefully shuts down the runner.
func (r *Runner) Stop(ctx context.Context) {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("watcher stopped")
	case <-ctx.Done():
		r.logger.Warn("watcher stop timed out")
	}
}

// Stopped reports whether the runner shut itself down after a permanent
// failure.
func (r *Runner) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permanent
}

// tick runs one cycle, honoring the backoff window. Returns true when
// the runner should stop for good.
func (r *Runner) tick(ctx context.Context) bool {
	r.mu.Lock()
	wait := r.nextPoll.After(r.clock.Now())
	r.mu.Unlock()
	if wait {
		return false
	}
	if !r.breaker.Allow(r.source.Name()) {
		r.logger.Debug("circuit open, skipping poll")
		return false
	}

	err := r.RunOnce(ctx)
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	category := retry.Categorize(err)
	r.breaker.RecordFailure(r.source.Name(), category)
	metrics.WatcherPollErrors.Add(1)

	if category == types.FailurePermanent || category == types.FailurePolicy {
		r.escalate(err)
		return true
	}

	r.mu.Lock()
	r.failures++
	backoff := retry.Jitter(retry.Backoff(r.policy, r.failures))
	r.nextPoll = r.clock.Now().Add(backoff)
	r.mu.Unlock()
	r.logger.Warn("poll failed", "error", err, "category", category, "backoff", backoff)
	return false
}

// RunOnce performs a single poll-and-emit cycle.
func (r *Runner) RunOnce(ctx context.Context) error {
	metrics.WatcherPolls.Add(1)
	items, err := r.source.Poll(ctx)
	if err != nil {
		return err
	}

	r.breaker.RecordSuccess(r.source.Name())
	r.mu.Lock()
	r.failures = 0
	r.nextPoll = time.Time{}
	r.mu.Unlock()

	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.seen.Has(item.ID) {
			continue
		}
		metrics.WatcherItemsSeen.Add(1)

		if r.config.DryRun {
			r.logger.Info("dry-run: would emit", "stem", item.Stem, "id", item.ID)
			continue
		}
		if err := r.emit(item); err != nil {
			r.logger.Error("emit failed", "stem", item.Stem, "error", err)
			continue
		}
		r.seen.Add(item.ID)
		if err := r.seen.Save(); err != nil {
			r.logger.Warn("persisting seen set failed", "error", err)
		}
		if item.Ack != nil {
			if err := item.Ack(); err != nil {
				r.logger.Warn("source ack failed", "id", item.ID, "error", err)
			}
		}
	}
	return nil
}

func (r *Runner) emit(item Item) error {
	if item.PayloadName != "" {
		if _, err := r.vault.EmitRaw(types.StageNeedsAction, item.PayloadName, item.Payload); err != nil {
			return err
		}
	}
	name, err := r.vault.Emit(types.StageNeedsAction, item.Stem, item.Preamble, item.Body)
	if err != nil {
		return err
	}
	metrics.NotesEmitted.Add(1)
	r.logger.Info("note emitted", "file", name)
	return nil
}

// escalate writes an URGENT note so a human sees the dead watcher on the
// next vault scan, then marks the runner stopped.
func (r *Runner) escalate(cause error) {
	r.mu.Lock()
	r.permanent = true
	r.mu.Unlock()

	stem := vault.NewStem(types.KindUrgent, r.source.Name()+"_watcher_down", r.clock.Now())
	p := types.Preamble{
		Type:     types.TypeNotification,
		Priority: types.P0,
		Status:   types.StatusPending,
		Created:  r.clock.Now(),
		Source:   r.source.Name(),
	}
	body := fmt.Sprintf("Watcher %q stopped after a non-retryable failure.\n\nCause: %v\n\nFix the credential or configuration and restart the watcher.\n", r.source.Name(), cause)
	if _, err := r.vault.Emit(types.StageNeedsAction, stem, p, body); err != nil {
		r.logger.Error("escalation note failed", "error", err)
	}
	r.logger.Error("watcher stopped permanently", "cause", cause)
}
