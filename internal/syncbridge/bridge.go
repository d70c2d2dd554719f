// Package syncbridge keeps the vault in sync between the two peers
// through a shared git remote. Pull merges remote work in with a
// per-directory conflict policy, push stages only the vault subtree,
// and a circuit breaker turns a dead remote into quiet local-only
// cycles instead of an error storm.
package syncbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vaultops-systems/vaultops/internal/metrics"
	"github.com/vaultops-systems/vaultops/internal/retry"
	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

const defaultInterval = 5 * time.Minute

// Directories where the remote wins a conflict. Needs_Action/ and
// Signals/ are written by the other peer, so its copy is the truth.
// Everywhere else this peer is authoritative and keeps its own side.
var remoteAuthoritative = []types.Stage{types.StageNeedsAction, types.StageSignals}

// Files that must never reach the remote: credentials, session state,
// and the per-process sidecars under the vault root.
var neverStagedPatterns = []string{
	".env",
	"token.json",
	"credentials.json",
	".dispatched.json",
}

// Bridge is the git sync daemon.
type Bridge struct {
	vault    *vault.Vault
	rec      vault.Recorder
	git      Git
	clock    retry.Clock
	logger   *slog.Logger
	breaker  *gobreaker.CircuitBreaker
	repoRoot string
	vaultRel string
	branch   string
	remote   string
	interval time.Duration
	dryRun   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config tunes the bridge.
type Config struct {
	RepoRoot string        // git working tree containing the vault; defaults to the vault's parent
	Branch   string        // default "main"
	Remote   string        // default "origin"
	Interval time.Duration // default 5m
	DryRun   bool
}

// PullResult reports one pull cycle.
type PullResult struct {
	Updated   []string
	Conflicts []string
	Skipped   string // non-empty when the pull did not run (no remote, open breaker)
}

// PushResult reports one push cycle.
type PushResult struct {
	Pushed  []string
	Skipped string
}

// New creates a sync bridge over the vault's repository.
func New(v *vault.Vault, rec vault.Recorder, git Git, clock retry.Clock, logger *slog.Logger, cfg Config) (*Bridge, error) {
	if git == nil {
		git = ExecGit{}
	}
	if clock == nil {
		clock = retry.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RepoRoot == "" {
		cfg.RepoRoot = filepath.Dir(v.Root())
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	rel, err := filepath.Rel(cfg.RepoRoot, v.Root())
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("vault %s is not inside repository %s", v.Root(), cfg.RepoRoot)
	}
	if rel == "." {
		// The vault is the repository root.
		rel = ""
	}

	return &Bridge{
		vault:    v,
		rec:      rec,
		git:      git,
		clock:    clock,
		logger:   logger.With("component", "sync_bridge"),
		repoRoot: cfg.RepoRoot,
		vaultRel: rel,
		branch:   cfg.Branch,
		remote:   cfg.Remote,
		interval: cfg.Interval,
		dryRun:   cfg.DryRun,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "git_remote",
			Timeout: 2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}, nil
}

// Start runs continuous sync cycles until the context is canceled.
func (b *Bridge) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.logger.Info("sync bridge started", "interval", b.interval, "branch", b.branch, "dry_run", b.dryRun)

		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		b.cycle(ctx)
		for {
			select {
			case <-ctx.Done():
				b.logger.Info("sync bridge stopped")
				return
			case <-ticker.C:
				b.cycle(ctx)
			}
		}
	}()
}

// Stop shuts the loop down.
func (b *Bridge) Stop(ctx context.Context) {
	if b.cancel != nil {
		b.cancel()
	}
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("sync bridge stop timed out")
	}
}

func (b *Bridge) cycle(ctx context.Context) {
	if err := b.SyncOnce(ctx); err != nil {
		metrics.SyncFailures.Add(1)
		b.logger.Error("sync cycle failed", "error", err)
	}
}

// SyncOnce runs pull then push and writes the rolling status signal.
func (b *Bridge) SyncOnce(ctx context.Context) error {
	pull, pullErr := b.Pull(ctx)
	push, pushErr := b.Push(ctx, "")
	metrics.SyncCycles.Add(1)

	status := "synced"
	details := map[string]string{}
	if pull != nil {
		details["files_pulled"] = fmt.Sprintf("%d", len(pull.Updated))
		details["conflicts_resolved"] = fmt.Sprintf("%d", len(pull.Conflicts))
		if pull.Skipped != "" {
			details["pull_skipped"] = pull.Skipped
		}
	}
	if push != nil {
		details["files_pushed"] = fmt.Sprintf("%d", len(push.Pushed))
		if push.Skipped != "" {
			details["push_skipped"] = push.Skipped
		}
	}
	var err error
	switch {
	case pullErr != nil:
		status, err = "pull_failed", pullErr
		details["error"] = pullErr.Error()
	case pushErr != nil:
		status, err = "push_failed", pushErr
		details["error"] = pushErr.Error()
	}
	b.writeSignal(status, details)
	return err
}

// Pull fetches and merges remote work into the local tree.
func (b *Bridge) Pull(ctx context.Context) (*PullResult, error) {
	if !b.hasRemote(ctx) {
		b.logger.Warn("no git remote configured, skipping pull")
		return &PullResult{Skipped: "no_remote"}, nil
	}
	branch := b.currentBranch(ctx)

	if _, err := b.remoteOp(func() (string, error) {
		return b.git.Run(ctx, b.repoRoot, "fetch", b.remote)
	}); err != nil {
		if breakerOpen(err) {
			return &PullResult{Skipped: "remote_unavailable"}, nil
		}
		return nil, fmt.Errorf("fetch: %w", err)
	}

	out, err := b.git.Run(ctx, b.repoRoot, "diff", "HEAD.."+b.remote+"/"+branch, "--name-only")
	if err != nil {
		return nil, fmt.Errorf("divergence check: %w", err)
	}
	incoming := lines(out)
	if len(incoming) == 0 {
		return &PullResult{}, nil
	}

	if b.dryRun {
		b.logger.Info("dry-run: would merge", "incoming", len(incoming))
		return &PullResult{Skipped: "dry_run"}, nil
	}

	res := &PullResult{Updated: incoming}
	if _, err := b.git.Run(ctx, b.repoRoot, "merge", b.remote+"/"+branch, "--no-edit"); err != nil {
		conflictOut, cErr := b.git.Run(ctx, b.repoRoot, "diff", "--name-only", "--diff-filter=U")
		if cErr != nil {
			return nil, fmt.Errorf("merge failed and conflict listing failed: %w", err)
		}
		res.Conflicts = lines(conflictOut)
		if len(res.Conflicts) == 0 {
			return nil, fmt.Errorf("merge: %w", err)
		}
		if err := b.resolveConflicts(ctx, res.Conflicts); err != nil {
			return nil, err
		}
	}

	b.restoreRefusedDeletions(ctx)

	b.record("vault_pull", "ok", fmt.Sprintf("files=%d conflicts=%d", len(res.Updated), len(res.Conflicts)))
	b.logger.Info("pull complete", "files", len(res.Updated), "conflicts", len(res.Conflicts))
	return res, nil
}

// resolveConflicts settles each conflicted path and commits the
// resolution. Directory ownership decides by default; in the approval
// stages both peers legitimately advance the same note, so there the
// side whose status has progressed further wins.
func (b *Bridge) resolveConflicts(ctx context.Context, conflicts []string) error {
	for _, path := range conflicts {
		side := "--ours"
		switch {
		case b.remoteWins(path):
			side = "--theirs"
		case b.approvalStage(path):
			side = b.laterStatusSide(ctx, path)
		}
		if _, err := b.git.Run(ctx, b.repoRoot, "checkout", side, "--", path); err != nil {
			return fmt.Errorf("resolving %s: %w", path, err)
		}
		if _, err := b.git.Run(ctx, b.repoRoot, "add", "--", path); err != nil {
			return fmt.Errorf("staging resolution of %s: %w", path, err)
		}
	}
	_, err := b.git.Run(ctx, b.repoRoot, "commit", "--no-edit", "-m", "vault-sync: resolve conflicts by directory policy")
	if err != nil {
		return fmt.Errorf("committing resolution: %w", err)
	}
	return nil
}

// restoreRefusedDeletions puts back files a merge deleted in the
// directories this peer is authoritative over. The remote may only
// delete inside Needs_Action/ and Signals/.
func (b *Bridge) restoreRefusedDeletions(ctx context.Context) {
	out, err := b.git.Run(ctx, b.repoRoot, "diff", "--name-only", "--diff-filter=D", "ORIG_HEAD", "HEAD")
	if err != nil {
		return // no ORIG_HEAD means no merge happened
	}
	for _, path := range lines(out) {
		if !b.insideVault(path) || b.remoteWins(path) {
			continue
		}
		if _, err := b.git.Run(ctx, b.repoRoot, "checkout", "ORIG_HEAD", "--", path); err != nil {
			b.logger.Warn("could not restore deleted file", "path", path, "error", err)
			continue
		}
		b.logger.Info("refused remote deletion", "path", path)
	}
}

// Push stages the vault subtree, commits, and pushes. Credentials and
// sidecar state never leave the machine.
func (b *Bridge) Push(ctx context.Context, message string) (*PushResult, error) {
	if !b.hasRemote(ctx) {
		b.logger.Warn("no git remote configured, skipping push")
		return &PushResult{Skipped: "no_remote"}, nil
	}
	if b.dryRun {
		return &PushResult{Skipped: "dry_run"}, nil
	}

	if _, err := b.git.Run(ctx, b.repoRoot, "add", "--", b.vaultTarget()); err != nil {
		return nil, fmt.Errorf("staging vault: %w", err)
	}
	if err := b.unstageSecrets(ctx); err != nil {
		return nil, err
	}

	out, err := b.git.Run(ctx, b.repoRoot, "diff", "--cached", "--name-only")
	if err != nil {
		return nil, fmt.Errorf("listing staged files: %w", err)
	}
	staged := lines(out)
	if len(staged) == 0 {
		return &PushResult{Skipped: "nothing_to_push"}, nil
	}

	if message == "" {
		message = "vault-sync: auto-sync " + b.clock.Now().Format("2006-01-02 15:04")
	}
	if _, err := b.git.Run(ctx, b.repoRoot, "commit", "-m", message); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	branch := b.currentBranch(ctx)
	if _, err := b.remoteOp(func() (string, error) {
		return b.git.Run(ctx, b.repoRoot, "push", b.remote, branch)
	}); err != nil {
		if breakerOpen(err) {
			return &PushResult{Skipped: "remote_unavailable"}, nil
		}
		return nil, fmt.Errorf("push: %w", err)
	}

	b.record("vault_push", "ok", fmt.Sprintf("files=%d branch=%s", len(staged), branch))
	b.logger.Info("push complete", "files", len(staged), "branch", branch)
	return &PushResult{Pushed: staged}, nil
}

// unstageSecrets drops anything matching the never-staged patterns from
// the index before commit.
func (b *Bridge) unstageSecrets(ctx context.Context) error {
	out, err := b.git.Run(ctx, b.repoRoot, "diff", "--cached", "--name-only")
	if err != nil {
		return fmt.Errorf("inspecting index: %w", err)
	}
	for _, path := range lines(out) {
		if !NeverStaged(path) {
			continue
		}
		if _, err := b.git.Run(ctx, b.repoRoot, "reset", "-q", "HEAD", "--", path); err != nil {
			return fmt.Errorf("unstaging %s: %w", path, err)
		}
		b.logger.Info("kept out of sync", "path", path)
	}
	return nil
}

// NeverStaged reports whether a repository path must stay local.
func NeverStaged(path string) bool {
	base := filepath.Base(path)
	for _, pat := range neverStagedPatterns {
		if base == pat {
			return true
		}
	}
	if strings.HasPrefix(base, ".seen_") && strings.HasSuffix(base, ".json") {
		return true
	}
	if strings.Contains(path, "/.sessions/") || strings.HasPrefix(base, ".env.") {
		return true
	}
	return false
}

func (b *Bridge) remoteWins(path string) bool {
	for _, stage := range remoteAuthoritative {
		prefix := string(stage) + "/"
		if b.vaultRel != "" {
			prefix = b.vaultRel + "/" + prefix
		}
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// approvalStage reports whether the path sits in Pending_Approval/ or
// Approved/, where conflicts resolve by note status.
func (b *Bridge) approvalStage(path string) bool {
	for _, stage := range []types.Stage{types.StagePendingApproval, types.StageApproved} {
		prefix := string(stage) + "/"
		if b.vaultRel != "" {
			prefix = b.vaultRel + "/" + prefix
		}
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// laterStatusSide compares the two merge-index sides of a conflicted
// note and keeps whichever status ranks further along the lifecycle.
// An approved copy beats a pending one regardless of which peer holds
// it. Ties and unreadable sides keep ours.
func (b *Bridge) laterStatusSide(ctx context.Context, path string) string {
	ours := b.indexStatus(ctx, ":2:"+path)
	theirs := b.indexStatus(ctx, ":3:"+path)
	if theirs.Rank() > ours.Rank() {
		return "--theirs"
	}
	return "--ours"
}

// indexStatus reads a note's preamble status from one stage of the
// merge index (:2: ours, :3: theirs).
func (b *Bridge) indexStatus(ctx context.Context, ref string) types.NoteStatus {
	out, err := b.git.Run(ctx, b.repoRoot, "show", ref)
	if err != nil {
		return ""
	}
	p, _, err := vault.DecodeNote([]byte(out))
	if err != nil {
		return ""
	}
	return p.Status
}

// insideVault reports whether a repo-relative path is under the vault.
func (b *Bridge) insideVault(path string) bool {
	return b.vaultRel == "" || strings.HasPrefix(path, b.vaultRel+"/")
}

// vaultTarget is the pathspec that stages the vault subtree.
func (b *Bridge) vaultTarget() string {
	if b.vaultRel == "" {
		return "."
	}
	return b.vaultRel
}

func breakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (b *Bridge) remoteOp(op func() (string, error)) (string, error) {
	out, err := b.breaker.Execute(func() (any, error) { return op() })
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (b *Bridge) hasRemote(ctx context.Context) bool {
	out, err := b.git.Run(ctx, b.repoRoot, "remote")
	if err != nil {
		return false
	}
	for _, name := range lines(out) {
		if name == b.remote {
			return true
		}
	}
	return false
}

func (b *Bridge) currentBranch(ctx context.Context) string {
	out, err := b.git.Run(ctx, b.repoRoot, "branch", "--show-current")
	if err != nil || strings.TrimSpace(out) == "" {
		return b.branch
	}
	return strings.TrimSpace(out)
}

// writeSignal overwrites the rolling SYNC_STATUS.md in Signals/.
func (b *Bridge) writeSignal(status string, details map[string]string) {
	now := b.clock.Now()
	var sb strings.Builder
	fmt.Fprintf(&sb, "---\ntype: %s\nstatus: %s\ntimestamp: %s\nbranch: %s\n---\n\n",
		types.TypeSyncStatus, status, now.Format(time.RFC3339), b.branch)
	fmt.Fprintf(&sb, "# Vault Sync Status: %s\n\n", status)
	for _, k := range sortedKeys(details) {
		fmt.Fprintf(&sb, "- **%s**: %s\n", k, details[k])
	}

	path := filepath.Join(b.vault.Dir(types.StageSignals), "SYNC_STATUS.md")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err == nil {
		if err := os.Rename(tmp, path); err != nil {
			b.logger.Warn("signal write failed", "error", err)
		}
	} else {
		b.logger.Warn("signal write failed", "error", err)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *Bridge) record(eventType, result, detail string) {
	if b.rec == nil {
		return
	}
	if err := b.rec.Append(types.Event{
		EventType: eventType,
		Actor:     "sync_bridge",
		Result:    result,
		Detail:    detail,
	}); err != nil {
		b.logger.Warn("audit append failed", "error", err)
	}
}
