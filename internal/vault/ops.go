package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vaultops-systems/vaultops/internal/lifecycle"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// statusFor maps a stage to the note status it implies. Stages that
// hold non-note files (signals, logs, briefings) have no status.
func statusFor(stage types.Stage) (types.NoteStatus, bool) {
	switch stage {
	case types.StageInbox, types.StageNeedsAction, types.StagePlans, types.StagePendingApproval:
		return types.StatusPending, true
	case types.StageInProgress:
		return types.StatusInProgress, true
	case types.StageApproved:
		return types.StatusApproved, true
	case types.StageDone:
		return types.StatusDone, true
	case types.StageRejected:
		return types.StatusRejected, true
	}
	return "", false
}

// checkTransition guards a stage move with the note status machine.
func checkTransition(from, to types.Stage) error {
	sf, ok := statusFor(from)
	if !ok {
		return nil
	}
	st, ok := statusFor(to)
	if !ok {
		return nil
	}
	if sf == st {
		return nil
	}
	return lifecycle.Transition(sf, st)
}

// renameNoReplace commits src to dst without ever replacing an existing
// dst. os.Rename silently overwrites a destination that appears between
// a stat check and the rename; a hard link fails with EEXIST instead,
// so the link-then-remove pair keeps rename's atomicity while closing
// that window.
func renameNoReplace(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

// findFile locates the file carrying the given stem in dir.
func findFile(dir, stem string) (string, error) {
	names, err := listDir(dir)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if Stem(name) == stem {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrNotFound, stem, dir)
}

// Move renames the file carrying stem from one stage to another,
// preserving the filename. It never overwrites: an occupied destination
// is an integrity failure. One audit record is appended on success.
func (v *Vault) Move(stem string, from, to types.Stage) error {
	if err := checkTransition(from, to); err != nil {
		return fmt.Errorf("moving %s: %w", stem, err)
	}
	name, err := findFile(v.Dir(from), stem)
	if err != nil {
		return err
	}
	src := filepath.Join(v.Dir(from), name)
	dst := filepath.Join(v.Dir(to), name)
	if err := renameNoReplace(src, dst); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s in %s", ErrStemExists, stem, to)
		}
		return fmt.Errorf("moving %s: %w", name, err)
	}
	v.record("stage_transition", stem, "", string(to), fmt.Sprintf("%s -> %s", from, to))
	v.logger.Info("moved", "file", name, "from", from, "to", to)
	return nil
}

// Claim atomically moves the file carrying stem from Needs_Action/ into
// In_Progress/<peer>/. Removing the source is the commit point: if it is
// already gone, another peer won and ErrClaimLost is returned. Claim
// misses are not retried.
func (v *Vault) Claim(stem string, peer types.PeerMode) (string, error) {
	name, err := findFile(v.Dir(types.StageNeedsAction), stem)
	if err != nil {
		return "", ErrClaimLost
	}
	src := filepath.Join(v.Dir(types.StageNeedsAction), name)
	dst := filepath.Join(v.PeerDir(peer), name)
	if err := os.Link(src, dst); err != nil {
		if os.IsNotExist(err) {
			return "", ErrClaimLost
		}
		if os.IsExist(err) {
			return "", fmt.Errorf("%w: %s already in In_Progress/%s", ErrStemExists, stem, peer)
		}
		return "", fmt.Errorf("claiming %s: %w", name, err)
	}
	// The source remove is the commit point: both peers can link the same
	// file into their zones, but only one remove succeeds.
	if err := os.Remove(src); err != nil {
		_ = os.Remove(dst)
		return "", ErrClaimLost
	}
	v.record("task_claimed", stem, "", "claimed", string(peer))
	v.logger.Info("claimed", "file", name, "peer", peer)
	return dst, nil
}

// Release returns a claimed file to Needs_Action/ when the owner cannot
// finish it.
func (v *Vault) Release(stem string, peer types.PeerMode) error {
	name, err := findFile(v.PeerDir(peer), stem)
	if err != nil {
		return err
	}
	src := filepath.Join(v.PeerDir(peer), name)
	dst := filepath.Join(v.Dir(types.StageNeedsAction), name)
	if err := renameNoReplace(src, dst); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s in %s", ErrStemExists, stem, types.StageNeedsAction)
		}
		return fmt.Errorf("releasing %s: %w", name, err)
	}
	v.record("task_released", stem, "", "released", string(peer))
	v.logger.Info("released", "file", name, "peer", peer)
	return nil
}

// Archive moves a claimed file from In_Progress/<peer>/ to a terminal
// stage once the owner has finished with it.
func (v *Vault) Archive(stem string, peer types.PeerMode, to types.Stage) error {
	if err := checkTransition(types.StageInProgress, to); err != nil {
		return fmt.Errorf("archiving %s: %w", stem, err)
	}
	name, err := findFile(v.PeerDir(peer), stem)
	if err != nil {
		return err
	}
	src := filepath.Join(v.PeerDir(peer), name)
	dst := filepath.Join(v.Dir(to), name)
	if err := renameNoReplace(src, dst); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s in %s", ErrStemExists, stem, to)
		}
		return fmt.Errorf("archiving %s: %w", name, err)
	}
	v.record("stage_transition", stem, "", string(to), fmt.Sprintf("In_Progress/%s -> %s", peer, to))
	return nil
}

// emitEvent names the audit record for an emission after the note's
// type, so a dropped file logs as file_drop, a mail as email, and so on.
func emitEvent(p types.Preamble) string {
	if p.Type != "" {
		return p.Type
	}
	return "note_emitted"
}

// Emit creates a new note in stage. If the stem collides with an existing
// file, an increasing _N suffix is appended until a free name is found.
// The chosen filename is returned.
func (v *Vault) Emit(stage types.Stage, stem string, p types.Preamble, body string) (string, error) {
	data, err := EncodeNote(p, body)
	if err != nil {
		return "", err
	}
	dir := v.Dir(stage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating stage %s: %w", stage, err)
	}
	for n := 0; ; n++ {
		candidate := stem
		if n > 0 {
			candidate = fmt.Sprintf("%s_%d", stem, n)
		}
		name := candidate + ".md"
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := writeFileAtomic(path, data); err != nil {
			return "", fmt.Errorf("emitting %s: %w", name, err)
		}
		v.record(emitEvent(p), candidate, p.Action, string(stage), p.Type)
		v.logger.Info("emitted", "file", name, "stage", stage, "type", p.Type)
		return name, nil
	}
}

// EmitRaw places an arbitrary payload file (not a note) into a stage,
// applying the same collision suffixing. Used by the filesystem watcher
// to carry dropped files alongside their action notes.
func (v *Vault) EmitRaw(stage types.Stage, filename string, data []byte) (string, error) {
	dir := v.Dir(stage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating stage %s: %w", stage, err)
	}
	ext := filepath.Ext(filename)
	stem := Stem(filename)
	for n := 0; ; n++ {
		candidate := stem
		if n > 0 {
			candidate = fmt.Sprintf("%s_%d", stem, n)
		}
		name := candidate + ext
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := writeFileAtomic(path, data); err != nil {
			return "", fmt.Errorf("emitting %s: %w", name, err)
		}
		return name, nil
	}
}

// Quarantine moves a malformed or policy-violating file to Rejected/ with
// a sibling _error.md record explaining why. The core never silently
// drops a file.
func (v *Vault) Quarantine(stem string, from types.Stage, reason string) error {
	if err := v.Move(stem, from, types.StageRejected); err != nil {
		return err
	}
	sibling := filepath.Join(v.Dir(types.StageRejected), stem+"_error.md")
	content := fmt.Sprintf("# Rejected: %s\n\n- **reason**: %s\n- **when**: %s\n", stem, reason, v.now().Format(time.RFC3339))
	if err := writeFileAtomic(sibling, []byte(content)); err != nil {
		v.logger.Warn("error sibling write failed", "file", stem, "error", err)
	}
	v.record("quarantined", stem, "", "rejected", reason)
	return nil
}

// SweepStale returns to Needs_Action/ every file in In_Progress/<owner>/
// whose modification time is older than ttl, the crash-recovery path a
// peer runs against its opposite number. Swept stems are returned.
func (v *Vault) SweepStale(owner types.PeerMode, ttl time.Duration) ([]string, error) {
	dir := v.PeerDir(owner)
	names, err := listDir(dir)
	if err != nil {
		return nil, err
	}
	cutoff := v.now().Add(-ttl)
	var swept []string
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		src := filepath.Join(dir, name)
		dst := filepath.Join(v.Dir(types.StageNeedsAction), name)
		if err := renameNoReplace(src, dst); err != nil {
			if !os.IsExist(err) {
				v.logger.Warn("stale sweep failed", "file", name, "error", err)
			}
			continue
		}
		stem := Stem(name)
		swept = append(swept, stem)
		v.record("claim_swept", stem, "", "requeued", string(owner))
		v.logger.Info("swept stale claim", "file", name, "owner", owner, "age", v.now().Sub(info.ModTime()))
	}
	return swept, nil
}

// FindStem scans every stage (including the claim directories) for the
// stem and reports where it lives. Used by dedup checks and tests of the
// stem-uniqueness invariant.
func (v *Vault) FindStem(stem string) (types.Stage, string, bool) {
	for _, s := range types.Stages {
		if s == types.StageInProgress || s == types.StageLogs {
			continue
		}
		if name, err := findFile(v.Dir(s), stem); err == nil {
			return s, name, true
		}
	}
	for _, p := range []types.PeerMode{types.PeerLocal, types.PeerCloud} {
		if name, err := findFile(v.PeerDir(p), stem); err == nil {
			return types.StageInProgress, name, true
		}
	}
	return "", "", false
}

// Claimed reports whether the stem is currently held in any peer's
// In_Progress directory.
func (v *Vault) Claimed(stem string) bool {
	for _, p := range []types.PeerMode{types.PeerLocal, types.PeerCloud} {
		if _, err := findFile(v.PeerDir(p), stem); err == nil {
			return true
		}
	}
	return false
}

// HasPriorApproval reports whether an APPROVAL_ record for the stem's
// topic exists in Done/ or Approved/. The policy gate uses it to verify
// that a high-amount action passed through the human approval flow.
func (v *Vault) HasPriorApproval(topic string) bool {
	for _, s := range []types.Stage{types.StageDone, types.StageApproved} {
		names, err := listDir(v.Dir(s))
		if err != nil {
			continue
		}
		for _, name := range names {
			if strings.HasPrefix(name, types.KindApproval+"_") && strings.Contains(name, topic) {
				return true
			}
		}
	}
	return false
}
