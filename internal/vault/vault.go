// Package vault implements the directory-as-queue protocol: the canonical
// stage layout, action-note frontmatter, and the move/claim/release/emit
// primitives. The filesystem rename is the only concurrency primitive;
// every rename is the commit point of its transition.
package vault

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vaultops-systems/vaultops/pkg/types"
)

// Singleton files at the vault root.
const (
	DashboardFile = "Dashboard.md"
	HandbookFile  = "Company_Handbook.md"
	GoalsFile     = "Business_Goals.md"
)

// Dashboard fence markers delimiting the region the signal merge rewrites.
const (
	CloudRegionBegin = "<!-- cloud:begin -->"
	CloudRegionEnd   = "<!-- cloud:end -->"
)

// Recorder receives one audit record per stage transition the vault
// performs.
type Recorder interface {
	Append(types.Event) error
}

// Vault is a rooted stage tree. All methods are safe for use from
// multiple processes: cross-process coordination relies on rename
// atomicity, not locks.
type Vault struct {
	root   string
	actor  string
	rec    Recorder
	logger *slog.Logger
	now    func() time.Time
}

// New opens a vault rooted at root. Transitions are audited to rec on
// behalf of actor; rec may be nil.
func New(root, actor string, rec Recorder, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		root:   root,
		actor:  actor,
		rec:    rec,
		logger: logger,
		now:    time.Now,
	}
}

// Root returns the vault root path.
func (v *Vault) Root() string { return v.root }

// Dir returns the absolute path of a stage directory.
func (v *Vault) Dir(stage types.Stage) string {
	return filepath.Join(v.root, string(stage))
}

// PeerDir returns In_Progress/<peer>.
func (v *Vault) PeerDir(peer types.PeerMode) string {
	return filepath.Join(v.root, string(types.StageInProgress), string(peer))
}

// LogsDir returns the Logs stage path.
func (v *Vault) LogsDir() string { return v.Dir(types.StageLogs) }

// Ensure creates any missing stage directories, the per-peer claim
// directories, and the singleton files.
func (v *Vault) Ensure() error {
	if _, err := os.Stat(v.root); err != nil {
		return fmt.Errorf("vault root: %w", err)
	}
	for _, s := range types.Stages {
		if err := os.MkdirAll(v.Dir(s), 0o755); err != nil {
			return fmt.Errorf("creating stage %s: %w", s, err)
		}
	}
	for _, p := range []types.PeerMode{types.PeerLocal, types.PeerCloud} {
		if err := os.MkdirAll(v.PeerDir(p), 0o755); err != nil {
			return fmt.Errorf("creating claim dir %s: %w", p, err)
		}
	}
	singletons := map[string]string{
		DashboardFile: "# Dashboard\n\n" + CloudRegionBegin + "\n" + CloudRegionEnd + "\n",
		HandbookFile:  "# Company Handbook\n",
		GoalsFile:     "# Business Goals\n",
	}
	for name, content := range singletons {
		path := filepath.Join(v.root, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := writeFileAtomic(path, []byte(content)); err != nil {
				return fmt.Errorf("creating %s: %w", name, err)
			}
		}
	}
	return nil
}

// List returns the filenames present in a stage, ascending. Hidden files
// and .gitkeep are skipped.
func (v *Vault) List(stage types.Stage) ([]string, error) {
	return listDir(v.Dir(stage))
}

// ListPeer returns the filenames claimed by a peer, ascending.
func (v *Vault) ListPeer(peer types.PeerMode) ([]string, error) {
	return listDir(v.PeerDir(peer))
}

func listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || name == ".gitkeep" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (v *Vault) record(eventType, file, action, result, detail string) {
	if v.rec == nil {
		return
	}
	err := v.rec.Append(types.Event{
		EventType: eventType,
		Actor:     v.actor,
		File:      file,
		Action:    action,
		Result:    result,
		Detail:    detail,
	})
	if err != nil {
		v.logger.Warn("audit append failed", "event", eventType, "file", file, "error", err)
	}
}

// writeFileAtomic writes data to a temp file in the target's directory
// and renames it over path, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// WriteSingleton atomically replaces one of the vault-root singleton
// files (Dashboard, handbook, goals). Stage files are never rewritten in
// place; this path exists only for the rolling singletons.
func (v *Vault) WriteSingleton(name string, data []byte) error {
	return writeFileAtomic(filepath.Join(v.root, name), data)
}

// ReadSingleton reads a vault-root singleton file.
func (v *Vault) ReadSingleton(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(v.root, name))
}
