// Package fswatch turns files dropped into Inbox/ into FILE action
// notes. The dropped file itself is copied into Needs_Action/ as a
// payload sidecar and the original is consumed.
package fswatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/internal/watcher"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// Keyword buckets checked against the dropped filename, highest
// priority first.
var priorityKeywords = []struct {
	priority types.Priority
	words    []string
}{
	{types.P0, []string{"urgent", "asap", "emergency"}},
	{types.P1, []string{"invoice", "payment", "contract"}},
	{types.P2, []string{"review", "report", "proposal"}},
}

// DetectPriority maps filename keywords to a priority, defaulting to P3.
func DetectPriority(name string) types.Priority {
	lower := strings.ToLower(name)
	for _, bucket := range priorityKeywords {
		for _, w := range bucket.words {
			if strings.Contains(lower, w) {
				return bucket.priority
			}
		}
	}
	return types.P3
}

var kindByExt = map[string]string{
	".pdf":  "document",
	".doc":  "document",
	".docx": "document",
	".xls":  "spreadsheet",
	".xlsx": "spreadsheet",
	".csv":  "spreadsheet",
	".png":  "image",
	".jpg":  "image",
	".jpeg": "image",
	".md":   "text",
	".txt":  "text",
}

func fileKind(name string) string {
	if k, ok := kindByExt[strings.ToLower(filepath.Ext(name))]; ok {
		return k
	}
	return "file"
}

// Source polls the vault's Inbox directory.
type Source struct {
	vault  *vault.Vault
	logger *slog.Logger
	now    func() time.Time

	maxSize int64
}

// New creates an Inbox source. Files larger than maxSize bytes are left
// in place and reported once via the seen set; 0 means 25 MiB.
func New(v *vault.Vault, logger *slog.Logger, maxSize int64) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize <= 0 {
		maxSize = 25 << 20
	}
	return &Source{vault: v, logger: logger, now: time.Now, maxSize: maxSize}
}

func (s *Source) Name() string { return "fswatch" }

// Poll lists Inbox/ and builds one item per dropped file. The identity
// includes size and mtime so a re-dropped file with the same name is
// treated as new.
func (s *Source) Poll(ctx context.Context) ([]watcher.Item, error) {
	dir := s.vault.Dir(types.StageInbox)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading inbox: %w", err)
	}

	var items []watcher.Item
	for _, entry := range entries {
		if ctx.Err() != nil {
			return items, ctx.Err()
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name)
		id := fmt.Sprintf("%s|%d|%d", name, info.Size(), info.ModTime().UnixNano())

		if info.Size() > s.maxSize {
			s.logger.Warn("inbox file too large, skipping", "file", name, "size", info.Size())
			continue
		}

		payload, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("inbox file unreadable", "file", name, "error", err)
			continue
		}

		now := s.now()
		stem := vault.NewStem(types.KindFile, strings.TrimSuffix(name, filepath.Ext(name)), now)
		priority := DetectPriority(name)
		items = append(items, watcher.Item{
			ID:   id,
			Stem: stem,
			Preamble: types.Preamble{
				Type:       types.TypeFileDrop,
				Priority:   priority,
				Status:     types.StatusPending,
				Created:    now,
				Source:     s.Name(),
				SourceFile: name,
			},
			Body: fmt.Sprintf("New %s dropped into the inbox: %s (%d bytes).\n\nPayload copied alongside this note. Decide what to do with it.\n",
				fileKind(name), name, info.Size()),
			PayloadName: stem + "_payload" + filepath.Ext(name),
			Payload:     payload,
			Ack: func() error {
				return os.Remove(path)
			},
		})
	}
	return items, nil
}

// Notify opens an fsnotify watch on Inbox/ and forwards create and
// write events to the returned wake channel. The caller passes it as
// the runner's Wake; the ticker stays as the fallback for platforms or
// mounts where inotify is unreliable.
func (s *Source) Notify(ctx context.Context) (<-chan struct{}, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("opening fsnotify watcher: %w", err)
	}
	if err := fw.Add(s.vault.Dir(types.StageInbox)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching inbox: %w", err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
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
				s.logger.Warn("fsnotify error", "error", err)
			}
		}
	}()
	return wake, nil
}
