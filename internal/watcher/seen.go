package watcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// seenCap bounds the persisted dedup window. Oldest ids age out first;
// a source whose backlog exceeds this will re-emit, which the stem
// collision suffix makes safe.
const seenCap = 1000

// seenSet is the per-watcher dedup ledger, persisted as a dot-file
// sidecar in the vault root so it survives restarts but never shows up
// in stage listings.
type seenSet struct {
	mu    sync.Mutex
	path  string
	order []string
	ids   map[string]struct{}
}

func newSeenSet(vaultRoot, name string) *seenSet {
	s := &seenSet{
		path: filepath.Join(vaultRoot, ".seen_"+name+".json"),
		ids:  make(map[string]struct{}),
	}
	s.load()
	return s
}

// load reads the sidecar. A missing or corrupt file starts empty: the
// worst case is one duplicate emission per item.
func (s *seenSet) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var order []string
	if err := json.Unmarshal(raw, &order); err != nil {
		return
	}
	s.order = order
	for _, id := range order {
		s.ids[id] = struct{}{}
	}
}

func (s *seenSet) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	for len(s.order) > seenCap {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *seenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Save persists the ledger with a temp-file rename so a crash never
// leaves a half-written sidecar.
func (s *seenSet) Save() error {
	s.mu.Lock()
	raw, err := json.Marshal(s.order)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshaling seen set: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing seen set: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing seen set: %w", err)
	}
	return nil
}
