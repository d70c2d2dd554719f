package adapter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ledgerCap bounds the persisted window of dispatched stems.
const ledgerCap = 2000

// Ledger remembers which stems have already been dispatched so a crash
// between external call and archive rename does not repeat the side
// effect. Persisted as a vault-root dot-file sidecar.
type Ledger struct {
	mu    sync.Mutex
	path  string
	order []string
	stems map[string]struct{}
}

// NewLedger loads (or starts) the dispatch ledger for a vault root.
func NewLedger(vaultRoot string) *Ledger {
	l := &Ledger{
		path:  filepath.Join(vaultRoot, ".dispatched.json"),
		stems: make(map[string]struct{}),
	}
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return l
	}
	var order []string
	if err := json.Unmarshal(raw, &order); err != nil {
		return l
	}
	l.order = order
	for _, s := range order {
		l.stems[s] = struct{}{}
	}
	return l
}

// Dispatched reports whether the stem's side effect already happened.
func (l *Ledger) Dispatched(stem string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.stems[stem]
	return ok
}

// Record marks the stem dispatched and persists the ledger.
func (l *Ledger) Record(stem string) error {
	l.mu.Lock()
	if _, ok := l.stems[stem]; !ok {
		l.stems[stem] = struct{}{}
		l.order = append(l.order, stem)
		for len(l.order) > ledgerCap {
			delete(l.stems, l.order[0])
			l.order = l.order[1:]
		}
	}
	raw, err := json.Marshal(l.order)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshaling ledger: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}
