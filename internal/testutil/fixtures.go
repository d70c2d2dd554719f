package testutil

import (
	"sync"
	"testing"

	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// Recorder collects audit events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *Recorder) Append(e types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything appended so far.
func (r *Recorder) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByType returns appended events matching the given event type.
func (r *Recorder) ByType(eventType string) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Event
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// NewVault builds a fully initialized vault under a test temp dir.
func NewVault(t *testing.T) (*vault.Vault, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	v := vault.New(t.TempDir(), "test", rec, nil)
	if err := v.Ensure(); err != nil {
		t.Fatalf("vault setup: %v", err)
	}
	return v, rec
}
