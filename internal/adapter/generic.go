package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vaultops-systems/vaultops/internal/vault"
	"github.com/vaultops-systems/vaultops/pkg/types"
)

// Generic is the fallback for approved notes no other adapter claims.
// It writes a manual-action notice back into Needs_Action/ so the task
// stays visible, and reports the original as handled so the router
// archives it.
type Generic struct {
	vault  *vault.Vault
	logger *slog.Logger
	now    func() time.Time
}

// NewGeneric creates the fallback adapter.
func NewGeneric(v *vault.Vault, logger *slog.Logger) *Generic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generic{vault: v, logger: logger, now: time.Now}
}

func (g *Generic) Name() string { return "generic" }

func (g *Generic) Channel(*vault.Note) string { return "" }

func (g *Generic) Dispatch(_ context.Context, note *vault.Note) (types.Outcome, error) {
	now := g.now()
	stem := vault.NewStem("NEEDS_MANUAL_ACTION", note.Stem(), now)
	p := types.Preamble{
		Type:       types.TypeManualAction,
		Priority:   note.Preamble.Priority,
		Status:     types.StatusPending,
		Created:    now,
		Source:     g.Name(),
		SourceFile: note.Filename,
	}
	body := fmt.Sprintf("No automated handler exists for %s (type %q, action %q).\n\nOriginal content follows.\n\n---\n\n%s",
		note.Filename, note.Preamble.Type, note.Preamble.Action, note.Body)
	if _, err := g.vault.Emit(types.StageNeedsAction, stem, p, body); err != nil {
		return types.OutcomeDeferred, fmt.Errorf("writing manual-action notice: %w", err)
	}
	g.logger.Info("manual-action notice written", "file", note.Filename)
	return types.OutcomeSkipped, nil
}
