// Package lifecycle implements the action-note status state machine.
package lifecycle

import (
	"fmt"

	"github.com/vaultops-systems/vaultops/pkg/types"
)

// Transition table: from -> allowed tos
var validTransitions = map[types.NoteStatus][]types.NoteStatus{
	types.StatusPending:    {types.StatusInProgress, types.StatusApproved, types.StatusDone, types.StatusRejected},
	types.StatusInProgress: {types.StatusPending, types.StatusApproved, types.StatusDone, types.StatusRejected},
	types.StatusApproved:   {types.StatusDone, types.StatusRejected},
	types.StatusDone:       {},
	types.StatusRejected:   {},
}

// CanTransition checks if moving from one note status to another is valid.
// An in_progress note may return to pending: that is the release path when
// a peer claims outside its work zone.
func CanTransition(from, to types.NoteStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates the move, returning an error if it is invalid.
func Transition(from, to types.NoteStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if the status is final.
func IsTerminal(status types.NoteStatus) bool {
	return status == types.StatusDone || status == types.StatusRejected
}
