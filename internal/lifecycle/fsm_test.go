package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vaultops-systems/vaultops/pkg/types"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to types.NoteStatus
		want     bool
	}{
		{types.StatusPending, types.StatusInProgress, true},
		{types.StatusPending, types.StatusApproved, true},
		{types.StatusInProgress, types.StatusPending, true}, // release path
		{types.StatusInProgress, types.StatusDone, true},
		{types.StatusApproved, types.StatusDone, true},
		{types.StatusApproved, types.StatusRejected, true},
		{types.StatusDone, types.StatusPending, false},
		{types.StatusDone, types.StatusApproved, false},
		{types.StatusRejected, types.StatusPending, false},
		{types.StatusApproved, types.StatusInProgress, false},
		{types.NoteStatus("bogus"), types.StatusDone, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTransition_Error(t *testing.T) {
	assert.NoError(t, Transition(types.StatusPending, types.StatusDone))
	err := Transition(types.StatusDone, types.StatusPending)
	assert.ErrorContains(t, err, "invalid transition")
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(types.StatusDone))
	assert.True(t, IsTerminal(types.StatusRejected))
	assert.False(t, IsTerminal(types.StatusPending))
	assert.False(t, IsTerminal(types.StatusInProgress))
	assert.False(t, IsTerminal(types.StatusApproved))
}
