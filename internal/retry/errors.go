package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/vaultops-systems/vaultops/pkg/types"
)

// Error attaches a failure category to an underlying error.
type Error struct {
	Category types.FailureCategory
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient marks err as retryable (network, 5xx, rate-limited upstream).
func Transient(err error) error {
	return &Error{Category: types.FailureTransient, Err: err}
}

// Permanent marks err as non-retryable (auth, schema, parse).
func Permanent(err error) error {
	return &Error{Category: types.FailurePermanent, Err: err}
}

// Policy marks err as a handbook-rule violation; never retried.
func Policy(err error) error {
	return &Error{Category: types.FailurePolicy, Err: err}
}

// Integrity marks err as a vault-consistency problem (stem collision,
// unreadable preamble); the file is quarantined, not retried.
func Integrity(err error) error {
	return &Error{Category: types.FailureIntegrity, Err: err}
}

// Categorize extracts the failure category from err. Deadline errors map
// to TIMEOUT; anything unclassified is treated as transient, which errs
// on the side of retrying.
func Categorize(err error) types.FailureCategory {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.FailureTimeout
	}
	return types.FailureTransient
}
