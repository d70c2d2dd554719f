package vault

import "errors"

var (
	// ErrClaimLost is returned when a claim's source file vanished before
	// the rename: another peer won the race. Never retried.
	ErrClaimLost = errors.New("claim lost")

	// ErrStemExists is returned when a move's destination filename is
	// already present. Moves never overwrite.
	ErrStemExists = errors.New("stem already present in destination")

	// ErrNotFound is returned when no file with the given stem exists in
	// the source stage.
	ErrNotFound = errors.New("stem not found")

	// ErrBadPreamble marks an unreadable or unparseable note head; the
	// file is quarantined rather than retried.
	ErrBadPreamble = errors.New("unreadable preamble")
)
