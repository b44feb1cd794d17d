// Package errs collects the sentinel errors shared across ledgertree's
// packages, in the same spirit as sokv's errno.go.
package errs

import "errors"

var (
	// ErrDuplicateKey names an insert that targets a key already present
	// in the tree. AccountTree and Ledger do not return it: Insert
	// reports a duplicate as a false result with a nil error.
	ErrDuplicateKey = errors.New("ledgertree: duplicate key")

	// ErrNotFound names an update, delete, or read against a key that
	// does not exist in the tree. AccountTree and Ledger do not return
	// it: they report a missing key as a false result with a nil error.
	ErrNotFound = errors.New("ledgertree: not found")

	// ErrSaturated is returned by AdjustKey when a (account, date) pair
	// has already issued the maximum uint32 sequence.
	ErrSaturated = errors.New("ledgertree: sequence space saturated for day")

	// ErrInvariantViolation marks a contract violation that must not be
	// recovered from: a leaf-only operation invoked on an internal node
	// or vice versa, a corrupted on-disk blob, or a parent locator that
	// failed to find a child known to be live.
	ErrInvariantViolation = errors.New("ledgertree: invariant violation")

	// ErrStorageFault wraps an I/O failure surfaced during Save or Load.
	ErrStorageFault = errors.New("ledgertree: storage fault")
)
