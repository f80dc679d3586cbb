package models

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to the HTTP layer. The layer maps each kind to a
// standardized response; the core itself never retries.
var (
	// ErrorStructuralIntegrity wraps pre-save rule violations (parent
	// coherence, ownership coherence, uniqueness). Fatal; rolls back.
	ErrorStructuralIntegrity = errors.New("structural integrity violation")

	// ErrorConcurrentDeletion is an attempt to delete an already-deleted
	// row. Strict single-row deletes fail with it; lenient bulk deletes
	// swallow it so bulk delete stays idempotent under concurrent editing.
	ErrorConcurrentDeletion = errors.New("row already deleted")

	// ErrorOrderKey means the row-key service saw impossible bounds, which
	// indicates corrupted sibling keys. Fatal and logged.
	ErrorOrderKey = errors.New("invalid order key bounds")

	// ErrorRecomputation means a required child relationship is both absent
	// and not listed for deletion. Fatal.
	ErrorRecomputation = errors.New("recomputation failed")

	// ErrorCache marks a failed cache write. Non-fatal; logged and
	// swallowed by the cache coordinator.
	ErrorCache = errors.New("cache write failed")
)

func structuralError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrorStructuralIntegrity, fmt.Sprintf(format, args...))
}

func orderKeyError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrorOrderKey, fmt.Sprintf(format, args...))
}

func recomputationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrorRecomputation, fmt.Sprintf(format, args...))
}
