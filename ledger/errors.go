/*
errors.go - Centralized error taxonomy for the ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers test errors with errors.Is / errors.As, never string matching.

ERROR CATEGORIES:
  1. Input errors     - malformed or non-positive values, never retried
  2. Not found        - unknown batch id, surfaced as-is
  3. Business errors  - insufficient credits/holding, exhausted batch;
                        surfaced verbatim, never retried automatically
  4. Concurrency      - version conflict (internal, retried by the engine)
                        and contention (escalated after retries exhaust,
                        safe for the caller to retry wholesale)

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for malformed requests: non-positive
	// amounts, non-positive prices, empty identifiers or eco-actions.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBatchNotFound is returned when a referenced batch doesn't exist.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrInsufficientCredits is returned when a purchase exceeds the
	// batch's available amount.
	ErrInsufficientCredits = errors.New("insufficient credits available")

	// ErrBatchExhausted is returned when purchasing from a SOLD batch.
	ErrBatchExhausted = errors.New("batch exhausted")

	// ErrInsufficientHolding is returned when a retirement exceeds the
	// buyer's retirable balance for the batch.
	ErrInsufficientHolding = errors.New("insufficient holding")

	// ErrVersionConflict is returned by CompareAndUpdate when the stored
	// version no longer matches. The engine retries against fresh state;
	// callers should never see this directly.
	ErrVersionConflict = errors.New("version conflict")

	// ErrContention is returned after the engine exhausts its retry budget.
	// The operation is not partially applied and is safe to retry wholesale.
	ErrContention = errors.New("contention: retries exhausted")

	// ErrDuplicateBatch is returned when creating a batch with an id that
	// already exists in the store.
	ErrDuplicateBatch = errors.New("duplicate batch id")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCreditsError reports how far a purchase overshot availability.
type InsufficientCreditsError struct {
	BatchID   BatchID
	Available Amount
	Requested Amount
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits in batch %s: available %s, requested %s",
		e.BatchID, e.Available, e.Requested)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// InsufficientHoldingError reports how far a retirement overshot the holding.
type InsufficientHoldingError struct {
	BatchID   BatchID
	BuyerID   BuyerID
	Retirable Amount
	Requested Amount
}

func (e *InsufficientHoldingError) Error() string {
	return fmt.Sprintf("insufficient holding for buyer %s in batch %s: retirable %s, requested %s",
		e.BuyerID, e.BatchID, e.Retirable, e.Requested)
}

func (e *InsufficientHoldingError) Unwrap() error { return ErrInsufficientHolding }

// InputError carries the field that failed validation.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on a wholesale retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}

// IsClientError returns true if the error is due to the caller's request
// rather than a storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrBatchExhausted) ||
		errors.Is(err, ErrInsufficientHolding)
}

// IsNotFound returns true if the error indicates a missing batch.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBatchNotFound)
}
