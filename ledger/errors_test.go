package ledger_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdant/carbon-ledger/ledger"
)

func TestStructuredErrorsUnwrapToSentinels(t *testing.T) {
	var err error = &ledger.InsufficientCreditsError{
		BatchID:   "b-1",
		Available: ledger.NewAmount(50),
		Requested: ledger.NewAmount(51),
	}
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)
	assert.Contains(t, err.Error(), "b-1")

	err = &ledger.InsufficientHoldingError{
		BatchID:   "b-1",
		BuyerID:   "company-a",
		Retirable: ledger.NewAmount(40),
		Requested: ledger.NewAmount(41),
	}
	assert.ErrorIs(t, err, ledger.ErrInsufficientHolding)

	err = &ledger.InputError{Field: "amount", Reason: "must be positive"}
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	assert.Contains(t, err.Error(), "amount")
}

func TestErrorsAsRecoversDetail(t *testing.T) {
	// Wrapping must not hide the structured detail from errors.As.
	wrapped := fmt.Errorf("purchase failed: %w", &ledger.InsufficientCreditsError{
		BatchID:   "b-1",
		Available: ledger.NewAmount(50),
		Requested: ledger.NewAmount(60),
	})

	var detail *ledger.InsufficientCreditsError
	require.True(t, errors.As(wrapped, &detail))
	assert.True(t, detail.Available.Equal(ledger.NewAmount(50)))
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, ledger.IsRetryable(ledger.ErrContention))
	assert.False(t, ledger.IsRetryable(ledger.ErrInsufficientCredits))

	assert.True(t, ledger.IsClientError(ledger.ErrInvalidInput))
	assert.True(t, ledger.IsClientError(ledger.ErrBatchExhausted))
	assert.True(t, ledger.IsClientError(&ledger.InsufficientHoldingError{}))
	assert.False(t, ledger.IsClientError(ledger.ErrContention))
	assert.False(t, ledger.IsClientError(errors.New("disk on fire")))

	assert.True(t, ledger.IsNotFound(ledger.ErrBatchNotFound))
	assert.False(t, ledger.IsNotFound(ledger.ErrInvalidInput))
}
