/*
Package ledger provides the credit batch ledger engine.

PURPOSE:
  This package contains the domain types and algorithms for tracking
  tokenized carbon credit batches: how much of each batch remains
  available, how much has been sold and to whom, and how much has been
  irreversibly retired against a declared eco-action.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A decimal quantity of credits (or currency)
  - CreditBatch: A quantity of credits issued in one act to one producer
  - TransactionRecord: Immutable record of one purchase
  - RetirementRecord: Immutable record of one retirement
  - Holding: A buyer's unretired balance for one batch (derived, never stored)

DESIGN PRINCIPLES:
  1. Immutability: Records are never modified after creation
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Derivation: Batch status and holdings are computed, never set directly
  4. Auditability: Holdings are always derivable from the two append-only logs

INVARIANTS:
  - Available + Sold == Issued for every batch, at every observable point
  - Status is a pure function of the balances (see DeriveStatus)
  - Per (batch, buyer), retired total never exceeds purchased total
  - Retirement never mutates batch balances - it consumes a holding

SEE ALSO:
  - engine.go: Purchase and retirement protocols
  - store.go: Persistence interfaces
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Decimal credit quantity
// =============================================================================

// Amount is a quantity of credits or currency. Decimal-backed so that
// partial-credit purchases and price math never accumulate float error.
type Amount = decimal.Decimal

func NewAmount(v float64) Amount    { return decimal.NewFromFloat(v) }
func NewAmountFromInt(v int) Amount { return decimal.NewFromInt(int64(v)) }

// MustParseAmount parses a decimal string, returning zero on failure.
func MustParseAmount(s string) Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BatchID string
type ProducerID string
type BuyerID string
type TransactionID string
type RetirementID string

// =============================================================================
// CREDIT BATCH - The only mutable row in the system
// =============================================================================

// BatchStatus is derived from balances, never set directly.
type BatchStatus string

const (
	// StatusIssued means no credits have been sold yet (Available == Issued).
	StatusIssued BatchStatus = "ISSUED"

	// StatusPartiallySold means 0 < Available < Issued.
	StatusPartiallySold BatchStatus = "PARTIALLY_SOLD"

	// StatusSold means the batch is exhausted (Available == 0).
	// A sold batch accepts no further purchases but remains queryable forever.
	StatusSold BatchStatus = "SOLD"
)

// CreditBatch is a discrete quantity of carbon credits issued in one act
// to one producer. ProducerID, IssuedAmount and PricePerCredit are immutable
// after creation; only successful purchases mutate the balance fields, and
// only through BatchStore.CompareAndUpdate.
type CreditBatch struct {
	ID         BatchID
	ProducerID ProducerID

	IssuedAmount    Amount // total minted, > 0, immutable
	AvailableAmount Amount // not yet sold, 0 <= Available <= Issued
	SoldAmount      Amount // cumulative transferred to buyers

	PricePerCredit Amount // set at issuance, no re-pricing
	Status         BatchStatus

	// Version increments on every committed balance change. The optimistic
	// compare-and-update check against this field is the serialization point
	// for concurrent purchases.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeriveStatus returns the status implied by the balances.
func DeriveStatus(issued, available Amount) BatchStatus {
	switch {
	case available.IsZero():
		return StatusSold
	case available.Equal(issued):
		return StatusIssued
	default:
		return StatusPartiallySold
	}
}

// Purchasable reports whether the batch can still accept purchases.
func (b *CreditBatch) Purchasable() bool {
	return b.Status != StatusSold
}

// Clone returns a deep copy. Stores hand out clones so that readers can
// never observe a torn or later-mutated batch.
func (b *CreditBatch) Clone() *CreditBatch {
	c := *b
	return &c
}

// =============================================================================
// TRANSACTION RECORD - Immutable, one per successful purchase
// =============================================================================

// TransactionRecord is the append-only audit record of one purchase.
// PricePerCredit is copied from the batch at the time of sale so that the
// record stays self-contained if pricing models ever change.
type TransactionRecord struct {
	ID             TransactionID
	BatchID        BatchID
	BuyerID        BuyerID
	Amount         Amount
	PricePerCredit Amount
	TotalPrice     Amount // Amount * PricePerCredit, computed at creation
	CreatedAt      time.Time
}

// =============================================================================
// RETIREMENT RECORD - Immutable, one per retirement action
// =============================================================================

// RetirementRecord is the append-only proof that a buyer irreversibly
// consumed held credits against a stated environmental action.
type RetirementRecord struct {
	ID        RetirementID
	BatchID   BatchID
	BuyerID   BuyerID
	Amount    Amount
	EcoAction string // non-empty description of the eco-action
	CreatedAt time.Time
}

// =============================================================================
// HOLDING - Derived per (batch, buyer), never stored as its own row
// =============================================================================

// Holding is a buyer's position in one batch, computed from the two logs.
// Keeping it derived avoids a second source of truth that could drift from
// the append-only records.
type Holding struct {
	BatchID   BatchID
	BuyerID   BuyerID
	Purchased Amount // sum of TransactionRecord.Amount for the pair
	Retired   Amount // sum of RetirementRecord.Amount for the pair
	Retirable Amount // Purchased - Retired
}
