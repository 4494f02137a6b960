/*
engine.go - The purchase and retirement state machine

PURPOSE:
  The Engine is the only component permitted to mutate batch balances.
  It enforces the purchase protocol (optimistic compare-and-update with a
  bounded retry loop) and the retirement protocol (per-holding
  serialization over the two append-only logs).

PURCHASE PROTOCOL:
  1. Read batch, validate amount against availability and status
  2. Inside one store transaction:
       - CompareAndUpdate the balances against the version just read
       - Append the TransactionRecord
     Either both commit or neither does.
  3. On ErrVersionConflict, re-read and retry; after MaxAttempts, fail
     with ErrContention (safe for the caller to retry wholesale).

RETIREMENT PROTOCOL:
  Retirement never touches batch balances - a sale is final, retirement
  consumes the buyer's holding. The holding is derived from two
  append-only logs, so the read-validate-append sequence is serialized
  per (batch, buyer) with a keyed lock. Without it, two concurrent
  retirements could both read a stale holding and together overspend it.

PROOF ANCHORING:
  Committed records are optionally handed to an Anchor for external
  proof mirroring. Anchoring is fire-and-forget: it runs after commit
  and can never block or roll back the core write.

SEE ALSO:
  - store.go: CompareAndUpdate and WithTx contracts
  - stats.go: Read-only rollups over the same stores
  - anchor (top-level package): Best-effort Anchor implementation
*/
package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxAttempts bounds the purchase retry loop. Contention on a single
// batch resolves in one or two retries in practice; five keeps the worst
// case bounded without failing eager buyers during a rush.
const DefaultMaxAttempts = 5

// Anchor receives committed records for external proof mirroring.
// Implementations must not block: failures are retried out-of-band and
// never surface to the committing request.
type Anchor interface {
	AnchorTransaction(rec *TransactionRecord)
	AnchorRetirement(rec *RetirementRecord)
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine enforces the batch lifecycle. Create one per process and share it;
// all methods are safe for concurrent use.
type Engine struct {
	Store Store

	// Anchor, if non-nil, receives every committed record. Optional.
	Anchor Anchor

	// Log defaults to the logrus standard logger.
	Log *logrus.Logger

	// MaxAttempts bounds the purchase retry loop.
	MaxAttempts int

	now      func() time.Time
	retireMu keyedMutex
}

// NewEngine creates an engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{
		Store:       store,
		Log:         logrus.StandardLogger(),
		MaxAttempts: DefaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// ISSUE
// =============================================================================

// Issue mints a new batch for a producer. The caller is responsible for
// having checked producer verification beforehand; the engine trusts the
// identity as given.
func (e *Engine) Issue(ctx context.Context, producerID ProducerID, issuedAmount, pricePerCredit Amount) (*CreditBatch, error) {
	if strings.TrimSpace(string(producerID)) == "" {
		return nil, &InputError{Field: "producerId", Reason: "must not be empty"}
	}
	if !issuedAmount.IsPositive() {
		return nil, &InputError{Field: "issuedAmount", Reason: "must be positive"}
	}
	if !pricePerCredit.IsPositive() {
		return nil, &InputError{Field: "pricePerCredit", Reason: "must be positive"}
	}

	now := e.now()
	batch := &CreditBatch{
		ID:              BatchID(uuid.NewString()),
		ProducerID:      producerID,
		IssuedAmount:    issuedAmount,
		AvailableAmount: issuedAmount,
		SoldAmount:      NewAmountFromInt(0),
		PricePerCredit:  pricePerCredit,
		Status:          StatusIssued,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.Store.Batches().Create(ctx, batch); err != nil {
		return nil, err
	}

	batchesIssuedTotal.Inc()
	e.Log.WithFields(logrus.Fields{
		"batch_id":    batch.ID,
		"producer_id": producerID,
		"issued":      issuedAmount.String(),
	}).Info("batch issued")

	return batch.Clone(), nil
}

// =============================================================================
// PURCHASE
// =============================================================================

// Purchase transfers amount credits from the batch to the buyer. Returns the
// updated batch and the new transaction record.
//
// Errors: ErrInvalidInput, ErrBatchNotFound, ErrBatchExhausted,
// ErrInsufficientCredits, ErrContention.
func (e *Engine) Purchase(ctx context.Context, batchID BatchID, buyerID BuyerID, amount Amount) (*CreditBatch, *TransactionRecord, error) {
	if strings.TrimSpace(string(buyerID)) == "" {
		return nil, nil, &InputError{Field: "buyerId", Reason: "must not be empty"}
	}
	if !amount.IsPositive() {
		return nil, nil, &InputError{Field: "amount", Reason: "must be positive"}
	}

	for attempt := 0; attempt < e.MaxAttempts; attempt++ {
		batch, err := e.Store.Batches().Get(ctx, batchID)
		if err != nil {
			return nil, nil, err
		}
		if !batch.Purchasable() {
			return nil, nil, ErrBatchExhausted
		}
		if amount.GreaterThan(batch.AvailableAmount) {
			return nil, nil, &InsufficientCreditsError{
				BatchID:   batchID,
				Available: batch.AvailableAmount,
				Requested: amount,
			}
		}

		rec := &TransactionRecord{
			ID:             TransactionID(uuid.NewString()),
			BatchID:        batchID,
			BuyerID:        buyerID,
			Amount:         amount,
			PricePerCredit: batch.PricePerCredit,
			TotalPrice:     amount.Mul(batch.PricePerCredit),
			CreatedAt:      e.now(),
		}

		// Balance update and log append are one logical unit: either both
		// are visible afterwards, or neither is.
		var updated *CreditBatch
		err = e.Store.WithTx(ctx, func(s Store) error {
			updated, err = s.Batches().CompareAndUpdate(ctx, batchID, batch.Version, func(b *CreditBatch) error {
				b.AvailableAmount = b.AvailableAmount.Sub(amount)
				b.SoldAmount = b.SoldAmount.Add(amount)
				b.Status = DeriveStatus(b.IssuedAmount, b.AvailableAmount)
				return nil
			})
			if err != nil {
				return err
			}
			return s.Transactions().Append(ctx, rec)
		})

		if errors.Is(err, ErrVersionConflict) {
			// Another purchaser committed first. Retry on fresh state.
			contentionRetriesTotal.Inc()
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		purchasesTotal.Inc()
		e.Log.WithFields(logrus.Fields{
			"batch_id": batchID,
			"buyer_id": buyerID,
			"amount":   amount.String(),
			"tx_id":    rec.ID,
			"status":   updated.Status,
		}).Info("purchase committed")

		if e.Anchor != nil {
			e.Anchor.AnchorTransaction(rec)
		}
		return updated, rec, nil
	}

	e.Log.WithFields(logrus.Fields{
		"batch_id": batchID,
		"buyer_id": buyerID,
	}).Warn("purchase gave up after max attempts")
	return nil, nil, ErrContention
}

// =============================================================================
// RETIRE
// =============================================================================

// Retire irreversibly consumes amount credits from the buyer's holding in the
// batch, recorded against the stated eco-action. Batch balances are untouched:
// a sale is final, retirement is a downstream consumption event.
//
// Errors: ErrInvalidInput, ErrBatchNotFound, ErrInsufficientHolding.
func (e *Engine) Retire(ctx context.Context, batchID BatchID, buyerID BuyerID, amount Amount, ecoAction string) (*RetirementRecord, error) {
	if strings.TrimSpace(string(buyerID)) == "" {
		return nil, &InputError{Field: "buyerId", Reason: "must not be empty"}
	}
	if !amount.IsPositive() {
		return nil, &InputError{Field: "amount", Reason: "must be positive"}
	}
	if strings.TrimSpace(ecoAction) == "" {
		return nil, &InputError{Field: "ecoAction", Reason: "must not be empty"}
	}

	// The holding is derived from two append-only logs. Hold the per-key
	// lock across read-validate-append so two concurrent retirements cannot
	// both spend the same stale balance.
	unlock := e.retireMu.Lock(holdingKey(batchID, buyerID))
	defer unlock()

	if _, err := e.Store.Batches().Get(ctx, batchID); err != nil {
		return nil, err
	}

	holding, err := e.Holding(ctx, batchID, buyerID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(holding.Retirable) {
		return nil, &InsufficientHoldingError{
			BatchID:   batchID,
			BuyerID:   buyerID,
			Retirable: holding.Retirable,
			Requested: amount,
		}
	}

	rec := &RetirementRecord{
		ID:        RetirementID(uuid.NewString()),
		BatchID:   batchID,
		BuyerID:   buyerID,
		Amount:    amount,
		EcoAction: ecoAction,
		CreatedAt: e.now(),
	}
	if err := e.Store.Retirements().Append(ctx, rec); err != nil {
		return nil, err
	}

	retirementsTotal.Inc()
	e.Log.WithFields(logrus.Fields{
		"batch_id":   batchID,
		"buyer_id":   buyerID,
		"amount":     amount.String(),
		"eco_action": ecoAction,
	}).Info("retirement committed")

	if e.Anchor != nil {
		e.Anchor.AnchorRetirement(rec)
	}
	return rec, nil
}

// =============================================================================
// DERIVED READS
// =============================================================================

// Holding computes the buyer's position in a batch from the two logs.
func (e *Engine) Holding(ctx context.Context, batchID BatchID, buyerID BuyerID) (Holding, error) {
	purchases, err := e.Store.Transactions().ListByHolder(ctx, batchID, buyerID)
	if err != nil {
		return Holding{}, err
	}
	retirements, err := e.Store.Retirements().ListByHolder(ctx, batchID, buyerID)
	if err != nil {
		return Holding{}, err
	}

	h := Holding{
		BatchID:   batchID,
		BuyerID:   buyerID,
		Purchased: NewAmountFromInt(0),
		Retired:   NewAmountFromInt(0),
	}
	for _, p := range purchases {
		h.Purchased = h.Purchased.Add(p.Amount)
	}
	for _, r := range retirements {
		h.Retired = h.Retired.Add(r.Amount)
	}
	h.Retirable = h.Purchased.Sub(h.Retired)
	return h, nil
}

// ListPurchasable returns batches that can still accept purchases
// (status ISSUED or PARTIALLY_SOLD).
func (e *Engine) ListPurchasable(ctx context.Context) ([]*CreditBatch, error) {
	issued, err := e.Store.Batches().ListByStatus(ctx, StatusIssued)
	if err != nil {
		return nil, err
	}
	partial, err := e.Store.Batches().ListByStatus(ctx, StatusPartiallySold)
	if err != nil {
		return nil, err
	}
	return append(issued, partial...), nil
}

// =============================================================================
// PER-KEY SERIALIZATION
// =============================================================================

func holdingKey(batchID BatchID, buyerID BuyerID) string {
	return string(batchID) + "\x00" + string(buyerID)
}

// keyedMutex serializes operations per string key. Mutexes are retained for
// the life of the process; the key space is bounded by (batch, buyer) pairs.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
