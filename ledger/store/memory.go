/*
Package store provides the in-memory Store implementation.

PURPOSE:
  A complete ledger.Store for tests and development. Mirrors the SQLite
  implementation's semantics exactly: compare-and-update on batch version,
  append-only logs, and all-or-nothing WithTx via snapshot and rollback.

CONCURRENCY:
  One RWMutex guards everything. Readers get deep copies, so a caller can
  never observe a torn batch or mutate stored state through a returned
  pointer. WithTx holds the write lock for the whole function, which makes
  the transactional view single-writer by construction.
*/
package store

import (
	"context"
	"sync"
	"time"

	"github.com/verdant/carbon-ledger/ledger"
)

// Memory implements ledger.Store in memory.
type Memory struct {
	mu sync.RWMutex

	batches    map[ledger.BatchID]*ledger.CreditBatch
	batchOrder []ledger.BatchID // creation order

	transactions []*ledger.TransactionRecord
	retirements  []*ledger.RetirementRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		batches: make(map[ledger.BatchID]*ledger.CreditBatch),
	}
}

func (m *Memory) Batches() ledger.BatchStore          { return &batchView{m} }
func (m *Memory) Transactions() ledger.TransactionLog { return &txLogView{m} }
func (m *Memory) Retirements() ledger.RetirementLog   { return &retLogView{m} }

// WithTx executes fn against a view that writes directly to the store while
// the write lock is held. On error the pre-call snapshot is restored, so
// nothing fn wrote remains visible.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// =============================================================================
// SNAPSHOT / ROLLBACK
// =============================================================================

type memorySnapshot struct {
	batches      map[ledger.BatchID]*ledger.CreditBatch
	batchOrder   []ledger.BatchID
	transactions []*ledger.TransactionRecord
	retirements  []*ledger.RetirementRecord
}

func (m *Memory) snapshot() memorySnapshot {
	batches := make(map[ledger.BatchID]*ledger.CreditBatch, len(m.batches))
	for id, b := range m.batches {
		batches[id] = b.Clone()
	}
	return memorySnapshot{
		batches:      batches,
		batchOrder:   append([]ledger.BatchID{}, m.batchOrder...),
		transactions: append([]*ledger.TransactionRecord{}, m.transactions...),
		retirements:  append([]*ledger.RetirementRecord{}, m.retirements...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.batches = s.batches
	m.batchOrder = s.batchOrder
	m.transactions = s.transactions
	m.retirements = s.retirements
}

// =============================================================================
// LOCKED OPERATIONS - callers must hold the appropriate lock
// =============================================================================

func (m *Memory) createBatchLocked(batch *ledger.CreditBatch) error {
	if !batch.IssuedAmount.IsPositive() {
		return ledger.ErrInvalidInput
	}
	if !batch.PricePerCredit.IsPositive() {
		return ledger.ErrInvalidInput
	}
	if _, exists := m.batches[batch.ID]; exists {
		return ledger.ErrDuplicateBatch
	}
	m.batches[batch.ID] = batch.Clone()
	m.batchOrder = append(m.batchOrder, batch.ID)
	return nil
}

func (m *Memory) getBatchLocked(id ledger.BatchID) (*ledger.CreditBatch, error) {
	b, ok := m.batches[id]
	if !ok {
		return nil, ledger.ErrBatchNotFound
	}
	return b.Clone(), nil
}

func (m *Memory) compareAndUpdateLocked(id ledger.BatchID, expectedVersion int64, mutate func(*ledger.CreditBatch) error) (*ledger.CreditBatch, error) {
	stored, ok := m.batches[id]
	if !ok {
		return nil, ledger.ErrBatchNotFound
	}
	if stored.Version != expectedVersion {
		return nil, ledger.ErrVersionConflict
	}

	// Mutate a clone so a failing mutate leaves stored state untouched.
	next := stored.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	m.batches[id] = next
	return next.Clone(), nil
}

func (m *Memory) listBatchesLocked(keep func(*ledger.CreditBatch) bool) []*ledger.CreditBatch {
	// Newest first.
	var result []*ledger.CreditBatch
	for i := len(m.batchOrder) - 1; i >= 0; i-- {
		b := m.batches[m.batchOrder[i]]
		if keep == nil || keep(b) {
			result = append(result, b.Clone())
		}
	}
	return result
}

// =============================================================================
// BATCH VIEW
// =============================================================================

type batchView struct{ m *Memory }

func (v *batchView) Create(_ context.Context, batch *ledger.CreditBatch) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.createBatchLocked(batch)
}

func (v *batchView) Get(_ context.Context, id ledger.BatchID) (*ledger.CreditBatch, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	return v.m.getBatchLocked(id)
}

func (v *batchView) List(_ context.Context) ([]*ledger.CreditBatch, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	return v.m.listBatchesLocked(nil), nil
}

func (v *batchView) ListByStatus(_ context.Context, status ledger.BatchStatus) ([]*ledger.CreditBatch, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	return v.m.listBatchesLocked(func(b *ledger.CreditBatch) bool {
		return b.Status == status
	}), nil
}

func (v *batchView) ListByProducer(_ context.Context, producerID ledger.ProducerID) ([]*ledger.CreditBatch, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	return v.m.listBatchesLocked(func(b *ledger.CreditBatch) bool {
		return b.ProducerID == producerID
	}), nil
}

func (v *batchView) CompareAndUpdate(_ context.Context, id ledger.BatchID, expectedVersion int64, mutate func(*ledger.CreditBatch) error) (*ledger.CreditBatch, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.compareAndUpdateLocked(id, expectedVersion, mutate)
}

// =============================================================================
// LOG VIEWS
// =============================================================================

type txLogView struct{ m *Memory }

func (v *txLogView) Append(_ context.Context, rec *ledger.TransactionRecord) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	c := *rec
	v.m.transactions = append(v.m.transactions, &c)
	return nil
}

func (v *txLogView) ListByBatch(_ context.Context, batchID ledger.BatchID) ([]*ledger.TransactionRecord, error) {
	return v.list(func(r *ledger.TransactionRecord) bool { return r.BatchID == batchID })
}

func (v *txLogView) ListByBuyer(_ context.Context, buyerID ledger.BuyerID) ([]*ledger.TransactionRecord, error) {
	return v.list(func(r *ledger.TransactionRecord) bool { return r.BuyerID == buyerID })
}

func (v *txLogView) ListByHolder(_ context.Context, batchID ledger.BatchID, buyerID ledger.BuyerID) ([]*ledger.TransactionRecord, error) {
	return v.list(func(r *ledger.TransactionRecord) bool {
		return r.BatchID == batchID && r.BuyerID == buyerID
	})
}

func (v *txLogView) ListAll(_ context.Context) ([]*ledger.TransactionRecord, error) {
	return v.list(nil)
}

func (v *txLogView) list(keep func(*ledger.TransactionRecord) bool) ([]*ledger.TransactionRecord, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	var result []*ledger.TransactionRecord
	for _, r := range v.m.transactions {
		if keep == nil || keep(r) {
			c := *r
			result = append(result, &c)
		}
	}
	return result, nil
}

type retLogView struct{ m *Memory }

func (v *retLogView) Append(_ context.Context, rec *ledger.RetirementRecord) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	c := *rec
	v.m.retirements = append(v.m.retirements, &c)
	return nil
}

func (v *retLogView) ListByBatch(_ context.Context, batchID ledger.BatchID) ([]*ledger.RetirementRecord, error) {
	return v.list(func(r *ledger.RetirementRecord) bool { return r.BatchID == batchID })
}

func (v *retLogView) ListByBuyer(_ context.Context, buyerID ledger.BuyerID) ([]*ledger.RetirementRecord, error) {
	return v.list(func(r *ledger.RetirementRecord) bool { return r.BuyerID == buyerID })
}

func (v *retLogView) ListByHolder(_ context.Context, batchID ledger.BatchID, buyerID ledger.BuyerID) ([]*ledger.RetirementRecord, error) {
	return v.list(func(r *ledger.RetirementRecord) bool {
		return r.BatchID == batchID && r.BuyerID == buyerID
	})
}

func (v *retLogView) ListAll(_ context.Context) ([]*ledger.RetirementRecord, error) {
	return v.list(nil)
}

func (v *retLogView) list(keep func(*ledger.RetirementRecord) bool) ([]*ledger.RetirementRecord, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	var result []*ledger.RetirementRecord
	for _, r := range v.m.retirements {
		if keep == nil || keep(r) {
			c := *r
			result = append(result, &c)
		}
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL VIEW - used inside WithTx, lock already held
// =============================================================================

type txView struct{ m *Memory }

func (t *txView) Batches() ledger.BatchStore          { return &txBatchView{t.m} }
func (t *txView) Transactions() ledger.TransactionLog { return &txTxLogView{t.m} }
func (t *txView) Retirements() ledger.RetirementLog   { return &txRetLogView{t.m} }

// Nested transactions are not supported; run fn directly.
func (t *txView) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(t)
}

type txBatchView struct{ m *Memory }

func (v *txBatchView) Create(_ context.Context, batch *ledger.CreditBatch) error {
	return v.m.createBatchLocked(batch)
}

func (v *txBatchView) Get(_ context.Context, id ledger.BatchID) (*ledger.CreditBatch, error) {
	return v.m.getBatchLocked(id)
}

func (v *txBatchView) List(_ context.Context) ([]*ledger.CreditBatch, error) {
	return v.m.listBatchesLocked(nil), nil
}

func (v *txBatchView) ListByStatus(_ context.Context, status ledger.BatchStatus) ([]*ledger.CreditBatch, error) {
	return v.m.listBatchesLocked(func(b *ledger.CreditBatch) bool { return b.Status == status }), nil
}

func (v *txBatchView) ListByProducer(_ context.Context, producerID ledger.ProducerID) ([]*ledger.CreditBatch, error) {
	return v.m.listBatchesLocked(func(b *ledger.CreditBatch) bool { return b.ProducerID == producerID }), nil
}

func (v *txBatchView) CompareAndUpdate(_ context.Context, id ledger.BatchID, expectedVersion int64, mutate func(*ledger.CreditBatch) error) (*ledger.CreditBatch, error) {
	return v.m.compareAndUpdateLocked(id, expectedVersion, mutate)
}

type txTxLogView struct{ m *Memory }

func (v *txTxLogView) Append(_ context.Context, rec *ledger.TransactionRecord) error {
	c := *rec
	v.m.transactions = append(v.m.transactions, &c)
	return nil
}

func (v *txTxLogView) ListByBatch(ctx context.Context, batchID ledger.BatchID) ([]*ledger.TransactionRecord, error) {
	return v.listLocked(func(r *ledger.TransactionRecord) bool { return r.BatchID == batchID })
}

func (v *txTxLogView) ListByBuyer(ctx context.Context, buyerID ledger.BuyerID) ([]*ledger.TransactionRecord, error) {
	return v.listLocked(func(r *ledger.TransactionRecord) bool { return r.BuyerID == buyerID })
}

func (v *txTxLogView) ListByHolder(ctx context.Context, batchID ledger.BatchID, buyerID ledger.BuyerID) ([]*ledger.TransactionRecord, error) {
	return v.listLocked(func(r *ledger.TransactionRecord) bool {
		return r.BatchID == batchID && r.BuyerID == buyerID
	})
}

func (v *txTxLogView) ListAll(ctx context.Context) ([]*ledger.TransactionRecord, error) {
	return v.listLocked(nil)
}

func (v *txTxLogView) listLocked(keep func(*ledger.TransactionRecord) bool) ([]*ledger.TransactionRecord, error) {
	var result []*ledger.TransactionRecord
	for _, r := range v.m.transactions {
		if keep == nil || keep(r) {
			c := *r
			result = append(result, &c)
		}
	}
	return result, nil
}

type txRetLogView struct{ m *Memory }

func (v *txRetLogView) Append(_ context.Context, rec *ledger.RetirementRecord) error {
	c := *rec
	v.m.retirements = append(v.m.retirements, &c)
	return nil
}

func (v *txRetLogView) ListByBatch(ctx context.Context, batchID ledger.BatchID) ([]*ledger.RetirementRecord, error) {
	return v.listLocked(func(r *ledger.RetirementRecord) bool { return r.BatchID == batchID })
}

func (v *txRetLogView) ListByBuyer(ctx context.Context, buyerID ledger.BuyerID) ([]*ledger.RetirementRecord, error) {
	return v.listLocked(func(r *ledger.RetirementRecord) bool { return r.BuyerID == buyerID })
}

func (v *txRetLogView) ListByHolder(ctx context.Context, batchID ledger.BatchID, buyerID ledger.BuyerID) ([]*ledger.RetirementRecord, error) {
	return v.listLocked(func(r *ledger.RetirementRecord) bool {
		return r.BatchID == batchID && r.BuyerID == buyerID
	})
}

func (v *txRetLogView) ListAll(ctx context.Context) ([]*ledger.RetirementRecord, error) {
	return v.listLocked(nil)
}

func (v *txRetLogView) listLocked(keep func(*ledger.RetirementRecord) bool) ([]*ledger.RetirementRecord, error) {
	var result []*ledger.RetirementRecord
	for _, r := range v.m.retirements {
		if keep == nil || keep(r) {
			c := *r
			result = append(result, &c)
		}
	}
	return result, nil
}
