/*
store.go - Persistence interfaces for batches and the two append-only logs

PURPOSE:
  Defines the interface between the ledger engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  BatchStore:     Durable CreditBatch rows with an atomic compare-and-update
  TransactionLog: Append-only purchase records
  RetirementLog:  Append-only retirement records
  Store:          All three plus WithTx for all-or-nothing commits

COMPARE-AND-UPDATE CONTRACT:
  CompareAndUpdate is the ONLY way batch balances change after creation.
  It applies the mutation and persists it only if the stored version still
  equals the expected version, otherwise it fails with ErrVersionConflict.
  At most one writer commits per version; the loser retries on fresh state.

APPEND-ONLY CONTRACT:
  The log interfaces have Append and queries. No Update() or Delete()
  methods exist. A bad sale or retirement is corrected by a future
  compensating record, never by mutating history.

ATOMIC COMMITS:
  WithTx runs a function against transactional views of all three stores.
  A purchase commits its balance update and its transaction record as one
  unit: either both are visible afterwards, or neither is.

IMPLEMENTATIONS:
  - store/memory.go: In-memory, for tests and development
  - store/sqlite (top-level): Production SQLite

SEE ALSO:
  - engine.go: The only caller of CompareAndUpdate
*/
package ledger

import "context"

// =============================================================================
// BATCH STORE
// =============================================================================

// BatchStore holds CreditBatch rows keyed by id, with secondary lookups by
// producer and by status.
type BatchStore interface {
	// Create persists a new batch. Fails with ErrInvalidInput if
	// IssuedAmount <= 0 or PricePerCredit <= 0, ErrDuplicateBatch if the
	// id already exists.
	Create(ctx context.Context, batch *CreditBatch) error

	// Get returns the batch or ErrBatchNotFound.
	Get(ctx context.Context, id BatchID) (*CreditBatch, error)

	// List returns all batches, newest first.
	List(ctx context.Context) ([]*CreditBatch, error)

	// ListByStatus returns batches with the given status.
	ListByStatus(ctx context.Context, status BatchStatus) ([]*CreditBatch, error)

	// ListByProducer returns a producer's issued batches.
	ListByProducer(ctx context.Context, producerID ProducerID) ([]*CreditBatch, error)

	// CompareAndUpdate applies mutate to the stored batch and persists the
	// result only if the stored version still equals expectedVersion;
	// otherwise it fails with ErrVersionConflict and stores nothing.
	// On success the persisted batch carries expectedVersion+1 and a fresh
	// UpdatedAt. This is the sole mutation primitive for batch balances.
	CompareAndUpdate(ctx context.Context, id BatchID, expectedVersion int64, mutate func(*CreditBatch) error) (*CreditBatch, error)
}

// =============================================================================
// APPEND-ONLY LOGS
// =============================================================================

// TransactionLog is the immutable record of every purchase.
// Append-only: no Update, no Delete. Ever.
type TransactionLog interface {
	Append(ctx context.Context, rec *TransactionRecord) error
	ListByBatch(ctx context.Context, batchID BatchID) ([]*TransactionRecord, error)
	ListByBuyer(ctx context.Context, buyerID BuyerID) ([]*TransactionRecord, error)
	ListByHolder(ctx context.Context, batchID BatchID, buyerID BuyerID) ([]*TransactionRecord, error)
	ListAll(ctx context.Context) ([]*TransactionRecord, error)
}

// RetirementLog is the immutable record of every retirement.
// Same append-only contract as TransactionLog.
type RetirementLog interface {
	Append(ctx context.Context, rec *RetirementRecord) error
	ListByBatch(ctx context.Context, batchID BatchID) ([]*RetirementRecord, error)
	ListByBuyer(ctx context.Context, buyerID BuyerID) ([]*RetirementRecord, error)
	ListByHolder(ctx context.Context, batchID BatchID, buyerID BuyerID) ([]*RetirementRecord, error)
	ListAll(ctx context.Context) ([]*RetirementRecord, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store bundles the batch store and both logs behind one transactional
// boundary. Instantiated once per process and passed to the Engine, never
// accessed as ambient state.
type Store interface {
	Batches() BatchStore
	Transactions() TransactionLog
	Retirements() RetirementLog

	// WithTx executes fn against transactional views of the stores.
	// If fn returns an error, nothing fn wrote is visible afterwards.
	// If fn returns nil, everything commits together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
