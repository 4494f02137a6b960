/*
Package sqlite provides the SQLite-backed implementation of ledger.Store.

PURPOSE:
  Production persistence for credit batches and the two append-only logs.
  The same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  credit_batches:      The only mutable rows; guarded by the version column
  credit_transactions: Immutable purchase records
  credit_retirements:  Immutable retirement records

COMPARE-AND-UPDATE:
  Balance changes go through a single
      UPDATE credit_batches SET ... WHERE id = ? AND version = ?
  statement. Zero rows affected means another writer committed first and
  the caller gets ledger.ErrVersionConflict.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement exists against the two log tables anywhere
  in this package.

AMOUNT STORAGE:
  Amounts and prices are stored as decimal strings, never floats, so
  nothing is lost round-tripping through the database.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of the database. With
  PostgreSQL, database-level concurrency control handles this instead.

SEE ALSO:
  - ledger/store.go: Interface contracts
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/verdant/carbon-ledger/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps :memory: databases coherent and matches the
	// single-writer model the store mutex already imposes.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Credit batches (the only mutable rows)
	CREATE TABLE IF NOT EXISTS credit_batches (
		id TEXT PRIMARY KEY,
		producer_id TEXT NOT NULL,
		issued_amount TEXT NOT NULL,
		available_amount TEXT NOT NULL,
		sold_amount TEXT NOT NULL,
		price_per_credit TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_batches_producer
		ON credit_batches(producer_id);
	CREATE INDEX IF NOT EXISTS idx_batches_status
		ON credit_batches(status);

	-- Purchase records (append-only)
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		price_per_credit TEXT NOT NULL,
		total_price TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_batch
		ON credit_transactions(batch_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_buyer
		ON credit_transactions(buyer_id);
	-- Holding computation (hot path for retirements)
	CREATE INDEX IF NOT EXISTS idx_transactions_batch_buyer
		ON credit_transactions(batch_id, buyer_id);

	-- Retirement records (append-only)
	CREATE TABLE IF NOT EXISTS credit_retirements (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		eco_action TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_retirements_batch
		ON credit_retirements(batch_id);
	CREATE INDEX IF NOT EXISTS idx_retirements_buyer
		ON credit_retirements(buyer_id);
	CREATE INDEX IF NOT EXISTS idx_retirements_batch_buyer
		ON credit_retirements(batch_id, buyer_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STORE VIEWS
// =============================================================================

func (s *Store) Batches() ledger.BatchStore          { return &batchStore{s: s, q: s.db, lock: true} }
func (s *Store) Transactions() ledger.TransactionLog { return &txLog{s: s, q: s.db, lock: true} }
func (s *Store) Retirements() ledger.RetirementLog   { return &retLog{s: s, q: s.db, lock: true} }

// WithTx executes fn within a database transaction. The store mutex is held
// across the whole transaction, matching the memory store's single-writer
// behavior.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{s: s, tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore exposes the same interfaces backed by an open *sql.Tx.
// The mutex is already held by WithTx, so these views skip locking.
type txStore struct {
	s  *Store
	tx *sql.Tx
}

func (t *txStore) Batches() ledger.BatchStore          { return &batchStore{s: t.s, q: t.tx} }
func (t *txStore) Transactions() ledger.TransactionLog { return &txLog{s: t.s, q: t.tx} }
func (t *txStore) Retirements() ledger.RetirementLog   { return &retLog{s: t.s, q: t.tx} }

// Nested transactions are not supported; run fn in the current one.
func (t *txStore) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(t)
}

// =============================================================================
// BATCH STORE
// =============================================================================

type batchStore struct {
	s    *Store
	q    dbtx
	lock bool
}

func (b *batchStore) Create(ctx context.Context, batch *ledger.CreditBatch) error {
	if !batch.IssuedAmount.IsPositive() || !batch.PricePerCredit.IsPositive() {
		return ledger.ErrInvalidInput
	}
	if b.lock {
		b.s.mu.Lock()
		defer b.s.mu.Unlock()
	}

	_, err := b.q.ExecContext(ctx, `
		INSERT INTO credit_batches
		(id, producer_id, issued_amount, available_amount, sold_amount,
		 price_per_credit, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID,
		batch.ProducerID,
		batch.IssuedAmount.String(),
		batch.AvailableAmount.String(),
		batch.SoldAmount.String(),
		batch.PricePerCredit.String(),
		batch.Status,
		batch.Version,
		batch.CreatedAt.UTC().Format(time.RFC3339Nano),
		batch.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateBatch
		}
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

func (b *batchStore) Get(ctx context.Context, id ledger.BatchID) (*ledger.CreditBatch, error) {
	if b.lock {
		b.s.mu.RLock()
		defer b.s.mu.RUnlock()
	}
	return b.get(ctx, id)
}

func (b *batchStore) get(ctx context.Context, id ledger.BatchID) (*ledger.CreditBatch, error) {
	row := b.q.QueryRowContext(ctx, `
		SELECT id, producer_id, issued_amount, available_amount, sold_amount,
		       price_per_credit, status, version, created_at, updated_at
		FROM credit_batches WHERE id = ?`, id)

	batch, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return batch, nil
}

func (b *batchStore) List(ctx context.Context) ([]*ledger.CreditBatch, error) {
	return b.query(ctx, ``)
}

func (b *batchStore) ListByStatus(ctx context.Context, status ledger.BatchStatus) ([]*ledger.CreditBatch, error) {
	return b.query(ctx, `WHERE status = ?`, status)
}

func (b *batchStore) ListByProducer(ctx context.Context, producerID ledger.ProducerID) ([]*ledger.CreditBatch, error) {
	return b.query(ctx, `WHERE producer_id = ?`, producerID)
}

func (b *batchStore) query(ctx context.Context, where string, args ...any) ([]*ledger.CreditBatch, error) {
	if b.lock {
		b.s.mu.RLock()
		defer b.s.mu.RUnlock()
	}

	rows, err := b.q.QueryContext(ctx, `
		SELECT id, producer_id, issued_amount, available_amount, sold_amount,
		       price_per_credit, status, version, created_at, updated_at
		FROM credit_batches `+where+` ORDER BY rowid DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []*ledger.CreditBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// CompareAndUpdate reads the row, applies mutate, and persists only if the
// version column is still the expected one.
func (b *batchStore) CompareAndUpdate(ctx context.Context, id ledger.BatchID, expectedVersion int64, mutate func(*ledger.CreditBatch) error) (*ledger.CreditBatch, error) {
	if b.lock {
		b.s.mu.Lock()
		defer b.s.mu.Unlock()
	}

	batch, err := b.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.Version != expectedVersion {
		return nil, ledger.ErrVersionConflict
	}

	if err := mutate(batch); err != nil {
		return nil, err
	}
	batch.Version = expectedVersion + 1
	batch.UpdatedAt = time.Now().UTC()

	res, err := b.q.ExecContext(ctx, `
		UPDATE credit_batches
		SET available_amount = ?, sold_amount = ?, status = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		batch.AvailableAmount.String(),
		batch.SoldAmount.String(),
		batch.Status,
		batch.Version,
		batch.UpdatedAt.Format(time.RFC3339Nano),
		id,
		expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		// Someone committed between our read and our write.
		return nil, ledger.ErrVersionConflict
	}
	return batch, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*ledger.CreditBatch, error) {
	var (
		batch              ledger.CreditBatch
		issued, available  string
		sold, price        string
		createdAt, updated string
	)
	err := row.Scan(
		&batch.ID, &batch.ProducerID, &issued, &available, &sold,
		&price, &batch.Status, &batch.Version, &createdAt, &updated,
	)
	if err != nil {
		return nil, err
	}

	batch.IssuedAmount = ledger.MustParseAmount(issued)
	batch.AvailableAmount = ledger.MustParseAmount(available)
	batch.SoldAmount = ledger.MustParseAmount(sold)
	batch.PricePerCredit = ledger.MustParseAmount(price)
	batch.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	batch.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &batch, nil
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

type txLog struct {
	s    *Store
	q    dbtx
	lock bool
}

func (l *txLog) Append(ctx context.Context, rec *ledger.TransactionRecord) error {
	if l.lock {
		l.s.mu.Lock()
		defer l.s.mu.Unlock()
	}

	_, err := l.q.ExecContext(ctx, `
		INSERT INTO credit_transactions
		(id, batch_id, buyer_id, amount, price_per_credit, total_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.BatchID,
		rec.BuyerID,
		rec.Amount.String(),
		rec.PricePerCredit.String(),
		rec.TotalPrice.String(),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (l *txLog) ListByBatch(ctx context.Context, batchID ledger.BatchID) ([]*ledger.TransactionRecord, error) {
	return l.query(ctx, `WHERE batch_id = ?`, batchID)
}

func (l *txLog) ListByBuyer(ctx context.Context, buyerID ledger.BuyerID) ([]*ledger.TransactionRecord, error) {
	return l.query(ctx, `WHERE buyer_id = ?`, buyerID)
}

func (l *txLog) ListByHolder(ctx context.Context, batchID ledger.BatchID, buyerID ledger.BuyerID) ([]*ledger.TransactionRecord, error) {
	return l.query(ctx, `WHERE batch_id = ? AND buyer_id = ?`, batchID, buyerID)
}

func (l *txLog) ListAll(ctx context.Context) ([]*ledger.TransactionRecord, error) {
	return l.query(ctx, ``)
}

func (l *txLog) query(ctx context.Context, where string, args ...any) ([]*ledger.TransactionRecord, error) {
	if l.lock {
		l.s.mu.RLock()
		defer l.s.mu.RUnlock()
	}

	rows, err := l.q.QueryContext(ctx, `
		SELECT id, batch_id, buyer_id, amount, price_per_credit, total_price, created_at
		FROM credit_transactions `+where+` ORDER BY rowid ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var records []*ledger.TransactionRecord
	for rows.Next() {
		var (
			rec                  ledger.TransactionRecord
			amount, price, total string
			createdAt            string
		)
		if err := rows.Scan(&rec.ID, &rec.BatchID, &rec.BuyerID, &amount, &price, &total, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		rec.Amount = ledger.MustParseAmount(amount)
		rec.PricePerCredit = ledger.MustParseAmount(price)
		rec.TotalPrice = ledger.MustParseAmount(total)
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// =============================================================================
// RETIREMENT LOG
// =============================================================================

type retLog struct {
	s    *Store
	q    dbtx
	lock bool
}

func (l *retLog) Append(ctx context.Context, rec *ledger.RetirementRecord) error {
	if l.lock {
		l.s.mu.Lock()
		defer l.s.mu.Unlock()
	}

	_, err := l.q.ExecContext(ctx, `
		INSERT INTO credit_retirements
		(id, batch_id, buyer_id, amount, eco_action, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.BatchID,
		rec.BuyerID,
		rec.Amount.String(),
		rec.EcoAction,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append retirement: %w", err)
	}
	return nil
}

func (l *retLog) ListByBatch(ctx context.Context, batchID ledger.BatchID) ([]*ledger.RetirementRecord, error) {
	return l.query(ctx, `WHERE batch_id = ?`, batchID)
}

func (l *retLog) ListByBuyer(ctx context.Context, buyerID ledger.BuyerID) ([]*ledger.RetirementRecord, error) {
	return l.query(ctx, `WHERE buyer_id = ?`, buyerID)
}

func (l *retLog) ListByHolder(ctx context.Context, batchID ledger.BatchID, buyerID ledger.BuyerID) ([]*ledger.RetirementRecord, error) {
	return l.query(ctx, `WHERE batch_id = ? AND buyer_id = ?`, batchID, buyerID)
}

func (l *retLog) ListAll(ctx context.Context) ([]*ledger.RetirementRecord, error) {
	return l.query(ctx, ``)
}

func (l *retLog) query(ctx context.Context, where string, args ...any) ([]*ledger.RetirementRecord, error) {
	if l.lock {
		l.s.mu.RLock()
		defer l.s.mu.RUnlock()
	}

	rows, err := l.q.QueryContext(ctx, `
		SELECT id, batch_id, buyer_id, amount, eco_action, created_at
		FROM credit_retirements `+where+` ORDER BY rowid ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query retirements: %w", err)
	}
	defer rows.Close()

	var records []*ledger.RetirementRecord
	for rows.Next() {
		var (
			rec       ledger.RetirementRecord
			amount    string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.BatchID, &rec.BuyerID, &amount, &rec.EcoAction, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan retirement: %w", err)
		}
		rec.Amount = ledger.MustParseAmount(amount)
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
