package ledger_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdant/carbon-ledger/ledger"
	"github.com/verdant/carbon-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*ledger.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem)
	log := logrus.New()
	log.SetOutput(io.Discard)
	engine.Log = log
	return engine, mem
}

func issueBatch(t *testing.T, engine *ledger.Engine, producer string, issued, price float64) *ledger.CreditBatch {
	t.Helper()
	batch, err := engine.Issue(context.Background(), ledger.ProducerID(producer),
		ledger.NewAmount(issued), ledger.NewAmount(price))
	require.NoError(t, err)
	return batch
}

// recordingAnchor captures anchored records for assertions.
type recordingAnchor struct {
	mu           sync.Mutex
	transactions []*ledger.TransactionRecord
	retirements  []*ledger.RetirementRecord
}

func (a *recordingAnchor) AnchorTransaction(rec *ledger.TransactionRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transactions = append(a.transactions, rec)
}

func (a *recordingAnchor) AnchorRetirement(rec *ledger.RetirementRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retirements = append(a.retirements, rec)
}

// conflictingStore wraps Memory and fails the first n WithTx calls with a
// version conflict, simulating a racing writer.
type conflictingStore struct {
	*store.Memory
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	c.mu.Lock()
	remaining := c.conflicts
	if remaining > 0 {
		c.conflicts--
	}
	c.mu.Unlock()

	if remaining > 0 {
		return ledger.ErrVersionConflict
	}
	return c.Memory.WithTx(ctx, fn)
}

// =============================================================================
// ISSUE
// =============================================================================

func TestIssue_CreatesIssuedBatch(t *testing.T) {
	engine, _ := newTestEngine(t)

	batch := issueBatch(t, engine, "farmer-1", 100, 5)

	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, ledger.ProducerID("farmer-1"), batch.ProducerID)
	assert.Equal(t, ledger.StatusIssued, batch.Status)
	assert.Equal(t, int64(1), batch.Version)
	assert.True(t, batch.AvailableAmount.Equal(batch.IssuedAmount))
	assert.True(t, batch.SoldAmount.IsZero())
}

func TestIssue_Validation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		producer string
		issued   float64
		price    float64
	}{
		{"zero issued amount", "farmer-1", 0, 5},
		{"negative issued amount", "farmer-1", -10, 5},
		{"zero price", "farmer-1", 100, 0},
		{"negative price", "farmer-1", 100, -1},
		{"empty producer", "", 100, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Issue(ctx, ledger.ProducerID(tt.producer),
				ledger.NewAmount(tt.issued), ledger.NewAmount(tt.price))
			assert.ErrorIs(t, err, ledger.ErrInvalidInput)
		})
	}
}

// =============================================================================
// PURCHASE
// =============================================================================

func TestPurchase_PartialThenExhausted(t *testing.T) {
	// The canonical marketplace flow: issue 100 at price 5, buyer A takes 60,
	// buyer B takes the remaining 40, then nothing more can be bought.

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	batch := issueBatch(t, engine, "farmer-1", 100, 5)

	// Buyer A purchases 60.
	updated, rec, err := engine.Purchase(ctx, batch.ID, "company-a", ledger.NewAmount(60))
	require.NoError(t, err)
	assert.True(t, updated.AvailableAmount.Equal(ledger.NewAmount(40)))
	assert.True(t, updated.SoldAmount.Equal(ledger.NewAmount(60)))
	assert.Equal(t, ledger.StatusPartiallySold, updated.Status)
	assert.Equal(t, int64(2), updated.Version)
	assert.True(t, rec.TotalPrice.Equal(ledger.NewAmount(300)), "60 credits at 5 = 300")
	assert.True(t, rec.PricePerCredit.Equal(ledger.NewAmount(5)))

	// Buyer B purchases the exact remainder: legal, drives status to SOLD.
	updated, _, err = engine.Purchase(ctx, batch.ID, "company-b", ledger.NewAmount(40))
	require.NoError(t, err)
	assert.True(t, updated.AvailableAmount.IsZero())
	assert.True(t, updated.SoldAmount.Equal(ledger.NewAmount(100)))
	assert.Equal(t, ledger.StatusSold, updated.Status)

	// Any further purchase fails, even for 1 credit.
	_, _, err = engine.Purchase(ctx, batch.ID, "company-c", ledger.NewAmount(1))
	assert.ErrorIs(t, err, ledger.ErrBatchExhausted)
}

func TestPurchase_InsufficientCredits(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	batch := issueBatch(t, engine, "farmer-1", 50, 2)

	_, _, err := engine.Purchase(ctx, batch.ID, "company-a", ledger.NewAmount(51))
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)

	var detail *ledger.InsufficientCreditsError
	require.ErrorAs(t, err, &detail)
	assert.True(t, detail.Available.Equal(ledger.NewAmount(50)))
	assert.True(t, detail.Requested.Equal(ledger.NewAmount(51)))

	// The failed attempt changed nothing.
	stored, err := engine.Store.Batches().Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusIssued, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestPurchase_Validation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	batch := issueBatch(t, engine, "farmer-1", 100, 5)

	_, _, err := engine.Purchase(ctx, batch.ID, "company-a", ledger.NewAmount(0))
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, _, err = engine.Purchase(ctx, batch.ID, "company-a", ledger.NewAmount(-5))
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, _, err = engine.Purchase(ctx, batch.ID, "", ledger.NewAmount(5))
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestPurchase_UnknownBatch(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, _, err := engine.Purchase(context.Background(), "no-such-batch", "company-a", ledger.NewAmount(5))
	assert.ErrorIs(t, err, ledger.ErrBatchNotFound)
}

func TestPurchase_RetriesVersionConflicts(t *testing.T) {
	// GIVEN: The first two commit attempts lose the race
	// WHEN: A purchase runs with the default retry budget
	// THEN: The third attempt commits and the caller never sees the conflicts

	mem := store.NewMemory()
	cs := &conflictingStore{Memory: mem, conflicts: 2}
	engine := ledger.NewEngine(cs)
	engine.Log = logrus.New()
	engine.Log.SetOutput(io.Discard)
	ctx := context.Background()

	batch, err := engine.Issue(ctx, "farmer-1", ledger.NewAmount(100), ledger.NewAmount(5))
	require.NoError(t, err)

	updated, _, err := engine.Purchase(ctx, batch.ID, "company-a", ledger.NewAmount(10))
	require.NoError(t, err)
	assert.True(t, updated.SoldAmount.Equal(ledger.NewAmount(10)))
}

func TestPurchase_ContentionAfterRetryBudget(t *testing.T) {
	mem := store.NewMemory()
	cs := &conflictingStore{Memory: mem, conflicts: 1000}
	engine := ledger.NewEngine(cs)
	engine.Log = logrus.New()
	engine.Log.SetOutput(io.Discard)
	engine.MaxAttempts = 3
	ctx := context.Background()

	batch, err := engine.Issue(ctx, "farmer-1", ledger.NewAmount(100), ledger.NewAmount(5))
	require.NoError(t, err)

	_, _, err = engine.Purchase(ctx, batch.ID, "company-a", ledger.NewAmount(10))
	assert.ErrorIs(t, err, ledger.ErrContention)
	assert.True(t, ledger.IsRetryable(err))

	// Not partially applied: the batch is untouched and no record exists.
	stored, err := engine.Store.Batches().Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, stored.SoldAmount.IsZero())
	recs, err := engine.Store.Transactions().ListByBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPurchase_Concurrent_NoOversell(t *testing.T) {
	// GIVEN: A batch of 100 credits and 20 buyers racing for 10 each
	// THEN: Conservation holds and total sold never exceeds issued,
	//       no matter how the attempts interleave.

	engine, _ := newTestEngine(t)
	engine.MaxAttempts = 100 // plenty of retries so losers get fresh state
	ctx := context.Background()

	batch := issueBatch(t, engine, "farmer-1", 100, 5)

	const buyers = 20
	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = engine.Purchase(ctx, batch.ID, ledger.BuyerID("company"), ledger.NewAmount(10))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		// The only acceptable failures once inventory runs out.
		assert.True(t,
			ledger.IsClientError(err) || ledger.IsRetryable(err),
			"unexpected error: %v", err)
	}

	stored, err := engine.Store.Batches().Get(ctx, batch.ID)
	require.NoError(t, err)

	// Conservation and no oversell.
	assert.True(t, stored.AvailableAmount.Add(stored.SoldAmount).Equal(stored.IssuedAmount))
	assert.False(t, stored.SoldAmount.GreaterThan(stored.IssuedAmount))

	// Sold amount exactly matches the committed records.
	recs, err := engine.Store.Transactions().ListByBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Len(t, recs, succeeded)
	total := ledger.NewAmount(0)
	for _, r := range recs {
		total = total.Add(r.Amount)
	}
	assert.True(t, total.Equal(stored.SoldAmount))
}

// =============================================================================
// RETIRE
// =============================================================================

func TestRetire_ConsumesHoldingOnly(t *testing.T) {
	// GIVEN: Buyer A holds 60 credits of a 100-credit batch
	// WHEN: A retires 20 against "reforestation"
	// THEN: A's retirable drops to 40 and the batch balances are untouched

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	batch := issueBatch(t, engine, "farmer-1", 100, 5)
	_, _, err := engine.Purchase(ctx, batch.ID, "company-a", ledger.NewAmount(60))
	require.NoError(t, err)

	rec, err := engine.Retire(ctx, batch.ID, "company-a", ledger.NewAmount(20), "reforestation")
	require.NoError(t, err)
	assert.Equal(t, "reforestation", rec.EcoAction)

	holding, err := engine.Holding(ctx, batch.ID, "company-a")
	require.NoError(t, err)
	assert.True(t, holding.Purchased.Equal(ledger.NewAmount(60)))
	assert.True(t, holding.Retired.Equal(ledger.NewAmount(20)))
	assert.True(t, holding.Retirable.Equal(ledger.NewAmount(40)))

	// Batch balances unchanged by retirement.
	stored, err := engine.Store.Batches().Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, stored.AvailableAmount.Equal(ledger.NewAmount(40)))
	assert.True(t, stored.SoldAmount.Equal(ledger.NewAmount(60)))
	assert.Equal(t, int64(2), stored.Version, "retirement must not bump the batch version")
}

func TestRetire_InsufficientHolding(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	batch := issueBatch(t, engine, "farmer-1", 100, 5)
	_, _, err := engine.Purchase(ctx, batch.ID, "company-a", ledger.NewAmount(60))
	require.NoError(t, err)
	_, err = engine.Retire(ctx, batch.ID, "company-a", ledger.NewAmount(20), "reforestation")
	require.NoError(t, err)

	// Only 40 retirable remain; 41 must fail.
	_, err = engine.Retire(ctx, batch.ID, "company-a", ledger.NewAmount(41), "wetland restoration")
	assert.ErrorIs(t, err, ledger.ErrInsufficientHolding)

	var detail *ledger.InsufficientHoldingError
	require.ErrorAs(t, err, &detail)
	assert.True(t, detail.Retirable.Equal(ledger.NewAmount(40)))

	// Retiring the exact remainder is legal and zeroes the holding.
	_, err = engine.Retire(ctx, batch.ID, "company-a", ledger.NewAmount(40), "wetland restoration")
	require.NoError(t, err)
	holding, err := engine.Holding(ctx, batch.ID, "company-a")
	require.NoError(t, err)
	assert.True(t, holding.Retirable.IsZero())
}

func TestRetire_NoHolding(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	batch := issueBatch(t, engine, "farmer-1", 100, 5)

	// Never purchased anything from this batch.
	_, err := engine.Retire(ctx, batch.ID, "company-x", ledger.NewAmount(1), "reforestation")
	assert.ErrorIs(t, err, ledger.ErrInsufficientHolding)
}

func TestRetire_Validation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	batch := issueBatch(t, engine, "farmer-1", 100, 5)

	_, err := engine.Retire(ctx, batch.ID, "company-a", ledger.NewAmount(0), "reforestation")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = engine.Retire(ctx, batch.ID, "company-a", ledger.NewAmount(5), "")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = engine.Retire(ctx, batch.ID, "company-a", ledger.NewAmount(5), "   ")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = engine.Retire(ctx, "no-such-batch", "company-a", ledger.NewAmount(5), "reforestation")
	assert.ErrorIs(t, err, ledger.ErrBatchNotFound)
}

func TestRetire_Concurrent_NoOverRetirement(t *testing.T) {
	// GIVEN: Buyer holds 10 credits
	// WHEN: 30 concurrent retirements of 1 credit each race
	// THEN: At most 10 succeed; retired never exceeds purchased

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	batch := issueBatch(t, engine, "farmer-1", 100, 5)
	_, _, err := engine.Purchase(ctx, batch.ID, "company-a", ledger.NewAmount(10))
	require.NoError(t, err)

	const attempts = 30
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Retire(ctx, batch.ID, "company-a", ledger.NewAmount(1), "tree planting")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientHolding)
		}
	}
	assert.Equal(t, 10, succeeded)

	holding, err := engine.Holding(ctx, batch.ID, "company-a")
	require.NoError(t, err)
	assert.True(t, holding.Retired.Equal(ledger.NewAmount(10)))
	assert.True(t, holding.Retirable.IsZero())
}

func TestRetire_HoldingsAreIndependentPerBuyer(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	batch := issueBatch(t, engine, "farmer-1", 100, 5)
	_, _, err := engine.Purchase(ctx, batch.ID, "company-a", ledger.NewAmount(30))
	require.NoError(t, err)
	_, _, err = engine.Purchase(ctx, batch.ID, "company-b", ledger.NewAmount(30))
	require.NoError(t, err)

	// B's holding cannot fund A's retirement.
	_, err = engine.Retire(ctx, batch.ID, "company-a", ledger.NewAmount(31), "reforestation")
	assert.ErrorIs(t, err, ledger.ErrInsufficientHolding)

	_, err = engine.Retire(ctx, batch.ID, "company-b", ledger.NewAmount(30), "solar farm")
	require.NoError(t, err)
}

// =============================================================================
// ANCHORING
// =============================================================================

func TestEngine_AnchorsCommittedRecords(t *testing.T) {
	engine, _ := newTestEngine(t)
	rec := &recordingAnchor{}
	engine.Anchor = rec
	ctx := context.Background()

	batch := issueBatch(t, engine, "farmer-1", 100, 5)
	_, _, err := engine.Purchase(ctx, batch.ID, "company-a", ledger.NewAmount(60))
	require.NoError(t, err)
	_, err = engine.Retire(ctx, batch.ID, "company-a", ledger.NewAmount(10), "reforestation")
	require.NoError(t, err)

	require.Len(t, rec.transactions, 1)
	require.Len(t, rec.retirements, 1)
	assert.Equal(t, batch.ID, rec.transactions[0].BatchID)
	assert.Equal(t, batch.ID, rec.retirements[0].BatchID)
}

func TestEngine_FailedOperationsAreNotAnchored(t *testing.T) {
	engine, _ := newTestEngine(t)
	rec := &recordingAnchor{}
	engine.Anchor = rec
	ctx := context.Background()

	batch := issueBatch(t, engine, "farmer-1", 10, 5)
	_, _, err := engine.Purchase(ctx, batch.ID, "company-a", ledger.NewAmount(11))
	require.Error(t, err)
	_, err = engine.Retire(ctx, batch.ID, "company-a", ledger.NewAmount(1), "reforestation")
	require.Error(t, err)

	assert.Empty(t, rec.transactions)
	assert.Empty(t, rec.retirements)
}

// =============================================================================
// LISTING
// =============================================================================

func TestListPurchasable(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	fresh := issueBatch(t, engine, "farmer-1", 100, 5)
	partial := issueBatch(t, engine, "farmer-2", 100, 5)
	exhausted := issueBatch(t, engine, "farmer-3", 100, 5)

	_, _, err := engine.Purchase(ctx, partial.ID, "company-a", ledger.NewAmount(50))
	require.NoError(t, err)
	_, _, err = engine.Purchase(ctx, exhausted.ID, "company-a", ledger.NewAmount(100))
	require.NoError(t, err)

	purchasable, err := engine.ListPurchasable(ctx)
	require.NoError(t, err)

	ids := make(map[ledger.BatchID]bool)
	for _, b := range purchasable {
		ids[b.ID] = true
	}
	assert.True(t, ids[fresh.ID])
	assert.True(t, ids[partial.ID])
	assert.False(t, ids[exhausted.ID], "SOLD batches are not purchasable inventory")
}
