package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdant/carbon-ledger/ledger"
)

func TestStats_EmptyLedger(t *testing.T) {
	engine, _ := newTestEngine(t)

	stats, err := engine.Stats(context.Background())
	require.NoError(t, err)

	assert.True(t, stats.TotalIssued.IsZero())
	assert.True(t, stats.TotalRetired.IsZero())
	assert.Empty(t, stats.BatchesByStatus)
	assert.Empty(t, stats.Producers)
	assert.Empty(t, stats.Buyers)
}

func TestStats_FullRollup(t *testing.T) {
	// Two producers, two buyers, a mix of statuses and a retirement;
	// every field of the rollup is exercised.

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	b1 := issueBatch(t, engine, "farmer-1", 100, 5)
	b2 := issueBatch(t, engine, "farmer-1", 50, 10)
	b3 := issueBatch(t, engine, "farmer-2", 200, 2)

	_, _, err := engine.Purchase(ctx, b1.ID, "company-a", ledger.NewAmount(100)) // b1 SOLD, spent 500
	require.NoError(t, err)
	_, _, err = engine.Purchase(ctx, b2.ID, "company-a", ledger.NewAmount(20)) // b2 PARTIALLY_SOLD, spent 200
	require.NoError(t, err)
	_, _, err = engine.Purchase(ctx, b3.ID, "company-b", ledger.NewAmount(50)) // b3 PARTIALLY_SOLD, spent 100
	require.NoError(t, err)
	_, err = engine.Retire(ctx, b1.ID, "company-a", ledger.NewAmount(30), "reforestation")
	require.NoError(t, err)

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)

	assert.True(t, stats.TotalIssued.Equal(ledger.NewAmount(350)))
	assert.True(t, stats.TotalAvailable.Equal(ledger.NewAmount(180)))
	assert.True(t, stats.TotalSold.Equal(ledger.NewAmount(170)))
	assert.True(t, stats.TotalRetired.Equal(ledger.NewAmount(30)))

	assert.Equal(t, 2, stats.BatchesByStatus[ledger.StatusPartiallySold])
	assert.Equal(t, 1, stats.BatchesByStatus[ledger.StatusSold])
	assert.Equal(t, 0, stats.BatchesByStatus[ledger.StatusIssued])

	farmer1 := stats.Producers["farmer-1"]
	assert.Equal(t, 2, farmer1.Batches)
	assert.True(t, farmer1.Issued.Equal(ledger.NewAmount(150)))
	assert.True(t, farmer1.Sold.Equal(ledger.NewAmount(120)))
	assert.True(t, farmer1.SalesRevenue.Equal(ledger.NewAmount(700)), "500 from b1 + 200 from b2")

	farmer2 := stats.Producers["farmer-2"]
	assert.Equal(t, 1, farmer2.Batches)
	assert.True(t, farmer2.SalesRevenue.Equal(ledger.NewAmount(100)))

	buyerA := stats.Buyers["company-a"]
	assert.Equal(t, 2, buyerA.Purchases)
	assert.True(t, buyerA.Purchased.Equal(ledger.NewAmount(120)))
	assert.True(t, buyerA.Spent.Equal(ledger.NewAmount(700)))
	assert.Equal(t, 1, buyerA.Retirements)
	assert.True(t, buyerA.Retired.Equal(ledger.NewAmount(30)))

	buyerB := stats.Buyers["company-b"]
	assert.Equal(t, 1, buyerB.Purchases)
	assert.True(t, buyerB.Retired.IsZero())
	assert.Equal(t, 0, buyerB.Retirements)
}
