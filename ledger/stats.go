/*
stats.go - Read-only rollups for dashboards

PURPOSE:
  Computes marketplace-wide aggregates on demand by scanning the batch
  store and the two logs. Never caches, never mutates: a snapshot is only
  as stale as the moment it was computed, and repeated calls are cheap at
  the scale the rest of the system supports.
*/
package ledger

import "context"

// MarketStats is a point-in-time rollup over the whole ledger.
type MarketStats struct {
	TotalIssued    Amount
	TotalAvailable Amount
	TotalSold      Amount
	TotalRetired   Amount

	BatchesByStatus map[BatchStatus]int

	Producers map[ProducerID]ProducerStats
	Buyers    map[BuyerID]BuyerStats
}

// ProducerStats aggregates one producer's issuance side.
type ProducerStats struct {
	Batches      int
	Issued       Amount
	Sold         Amount
	SalesRevenue Amount // sum of TotalPrice over the producer's batches
}

// BuyerStats aggregates one buyer's purchase and retirement side.
type BuyerStats struct {
	Purchases   int
	Purchased   Amount
	Spent       Amount
	Retirements int
	Retired     Amount
}

// Stats scans the store and computes the full rollup.
func (e *Engine) Stats(ctx context.Context) (*MarketStats, error) {
	stats := &MarketStats{
		BatchesByStatus: make(map[BatchStatus]int),
		Producers:       make(map[ProducerID]ProducerStats),
		Buyers:          make(map[BuyerID]BuyerStats),
	}

	batches, err := e.Store.Batches().List(ctx)
	if err != nil {
		return nil, err
	}
	producerOf := make(map[BatchID]ProducerID, len(batches))
	for _, b := range batches {
		stats.TotalIssued = stats.TotalIssued.Add(b.IssuedAmount)
		stats.TotalAvailable = stats.TotalAvailable.Add(b.AvailableAmount)
		stats.TotalSold = stats.TotalSold.Add(b.SoldAmount)
		stats.BatchesByStatus[b.Status]++
		producerOf[b.ID] = b.ProducerID

		p := stats.Producers[b.ProducerID]
		p.Batches++
		p.Issued = p.Issued.Add(b.IssuedAmount)
		p.Sold = p.Sold.Add(b.SoldAmount)
		stats.Producers[b.ProducerID] = p
	}

	transactions, err := e.Store.Transactions().ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range transactions {
		buyer := stats.Buyers[t.BuyerID]
		buyer.Purchases++
		buyer.Purchased = buyer.Purchased.Add(t.Amount)
		buyer.Spent = buyer.Spent.Add(t.TotalPrice)
		stats.Buyers[t.BuyerID] = buyer

		if producerID, ok := producerOf[t.BatchID]; ok {
			p := stats.Producers[producerID]
			p.SalesRevenue = p.SalesRevenue.Add(t.TotalPrice)
			stats.Producers[producerID] = p
		}
	}

	retirements, err := e.Store.Retirements().ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range retirements {
		stats.TotalRetired = stats.TotalRetired.Add(r.Amount)

		buyer := stats.Buyers[r.BuyerID]
		buyer.Retirements++
		buyer.Retired = buyer.Retired.Add(r.Amount)
		stats.Buyers[r.BuyerID] = buyer
	}

	return stats, nil
}
