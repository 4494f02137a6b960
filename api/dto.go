/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  internal domain model from the external contract. Amounts cross the
  wire as decimal strings so clients never see float artifacts.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/verdant/carbon-ledger/ledger"
)

// =============================================================================
// BATCH TYPES
// =============================================================================

// BatchDTO represents a credit batch in API responses.
type BatchDTO struct {
	ID              string `json:"id"`
	ProducerID      string `json:"producer_id"`
	IssuedAmount    string `json:"issued_amount"`
	AvailableAmount string `json:"available_amount"`
	SoldAmount      string `json:"sold_amount"`
	PricePerCredit  string `json:"price_per_credit"`
	Status          string `json:"status"`
	Version         int64  `json:"version"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func toBatchDTO(b *ledger.CreditBatch) BatchDTO {
	return BatchDTO{
		ID:              string(b.ID),
		ProducerID:      string(b.ProducerID),
		IssuedAmount:    b.IssuedAmount.String(),
		AvailableAmount: b.AvailableAmount.String(),
		SoldAmount:      b.SoldAmount.String(),
		PricePerCredit:  b.PricePerCredit.String(),
		Status:          string(b.Status),
		Version:         b.Version,
		CreatedAt:       b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       b.UpdatedAt.Format(time.RFC3339),
	}
}

func toBatchDTOs(batches []*ledger.CreditBatch) []BatchDTO {
	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b)
	}
	return dtos
}

// IssueBatchRequest mints a new batch for a producer.
type IssueBatchRequest struct {
	ProducerID     string `json:"producer_id"`
	IssuedAmount   string `json:"issued_amount"`
	PricePerCredit string `json:"price_per_credit"`
}

// =============================================================================
// PURCHASE TYPES
// =============================================================================

// PurchaseRequest buys credits from a batch.
type PurchaseRequest struct {
	BuyerID string `json:"buyer_id"`
	Amount  string `json:"amount"`
}

// TransactionDTO represents one purchase record.
type TransactionDTO struct {
	ID             string `json:"id"`
	BatchID        string `json:"batch_id"`
	BuyerID        string `json:"buyer_id"`
	Amount         string `json:"amount"`
	PricePerCredit string `json:"price_per_credit"`
	TotalPrice     string `json:"total_price"`
	CreatedAt      string `json:"created_at"`
}

func toTransactionDTO(rec *ledger.TransactionRecord) TransactionDTO {
	return TransactionDTO{
		ID:             string(rec.ID),
		BatchID:        string(rec.BatchID),
		BuyerID:        string(rec.BuyerID),
		Amount:         rec.Amount.String(),
		PricePerCredit: rec.PricePerCredit.String(),
		TotalPrice:     rec.TotalPrice.String(),
		CreatedAt:      rec.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(recs []*ledger.TransactionRecord) []TransactionDTO {
	dtos := make([]TransactionDTO, len(recs))
	for i, r := range recs {
		dtos[i] = toTransactionDTO(r)
	}
	return dtos
}

// PurchaseResponse returns the updated batch alongside the new record.
type PurchaseResponse struct {
	Batch       BatchDTO       `json:"batch"`
	Transaction TransactionDTO `json:"transaction"`
}

// =============================================================================
// RETIREMENT TYPES
// =============================================================================

// RetireRequest retires held credits against an eco-action.
type RetireRequest struct {
	BuyerID   string `json:"buyer_id"`
	Amount    string `json:"amount"`
	EcoAction string `json:"eco_action"`
}

// RetirementDTO represents one retirement record.
type RetirementDTO struct {
	ID        string `json:"id"`
	BatchID   string `json:"batch_id"`
	BuyerID   string `json:"buyer_id"`
	Amount    string `json:"amount"`
	EcoAction string `json:"eco_action"`
	CreatedAt string `json:"created_at"`
}

func toRetirementDTO(rec *ledger.RetirementRecord) RetirementDTO {
	return RetirementDTO{
		ID:        string(rec.ID),
		BatchID:   string(rec.BatchID),
		BuyerID:   string(rec.BuyerID),
		Amount:    rec.Amount.String(),
		EcoAction: rec.EcoAction,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
}

func toRetirementDTOs(recs []*ledger.RetirementRecord) []RetirementDTO {
	dtos := make([]RetirementDTO, len(recs))
	for i, r := range recs {
		dtos[i] = toRetirementDTO(r)
	}
	return dtos
}

// =============================================================================
// HOLDING AND STATS TYPES
// =============================================================================

// HoldingDTO is a buyer's derived position in one batch.
type HoldingDTO struct {
	BatchID   string `json:"batch_id"`
	BuyerID   string `json:"buyer_id"`
	Purchased string `json:"purchased"`
	Retired   string `json:"retired"`
	Retirable string `json:"retirable"`
}

// StatsDTO is the marketplace-wide rollup.
type StatsDTO struct {
	TotalIssued     string                      `json:"total_issued"`
	TotalAvailable  string                      `json:"total_available"`
	TotalSold       string                      `json:"total_sold"`
	TotalRetired    string                      `json:"total_retired"`
	BatchesByStatus map[string]int              `json:"batches_by_status"`
	Producers       map[string]ProducerStatsDTO `json:"producers"`
	Buyers          map[string]BuyerStatsDTO    `json:"buyers"`
}

type ProducerStatsDTO struct {
	Batches      int    `json:"batches"`
	Issued       string `json:"issued"`
	Sold         string `json:"sold"`
	SalesRevenue string `json:"sales_revenue"`
}

type BuyerStatsDTO struct {
	Purchases   int    `json:"purchases"`
	Purchased   string `json:"purchased"`
	Spent       string `json:"spent"`
	Retirements int    `json:"retirements"`
	Retired     string `json:"retired"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
