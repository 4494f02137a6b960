/*
handlers.go - HTTP API handlers for the credit batch ledger

PURPOSE:
  Exposes the ledger engine via REST. Handles HTTP request/response, JSON
  serialization, and delegates all domain decisions to the engine.

ENDPOINTS:
  Batches:
    POST   /api/batches                    Issue a batch
    GET    /api/batches                    List all batches
    GET    /api/batches/available          Purchasable inventory
    GET    /api/batches/{id}               Batch detail
    POST   /api/batches/{id}/purchase      Buy credits
    POST   /api/batches/{id}/retire        Retire held credits
    GET    /api/batches/{id}/transactions  Purchases for a batch
    GET    /api/batches/{id}/retirements   Retirements for a batch
    GET    /api/batches/{id}/holdings/{buyerId}  Derived holding

  Participants:
    GET    /api/producers/{id}/batches     Producer inventory
    GET    /api/buyers/{id}/transactions   Buyer purchase history
    GET    /api/buyers/{id}/retirements    Buyer retirement history

  Admin:
    GET    /api/transactions               All purchases
    GET    /api/retirements                All retirements
    GET    /api/stats                      Marketplace rollup

ERROR MAPPING:
  400: invalid input
  404: unknown batch
  409: insufficient credits / exhausted batch / insufficient holding /
       contention (the caller may retry contention wholesale)
  500: storage failures

IDENTITY:
  Producer and buyer ids arrive pre-verified from the identity layer; the
  handlers trust them as given and do no authentication.

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/verdant/carbon-ledger/ledger"
)

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
}

// NewHandler creates a handler over the given engine.
func NewHandler(engine *ledger.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// IssueBatch mints a new batch.
func (h *Handler) IssueBatch(w http.ResponseWriter, r *http.Request) {
	var req IssueBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	issued, err := parseAmount(req.IssuedAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid issued_amount", err)
		return
	}
	price, err := parseAmount(req.PricePerCredit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price_per_credit", err)
		return
	}

	batch, err := h.Engine.Issue(r.Context(), ledger.ProducerID(req.ProducerID), issued, price)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(batch))
}

// ListBatches returns every batch, newest first.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Engine.Store.Batches().List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batches", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTOs(batches))
}

// ListAvailableBatches returns purchasable inventory.
func (h *Handler) ListAvailableBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Engine.ListPurchasable(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list available batches", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTOs(batches))
}

// GetBatch returns a single batch.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := ledger.BatchID(chi.URLParam(r, "id"))

	batch, err := h.Engine.Store.Batches().Get(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(batch))
}

// ListBatchesByProducer returns a producer's issued inventory.
func (h *Handler) ListBatchesByProducer(w http.ResponseWriter, r *http.Request) {
	producerID := ledger.ProducerID(chi.URLParam(r, "id"))

	batches, err := h.Engine.Store.Batches().ListByProducer(r.Context(), producerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list producer batches", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTOs(batches))
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// PurchaseCredits buys credits from a batch.
func (h *Handler) PurchaseCredits(w http.ResponseWriter, r *http.Request) {
	batchID := ledger.BatchID(chi.URLParam(r, "id"))

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	batch, rec, err := h.Engine.Purchase(r.Context(), batchID, ledger.BuyerID(req.BuyerID), amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, PurchaseResponse{
		Batch:       toBatchDTO(batch),
		Transaction: toTransactionDTO(rec),
	})
}

// ListBatchTransactions returns all purchases for a batch.
func (h *Handler) ListBatchTransactions(w http.ResponseWriter, r *http.Request) {
	batchID := ledger.BatchID(chi.URLParam(r, "id"))

	recs, err := h.Engine.Store.Transactions().ListByBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(recs))
}

// ListBuyerTransactions returns a buyer's cross-batch purchase history.
func (h *Handler) ListBuyerTransactions(w http.ResponseWriter, r *http.Request) {
	buyerID := ledger.BuyerID(chi.URLParam(r, "id"))

	recs, err := h.Engine.Store.Transactions().ListByBuyer(r.Context(), buyerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(recs))
}

// ListAllTransactions returns the full purchase log.
func (h *Handler) ListAllTransactions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Engine.Store.Transactions().ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(recs))
}

// =============================================================================
// RETIREMENT HANDLERS
// =============================================================================

// RetireCredits retires held credits against an eco-action.
func (h *Handler) RetireCredits(w http.ResponseWriter, r *http.Request) {
	batchID := ledger.BatchID(chi.URLParam(r, "id"))

	var req RetireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	rec, err := h.Engine.Retire(r.Context(), batchID, ledger.BuyerID(req.BuyerID), amount, req.EcoAction)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRetirementDTO(rec))
}

// ListBatchRetirements returns all retirements for a batch.
func (h *Handler) ListBatchRetirements(w http.ResponseWriter, r *http.Request) {
	batchID := ledger.BatchID(chi.URLParam(r, "id"))

	recs, err := h.Engine.Store.Retirements().ListByBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list retirements", err)
		return
	}
	writeJSON(w, http.StatusOK, toRetirementDTOs(recs))
}

// ListBuyerRetirements returns a buyer's cross-batch retirement history.
func (h *Handler) ListBuyerRetirements(w http.ResponseWriter, r *http.Request) {
	buyerID := ledger.BuyerID(chi.URLParam(r, "id"))

	recs, err := h.Engine.Store.Retirements().ListByBuyer(r.Context(), buyerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list retirements", err)
		return
	}
	writeJSON(w, http.StatusOK, toRetirementDTOs(recs))
}

// ListAllRetirements returns the full retirement log.
func (h *Handler) ListAllRetirements(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Engine.Store.Retirements().ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list retirements", err)
		return
	}
	writeJSON(w, http.StatusOK, toRetirementDTOs(recs))
}

// =============================================================================
// HOLDING AND STATS HANDLERS
// =============================================================================

// GetHolding returns a buyer's derived position in one batch.
func (h *Handler) GetHolding(w http.ResponseWriter, r *http.Request) {
	batchID := ledger.BatchID(chi.URLParam(r, "id"))
	buyerID := ledger.BuyerID(chi.URLParam(r, "buyerId"))

	// 404 for unknown batches; a zero holding in a real batch is a valid answer.
	if _, err := h.Engine.Store.Batches().Get(r.Context(), batchID); err != nil {
		writeLedgerError(w, err)
		return
	}

	holding, err := h.Engine.Holding(r.Context(), batchID, buyerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute holding", err)
		return
	}
	writeJSON(w, http.StatusOK, HoldingDTO{
		BatchID:   string(holding.BatchID),
		BuyerID:   string(holding.BuyerID),
		Purchased: holding.Purchased.String(),
		Retired:   holding.Retired.String(),
		Retirable: holding.Retirable.String(),
	})
}

// GetStats returns the marketplace rollup.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Engine.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute stats", err)
		return
	}

	dto := StatsDTO{
		TotalIssued:     stats.TotalIssued.String(),
		TotalAvailable:  stats.TotalAvailable.String(),
		TotalSold:       stats.TotalSold.String(),
		TotalRetired:    stats.TotalRetired.String(),
		BatchesByStatus: make(map[string]int, len(stats.BatchesByStatus)),
		Producers:       make(map[string]ProducerStatsDTO, len(stats.Producers)),
		Buyers:          make(map[string]BuyerStatsDTO, len(stats.Buyers)),
	}
	for status, count := range stats.BatchesByStatus {
		dto.BatchesByStatus[string(status)] = count
	}
	for id, p := range stats.Producers {
		dto.Producers[string(id)] = ProducerStatsDTO{
			Batches:      p.Batches,
			Issued:       p.Issued.String(),
			Sold:         p.Sold.String(),
			SalesRevenue: p.SalesRevenue.String(),
		}
	}
	for id, b := range stats.Buyers {
		dto.Buyers[string(id)] = BuyerStatsDTO{
			Purchases:   b.Purchases,
			Purchased:   b.Purchased.String(),
			Spent:       b.Spent.String(),
			Retirements: b.Retirements,
			Retired:     b.Retired.String(),
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseAmount(s string) (ledger.Amount, error) {
	if s == "" {
		return ledger.Amount{}, errors.New("amount is required")
	}
	return decimal.NewFromString(s)
}

// writeLedgerError maps domain errors to HTTP status codes.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Batch not found", err)
	case errors.Is(err, ledger.ErrInsufficientCredits):
		writeError(w, http.StatusConflict, "Insufficient credits", err)
	case errors.Is(err, ledger.ErrBatchExhausted):
		writeError(w, http.StatusConflict, "Batch exhausted", err)
	case errors.Is(err, ledger.ErrInsufficientHolding):
		writeError(w, http.StatusConflict, "Insufficient holding", err)
	case errors.Is(err, ledger.ErrContention):
		writeError(w, http.StatusConflict, "Too much contention, retry", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
