package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
	"github.com/clinsupply/clinsupply-backend/internal/supply/service"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/httputil"
	"github.com/clinsupply/clinsupply-backend/pkg/logger"
)

// StockHandler handles stock ledger endpoints
type StockHandler struct {
	ledger *service.LedgerService
	logger *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(ledger *service.LedgerService, log *logger.Logger) *StockHandler {
	return &StockHandler{
		ledger: ledger,
		logger: log,
	}
}

type addStockRequest struct {
	LotCode        string    `json:"lot_code" validate:"required"`
	ExpirationDate time.Time `json:"expiration_date" validate:"required"`
	Quantity       int       `json:"quantity" validate:"required,gt=0"`
	ReferenceID    string    `json:"reference_id"`
}

type usageLineRequest struct {
	ProductID      string    `json:"product_id" validate:"required,uuid"`
	LotCode        string    `json:"lot_code" validate:"required"`
	ExpirationDate time.Time `json:"expiration_date" validate:"required"`
	Quantity       int       `json:"quantity" validate:"required,gt=0"`
}

type removeStockRequest struct {
	Lines       []usageLineRequest `json:"lines" validate:"required,min=1,dive"`
	ReferenceID string             `json:"reference_id"`
}

type checkAvailabilityRequest struct {
	Lines []usageLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type setMinimumRequest struct {
	MinimumStockLevel int `json:"minimum_stock_level" validate:"gte=0"`
}

func toUsageLines(reqs []usageLineRequest) []repository.UsageLine {
	lines := make([]repository.UsageLine, len(reqs))
	for i, r := range reqs {
		lines[i] = repository.UsageLine{
			ProductID:      r.ProductID,
			LotCode:        r.LotCode,
			ExpirationDate: r.ExpirationDate,
			Quantity:       r.Quantity,
		}
	}
	return lines
}

// List lists the tenant's ledger entries
func (h *StockHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.ListEntries(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entries)
}

// ListLow lists entries at or below their minimum stock level
func (h *StockHandler) ListLow(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.ListLowStock(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entries)
}

// ListExpiring lists stocked lots expiring within the requested window
func (h *StockHandler) ListExpiring(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.Error(w, errors.Validation(map[string]string{"days": "must be a number"}))
			return
		}
		days = parsed
	}

	lots, err := h.ledger.ListExpiring(r.Context(), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// Get gets the ledger entry of a product
func (h *StockHandler) Get(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	entry, err := h.ledger.GetEntry(r.Context(), productID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entry)
}

// ListLots lists a product's lots ordered by ascending expiration
func (h *StockHandler) ListLots(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	lots, err := h.ledger.ListAvailableLots(r.Context(), productID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// AddStock adds a lot quantity to a product's ledger entry
func (h *StockHandler) AddStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var req addStockRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	entry, err := h.ledger.AddStock(r.Context(), service.AddStockInput{
		ProductID:      productID,
		LotCode:        req.LotCode,
		ExpirationDate: req.ExpirationDate,
		Quantity:       req.Quantity,
		ReferenceID:    req.ReferenceID,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entry)
}

// RemoveStock deducts usage lines from the ledger atomically
func (h *StockHandler) RemoveStock(w http.ResponseWriter, r *http.Request) {
	var req removeStockRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.ledger.RemoveStock(r.Context(), toUsageLines(req.Lines), req.ReferenceID); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// CheckAvailability reports which lines the ledger cannot satisfy
func (h *StockHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	var req checkAvailabilityRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	issues, err := h.ledger.CheckAvailability(r.Context(), toUsageLines(req.Lines))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"available": len(issues) == 0,
		"issues":    issues,
	})
}

// SetMinimum updates a product's minimum stock level
func (h *StockHandler) SetMinimum(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var req setMinimumRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	entry, err := h.ledger.SetMinimumStockLevel(r.Context(), productID, req.MinimumStockLevel)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entry)
}
