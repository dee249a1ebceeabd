package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
	"github.com/clinsupply/clinsupply-backend/internal/supply/service"
	"github.com/clinsupply/clinsupply-backend/pkg/httputil"
	"github.com/clinsupply/clinsupply-backend/pkg/logger"
)

// InvoiceHandler handles supplier invoice endpoints
type InvoiceHandler struct {
	invoices *service.InvoiceService
	logger   *logger.Logger
}

// NewInvoiceHandler creates a new invoice handler
func NewInvoiceHandler(invoices *service.InvoiceService, log *logger.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		invoices: invoices,
		logger:   log,
	}
}

type invoiceLineRequest struct {
	ExternalCode   string    `json:"external_code" validate:"required"`
	Description    string    `json:"description"`
	Quantity       int       `json:"quantity" validate:"required,gt=0"`
	UnitPriceCents int64     `json:"unit_price_cents" validate:"required,gt=0"`
	LotCode        string    `json:"lot_code" validate:"required"`
	ExpirationDate time.Time `json:"expiration_date" validate:"required"`
}

type createInvoiceRequest struct {
	InvoiceNumber string               `json:"invoice_number" validate:"required"`
	Supplier      string               `json:"supplier" validate:"required"`
	EmissionDate  time.Time            `json:"emission_date" validate:"required"`
	Lines         []invoiceLineRequest `json:"lines" validate:"required,min=1,dive"`
	Status        string               `json:"status" validate:"omitempty,oneof=pending approved"`
}

type rejectInvoiceRequest struct {
	Reason string `json:"reason"`
}

// Create registers a supplier invoice
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	lines := make([]repository.InvoiceLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = repository.InvoiceLine{
			ExternalCode:   l.ExternalCode,
			Description:    l.Description,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
			LotCode:        l.LotCode,
			ExpirationDate: l.ExpirationDate,
		}
	}

	invoice, err := h.invoices.Create(r.Context(), service.CreateInvoiceInput{
		InvoiceNumber: req.InvoiceNumber,
		Supplier:      req.Supplier,
		EmissionDate:  req.EmissionDate,
		Lines:         lines,
		Status:        req.Status,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, invoice)
}

// Get gets an invoice by ID
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	invoice, err := h.invoices.Get(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, invoice)
}

// List lists the tenant's invoices, optionally filtered by status
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	invoices, err := h.invoices.List(r.Context(), status)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, invoices)
}

// Approve adds every invoice line to the ledger and marks the invoice
// approved
func (h *InvoiceHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	invoice, err := h.invoices.Approve(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, invoice)
}

// Reject marks a pending invoice rejected
func (h *InvoiceHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req rejectInvoiceRequest
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	invoice, err := h.invoices.Reject(r.Context(), id, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, invoice)
}

// Delete removes an invoice that has not been approved
func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.invoices.Delete(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}
