package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinsupply/clinsupply-backend/internal/supply/service"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/httputil"
	"github.com/clinsupply/clinsupply-backend/pkg/logger"
)

// ProductHandler handles product catalog endpoints
type ProductHandler struct {
	catalog *service.CatalogService
	logger  *logger.Logger
}

// NewProductHandler creates a new product handler
func NewProductHandler(catalog *service.CatalogService, log *logger.Logger) *ProductHandler {
	return &ProductHandler{
		catalog: catalog,
		logger:  log,
	}
}

type registerProductRequest struct {
	Name         string  `json:"name" validate:"required"`
	Description  *string `json:"description"`
	ExternalCode string  `json:"external_code" validate:"required"`
	Category     *string `json:"category"`
	Unit         *string `json:"unit"`
}

type approveProductRequest struct {
	Notes string `json:"notes"`
}

// Register adds a product to the catalog in pending state
func (h *ProductHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerProductRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	product, err := h.catalog.Register(r.Context(), service.RegisterProductInput{
		Name:         req.Name,
		Description:  req.Description,
		ExternalCode: req.ExternalCode,
		Category:     req.Category,
		Unit:         req.Unit,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, product)
}

// Get gets a catalog product by ID
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	product, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, product)
}

// List lists catalog products by status
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "approved"
	}

	var (
		products interface{}
		err      error
	)
	switch status {
	case "pending":
		products, err = h.catalog.ListPending(r.Context())
	case "approved":
		products, err = h.catalog.ListApproved(r.Context())
	default:
		err = errors.Validation(map[string]string{"status": "must be pending or approved"})
	}
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, products)
}

// Approve clears a pending product for stock movements
func (h *ProductHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req approveProductRequest
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	product, err := h.catalog.Approve(r.Context(), id, req.Notes)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, product)
}
