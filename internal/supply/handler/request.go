package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinsupply/clinsupply-backend/internal/supply/service"
	"github.com/clinsupply/clinsupply-backend/pkg/httputil"
	"github.com/clinsupply/clinsupply-backend/pkg/logger"
)

// RequestHandler handles treatment request and patient endpoints
type RequestHandler struct {
	requests *service.RequestService
	logger   *logger.Logger
}

// NewRequestHandler creates a new request handler
func NewRequestHandler(requests *service.RequestService, log *logger.Logger) *RequestHandler {
	return &RequestHandler{
		requests: requests,
		logger:   log,
	}
}

type createRequestRequest struct {
	PatientID     string             `json:"patient_id" validate:"required,uuid"`
	RequestDate   time.Time          `json:"request_date"`
	TreatmentType *string            `json:"treatment_type"`
	Lines         []usageLineRequest `json:"lines" validate:"required,min=1,dive"`
	Notes         *string            `json:"notes"`
}

type updateRequestRequest struct {
	RequestDate   *time.Time         `json:"request_date"`
	TreatmentType *string            `json:"treatment_type"`
	Lines         []usageLineRequest `json:"lines" validate:"omitempty,min=1,dive"`
	Notes         *string            `json:"notes"`
}

type cancelRequestRequest struct {
	Reason string `json:"reason"`
}

type createPatientRequest struct {
	Name string `json:"name" validate:"required"`
}

// Create registers a treatment request
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	request, err := h.requests.Create(r.Context(), service.CreateRequestInput{
		PatientID:     req.PatientID,
		RequestDate:   req.RequestDate,
		TreatmentType: req.TreatmentType,
		Lines:         toUsageLines(req.Lines),
		Notes:         req.Notes,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, request)
}

// Get gets a treatment request by ID
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	request, err := h.requests.Get(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, request)
}

// List lists the tenant's requests in a given state
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "pending"
	}

	requests, err := h.requests.ListByStatus(r.Context(), status)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, requests)
}

// Update edits a pending request
func (h *RequestHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateRequestRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	input := service.UpdateRequestInput{
		RequestDate:   req.RequestDate,
		TreatmentType: req.TreatmentType,
		Notes:         req.Notes,
	}
	if req.Lines != nil {
		input.Lines = toUsageLines(req.Lines)
	}

	request, err := h.requests.Update(r.Context(), id, input)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, request)
}

// Consume deducts a request's usage lines from the ledger
func (h *RequestHandler) Consume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	request, err := h.requests.Consume(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, request)
}

// Cancel voids a pending request
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req cancelRequestRequest
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	request, err := h.requests.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, request)
}

// CreatePatient registers a patient record
func (h *RequestHandler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req createPatientRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	patient, err := h.requests.CreatePatient(r.Context(), req.Name)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, patient)
}

// GetPatient gets a patient by ID
func (h *RequestHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	patient, err := h.requests.GetPatient(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, patient)
}

// ListByPatient lists a patient's requests, newest first
func (h *RequestHandler) ListByPatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	requests, err := h.requests.ListByPatient(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, requests)
}

// ListTreatments lists a patient's treatment history, newest first
func (h *RequestHandler) ListTreatments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	treatments, err := h.requests.ListTreatments(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, treatments)
}
