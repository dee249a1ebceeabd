package handler

import (
	"net/http"
	"strconv"

	"github.com/clinsupply/clinsupply-backend/internal/supply/service"
	"github.com/clinsupply/clinsupply-backend/pkg/httputil"
	"github.com/clinsupply/clinsupply-backend/pkg/logger"
)

// AlertHandler handles on-demand stock scans
type AlertHandler struct {
	alerts           *service.AlertService
	defaultThreshold int
	logger           *logger.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alerts *service.AlertService, defaultThreshold int, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		alerts:           alerts,
		defaultThreshold: defaultThreshold,
		logger:           log,
	}
}

// Scan runs a stock scan for the tenant and returns the findings.
// The expiration threshold defaults to the configured value and can be
// overridden with the threshold_days query parameter.
func (h *AlertHandler) Scan(w http.ResponseWriter, r *http.Request) {
	threshold := h.defaultThreshold
	if raw := r.URL.Query().Get("threshold_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 {
			threshold = parsed
		}
	}

	alerts, err := h.alerts.Scan(r.Context(), threshold)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alerts)
}
