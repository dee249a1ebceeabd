package service

import (
	"context"
	"time"

	"github.com/clinsupply/clinsupply-backend/internal/supply/events"
	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/logger"
	"github.com/clinsupply/clinsupply-backend/pkg/messaging"
	"github.com/clinsupply/clinsupply-backend/pkg/tenant"
)

// Alert types raised by a stock scan
const (
	AlertLowStock     = "low_stock"
	AlertExpiringSoon = "expiring_soon"
	AlertExpired      = "expired"
)

// Alert is one finding of a stock scan
type Alert struct {
	Type                string     `json:"type"`
	ProductID           string     `json:"product_id"`
	ProductName         string     `json:"product_name"`
	LotCode             string     `json:"lot_code,omitempty"`
	ExpirationDate      *time.Time `json:"expiration_date,omitempty"`
	DaysUntilExpiration int        `json:"days_until_expiration,omitempty"`
	QuantityInStock     int        `json:"quantity_in_stock"`
	MinimumStockLevel   int        `json:"minimum_stock_level,omitempty"`
}

// AlertService evaluates the tenant's ledger for low stock and lot
// expiration. Scans are stateless and read-only: findings are computed
// fresh each time and published as events, never stored.
type AlertService struct {
	ledgerRepo *repository.LedgerRepository
	publisher  events.Publisher
	logger     *logger.Logger
	now        func() time.Time
}

// NewAlertService creates a new alert service
func NewAlertService(ledgerRepo *repository.LedgerRepository, publisher events.Publisher, log *logger.Logger) *AlertService {
	return &AlertService{
		ledgerRepo: ledgerRepo,
		publisher:  publisher,
		logger:     log.WithComponent("alert-service"),
		now:        time.Now,
	}
}

// Scan walks every ledger entry of the tenant in context and returns
// the findings: entries at or below their minimum stock level, lots
// already expired, and lots expiring within thresholdDays. One alert
// event is published per finding.
func (s *AlertService) Scan(ctx context.Context, thresholdDays int) ([]Alert, error) {
	if thresholdDays <= 0 {
		return nil, errors.Validation(map[string]string{"threshold_days": "must be positive"})
	}

	rows, err := s.ledgerRepo.ListForScan(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	alerts := make([]Alert, 0)
	for _, row := range rows {
		if row.MinimumStockLevel > 0 && row.QuantityInStock <= row.MinimumStockLevel {
			alerts = append(alerts, Alert{
				Type:              AlertLowStock,
				ProductID:         row.ProductID,
				ProductName:       row.ProductName,
				QuantityInStock:   row.QuantityInStock,
				MinimumStockLevel: row.MinimumStockLevel,
			})
		}

		for _, lot := range row.Lots.SortedByExpiration() {
			days := daysUntil(now, lot.ExpirationDate)
			alertType := ""
			switch {
			case !lot.ExpirationDate.After(now):
				alertType = AlertExpired
			case days <= thresholdDays:
				alertType = AlertExpiringSoon
			default:
				continue
			}

			expiration := lot.ExpirationDate
			alerts = append(alerts, Alert{
				Type:                alertType,
				ProductID:           row.ProductID,
				ProductName:         row.ProductName,
				LotCode:             lot.LotCode,
				ExpirationDate:      &expiration,
				DaysUntilExpiration: days,
				QuantityInStock:     row.QuantityInStock,
			})
		}
	}

	tenantID, _ := tenant.TenantID(ctx)
	for _, alert := range alerts {
		s.publisher.Publish(ctx, messaging.EventAlertRaised, messaging.AlertRaisedEvent{
			TenantID:            tenantID,
			AlertType:           alert.Type,
			ProductID:           alert.ProductID,
			ProductName:         alert.ProductName,
			LotCode:             alert.LotCode,
			ExpirationDate:      alert.ExpirationDate,
			DaysUntilExpiration: alert.DaysUntilExpiration,
			QuantityInStock:     alert.QuantityInStock,
			MinimumStockLevel:   alert.MinimumStockLevel,
		})
	}

	return alerts, nil
}

// daysUntil returns the number of whole days from now until date,
// rounding partial days up. Past dates yield zero or negative values.
func daysUntil(now, date time.Time) int {
	d := date.Sub(now)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}
