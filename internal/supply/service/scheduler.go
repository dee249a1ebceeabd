package service

import (
	"context"
	"time"

	"github.com/clinsupply/clinsupply-backend/pkg/database"
	"github.com/clinsupply/clinsupply-backend/pkg/logger"
	"github.com/clinsupply/clinsupply-backend/pkg/tenant"
)

// AlertScheduler periodically runs a stock scan for every active
// tenant. Scan failures are logged per tenant and never stop the
// scheduler; the next tick starts over from a clean slate.
type AlertScheduler struct {
	db            *database.DB
	alerts        *AlertService
	interval      time.Duration
	thresholdDays int
	logger        *logger.Logger
}

// NewAlertScheduler creates a new alert scheduler
func NewAlertScheduler(db *database.DB, alerts *AlertService, interval time.Duration, thresholdDays int, log *logger.Logger) *AlertScheduler {
	return &AlertScheduler{
		db:            db,
		alerts:        alerts,
		interval:      interval,
		thresholdDays: thresholdDays,
		logger:        log.WithComponent("alert-scheduler"),
	}
}

// Start runs the scan loop until ctx is cancelled
func (s *AlertScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.interval).
		Int("threshold_days", s.thresholdDays).
		Msg("alert scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("alert scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

type scheduledTenant struct {
	ID   string `db:"id"`
	Slug string `db:"slug"`
}

func (s *AlertScheduler) runOnce(ctx context.Context) {
	tenants := make([]scheduledTenant, 0)
	query := `SELECT id, slug FROM tenants WHERE deleted_at IS NULL AND subscription_status = 'active'`
	if err := s.db.SelectContext(ctx, &tenants, query); err != nil {
		s.logger.Error().Err(err).Msg("failed to list tenants for scan")
		return
	}

	for _, t := range tenants {
		tenantCtx := tenant.WithTenantContext(ctx, t.ID, t.Slug)
		alerts, err := s.alerts.Scan(tenantCtx, s.thresholdDays)
		if err != nil {
			s.logger.Error().Err(err).Str("tenant_id", t.ID).Msg("stock scan failed")
			continue
		}
		if len(alerts) > 0 {
			s.logger.Info().
				Str("tenant_id", t.ID).
				Int("findings", len(alerts)).
				Msg("stock scan raised alerts")
		}
	}
}
