package service

import (
	"context"
	"time"

	"github.com/clinsupply/clinsupply-backend/pkg/database"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/logger"
	"github.com/clinsupply/clinsupply-backend/pkg/tenant"
)

const (
	txMaxAttempts  = 5
	txRetryBackoff = 50 * time.Millisecond
)

// runTenantTx runs fn inside a tenant transaction, retrying a bounded
// number of times when the database reports a serialization failure or
// deadlock. fn must be safe to re-run from scratch: all reads, locks and
// mutations happen inside it.
func runTenantTx(ctx context.Context, db *database.DB, log *logger.Logger, fn func(context.Context) error) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= txMaxAttempts; attempt++ {
		err = db.WithTenantRLS(ctx, tenantID, fn)
		if err == nil || !database.IsRetryableConflict(err) {
			return err
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("tenant_id", tenantID).
			Msg("transaction conflict, retrying")
		time.Sleep(time.Duration(attempt) * txRetryBackoff)
	}

	return errors.StorageConflict()
}
