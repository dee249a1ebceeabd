package repository

import (
	"context"

	"github.com/clinsupply/clinsupply-backend/pkg/database"
	"github.com/clinsupply/clinsupply-backend/pkg/tenant"
)

// withTenant runs fn inside a tenant transaction, reusing the one already
// carried by the context when a service has opened it. This lets services
// compose several repository calls into one atomic transaction while
// single calls remain transactional on their own.
func withTenant(db *database.DB, ctx context.Context, fn func(context.Context) error) error {
	if db.InTransaction(ctx) {
		return fn(ctx)
	}

	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	return db.WithTenantRLS(ctx, tenantID, fn)
}
