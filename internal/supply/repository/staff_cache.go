package repository

import (
	"context"
	"database/sql"

	"github.com/clinsupply/clinsupply-backend/pkg/database"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/tenant"
)

// StaffMember is the locally cached projection of a staff directory
// record. The supply service stores actor IDs on requests, invoices and
// approvals; this cache lets it resolve those IDs to names without
// calling the directory service.
type StaffMember struct {
	StaffID  string  `db:"staff_id" json:"staff_id"`
	TenantID string  `db:"tenant_id" json:"-"`
	Name     string  `db:"name" json:"name"`
	Email    *string `db:"email" json:"email,omitempty"`
	Role     *string `db:"role" json:"role,omitempty"`
}

// StaffCacheRepository handles staff cache persistence
type StaffCacheRepository struct {
	db *database.DB
}

// NewStaffCacheRepository creates a new staff cache repository
func NewStaffCacheRepository(db *database.DB) *StaffCacheRepository {
	return &StaffCacheRepository{db: db}
}

// Set creates or updates a cached staff member
func (r *StaffCacheRepository) Set(ctx context.Context, member *StaffMember) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	member.TenantID = tenantID

	return withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO staff_cache (staff_id, tenant_id, name, email, role, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (tenant_id, staff_id)
			DO UPDATE SET name = $3, email = $4, role = $5, updated_at = NOW()
		`
		_, err := r.db.ExecContext(ctx, query, member.StaffID, tenantID, member.Name, member.Email, member.Role)
		if err != nil {
			return errors.Wrap(err, "DATABASE_ERROR", "failed to cache staff member", 500)
		}
		return nil
	})
}

// Get returns the cached staff member with the given ID
func (r *StaffCacheRepository) Get(ctx context.Context, staffID string) (*StaffMember, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var member StaffMember
	err = withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `SELECT staff_id, tenant_id, name, email, role FROM staff_cache WHERE tenant_id = $1 AND staff_id = $2`
		return r.db.GetContext(ctx, &member, query, tenantID, staffID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("staff member")
		}
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to get staff member", 500)
	}

	return &member, nil
}

// Delete removes a cached staff member
func (r *StaffCacheRepository) Delete(ctx context.Context, staffID string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `DELETE FROM staff_cache WHERE tenant_id = $1 AND staff_id = $2`
		_, err := r.db.ExecContext(ctx, query, tenantID, staffID)
		if err != nil {
			return errors.Wrap(err, "DATABASE_ERROR", "failed to delete staff member", 500)
		}
		return nil
	})
}
