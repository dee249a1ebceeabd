package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clinsupply/clinsupply-backend/pkg/tenant"
)

// TestTenant represents a tenant created for testing
type TestTenant struct {
	ID   string
	Name string
	Slug string
}

// TenantManager registers test tenants against the shared supply schema.
// Domain tables carry a tenant_id column, so isolation between tests comes
// from each test using its own tenant ID rather than its own schema.
type TenantManager struct {
	db      *sqlx.DB
	tenants []TestTenant
	mu      sync.Mutex
}

// NewTenantManager creates a new tenant manager for tests
func NewTenantManager(db *sqlx.DB) *TenantManager {
	return &TenantManager{
		db:      db,
		tenants: make([]TestTenant, 0),
	}
}

// CreateTenant registers a new tenant for testing.
// Each test should use its own tenant to ensure complete isolation.
//
// Usage:
//
//	tm := testutil.NewTenantManager(db)
//	tn, _ := tm.CreateTenant(ctx, "test-clinic")
//	ctx = testutil.WithTestTenant(ctx, tn)
//
//	// Repository operations now see only this tenant's rows
//	entry, err := ledgerRepo.GetByProductID(ctx, productID)
func (tm *TenantManager) CreateTenant(ctx context.Context, name string) (*TestTenant, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	id := uuid.New().String()
	slug := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	// Suffix keeps slugs unique when tests reuse tenant names
	slug = fmt.Sprintf("%s-%s", slug, id[:8])

	_, err := tm.db.ExecContext(ctx, `
		INSERT INTO public.tenants (id, name, slug, subscription_status)
		VALUES ($1, $2, $3, 'active')
	`, id, name, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to register tenant: %w", err)
	}

	t := TestTenant{
		ID:   id,
		Name: name,
		Slug: slug,
	}

	tm.tenants = append(tm.tenants, t)
	return &t, nil
}

// tenantScopedTables lists the tables carrying a tenant_id column,
// in FK-safe deletion order.
var tenantScopedTables = []string{
	"patient_treatments",
	"treatment_requests",
	"patients",
	"invoices",
	"stock_ledger",
	"staff_cache",
}

// DropTenant removes a tenant and all rows belonging to it
func (tm *TenantManager) DropTenant(ctx context.Context, t *TestTenant) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := tm.deleteTenantRows(ctx, t.ID); err != nil {
		return err
	}

	// Remove from tracked tenants
	for i, tracked := range tm.tenants {
		if tracked.ID == t.ID {
			tm.tenants = append(tm.tenants[:i], tm.tenants[i+1:]...)
			break
		}
	}

	return nil
}

func (tm *TenantManager) deleteTenantRows(ctx context.Context, tenantID string) error {
	for _, table := range tenantScopedTables {
		_, err := tm.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE tenant_id = $1", table), tenantID)
		if err != nil {
			return fmt.Errorf("failed to clean table %s: %w", table, err)
		}
	}

	// Products provisioned by this tenant are shared-catalog rows; drop
	// the ones it owns so catalog tests stay independent.
	if _, err := tm.db.ExecContext(ctx, "DELETE FROM products WHERE owning_tenant_id = $1", tenantID); err != nil {
		return fmt.Errorf("failed to clean provisioned products: %w", err)
	}

	if _, err := tm.db.ExecContext(ctx, "DELETE FROM public.tenants WHERE id = $1", tenantID); err != nil {
		return fmt.Errorf("failed to delete tenant record: %w", err)
	}

	return nil
}

// Cleanup drops all tenants created by this manager.
// Call this in TestMain or test cleanup.
func (tm *TenantManager) Cleanup(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	var lastErr error
	for _, t := range tm.tenants {
		if err := tm.deleteTenantRows(ctx, t.ID); err != nil {
			lastErr = err
		}
	}

	tm.tenants = make([]TestTenant, 0)
	return lastErr
}

// WithTestTenant creates a context with tenant information for testing.
// This is the primary way to set up tenant context in tests.
func WithTestTenant(ctx context.Context, t *TestTenant) context.Context {
	return tenant.WithTenantContext(ctx, t.ID, t.Slug)
}

// WithTestTenantValues creates a context with custom tenant values.
// Useful for testing error cases or edge conditions.
func WithTestTenantValues(ctx context.Context, id, slug string) context.Context {
	return tenant.WithTenantContext(ctx, id, slug)
}

// TestTenantContext creates a context with a fake tenant for simple unit tests
// that don't need actual database isolation.
func TestTenantContext() context.Context {
	return tenant.WithTenantContext(
		context.Background(),
		"11111111-1111-1111-1111-111111111111",
		"test-tenant",
	)
}

// SupplyMigrations returns the supply service schema for tests
func SupplyMigrations() []string {
	return []string{
		// Shared product catalog
		`CREATE TABLE IF NOT EXISTS products (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			description TEXT,
			external_code VARCHAR(100) UNIQUE NOT NULL,
			category VARCHAR(100),
			unit VARCHAR(50),
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			owning_tenant_id UUID,
			approval_history JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT products_status_valid CHECK (status IN ('pending', 'approved'))
		)`,

		// Per-product stock ledger rows with embedded lot lists
		`CREATE TABLE IF NOT EXISTS stock_ledger (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id UUID NOT NULL,
			product_id UUID NOT NULL REFERENCES products(id),
			quantity_in_stock INT NOT NULL DEFAULT 0,
			minimum_stock_level INT NOT NULL DEFAULT 0,
			lots JSONB NOT NULL DEFAULT '[]',
			last_movement_direction VARCHAR(10),
			last_movement_quantity INT,
			last_movement_reference_id VARCHAR(100),
			last_movement_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT stock_ledger_quantity_non_negative CHECK (quantity_in_stock >= 0),
			CONSTRAINT stock_ledger_tenant_product_unique UNIQUE (tenant_id, product_id)
		)`,

		// Patients and their treatment history
		`CREATE TABLE IF NOT EXISTS patients (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id UUID NOT NULL,
			name VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS treatment_requests (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id UUID NOT NULL,
			patient_id UUID NOT NULL REFERENCES patients(id),
			request_date DATE NOT NULL,
			treatment_type VARCHAR(100),
			usage_lines JSONB NOT NULL DEFAULT '[]',
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			notes TEXT,
			performer_id UUID,
			warnings JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT treatment_requests_status_valid CHECK (status IN ('pending', 'consumed', 'cancelled'))
		)`,

		`CREATE TABLE IF NOT EXISTS patient_treatments (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id UUID NOT NULL,
			patient_id UUID NOT NULL REFERENCES patients(id),
			request_id UUID NOT NULL REFERENCES treatment_requests(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Supplier invoices
		`CREATE TABLE IF NOT EXISTS invoices (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id UUID NOT NULL,
			invoice_number VARCHAR(100) NOT NULL,
			supplier VARCHAR(255) NOT NULL,
			emission_date DATE NOT NULL,
			lines JSONB NOT NULL DEFAULT '[]',
			total_value_cents BIGINT NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			attachments JSONB NOT NULL DEFAULT '[]',
			created_by UUID,
			approved_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT invoices_status_valid CHECK (status IN ('pending', 'approved', 'rejected')),
			CONSTRAINT invoices_tenant_invoice_number_unique UNIQUE (tenant_id, invoice_number)
		)`,

		// Staff directory cache, maintained by the staff event consumer
		`CREATE TABLE IF NOT EXISTS staff_cache (
			staff_id UUID NOT NULL,
			tenant_id UUID NOT NULL,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255),
			role VARCHAR(100),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT staff_cache_tenant_staff_unique UNIQUE (tenant_id, staff_id)
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_stock_ledger_tenant ON stock_ledger(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_treatment_requests_tenant_patient ON treatment_requests(tenant_id, patient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_patient_treatments_patient ON patient_treatments(tenant_id, patient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_tenant_status ON invoices(tenant_id, status)`,
	}
}
