package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/clinsupply/clinsupply-backend/pkg/database"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/tenant"
)

// Movement directions recorded on ledger entries
const (
	MovementIn  = "in"
	MovementOut = "out"
)

// LedgerEntry is the per-product stock record of a tenant. The lot list
// is embedded as JSONB; quantity_in_stock always equals the sum of the
// lot quantities.
type LedgerEntry struct {
	ID                      string     `db:"id" json:"id"`
	TenantID                string     `db:"tenant_id" json:"-"`
	ProductID               string     `db:"product_id" json:"product_id"`
	QuantityInStock         int        `db:"quantity_in_stock" json:"quantity_in_stock"`
	MinimumStockLevel       int        `db:"minimum_stock_level" json:"minimum_stock_level"`
	Lots                    LotList    `db:"lots" json:"lots"`
	LastMovementDirection   *string    `db:"last_movement_direction" json:"last_movement_direction,omitempty"`
	LastMovementQuantity    *int       `db:"last_movement_quantity" json:"last_movement_quantity,omitempty"`
	LastMovementReferenceID *string    `db:"last_movement_reference_id" json:"last_movement_reference_id,omitempty"`
	LastMovementAt          *time.Time `db:"last_movement_at" json:"last_movement_at,omitempty"`
	CreatedAt               time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time  `db:"updated_at" json:"updated_at"`
}

// RecordMovement stamps the last movement audit fields on the entry.
func (e *LedgerEntry) RecordMovement(direction string, quantity int, referenceID string, at time.Time) {
	e.LastMovementDirection = &direction
	e.LastMovementQuantity = &quantity
	e.LastMovementAt = &at
	if referenceID != "" {
		e.LastMovementReferenceID = &referenceID
	} else {
		e.LastMovementReferenceID = nil
	}
}

// ScanRow is a ledger entry joined with its product, used by the
// read-only alert scan.
type ScanRow struct {
	LedgerEntry
	ProductName string `db:"product_name"`
}

const ledgerColumns = `
	id, tenant_id, product_id, quantity_in_stock, minimum_stock_level, lots,
	last_movement_direction, last_movement_quantity, last_movement_reference_id,
	last_movement_at, created_at, updated_at`

// LedgerRepository handles stock ledger persistence
type LedgerRepository struct {
	db *database.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// GetByProductID returns the tenant's ledger entry for a product.
// TENANT-ISOLATED: rows are filtered by the tenant in context.
func (r *LedgerRepository) GetByProductID(ctx context.Context, productID string) (*LedgerEntry, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var entry LedgerEntry
	err = withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `SELECT ` + ledgerColumns + `
			FROM stock_ledger WHERE tenant_id = $1 AND product_id = $2`
		return r.db.GetContext(ctx, &entry, query, tenantID, productID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("ledger entry")
		}
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to get ledger entry", 500)
	}

	return &entry, nil
}

// List returns all ledger entries of the tenant in context.
func (r *LedgerRepository) List(ctx context.Context) ([]LedgerEntry, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]LedgerEntry, 0)
	err = withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `SELECT ` + ledgerColumns + `
			FROM stock_ledger WHERE tenant_id = $1 ORDER BY created_at`
		return r.db.SelectContext(ctx, &entries, query, tenantID)
	})
	if err != nil {
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to list ledger entries", 500)
	}

	return entries, nil
}

// ListForScan returns all ledger entries of the tenant joined with their
// product names. Read-only; used by the alert evaluator.
func (r *LedgerRepository) ListForScan(ctx context.Context) ([]ScanRow, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]ScanRow, 0)
	err = withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `
			SELECT l.id, l.tenant_id, l.product_id, l.quantity_in_stock, l.minimum_stock_level,
			       l.lots, l.last_movement_direction, l.last_movement_quantity,
			       l.last_movement_reference_id, l.last_movement_at, l.created_at, l.updated_at,
			       p.name AS product_name
			FROM stock_ledger l
			JOIN products p ON p.id = l.product_id
			WHERE l.tenant_id = $1
			ORDER BY p.name`
		return r.db.SelectContext(ctx, &rows, query, tenantID)
	})
	if err != nil {
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to scan ledger", 500)
	}

	return rows, nil
}

// LockForUpdate loads and row-locks the tenant's ledger entries for the
// given products. Entries are locked in ascending product_id order so
// concurrent multi-line removals cannot deadlock each other.
// MUST be called inside an active tenant transaction.
func (r *LedgerRepository) LockForUpdate(ctx context.Context, productIDs []string) ([]LedgerEntry, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]LedgerEntry, 0, len(productIDs))
	query := `SELECT ` + ledgerColumns + `
		FROM stock_ledger
		WHERE tenant_id = $1 AND product_id = ANY($2)
		ORDER BY product_id
		FOR UPDATE`
	if err := r.db.SelectContext(ctx, &entries, query, tenantID, pq.Array(productIDs)); err != nil {
		return nil, err
	}

	return entries, nil
}

// GetForUpdate loads and row-locks a single ledger entry.
// MUST be called inside an active tenant transaction.
func (r *LedgerRepository) GetForUpdate(ctx context.Context, productID string) (*LedgerEntry, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var entry LedgerEntry
	query := `SELECT ` + ledgerColumns + `
		FROM stock_ledger WHERE tenant_id = $1 AND product_id = $2 FOR UPDATE`
	if err := r.db.GetContext(ctx, &entry, query, tenantID, productID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("ledger entry")
		}
		return nil, err
	}

	return &entry, nil
}

// GetOrCreateForUpdate returns the tenant's locked ledger entry for a
// product, inserting a zero-stock row first when none exists. A racing
// first insert is absorbed by ON CONFLICT DO NOTHING, so the loser ends
// up locking the winner's row instead of surfacing a conflict.
// MUST be called inside an active tenant transaction.
func (r *LedgerRepository) GetOrCreateForUpdate(ctx context.Context, productID string) (*LedgerEntry, error) {
	entry, err := r.GetForUpdate(ctx, productID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO stock_ledger (id, tenant_id, product_id, lots)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, product_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, uuid.New().String(), tenantID, productID, LotList{}); err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return nil, appErr
		}
		return nil, err
	}

	return r.GetForUpdate(ctx, productID)
}

// Create inserts a fresh ledger entry for a product.
// MUST be called inside an active tenant transaction.
func (r *LedgerRepository) Create(ctx context.Context, entry *LedgerEntry) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.TenantID = tenantID
	if entry.Lots == nil {
		entry.Lots = LotList{}
	}

	query := `
		INSERT INTO stock_ledger (
			id, tenant_id, product_id, quantity_in_stock, minimum_stock_level, lots,
			last_movement_direction, last_movement_quantity, last_movement_reference_id, last_movement_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowxContext(ctx, query,
		entry.ID, tenantID, entry.ProductID, entry.QuantityInStock, entry.MinimumStockLevel,
		entry.Lots, entry.LastMovementDirection, entry.LastMovementQuantity,
		entry.LastMovementReferenceID, entry.LastMovementAt,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	return nil
}

// Save persists the mutable state of a locked ledger entry.
// MUST be called inside an active tenant transaction holding the row lock.
func (r *LedgerRepository) Save(ctx context.Context, entry *LedgerEntry) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE stock_ledger
		SET quantity_in_stock = $1, minimum_stock_level = $2, lots = $3,
		    last_movement_direction = $4, last_movement_quantity = $5,
		    last_movement_reference_id = $6, last_movement_at = $7,
		    updated_at = NOW()
		WHERE id = $8 AND tenant_id = $9
	`
	result, err := r.db.ExecContext(ctx, query,
		entry.QuantityInStock, entry.MinimumStockLevel, entry.Lots,
		entry.LastMovementDirection, entry.LastMovementQuantity,
		entry.LastMovementReferenceID, entry.LastMovementAt,
		entry.ID, tenantID,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound("ledger entry")
	}

	return nil
}
