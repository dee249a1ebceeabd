package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinsupply/clinsupply-backend/pkg/database"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
)

// Product catalog lifecycle states
const (
	ProductStatusPending  = "pending"
	ProductStatusApproved = "approved"
)

// ApprovalRecord is one append-only entry of a product's approval history
type ApprovalRecord struct {
	ApproverID string    `json:"approver_id"`
	ApprovedAt time.Time `json:"approved_at"`
	Notes      string    `json:"notes,omitempty"`
}

// ApprovalHistory is the JSONB-stored list of approval records
type ApprovalHistory []ApprovalRecord

// Value implements driver.Valuer for JSONB storage
func (h ApprovalHistory) Value() (driver.Value, error) {
	if h == nil {
		h = ApprovalHistory{}
	}
	return json.Marshal(h)
}

// Scan implements sql.Scanner for JSONB retrieval
func (h *ApprovalHistory) Scan(src interface{}) error {
	if src == nil {
		*h = ApprovalHistory{}
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ApprovalHistory", src)
	}

	return json.Unmarshal(data, h)
}

// Product is a shared catalog entry. The catalog is global across
// tenants; only ledger rows are tenant-scoped. Products enter the
// catalog either through explicit registration or auto-provisioning
// from an invoice line, in which case they start in pending state.
type Product struct {
	ID              string          `db:"id" json:"id"`
	Name            string          `db:"name" json:"name"`
	Description     *string         `db:"description" json:"description,omitempty"`
	ExternalCode    string          `db:"external_code" json:"external_code"`
	Category        *string         `db:"category" json:"category,omitempty"`
	Unit            *string         `db:"unit" json:"unit,omitempty"`
	Status          string          `db:"status" json:"status"`
	OwningTenantID  *string         `db:"owning_tenant_id" json:"owning_tenant_id,omitempty"`
	ApprovalHistory ApprovalHistory `db:"approval_history" json:"approval_history"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// IsApproved reports whether the product has cleared catalog approval.
func (p *Product) IsApproved() bool {
	return p.Status == ProductStatusApproved
}

const productColumns = `
	id, name, description, external_code, category, unit, status,
	owning_tenant_id, approval_history, created_at, updated_at`

// ProductRepository handles shared product catalog persistence
type ProductRepository struct {
	db *database.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *database.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create inserts a new catalog product
func (r *ProductRepository) Create(ctx context.Context, product *Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	if product.Status == "" {
		product.Status = ProductStatusPending
	}
	if product.ApprovalHistory == nil {
		product.ApprovalHistory = ApprovalHistory{}
	}

	query := `
		INSERT INTO products (
			id, name, description, external_code, category, unit, status,
			owning_tenant_id, approval_history
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		product.ID, product.Name, product.Description, product.ExternalCode,
		product.Category, product.Unit, product.Status,
		product.OwningTenantID, product.ApprovalHistory,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return errors.Wrap(err, "DATABASE_ERROR", "failed to create product", 500)
	}

	return nil
}

// GetByID returns a product by its ID
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*Product, error) {
	var product Product
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if err := r.db.GetContext(ctx, &product, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("product")
		}
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to get product", 500)
	}
	return &product, nil
}

// GetByExternalCode returns a product by its supplier-facing code
func (r *ProductRepository) GetByExternalCode(ctx context.Context, externalCode string) (*Product, error) {
	var product Product
	query := `SELECT ` + productColumns + ` FROM products WHERE external_code = $1`
	if err := r.db.GetContext(ctx, &product, query, externalCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("product")
		}
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to get product", 500)
	}
	return &product, nil
}

// ListByStatus returns catalog products in the given lifecycle state
func (r *ProductRepository) ListByStatus(ctx context.Context, status string) ([]Product, error) {
	products := make([]Product, 0)
	query := `SELECT ` + productColumns + ` FROM products WHERE status = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &products, query, status); err != nil {
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to list products", 500)
	}
	return products, nil
}

// Approve flips a pending product to approved and appends the approval
// record. The status gate and the update run as one statement, so a
// product that is already approved fails with AlreadyApproved no matter
// how concurrent approvals interleave.
func (r *ProductRepository) Approve(ctx context.Context, id string, record ApprovalRecord) (*Product, error) {
	query := `
		UPDATE products
		SET status = $1, approval_history = approval_history || $2::jsonb, updated_at = NOW()
		WHERE id = $3 AND status = $4
		RETURNING ` + productColumns

	var product Product
	err := r.db.GetContext(ctx, &product, query,
		ProductStatusApproved, ApprovalHistory{record}, id, ProductStatusPending)
	if err == nil {
		return &product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to approve product", 500)
	}

	// No pending row: either the product is gone or it already cleared
	// the gate.
	existing, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, errors.AlreadyApproved(existing.ExternalCode)
}
