package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clinsupply/clinsupply-backend/pkg/database"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/tenant"
)

// Invoice lifecycle states
const (
	InvoiceStatusPending  = "pending"
	InvoiceStatusApproved = "approved"
	InvoiceStatusRejected = "rejected"
)

// InvoiceLine is one product delivery on a supplier invoice. The product
// is referenced by its supplier-facing external code; resolution against
// the catalog happens at registration time.
type InvoiceLine struct {
	ExternalCode   string    `json:"external_code"`
	ProductID      string    `json:"product_id,omitempty"`
	Description    string    `json:"description,omitempty"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LotCode        string    `json:"lot_code"`
	ExpirationDate time.Time `json:"expiration_date"`
}

// TotalCents returns the line total in cents
func (l InvoiceLine) TotalCents() int64 {
	return int64(l.Quantity) * l.UnitPriceCents
}

// InvoiceLines is the JSONB-stored list of invoice lines
type InvoiceLines []InvoiceLine

// Value implements driver.Valuer for JSONB storage
func (il InvoiceLines) Value() (driver.Value, error) {
	if il == nil {
		il = InvoiceLines{}
	}
	return json.Marshal(il)
}

// Scan implements sql.Scanner for JSONB retrieval
func (il *InvoiceLines) Scan(src interface{}) error {
	return scanJSON(src, il, "InvoiceLines")
}

// Attachment is a stored reference to an uploaded invoice document
type Attachment struct {
	FileName   string    `json:"file_name"`
	FilePath   string    `json:"file_path"`
	MimeType   string    `json:"mime_type,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
	UploadedBy string    `json:"uploaded_by,omitempty"`
}

// Attachments is the JSONB-stored list of attachments
type Attachments []Attachment

// Value implements driver.Valuer for JSONB storage
func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		a = Attachments{}
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner for JSONB retrieval
func (a *Attachments) Scan(src interface{}) error {
	return scanJSON(src, a, "Attachments")
}

// Invoice is a supplier invoice awaiting approval. Approving it adds
// every line to the stock ledger exactly once.
type Invoice struct {
	ID              string       `db:"id" json:"id"`
	TenantID        string       `db:"tenant_id" json:"-"`
	InvoiceNumber   string       `db:"invoice_number" json:"invoice_number"`
	Supplier        string       `db:"supplier" json:"supplier"`
	EmissionDate    time.Time    `db:"emission_date" json:"emission_date"`
	Lines           InvoiceLines `db:"lines" json:"lines"`
	TotalValueCents int64        `db:"total_value_cents" json:"total_value_cents"`
	Status          string       `db:"status" json:"status"`
	Attachments     Attachments  `db:"attachments" json:"attachments"`
	CreatedBy       *string      `db:"created_by" json:"created_by,omitempty"`
	ApprovedAt      *time.Time   `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`

	// Warnings carries registration-time notices, such as lines whose
	// product had to be auto-provisioned. Not persisted.
	Warnings []string `db:"-" json:"warnings,omitempty"`
}

const invoiceColumns = `
	id, tenant_id, invoice_number, supplier, emission_date, lines,
	total_value_cents, status, attachments, created_by, approved_at,
	created_at, updated_at`

// InvoiceRepository handles supplier invoice persistence
type InvoiceRepository struct {
	db *database.DB
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *database.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Create inserts a new invoice for the tenant in context.
// Duplicate invoice numbers per tenant surface as a Conflict error.
func (r *InvoiceRepository) Create(ctx context.Context, invoice *Invoice) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if invoice.ID == "" {
		invoice.ID = uuid.New().String()
	}
	invoice.TenantID = tenantID
	if invoice.Status == "" {
		invoice.Status = InvoiceStatusPending
	}
	if invoice.Lines == nil {
		invoice.Lines = InvoiceLines{}
	}
	if invoice.Attachments == nil {
		invoice.Attachments = Attachments{}
	}

	return withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO invoices (
				id, tenant_id, invoice_number, supplier, emission_date, lines,
				total_value_cents, status, attachments, created_by
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at, updated_at
		`
		err := r.db.QueryRowxContext(ctx, query,
			invoice.ID, tenantID, invoice.InvoiceNumber, invoice.Supplier,
			invoice.EmissionDate, invoice.Lines, invoice.TotalValueCents,
			invoice.Status, invoice.Attachments, invoice.CreatedBy,
		).Scan(&invoice.CreatedAt, &invoice.UpdatedAt)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return errors.Wrap(err, "DATABASE_ERROR", "failed to create invoice", 500)
		}
		return nil
	})
}

// GetByID returns the tenant's invoice with the given ID
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*Invoice, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var invoice Invoice
	err = withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = $1 AND id = $2`
		return r.db.GetContext(ctx, &invoice, query, tenantID, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("invoice")
		}
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to get invoice", 500)
	}

	return &invoice, nil
}

// GetForUpdate loads and row-locks an invoice so status transitions are
// serialized against concurrent approvals.
// MUST be called inside an active tenant transaction.
func (r *InvoiceRepository) GetForUpdate(ctx context.Context, id string) (*Invoice, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var invoice Invoice
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	if err := r.db.GetContext(ctx, &invoice, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("invoice")
		}
		return nil, err
	}

	return &invoice, nil
}

// List returns the tenant's invoices, optionally filtered by status,
// newest first
func (r *InvoiceRepository) List(ctx context.Context, status string) ([]Invoice, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	invoices := make([]Invoice, 0)
	err = withTenant(r.db, ctx, func(ctx context.Context) error {
		if status != "" {
			query := `SELECT ` + invoiceColumns + `
				FROM invoices WHERE tenant_id = $1 AND status = $2 ORDER BY created_at DESC`
			return r.db.SelectContext(ctx, &invoices, query, tenantID, status)
		}
		query := `SELECT ` + invoiceColumns + `
			FROM invoices WHERE tenant_id = $1 ORDER BY created_at DESC`
		return r.db.SelectContext(ctx, &invoices, query, tenantID)
	})
	if err != nil {
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to list invoices", 500)
	}

	return invoices, nil
}

// UpdateStatus persists a status transition on a locked invoice.
// MUST be called inside the transaction holding the row lock.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id, status string, approvedAt *time.Time) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE invoices
		SET status = $1, approved_at = $2, updated_at = NOW()
		WHERE id = $3 AND tenant_id = $4
	`
	result, err := r.db.ExecContext(ctx, query, status, approvedAt, id, tenantID)
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
		return errors.NotFound("invoice")
	}

	return nil
}

// Delete removes an invoice that has not been approved
func (r *InvoiceRepository) Delete(ctx context.Context, id string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return withTenant(r.db, ctx, func(ctx context.Context) error {
		result, err := r.db.ExecContext(ctx,
			`DELETE FROM invoices WHERE id = $1 AND tenant_id = $2`, id, tenantID)
		if err != nil {
			return errors.Wrap(err, "DATABASE_ERROR", "failed to delete invoice", 500)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return errors.NotFound("invoice")
		}
		return nil
	})
}
