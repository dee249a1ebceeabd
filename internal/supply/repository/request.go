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
	"github.com/clinsupply/clinsupply-backend/pkg/tenant"
)

// Treatment request lifecycle states
const (
	RequestStatusPending   = "pending"
	RequestStatusConsumed  = "consumed"
	RequestStatusCancelled = "cancelled"
)

// UsageLine is one product/lot quantity a treatment request plans to use
type UsageLine struct {
	ProductID      string    `json:"product_id"`
	LotCode        string    `json:"lot_code"`
	ExpirationDate time.Time `json:"expiration_date"`
	Quantity       int       `json:"quantity"`
}

// UsageLines is the JSONB-stored list of usage lines
type UsageLines []UsageLine

// Value implements driver.Valuer for JSONB storage
func (ul UsageLines) Value() (driver.Value, error) {
	if ul == nil {
		ul = UsageLines{}
	}
	return json.Marshal(ul)
}

// Scan implements sql.Scanner for JSONB retrieval
func (ul *UsageLines) Scan(src interface{}) error {
	return scanJSON(src, ul, "UsageLines")
}

// AvailabilityWarning is a non-blocking availability issue captured on a
// request at creation time. The request is stored regardless; warnings
// tell the clinician which lines may not be satisfiable at consume time.
type AvailabilityWarning struct {
	ProductID      string    `json:"product_id"`
	LotCode        string    `json:"lot_code,omitempty"`
	ExpirationDate time.Time `json:"expiration_date,omitempty"`
	Reason         string    `json:"reason"`
	Message        string    `json:"message,omitempty"`
}

// AvailabilityWarnings is the JSONB-stored list of warnings
type AvailabilityWarnings []AvailabilityWarning

// Value implements driver.Valuer for JSONB storage
func (aw AvailabilityWarnings) Value() (driver.Value, error) {
	if aw == nil {
		aw = AvailabilityWarnings{}
	}
	return json.Marshal(aw)
}

// Scan implements sql.Scanner for JSONB retrieval
func (aw *AvailabilityWarnings) Scan(src interface{}) error {
	return scanJSON(src, aw, "AvailabilityWarnings")
}

func scanJSON(src, dest interface{}, typeName string) error {
	if src == nil {
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into %s", src, typeName)
	}

	return json.Unmarshal(data, dest)
}

// TreatmentRequest records planned material usage for a patient
// treatment. Its usage lines are deducted from the ledger when the
// request is consumed.
type TreatmentRequest struct {
	ID            string               `db:"id" json:"id"`
	TenantID      string               `db:"tenant_id" json:"-"`
	PatientID     string               `db:"patient_id" json:"patient_id"`
	RequestDate   time.Time            `db:"request_date" json:"request_date"`
	TreatmentType *string              `db:"treatment_type" json:"treatment_type,omitempty"`
	UsageLines    UsageLines           `db:"usage_lines" json:"usage_lines"`
	Status        string               `db:"status" json:"status"`
	Notes         *string              `db:"notes" json:"notes,omitempty"`
	PerformerID   *string              `db:"performer_id" json:"performer_id,omitempty"`
	Warnings      AvailabilityWarnings `db:"warnings" json:"warnings"`
	CreatedAt     time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time            `db:"updated_at" json:"updated_at"`
}

const requestColumns = `
	id, tenant_id, patient_id, request_date, treatment_type, usage_lines,
	status, notes, performer_id, warnings, created_at, updated_at`

// RequestRepository handles treatment request persistence
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new treatment request for the tenant in context
func (r *RequestRepository) Create(ctx context.Context, request *TreatmentRequest) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if request.ID == "" {
		request.ID = uuid.New().String()
	}
	request.TenantID = tenantID
	if request.Status == "" {
		request.Status = RequestStatusPending
	}
	if request.UsageLines == nil {
		request.UsageLines = UsageLines{}
	}
	if request.Warnings == nil {
		request.Warnings = AvailabilityWarnings{}
	}

	return withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO treatment_requests (
				id, tenant_id, patient_id, request_date, treatment_type,
				usage_lines, status, notes, performer_id, warnings
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at, updated_at
		`
		err := r.db.QueryRowxContext(ctx, query,
			request.ID, tenantID, request.PatientID, request.RequestDate,
			request.TreatmentType, request.UsageLines, request.Status,
			request.Notes, request.PerformerID, request.Warnings,
		).Scan(&request.CreatedAt, &request.UpdatedAt)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return errors.Wrap(err, "DATABASE_ERROR", "failed to create treatment request", 500)
		}
		return nil
	})
}

// GetByID returns the tenant's treatment request with the given ID
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*TreatmentRequest, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var request TreatmentRequest
	err = withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `SELECT ` + requestColumns + `
			FROM treatment_requests WHERE tenant_id = $1 AND id = $2`
		return r.db.GetContext(ctx, &request, query, tenantID, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("treatment request")
		}
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to get treatment request", 500)
	}

	return &request, nil
}

// GetForUpdate loads and row-locks a request so its status transition is
// serialized against concurrent consumers.
// MUST be called inside an active tenant transaction.
func (r *RequestRepository) GetForUpdate(ctx context.Context, id string) (*TreatmentRequest, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var request TreatmentRequest
	query := `SELECT ` + requestColumns + `
		FROM treatment_requests WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	if err := r.db.GetContext(ctx, &request, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("treatment request")
		}
		return nil, err
	}

	return &request, nil
}

// ListByPatient returns the patient's requests, newest first
func (r *RequestRepository) ListByPatient(ctx context.Context, patientID string) ([]TreatmentRequest, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	requests := make([]TreatmentRequest, 0)
	err = withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `SELECT ` + requestColumns + `
			FROM treatment_requests
			WHERE tenant_id = $1 AND patient_id = $2
			ORDER BY created_at DESC`
		return r.db.SelectContext(ctx, &requests, query, tenantID, patientID)
	})
	if err != nil {
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to list treatment requests", 500)
	}

	return requests, nil
}

// ListByStatus returns the tenant's requests in the given state
func (r *RequestRepository) ListByStatus(ctx context.Context, status string) ([]TreatmentRequest, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	requests := make([]TreatmentRequest, 0)
	err = withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `SELECT ` + requestColumns + `
			FROM treatment_requests
			WHERE tenant_id = $1 AND status = $2
			ORDER BY created_at DESC`
		return r.db.SelectContext(ctx, &requests, query, tenantID, status)
	})
	if err != nil {
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to list treatment requests", 500)
	}

	return requests, nil
}

// Save persists the mutable fields of a locked request.
// MUST be called inside the transaction holding the row lock.
func (r *RequestRepository) Save(ctx context.Context, request *TreatmentRequest) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE treatment_requests
		SET request_date = $1, treatment_type = $2, usage_lines = $3,
		    status = $4, notes = $5, warnings = $6, updated_at = NOW()
		WHERE id = $7 AND tenant_id = $8
	`
	result, err := r.db.ExecContext(ctx, query,
		request.RequestDate, request.TreatmentType, request.UsageLines,
		request.Status, request.Notes, request.Warnings,
		request.ID, tenantID,
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
		return errors.NotFound("treatment request")
	}

	return nil
}

// UpdateStatus persists a status transition on a locked request.
// MUST be called inside the transaction holding the row lock.
func (r *RequestRepository) UpdateStatus(ctx context.Context, id, status string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE treatment_requests
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3
	`
	result, err := r.db.ExecContext(ctx, query, status, id, tenantID)
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
		return errors.NotFound("treatment request")
	}

	return nil
}
