package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/clinsupply/clinsupply-backend/pkg/database"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/tenant"
)

// Patient is a minimal patient record the supply service keeps so that
// treatment requests can be attributed and listed per patient.
type Patient struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"-"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PatientTreatment is one append-only entry of a patient's treatment
// history, pointing at the originating request.
type PatientTreatment struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"-"`
	PatientID string    `db:"patient_id" json:"patient_id"`
	RequestID string    `db:"request_id" json:"request_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PatientRepository handles patient persistence
type PatientRepository struct {
	db *database.DB
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *database.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

// Create inserts a new patient for the tenant in context
func (r *PatientRepository) Create(ctx context.Context, patient *Patient) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if patient.ID == "" {
		patient.ID = uuid.New().String()
	}
	patient.TenantID = tenantID

	return withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO patients (id, tenant_id, name)
			VALUES ($1, $2, $3)
			RETURNING created_at
		`
		err := r.db.QueryRowxContext(ctx, query, patient.ID, tenantID, patient.Name).
			Scan(&patient.CreatedAt)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return errors.Wrap(err, "DATABASE_ERROR", "failed to create patient", 500)
		}
		return nil
	})
}

// GetByID returns the tenant's patient with the given ID
func (r *PatientRepository) GetByID(ctx context.Context, id string) (*Patient, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var patient Patient
	err = withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `SELECT id, tenant_id, name, created_at FROM patients WHERE tenant_id = $1 AND id = $2`
		return r.db.GetContext(ctx, &patient, query, tenantID, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("patient")
		}
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to get patient", 500)
	}

	return &patient, nil
}

// AddTreatment appends a request to the patient's treatment history.
// Intended to run inside the transaction that creates the request.
func (r *PatientRepository) AddTreatment(ctx context.Context, patientID, requestID string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO patient_treatments (id, tenant_id, patient_id, request_id)
			VALUES ($1, $2, $3, $4)
		`
		_, err := r.db.ExecContext(ctx, query, uuid.New().String(), tenantID, patientID, requestID)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return errors.Wrap(err, "DATABASE_ERROR", "failed to record treatment", 500)
		}
		return nil
	})
}

// ListTreatments returns the patient's treatment history, newest first
func (r *PatientRepository) ListTreatments(ctx context.Context, patientID string) ([]PatientTreatment, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	treatments := make([]PatientTreatment, 0)
	err = withTenant(r.db, ctx, func(ctx context.Context) error {
		query := `
			SELECT id, tenant_id, patient_id, request_id, created_at
			FROM patient_treatments
			WHERE tenant_id = $1 AND patient_id = $2
			ORDER BY created_at DESC`
		return r.db.SelectContext(ctx, &treatments, query, tenantID, patientID)
	})
	if err != nil {
		return nil, errors.Wrap(err, "DATABASE_ERROR", "failed to list treatments", 500)
	}

	return treatments, nil
}
