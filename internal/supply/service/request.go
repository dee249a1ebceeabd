package service

import (
	"context"
	"fmt"
	"time"

	"github.com/clinsupply/clinsupply-backend/internal/supply/events"
	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
	"github.com/clinsupply/clinsupply-backend/pkg/actor"
	"github.com/clinsupply/clinsupply-backend/pkg/database"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/logger"
	"github.com/clinsupply/clinsupply-backend/pkg/messaging"
	"github.com/clinsupply/clinsupply-backend/pkg/tenant"
)

// RequestService manages treatment requests and their consumption.
// Registration never blocks on availability; shortfalls are recorded as
// warnings on the request. Consumption is the moment of truth: the
// request's usage lines are deducted from the ledger all-or-nothing and
// the request moves to consumed exactly once.
type RequestService struct {
	db          *database.DB
	requestRepo *repository.RequestRepository
	patientRepo *repository.PatientRepository
	ledger      *LedgerService
	publisher   events.Publisher
	logger      *logger.Logger
}

// NewRequestService creates a new request service
func NewRequestService(
	db *database.DB,
	requestRepo *repository.RequestRepository,
	patientRepo *repository.PatientRepository,
	ledger *LedgerService,
	publisher events.Publisher,
	log *logger.Logger,
) *RequestService {
	return &RequestService{
		db:          db,
		requestRepo: requestRepo,
		patientRepo: patientRepo,
		ledger:      ledger,
		publisher:   publisher,
		logger:      log.WithComponent("request-service"),
	}
}

// CreateRequestInput describes a new treatment request
type CreateRequestInput struct {
	PatientID     string
	RequestDate   time.Time
	TreatmentType *string
	Lines         []repository.UsageLine
	Notes         *string
}

// Create registers a treatment request and appends it to the patient's
// treatment history in one transaction. Availability is checked but
// never blocks registration; any shortfall is stored as warnings on the
// request so the clinician can plan around it.
func (s *RequestService) Create(ctx context.Context, input CreateRequestInput) (*repository.TreatmentRequest, error) {
	if input.PatientID == "" {
		return nil, errors.Validation(map[string]string{"patient_id": "is required"})
	}
	if err := validateUsageLines(input.Lines); err != nil {
		return nil, err
	}

	if _, err := s.patientRepo.GetByID(ctx, input.PatientID); err != nil {
		return nil, err
	}

	issues, err := s.ledger.CheckAvailability(ctx, input.Lines)
	if err != nil {
		return nil, err
	}

	requestDate := input.RequestDate
	if requestDate.IsZero() {
		requestDate = s.ledger.now().UTC()
	}

	request := &repository.TreatmentRequest{
		PatientID:     input.PatientID,
		RequestDate:   requestDate,
		TreatmentType: input.TreatmentType,
		UsageLines:    input.Lines,
		Status:        repository.RequestStatusPending,
		Notes:         input.Notes,
		Warnings:      issuesToWarnings(issues),
	}
	if performerID := actor.ActorID(ctx); performerID != "" {
		request.PerformerID = &performerID
	}

	err = runTenantTx(ctx, s.db, s.logger, func(txCtx context.Context) error {
		if err := s.requestRepo.Create(txCtx, request); err != nil {
			return err
		}
		return s.patientRepo.AddTreatment(txCtx, request.PatientID, request.ID)
	})
	if err != nil {
		return nil, err
	}

	tenantID, _ := tenant.TenantID(ctx)
	s.publisher.Publish(ctx, messaging.EventRequestCreated, messaging.RequestCreatedEvent{
		TenantID:  tenantID,
		RequestID: request.ID,
		PatientID: request.PatientID,
		LineCount: len(request.UsageLines),
		Warnings:  len(request.Warnings),
	})

	return request, nil
}

// UpdateRequestInput carries the fields of a pending request that may
// still change. Nil fields are left untouched.
type UpdateRequestInput struct {
	RequestDate   *time.Time
	TreatmentType *string
	Lines         []repository.UsageLine
	Notes         *string
}

// Update edits a request that has not been consumed or cancelled yet.
// Changing the usage lines refreshes the availability warnings; the
// ledger itself is never touched here.
func (s *RequestService) Update(ctx context.Context, requestID string, input UpdateRequestInput) (*repository.TreatmentRequest, error) {
	if input.Lines != nil {
		if err := validateUsageLines(input.Lines); err != nil {
			return nil, err
		}
	}

	var request *repository.TreatmentRequest
	err := runTenantTx(ctx, s.db, s.logger, func(txCtx context.Context) error {
		var err error
		request, err = s.requestRepo.GetForUpdate(txCtx, requestID)
		if err != nil {
			return err
		}
		if request.Status != repository.RequestStatusPending {
			return errors.InvalidState(fmt.Sprintf("treatment request is %s", request.Status))
		}

		if input.RequestDate != nil {
			request.RequestDate = *input.RequestDate
		}
		if input.TreatmentType != nil {
			request.TreatmentType = input.TreatmentType
		}
		if input.Notes != nil {
			request.Notes = input.Notes
		}
		if input.Lines != nil {
			issues, err := s.ledger.CheckAvailability(txCtx, input.Lines)
			if err != nil {
				return err
			}
			request.UsageLines = input.Lines
			request.Warnings = issuesToWarnings(issues)
		}

		return s.requestRepo.Save(txCtx, request)
	})
	if err != nil {
		return nil, err
	}

	return request, nil
}

// Consume deducts a pending request's usage lines from the ledger and
// marks it consumed. The request row is locked for the duration of the
// transaction, so two concurrent consumers of the same request cannot
// both succeed: the loser sees the consumed status and gets an invalid
// state error. If any line cannot be satisfied, nothing is deducted and
// the request stays pending.
func (s *RequestService) Consume(ctx context.Context, requestID string) (*repository.TreatmentRequest, error) {
	var (
		request *repository.TreatmentRequest
		removed []messaging.StockRemovedLine
	)
	err := runTenantTx(ctx, s.db, s.logger, func(txCtx context.Context) error {
		var err error
		request, err = s.requestRepo.GetForUpdate(txCtx, requestID)
		if err != nil {
			return err
		}
		if request.Status != repository.RequestStatusPending {
			return errors.InvalidState(fmt.Sprintf("treatment request is %s", request.Status))
		}

		removed, err = s.ledger.applyRemoval(txCtx, request.UsageLines, requestID)
		if err != nil {
			return err
		}

		if err := s.requestRepo.UpdateStatus(txCtx, requestID, repository.RequestStatusConsumed); err != nil {
			return err
		}
		request.Status = repository.RequestStatusConsumed
		return nil
	})
	if err != nil {
		return nil, err
	}

	tenantID, _ := tenant.TenantID(ctx)
	performedBy := actor.ActorID(ctx)
	s.publisher.Publish(ctx, messaging.EventStockRemoved, messaging.StockRemovedEvent{
		TenantID:    tenantID,
		Lines:       removed,
		ReferenceID: requestID,
		PerformedBy: performedBy,
	})
	s.publisher.Publish(ctx, messaging.EventRequestConsumed, messaging.RequestConsumedEvent{
		TenantID:    tenantID,
		RequestID:   requestID,
		PatientID:   request.PatientID,
		PerformedBy: performedBy,
	})

	return request, nil
}

// Cancel voids a pending request without touching the ledger. A reason,
// when given, is appended to the request notes.
func (s *RequestService) Cancel(ctx context.Context, requestID, reason string) (*repository.TreatmentRequest, error) {
	var request *repository.TreatmentRequest
	err := runTenantTx(ctx, s.db, s.logger, func(txCtx context.Context) error {
		var err error
		request, err = s.requestRepo.GetForUpdate(txCtx, requestID)
		if err != nil {
			return err
		}
		if request.Status != repository.RequestStatusPending {
			return errors.InvalidState(fmt.Sprintf("treatment request is %s", request.Status))
		}

		request.Status = repository.RequestStatusCancelled
		if reason != "" {
			note := "cancelled: " + reason
			if request.Notes != nil && *request.Notes != "" {
				note = *request.Notes + "\n" + note
			}
			request.Notes = &note
		}
		return s.requestRepo.Save(txCtx, request)
	})
	if err != nil {
		return nil, err
	}

	tenantID, _ := tenant.TenantID(ctx)
	s.publisher.Publish(ctx, messaging.EventRequestCancelled, messaging.RequestCancelledEvent{
		TenantID:  tenantID,
		RequestID: requestID,
	})

	return request, nil
}

// Get returns a treatment request by ID
func (s *RequestService) Get(ctx context.Context, requestID string) (*repository.TreatmentRequest, error) {
	return s.requestRepo.GetByID(ctx, requestID)
}

// ListByPatient returns a patient's requests, newest first
func (s *RequestService) ListByPatient(ctx context.Context, patientID string) ([]repository.TreatmentRequest, error) {
	return s.requestRepo.ListByPatient(ctx, patientID)
}

// ListByStatus returns the tenant's requests in the given state
func (s *RequestService) ListByStatus(ctx context.Context, status string) ([]repository.TreatmentRequest, error) {
	switch status {
	case repository.RequestStatusPending, repository.RequestStatusConsumed, repository.RequestStatusCancelled:
		return s.requestRepo.ListByStatus(ctx, status)
	default:
		return nil, errors.Validation(map[string]string{"status": "must be pending, consumed or cancelled"})
	}
}

// CreatePatient registers a patient record
func (s *RequestService) CreatePatient(ctx context.Context, name string) (*repository.Patient, error) {
	if name == "" {
		return nil, errors.Validation(map[string]string{"name": "is required"})
	}
	patient := &repository.Patient{Name: name}
	if err := s.patientRepo.Create(ctx, patient); err != nil {
		return nil, err
	}
	return patient, nil
}

// GetPatient returns a patient by ID
func (s *RequestService) GetPatient(ctx context.Context, patientID string) (*repository.Patient, error) {
	return s.patientRepo.GetByID(ctx, patientID)
}

// ListTreatments returns a patient's treatment history, newest first
func (s *RequestService) ListTreatments(ctx context.Context, patientID string) ([]repository.PatientTreatment, error) {
	if _, err := s.patientRepo.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	return s.patientRepo.ListTreatments(ctx, patientID)
}
