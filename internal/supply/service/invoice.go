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

// InvoiceService runs the replenishment pipeline: supplier invoices are
// registered with their lines resolved against the catalog, and
// approval adds every line to the stock ledger exactly once.
type InvoiceService struct {
	db          *database.DB
	invoiceRepo *repository.InvoiceRepository
	catalog     *CatalogService
	ledger      *LedgerService
	publisher   events.Publisher
	logger      *logger.Logger
}

// NewInvoiceService creates a new invoice service
func NewInvoiceService(
	db *database.DB,
	invoiceRepo *repository.InvoiceRepository,
	catalog *CatalogService,
	ledger *LedgerService,
	publisher events.Publisher,
	log *logger.Logger,
) *InvoiceService {
	return &InvoiceService{
		db:          db,
		invoiceRepo: invoiceRepo,
		catalog:     catalog,
		ledger:      ledger,
		publisher:   publisher,
		logger:      log.WithComponent("invoice-service"),
	}
}

// CreateInvoiceInput describes a supplier invoice registration. Status
// defaults to pending; passing approved applies the replenishment
// effect in the same transaction as the insert.
type CreateInvoiceInput struct {
	InvoiceNumber string
	Supplier      string
	EmissionDate  time.Time
	Lines         []repository.InvoiceLine
	Attachments   repository.Attachments
	Status        string
}

func (in CreateInvoiceInput) validate(now time.Time) error {
	details := make(map[string]string)
	if in.InvoiceNumber == "" {
		details["invoice_number"] = "is required"
	}
	switch in.Status {
	case "", repository.InvoiceStatusPending, repository.InvoiceStatusApproved:
	default:
		details["status"] = "must be pending or approved"
	}
	if in.Supplier == "" {
		details["supplier"] = "is required"
	}
	if in.EmissionDate.IsZero() {
		details["emission_date"] = "is required"
	}
	if len(in.Lines) == 0 {
		details["lines"] = "at least one line is required"
	}
	for i, line := range in.Lines {
		if line.ExternalCode == "" {
			details[lineField(i, "external_code")] = "is required"
		}
		if line.Quantity <= 0 {
			details[lineField(i, "quantity")] = "must be positive"
		}
		if line.UnitPriceCents <= 0 {
			details[lineField(i, "unit_price_cents")] = "must be positive"
		}
		if line.LotCode == "" {
			details[lineField(i, "lot_code")] = "is required"
		}
		if line.ExpirationDate.IsZero() {
			details[lineField(i, "expiration_date")] = "is required"
		} else if !line.ExpirationDate.After(now) {
			details[lineField(i, "expiration_date")] = "must be in the future"
		}
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// Create registers a supplier invoice, pending unless the input asks
// for it approved, in which case the replenishment is applied in the
// same transaction as the insert. Every line is resolved against the
// catalog by its external code; unknown codes are auto-provisioned as
// pending products and flagged in the result warnings, while lines
// naming a product that already sits unapproved in the catalog are
// rejected. The invoice total is computed from the lines, and duplicate
// invoice numbers per tenant are rejected.
func (s *InvoiceService) Create(ctx context.Context, input CreateInvoiceInput) (*repository.Invoice, error) {
	if err := input.validate(s.ledger.now().UTC()); err != nil {
		return nil, err
	}

	lines := make(repository.InvoiceLines, len(input.Lines))
	copy(lines, input.Lines)

	var (
		totalCents int64
		warnings   []string
	)
	for i := range lines {
		product, provisioned, err := s.catalog.ResolveOrProvision(ctx, lines[i].ExternalCode, lines[i].Description)
		if err != nil {
			return nil, err
		}
		if provisioned {
			warnings = append(warnings, fmt.Sprintf("product %s was auto-provisioned and awaits catalog approval", lines[i].ExternalCode))
		} else if !product.IsApproved() {
			return nil, errors.ProductNotApproved(product.ExternalCode)
		}
		lines[i].ProductID = product.ID
		totalCents += lines[i].TotalCents()
	}

	tenantID, _ := tenant.TenantID(ctx)
	createdBy := actor.ActorID(ctx)
	invoice := &repository.Invoice{
		InvoiceNumber:   input.InvoiceNumber,
		Supplier:        input.Supplier,
		EmissionDate:    input.EmissionDate,
		Lines:           lines,
		TotalValueCents: totalCents,
		Status:          repository.InvoiceStatusPending,
		Attachments:     input.Attachments,
		Warnings:        warnings,
	}
	if createdBy != "" {
		invoice.CreatedBy = &createdBy
	}

	var added []messaging.StockAddedEvent
	if input.Status == repository.InvoiceStatusApproved {
		// Insert and replenish in one transaction: the invoice either
		// lands approved with its stock added, or not at all.
		err := runTenantTx(ctx, s.db, s.logger, func(txCtx context.Context) error {
			invoice.Status = repository.InvoiceStatusPending
			invoice.ApprovedAt = nil

			if err := s.invoiceRepo.Create(txCtx, invoice); err != nil {
				return err
			}
			var err error
			added, err = s.applyApproval(txCtx, invoice, tenantID, createdBy)
			return err
		})
		if err != nil {
			return nil, err
		}
	} else if err := s.invoiceRepo.Create(ctx, invoice); err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, messaging.EventInvoiceCreated, messaging.InvoiceCreatedEvent{
		TenantID:        tenantID,
		InvoiceID:       invoice.ID,
		InvoiceNumber:   invoice.InvoiceNumber,
		Supplier:        invoice.Supplier,
		LineCount:       len(invoice.Lines),
		TotalValueCents: invoice.TotalValueCents,
	})
	if invoice.Status == repository.InvoiceStatusApproved {
		for _, event := range added {
			s.publisher.Publish(ctx, messaging.EventStockAdded, event)
		}
		s.publisher.Publish(ctx, messaging.EventInvoiceApproved, messaging.InvoiceApprovedEvent{
			TenantID:      tenantID,
			InvoiceID:     invoice.ID,
			InvoiceNumber: invoice.InvoiceNumber,
			ApprovedBy:    createdBy,
		})
	}

	return invoice, nil
}

// applyApproval gates every line on catalog approval, adds the lines to
// the ledger and marks the invoice approved.
// MUST be called inside an active tenant transaction.
func (s *InvoiceService) applyApproval(txCtx context.Context, invoice *repository.Invoice, tenantID, performedBy string) ([]messaging.StockAddedEvent, error) {
	for _, line := range invoice.Lines {
		product, err := s.catalog.Get(txCtx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if !product.IsApproved() {
			return nil, errors.ProductNotApproved(product.ExternalCode)
		}
	}

	added := make([]messaging.StockAddedEvent, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		entry, err := s.ledger.applyAdd(txCtx, AddStockInput{
			ProductID:      line.ProductID,
			LotCode:        line.LotCode,
			ExpirationDate: line.ExpirationDate,
			Quantity:       line.Quantity,
			ReferenceID:    invoice.ID,
		})
		if err != nil {
			return nil, err
		}
		added = append(added, messaging.StockAddedEvent{
			TenantID:       tenantID,
			ProductID:      line.ProductID,
			LotCode:        line.LotCode,
			ExpirationDate: line.ExpirationDate,
			Quantity:       line.Quantity,
			NewTotal:       entry.QuantityInStock,
			ReferenceID:    invoice.ID,
			PerformedBy:    performedBy,
		})
	}

	now := s.ledger.now().UTC()
	if err := s.invoiceRepo.UpdateStatus(txCtx, invoice.ID, repository.InvoiceStatusApproved, &now); err != nil {
		return nil, err
	}
	invoice.Status = repository.InvoiceStatusApproved
	invoice.ApprovedAt = &now
	return added, nil
}

// Approve adds every invoice line to the stock ledger and marks the
// invoice approved, all in one transaction. The invoice row is locked
// so two concurrent approvals cannot both add stock: the loser finds
// the invoice already approved and returns it unchanged, a no-op with
// no second ledger effect and no events. Rejected invoices cannot be
// approved. Lines referencing products still pending catalog approval
// block the whole approval.
func (s *InvoiceService) Approve(ctx context.Context, invoiceID string) (*repository.Invoice, error) {
	var (
		invoice         *repository.Invoice
		added           []messaging.StockAddedEvent
		alreadyApproved bool
	)
	tenantID, _ := tenant.TenantID(ctx)
	performedBy := actor.ActorID(ctx)

	err := runTenantTx(ctx, s.db, s.logger, func(txCtx context.Context) error {
		alreadyApproved = false

		var err error
		invoice, err = s.invoiceRepo.GetForUpdate(txCtx, invoiceID)
		if err != nil {
			return err
		}
		switch invoice.Status {
		case repository.InvoiceStatusApproved:
			alreadyApproved = true
			return nil
		case repository.InvoiceStatusPending:
		default:
			return errors.InvalidState(fmt.Sprintf("invoice is %s", invoice.Status))
		}

		added, err = s.applyApproval(txCtx, invoice, tenantID, performedBy)
		return err
	})
	if err != nil {
		return nil, err
	}
	if alreadyApproved {
		return invoice, nil
	}

	for _, event := range added {
		s.publisher.Publish(ctx, messaging.EventStockAdded, event)
	}
	s.publisher.Publish(ctx, messaging.EventInvoiceApproved, messaging.InvoiceApprovedEvent{
		TenantID:      tenantID,
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		ApprovedBy:    performedBy,
	})

	return invoice, nil
}

// Reject marks a pending invoice rejected without touching the ledger
func (s *InvoiceService) Reject(ctx context.Context, invoiceID, reason string) (*repository.Invoice, error) {
	var invoice *repository.Invoice
	err := runTenantTx(ctx, s.db, s.logger, func(txCtx context.Context) error {
		var err error
		invoice, err = s.invoiceRepo.GetForUpdate(txCtx, invoiceID)
		if err != nil {
			return err
		}
		if invoice.Status != repository.InvoiceStatusPending {
			return errors.InvalidState(fmt.Sprintf("invoice is %s", invoice.Status))
		}

		if err := s.invoiceRepo.UpdateStatus(txCtx, invoiceID, repository.InvoiceStatusRejected, nil); err != nil {
			return err
		}
		invoice.Status = repository.InvoiceStatusRejected
		return nil
	})
	if err != nil {
		return nil, err
	}

	tenantID, _ := tenant.TenantID(ctx)
	s.publisher.Publish(ctx, messaging.EventInvoiceRejected, messaging.InvoiceRejectedEvent{
		TenantID:      tenantID,
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		Reason:        reason,
	})

	return invoice, nil
}

// Delete removes an invoice that has not been approved. Approved
// invoices have moved stock and are immutable.
func (s *InvoiceService) Delete(ctx context.Context, invoiceID string) error {
	invoice, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if invoice.Status == repository.InvoiceStatusApproved {
		return errors.InvalidState("approved invoice cannot be deleted")
	}
	return s.invoiceRepo.Delete(ctx, invoiceID)
}

// Get returns an invoice by ID
func (s *InvoiceService) Get(ctx context.Context, invoiceID string) (*repository.Invoice, error) {
	return s.invoiceRepo.GetByID(ctx, invoiceID)
}

// List returns the tenant's invoices, optionally filtered by status
func (s *InvoiceService) List(ctx context.Context, status string) ([]repository.Invoice, error) {
	switch status {
	case "", repository.InvoiceStatusPending, repository.InvoiceStatusApproved, repository.InvoiceStatusRejected:
		return s.invoiceRepo.List(ctx, status)
	default:
		return nil, errors.Validation(map[string]string{"status": "must be pending, approved or rejected"})
	}
}
