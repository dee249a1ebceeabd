package service

import (
	"context"

	"github.com/clinsupply/clinsupply-backend/internal/supply/events"
	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
	"github.com/clinsupply/clinsupply-backend/pkg/actor"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/logger"
	"github.com/clinsupply/clinsupply-backend/pkg/messaging"
	"github.com/clinsupply/clinsupply-backend/pkg/tenant"
)

// CatalogService guards the shared product catalog. Unknown products
// referenced by invoices are auto-provisioned in pending state and must
// be approved before their stock can move through the ledger.
type CatalogService struct {
	productRepo *repository.ProductRepository
	ledger      *LedgerService
	publisher   events.Publisher
	logger      *logger.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(
	productRepo *repository.ProductRepository,
	ledger *LedgerService,
	publisher events.Publisher,
	log *logger.Logger,
) *CatalogService {
	return &CatalogService{
		productRepo: productRepo,
		ledger:      ledger,
		publisher:   publisher,
		logger:      log.WithComponent("catalog-service"),
	}
}

// RegisterProductInput describes an explicit catalog registration
type RegisterProductInput struct {
	Name         string
	Description  *string
	ExternalCode string
	Category     *string
	Unit         *string
}

// Register adds a product to the catalog in pending state
func (s *CatalogService) Register(ctx context.Context, input RegisterProductInput) (*repository.Product, error) {
	details := make(map[string]string)
	if input.Name == "" {
		details["name"] = "is required"
	}
	if input.ExternalCode == "" {
		details["external_code"] = "is required"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	tenantID, _ := tenant.TenantID(ctx)
	product := &repository.Product{
		Name:         input.Name,
		Description:  input.Description,
		ExternalCode: input.ExternalCode,
		Category:     input.Category,
		Unit:         input.Unit,
		Status:       repository.ProductStatusPending,
	}
	if tenantID != "" {
		product.OwningTenantID = &tenantID
	}

	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, messaging.EventProductProvisioned, messaging.ProductProvisionedEvent{
		ProductID:    product.ID,
		ExternalCode: product.ExternalCode,
		Name:         product.Name,
		TenantID:     tenantID,
	})

	return product, nil
}

// ResolveOrProvision looks up a product by its supplier-facing code,
// creating a pending placeholder when the code is unknown. The second
// return value reports whether the product was provisioned by this
// call. A losing race against a concurrent provisioner falls back to
// the winner's row.
func (s *CatalogService) ResolveOrProvision(ctx context.Context, externalCode, name string) (*repository.Product, bool, error) {
	if externalCode == "" {
		return nil, false, errors.Validation(map[string]string{"external_code": "is required"})
	}

	product, err := s.productRepo.GetByExternalCode(ctx, externalCode)
	if err == nil {
		return product, false, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, false, err
	}

	if name == "" {
		name = externalCode
	}
	tenantID, _ := tenant.TenantID(ctx)
	product = &repository.Product{
		Name:         name,
		ExternalCode: externalCode,
		Status:       repository.ProductStatusPending,
	}
	if tenantID != "" {
		product.OwningTenantID = &tenantID
	}

	if err := s.productRepo.Create(ctx, product); err != nil {
		if errors.Is(err, errors.ErrConflict) {
			existing, getErr := s.productRepo.GetByExternalCode(ctx, externalCode)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	s.logger.Info().
		Str("product_id", product.ID).
		Str("external_code", externalCode).
		Msg("auto-provisioned pending product")
	s.publisher.Publish(ctx, messaging.EventProductProvisioned, messaging.ProductProvisionedEvent{
		ProductID:    product.ID,
		ExternalCode: externalCode,
		Name:         name,
		TenantID:     tenantID,
	})

	return product, true, nil
}

// Approve clears a pending product for stock movements and materializes
// a zero-stock ledger entry for the approving tenant so the product
// shows up in stock listings right away. Products that already cleared
// the gate fail with AlreadyApproved.
func (s *CatalogService) Approve(ctx context.Context, productID, notes string) (*repository.Product, error) {
	approverID := actor.ActorID(ctx)
	product, err := s.productRepo.Approve(ctx, productID, repository.ApprovalRecord{
		ApproverID: approverID,
		ApprovedAt: s.ledger.now().UTC(),
		Notes:      notes,
	})
	if err != nil {
		return nil, err
	}

	if err := s.ledger.EnsureEntry(ctx, product.ID); err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, messaging.EventProductApproved, messaging.ProductApprovedEvent{
		ProductID:    product.ID,
		ExternalCode: product.ExternalCode,
		ApprovedBy:   approverID,
	})

	return product, nil
}

// Get returns a catalog product by ID
func (s *CatalogService) Get(ctx context.Context, productID string) (*repository.Product, error) {
	return s.productRepo.GetByID(ctx, productID)
}

// ListPending returns the catalog products awaiting approval
func (s *CatalogService) ListPending(ctx context.Context) ([]repository.Product, error) {
	return s.productRepo.ListByStatus(ctx, repository.ProductStatusPending)
}

// ListApproved returns the approved catalog products
func (s *CatalogService) ListApproved(ctx context.Context) ([]repository.Product, error) {
	return s.productRepo.ListByStatus(ctx, repository.ProductStatusApproved)
}
