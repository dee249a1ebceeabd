package service_test

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
	"github.com/clinsupply/clinsupply-backend/internal/supply/service"
	"github.com/clinsupply/clinsupply-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		log.Fatalf("failed to create integration suite: %v", err)
	}
	defer suite.Cleanup(ctx)
	defer testutil.TerminateContainer(ctx)

	os.Exit(m.Run())
}

// supplyServices bundles the full service stack wired against the test
// database and a mock publisher.
type supplyServices struct {
	ledger    *service.LedgerService
	catalog   *service.CatalogService
	requests  *service.RequestService
	invoices  *service.InvoiceService
	alerts    *service.AlertService
	publisher *testutil.MockPublisher
}

func newSupplyServices() *supplyServices {
	productRepo := repository.NewProductRepository(suite.DB)
	ledgerRepo := repository.NewLedgerRepository(suite.DB)
	patientRepo := repository.NewPatientRepository(suite.DB)
	requestRepo := repository.NewRequestRepository(suite.DB)
	invoiceRepo := repository.NewInvoiceRepository(suite.DB)

	publisher := testutil.NewMockPublisher()
	ledger := service.NewLedgerService(suite.DB, ledgerRepo, productRepo, publisher, suite.Logger)
	catalog := service.NewCatalogService(productRepo, ledger, publisher, suite.Logger)
	requests := service.NewRequestService(suite.DB, requestRepo, patientRepo, ledger, publisher, suite.Logger)
	invoices := service.NewInvoiceService(suite.DB, invoiceRepo, catalog, ledger, publisher, suite.Logger)
	alerts := service.NewAlertService(ledgerRepo, publisher, suite.Logger)

	return &supplyServices{
		ledger:    ledger,
		catalog:   catalog,
		requests:  requests,
		invoices:  invoices,
		alerts:    alerts,
		publisher: publisher,
	}
}

// createApprovedProduct inserts an approved catalog product owned by the
// tenant in context so tenant cleanup removes it.
func createApprovedProduct(t *testing.T, ctx context.Context, tenantID string) *repository.Product {
	t.Helper()

	fixture := suite.Fixtures.Product()
	productRepo := repository.NewProductRepository(suite.DB)
	product := &repository.Product{
		Name:           fixture.Name,
		ExternalCode:   fixture.ExternalCode,
		Status:         repository.ProductStatusApproved,
		OwningTenantID: &tenantID,
	}
	require.NoError(t, productRepo.Create(ctx, product))
	return product
}

// addStock seeds a lot on the given product's ledger entry.
func addStock(t *testing.T, ctx context.Context, svc *supplyServices, productID, lotCode string, expiry time.Time, qty int) *repository.LedgerEntry {
	t.Helper()

	entry, err := svc.ledger.AddStock(ctx, service.AddStockInput{
		ProductID:      productID,
		LotCode:        lotCode,
		ExpirationDate: expiry,
		Quantity:       qty,
	})
	require.NoError(t, err)
	return entry
}

func futureDate(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, days).Truncate(24 * time.Hour)
}
