package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
	"github.com/clinsupply/clinsupply-backend/internal/supply/service"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/messaging"
)

func alertsOfType(alerts []service.Alert, alertType string) []service.Alert {
	out := make([]service.Alert, 0)
	for _, a := range alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

func TestAlertService_ScanFindsLowStock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "scan-low-stock")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	addStock(t, tenantCtx, svc, product.ID, "LOT-A", futureDate(300), 5)
	_, err := svc.ledger.SetMinimumStockLevel(tenantCtx, product.ID, 10)
	require.NoError(t, err)
	svc.publisher.Reset()

	alerts, err := svc.alerts.Scan(tenantCtx, 30)
	require.NoError(t, err)

	low := alertsOfType(alerts, service.AlertLowStock)
	require.Len(t, low, 1)
	assert.Equal(t, product.ID, low[0].ProductID)
	assert.Equal(t, 5, low[0].QuantityInStock)
	assert.Equal(t, 10, low[0].MinimumStockLevel)

	svc.publisher.AssertEventPublished(t, messaging.EventAlertRaised)
}

func TestAlertService_ScanFindsExpiringAndExpiredLots(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "scan-expiry")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)

	// Seed lots directly: AddStock is for live stock, the expired lot
	// has to be planted in the past.
	ledgerRepo := repository.NewLedgerRepository(suite.DB)
	entry := &repository.LedgerEntry{
		ProductID: product.ID,
		Lots: repository.LotList{
			{LotCode: "LOT-EXPIRED", ExpirationDate: futureDate(-10), Quantity: 3},
			{LotCode: "LOT-SOON", ExpirationDate: futureDate(7), Quantity: 4},
			{LotCode: "LOT-FRESH", ExpirationDate: futureDate(365), Quantity: 5},
		},
	}
	entry.QuantityInStock = entry.Lots.Total()
	require.NoError(t, suite.DB.WithTenantRLS(tenantCtx, tn.ID, func(txCtx context.Context) error {
		return ledgerRepo.Create(txCtx, entry)
	}))

	alerts, err := svc.alerts.Scan(tenantCtx, 30)
	require.NoError(t, err)

	expired := alertsOfType(alerts, service.AlertExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, "LOT-EXPIRED", expired[0].LotCode)
	assert.LessOrEqual(t, expired[0].DaysUntilExpiration, 0)

	expiring := alertsOfType(alerts, service.AlertExpiringSoon)
	require.Len(t, expiring, 1)
	assert.Equal(t, "LOT-SOON", expiring[0].LotCode)
	assert.Greater(t, expiring[0].DaysUntilExpiration, 0)
	assert.LessOrEqual(t, expiring[0].DaysUntilExpiration, 30)

	// The fresh lot raises nothing
	for _, a := range alerts {
		assert.NotEqual(t, "LOT-FRESH", a.LotCode)
	}
}

func TestAlertService_ScanIsStateless(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "scan-stateless")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	addStock(t, tenantCtx, svc, product.ID, "LOT-A", futureDate(5), 2)

	first, err := svc.alerts.Scan(tenantCtx, 30)
	require.NoError(t, err)
	second, err := svc.alerts.Scan(tenantCtx, 30)
	require.NoError(t, err)

	// Same findings every time: nothing is acknowledged or persisted
	assert.Equal(t, len(first), len(second))
	require.NotEmpty(t, first)
	assert.Equal(t, service.AlertExpiringSoon, first[0].Type)
}

func TestCatalogService_ApproveMaterializesLedgerEntry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "catalog-approve")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product, err := svc.catalog.Register(tenantCtx, service.RegisterProductInput{
		Name:         "Sterile Gloves",
		ExternalCode: suite.Fixtures.Product().ExternalCode,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.ProductStatusPending, product.Status)

	approved, err := svc.catalog.Approve(tenantCtx, product.ID, "checked against supplier sheet")
	require.NoError(t, err)
	assert.Equal(t, repository.ProductStatusApproved, approved.Status)
	require.Len(t, approved.ApprovalHistory, 1)
	assert.Equal(t, "checked against supplier sheet", approved.ApprovalHistory[0].Notes)

	// Approval creates a zero-stock entry so the product shows up in scans
	entry, err := svc.ledger.GetEntry(tenantCtx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.QuantityInStock)
	assert.Empty(t, entry.Lots)

	svc.publisher.AssertEventPublished(t, messaging.EventProductApproved)

	// Approval is pending-only: a second attempt fails and must not
	// grow the history
	_, err = svc.catalog.Approve(tenantCtx, product.ID, "second look")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyApproved))

	reloaded, err := svc.catalog.Get(tenantCtx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ProductStatusApproved, reloaded.Status)
	assert.Len(t, reloaded.ApprovalHistory, 1)
}
