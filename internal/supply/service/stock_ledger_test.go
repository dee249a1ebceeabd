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

func TestLedgerService_AddStockCreatesEntryAndMergesLots(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "ledger-add")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	expiry := futureDate(180)

	// First addition materializes the entry
	entry := addStock(t, tenantCtx, svc, product.ID, "LOT-A", expiry, 10)
	assert.Equal(t, 10, entry.QuantityInStock)
	require.Len(t, entry.Lots, 1)

	// Same lot identity merges, a different expiration stays separate
	entry = addStock(t, tenantCtx, svc, product.ID, "LOT-A", expiry, 5)
	entry = addStock(t, tenantCtx, svc, product.ID, "LOT-A", futureDate(360), 3)

	assert.Equal(t, 18, entry.QuantityInStock)
	require.Len(t, entry.Lots, 2)
	assert.Equal(t, entry.QuantityInStock, entry.Lots.Total())

	require.NotNil(t, entry.LastMovementDirection)
	assert.Equal(t, repository.MovementIn, *entry.LastMovementDirection)

	svc.publisher.AssertEventPublished(t, messaging.EventStockAdded)
}

func TestLedgerService_AddStockRejectsUnapprovedProduct(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "ledger-pending-product")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product, err := svc.catalog.Register(tenantCtx, service.RegisterProductInput{
		Name:         "Pending Gauze",
		ExternalCode: suite.Fixtures.Product().ExternalCode,
	})
	require.NoError(t, err)

	_, err = svc.ledger.AddStock(tenantCtx, service.AddStockInput{
		ProductID:      product.ID,
		LotCode:        "LOT-A",
		ExpirationDate: futureDate(90),
		Quantity:       5,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProductNotApproved))
}

func TestLedgerService_RemoveStockDepletesAndDropsLots(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "ledger-remove")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	expiry := futureDate(180)
	addStock(t, tenantCtx, svc, product.ID, "LOT-A", expiry, 10)
	addStock(t, tenantCtx, svc, product.ID, "LOT-B", expiry, 4)

	err := svc.ledger.RemoveStock(tenantCtx, []repository.UsageLine{
		{ProductID: product.ID, LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 6},
		{ProductID: product.ID, LotCode: "LOT-B", ExpirationDate: expiry, Quantity: 4},
	}, "test-removal")
	require.NoError(t, err)

	entry, err := svc.ledger.GetEntry(tenantCtx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, entry.QuantityInStock)
	// LOT-B reached zero and is gone entirely
	require.Len(t, entry.Lots, 1)
	assert.Equal(t, "LOT-A", entry.Lots[0].LotCode)

	require.NotNil(t, entry.LastMovementDirection)
	assert.Equal(t, repository.MovementOut, *entry.LastMovementDirection)
	require.NotNil(t, entry.LastMovementQuantity)
	assert.Equal(t, 10, *entry.LastMovementQuantity)

	svc.publisher.AssertEventPublished(t, messaging.EventStockRemoved)
}

func TestLedgerService_RemoveStockIsAllOrNothing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "ledger-atomic")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	expiry := futureDate(180)
	addStock(t, tenantCtx, svc, product.ID, "LOT-A", expiry, 10)
	svc.publisher.Reset()

	// Second line overdraws a lot that does not exist
	err := svc.ledger.RemoveStock(tenantCtx, []repository.UsageLine{
		{ProductID: product.ID, LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 2},
		{ProductID: product.ID, LotCode: "LOT-MISSING", ExpirationDate: expiry, Quantity: 1},
	}, "test-removal")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details, product.ID+"/LOT-MISSING")

	// Nothing was deducted and no event went out
	entry, err := svc.ledger.GetEntry(tenantCtx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, entry.QuantityInStock)
	svc.publisher.AssertNoEventsPublished(t)
}

func TestLedgerService_ConcurrentRemovalsNeverOversell(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "ledger-race")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	expiry := futureDate(180)
	addStock(t, tenantCtx, svc, product.ID, "LOT-A", expiry, 10)

	// Two concurrent removals of 7: stock covers only one of them
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- svc.ledger.RemoveStock(tenantCtx, []repository.UsageLine{
				{ProductID: product.ID, LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 7},
			}, "race")
		}()
	}

	var failures, successes int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
			failures++
		} else {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)

	entry, err := svc.ledger.GetEntry(tenantCtx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, entry.QuantityInStock)
}

func TestLedgerService_ConcurrentFirstAdditionsBothLand(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "ledger-first-add-race")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	expiry := futureDate(180)

	// Both additions race to create the product's first ledger entry;
	// neither may fail and both quantities must land
	results := make(chan error, 2)
	for _, lot := range []string{"LOT-A", "LOT-B"} {
		go func(lotCode string) {
			_, err := svc.ledger.AddStock(tenantCtx, service.AddStockInput{
				ProductID:      product.ID,
				LotCode:        lotCode,
				ExpirationDate: expiry,
				Quantity:       4,
			})
			results <- err
		}(lot)
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-results)
	}

	entry, err := svc.ledger.GetEntry(tenantCtx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, entry.QuantityInStock)
	assert.Len(t, entry.Lots, 2)
}

func TestLedgerService_CheckAvailabilityIsAdvisory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "ledger-check")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	expiry := futureDate(180)
	addStock(t, tenantCtx, svc, product.ID, "LOT-A", expiry, 5)

	issues, err := svc.ledger.CheckAvailability(tenantCtx, []repository.UsageLine{
		{ProductID: product.ID, LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 5},
	})
	require.NoError(t, err)
	assert.Empty(t, issues)

	issues, err = svc.ledger.CheckAvailability(tenantCtx, []repository.UsageLine{
		{ProductID: product.ID, LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 6},
	})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, service.IssueInsufficientLotQuantity, issues[0].Reason)
	assert.Equal(t, 5, issues[0].Available)

	// The check never mutates the ledger
	entry, err := svc.ledger.GetEntry(tenantCtx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, entry.QuantityInStock)
}

func TestLedgerService_ListAvailableLotsOrdersByExpiration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "ledger-lots")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	addStock(t, tenantCtx, svc, product.ID, "LOT-LATE", futureDate(300), 1)
	addStock(t, tenantCtx, svc, product.ID, "LOT-EARLY", futureDate(30), 1)
	addStock(t, tenantCtx, svc, product.ID, "LOT-MID", futureDate(120), 1)

	lots, err := svc.ledger.ListAvailableLots(tenantCtx, product.ID)
	require.NoError(t, err)
	require.Len(t, lots, 3)
	assert.Equal(t, "LOT-EARLY", lots[0].LotCode)
	assert.Equal(t, "LOT-MID", lots[1].LotCode)
	assert.Equal(t, "LOT-LATE", lots[2].LotCode)
}

func TestLedgerService_TenantIsolation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tnA := suite.SetupTenant(t, ctx, "ledger-iso-a")
	tnB := suite.SetupTenant(t, ctx, "ledger-iso-b")
	ctxA := suite.TenantContext(tnA)
	ctxB := suite.TenantContext(tnB)

	svc := newSupplyServices()
	product := createApprovedProduct(t, ctxA, tnA.ID)
	addStock(t, ctxA, svc, product.ID, "LOT-A", futureDate(90), 10)

	// Tenant B sees no entry for the same catalog product
	_, err := svc.ledger.GetEntry(ctxB, product.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	entries, err := svc.ledger.ListEntries(ctxB)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLedgerService_SetMinimumStockLevel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "ledger-minimum")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	addStock(t, tenantCtx, svc, product.ID, "LOT-A", futureDate(90), 10)

	entry, err := svc.ledger.SetMinimumStockLevel(tenantCtx, product.ID, 15)
	require.NoError(t, err)
	assert.Equal(t, 15, entry.MinimumStockLevel)

	_, err = svc.ledger.SetMinimumStockLevel(tenantCtx, product.ID, -1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}
