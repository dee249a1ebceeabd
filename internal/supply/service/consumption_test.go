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

func createPatient(t *testing.T, ctx context.Context, svc *supplyServices) *repository.Patient {
	t.Helper()
	patient, err := svc.requests.CreatePatient(ctx, suite.Fixtures.Patient().Name)
	require.NoError(t, err)
	return patient
}

func TestRequestService_CreateRecordsTreatmentAndWarnings(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "request-create")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	expiry := futureDate(180)
	addStock(t, tenantCtx, svc, product.ID, "LOT-A", expiry, 5)

	// Requesting more than available: stored anyway, with a warning
	request, err := svc.requests.Create(tenantCtx, service.CreateRequestInput{
		PatientID: createPatient(t, tenantCtx, svc).ID,
		Lines: []repository.UsageLine{
			{ProductID: product.ID, LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 8},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusPending, request.Status)
	require.Len(t, request.Warnings, 1)
	assert.Equal(t, string(service.IssueInsufficientLotQuantity), request.Warnings[0].Reason)

	// The request landed in the patient's treatment history
	treatments, err := svc.requests.ListTreatments(tenantCtx, request.PatientID)
	require.NoError(t, err)
	require.Len(t, treatments, 1)
	assert.Equal(t, request.ID, treatments[0].RequestID)

	svc.publisher.AssertEventPublished(t, messaging.EventRequestCreated)
}

func TestRequestService_CreateRejectsUnknownPatient(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "request-no-patient")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)

	_, err := svc.requests.Create(tenantCtx, service.CreateRequestInput{
		PatientID: "00000000-0000-0000-0000-000000000000",
		Lines: []repository.UsageLine{
			{ProductID: product.ID, LotCode: "LOT-A", ExpirationDate: futureDate(90), Quantity: 1},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRequestService_ConsumeDeductsStockOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "request-consume")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	expiry := futureDate(180)
	addStock(t, tenantCtx, svc, product.ID, "LOT-A", expiry, 10)

	request, err := svc.requests.Create(tenantCtx, service.CreateRequestInput{
		PatientID: createPatient(t, tenantCtx, svc).ID,
		Lines: []repository.UsageLine{
			{ProductID: product.ID, LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 4},
		},
	})
	require.NoError(t, err)

	consumed, err := svc.requests.Consume(tenantCtx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusConsumed, consumed.Status)

	entry, err := svc.ledger.GetEntry(tenantCtx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, entry.QuantityInStock)

	svc.publisher.AssertEventPublished(t, messaging.EventStockRemoved)
	svc.publisher.AssertEventPublished(t, messaging.EventRequestConsumed)

	// Consuming again is rejected and deducts nothing
	_, err = svc.requests.Consume(tenantCtx, request.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	entry, err = svc.ledger.GetEntry(tenantCtx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, entry.QuantityInStock)
}

func TestRequestService_ConsumeFailsWithoutStockAndStaysPending(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "request-shortfall")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	expiry := futureDate(180)
	addStock(t, tenantCtx, svc, product.ID, "LOT-A", expiry, 2)

	request, err := svc.requests.Create(tenantCtx, service.CreateRequestInput{
		PatientID: createPatient(t, tenantCtx, svc).ID,
		Lines: []repository.UsageLine{
			{ProductID: product.ID, LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 5},
		},
	})
	require.NoError(t, err)

	_, err = svc.requests.Consume(tenantCtx, request.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	// Request still pending, ledger untouched
	reloaded, err := svc.requests.Get(tenantCtx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusPending, reloaded.Status)

	entry, err := svc.ledger.GetEntry(tenantCtx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.QuantityInStock)
}

func TestRequestService_CancelOnlyPendingRequests(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "request-cancel")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	expiry := futureDate(180)
	addStock(t, tenantCtx, svc, product.ID, "LOT-A", expiry, 10)

	request, err := svc.requests.Create(tenantCtx, service.CreateRequestInput{
		PatientID: createPatient(t, tenantCtx, svc).ID,
		Lines: []repository.UsageLine{
			{ProductID: product.ID, LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 3},
		},
	})
	require.NoError(t, err)

	cancelled, err := svc.requests.Cancel(tenantCtx, request.ID, "patient no-show")
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Notes)
	assert.Contains(t, *cancelled.Notes, "patient no-show")
	svc.publisher.AssertEventPublished(t, messaging.EventRequestCancelled)

	// A cancelled request can be neither consumed nor re-cancelled
	_, err = svc.requests.Consume(tenantCtx, request.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
	_, err = svc.requests.Cancel(tenantCtx, request.ID, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	// Cancelling never touches the ledger
	entry, err := svc.ledger.GetEntry(tenantCtx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, entry.QuantityInStock)
}

func TestRequestService_UpdateOnlyWhilePending(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "request-update")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	expiry := futureDate(180)
	addStock(t, tenantCtx, svc, product.ID, "LOT-A", expiry, 10)

	request, err := svc.requests.Create(tenantCtx, service.CreateRequestInput{
		PatientID: createPatient(t, tenantCtx, svc).ID,
		Lines: []repository.UsageLine{
			{ProductID: product.ID, LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 2},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, request.Warnings)

	// Raising the quantity past the stock refreshes the warnings
	treatment := "wound care"
	updated, err := svc.requests.Update(tenantCtx, request.ID, service.UpdateRequestInput{
		TreatmentType: &treatment,
		Lines: []repository.UsageLine{
			{ProductID: product.ID, LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 15},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, updated.TreatmentType)
	assert.Equal(t, "wound care", *updated.TreatmentType)
	require.Len(t, updated.UsageLines, 1)
	assert.Equal(t, 15, updated.UsageLines[0].Quantity)
	require.Len(t, updated.Warnings, 1)

	// Updates never touch the ledger
	entry, err := svc.ledger.GetEntry(tenantCtx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, entry.QuantityInStock)

	// Consumed requests are frozen
	_, err = svc.requests.Update(tenantCtx, request.ID, service.UpdateRequestInput{
		Lines: []repository.UsageLine{
			{ProductID: product.ID, LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 5},
		},
	})
	require.NoError(t, err)
	_, err = svc.requests.Consume(tenantCtx, request.ID)
	require.NoError(t, err)
	_, err = svc.requests.Update(tenantCtx, request.ID, service.UpdateRequestInput{TreatmentType: &treatment})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestRequestService_ConcurrentConsumersOnlyOneWins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "request-race")
	tenantCtx := suite.TenantContext(tn)

	svc := newSupplyServices()
	product := createApprovedProduct(t, tenantCtx, tn.ID)
	expiry := futureDate(180)
	addStock(t, tenantCtx, svc, product.ID, "LOT-A", expiry, 10)

	request, err := svc.requests.Create(tenantCtx, service.CreateRequestInput{
		PatientID: createPatient(t, tenantCtx, svc).ID,
		Lines: []repository.UsageLine{
			{ProductID: product.ID, LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 4},
		},
	})
	require.NoError(t, err)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.requests.Consume(tenantCtx, request.ID)
			results <- err
		}()
	}

	var successes, conflicts int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			assert.True(t, errors.Is(err, errors.ErrInvalidState))
			conflicts++
		} else {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	// Deducted exactly once
	entry, err := svc.ledger.GetEntry(tenantCtx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, entry.QuantityInStock)
}
