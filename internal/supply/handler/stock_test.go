package handler_test

import (
	"context"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsupply/clinsupply-backend/internal/supply/handler"
	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
	"github.com/clinsupply/clinsupply-backend/internal/supply/service"
	"github.com/clinsupply/clinsupply-backend/pkg/httputil"
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

// newStockRouter builds a router with the stock endpoints wired the way
// the service entrypoint does, including the tenant middleware.
func newStockRouter() (chi.Router, *service.LedgerService) {
	productRepo := repository.NewProductRepository(suite.DB)
	ledgerRepo := repository.NewLedgerRepository(suite.DB)
	publisher := testutil.NewMockPublisher()
	ledger := service.NewLedgerService(suite.DB, ledgerRepo, productRepo, publisher, suite.Logger)

	stockHandler := handler.NewStockHandler(ledger, suite.Logger)

	r := chi.NewRouter()
	r.Use(httputil.TenantMiddleware)
	r.Route("/stock", func(r chi.Router) {
		r.Get("/", stockHandler.List)
		r.Post("/remove", stockHandler.RemoveStock)
		r.Post("/check", stockHandler.CheckAvailability)
		r.Get("/{productID}", stockHandler.Get)
		r.Get("/{productID}/lots", stockHandler.ListLots)
		r.Post("/{productID}/add", stockHandler.AddStock)
		r.Put("/{productID}/minimum", stockHandler.SetMinimum)
	})
	return r, ledger
}

func createApprovedProduct(t *testing.T, tenantID string) *repository.Product {
	t.Helper()

	fixture := suite.Fixtures.Product()
	productRepo := repository.NewProductRepository(suite.DB)
	product := &repository.Product{
		Name:           fixture.Name,
		ExternalCode:   fixture.ExternalCode,
		Status:         repository.ProductStatusApproved,
		OwningTenantID: &tenantID,
	}
	require.NoError(t, productRepo.Create(context.Background(), product))
	return product
}

func TestStockEndpoints_AddAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "handler-stock-add")

	router, _ := newStockRouter()
	product := createApprovedProduct(t, tn.ID)
	expiry := time.Now().UTC().AddDate(0, 6, 0).Truncate(24 * time.Hour)

	req := testutil.NewHTTPRequest(http.MethodPost, "/stock/"+product.ID+"/add", map[string]interface{}{
		"lot_code":        "LOT-A",
		"expiration_date": expiry,
		"quantity":        10,
	})
	req = testutil.WithTenantHeaders(req, tn.ID, tn.Slug)
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	req = testutil.WithTenantHeaders(testutil.NewHTTPRequest(http.MethodGet, "/stock/"+product.ID, nil), tn.ID, tn.Slug)
	rr = testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp struct {
		Success bool                   `json:"success"`
		Data    repository.LedgerEntry `json:"data"`
	}
	testutil.ParseJSONBody(t, rr, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, 10, resp.Data.QuantityInStock)
	require.Len(t, resp.Data.Lots, 1)
	assert.Equal(t, "LOT-A", resp.Data.Lots[0].LotCode)
}

func TestStockEndpoints_AddValidation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "handler-stock-validation")

	router, _ := newStockRouter()
	product := createApprovedProduct(t, tn.ID)

	// Missing lot code and non-positive quantity
	req := testutil.NewHTTPRequest(http.MethodPost, "/stock/"+product.ID+"/add", map[string]interface{}{
		"quantity": 0,
	})
	req = testutil.WithTenantHeaders(req, tn.ID, tn.Slug)
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertBodyContains(t, rr, "VALIDATION_ERROR")
}

func TestStockEndpoints_RemoveInsufficientStock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "handler-stock-remove")

	router, ledger := newStockRouter()
	product := createApprovedProduct(t, tn.ID)
	expiry := time.Now().UTC().AddDate(0, 6, 0).Truncate(24 * time.Hour)

	tenantCtx := testutil.WithTestTenantValues(ctx, tn.ID, tn.Slug)
	_, err := ledger.AddStock(tenantCtx, service.AddStockInput{
		ProductID:      product.ID,
		LotCode:        "LOT-A",
		ExpirationDate: expiry,
		Quantity:       3,
	})
	require.NoError(t, err)

	req := testutil.NewHTTPRequest(http.MethodPost, "/stock/remove", map[string]interface{}{
		"lines": []map[string]interface{}{
			{"product_id": product.ID, "lot_code": "LOT-A", "expiration_date": expiry, "quantity": 5},
		},
	})
	req = testutil.WithTenantHeaders(req, tn.ID, tn.Slug)
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusUnprocessableEntity)
	testutil.AssertBodyContains(t, rr, "INSUFFICIENT_STOCK")
	testutil.AssertBodyContains(t, rr, product.ID+"/LOT-A")
}

func TestStockEndpoints_MissingTenantRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	router, _ := newStockRouter()

	req := testutil.NewHTTPRequest(http.MethodGet, "/stock/", nil)
	rr := testutil.ExecuteRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusForbidden)
}
