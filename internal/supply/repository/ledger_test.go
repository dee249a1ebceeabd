package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/testutil"
)

func createCatalogProduct(t *testing.T, tenantID string) *repository.Product {
	t.Helper()

	fixture := suite.Fixtures.Product()
	repo := repository.NewProductRepository(suite.DB)
	product := &repository.Product{
		Name:           fixture.Name,
		ExternalCode:   fixture.ExternalCode,
		Status:         repository.ProductStatusApproved,
		OwningTenantID: &tenantID,
	}
	require.NoError(t, repo.Create(context.Background(), product))
	return product
}

// inTenantTx runs fn inside a tenant transaction, the way services call
// the lock-requiring repository methods.
func inTenantTx(t *testing.T, tn *testutil.TestTenant, fn func(ctx context.Context) error) error {
	t.Helper()
	tenantCtx := suite.TenantContext(tn)
	return suite.DB.WithTenantRLS(tenantCtx, tn.ID, fn)
}

func TestLedgerRepository_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "repo-ledger-create")
	tenantCtx := suite.TenantContext(tn)

	product := createCatalogProduct(t, tn.ID)
	repo := repository.NewLedgerRepository(suite.DB)

	expiry := time.Now().UTC().AddDate(0, 6, 0).Truncate(24 * time.Hour)
	entry := &repository.LedgerEntry{
		ProductID:       product.ID,
		QuantityInStock: 10,
		Lots: repository.LotList{
			{LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 10},
		},
	}
	require.NoError(t, inTenantTx(t, tn, func(txCtx context.Context) error {
		return repo.Create(txCtx, entry)
	}))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())

	loaded, err := repo.GetByProductID(tenantCtx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.QuantityInStock)
	require.Len(t, loaded.Lots, 1)
	assert.Equal(t, "LOT-A", loaded.Lots[0].LotCode)
	assert.True(t, loaded.Lots[0].ExpirationDate.Equal(expiry))
}

func TestLedgerRepository_DuplicateEntryRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "repo-ledger-dup")

	product := createCatalogProduct(t, tn.ID)
	repo := repository.NewLedgerRepository(suite.DB)

	require.NoError(t, inTenantTx(t, tn, func(txCtx context.Context) error {
		return repo.Create(txCtx, &repository.LedgerEntry{ProductID: product.ID})
	}))

	err := inTenantTx(t, tn, func(txCtx context.Context) error {
		return repo.Create(txCtx, &repository.LedgerEntry{ProductID: product.ID})
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestLedgerRepository_SaveRejectsNegativeQuantity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "repo-ledger-negative")

	product := createCatalogProduct(t, tn.ID)
	repo := repository.NewLedgerRepository(suite.DB)

	entry := &repository.LedgerEntry{ProductID: product.ID}
	require.NoError(t, inTenantTx(t, tn, func(txCtx context.Context) error {
		return repo.Create(txCtx, entry)
	}))

	entry.QuantityInStock = -1
	err := inTenantTx(t, tn, func(txCtx context.Context) error {
		_, lockErr := repo.GetForUpdate(txCtx, product.ID)
		if lockErr != nil {
			return lockErr
		}
		return repo.Save(txCtx, entry)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestLedgerRepository_LockForUpdateOrdersByProductID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "repo-ledger-lock")

	repo := repository.NewLedgerRepository(suite.DB)
	productIDs := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		product := createCatalogProduct(t, tn.ID)
		productIDs = append(productIDs, product.ID)
		require.NoError(t, inTenantTx(t, tn, func(txCtx context.Context) error {
			return repo.Create(txCtx, &repository.LedgerEntry{ProductID: product.ID})
		}))
	}

	require.NoError(t, inTenantTx(t, tn, func(txCtx context.Context) error {
		entries, err := repo.LockForUpdate(txCtx, productIDs)
		if err != nil {
			return err
		}
		require.Len(t, entries, 3)
		for i := 1; i < len(entries); i++ {
			assert.LessOrEqual(t, entries[i-1].ProductID, entries[i].ProductID)
		}
		return nil
	}))
}

func TestLedgerRepository_ListForScanJoinsProductNames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "repo-ledger-scan")
	tenantCtx := suite.TenantContext(tn)

	product := createCatalogProduct(t, tn.ID)
	repo := repository.NewLedgerRepository(suite.DB)
	require.NoError(t, inTenantTx(t, tn, func(txCtx context.Context) error {
		return repo.Create(txCtx, &repository.LedgerEntry{ProductID: product.ID})
	}))

	rows, err := repo.ListForScan(tenantCtx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, product.ID, rows[0].ProductID)
	assert.Equal(t, product.Name, rows[0].ProductName)
}

func TestProductRepository_GetByExternalCode(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	tn := suite.SetupTenant(t, ctx, "repo-product-code")

	product := createCatalogProduct(t, tn.ID)
	repo := repository.NewProductRepository(suite.DB)

	found, err := repo.GetByExternalCode(ctx, product.ExternalCode)
	require.NoError(t, err)
	assert.Equal(t, product.ID, found.ID)

	_, err = repo.GetByExternalCode(ctx, "EXT-DOES-NOT-EXIST")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	// Duplicate external codes are rejected by the catalog
	err = repo.Create(ctx, &repository.Product{
		Name:         "Duplicate",
		ExternalCode: product.ExternalCode,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}
