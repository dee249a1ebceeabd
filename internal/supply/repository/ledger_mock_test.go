package repository_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
	"github.com/clinsupply/clinsupply-backend/pkg/database"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/logger"
	"github.com/clinsupply/clinsupply-backend/pkg/testutil"
)

const mockTenantID = "11111111-1111-1111-1111-111111111111"

func newMockRepoDB(t *testing.T) (*testutil.UnitTestSuite, *database.DB) {
	t.Helper()
	suite := testutil.NewUnitTestSuite(t)
	db := database.WrapDB(suite.MockDB.DB, logger.New("test", "test"))
	return suite, db
}

func TestLedgerRepository_GetByProductID_ScansEmbeddedLots(t *testing.T) {
	unit, db := newMockRepoDB(t)
	defer unit.Cleanup()

	repo := repository.NewLedgerRepository(db)
	ctx := testutil.TestTenantContext()
	productID := "22222222-2222-2222-2222-222222222222"
	now := time.Now()

	rows := testutil.MockRows(
		"id", "tenant_id", "product_id", "quantity_in_stock", "minimum_stock_level", "lots",
		"last_movement_direction", "last_movement_quantity", "last_movement_reference_id",
		"last_movement_at", "created_at", "updated_at",
	).AddRow(
		"33333333-3333-3333-3333-333333333333", mockTenantID, productID, 5, 2,
		[]byte(`[{"lot_code":"LOT-A","expiration_date":"2027-03-01T00:00:00Z","quantity":5}]`),
		nil, nil, nil, nil, now, now,
	)

	unit.MockDB.ExpectTenantBegin("public", mockTenantID)
	unit.MockDB.ExpectQuery("SELECT").WithArgs(mockTenantID, productID).WillReturnRows(rows)
	unit.MockDB.ExpectCommit()

	entry, err := repo.GetByProductID(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 5, entry.QuantityInStock)
	assert.Equal(t, 2, entry.MinimumStockLevel)
	require.Len(t, entry.Lots, 1)
	assert.Equal(t, "LOT-A", entry.Lots[0].LotCode)
	assert.Equal(t, 5, entry.Lots[0].Quantity)
}

func TestLedgerRepository_GetByProductID_NotFound(t *testing.T) {
	unit, db := newMockRepoDB(t)
	defer unit.Cleanup()

	repo := repository.NewLedgerRepository(db)
	ctx := testutil.TestTenantContext()

	unit.MockDB.ExpectTenantBegin("public", mockTenantID)
	unit.MockDB.ExpectQuery("SELECT").WillReturnError(sql.ErrNoRows)
	unit.MockDB.ExpectRollback()

	_, err := repo.GetByProductID(ctx, "22222222-2222-2222-2222-222222222222")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestInvoiceRepository_CreateMapsDuplicateNumber(t *testing.T) {
	unit, db := newMockRepoDB(t)
	defer unit.Cleanup()

	repo := repository.NewInvoiceRepository(db)
	ctx := testutil.TestTenantContext()

	unit.MockDB.ExpectTenantBegin("public", mockTenantID)
	unit.MockDB.ExpectQuery("INSERT INTO invoices").WillReturnError(&pq.Error{
		Code:       "23505",
		Constraint: "invoices_tenant_invoice_number_unique",
	})
	unit.MockDB.ExpectRollback()

	err := repo.Create(ctx, &repository.Invoice{
		InvoiceNumber: "INV-001",
		Supplier:      "MedSupply GmbH",
		EmissionDate:  time.Now(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Message, "invoice with this number")
}
