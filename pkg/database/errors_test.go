package database_test

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsupply/clinsupply-backend/pkg/database"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
)

func TestIsRetryableConflict(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"deadlock detected", &pq.Error{Code: "40P01"}, true},
		{"wrapped serialization failure", fmt.Errorf("tx failed: %w", &pq.Error{Code: "40001"}), true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"plain error", fmt.Errorf("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, database.IsRetryableConflict(tt.err))
		})
	}
}

func TestMapPQError_CheckConstraints(t *testing.T) {
	appErr := database.MapPQError(&pq.Error{
		Code:       "23514",
		Constraint: "stock_ledger_quantity_non_negative",
	})
	require.NotNil(t, appErr)
	assert.True(t, errors.Is(appErr, errors.ErrValidation))
	assert.Equal(t, "must not be negative", appErr.Details["quantity"])

	appErr = database.MapPQError(&pq.Error{
		Code:       "23514",
		Constraint: "invoices_status_valid",
	})
	require.NotNil(t, appErr)
	assert.True(t, errors.Is(appErr, errors.ErrValidation))
	assert.Contains(t, appErr.Details, "status")
}

func TestMapPQError_UniqueViolations(t *testing.T) {
	tests := []struct {
		constraint string
		contains   string
	}{
		{"invoices_tenant_invoice_number_unique", "invoice with this number"},
		{"products_external_code_key", "external code"},
		{"stock_ledger_tenant_product_unique", "ledger entry for this product"},
	}

	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			appErr := database.MapPQError(&pq.Error{Code: "23505", Constraint: tt.constraint})
			require.NotNil(t, appErr)
			assert.True(t, errors.Is(appErr, errors.ErrConflict))
			assert.Contains(t, appErr.Message, tt.contains)
		})
	}
}

func TestMapPQError_ConcurrencyConflicts(t *testing.T) {
	appErr := database.MapPQError(&pq.Error{Code: "40001"})
	require.NotNil(t, appErr)
	assert.True(t, errors.Is(appErr, errors.ErrStorageConflict))

	appErr = database.MapPQError(&pq.Error{Code: "40P01"})
	require.NotNil(t, appErr)
	assert.True(t, errors.Is(appErr, errors.ErrStorageConflict))
}

func TestMapPQError_PassesThroughUnknown(t *testing.T) {
	assert.Nil(t, database.MapPQError(fmt.Errorf("not a pq error")))
	assert.Nil(t, database.MapPQError(nil))
	assert.Nil(t, database.MapPQError(&pq.Error{Code: "53300"}))
}
