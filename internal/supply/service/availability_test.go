package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
)

func entryWithLots(productID string, lots ...repository.Lot) *repository.LedgerEntry {
	list := repository.LotList(lots)
	return &repository.LedgerEntry{
		ProductID:       productID,
		Lots:            list,
		QuantityInStock: list.Total(),
	}
}

func TestSimulateRemoval_AllLinesSatisfiable(t *testing.T) {
	expiry := time.Now().AddDate(0, 6, 0).Truncate(24 * time.Hour)
	entries := map[string]*repository.LedgerEntry{
		"prod-1": entryWithLots("prod-1", repository.Lot{LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 10}),
	}

	resulting, issues := simulateRemoval([]repository.UsageLine{
		{ProductID: "prod-1", LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 4},
	}, entries)

	assert.Empty(t, issues)
	assert.Equal(t, 6, resulting["prod-1"].Total())
	// Source entry is untouched until the caller applies the result
	assert.Equal(t, 10, entries["prod-1"].Lots.Total())
}

func TestSimulateRemoval_ReportsEveryFailingLine(t *testing.T) {
	expiry := time.Now().AddDate(0, 6, 0).Truncate(24 * time.Hour)
	entries := map[string]*repository.LedgerEntry{
		"prod-1": entryWithLots("prod-1", repository.Lot{LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 3}),
	}

	_, issues := simulateRemoval([]repository.UsageLine{
		{ProductID: "prod-1", LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 5},
		{ProductID: "prod-1", LotCode: "LOT-B", ExpirationDate: expiry, Quantity: 1},
		{ProductID: "prod-2", LotCode: "LOT-C", ExpirationDate: expiry, Quantity: 1},
	}, entries)

	require.Len(t, issues, 3)
	assert.Equal(t, IssueInsufficientLotQuantity, issues[0].Reason)
	assert.Equal(t, 3, issues[0].Available)
	assert.Equal(t, IssueLotNotFound, issues[1].Reason)
	assert.Equal(t, IssueProductNotInLedger, issues[2].Reason)
}

func TestSimulateRemoval_CumulativeLinesAgainstOneLot(t *testing.T) {
	expiry := time.Now().AddDate(0, 6, 0).Truncate(24 * time.Hour)
	entries := map[string]*repository.LedgerEntry{
		"prod-1": entryWithLots("prod-1", repository.Lot{LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 10}),
	}

	// Each line fits on its own, together they overdraw the lot
	_, issues := simulateRemoval([]repository.UsageLine{
		{ProductID: "prod-1", LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 7},
		{ProductID: "prod-1", LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 7},
	}, entries)

	require.Len(t, issues, 1)
	assert.Equal(t, IssueInsufficientLotQuantity, issues[0].Reason)
	assert.Equal(t, 3, issues[0].Available)
}

func TestIssueDetails_KeyedByProductAndLot(t *testing.T) {
	issues := []Issue{
		{ProductID: "prod-1", LotCode: "LOT-A", Requested: 5, Available: 3, Reason: IssueInsufficientLotQuantity},
		{ProductID: "prod-2", LotCode: "LOT-B", Requested: 2, Reason: IssueLotNotFound},
	}

	details := issueDetails(issues)
	require.Len(t, details, 2)
	assert.Contains(t, details, "prod-1/LOT-A")
	assert.Contains(t, details, "prod-2/LOT-B")
	assert.Contains(t, details["prod-1/LOT-A"], "insufficient_lot_quantity")
}

func TestValidateUsageLines(t *testing.T) {
	expiry := time.Now().AddDate(0, 6, 0)

	err := validateUsageLines(nil)
	require.Error(t, err)

	err = validateUsageLines([]repository.UsageLine{
		{ProductID: "prod-1", LotCode: "", ExpirationDate: expiry, Quantity: 0},
	})
	require.Error(t, err)

	err = validateUsageLines([]repository.UsageLine{
		{ProductID: "prod-1", LotCode: "LOT-A", ExpirationDate: expiry, Quantity: 1},
	})
	assert.NoError(t, err)
}

func TestUniqueProductIDs_SortedAndDeduplicated(t *testing.T) {
	ids := uniqueProductIDs([]repository.UsageLine{
		{ProductID: "c"},
		{ProductID: "a"},
		{ProductID: "c"},
		{ProductID: "b"},
	})

	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestDaysUntil_RoundsPartialDaysUp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, daysUntil(now, now))
	assert.Equal(t, 1, daysUntil(now, now.Add(12*time.Hour)))
	assert.Equal(t, 1, daysUntil(now, now.Add(24*time.Hour)))
	assert.Equal(t, 2, daysUntil(now, now.Add(25*time.Hour)))
	assert.Equal(t, -1, daysUntil(now, now.Add(-24*time.Hour)))
}
