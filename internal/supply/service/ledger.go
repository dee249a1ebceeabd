package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/clinsupply/clinsupply-backend/internal/supply/events"
	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
	"github.com/clinsupply/clinsupply-backend/pkg/actor"
	"github.com/clinsupply/clinsupply-backend/pkg/database"
	"github.com/clinsupply/clinsupply-backend/pkg/errors"
	"github.com/clinsupply/clinsupply-backend/pkg/logger"
	"github.com/clinsupply/clinsupply-backend/pkg/messaging"
	"github.com/clinsupply/clinsupply-backend/pkg/tenant"
)

// LedgerService owns all stock movements. Every mutation runs inside a
// tenant transaction holding row locks on the affected ledger entries,
// so the quantity/lots consistency of an entry can never be observed
// half-applied.
type LedgerService struct {
	db          *database.DB
	ledgerRepo  *repository.LedgerRepository
	productRepo *repository.ProductRepository
	publisher   events.Publisher
	logger      *logger.Logger
	now         func() time.Time
}

// NewLedgerService creates a new ledger service
func NewLedgerService(
	db *database.DB,
	ledgerRepo *repository.LedgerRepository,
	productRepo *repository.ProductRepository,
	publisher events.Publisher,
	log *logger.Logger,
) *LedgerService {
	return &LedgerService{
		db:          db,
		ledgerRepo:  ledgerRepo,
		productRepo: productRepo,
		publisher:   publisher,
		logger:      log.WithComponent("ledger-service"),
		now:         time.Now,
	}
}

// AddStockInput describes one stock addition
type AddStockInput struct {
	ProductID      string
	LotCode        string
	ExpirationDate time.Time
	Quantity       int
	ReferenceID    string
}

func (in AddStockInput) validate() error {
	details := make(map[string]string)
	if in.ProductID == "" {
		details["product_id"] = "is required"
	}
	if in.LotCode == "" {
		details["lot_code"] = "is required"
	}
	if in.ExpirationDate.IsZero() {
		details["expiration_date"] = "is required"
	}
	if in.Quantity <= 0 {
		details["quantity"] = "must be positive"
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// AddStock adds a quantity of a product to the tenant's ledger under the
// given lot. The product must exist in the catalog and be approved. A
// missing ledger entry is created on first addition; a lot with the same
// code and expiration date is merged instead of duplicated.
func (s *LedgerService) AddStock(ctx context.Context, input AddStockInput) (*repository.LedgerEntry, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	product, err := s.productRepo.GetByID(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.IsApproved() {
		return nil, errors.ProductNotApproved(product.ExternalCode)
	}

	var entry *repository.LedgerEntry
	err = runTenantTx(ctx, s.db, s.logger, func(txCtx context.Context) error {
		entry, err = s.applyAdd(txCtx, input)
		return err
	})
	if err != nil {
		return nil, err
	}

	tenantID, _ := tenant.TenantID(ctx)
	s.publisher.Publish(ctx, messaging.EventStockAdded, messaging.StockAddedEvent{
		TenantID:       tenantID,
		ProductID:      input.ProductID,
		LotCode:        input.LotCode,
		ExpirationDate: input.ExpirationDate,
		Quantity:       input.Quantity,
		NewTotal:       entry.QuantityInStock,
		ReferenceID:    input.ReferenceID,
		PerformedBy:    actor.ActorID(ctx),
	})

	return entry, nil
}

// applyAdd performs one stock addition against a locked ledger entry,
// creating the entry if the product has never been stocked.
// MUST be called inside an active tenant transaction.
func (s *LedgerService) applyAdd(ctx context.Context, input AddStockInput) (*repository.LedgerEntry, error) {
	entry, err := s.ledgerRepo.GetOrCreateForUpdate(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}

	entry.Lots = entry.Lots.Add(repository.Lot{
		ExpirationDate: input.ExpirationDate,
		LotCode:        input.LotCode,
		Quantity:       input.Quantity,
	})
	entry.QuantityInStock = entry.Lots.Total()
	entry.RecordMovement(repository.MovementIn, input.Quantity, input.ReferenceID, s.now().UTC())

	if err := s.ledgerRepo.Save(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RemoveStock deducts the given usage lines from the ledger atomically:
// either every line is applied or none is. Lines that cannot be
// satisfied surface as an insufficient stock error carrying one detail
// entry per failing line.
func (s *LedgerService) RemoveStock(ctx context.Context, lines []repository.UsageLine, referenceID string) error {
	if err := validateUsageLines(lines); err != nil {
		return err
	}

	var removed []messaging.StockRemovedLine
	err := runTenantTx(ctx, s.db, s.logger, func(txCtx context.Context) error {
		var err error
		removed, err = s.applyRemoval(txCtx, lines, referenceID)
		return err
	})
	if err != nil {
		return err
	}

	tenantID, _ := tenant.TenantID(ctx)
	s.publisher.Publish(ctx, messaging.EventStockRemoved, messaging.StockRemovedEvent{
		TenantID:    tenantID,
		Lines:       removed,
		ReferenceID: referenceID,
		PerformedBy: actor.ActorID(ctx),
	})

	return nil
}

// applyRemoval locks the affected ledger entries, verifies every line
// can be satisfied, then applies all decrements and stamps one outbound
// movement per product.
// MUST be called inside an active tenant transaction.
func (s *LedgerService) applyRemoval(ctx context.Context, lines []repository.UsageLine, referenceID string) ([]messaging.StockRemovedLine, error) {
	productIDs := uniqueProductIDs(lines)

	locked, err := s.ledgerRepo.LockForUpdate(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]*repository.LedgerEntry, len(locked))
	for i := range locked {
		entries[locked[i].ProductID] = &locked[i]
	}

	resulting, issues := simulateRemoval(lines, entries)
	if len(issues) > 0 {
		return nil, errors.InsufficientStock(issueDetails(issues))
	}

	removedPerProduct := make(map[string]int, len(productIDs))
	for _, line := range lines {
		removedPerProduct[line.ProductID] += line.Quantity
	}

	now := s.now().UTC()
	for _, productID := range productIDs {
		entry := entries[productID]
		entry.Lots = resulting[productID]
		entry.QuantityInStock = entry.Lots.Total()
		entry.RecordMovement(repository.MovementOut, removedPerProduct[productID], referenceID, now)
		if err := s.ledgerRepo.Save(ctx, entry); err != nil {
			return nil, err
		}
	}

	removed := make([]messaging.StockRemovedLine, 0, len(lines))
	for _, line := range lines {
		removed = append(removed, messaging.StockRemovedLine{
			ProductID:      line.ProductID,
			LotCode:        line.LotCode,
			ExpirationDate: line.ExpirationDate,
			Quantity:       line.Quantity,
			NewTotal:       entries[line.ProductID].QuantityInStock,
		})
	}
	return removed, nil
}

// CheckAvailability reports, without locking anything, which of the
// given usage lines the ledger could not satisfy right now. An empty
// result means every line is coverable. The answer is advisory: stock
// may change before a later removal.
func (s *LedgerService) CheckAvailability(ctx context.Context, lines []repository.UsageLine) ([]Issue, error) {
	if err := validateUsageLines(lines); err != nil {
		return nil, err
	}

	entries := make(map[string]*repository.LedgerEntry)
	for _, productID := range uniqueProductIDs(lines) {
		entry, err := s.ledgerRepo.GetByProductID(ctx, productID)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		entries[productID] = entry
	}

	_, issues := simulateRemoval(lines, entries)
	return issues, nil
}

// GetEntry returns the tenant's ledger entry for a product
func (s *LedgerService) GetEntry(ctx context.Context, productID string) (*repository.LedgerEntry, error) {
	return s.ledgerRepo.GetByProductID(ctx, productID)
}

// ListEntries returns all ledger entries of the tenant
func (s *LedgerService) ListEntries(ctx context.Context) ([]repository.LedgerEntry, error) {
	return s.ledgerRepo.List(ctx)
}

// ListAvailableLots returns the product's lots ordered by ascending
// expiration date, advising callers which lots to draw from first.
func (s *LedgerService) ListAvailableLots(ctx context.Context, productID string) (repository.LotList, error) {
	entry, err := s.ledgerRepo.GetByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	return entry.Lots.SortedByExpiration(), nil
}

// ListLowStock returns the tenant's entries at or below their minimum
// stock level. Entries without a configured minimum never qualify.
func (s *LedgerService) ListLowStock(ctx context.Context) ([]repository.LedgerEntry, error) {
	entries, err := s.ledgerRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	low := make([]repository.LedgerEntry, 0)
	for _, entry := range entries {
		if entry.MinimumStockLevel > 0 && entry.QuantityInStock <= entry.MinimumStockLevel {
			low = append(low, entry)
		}
	}
	return low, nil
}

// ExpiringLot is a stocked lot expiring within a requested window
type ExpiringLot struct {
	ProductID           string    `json:"product_id"`
	LotCode             string    `json:"lot_code"`
	ExpirationDate      time.Time `json:"expiration_date"`
	Quantity            int       `json:"quantity"`
	DaysUntilExpiration int       `json:"days_until_expiration"`
}

// ListExpiring returns every stocked lot whose expiration date falls
// within daysAhead days from now, already-expired lots included.
func (s *LedgerService) ListExpiring(ctx context.Context, daysAhead int) ([]ExpiringLot, error) {
	if daysAhead <= 0 {
		return nil, errors.Validation(map[string]string{"days": "must be positive"})
	}

	entries, err := s.ledgerRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expiring := make([]ExpiringLot, 0)
	for _, entry := range entries {
		for _, lot := range entry.Lots.SortedByExpiration() {
			if lot.Quantity <= 0 {
				continue
			}
			days := daysUntil(now, lot.ExpirationDate)
			if days > daysAhead {
				continue
			}
			expiring = append(expiring, ExpiringLot{
				ProductID:           entry.ProductID,
				LotCode:             lot.LotCode,
				ExpirationDate:      lot.ExpirationDate,
				Quantity:            lot.Quantity,
				DaysUntilExpiration: days,
			})
		}
	}
	return expiring, nil
}

// SetMinimumStockLevel updates the reorder threshold of a ledger entry
func (s *LedgerService) SetMinimumStockLevel(ctx context.Context, productID string, level int) (*repository.LedgerEntry, error) {
	if level < 0 {
		return nil, errors.Validation(map[string]string{"minimum_stock_level": "must not be negative"})
	}

	var entry *repository.LedgerEntry
	err := runTenantTx(ctx, s.db, s.logger, func(txCtx context.Context) error {
		var err error
		entry, err = s.ledgerRepo.GetForUpdate(txCtx, productID)
		if err != nil {
			return err
		}
		entry.MinimumStockLevel = level
		return s.ledgerRepo.Save(txCtx, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// EnsureEntry materializes a zero-stock ledger entry for a product if
// the tenant does not have one yet. Used when a product clears catalog
// approval so it immediately shows up in stock listings and scans.
func (s *LedgerService) EnsureEntry(ctx context.Context, productID string) error {
	return runTenantTx(ctx, s.db, s.logger, func(txCtx context.Context) error {
		_, err := s.ledgerRepo.GetOrCreateForUpdate(txCtx, productID)
		return err
	})
}

// validateUsageLines rejects structurally invalid usage lines before any
// ledger state is consulted.
func validateUsageLines(lines []repository.UsageLine) error {
	if len(lines) == 0 {
		return errors.Validation(map[string]string{"lines": "at least one line is required"})
	}

	details := make(map[string]string)
	for i, line := range lines {
		if line.ProductID == "" {
			details[lineField(i, "product_id")] = "is required"
		}
		if line.LotCode == "" {
			details[lineField(i, "lot_code")] = "is required"
		}
		if line.ExpirationDate.IsZero() {
			details[lineField(i, "expiration_date")] = "is required"
		}
		if line.Quantity <= 0 {
			details[lineField(i, "quantity")] = "must be positive"
		}
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

func lineField(index int, field string) string {
	return fmt.Sprintf("lines[%d].%s", index, field)
}

// uniqueProductIDs returns the distinct product IDs of the lines in
// ascending order. Locking in a stable order keeps concurrent removals
// from deadlocking each other.
func uniqueProductIDs(lines []repository.UsageLine) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	sort.Strings(ids)
	return ids
}

// simulateRemoval walks the usage lines against the given entries and
// returns the lot lists that would result, plus one issue per line that
// cannot be satisfied. Lines targeting the same lot are evaluated
// cumulatively, so two lines that each fit individually but overdraw
// the lot together are caught here.
func simulateRemoval(lines []repository.UsageLine, entries map[string]*repository.LedgerEntry) (map[string]repository.LotList, []Issue) {
	working := make(map[string]repository.LotList, len(entries))
	for productID, entry := range entries {
		working[productID] = entry.Lots
	}

	var issues []Issue
	for _, line := range lines {
		if _, ok := entries[line.ProductID]; !ok {
			issues = append(issues, Issue{
				ProductID:      line.ProductID,
				LotCode:        line.LotCode,
				ExpirationDate: line.ExpirationDate,
				Requested:      line.Quantity,
				Reason:         IssueProductNotInLedger,
			})
			continue
		}

		lots := working[line.ProductID]
		i := lots.Find(line.LotCode, line.ExpirationDate)
		if i < 0 {
			issues = append(issues, Issue{
				ProductID:      line.ProductID,
				LotCode:        line.LotCode,
				ExpirationDate: line.ExpirationDate,
				Requested:      line.Quantity,
				Reason:         IssueLotNotFound,
			})
			continue
		}
		if lots[i].Quantity < line.Quantity {
			issues = append(issues, Issue{
				ProductID:      line.ProductID,
				LotCode:        line.LotCode,
				ExpirationDate: line.ExpirationDate,
				Requested:      line.Quantity,
				Available:      lots[i].Quantity,
				Reason:         IssueInsufficientLotQuantity,
			})
			continue
		}

		working[line.ProductID], _ = lots.Remove(line.LotCode, line.ExpirationDate, line.Quantity)
	}

	return working, issues
}
