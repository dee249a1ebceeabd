package service

import (
	"fmt"
	"time"

	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
)

// IssueReason is the closed set of reasons a usage line cannot be
// satisfied by the ledger.
type IssueReason string

const (
	IssueProductNotInLedger      IssueReason = "product_not_in_ledger"
	IssueLotNotFound             IssueReason = "lot_not_found"
	IssueInsufficientLotQuantity IssueReason = "insufficient_lot_quantity"
)

// Issue describes one usage line the ledger cannot satisfy. Issues are
// advisory on availability checks and blocking on removal.
type Issue struct {
	ProductID      string      `json:"product_id"`
	LotCode        string      `json:"lot_code,omitempty"`
	ExpirationDate time.Time   `json:"expiration_date,omitempty"`
	Requested      int         `json:"requested"`
	Available      int         `json:"available"`
	Reason         IssueReason `json:"reason"`
}

// Key identifies the failing line in error details
func (i Issue) Key() string {
	return i.ProductID + "/" + i.LotCode
}

// Message renders a human-readable description of the issue
func (i Issue) Message() string {
	switch i.Reason {
	case IssueProductNotInLedger:
		return "product has no ledger entry"
	case IssueLotNotFound:
		return fmt.Sprintf("lot %s not found", i.LotCode)
	case IssueInsufficientLotQuantity:
		return fmt.Sprintf("requested %d, available %d in lot %s", i.Requested, i.Available, i.LotCode)
	default:
		return string(i.Reason)
	}
}

// issueDetails converts issues into the details map carried by an
// insufficient stock error, keyed by "<product_id>/<lot_code>".
func issueDetails(issues []Issue) map[string]string {
	details := make(map[string]string, len(issues))
	for _, issue := range issues {
		details[issue.Key()] = fmt.Sprintf("%s: %s", issue.Reason, issue.Message())
	}
	return details
}

// issuesToWarnings converts availability issues into the warning records
// stored on a treatment request.
func issuesToWarnings(issues []Issue) repository.AvailabilityWarnings {
	warnings := make(repository.AvailabilityWarnings, 0, len(issues))
	for _, issue := range issues {
		warnings = append(warnings, repository.AvailabilityWarning{
			ProductID:      issue.ProductID,
			LotCode:        issue.LotCode,
			ExpirationDate: issue.ExpirationDate,
			Reason:         string(issue.Reason),
			Message:        issue.Message(),
		})
	}
	return warnings
}
