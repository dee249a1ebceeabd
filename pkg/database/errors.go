package database

import (
	"strings"

	"github.com/lib/pq"

	"github.com/clinsupply/clinsupply-backend/pkg/errors"
)

// PostgreSQL error codes that signal a transient concurrency conflict.
// Transactions failing with one of these can be retried.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// IsRetryableConflict reports whether err is a transient storage conflict
// (serialization failure or deadlock) that a fresh transaction may resolve.
func IsRetryableConflict(err error) bool {
	pqErr, ok := unwrapPQ(err)
	if !ok {
		return false
	}
	return string(pqErr.Code) == pqSerializationFailure || string(pqErr.Code) == pqDeadlockDetected
}

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := unwrapPQ(err)
	if !ok {
		return nil
	}

	switch string(pqErr.Code) {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	case pqSerializationFailure, pqDeadlockDetected:
		return errors.StorageConflict()

	default:
		return nil
	}
}

func unwrapPQ(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_non_negative"):
		return errors.Validation(map[string]string{
			"quantity": "must not be negative",
		})

	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "is not a valid lifecycle state",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "invoice_number"):
		return "an invoice with this number already exists for this tenant"
	case strings.Contains(constraint, "external_code"):
		return "a product with this external code already exists"
	case strings.Contains(constraint, "tenant_product"):
		return "a ledger entry for this product already exists"
	default:
		return "a record with these values already exists"
	}
}
