package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	// Stock ledger events
	EventStockAdded   = "supply.stock.added"
	EventStockRemoved = "supply.stock.removed"

	// Treatment request events
	EventRequestCreated   = "supply.request.created"
	EventRequestConsumed  = "supply.request.consumed"
	EventRequestCancelled = "supply.request.cancelled"

	// Invoice events
	EventInvoiceCreated  = "supply.invoice.created"
	EventInvoiceApproved = "supply.invoice.approved"
	EventInvoiceRejected = "supply.invoice.rejected"

	// Product catalog events
	EventProductProvisioned = "supply.product.provisioned"
	EventProductApproved    = "supply.product.approved"

	// Alert events
	EventAlertRaised = "supply.alert.raised"

	// Staff directory events (consumed, published by the directory service)
	EventStaffCreated     = "staff.member.created"
	EventStaffUpdated     = "staff.member.updated"
	EventStaffDeactivated = "staff.member.deactivated"
)

// Exchange names
const (
	ExchangeSupplyEvents = "supply.events"
	ExchangeStaffEvents  = "staff.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Stock Ledger Events

// StockAddedEvent is published when stock enters the ledger
type StockAddedEvent struct {
	TenantID       string    `json:"tenant_id"`
	ProductID      string    `json:"product_id"`
	LotCode        string    `json:"lot_code"`
	ExpirationDate time.Time `json:"expiration_date"`
	Quantity       int       `json:"quantity"`
	NewTotal       int       `json:"new_total"`
	ReferenceID    string    `json:"reference_id,omitempty"`
	PerformedBy    string    `json:"performed_by,omitempty"`
}

// StockRemovedEvent is published when stock leaves the ledger
type StockRemovedEvent struct {
	TenantID    string             `json:"tenant_id"`
	Lines       []StockRemovedLine `json:"lines"`
	ReferenceID string             `json:"reference_id,omitempty"`
	PerformedBy string             `json:"performed_by,omitempty"`
}

// StockRemovedLine is one product/lot decrement within a removal
type StockRemovedLine struct {
	ProductID      string    `json:"product_id"`
	LotCode        string    `json:"lot_code"`
	ExpirationDate time.Time `json:"expiration_date"`
	Quantity       int       `json:"quantity"`
	NewTotal       int       `json:"new_total"`
}

// Treatment Request Events

// RequestCreatedEvent is published when a treatment request is registered
type RequestCreatedEvent struct {
	TenantID  string `json:"tenant_id"`
	RequestID string `json:"request_id"`
	PatientID string `json:"patient_id"`
	LineCount int    `json:"line_count"`
	Warnings  int    `json:"warnings"`
}

// RequestConsumedEvent is published when a request's usage lines are
// deducted from the ledger
type RequestConsumedEvent struct {
	TenantID    string `json:"tenant_id"`
	RequestID   string `json:"request_id"`
	PatientID   string `json:"patient_id"`
	PerformedBy string `json:"performed_by,omitempty"`
}

// RequestCancelledEvent is published when a pending request is cancelled
type RequestCancelledEvent struct {
	TenantID  string `json:"tenant_id"`
	RequestID string `json:"request_id"`
}

// Invoice Events

// InvoiceCreatedEvent is published when a supplier invoice is registered
type InvoiceCreatedEvent struct {
	TenantID        string `json:"tenant_id"`
	InvoiceID       string `json:"invoice_id"`
	InvoiceNumber   string `json:"invoice_number"`
	Supplier        string `json:"supplier"`
	LineCount       int    `json:"line_count"`
	TotalValueCents int64  `json:"total_value_cents"`
}

// InvoiceApprovedEvent is published when an invoice is approved and its
// lines have been added to the ledger
type InvoiceApprovedEvent struct {
	TenantID      string `json:"tenant_id"`
	InvoiceID     string `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number"`
	ApprovedBy    string `json:"approved_by,omitempty"`
}

// InvoiceRejectedEvent is published when an invoice is rejected
type InvoiceRejectedEvent struct {
	TenantID      string `json:"tenant_id"`
	InvoiceID     string `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number"`
	Reason        string `json:"reason,omitempty"`
}

// Product Catalog Events

// ProductProvisionedEvent is published when an unknown product is
// auto-provisioned in pending state
type ProductProvisionedEvent struct {
	ProductID    string `json:"product_id"`
	ExternalCode string `json:"external_code"`
	Name         string `json:"name"`
	TenantID     string `json:"tenant_id"`
}

// ProductApprovedEvent is published when a pending product is approved
// into the shared catalog
type ProductApprovedEvent struct {
	ProductID    string `json:"product_id"`
	ExternalCode string `json:"external_code"`
	ApprovedBy   string `json:"approved_by"`
}

// Alert Events

// AlertRaisedEvent is published for each finding of a stock scan
type AlertRaisedEvent struct {
	TenantID            string     `json:"tenant_id"`
	AlertType           string     `json:"alert_type"`
	ProductID           string     `json:"product_id"`
	ProductName         string     `json:"product_name"`
	LotCode             string     `json:"lot_code,omitempty"`
	ExpirationDate      *time.Time `json:"expiration_date,omitempty"`
	DaysUntilExpiration int        `json:"days_until_expiration,omitempty"`
	QuantityInStock     int        `json:"quantity_in_stock"`
	MinimumStockLevel   int        `json:"minimum_stock_level,omitempty"`
}

// Staff Directory Events

// StaffCreatedEvent announces a new staff member in the directory
type StaffCreatedEvent struct {
	TenantID string `json:"tenant_id"`
	StaffID  string `json:"staff_id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

// StaffUpdatedEvent carries the changed fields of a staff record as
// {"field": {"from": ..., "to": ...}} pairs
type StaffUpdatedEvent struct {
	TenantID string                 `json:"tenant_id"`
	StaffID  string                 `json:"staff_id"`
	Fields   map[string]interface{} `json:"fields"`
}

// StaffDeactivatedEvent announces that a staff member left
type StaffDeactivatedEvent struct {
	TenantID string `json:"tenant_id"`
	StaffID  string `json:"staff_id"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Nanosecond()%10000)
}
