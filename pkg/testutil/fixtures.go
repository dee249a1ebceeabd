package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProductFixture represents test product catalog data
type ProductFixture struct {
	ID           string
	Name         string
	ExternalCode string
	Category     string
	Unit         string
	Status       string
	CreatedAt    time.Time
}

// LotFixture represents a single stock lot for test data
type LotFixture struct {
	LotCode        string
	ExpirationDate time.Time
	Quantity       int
}

// PatientFixture represents test patient data
type PatientFixture struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// InvoiceLineFixture represents a single invoice line for test data
type InvoiceLineFixture struct {
	ExternalCode   string
	Description    string
	Quantity       int
	UnitPriceCents int64
	LotCode        string
	ExpirationDate time.Time
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Product creates a product fixture with defaults (approved status)
func (f *FixtureFactory) Product(opts ...func(*ProductFixture)) ProductFixture {
	seq := f.nextSeq()

	product := ProductFixture{
		ID:           uuid.New().String(),
		Name:         fmt.Sprintf("Test Product %d", seq),
		ExternalCode: fmt.Sprintf("EXT-%04d", seq),
		Category:     "Medical Supplies",
		Unit:         "piece",
		Status:       "approved",
		CreatedAt:    time.Now(),
	}

	for _, opt := range opts {
		opt(&product)
	}

	return product
}

// WithProductName sets the product name
func WithProductName(name string) func(*ProductFixture) {
	return func(p *ProductFixture) {
		p.Name = name
	}
}

// WithExternalCode sets the product external code
func WithExternalCode(code string) func(*ProductFixture) {
	return func(p *ProductFixture) {
		p.ExternalCode = code
	}
}

// WithProductStatus sets the product status
func WithProductStatus(status string) func(*ProductFixture) {
	return func(p *ProductFixture) {
		p.Status = status
	}
}

// Lot creates a lot fixture expiring one year from now
func (f *FixtureFactory) Lot(opts ...func(*LotFixture)) LotFixture {
	seq := f.nextSeq()

	lot := LotFixture{
		LotCode:        fmt.Sprintf("LOT-%04d", seq),
		ExpirationDate: time.Now().AddDate(1, 0, 0).Truncate(24 * time.Hour),
		Quantity:       100,
	}

	for _, opt := range opts {
		opt(&lot)
	}

	return lot
}

// WithLotCode sets the lot code
func WithLotCode(code string) func(*LotFixture) {
	return func(l *LotFixture) {
		l.LotCode = code
	}
}

// WithExpiration sets the lot expiration date
func WithExpiration(date time.Time) func(*LotFixture) {
	return func(l *LotFixture) {
		l.ExpirationDate = date
	}
}

// WithQuantity sets the lot quantity
func WithQuantity(qty int) func(*LotFixture) {
	return func(l *LotFixture) {
		l.Quantity = qty
	}
}

// Patient creates a patient fixture with defaults
func (f *FixtureFactory) Patient(opts ...func(*PatientFixture)) PatientFixture {
	seq := f.nextSeq()

	patient := PatientFixture{
		ID:        uuid.New().String(),
		Name:      fmt.Sprintf("Patient %d", seq),
		CreatedAt: time.Now(),
	}

	for _, opt := range opts {
		opt(&patient)
	}

	return patient
}

// WithPatientName sets the patient name
func WithPatientName(name string) func(*PatientFixture) {
	return func(p *PatientFixture) {
		p.Name = name
	}
}

// InvoiceLine creates an invoice line fixture with defaults
func (f *FixtureFactory) InvoiceLine(opts ...func(*InvoiceLineFixture)) InvoiceLineFixture {
	seq := f.nextSeq()

	line := InvoiceLineFixture{
		ExternalCode:   fmt.Sprintf("EXT-%04d", seq),
		Description:    fmt.Sprintf("Invoice line %d", seq),
		Quantity:       10,
		UnitPriceCents: 1250,
		LotCode:        fmt.Sprintf("LOT-%04d", seq),
		ExpirationDate: time.Now().AddDate(1, 0, 0).Truncate(24 * time.Hour),
	}

	for _, opt := range opts {
		opt(&line)
	}

	return line
}

// WithLineQuantity sets the invoice line quantity
func WithLineQuantity(qty int) func(*InvoiceLineFixture) {
	return func(l *InvoiceLineFixture) {
		l.Quantity = qty
	}
}

// WithLineExternalCode sets the invoice line external code
func WithLineExternalCode(code string) func(*InvoiceLineFixture) {
	return func(l *InvoiceLineFixture) {
		l.ExternalCode = code
	}
}

// InvoiceNumber returns a unique invoice number for tests
func (f *FixtureFactory) InvoiceNumber() string {
	return fmt.Sprintf("INV-%04d", f.nextSeq())
}
