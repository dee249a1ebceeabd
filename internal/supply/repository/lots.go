package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Lot is a single stock lot within a ledger entry. Lots are identified by
// the pair (expiration date, lot code); two deliveries with the same code
// and date are merged into one lot.
type Lot struct {
	ExpirationDate time.Time `json:"expiration_date"`
	LotCode        string    `json:"lot_code"`
	Quantity       int       `json:"quantity"`
}

// SameIdentity reports whether two lots share the (expiration, code) identity.
func (l Lot) SameIdentity(other Lot) bool {
	return l.LotCode == other.LotCode && l.ExpirationDate.Equal(other.ExpirationDate)
}

// LotList is the ordered collection of lots of one ledger entry. It is
// stored as a JSONB column.
type LotList []Lot

// Value implements driver.Valuer for JSONB storage
func (ll LotList) Value() (driver.Value, error) {
	if ll == nil {
		ll = LotList{}
	}
	return json.Marshal(ll)
}

// Scan implements sql.Scanner for JSONB retrieval
func (ll *LotList) Scan(src interface{}) error {
	if src == nil {
		*ll = LotList{}
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into LotList", src)
	}

	return json.Unmarshal(data, ll)
}

// Total returns the sum of all lot quantities. A ledger entry is
// consistent when its quantity_in_stock equals this value.
func (ll LotList) Total() int {
	total := 0
	for _, lot := range ll {
		total += lot.Quantity
	}
	return total
}

// Find returns the index of the lot with the given identity, or -1.
func (ll LotList) Find(lotCode string, expirationDate time.Time) int {
	for i, lot := range ll {
		if lot.LotCode == lotCode && lot.ExpirationDate.Equal(expirationDate) {
			return i
		}
	}
	return -1
}

// Add merges the given lot into the list. An existing lot with the same
// identity has its quantity increased; otherwise the lot is appended.
func (ll LotList) Add(lot Lot) LotList {
	if i := ll.Find(lot.LotCode, lot.ExpirationDate); i >= 0 {
		out := ll.clone()
		out[i].Quantity += lot.Quantity
		return out
	}
	out := ll.clone()
	return append(out, lot)
}

// Remove decrements the identified lot by quantity. Lots that reach zero
// are dropped from the list entirely; no zero-quantity lots remain.
// Returns false if the lot does not exist or holds less than quantity.
func (ll LotList) Remove(lotCode string, expirationDate time.Time, quantity int) (LotList, bool) {
	i := ll.Find(lotCode, expirationDate)
	if i < 0 {
		return ll, false
	}
	if ll[i].Quantity < quantity {
		return ll, false
	}

	out := ll.clone()
	out[i].Quantity -= quantity
	if out[i].Quantity == 0 {
		out = append(out[:i], out[i+1:]...)
	}
	return out, true
}

// SortedByExpiration returns a copy ordered by ascending expiration date.
// Used to advise callers which lots to use first.
func (ll LotList) SortedByExpiration() LotList {
	out := ll.clone()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExpirationDate.Before(out[j].ExpirationDate)
	})
	return out
}

func (ll LotList) clone() LotList {
	out := make(LotList, len(ll))
	copy(out, ll)
	return out
}
