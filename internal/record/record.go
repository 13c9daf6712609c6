// Package record defines the in-memory row shape shared by every import stage
// and the date normalizer used by cleaning and fact loading.
package record

import (
	"fmt"
	"strings"
)

// Field names as they appear in the order-history header (after trimming).
const (
	FieldOrderID      = "Order ID"
	FieldCustomerID   = "Customer ID"
	FieldCustomerName = "Customer Name"
	FieldCity         = "City"
	FieldCountry      = "Country"
	FieldPostalCode   = "Postal Code"
	FieldCountryCode  = "Country Code"
	FieldCuisineName  = "Cuisine Name"
	FieldCourseName   = "Course Name"
	FieldStarterName  = "Starter Name"
	FieldDessertName  = "Desert Name" // sic, matches the source header
	FieldDrink        = "Drink"
	FieldSides        = "Sides"
	FieldOrderDate    = "Order Date"
	FieldDeliveryDate = "Delivery Date"
	FieldQuantity     = "Quantity"
	FieldCost         = "Cost"
	FieldSales        = "Sales"
	FieldDiscount     = "Discount"
	FieldDeliveryCost = "Delivery Cost"
)

// RequiredFields lists every column the input header must carry.
var RequiredFields = []string{
	FieldOrderID, FieldCustomerID, FieldCustomerName, FieldCity, FieldCountry,
	FieldPostalCode, FieldCountryCode, FieldCuisineName, FieldCourseName,
	FieldStarterName, FieldDessertName, FieldDrink, FieldSides,
	FieldOrderDate, FieldDeliveryDate, FieldQuantity, FieldCost,
	FieldSales, FieldDiscount, FieldDeliveryCost,
}

// Record is one input row.
//
// Values maps field name to a raw or cleaned value. nil is the canonical
// absent marker; a missing key reads as nil too.
type Record struct {
	Pos    int // 0-based position in source order
	Line   int // 1-based line in the input file, 0 when unknown
	Values map[string]any
}

// Get returns the value of field, or nil.
func (r Record) Get(field string) any {
	if r.Values == nil {
		return nil
	}
	return r.Values[field]
}

// Text returns the value of field as trimmed text. ok is false when the value
// is absent or blank.
func (r Record) Text(field string) (s string, ok bool) {
	switch v := r.Get(field).(type) {
	case nil:
		return "", false
	case string:
		s = strings.TrimSpace(v)
	case []byte:
		s = strings.TrimSpace(string(v))
	default:
		s = strings.TrimSpace(fmt.Sprint(v))
	}
	return s, s != ""
}

// Clone returns a copy whose Values map can be modified independently.
func (r Record) Clone() Record {
	out := Record{Pos: r.Pos, Line: r.Line, Values: make(map[string]any, len(r.Values))}
	for k, v := range r.Values {
		out.Values[k] = v
	}
	return out
}
