package scanning

import (
	"math"
	"regexp"
	"time"

	"github.com/zombor/receipt-parser/internal/fault"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Item is one purchased line
type Item struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// Receipt contains the structured data extracted from a receipt
type Receipt struct {
	Merchant *string `json:"merchant"`
	Date     *string `json:"date"` // YYYY-MM-DD
	Total    float64 `json:"total"`
	Items    []Item  `json:"items"`
}

// Validate checks the receipt invariants
func (r *Receipt) Validate() error {
	if math.IsNaN(r.Total) || math.IsInf(r.Total, 0) {
		return fault.New(fault.Validation, "total must be a finite number").WithDetail("field", "total")
	}
	if r.Total < 0 {
		return fault.New(fault.Validation, "total must not be negative").WithDetail("field", "total")
	}
	if r.Date != nil {
		if !datePattern.MatchString(*r.Date) {
			return fault.New(fault.Validation, "date %q is not YYYY-MM-DD", *r.Date).WithDetail("field", "date")
		}
		if _, err := time.Parse(time.DateOnly, *r.Date); err != nil {
			return fault.New(fault.Validation, "date %q is not a calendar date", *r.Date).WithDetail("field", "date")
		}
	}
	for i, item := range r.Items {
		if math.IsNaN(item.Price) || math.IsInf(item.Price, 0) || math.IsNaN(item.Qty) || math.IsInf(item.Qty, 0) {
			return fault.New(fault.Validation, "item %d has a non-finite price or quantity", i).WithDetail("field", "items")
		}
	}
	return nil
}

// DropZeroPriced removes items whose price is exactly zero, such as stamps
// and loyalty points
func (r *Receipt) DropZeroPriced() {
	kept := make([]Item, 0, len(r.Items))
	for _, item := range r.Items {
		if item.Price != 0 {
			kept = append(kept, item)
		}
	}
	r.Items = kept
}
