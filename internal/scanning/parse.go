package scanning

import (
	"encoding/json"
	"strings"

	"github.com/zombor/receipt-parser/internal/fault"
)

// wireReceipt mirrors Receipt with pointers so missing fields can be told
// apart from zero values
type wireReceipt struct {
	Merchant *string    `json:"merchant"`
	Date     *string    `json:"date"`
	Total    *float64   `json:"total"`
	Items    []wireItem `json:"items"`
}

type wireItem struct {
	Name  *string  `json:"name"`
	Price *float64 `json:"price"`
	Qty   *float64 `json:"qty"`
}

// parseReceiptJSON turns raw generation output into a validated receipt.
// The text must be a single JSON object; nothing is stripped or repaired.
func parseReceiptJSON(text string) (*Receipt, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return nil, fault.New(fault.MalformedResponse, "response is not a JSON object").
			WithDetail("response_chars", len(text))
	}

	var wire wireReceipt
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, fault.Wrap(fault.MalformedResponse, err, "unmarshaling receipt json")
	}

	if wire.Total == nil {
		return nil, fault.New(fault.Validation, "total is required").WithDetail("field", "total")
	}

	receipt := &Receipt{
		Merchant: wire.Merchant,
		Date:     wire.Date,
		Total:    *wire.Total,
		Items:    make([]Item, 0, len(wire.Items)),
	}
	for i, w := range wire.Items {
		if w.Name == nil || w.Price == nil || w.Qty == nil {
			return nil, fault.New(fault.Validation, "item %d needs name, price and qty", i).
				WithDetail("field", "items")
		}
		receipt.Items = append(receipt.Items, Item{Name: *w.Name, Price: *w.Price, Qty: *w.Qty})
	}

	if err := receipt.Validate(); err != nil {
		return nil, err
	}

	receipt.DropZeroPriced()
	return receipt, nil
}
