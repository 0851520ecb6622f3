package rpc

import (
	"math"

	"github.com/zombor/receipt-parser/internal/scanning"
)

const currencyCode = "USD"

// ParseImageRequest asks for a receipt to be extracted from an image
type ParseImageRequest struct {
	ImageData   []byte `json:"image_data"`
	ContentType string `json:"content_type"`
	// Engine names the provider; empty means gemini
	Engine string `json:"engine,omitempty"`
}

// ParseImageResponse carries the extracted receipt
type ParseImageResponse struct {
	Receipt *Receipt `json:"receipt"`
}

// GetStatusRequest is empty
type GetStatusRequest struct{}

// GetStatusResponse reports every provider and the service version
type GetStatusResponse struct {
	Providers      []ProviderStatus `json:"providers"`
	ServiceVersion string           `json:"service_version"`
}

// ProviderStatus is the wire form of one provider's state
type ProviderStatus struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Money is an amount split into whole units and nano units
type Money struct {
	CurrencyCode string `json:"currency_code"`
	Units        int64  `json:"units"`
	Nanos        int32  `json:"nanos"`
}

// Receipt is the wire form of a parsed receipt
type Receipt struct {
	Engine      string        `json:"engine"`
	Merchant    string        `json:"merchant,omitempty"`
	Date        string        `json:"date,omitempty"`
	TotalAmount *Money        `json:"total_amount,omitempty"`
	Items       []ReceiptItem `json:"items"`
}

// ReceiptItem is the wire form of one line item
type ReceiptItem struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	UnitPrice *Money  `json:"unit_price,omitempty"`
}

// moneyFrom converts an amount to Money. Zero has no Money.
func moneyFrom(amount float64) *Money {
	if amount == 0 {
		return nil
	}
	units, frac := math.Modf(amount)
	nanos := math.Round(frac * 1e9)
	if math.Abs(nanos) >= 1e9 {
		units += math.Copysign(1, nanos)
		nanos = 0
	}
	return &Money{CurrencyCode: currencyCode, Units: int64(units), Nanos: int32(nanos)}
}

func receiptFrom(engine string, r *scanning.Receipt) *Receipt {
	out := &Receipt{
		Engine:      engine,
		TotalAmount: moneyFrom(r.Total),
		Items:       make([]ReceiptItem, 0, len(r.Items)),
	}
	if r.Merchant != nil {
		out.Merchant = *r.Merchant
	}
	if r.Date != nil {
		out.Date = *r.Date
	}
	for _, item := range r.Items {
		out.Items = append(out.Items, ReceiptItem{
			Name:      item.Name,
			Quantity:  item.Qty,
			UnitPrice: moneyFrom(item.Price),
		})
	}
	return out
}

func statusFrom(states []scanning.ProviderState) []ProviderStatus {
	out := make([]ProviderStatus, 0, len(states))
	for _, s := range states {
		out = append(out, ProviderStatus{
			Name:      s.Name,
			Kind:      string(s.Kind),
			Available: s.Available,
			Reason:    s.Reason,
			Model:     s.Model,
		})
	}
	return out
}
