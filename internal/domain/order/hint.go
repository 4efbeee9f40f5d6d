package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Hint carries order metadata recovered from previously rendered text.
// It is a degraded-mode source: stored values always take precedence.
type Hint struct {
	ServiceName string
	PhoneNumber string
	Price       *decimal.Decimal
	CreatedAt   time.Time
}

// Reconcile fills fields the order lacks from h and returns the names of the
// fields it filled. Fields already present are never overwritten.
func (o *Order) Reconcile(h Hint) []string {
	var filled []string
	if o.ServiceName == "" && h.ServiceName != "" {
		o.ServiceName = h.ServiceName
		filled = append(filled, "service_name")
	}
	if o.PhoneNumber == "" && h.PhoneNumber != "" {
		o.PhoneNumber = h.PhoneNumber
		filled = append(filled, "phone_number")
	}
	if o.Price.IsZero() && h.Price != nil && !h.Price.IsNegative() {
		o.Price = *h.Price
		filled = append(filled, "price")
	}
	if o.CreatedAt.IsZero() && !h.CreatedAt.IsZero() {
		o.CreatedAt = h.CreatedAt
		filled = append(filled, "created_at")
	}
	if len(filled) > 0 {
		o.touch()
	}
	return filled
}

// Conflicts lists the fields where h disagrees with values already stored.
func (o *Order) Conflicts(h Hint) []string {
	var out []string
	if h.ServiceName != "" && o.ServiceName != "" && h.ServiceName != o.ServiceName {
		out = append(out, "service_name")
	}
	if h.PhoneNumber != "" && o.PhoneNumber != "" && h.PhoneNumber != o.PhoneNumber {
		out = append(out, "phone_number")
	}
	if h.Price != nil && !o.Price.IsZero() && !h.Price.Equal(o.Price) {
		out = append(out, "price")
	}
	if !h.CreatedAt.IsZero() && !o.CreatedAt.IsZero() && !h.CreatedAt.Equal(o.CreatedAt) {
		out = append(out, "created_at")
	}
	return out
}

// Adopt builds an order that only exists in rendered text.
func Adopt(id, serviceID, requesterID string, h Hint) (*Order, error) {
	price := decimal.Zero
	if h.Price != nil {
		price = *h.Price
	}
	return New(id, serviceID, h.ServiceName, h.PhoneNumber, price, requesterID, h.CreatedAt)
}
