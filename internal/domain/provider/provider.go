package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/shopspring/decimal"
)

// ErrTransport marks connection-level failures and timeouts. The provider state is unknown.
var ErrTransport = errors.New("provider: transport failure")

// RejectedError is a non-2xx response or a status:false envelope.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider: rejected (http %d)", e.StatusCode)
	}
	return fmt.Sprintf("provider: rejected (http %d): %s", e.StatusCode, e.Message)
}

// IsNoNumber reports whether err is an accepted (2xx) response whose envelope
// says no number is available. Non-2xx responses never qualify.
func IsNoNumber(err error) bool {
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.StatusCode < 200 || rej.StatusCode > 299 {
		return false
	}
	return strings.Contains(strings.ToLower(rej.Message), "no number")
}

// IsRejected reports whether err is a provider rejection.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// SMS is one received message. Full is the untruncated text when the provider sends it.
type SMS struct {
	Text string
	Full string
}

// Best returns the full text when present.
func (s SMS) Best() string {
	if s.Full != "" {
		return s.Full
	}
	return s.Text
}

// StatusSnapshot is a live status read of one order.
type StatusSnapshot struct {
	Status    order.ProviderStatus
	SMS       []SMS
	Number    string
	Price     decimal.Decimal
	ServiceID string
}

// Texts returns the best text of every SMS from index from onwards.
func (s StatusSnapshot) Texts(from int) []string {
	if from < 0 {
		from = 0
	}
	if from >= len(s.SMS) {
		return nil
	}
	out := make([]string, 0, len(s.SMS)-from)
	for _, m := range s.SMS[from:] {
		out = append(out, m.Best())
	}
	return out
}

// CreateRequest asks for a number at a custom price within a price range.
type CreateRequest struct {
	Country     int
	ServiceID   string
	CustomPrice decimal.Decimal
	RangeMin    decimal.Decimal
	RangeMax    decimal.Decimal
}

type Created struct {
	ID     string
	Number string
	Price  decimal.Decimal
}

// CountryPrice is the pricing of a service in one country.
type CountryPrice struct {
	Country      int
	Price        decimal.Decimal
	CustomPrices []decimal.Decimal
}

// Tiers returns the candidate prices in ascending order: the custom tiers, or
// the standard price when there are none.
func (p CountryPrice) Tiers() []decimal.Decimal {
	src := p.CustomPrices
	if len(src) == 0 {
		if p.Price.IsZero() {
			return nil
		}
		return []decimal.Decimal{p.Price}
	}
	out := append([]decimal.Decimal(nil), src...)
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out
}

type Service struct {
	ID   string
	Name string
}

type ActiveOrder struct {
	ID        string
	Number    string
	Operator  string
	Price     decimal.Decimal
	Status    order.ProviderStatus
	ServiceID string
	CountryID int
	ExpiresAt time.Time
	SMS       []SMS
}

type Profile struct {
	Fields map[string]any
}

// Action is a provider-side mutation of an order.
type Action int

const (
	ActionCancel Action = 1
	ActionResend Action = 2
	ActionFinish Action = 3
)

func (a Action) String() string {
	switch a {
	case ActionCancel:
		return "cancel"
	case ActionResend:
		return "resend"
	case ActionFinish:
		return "finish"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Provider is the typed surface of the remote SMS provider.
type Provider interface {
	Status(ctx context.Context, orderID string) (StatusSnapshot, error)
	Mutate(ctx context.Context, orderID string, action Action) error
	Create(ctx context.Context, req CreateRequest) (Created, error)
	Prices(ctx context.Context, serviceID string) ([]CountryPrice, error)
	Services(ctx context.Context) ([]Service, error)
	Active(ctx context.Context) ([]ActiveOrder, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
	Profile(ctx context.Context) (Profile, error)
}
