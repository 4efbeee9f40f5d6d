package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("order: not found")
	ErrConflict        = errors.New("order: already exists")
	ErrInvalidID       = errors.New("order: id is required")
	ErrInvalidPrice    = errors.New("order: price must be zero or greater")
	ErrAlreadyTerminal = errors.New("order: already terminal")
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActiveSMS Status = "ACTIVE_SMS"
	StatusSuccess   Status = "SUCCESS"
	StatusCancelled Status = "CANCELLED"
	StatusRefunded  Status = "REFUNDED"
	StatusFinished  Status = "FINISHED"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusCancelled, StatusRefunded, StatusFinished:
		return true
	}
	return false
}

// ProviderStatus is the order status as last reported by the provider.
// Values other than the known ones are kept verbatim.
type ProviderStatus string

const (
	ProviderPending ProviderStatus = "PENDING"
	ProviderSuccess ProviderStatus = "SUCCESS"
	ProviderCancel  ProviderStatus = "CANCEL"
	ProviderRefund  ProviderStatus = "REFUND"
)

type CancelReason string

const (
	ReasonNoSMSTimeout          CancelReason = "no_sms_timeout"
	ReasonProvisionalRegistered CancelReason = "provisional_registered"
	ReasonManualImmediate       CancelReason = "manual_immediate"
	ReasonManualDelayed         CancelReason = "manual_delayed"
	ReasonProviderCancelled     CancelReason = "provider_cancelled"
	ReasonProviderRefunded      CancelReason = "provider_refunded"
)

// Describe returns the human readable form of r.
func (r CancelReason) Describe() string {
	switch r {
	case ReasonNoSMSTimeout:
		return "no SMS within window"
	case ReasonProvisionalRegistered:
		return "pre-validated as already registered"
	case ReasonManualImmediate:
		return "manual cancellation, immediate"
	case ReasonManualDelayed:
		return "manual cancellation, delayed"
	case ReasonProviderCancelled:
		return "cancelled by provider"
	case ReasonProviderRefunded:
		return "refunded by provider"
	}
	return string(r)
}

// Validation is the outcome of the e-wallet registration check made at creation.
type Validation string

const (
	ValidationUnchecked     Validation = ""
	ValidationRegistered    Validation = "registered"
	ValidationNotRegistered Validation = "not_registered"
)

type Order struct {
	ID                 string
	ServiceID          string
	ServiceName        string
	PhoneNumber        string
	Price              decimal.Decimal
	RequesterID        string
	Status             Status
	LastSMSCount       int
	LastProviderStatus ProviderStatus
	CancelReason       CancelReason
	Validation         Validation
	ResendCount        int
	CancelRequestedAt  time.Time
	// PendingCancel and CancelDueAt describe a user cancel that has not run yet.
	PendingCancel CancelReason
	CancelDueAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// New builds a PENDING order. A zero createdAt means the creation time is unknown.
func New(id, serviceID, serviceName, phone string, price decimal.Decimal, requesterID string, createdAt time.Time) (*Order, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if price.IsNegative() {
		return nil, ErrInvalidPrice
	}

	return &Order{
		ID:                 id,
		ServiceID:          serviceID,
		ServiceName:        serviceName,
		PhoneNumber:        phone,
		Price:              price,
		RequesterID:        requesterID,
		Status:             StatusPending,
		LastProviderStatus: ProviderPending,
		CreatedAt:          createdAt,
		UpdatedAt:          time.Now().UTC(),
	}, nil
}

func (o *Order) Terminal() bool { return o.Status.Terminal() }

// Clone returns a deep copy safe to hand across goroutines.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

// DisplayPhone renders an international 62-prefixed number in local 0-format.
func (o *Order) DisplayPhone() string {
	if len(o.PhoneNumber) > 2 && o.PhoneNumber[:2] == "62" {
		return "0" + o.PhoneNumber[2:]
	}
	return o.PhoneNumber
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
