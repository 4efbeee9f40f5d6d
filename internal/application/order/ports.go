package order

import (
	"context"
	"time"

	domorder "github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/scheduler"
)

// Notifier receives every observable transition.
type Notifier interface {
	Notify(ctx context.Context, n domorder.Notification) error
}

// Scheduler owns the background handles of each order.
type Scheduler interface {
	StartPoll(orderID string, cadence time.Duration, maxCycles int, fn scheduler.PollFunc) bool
	StartTimer(orderID string, kind scheduler.Kind, delay time.Duration, fn scheduler.TimerFunc) bool
	Cancel(orderID string, kind scheduler.Kind) bool
	CancelAll(orderID string) int
	Active(orderID string) []scheduler.Kind
}

type Authorizer interface {
	Authorize(ctx context.Context, requesterID string) error
}

type Catalog interface {
	Name(ctx context.Context, serviceID string) (string, bool)
}

// Validator checks whether a number is already registered with an e-wallet.
type Validator interface {
	Applies(serviceID string) bool
	Validate(ctx context.Context, serviceID, phone string) (domorder.Validation, error)
}

type AuditLog interface {
	Append(ctx context.Context, o *domorder.Order, status string, sms []string) error
}

type CompletionLog interface {
	Append(ctx context.Context, o *domorder.Order) error
}
