package order

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind names an observable lifecycle transition.
type NotificationKind string

const (
	NotifyCreated       NotificationKind = "created"
	NotifySMS           NotificationKind = "sms"
	NotifyStatusChanged NotificationKind = "status_changed"
	NotifyCancelPending NotificationKind = "cancel_pending"
	NotifyCancelled     NotificationKind = "cancelled"
	NotifyFinished      NotificationKind = "finished"
	NotifyResent        NotificationKind = "resent"
	NotifyError         NotificationKind = "error"
)

// NotificationEvent is the bus event name carrying a Notification.
const NotificationEvent = "order.notification"

// Notification is emitted for every observable transition and for user-visible failures.
// Message never carries a raw provider payload.
type Notification struct {
	EventID    string
	OrderID    string
	Kind       NotificationKind
	Status     Status
	Reason     CancelReason
	NewSMS     []string
	SMS        []string
	CancelAt   time.Time
	Message    string
	Order      Order
	OccurredAt time.Time
}

func (Notification) EventName() string { return NotificationEvent }

// NewNotification snapshots o into a notification of kind k.
func NewNotification(o *Order, k NotificationKind) Notification {
	n := Notification{
		EventID:    uuid.NewString(),
		Kind:       k,
		OccurredAt: time.Now().UTC(),
	}
	if o != nil {
		n.OrderID = o.ID
		n.Status = o.Status
		n.Reason = o.CancelReason
		n.Order = *o
	}
	return n
}
