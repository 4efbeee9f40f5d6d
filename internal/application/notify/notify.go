// Package notify carries lifecycle notifications from the order engine to
// delivery sinks through the event bus.
package notify

import (
	"context"
	"time"

	domorder "github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/otpbroker/internal/domain/outbox"
)

const publishTimeout = 300 * time.Millisecond

// Sink delivers a notification to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n domorder.Notification) error
}

// Publisher implements the order engine's notifier by enqueueing on the bus.
type Publisher struct {
	bus domoutbox.Publisher
}

func NewPublisher(bus domoutbox.Publisher) *Publisher {
	return &Publisher{bus: bus}
}

// Notify enqueues n. It only waits briefly for queue space and never for delivery.
func (p *Publisher) Notify(ctx context.Context, n domorder.Notification) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	return p.bus.Publish(ctx, n)
}
