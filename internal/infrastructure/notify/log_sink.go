// Package notify holds the delivery sinks for order notifications.
package notify

import (
	"context"
	"time"

	domorder "github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/Zhima-Mochi/otpbroker/internal/observability"
)

// LogSink writes every notification as one structured log line.
type LogSink struct {
	log observability.Logger
}

func NewLogSink(logger observability.Logger) *LogSink {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogSink{log: logger.With(observability.F("component", "notification_log"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, n domorder.Notification) error {
	fields := []observability.Field{
		observability.F("event_id", n.EventID),
		observability.F("order_id", n.OrderID),
		observability.F("kind", string(n.Kind)),
		observability.F("status", string(n.Status)),
		observability.F("service_name", n.Order.ServiceName),
		observability.F("phone", n.Order.DisplayPhone()),
	}
	if n.Reason != "" {
		fields = append(fields, observability.F("reason", n.Reason.Describe()))
	}
	if len(n.NewSMS) > 0 {
		fields = append(fields, observability.F("new_sms", n.NewSMS))
	}
	if !n.CancelAt.IsZero() {
		fields = append(fields, observability.F("cancel_at", n.CancelAt.Format(time.RFC3339)))
	}
	if n.Message != "" {
		fields = append(fields, observability.F("message", n.Message))
	}

	if n.Kind == domorder.NotifyError {
		s.log.Warn("order_notification", fields...)
		return nil
	}
	s.log.Info("order_notification", fields...)
	return nil
}
