package notify

import (
	"context"
	"fmt"
	"time"

	domorder "github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/otpbroker/internal/domain/outbox"
	"github.com/Zhima-Mochi/otpbroker/internal/observability"
	"github.com/Zhima-Mochi/otpbroker/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	workerService  = "notify-worker"
	useCaseDeliver = "notify.deliver"
	spanPrefix     = "UC."
)

// Worker subscribes every sink to order notifications.
type Worker struct {
	subscriber domoutbox.Subscriber
	sinks      []Sink
	tracer     observability.Tracer

	log          observability.Logger
	delivered    observability.Counter   // notifications_total{kind,outcome}
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewWorker(subscriber domoutbox.Subscriber, tel observability.Observability, sinks ...Sink) *Worker {
	metrics := observability.MetricsOf(tel)
	return &Worker{
		subscriber:   subscriber,
		sinks:        sinks,
		tracer:       observability.TracerOf(tel),
		log:          observability.LoggerOf(tel).With(observability.F("service", workerService)),
		delivered:    metrics.Counter(observability.MNotifications),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil {
		return
	}
	for _, s := range w.sinks {
		w.subscriber.Subscribe(domorder.NotificationEvent, w.handlerFor(s))
	}
}

func (w *Worker) handlerFor(sink Sink) domoutbox.Handler {
	return func(ctx context.Context, e domoutbox.Event) (err error) {
		n, ok := e.(domorder.Notification)
		if !ok {
			w.count("ignored")
			return nil
		}

		ctx, span := w.tracer.Start(ctx, spanPrefix+"DeliverNotification",
			attribute.String("use_case", useCaseDeliver),
			attribute.String("sink", sink.Name()),
			attribute.String("notification.kind", string(n.Kind)),
			attribute.String("order.id", n.OrderID),
		)
		start := time.Now()
		outcome := "success"

		logger := logctx.FromOr(ctx, w.log).With(
			observability.F("use_case", useCaseDeliver),
			observability.F("sink", sink.Name()),
			observability.F("order_id", n.OrderID),
			observability.F("event_id", n.EventID),
		)
		ctx = logctx.With(ctx, logger)

		defer func() {
			lat := time.Since(start).Seconds()
			if err != nil {
				outcome = "error"
				span.RecordError(err)
				span.SetStatus(codes.Error, "DELIVERY_FAILED")
			} else {
				span.SetStatus(codes.Ok, "OK")
			}
			span.End()

			w.count(outcome)
			w.durHistogram.Observe(lat, observability.L("use_case", useCaseDeliver))
			w.delivered.Add(1,
				observability.L("kind", string(n.Kind)),
				observability.L("outcome", outcome),
			)
			logger.Debug("use_case_done",
				observability.F("outcome", outcome),
				observability.F("kind", string(n.Kind)),
				observability.F("latency_seconds", lat),
			)
		}()

		if err := sink.Deliver(ctx, n); err != nil {
			return fmt.Errorf("notify: %s: %w", sink.Name(), err)
		}
		return nil
	}
}

func (w *Worker) count(outcome string) {
	w.reqCounter.Add(1,
		observability.L("use_case", useCaseDeliver),
		observability.L("outcome", outcome),
	)
}
