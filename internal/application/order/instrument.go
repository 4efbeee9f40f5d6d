package order

import (
	"context"
	"errors"
	"time"

	"github.com/Zhima-Mochi/otpbroker/internal/domain/provider"
	"github.com/Zhima-Mochi/otpbroker/internal/observability"
	"github.com/Zhima-Mochi/otpbroker/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// instrument wraps a requester command with a span, RED metrics and the
// use_case_done log line.
func (l *Lifecycle) instrument(ctx context.Context, useCase, spanName, orderID string, fn func(ctx context.Context) error) (err error) {
	ctx, span := l.tracer.Start(ctx, spanPrefix+spanName,
		attribute.String("use_case", useCase),
		attribute.String("order.id", orderID),
	)
	ctx, logger := logctx.Enrich(ctx, l.log,
		observability.F("use_case", useCase),
		observability.F("order_id", orderID),
	)
	start := time.Now()

	defer func() {
		lat := time.Since(start).Seconds()
		outcome, statusText := "success", "OK"
		if err != nil {
			outcome, statusText = "error", statusOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		l.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
		l.durHistogram.Observe(lat, observability.L("use_case", useCase))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	return fn(ctx)
}

func statusOf(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthorized):
		return "NOT_AUTHORIZED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAlreadyTerminal):
		return "ALREADY_TERMINAL"
	case errors.Is(err, ErrNoPrice):
		return "NO_PRICE"
	case errors.Is(err, provider.ErrTransport):
		return "PROVIDER_UNREACHABLE"
	case provider.IsNoNumber(err):
		return "NO_NUMBER"
	case provider.IsRejected(err):
		return "PROVIDER_REJECTED"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CONTEXT_CANCELED"
	default:
		return "FAILED"
	}
}
