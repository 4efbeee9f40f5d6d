// Package account serves read-only provider account queries and the admin
// operations on the service catalog and the authorized-user list.
package account

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

const spanPrefix = "UC."

var ErrNotAuthorized = errors.New("account: requester not authorized")

type instruments struct {
	tracer       observability.Tracer
	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func newInstruments(tel observability.Observability, service string) instruments {
	metrics := observability.MetricsOf(tel)
	return instruments{
		tracer:       observability.TracerOf(tel),
		log:          observability.LoggerOf(tel).With(observability.F("service", service)),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
	}
}

// run executes fn as use case useCase with a span, RED metrics and a use_case_done line.
func run[T any](ctx context.Context, in instruments, useCase, spanName string, fn func(ctx context.Context) (T, error)) (out T, err error) {
	ctx, span := in.tracer.Start(ctx, spanPrefix+spanName, attribute.String("use_case", useCase))
	ctx, logger := logctx.Enrich(ctx, in.log, observability.F("use_case", useCase))
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

		in.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
		in.durHistogram.Observe(lat, observability.L("use_case", useCase))

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
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrNoPrice):
		return "NO_PRICE"
	case errors.Is(err, provider.ErrTransport):
		return "PROVIDER_UNREACHABLE"
	case provider.IsRejected(err):
		return "PROVIDER_REJECTED"
	default:
		return "FAILED"
	}
}
