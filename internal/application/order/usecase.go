package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/otpbroker/internal/application"
	domorder "github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/Zhima-Mochi/otpbroker/internal/domain/provider"
	"github.com/Zhima-Mochi/otpbroker/internal/observability"
	"github.com/Zhima-Mochi/otpbroker/internal/observability/logctx"
	"github.com/Zhima-Mochi/otpbroker/internal/pkg/retry"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	orderService       = "order-service"
	useCaseOrderCreate = "order.create"
	maxCreateAttempts  = 3
	unknownServiceName = "Unknown Service"
)

var (
	ErrNoPrice      = errors.New("order: no price for service")
	ErrInvalidInput = errors.New("order: invalid input")
	// priceMarkup is added to every tier so the bid lands just above it.
	priceMarkup = decimal.New(2, -5)
)

// CreateOrderUseCase buys a number for a service at the cheapest tier the
// provider accepts and hands the order to the lifecycle.
type CreateOrderUseCase struct {
	provider   provider.Provider
	repo       domorder.Repository
	catalog    Catalog
	validator  Validator
	authorizer Authorizer
	audit      AuditLog
	notifier   Notifier
	lifecycle  *Lifecycle
	country    int
	tel        observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	now          func() time.Time
}

var _ application.UseCase[CreateOrderInput, *CreateOrderResult] = (*CreateOrderUseCase)(nil)

type CreateDeps struct {
	Provider   provider.Provider
	Repo       domorder.Repository
	Catalog    Catalog
	Validator  Validator
	Authorizer Authorizer
	Audit      AuditLog
	Notifier   Notifier
	Lifecycle  *Lifecycle
}

func NewCreateOrderUseCase(deps CreateDeps, country int, tel observability.Observability) *CreateOrderUseCase {
	metricsProvider := observability.MetricsOf(tel)
	return &CreateOrderUseCase{
		provider:     deps.Provider,
		repo:         deps.Repo,
		catalog:      deps.Catalog,
		validator:    deps.Validator,
		authorizer:   deps.Authorizer,
		audit:        deps.Audit,
		notifier:     deps.Notifier,
		lifecycle:    deps.Lifecycle,
		country:      country,
		tel:          tel,
		log:          observability.LoggerOf(tel).With(observability.F("service", orderService)),
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
		now:          time.Now,
	}
}

type CreateOrderInput struct {
	RequesterID string
	ServiceID   string
}

type CreateOrderResult struct {
	Order    *domorder.Order
	Attempts int
}

// Execute performs the order creation flow.
func (uc *CreateOrderUseCase) Execute(ctx context.Context, cmd CreateOrderInput) (_ *CreateOrderResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseOrderCreate),
		observability.F("service_id", cmd.ServiceID),
	)
	ctx = logctx.With(ctx, logger)

	ctx, span := observability.TracerOf(uc.tel).Start(ctx, spanPrefix+"CreateOrder",
		attribute.String("use_case", useCaseOrderCreate),
		attribute.String("order.service_id", cmd.ServiceID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	attempts := 0
	var orderID string

	defer func() {
		lat := time.Since(start).Seconds()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseOrderCreate),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseOrderCreate))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
			observability.F("attempts", attempts),
		}
		if orderID != "" {
			fields = append(fields, observability.F("order_id", orderID))
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

	if cmd.ServiceID == "" {
		outcome, statusText = "error", "SERVICE_ID_REQUIRED"
		return nil, fmt.Errorf("%w: service id is required", ErrInvalidInput)
	}
	if uc.authorizer != nil {
		if aerr := uc.authorizer.Authorize(ctx, cmd.RequesterID); aerr != nil {
			outcome, statusText = "error", "NOT_AUTHORIZED"
			return nil, fmt.Errorf("%w: %w", ErrNotAuthorized, aerr)
		}
	}

	serviceName := unknownServiceName
	if uc.catalog != nil {
		if name, ok := uc.catalog.Name(ctx, cmd.ServiceID); ok {
			serviceName = name
		}
	}

	tiers, err := uc.tiers(ctx, cmd.ServiceID)
	if err != nil {
		outcome, statusText = "error", statusOf(err)
		return nil, err
	}

	req := provider.CreateRequest{
		Country:   uc.country,
		ServiceID: cmd.ServiceID,
		RangeMin:  tiers[0],
		RangeMax:  tiers[len(tiers)-1],
	}
	policy := retry.Policy{
		Attempts:  min(maxCreateAttempts, len(tiers)),
		Retryable: provider.IsNoNumber,
	}
	var submitted decimal.Decimal
	created, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (provider.Created, error) {
		attempts = attempt + 1
		req.CustomPrice = tiers[attempt].Add(priceMarkup)
		submitted = req.CustomPrice
		span.AddEvent("order.create_attempt", trace.WithAttributes(
			attribute.Int("attempt", attempts),
			attribute.String("price", req.CustomPrice.String()),
		))
		c, cerr := uc.provider.Create(ctx, req)
		if cerr != nil {
			logger.Info("order_create_attempt_failed",
				observability.F("attempt", attempts),
				observability.F("price", req.CustomPrice.String()),
				observability.F("error", cerr.Error()),
			)
		}
		return c, cerr
	})
	if err != nil {
		outcome, statusText = "error", statusOf(err)
		return nil, fmt.Errorf("order: create: %w", err)
	}
	orderID = created.ID
	span.SetAttributes(attribute.String("order.id", orderID))

	entity, derr := domorder.New(created.ID, cmd.ServiceID, serviceName, created.Number, submitted, cmd.RequesterID, uc.now())
	if derr != nil {
		outcome, statusText = "error", "DOMAIN_CONSTRUCTION_FAILED"
		return nil, fmt.Errorf("order: construct: %w", derr)
	}

	if uc.validator != nil && uc.validator.Applies(cmd.ServiceID) {
		v, verr := uc.validator.Validate(ctx, cmd.ServiceID, entity.PhoneNumber)
		if verr != nil {
			logger.Warn("ewallet_validation_failed", observability.F("error", verr.Error()))
		}
		entity.Validation = v
	}

	if ierr := uc.repo.Insert(ctx, entity); ierr != nil {
		if !isStored(ierr) {
			outcome, statusText = "error", "REPO_INSERT_FAILED"
			return nil, fmt.Errorf("order: store: %w", ierr)
		}
		logger.Error("order_persist_failed", observability.F("error", ierr.Error()))
	}
	if uc.audit != nil {
		if aerr := uc.audit.Append(ctx, entity, "ORDERED", nil); aerr != nil {
			logger.Warn("audit_append_failed", observability.F("error", aerr.Error()))
		}
	}
	if uc.notifier != nil {
		if nerr := uc.notifier.Notify(ctx, domorder.NewNotification(entity, domorder.NotifyCreated)); nerr != nil {
			statusText = "NOTIFY_FAILED"
			logger.Warn("notify_failed", observability.F("error", nerr.Error()))
		}
	}
	if uc.lifecycle != nil {
		uc.lifecycle.Start(ctx, entity)
	}

	span.SetAttributes(attribute.String("order.validation", string(entity.Validation)))
	span.AddEvent("order.created", trace.WithAttributes(attribute.String("order.id", orderID)))

	return &CreateOrderResult{Order: entity.Clone(), Attempts: attempts}, nil
}

// tiers returns the ascending candidate prices for serviceID in the configured country.
func (uc *CreateOrderUseCase) tiers(ctx context.Context, serviceID string) ([]decimal.Decimal, error) {
	prices, err := uc.provider.Prices(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("order: prices: %w", err)
	}
	for _, p := range prices {
		if p.Country != uc.country {
			continue
		}
		if tiers := p.Tiers(); len(tiers) > 0 {
			return tiers, nil
		}
		break
	}
	return nil, fmt.Errorf("%w %s in country %d", ErrNoPrice, serviceID, uc.country)
}
