package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Zhima-Mochi/otpbroker/internal/apperr"
	"github.com/Zhima-Mochi/otpbroker/internal/application"
	appAccount "github.com/Zhima-Mochi/otpbroker/internal/application/account"
	appOrder "github.com/Zhima-Mochi/otpbroker/internal/application/order"
	domainOrder "github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/Zhima-Mochi/otpbroker/internal/domain/provider"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/filestore"
	"github.com/Zhima-Mochi/otpbroker/internal/observability"
	"github.com/Zhima-Mochi/otpbroker/internal/observability/logctx"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerRequesterID    = "X-Requester-ID"
	tracerName           = "otpbroker.http"
)

type OrderCreator = application.UseCase[appOrder.CreateOrderInput, *appOrder.CreateOrderResult]

type OrderCommands interface {
	Get(ctx context.Context, requesterID, orderID string, hint *domainOrder.Hint) (*domainOrder.Order, error)
	Cancel(ctx context.Context, requesterID, orderID string) (*appOrder.CancelPlan, error)
	Finish(ctx context.Context, requesterID, orderID string) (*domainOrder.Order, error)
	Resend(ctx context.Context, requesterID, orderID string) (*domainOrder.Order, error)
	Refresh(ctx context.Context, requesterID, orderID string) (*appOrder.Refreshed, error)
	Monitoring(ctx context.Context) ([]appOrder.Monitored, error)
}

type AccountQueries interface {
	Balance(ctx context.Context, requesterID string) (decimal.Decimal, error)
	Profile(ctx context.Context, requesterID string) (provider.Profile, error)
	Services(ctx context.Context, requesterID string) ([]provider.Service, error)
	Active(ctx context.Context, requesterID string) ([]provider.ActiveOrder, error)
	Prices(ctx context.Context, requesterID, serviceID string) (*appAccount.Quote, error)
}

type CatalogAdmin interface {
	Catalog(ctx context.Context, requesterID string) ([]filestore.CatalogEntry, error)
	AddService(ctx context.Context, requesterID, id, name string) error
	RemoveService(ctx context.Context, requesterID, id string) error
	Users(ctx context.Context, requesterID string) ([]string, error)
	GrantUser(ctx context.Context, requesterID, id string) error
	RevokeUser(ctx context.Context, requesterID, id string) error
}

// TaskStats reports live scheduler handles for /status.
type TaskStats interface {
	Len() int
	Orders() int
}

type Deps struct {
	Create   OrderCreator
	Orders   OrderCommands
	Account  AccountQueries
	Admin    CatalogAdmin
	Tasks    TaskStats
	Metrics  http.Handler
	Now      func() time.Time
	Started  time.Time
	Location *time.Location
}

type Handler struct {
	deps    Deps
	log     observability.Logger
	metrics observability.Metrics
}

func NewHandler(deps Deps, tel observability.Observability) *Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Started.IsZero() {
		deps.Started = deps.Now()
	}
	return &Handler{
		deps:    deps,
		log:     observability.LoggerOf(tel).With(observability.F("component", componentHTTPHandler)),
		metrics: observability.MetricsOf(tel),
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Trace → ObservabilityMiddleware (request logger) → HTTP metrics → Access log → Handler
	h.handle(r, http.MethodPost, "/orders", h.handleCreateOrder)
	h.handle(r, http.MethodGet, "/orders/{id}", h.handleGetOrder)
	h.handle(r, http.MethodPost, "/orders/{id}/cancel", h.handleCancelOrder)
	h.handle(r, http.MethodPost, "/orders/{id}/finish", h.handleFinishOrder)
	h.handle(r, http.MethodPost, "/orders/{id}/resend", h.handleResendOrder)
	h.handle(r, http.MethodPost, "/orders/{id}/refresh", h.handleRefreshOrder)

	h.handle(r, http.MethodGet, "/provider/balance", h.handleBalance)
	h.handle(r, http.MethodGet, "/provider/profile", h.handleProfile)
	h.handle(r, http.MethodGet, "/provider/services", h.handleServices)
	h.handle(r, http.MethodGet, "/provider/active", h.handleActive)
	h.handle(r, http.MethodGet, "/provider/prices/{serviceID}", h.handlePrices)

	h.handle(r, http.MethodGet, "/admin/catalog", h.handleListCatalog)
	h.handle(r, http.MethodPost, "/admin/catalog", h.handleAddService)
	h.handle(r, http.MethodDelete, "/admin/catalog/{serviceID}", h.handleRemoveService)
	h.handle(r, http.MethodGet, "/admin/users", h.handleListUsers)
	h.handle(r, http.MethodPut, "/admin/users/{userID}", h.handleGrantUser)
	h.handle(r, http.MethodDelete, "/admin/users/{userID}", h.handleRevokeUser)

	h.handle(r, http.MethodGet, "/health", h.handleHealth)
	h.handle(r, http.MethodGet, "/ping", h.handlePing)
	h.handle(r, http.MethodGet, "/status", h.handleStatus)
	if h.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.deps.Metrics)
	}
	return r
}

func (h *Handler) handle(r chi.Router, method, route string, handler http.HandlerFunc) {
	template := method + " " + route
	wrapped := h.withTrace(
		ObservabilityMiddleware(
			h.log,
			func(r *http.Request) string { return r.Header.Get(headerRequestID) },
			requesterOf,
		)(
			h.withHTTPMetrics(
				h.withAccessLog(handler),
			),
		),
	)
	r.Method(method, route, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// Stable route template for low-cardinality labels
		wrapped.ServeHTTP(w, req.WithContext(contextWithRoute(req.Context(), template)))
	}))
}

func requesterOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerRequesterID))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request) {
	now := h.deps.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"pong":   true,
		"time":   h.localTime(now).Format(time.RFC3339),
		"uptime": now.Sub(h.deps.Started).Round(time.Second).String(),
	})
}

type monitoredView struct {
	Order orderView `json:"order"`
	Tasks []string  `json:"tasks"`
}

type statusResponse struct {
	MonitoredOrders int             `json:"monitored_orders"`
	ActiveTasks     int             `json:"active_tasks"`
	Orders          []monitoredView `json:"orders"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	monitored, err := h.deps.Orders.Monitoring(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := statusResponse{Orders: make([]monitoredView, 0, len(monitored))}
	if h.deps.Tasks != nil {
		resp.MonitoredOrders = h.deps.Tasks.Orders()
		resp.ActiveTasks = h.deps.Tasks.Len()
	}
	for _, m := range monitored {
		v := monitoredView{Order: h.toOrderView(m.Order), Tasks: make([]string, 0, len(m.Tasks))}
		for _, k := range m.Tasks {
			v.Tasks = append(v.Tasks, string(k))
		}
		resp.Orders = append(resp.Orders, v)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) localTime(t time.Time) time.Time {
	if h.deps.Location != nil {
		return t.In(h.deps.Location)
	}
	return t
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer(tracerName)
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		spanName := route
		if spanName == "unknown" {
			spanName = r.Method + " " + r.URL.Path
		}
		template := route
		if idx := strings.Index(template, " "); idx >= 0 {
			template = template[idx+1:]
		}
		if template == "unknown" || template == "" {
			template = r.URL.Path
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", template),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

// withHTTPMetrics records RED-ish HTTP metrics using injected vectors.
// DO NOT new metrics inside the middleware.
func (h *Handler) withHTTPMetrics(next http.Handler) http.Handler {
	requests := h.metrics.Counter(observability.MHTTPRequests)
	durations := h.metrics.Histogram(observability.MHTTPRequestDuration)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		route := routeFromContext(r.Context())
		requests.Add(1,
			observability.L("method", r.Method),
			observability.L("route", route),
			observability.L("status", strconv.Itoa(lrw.status)),
		)
		durations.Observe(time.Since(start).Seconds(),
			observability.L("method", r.Method),
			observability.L("route", route),
		)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeDomainError maps err through apperr so provider payloads never reach the client.
func writeDomainError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), errorResponse{
		Error: apperr.Message(err),
		Kind:  apperr.Kind(err),
	})
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
