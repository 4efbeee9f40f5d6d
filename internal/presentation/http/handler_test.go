package httppresentation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appAccount "github.com/Zhima-Mochi/otpbroker/internal/application/account"
	appOrder "github.com/Zhima-Mochi/otpbroker/internal/application/order"
	domainOrder "github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/Zhima-Mochi/otpbroker/internal/domain/provider"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/filestore"
	infraobs "github.com/Zhima-Mochi/otpbroker/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/scheduler"
	"github.com/Zhima-Mochi/otpbroker/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func sampleOrder() *domainOrder.Order {
	o, _ := domainOrder.New("ord-1", "17", "DANA", "6281234567", decimal.RequireFromString("0.15002"), "u-1", fixedNow)
	return o
}

type fakeCreator struct {
	got appOrder.CreateOrderInput
	err error
}

func (f *fakeCreator) Execute(_ context.Context, cmd appOrder.CreateOrderInput) (*appOrder.CreateOrderResult, error) {
	f.got = cmd
	if f.err != nil {
		return nil, f.err
	}
	return &appOrder.CreateOrderResult{Order: sampleOrder(), Attempts: 2}, nil
}

type fakeOrders struct {
	hint      *domainOrder.Hint
	requester string
	err       error
}

func (f *fakeOrders) Get(_ context.Context, requesterID, _ string, hint *domainOrder.Hint) (*domainOrder.Order, error) {
	f.requester, f.hint = requesterID, hint
	return sampleOrder(), f.err
}

func (f *fakeOrders) Cancel(context.Context, string, string) (*appOrder.CancelPlan, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &appOrder.CancelPlan{
		Order:    sampleOrder(),
		Reason:   domainOrder.ReasonManualDelayed,
		Delay:    30 * time.Second,
		CancelAt: fixedNow.Add(30 * time.Second),
	}, nil
}

func (f *fakeOrders) Finish(context.Context, string, string) (*domainOrder.Order, error) {
	return sampleOrder(), f.err
}

func (f *fakeOrders) Resend(context.Context, string, string) (*domainOrder.Order, error) {
	return sampleOrder(), f.err
}

func (f *fakeOrders) Refresh(context.Context, string, string) (*appOrder.Refreshed, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &appOrder.Refreshed{
		Order:    sampleOrder(),
		Snapshot: provider.StatusSnapshot{Status: domainOrder.ProviderSuccess, SMS: []provider.SMS{{Text: "123456"}}},
	}, nil
}

func (f *fakeOrders) Monitoring(context.Context) ([]appOrder.Monitored, error) {
	return []appOrder.Monitored{{Order: sampleOrder(), Tasks: []scheduler.Kind{scheduler.KindNoSMS, scheduler.KindPoll}}}, nil
}

type fakeAccount struct{ err error }

func (f fakeAccount) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.RequireFromString("12.5"), f.err
}

func (f fakeAccount) Profile(context.Context, string) (provider.Profile, error) {
	return provider.Profile{Fields: map[string]any{"email": "a@b.c"}}, f.err
}

func (f fakeAccount) Services(context.Context, string) ([]provider.Service, error) {
	return []provider.Service{{ID: "17", Name: "DANA"}}, f.err
}

func (f fakeAccount) Active(context.Context, string) ([]provider.ActiveOrder, error) {
	return nil, f.err
}

func (f fakeAccount) Prices(_ context.Context, _ string, serviceID string) (*appAccount.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &appAccount.Quote{
		ServiceID: serviceID,
		Country:   7,
		Standard:  decimal.RequireFromString("0.2"),
		Tiers:     []decimal.Decimal{decimal.RequireFromString("0.13"), decimal.RequireFromString("0.15")},
	}, nil
}

type fakeAdmin struct {
	added   filestore.CatalogEntry
	granted string
	err     error
}

func (f *fakeAdmin) Catalog(context.Context, string) ([]filestore.CatalogEntry, error) {
	return []filestore.CatalogEntry{{ID: "17", Name: "DANA"}}, f.err
}

func (f *fakeAdmin) AddService(_ context.Context, _ string, id, name string) error {
	f.added = filestore.CatalogEntry{ID: id, Name: name}
	return f.err
}

func (f *fakeAdmin) RemoveService(context.Context, string, string) error { return f.err }

func (f *fakeAdmin) Users(context.Context, string) ([]string, error) { return nil, f.err }

func (f *fakeAdmin) GrantUser(_ context.Context, _ string, id string) error {
	f.granted = id
	return f.err
}

func (f *fakeAdmin) RevokeUser(context.Context, string, string) error { return f.err }

type fakeTasks struct{}

func (fakeTasks) Len() int    { return 2 }
func (fakeTasks) Orders() int { return 1 }

type fixture struct {
	create *fakeCreator
	orders *fakeOrders
	admin  *fakeAdmin
	server *httptest.Server
}

func newFixture(t *testing.T, tel observability.Observability, account fakeAccount) *fixture {
	t.Helper()
	f := &fixture{create: &fakeCreator{}, orders: &fakeOrders{}, admin: &fakeAdmin{}}
	h := NewHandler(Deps{
		Create:  f.create,
		Orders:  f.orders,
		Account: account,
		Admin:   f.admin,
		Tasks:   fakeTasks{},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("metrics")) }),
		Now:     func() time.Time { return fixedNow },
		Started: fixedNow.Add(-time.Minute),
	}, tel)
	f.server = httptest.NewServer(h.Router())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(headerRequesterID, "u-1")
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestCreateOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, observability.Nop(), fakeAccount{})

	resp, body := f.do(t, http.MethodPost, "/orders", `{"service_id":" 17 "}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))
	assert.Equal(t, appOrder.CreateOrderInput{RequesterID: "u-1", ServiceID: "17"}, f.create.got)

	order := body["order"].(map[string]any)
	assert.Equal(t, "ord-1", order["order_id"])
	assert.Equal(t, "0.15002", order["price"])
	assert.Equal(t, "081234567", order["display_phone"])
	assert.Equal(t, float64(2), body["attempts"])
}

func TestCreateOrder_BadBody(t *testing.T) {
	t.Parallel()
	f := newFixture(t, observability.Nop(), fakeAccount{})

	resp, body := f.do(t, http.MethodPost, "/orders", `{"service":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid request body", body["error"])
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{name: "unauthorized", err: appOrder.ErrNotAuthorized, status: http.StatusForbidden, message: appOrder.ErrNotAuthorized.Error()},
		{name: "not found", err: domainOrder.ErrNotFound, status: http.StatusNotFound, message: domainOrder.ErrNotFound.Error()},
		{name: "terminal", err: domainOrder.ErrAlreadyTerminal, status: http.StatusConflict, message: domainOrder.ErrAlreadyTerminal.Error()},
		{name: "rejected payload hidden", err: &provider.RejectedError{StatusCode: 400, Message: "secret upstream text"},
			status: http.StatusBadGateway, message: "provider rejected the request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, observability.Nop(), fakeAccount{})
			f.orders.err = tt.err

			resp, body := f.do(t, http.MethodPost, "/orders/ord-1/finish", "")
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.message, body["error"])
		})
	}
}

func TestGetOrder_Hint(t *testing.T) {
	t.Parallel()
	f := newFixture(t, observability.Nop(), fakeAccount{})

	resp, _ := f.do(t, http.MethodGet, "/orders/ord-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, f.orders.hint)

	resp, _ = f.do(t, http.MethodGet, "/orders/ord-1?service_name=OVO&price=0.2&created_at=2024-05-06+07:08:09", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, f.orders.hint)
	assert.Equal(t, "OVO", f.orders.hint.ServiceName)
	assert.True(t, decimal.RequireFromString("0.2").Equal(*f.orders.hint.Price))
	assert.Equal(t, 8, f.orders.hint.CreatedAt.Minute())
	assert.Equal(t, "u-1", f.orders.requester)

	resp, _ = f.do(t, http.MethodGet, "/orders/ord-1?price=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, observability.Nop(), fakeAccount{})

	resp, body := f.do(t, http.MethodPost, "/orders/ord-1/cancel", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, string(domainOrder.ReasonManualDelayed), body["reason"])
	assert.Equal(t, float64(30), body["delay_seconds"])
	assert.Equal(t, fixedNow.Add(30*time.Second).Format(time.RFC3339), body["cancel_at"])
}

func TestRefreshOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, observability.Nop(), fakeAccount{})

	resp, body := f.do(t, http.MethodPost, "/orders/ord-1/refresh", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SUCCESS", body["provider_status"])
	assert.Equal(t, []any{"123456"}, body["sms"])
}

func TestProviderQueries(t *testing.T) {
	t.Parallel()
	f := newFixture(t, observability.Nop(), fakeAccount{})

	resp, body := f.do(t, http.MethodGet, "/provider/balance", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "12.5", body["balance"])

	resp, body = f.do(t, http.MethodGet, "/provider/prices/17", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "17", body["service_id"])
	assert.Equal(t, []any{"0.13", "0.15"}, body["tiers"])

	resp, body = f.do(t, http.MethodGet, "/provider/profile", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a@b.c", body["email"])
}

func TestProviderQueries_Unreachable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, observability.Nop(), fakeAccount{err: provider.ErrTransport})

	resp, body := f.do(t, http.MethodGet, "/provider/balance", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "provider unreachable", body["error"])
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, observability.Nop(), fakeAccount{})

	resp, _ := f.do(t, http.MethodPost, "/admin/catalog", `{"id":"99","name":"Shopee"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, filestore.CatalogEntry{ID: "99", Name: "Shopee"}, f.admin.added)

	resp, _ = f.do(t, http.MethodPut, "/admin/users/u-7", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "u-7", f.admin.granted)

	resp, body := f.do(t, http.MethodGet, "/admin/users", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["users"])

	f.admin.err = appAccount.ErrNotAuthorized
	resp, _ = f.do(t, http.MethodDelete, "/admin/catalog/17", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOperationalRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, observability.Nop(), fakeAccount{})

	resp, _ := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/ping", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["pong"])
	assert.Equal(t, "1m0s", body["uptime"])

	resp, body = f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["monitored_orders"])
	assert.Equal(t, float64(2), body["active_tasks"])
	orders := body["orders"].([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, []any{"no_sms", "poll"}, orders[0].(map[string]any)["tasks"])

	resp, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/orders", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPMetricsUseRouteTemplate(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	tel := infraobs.New(nil, nil, infraobs.DefaultInstruments(prometrics.New(reg, "", "")))
	f := newFixture(t, tel, fakeAccount{})

	f.do(t, http.MethodPost, "/orders/ord-1/finish", "")
	f.do(t, http.MethodPost, "/orders/ord-2/finish", "")

	count, err := testutil.GatherAndCount(reg, "http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
