package smsvirtual

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/Zhima-Mochi/otpbroker/internal/domain/provider"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/httpclient"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	statusCalls atomic.Int32
	lastCreate  atomic.Value // map[string]any
	patches     atomic.Value // string
}

func (f *fakeAPI) router() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Get("/order/status/{id}", func(w http.ResponseWriter, r *http.Request) {
			f.statusCalls.Add(1)
			if chi.URLParam(r, "id") == "missing" {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"status":false,"message":"order not found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":true,"data":{"orderStatus":"PENDING","number":6281234,"price":"0.15002","serviceId":17,
				"Sms":[{"sms":"code 1234","fullSms":"Your code 1234"},{"sms":"code 5678"}]}}`))
		})
		r.Patch("/order/{id}/{code}", func(w http.ResponseWriter, r *http.Request) {
			f.patches.Store(chi.URLParam(r, "id") + "/" + chi.URLParam(r, "code"))
			_, _ = w.Write([]byte(`{"status":true}`))
		})
		r.Post("/order/", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.lastCreate.Store(body)
			if body["customPrice"].(float64) < 0.12 {
				_, _ = w.Write([]byte(`{"status":false,"message":"No number available"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":true,"data":{"id":987,"phone":"6289999","price":0.15002}}`))
		})
		r.Get("/price/{service}/", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":true,"data":[
				{"country":6,"priceUsd":0.5},
				{"country":7,"priceUsd":0.2,"customPrice":[{"price":0.15},{"amount":"0.10"},{}]}]}`))
		})
		r.Get("/services/", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":true,"data":[{"id":17,"serviceName":"DANA"}]}`))
		})
		r.Get("/order/active", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":true,"data":[{"orderId":"a1","number":"62811","operator":"any","price":0.1,
				"orderStatus":"PENDING","serviceId":"53","countryId":7,"expiredAt":1700000000000,"Sms":[]}]}`))
		})
		r.Get("/user/balance", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":true,"data":{"balance":"12.345","email":"a@b.c"}}`))
		})
		r.Get("/profile/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`<html>oops</html>`))
		})
	})
	return r
}

func newClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api.router())
	t.Cleanup(srv.Close)
	return New(httpclient.New(httpclient.Options{BaseURL: srv.URL + "/v1/"}, nil)), api
}

func TestStatus(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t)

	snap, err := c.Status(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.ProviderPending, snap.Status)
	assert.Equal(t, "6281234", snap.Number)
	assert.Equal(t, "17", snap.ServiceID)
	assert.True(t, decimal.RequireFromString("0.15002").Equal(snap.Price))
	require.Len(t, snap.SMS, 2)
	assert.Equal(t, "Your code 1234", snap.SMS[0].Best())
	assert.Equal(t, "code 5678", snap.SMS[1].Best())
}

func TestStatus_RejectedCarriesMessage(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t)

	_, err := c.Status(context.Background(), "missing")
	var rej *provider.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusNotFound, rej.StatusCode)
	assert.Equal(t, "order not found", rej.Message)
}

func TestMutate(t *testing.T) {
	t.Parallel()
	c, api := newClient(t)

	require.NoError(t, c.Mutate(context.Background(), "ord-9", provider.ActionFinish))
	assert.Equal(t, "ord-9/3", api.patches.Load())
}

func TestCreate(t *testing.T) {
	t.Parallel()
	c, api := newClient(t)
	d := decimal.RequireFromString

	_, err := c.Create(context.Background(), provider.CreateRequest{
		Country: 7, ServiceID: "17", CustomPrice: d("0.10002"), RangeMin: d("0.10"), RangeMax: d("0.15"),
	})
	assert.True(t, provider.IsNoNumber(err))

	created, err := c.Create(context.Background(), provider.CreateRequest{
		Country: 7, ServiceID: "17", CustomPrice: d("0.15002"), RangeMin: d("0.10"), RangeMax: d("0.15"),
	})
	require.NoError(t, err)
	assert.Equal(t, "987", created.ID)
	assert.Equal(t, "6289999", created.Number)

	body := api.lastCreate.Load().(map[string]any)
	assert.Equal(t, 0.15002, body["customPrice"])
	assert.Equal(t, "17", body["service"])
	assert.Equal(t, float64(7), body["country"])
	assert.Equal(t, map[string]any{"min": 0.1, "max": 0.15}, body["rangePrice"])
}

func TestPrices(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t)

	prices, err := c.Prices(context.Background(), "17")
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, 7, prices[1].Country)
	tiers := prices[1].Tiers()
	require.Len(t, tiers, 3)
	assert.Equal(t, "0.1", tiers[0].String())
	assert.Equal(t, "0.15", tiers[1].String())
	assert.Equal(t, "0.2", tiers[2].String())
}

func TestQueries(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t)
	ctx := context.Background()

	services, err := c.Services(ctx)
	require.NoError(t, err)
	assert.Equal(t, []provider.Service{{ID: "17", Name: "DANA"}}, services)

	active, err := c.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a1", active[0].ID)
	assert.Equal(t, 7, active[0].CountryID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), active[0].ExpiresAt)

	bal, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "12.345", bal.String())

	_, err = c.Profile(ctx)
	var rej *provider.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusInternalServerError, rej.StatusCode)
	assert.NotContains(t, rej.Message, "<html>")
}

func TestStatus_SharedReadSurvivesFirstCallerCancel(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	r := chi.NewRouter()
	r.Get("/v1/order/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"status":true,"data":{"orderStatus":"SUCCESS","number":6281234,"price":"0.1","serviceId":17,"Sms":[{"sms":"code 1234"}]}}`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	c := New(httpclient.New(httpclient.Options{BaseURL: srv.URL + "/v1/"}, nil))

	leaderCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Status(leaderCtx, "ord-1")
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	snap, err := c.Status(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.ProviderSuccess, snap.Status)
	require.Len(t, snap.SMS, 1)
	assert.Equal(t, int32(1), calls.Load())

	err = <-leaderErr
	assert.ErrorIs(t, err, provider.ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCreate_NoNumberOnlyOnAcceptedResponse(t *testing.T) {
	t.Parallel()
	r := chi.NewRouter()
	r.Post("/v1/order/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":false,"message":"No number available"}`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	c := New(httpclient.New(httpclient.Options{BaseURL: srv.URL + "/v1/"}, nil))

	_, err := c.Create(context.Background(), provider.CreateRequest{Country: 7, ServiceID: "17"})
	assert.True(t, provider.IsRejected(err))
	assert.False(t, provider.IsNoNumber(err))
}
