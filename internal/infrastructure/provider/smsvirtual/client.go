// Package smsvirtual adapts the SMSVirtual REST API to the provider port.
package smsvirtual

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/Zhima-Mochi/otpbroker/internal/domain/provider"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/httpclient"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL = "https://api.smsvirtual.co/v1/"
	APIKeyHeader   = "X-Api-Key"
)

// Transport is the subset of httpclient.Client used by the adapter.
type Transport interface {
	Get(ctx context.Context, path string) (*httpclient.Response, error)
	Post(ctx context.Context, path string, body any) (*httpclient.Response, error)
	Patch(ctx context.Context, path string, body any) (*httpclient.Response, error)
}

type Client struct {
	http          Transport
	status        singleflight.Group
	statusTimeout time.Duration
}

var _ provider.Provider = (*Client)(nil)

type Option func(*Client)

// WithStatusTimeout bounds a shared status read, which outlives the caller that started it.
func WithStatusTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.statusTimeout = d
		}
	}
}

func New(t Transport, opts ...Option) *Client {
	c := &Client{http: t, statusTimeout: httpclient.DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status reads the live status of an order. Concurrent reads of the same order
// share one request; each caller stops waiting when its own ctx is done.
func (c *Client) Status(ctx context.Context, orderID string) (provider.StatusSnapshot, error) {
	ch := c.status.DoChan(orderID, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.statusTimeout)
		defer cancel()
		var w wireStatus
		if err := c.call(sctx, c.get("order/status/"+url.PathEscape(orderID)), &w); err != nil {
			return provider.StatusSnapshot{}, err
		}
		return provider.StatusSnapshot{
			Status:    order.ProviderStatus(w.OrderStatus),
			SMS:       toSMS(w.SMS),
			Number:    string(w.Number),
			Price:     w.Price,
			ServiceID: string(w.ServiceID),
		}, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return provider.StatusSnapshot{}, res.Err
		}
		return res.Val.(provider.StatusSnapshot), nil
	case <-ctx.Done():
		return provider.StatusSnapshot{}, fmt.Errorf("%w: %w", provider.ErrTransport, ctx.Err())
	}
}

// Mutate issues PATCH order/{id}/{code}.
func (c *Client) Mutate(ctx context.Context, orderID string, action provider.Action) error {
	path := fmt.Sprintf("order/%s/%d", url.PathEscape(orderID), int(action))
	return c.call(ctx, func(ctx context.Context) (*httpclient.Response, error) {
		return c.http.Patch(ctx, path, nil)
	}, nil)
}

func (c *Client) Create(ctx context.Context, req provider.CreateRequest) (provider.Created, error) {
	body := wireCreate{
		Country:     req.Country,
		Service:     req.ServiceID,
		CustomPrice: number(req.CustomPrice),
		RangePrice:  wireRange{Min: number(req.RangeMin), Max: number(req.RangeMax)},
	}
	var w wireCreated
	err := c.call(ctx, func(ctx context.Context) (*httpclient.Response, error) {
		return c.http.Post(ctx, "order/", body)
	}, &w)
	if err != nil {
		return provider.Created{}, err
	}
	if w.ID == "" {
		return provider.Created{}, &provider.RejectedError{StatusCode: 200, Message: "missing order id"}
	}
	return provider.Created{ID: string(w.ID), Number: string(w.Phone), Price: w.Price}, nil
}

func (c *Client) Prices(ctx context.Context, serviceID string) ([]provider.CountryPrice, error) {
	var ws []wirePrice
	if err := c.call(ctx, c.get("price/"+url.PathEscape(serviceID)+"/"), &ws); err != nil {
		return nil, err
	}
	out := make([]provider.CountryPrice, 0, len(ws))
	for _, w := range ws {
		cp := provider.CountryPrice{Country: int(w.Country), Price: w.PriceUSD}
		for _, p := range w.CustomPrice {
			switch {
			case p.Price != nil:
				cp.CustomPrices = append(cp.CustomPrices, *p.Price)
			case p.Amount != nil:
				cp.CustomPrices = append(cp.CustomPrices, *p.Amount)
			default:
				cp.CustomPrices = append(cp.CustomPrices, w.PriceUSD)
			}
		}
		out = append(out, cp)
	}
	return out, nil
}

func (c *Client) Services(ctx context.Context) ([]provider.Service, error) {
	var ws []wireService
	if err := c.call(ctx, c.get("services/"), &ws); err != nil {
		return nil, err
	}
	out := make([]provider.Service, 0, len(ws))
	for _, w := range ws {
		out = append(out, provider.Service{ID: string(w.ID), Name: w.Name})
	}
	return out, nil
}

func (c *Client) Active(ctx context.Context) ([]provider.ActiveOrder, error) {
	var ws []wireActive
	if err := c.call(ctx, c.get("order/active"), &ws); err != nil {
		return nil, err
	}
	out := make([]provider.ActiveOrder, 0, len(ws))
	for _, w := range ws {
		a := provider.ActiveOrder{
			ID:        string(w.OrderID),
			Number:    string(w.Number),
			Operator:  w.Operator,
			Price:     w.Price,
			Status:    order.ProviderStatus(w.OrderStatus),
			ServiceID: string(w.ServiceID),
			CountryID: int(w.CountryID),
			SMS:       toSMS(w.SMS),
		}
		if w.ExpiredAt > 0 {
			a.ExpiresAt = time.UnixMilli(w.ExpiredAt).UTC()
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	var w wireBalance
	if err := c.call(ctx, c.get("user/balance"), &w); err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

func (c *Client) Profile(ctx context.Context) (provider.Profile, error) {
	var fields map[string]any
	if err := c.call(ctx, c.get("profile/"), &fields); err != nil {
		return provider.Profile{}, err
	}
	return provider.Profile{Fields: fields}, nil
}

func (c *Client) get(path string) func(context.Context) (*httpclient.Response, error) {
	return func(ctx context.Context) (*httpclient.Response, error) {
		return c.http.Get(ctx, path)
	}
}

// call performs one request and unwraps the envelope into out.
// Transport errors pass through; non-2xx and status:false become *provider.RejectedError.
func (c *Client) call(ctx context.Context, do func(context.Context) (*httpclient.Response, error), out any) error {
	resp, err := do(ctx)
	if err != nil {
		return err
	}

	var env envelope
	decodeErr := resp.JSON(&env)
	if !resp.OK() {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = fmt.Sprintf("unexpected http status %d", resp.StatusCode)
		}
		return &provider.RejectedError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return &provider.RejectedError{StatusCode: resp.StatusCode, Message: "malformed response body"}
	}
	if !env.Status {
		msg := env.Message
		if msg == "" {
			msg = "request not accepted"
		}
		return &provider.RejectedError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &provider.RejectedError{StatusCode: resp.StatusCode, Message: "malformed response data"}
	}
	return nil
}

func toSMS(ws []wireSMS) []provider.SMS {
	out := make([]provider.SMS, 0, len(ws))
	for _, w := range ws {
		out = append(out, provider.SMS{Text: w.SMS, Full: w.FullSMS})
	}
	return out
}
