package account

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Zhima-Mochi/otpbroker/internal/domain/provider"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/access"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/filestore"
	"github.com/Zhima-Mochi/otpbroker/internal/observability"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	provider.Provider
	balance decimal.Decimal
	prices  []provider.CountryPrice
	err     error
}

func (s stubProvider) Balance(context.Context) (decimal.Decimal, error) { return s.balance, s.err }

func (s stubProvider) Prices(context.Context, string) ([]provider.CountryPrice, error) {
	return s.prices, s.err
}

func TestService_Prices(t *testing.T) {
	t.Parallel()
	auth := access.New([]string{"u-1"}, []string{"admin"})
	p := stubProvider{prices: []provider.CountryPrice{
		{Country: 6, Price: decimal.RequireFromString("0.5")},
		{Country: 7, Price: decimal.RequireFromString("0.2"), CustomPrices: []decimal.Decimal{
			decimal.RequireFromString("0.14"), decimal.RequireFromString("0.12"),
		}},
	}}
	svc := NewService(p, auth, 7, observability.Nop())

	q, err := svc.Prices(context.Background(), "u-1", "17")
	require.NoError(t, err)
	assert.Equal(t, 7, q.Country)
	require.Len(t, q.Tiers, 2)
	assert.Equal(t, "0.12", q.Tiers[0].String())

	_, err = NewService(p, auth, 9, observability.Nop()).Prices(context.Background(), "u-1", "17")
	assert.ErrorIs(t, err, ErrNoPrice)

	_, err = svc.Prices(context.Background(), "stranger", "17")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestService_Balance(t *testing.T) {
	t.Parallel()
	auth := access.New([]string{"u-1"}, nil)

	got, err := NewService(stubProvider{balance: decimal.RequireFromString("12.5")}, auth, 7, nil).Balance(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "12.5", got.String())

	_, err = NewService(stubProvider{err: provider.ErrTransport}, auth, 7, nil).Balance(context.Background(), "u-1")
	assert.ErrorIs(t, err, provider.ErrTransport)
}

func TestAdmin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	catalog, err := filestore.OpenCatalog(filepath.Join(t.TempDir(), "serviceotp.txt"))
	require.NoError(t, err)
	auth := access.New([]string{"u-1"}, []string{"admin"})
	admin := NewAdmin(catalog, auth, observability.Nop())

	require.NoError(t, admin.AddService(ctx, "admin", "17", " DANA "))
	assert.ErrorIs(t, admin.AddService(ctx, "u-1", "53", "OVO"), ErrNotAuthorized)
	assert.ErrorIs(t, admin.AddService(ctx, "admin", "53", "  "), ErrInvalidInput)

	entries, err := admin.Catalog(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []filestore.CatalogEntry{{ID: "17", Name: "DANA"}}, entries)

	require.NoError(t, admin.GrantUser(ctx, "admin", "u-2"))
	users, err := admin.Users(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"u-1", "u-2"}, users)

	require.NoError(t, admin.RevokeUser(ctx, "admin", "u-1"))
	_, err = admin.Catalog(ctx, "u-1")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	require.NoError(t, admin.RemoveService(ctx, "admin", "17"))
	assert.ErrorIs(t, admin.RemoveService(ctx, "admin", "17"), filestore.ErrServiceNotFound)
}
