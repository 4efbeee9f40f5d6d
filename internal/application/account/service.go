package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/otpbroker/internal/domain/provider"
	"github.com/Zhima-Mochi/otpbroker/internal/observability"

	"github.com/shopspring/decimal"
)

const accountService = "account-service"

var (
	ErrNoPrice      = errors.New("account: no price for service")
	ErrInvalidInput = errors.New("account: invalid input")
)

type Authorizer interface {
	Authorize(ctx context.Context, requesterID string) error
}

// Service answers provider account queries for authorized requesters.
type Service struct {
	provider provider.Provider
	auth     Authorizer
	country  int
	in       instruments
}

func NewService(p provider.Provider, auth Authorizer, country int, tel observability.Observability) *Service {
	return &Service{
		provider: p,
		auth:     auth,
		country:  country,
		in:       newInstruments(tel, accountService),
	}
}

func (s *Service) Balance(ctx context.Context, requesterID string) (decimal.Decimal, error) {
	return run(ctx, s.in, "account.balance", "Balance", func(ctx context.Context) (decimal.Decimal, error) {
		if err := s.authorize(ctx, requesterID); err != nil {
			return decimal.Zero, err
		}
		return s.provider.Balance(ctx)
	})
}

func (s *Service) Profile(ctx context.Context, requesterID string) (provider.Profile, error) {
	return run(ctx, s.in, "account.profile", "Profile", func(ctx context.Context) (provider.Profile, error) {
		if err := s.authorize(ctx, requesterID); err != nil {
			return provider.Profile{}, err
		}
		return s.provider.Profile(ctx)
	})
}

func (s *Service) Services(ctx context.Context, requesterID string) ([]provider.Service, error) {
	return run(ctx, s.in, "account.services", "Services", func(ctx context.Context) ([]provider.Service, error) {
		if err := s.authorize(ctx, requesterID); err != nil {
			return nil, err
		}
		return s.provider.Services(ctx)
	})
}

// Active lists the orders the provider still considers open.
func (s *Service) Active(ctx context.Context, requesterID string) ([]provider.ActiveOrder, error) {
	return run(ctx, s.in, "account.active", "ActiveOrders", func(ctx context.Context) ([]provider.ActiveOrder, error) {
		if err := s.authorize(ctx, requesterID); err != nil {
			return nil, err
		}
		return s.provider.Active(ctx)
	})
}

// Quote is the pricing of one service in the configured country.
type Quote struct {
	ServiceID string
	Country   int
	Standard  decimal.Decimal
	Tiers     []decimal.Decimal
}

// Prices returns the price tiers an order for serviceID would try.
func (s *Service) Prices(ctx context.Context, requesterID, serviceID string) (*Quote, error) {
	return run(ctx, s.in, "account.prices", "Prices", func(ctx context.Context) (*Quote, error) {
		if err := s.authorize(ctx, requesterID); err != nil {
			return nil, err
		}
		prices, err := s.provider.Prices(ctx, serviceID)
		if err != nil {
			return nil, err
		}
		for _, p := range prices {
			if p.Country == s.country {
				return &Quote{ServiceID: serviceID, Country: p.Country, Standard: p.Price, Tiers: p.Tiers()}, nil
			}
		}
		return nil, fmt.Errorf("%w %s in country %d", ErrNoPrice, serviceID, s.country)
	})
}

func (s *Service) authorize(ctx context.Context, requesterID string) error {
	if s.auth == nil {
		return nil
	}
	if err := s.auth.Authorize(ctx, requesterID); err != nil {
		return fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	}
	return nil
}
