// Package ewallet checks whether a rented number already has an e-wallet
// account, which makes the rental pointless for sign-up.
package ewallet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/Zhima-Mochi/otpbroker/internal/domain/provider"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/httpclient"
	"github.com/Zhima-Mochi/otpbroker/internal/observability"
	"github.com/Zhima-Mochi/otpbroker/internal/observability/logctx"
	"github.com/Zhima-Mochi/otpbroker/internal/pkg/retry"
)

// DefaultServices maps provider service ids to e-wallet types.
var DefaultServices = map[string]string{
	"17":   "dana",
	"53":   "ovo",
	"1208": "gopay",
	"357":  "linkaja",
}

var (
	ErrUnknownWallet = errors.New("ewallet: no account type configured")
	ErrUnexpected    = errors.New("ewallet: unexpected validation response")

	errBadRequest = errors.New("ewallet: bad request")
)

// FormPoster is the subset of httpclient.Client used by the validator.
type FormPoster interface {
	PostForm(ctx context.Context, target string, form url.Values) (*httpclient.Response, error)
}

type Options struct {
	URL string
	// Services maps service id to wallet type; nil uses DefaultServices.
	Services map[string]string
	// AccountTypes maps wallet type to the opaque account_type token the endpoint expects.
	AccountTypes map[string]string
	Attempts     int
	Backoff      time.Duration
}

type Validator struct {
	client       FormPoster
	url          string
	services     map[string]string
	accountTypes map[string]string
	policy       retry.Policy
	log          observability.Logger
}

func New(client FormPoster, opts Options, logger observability.Logger) *Validator {
	services := opts.Services
	if services == nil {
		services = DefaultServices
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Validator{
		client:       client,
		url:          opts.URL,
		services:     services,
		accountTypes: opts.AccountTypes,
		policy: retry.Policy{
			Attempts: attempts,
			Backoff:  backoff,
			Retryable: func(err error) bool {
				return errors.Is(err, errBadRequest) || errors.Is(err, provider.ErrTransport)
			},
		},
		log: logger.With(observability.F("component", "ewallet_validator")),
	}
}

// Applies reports whether serviceID is an e-wallet service that can be validated.
func (v *Validator) Applies(serviceID string) bool {
	_, err := v.accountType(serviceID)
	return err == nil && v.url != ""
}

// Validate checks phone against the wallet of serviceID. HTTP 400 and transport
// failures are retried; a 400 on the last attempt counts as not registered.
func (v *Validator) Validate(ctx context.Context, serviceID, phone string) (order.Validation, error) {
	accountType, err := v.accountType(serviceID)
	if err != nil {
		return order.ValidationUnchecked, err
	}
	form := url.Values{
		"account_type":   {accountType},
		"account_number": {localFormat(phone)},
	}

	result, err := retry.Do(ctx, v.policy, func(ctx context.Context, attempt int) (order.Validation, error) {
		resp, err := v.client.PostForm(ctx, v.url, form)
		if err != nil {
			logctx.FromOr(ctx, v.log).Warn("ewallet_validate_retry",
				observability.F("attempt", attempt+1),
				observability.F("error", err),
			)
			return order.ValidationUnchecked, err
		}
		switch resp.StatusCode {
		case http.StatusOK:
			var body struct {
				Status string `json:"status"`
			}
			_ = resp.JSON(&body)
			if body.Status == "success" {
				return order.ValidationRegistered, nil
			}
			return order.ValidationNotRegistered, nil
		case http.StatusBadRequest:
			return order.ValidationUnchecked, errBadRequest
		default:
			return order.ValidationUnchecked, fmt.Errorf("%w: http %d", ErrUnexpected, resp.StatusCode)
		}
	})
	if errors.Is(err, errBadRequest) {
		return order.ValidationNotRegistered, nil
	}
	if err != nil {
		return order.ValidationUnchecked, err
	}
	return result, nil
}

func (v *Validator) accountType(serviceID string) (string, error) {
	wallet, ok := v.services[serviceID]
	if !ok {
		return "", ErrUnknownWallet
	}
	// DANA is checked against its active-account variant.
	for _, key := range []string{wallet + "_active", wallet} {
		if t, ok := v.accountTypes[key]; ok && t != "" {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownWallet, wallet)
}

// localFormat turns +62/62 prefixed numbers into 0-prefixed ones.
func localFormat(phone string) string {
	switch {
	case strings.HasPrefix(phone, "+62"):
		return "0" + phone[3:]
	case strings.HasPrefix(phone, "62"):
		return "0" + phone[2:]
	}
	return phone
}
