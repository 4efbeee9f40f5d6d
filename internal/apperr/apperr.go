// Package apperr classifies errors from every layer for transport responses.
package apperr

import (
	"context"
	"errors"
	"net/http"

	appaccount "github.com/Zhima-Mochi/otpbroker/internal/application/account"
	apporder "github.com/Zhima-Mochi/otpbroker/internal/application/order"
	domorder "github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/Zhima-Mochi/otpbroker/internal/domain/provider"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/access"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/filestore"
)

func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, apporder.ErrNotAuthorized),
		errors.Is(err, appaccount.ErrNotAuthorized),
		errors.Is(err, access.ErrUnauthorized),
		errors.Is(err, access.ErrForbidden):
		return "forbidden"

	case errors.Is(err, apporder.ErrInvalidInput),
		errors.Is(err, appaccount.ErrInvalidInput),
		errors.Is(err, domorder.ErrInvalidID),
		errors.Is(err, domorder.ErrInvalidPrice):
		return "invalid"

	case errors.Is(err, domorder.ErrNotFound),
		errors.Is(err, filestore.ErrServiceNotFound):
		return "not_found"

	case errors.Is(err, domorder.ErrAlreadyTerminal),
		errors.Is(err, domorder.ErrConflict):
		return "conflict"

	case errors.Is(err, apporder.ErrNoPrice),
		errors.Is(err, appaccount.ErrNoPrice):
		return "no_price"

	case provider.IsNoNumber(err):
		return "no_number"

	case errors.Is(err, provider.ErrTransport):
		return "provider_unreachable"

	case provider.IsRejected(err):
		return "provider_rejected"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch Kind(err) {
	case "":
		return http.StatusOK
	case "forbidden":
		return http.StatusForbidden
	case "invalid", "canceled":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	case "no_price":
		return http.StatusUnprocessableEntity
	case "no_number":
		return http.StatusServiceUnavailable
	case "provider_unreachable", "provider_rejected":
		return http.StatusBadGateway
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Message is the client-facing text of err. Provider and internal failures
// get a fixed text so upstream payloads never leak.
func Message(err error) string {
	switch Kind(err) {
	case "":
		return ""
	case "no_number":
		return "no number available for this service"
	case "provider_unreachable":
		return "provider unreachable"
	case "provider_rejected":
		return "provider rejected the request"
	case "timeout":
		return "request timed out"
	case "internal":
		return "internal error"
	default:
		return err.Error()
	}
}
