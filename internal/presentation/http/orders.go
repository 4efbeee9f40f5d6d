package httppresentation

import (
	"errors"
	"net/http"
	"strings"
	"time"

	appOrder "github.com/Zhima-Mochi/otpbroker/internal/application/order"
	domainOrder "github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const hintTimeLayout = "2006-01-02 15:04:05"

type orderView struct {
	OrderID      string `json:"order_id"`
	ServiceID    string `json:"service_id"`
	ServiceName  string `json:"service_name"`
	PhoneNumber  string `json:"phone_number"`
	DisplayPhone string `json:"display_phone"`
	Price        string `json:"price"`
	Status       string `json:"status"`
	CancelReason string `json:"cancel_reason,omitempty"`
	Validation   string `json:"validation,omitempty"`
	SMSCount     int    `json:"sms_count"`
	ResendCount  int    `json:"resend_count"`
	CreatedAt    string `json:"created_at,omitempty"`
}

func (h *Handler) toOrderView(o *domainOrder.Order) orderView {
	v := orderView{
		OrderID:      o.ID,
		ServiceID:    o.ServiceID,
		ServiceName:  o.ServiceName,
		PhoneNumber:  o.PhoneNumber,
		DisplayPhone: o.DisplayPhone(),
		Price:        o.Price.String(),
		Status:       string(o.Status),
		CancelReason: string(o.CancelReason),
		Validation:   string(o.Validation),
		SMSCount:     o.LastSMSCount,
		ResendCount:  o.ResendCount,
	}
	if !o.CreatedAt.IsZero() {
		v.CreatedAt = h.localTime(o.CreatedAt).Format(time.RFC3339)
	}
	return v
}

type createOrderRequest struct {
	ServiceID string `json:"service_id"`
}

type createOrderResponse struct {
	Order    orderView `json:"order"`
	Attempts int       `json:"attempts"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.deps.Create.Execute(r.Context(), appOrder.CreateOrderInput{
		RequesterID: requesterOf(r),
		ServiceID:   strings.TrimSpace(req.ServiceID),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		Order:    h.toOrderView(result.Order),
		Attempts: result.Attempts,
	})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	hint, err := hintFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	o, err := h.deps.Orders.Get(r.Context(), requesterOf(r), chi.URLParam(r, "id"), hint)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOrderView(o))
}

// hintFromQuery reads order metadata a client kept from an earlier response.
// It returns nil when the request carries none.
func hintFromQuery(r *http.Request) (*domainOrder.Hint, error) {
	q := r.URL.Query()
	hint := domainOrder.Hint{
		ServiceName: strings.TrimSpace(q.Get("service_name")),
		PhoneNumber: strings.TrimSpace(q.Get("phone_number")),
	}
	if raw := strings.TrimSpace(q.Get("price")); raw != "" {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.New("invalid price hint")
		}
		hint.Price = &p
	}
	if raw := strings.TrimSpace(q.Get("created_at")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			if t, err = time.ParseInLocation(hintTimeLayout, raw, time.Local); err != nil {
				return nil, errors.New("invalid created_at hint")
			}
		}
		hint.CreatedAt = t
	}
	if hint == (domainOrder.Hint{}) {
		return nil, nil
	}
	return &hint, nil
}

type cancelResponse struct {
	Order        orderView `json:"order"`
	Reason       string    `json:"reason"`
	ReasonText   string    `json:"reason_text"`
	DelaySeconds float64   `json:"delay_seconds"`
	CancelAt     string    `json:"cancel_at"`
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	plan, err := h.deps.Orders.Cancel(r.Context(), requesterOf(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cancelResponse{
		Order:        h.toOrderView(plan.Order),
		Reason:       string(plan.Reason),
		ReasonText:   plan.Reason.Describe(),
		DelaySeconds: plan.Delay.Seconds(),
		CancelAt:     h.localTime(plan.CancelAt).Format(time.RFC3339),
	})
}

func (h *Handler) handleFinishOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.deps.Orders.Finish(r.Context(), requesterOf(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOrderView(o))
}

func (h *Handler) handleResendOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.deps.Orders.Resend(r.Context(), requesterOf(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOrderView(o))
}

type refreshResponse struct {
	Order          orderView `json:"order"`
	ProviderStatus string    `json:"provider_status"`
	SMS            []string  `json:"sms"`
}

func (h *Handler) handleRefreshOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Orders.Refresh(r.Context(), requesterOf(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sms := make([]string, 0, len(res.Snapshot.SMS))
	for _, m := range res.Snapshot.SMS {
		sms = append(sms, m.Text)
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		Order:          h.toOrderView(res.Order),
		ProviderStatus: string(res.Snapshot.Status),
		SMS:            sms,
	})
}
