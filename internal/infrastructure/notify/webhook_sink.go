package notify

import (
	"context"
	"fmt"
	"time"

	domorder "github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/httpclient"
)

// Poster is the subset of httpclient.Client used by the webhook sink.
type Poster interface {
	Post(ctx context.Context, path string, body any) (*httpclient.Response, error)
}

// WebhookSink POSTs notifications as JSON to a fixed URL.
type WebhookSink struct {
	client Poster
	url    string
}

func NewWebhookSink(client Poster, url string) *WebhookSink {
	return &WebhookSink{client: client, url: url}
}

func (s *WebhookSink) Name() string { return "webhook" }

type webhookOrder struct {
	ID           string `json:"order_id"`
	ServiceID    string `json:"service_id"`
	ServiceName  string `json:"service_name"`
	PhoneNumber  string `json:"phone_number"`
	DisplayPhone string `json:"display_phone"`
	Price        string `json:"price"`
	RequesterID  string `json:"user_id"`
	Status       string `json:"status"`
	Validation   string `json:"validation,omitempty"`
	ResendCount  int    `json:"resend_count"`
	CreatedAt    string `json:"created_at,omitempty"`
}

type webhookPayload struct {
	EventID    string       `json:"event_id"`
	Kind       string       `json:"kind"`
	Status     string       `json:"status"`
	Reason     string       `json:"reason,omitempty"`
	ReasonText string       `json:"reason_text,omitempty"`
	NewSMS     []string     `json:"new_sms,omitempty"`
	SMS        []string     `json:"sms,omitempty"`
	CancelAt   string       `json:"cancel_at,omitempty"`
	Message    string       `json:"message,omitempty"`
	Order      webhookOrder `json:"order"`
	OccurredAt string       `json:"occurred_at"`
}

func (s *WebhookSink) Deliver(ctx context.Context, n domorder.Notification) error {
	resp, err := s.client.Post(ctx, s.url, toPayload(n))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("webhook: http %d", resp.StatusCode)
	}
	return nil
}

func toPayload(n domorder.Notification) webhookPayload {
	p := webhookPayload{
		EventID:    n.EventID,
		Kind:       string(n.Kind),
		Status:     string(n.Status),
		Reason:     string(n.Reason),
		NewSMS:     n.NewSMS,
		SMS:        n.SMS,
		Message:    n.Message,
		OccurredAt: n.OccurredAt.Format(time.RFC3339),
		Order: webhookOrder{
			ID:           n.Order.ID,
			ServiceID:    n.Order.ServiceID,
			ServiceName:  n.Order.ServiceName,
			PhoneNumber:  n.Order.PhoneNumber,
			DisplayPhone: n.Order.DisplayPhone(),
			Price:        n.Order.Price.String(),
			RequesterID:  n.Order.RequesterID,
			Status:       string(n.Order.Status),
			Validation:   string(n.Order.Validation),
			ResendCount:  n.Order.ResendCount,
		},
	}
	if n.Reason != "" {
		p.ReasonText = n.Reason.Describe()
	}
	if !n.CancelAt.IsZero() {
		p.CancelAt = n.CancelAt.Format(time.RFC3339)
	}
	if !n.Order.CreatedAt.IsZero() {
		p.Order.CreatedAt = n.Order.CreatedAt.Format(time.RFC3339)
	}
	return p
}
