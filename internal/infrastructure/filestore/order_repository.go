// Package filestore keeps broker state in local files: the order store, the
// audit and completion logs, and the service catalog.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/shopspring/decimal"
)

// ErrPersistence marks a failed write of the backing file. The in-memory
// state has already been updated when it is returned.
var ErrPersistence = errors.New("filestore: persistence failure")

// OrderTimeLayout is the on-disk format of order_time.
const OrderTimeLayout = "2006-01-02 15:04:05"

type orderRecord struct {
	ServiceID      string          `json:"service_id"`
	ServiceName    string          `json:"service_name"`
	PhoneNumber    string          `json:"phone_number"`
	Price          decimal.Decimal `json:"price"`
	OrderTime      string          `json:"order_time"`
	UserID         string          `json:"user_id"`
	Status         string          `json:"status,omitempty"`
	LastSMSCount   int             `json:"last_sms_count,omitempty"`
	ProviderStatus string          `json:"provider_status,omitempty"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
	Validation     string          `json:"validation,omitempty"`
	ResendCount    int             `json:"resend_count,omitempty"`
	// Pending user cancel, RFC 3339 with offset.
	CancelRequestedAt string `json:"cancel_requested_at,omitempty"`
	PendingCancel     string `json:"pending_cancel,omitempty"`
	CancelDueAt       string `json:"cancel_due_at,omitempty"`
}

// OrderRepository is an in-memory order map mirrored to one JSON file.
// Every mutation rewrites the file; writes are serialized.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order

	writeMu sync.Mutex
	path    string
	loc     *time.Location
}

var _ domain.Repository = (*OrderRepository)(nil)

// Option configures an OrderRepository.
type Option func(*OrderRepository)

// WithLocation sets the zone order_time is written and read in. The default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(r *OrderRepository) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// OpenOrderRepository loads path if it exists. An empty path keeps orders in memory only.
func OpenOrderRepository(path string, opts ...Option) (*OrderRepository, error) {
	r := &OrderRepository{
		orders: make(map[string]*domain.Order),
		path:   path,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(r)
	}
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return r, nil
	}

	var records map[string]orderRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", path, err)
	}
	for id, rec := range records {
		r.orders[id] = r.fromRecord(id, rec)
	}
	return r, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return domain.ErrInvalidID
	}

	r.mu.Lock()
	if _, exists := r.orders[order.ID]; exists {
		r.mu.Unlock()
		return domain.ErrConflict
	}
	r.orders[order.ID] = order.Clone()
	r.mu.Unlock()

	return r.persist(ctx)
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return domain.ErrInvalidID
	}

	r.mu.Lock()
	if _, exists := r.orders[order.ID]; !exists {
		r.mu.Unlock()
		return domain.ErrNotFound
	}
	r.orders[order.ID] = order.Clone()
	r.mu.Unlock()

	return r.persist(ctx)
}

// List returns every stored order sorted by creation time.
func (r *OrderRepository) List(ctx context.Context) ([]*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	out := make([]*domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// persist snapshots the map and replaces the file atomically.
func (r *OrderRepository) persist(ctx context.Context) error {
	_ = ctx
	if r.path == "" {
		return nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	records := make(map[string]orderRecord, len(r.orders))
	for id, o := range r.orders {
		records[id] = r.toRecord(o)
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPersistence, err)
	}
	if err := writeFileAtomic(r.path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (r *OrderRepository) toRecord(o *domain.Order) orderRecord {
	rec := orderRecord{
		ServiceID:      o.ServiceID,
		ServiceName:    o.ServiceName,
		PhoneNumber:    o.PhoneNumber,
		Price:          o.Price,
		OrderTime:      "N/A",
		UserID:         o.RequesterID,
		Status:         string(o.Status),
		LastSMSCount:   o.LastSMSCount,
		ProviderStatus: string(o.LastProviderStatus),
		CancelReason:   string(o.CancelReason),
		Validation:     string(o.Validation),
		ResendCount:    o.ResendCount,
	}
	if !o.CreatedAt.IsZero() {
		rec.OrderTime = o.CreatedAt.In(r.loc).Format(OrderTimeLayout)
	}
	if !o.CancelRequestedAt.IsZero() {
		rec.CancelRequestedAt = o.CancelRequestedAt.In(r.loc).Format(time.RFC3339Nano)
	}
	if o.PendingCancel != "" {
		rec.PendingCancel = string(o.PendingCancel)
		rec.CancelDueAt = o.CancelDueAt.In(r.loc).Format(time.RFC3339Nano)
	}
	return rec
}

func (r *OrderRepository) fromRecord(id string, rec orderRecord) *domain.Order {
	o := &domain.Order{
		ID:                 id,
		ServiceID:          rec.ServiceID,
		ServiceName:        rec.ServiceName,
		PhoneNumber:        rec.PhoneNumber,
		Price:              rec.Price,
		RequesterID:        rec.UserID,
		Status:             domain.Status(rec.Status),
		LastSMSCount:       rec.LastSMSCount,
		LastProviderStatus: domain.ProviderStatus(rec.ProviderStatus),
		CancelReason:       domain.CancelReason(rec.CancelReason),
		Validation:         domain.Validation(rec.Validation),
		ResendCount:        rec.ResendCount,
	}
	// Records written before lifecycle fields existed only carry identity.
	if o.Status == "" {
		o.Status = domain.StatusPending
	}
	if o.LastProviderStatus == "" {
		o.LastProviderStatus = domain.ProviderPending
	}
	if t, err := time.ParseInLocation(OrderTimeLayout, rec.OrderTime, r.loc); err == nil {
		o.CreatedAt = t.UTC()
		o.UpdatedAt = o.CreatedAt
	}
	o.CancelRequestedAt = parseStamp(rec.CancelRequestedAt)
	if rec.PendingCancel != "" {
		o.PendingCancel = domain.CancelReason(rec.PendingCancel)
		o.CancelDueAt = parseStamp(rec.CancelDueAt)
	}
	return o
}

// parseStamp reads an RFC 3339 field; anything else is treated as unset.
func parseStamp(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
