package order

import (
	"context"
	"sync"
	"testing"
	"time"

	domorder "github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/Zhima-Mochi/otpbroker/internal/domain/provider"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/access"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/filestore"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/scheduler"
	"github.com/Zhima-Mochi/otpbroker/internal/observability"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	waitFor   = 2 * time.Second
	tick      = 2 * time.Millisecond
	requester = "u-1"
)

type mutation struct {
	orderID string
	action  provider.Action
}

type fakeProvider struct {
	mu          sync.Mutex
	statusFn    func(id string) (provider.StatusSnapshot, error)
	statusCalls int
	mutateErr   error
	mutations   []mutation
	prices      []provider.CountryPrice
	createFn    func(req provider.CreateRequest) (provider.Created, error)
	creates     []provider.CreateRequest
}

func (p *fakeProvider) Status(_ context.Context, id string) (provider.StatusSnapshot, error) {
	p.mu.Lock()
	p.statusCalls++
	fn := p.statusFn
	p.mu.Unlock()
	if fn == nil {
		return provider.StatusSnapshot{Status: domorder.ProviderPending}, nil
	}
	return fn(id)
}

func (p *fakeProvider) Mutate(_ context.Context, id string, action provider.Action) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mutations = append(p.mutations, mutation{orderID: id, action: action})
	return p.mutateErr
}

func (p *fakeProvider) Create(_ context.Context, req provider.CreateRequest) (provider.Created, error) {
	p.mu.Lock()
	p.creates = append(p.creates, req)
	fn := p.createFn
	p.mu.Unlock()
	return fn(req)
}

func (p *fakeProvider) Prices(context.Context, string) ([]provider.CountryPrice, error) {
	return p.prices, nil
}

func (p *fakeProvider) Services(context.Context) ([]provider.Service, error) { return nil, nil }

func (p *fakeProvider) Active(context.Context) ([]provider.ActiveOrder, error) { return nil, nil }

func (p *fakeProvider) Balance(context.Context) (decimal.Decimal, error) { return decimal.Zero, nil }

func (p *fakeProvider) Profile(context.Context) (provider.Profile, error) {
	return provider.Profile{}, nil
}

func (p *fakeProvider) mutationsOf(action provider.Action) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.mutations {
		if m.action == action {
			n++
		}
	}
	return n
}

func (p *fakeProvider) statusCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusCalls
}

func (p *fakeProvider) setStatus(fn func(id string) (provider.StatusSnapshot, error)) {
	p.mu.Lock()
	p.statusFn = fn
	p.mu.Unlock()
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []domorder.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n domorder.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recordingNotifier) all() []domorder.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domorder.Notification(nil), r.notes...)
}

func (r *recordingNotifier) kinds() []domorder.NotificationKind {
	var out []domorder.NotificationKind
	for _, n := range r.all() {
		out = append(out, n.Kind)
	}
	return out
}

func (r *recordingNotifier) count(kind domorder.NotificationKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type fakeCatalog map[string]string

func (c fakeCatalog) Name(_ context.Context, id string) (string, bool) {
	name, ok := c[id]
	return name, ok
}

type fakeValidator struct {
	result domorder.Validation
}

func (fakeValidator) Applies(serviceID string) bool { return serviceID == "17" }

func (v fakeValidator) Validate(context.Context, string, string) (domorder.Validation, error) {
	return v.result, nil
}

type harness struct {
	lc       *Lifecycle
	repo     *filestore.OrderRepository
	provider *fakeProvider
	sched    *scheduler.Scheduler
	notes    *recordingNotifier
}

// quietTimings keeps every clock out of the way; tests shorten what they exercise.
func quietTimings() Timings {
	return Timings{
		PollCadence:       time.Hour,
		MaxPollCycles:     1,
		ProvisionalCancel: time.Hour,
		NoSMSTimeout:      time.Hour,
		CancelThreshold:   130 * time.Second,
		CancelGrace:       10 * time.Millisecond,
		UnknownAgeDelay:   120 * time.Second,
		ProviderTimeout:   time.Second,
	}
}

func newHarness(t *testing.T, timings Timings) *harness {
	t.Helper()
	repo, err := filestore.OpenOrderRepository("")
	require.NoError(t, err)
	return newHarnessOn(t, timings, repo)
}

// newHarnessOn builds a harness over an existing repository, as a restarted process would.
func newHarnessOn(t *testing.T, timings Timings, repo *filestore.OrderRepository) *harness {
	t.Helper()

	sched := scheduler.New(observability.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = sched.Stop(ctx)
	})

	h := &harness{
		repo:     repo,
		provider: &fakeProvider{},
		sched:    sched,
		notes:    &recordingNotifier{},
	}
	h.lc = NewLifecycle(LifecycleDeps{
		Repo:       repo,
		Provider:   h.provider,
		Scheduler:  sched,
		Notifier:   h.notes,
		Authorizer: access.New([]string{requester}, nil),
	}, timings, observability.Nop())
	return h
}

// seed stores a PENDING order created at createdAt.
func (h *harness) seed(t *testing.T, id string, createdAt time.Time) *domorder.Order {
	t.Helper()
	o, err := domorder.New(id, "17", "DANA", "6281234567", decimal.RequireFromString("0.15002"), requester, createdAt)
	require.NoError(t, err)
	require.NoError(t, h.repo.Insert(context.Background(), o))
	return o
}

func (h *harness) stored(t *testing.T, id string) *domorder.Order {
	t.Helper()
	o, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (h *harness) statusOf(id string) domorder.Status {
	o, err := h.repo.Get(context.Background(), id)
	if err != nil {
		return ""
	}
	return o.Status
}

func snapshot(status domorder.ProviderStatus, sms ...string) provider.StatusSnapshot {
	s := provider.StatusSnapshot{Status: status}
	for _, text := range sms {
		s.SMS = append(s.SMS, provider.SMS{Text: text})
	}
	return s
}
