// Package scheduler owns the background work of live orders: one poll loop and
// the pending timers of each order, at most one handle per (order, kind).
package scheduler

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/Zhima-Mochi/otpbroker/internal/observability"
	"github.com/Zhima-Mochi/otpbroker/internal/observability/logctx"
	"github.com/Zhima-Mochi/otpbroker/internal/pkg/retry"
)

type Kind string

const (
	KindPoll              Kind = "poll"
	KindProvisionalCancel Kind = "provisional_cancel"
	KindNoSMS             Kind = "no_sms"
	KindUserCancel        Kind = "user_cancel"
)

// PollFunc runs one poll cycle (1-based). Returning true ends the loop.
type PollFunc func(ctx context.Context, cycle int) (stop bool)

// TimerFunc runs once when a timer fires.
type TimerFunc func(ctx context.Context)

type handle struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler tracks handles per order and kind. Starting a kind that already
// has a live handle cancels the old one first. A handle's context is cancelled
// before Cancel, CancelAll or a superseding start returns.
type Scheduler struct {
	mu      sync.Mutex
	handles map[string]map[Kind]*handle
	seq     uint64
	stopped bool

	base       context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	log    observability.Logger
	tasks  observability.Counter // scheduler_tasks_total{kind,result}
	active observability.Gauge   // scheduler_active_tasks{kind}
}

func New(tel observability.Observability) *Scheduler {
	base, cancel := context.WithCancel(context.Background())
	metrics := observability.MetricsOf(tel)
	return &Scheduler{
		handles:    make(map[string]map[Kind]*handle),
		base:       base,
		baseCancel: cancel,
		log:        observability.LoggerOf(tel).With(observability.F("component", "scheduler")),
		tasks:      metrics.Counter(observability.MSchedulerTasks),
		active:     metrics.Gauge(observability.MSchedulerActiveTasks),
	}
}

// StartPoll runs fn every cadence, up to maxCycles times. Running out of cycles
// ends the loop quietly.
func (s *Scheduler) StartPoll(orderID string, cadence time.Duration, maxCycles int, fn PollFunc) bool {
	return s.start(orderID, KindPoll, func(ctx context.Context) string {
		for cycle := 1; cycle <= maxCycles; cycle++ {
			if err := retry.SleepOrDone(ctx, cadence); err != nil {
				return "cancelled"
			}
			if fn(ctx, cycle) {
				return "finished"
			}
		}
		logctx.FromOr(ctx, s.log).Debug("poll_cycles_exhausted", observability.F("cycles", maxCycles))
		return "exhausted"
	})
}

// StartTimer runs fn once after delay unless cancelled first.
func (s *Scheduler) StartTimer(orderID string, kind Kind, delay time.Duration, fn TimerFunc) bool {
	return s.start(orderID, kind, func(ctx context.Context) string {
		if err := retry.SleepOrDone(ctx, delay); err != nil {
			return "cancelled"
		}
		fn(ctx)
		return "fired"
	})
}

// Cancel stops the handle of kind for orderID. It reports whether one existed.
func (s *Scheduler) Cancel(orderID string, kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.detachLocked(orderID, kind)
	if h == nil {
		return false
	}
	h.cancel()
	s.tasks.Add(1, observability.L("kind", string(kind)), observability.L("result", "cancelled"))
	return true
}

// CancelAll stops every handle of orderID. Safe on orders without handles.
func (s *Scheduler) CancelAll(orderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := s.handles[orderID]
	n := 0
	for kind := range kinds {
		if h := s.detachLocked(orderID, kind); h != nil {
			h.cancel()
			s.tasks.Add(1, observability.L("kind", string(kind)), observability.L("result", "cancelled"))
			n++
		}
	}
	return n
}

// Active lists the live handle kinds of orderID.
func (s *Scheduler) Active(orderID string) []Kind {
	s.mu.Lock()
	out := make([]Kind, 0, len(s.handles[orderID]))
	for k := range s.handles[orderID] {
		out = append(out, k)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether orderID has a live handle of kind.
func (s *Scheduler) Has(orderID string, kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[orderID][kind]
	return ok
}

// Len is the number of live handles across all orders.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, kinds := range s.handles {
		n += len(kinds)
	}
	return n
}

// Orders is the number of orders with at least one live handle.
func (s *Scheduler) Orders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Stop cancels every handle, refuses new ones and waits for running work until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for orderID, kinds := range s.handles {
		for kind := range kinds {
			if h := s.detachLocked(orderID, kind); h != nil {
				h.cancel()
			}
		}
	}
	s.baseCancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler_stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) start(orderID string, kind Kind, run func(ctx context.Context) string) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	if old := s.detachLocked(orderID, kind); old != nil {
		old.cancel()
		s.tasks.Add(1, observability.L("kind", string(kind)), observability.L("result", "superseded"))
	}

	s.seq++
	ctx, cancel := context.WithCancel(s.base)
	h := &handle{id: s.seq, cancel: cancel, done: make(chan struct{})}
	if s.handles[orderID] == nil {
		s.handles[orderID] = make(map[Kind]*handle)
	}
	s.handles[orderID][kind] = h
	s.active.Add(1, observability.L("kind", string(kind)))
	s.tasks.Add(1, observability.L("kind", string(kind)), observability.L("result", "started"))
	s.wg.Add(1)
	s.mu.Unlock()

	ctx = withTaskContext(ctx, s.log, map[string]string{
		"order_id": orderID,
		"task":     string(kind),
	})

	go func() {
		defer s.wg.Done()
		defer close(h.done)
		defer cancel()

		result := "panicked"
		defer func() {
			if r := recover(); r != nil {
				logctx.FromOr(ctx, s.log).Error("scheduler_task_panic",
					observability.F("panic", r),
					observability.F("stack", string(debug.Stack())),
				)
			}
			s.release(orderID, kind, h.id)
			if result != "cancelled" {
				s.tasks.Add(1, observability.L("kind", string(kind)), observability.L("result", result))
			}
		}()

		result = run(ctx)
	}()
	return true
}

// release drops the handle when it is still the current one for (orderID, kind).
func (s *Scheduler) release(orderID string, kind Kind, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[orderID][kind]; ok && h.id == id {
		s.detachLocked(orderID, kind)
	}
}

func (s *Scheduler) detachLocked(orderID string, kind Kind) *handle {
	kinds := s.handles[orderID]
	h, ok := kinds[kind]
	if !ok {
		return nil
	}
	delete(kinds, kind)
	if len(kinds) == 0 {
		delete(s.handles, orderID)
	}
	s.active.Add(-1, observability.L("kind", string(kind)))
	return h
}
