package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	domorder "github.com/Zhima-Mochi/otpbroker/internal/domain/order"
	"github.com/Zhima-Mochi/otpbroker/internal/domain/provider"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/scheduler"
	"github.com/Zhima-Mochi/otpbroker/internal/observability"
	"github.com/Zhima-Mochi/otpbroker/internal/observability/logctx"
)

const (
	lifecycleService = "order-lifecycle"
	spanPrefix       = "UC."
)

var (
	ErrNotFound        = domorder.ErrNotFound
	ErrAlreadyTerminal = domorder.ErrAlreadyTerminal
	ErrNotAuthorized   = errors.New("order: requester not authorized")
)

// Timings are the clocks of the order lifecycle.
type Timings struct {
	PollCadence       time.Duration
	MaxPollCycles     int
	ProvisionalCancel time.Duration
	NoSMSTimeout      time.Duration
	// CancelThreshold is the order age after which a user cancel only waits CancelGrace.
	CancelThreshold time.Duration
	CancelGrace     time.Duration
	// UnknownAgeDelay applies to user cancels of orders without a creation time.
	UnknownAgeDelay time.Duration
	ProviderTimeout time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		PollCadence:       10 * time.Second,
		MaxPollCycles:     60,
		ProvisionalCancel: 130 * time.Second,
		NoSMSTimeout:      600 * time.Second,
		CancelThreshold:   130 * time.Second,
		CancelGrace:       5 * time.Second,
		UnknownAgeDelay:   120 * time.Second,
		ProviderTimeout:   30 * time.Second,
	}
}

type LifecycleDeps struct {
	Repo        domorder.Repository
	Provider    provider.Provider
	Scheduler   Scheduler
	Notifier    Notifier
	Authorizer  Authorizer
	Audit       AuditLog
	Completions CompletionLog
}

// Lifecycle drives every order from creation to a terminal status. All
// handlers of one order run under that order's lock; a handler that finds the
// order terminal does nothing.
type Lifecycle struct {
	repo        domorder.Repository
	provider    provider.Provider
	sched       Scheduler
	notifier    Notifier
	authorizer  Authorizer
	audit       AuditLog
	completions CompletionLog

	timings Timings
	now     func() time.Time
	locks   *keyedMutex

	tracer       observability.Tracer
	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	transitions  observability.Counter   // order_transitions_total{to}
}

func NewLifecycle(deps LifecycleDeps, timings Timings, tel observability.Observability) *Lifecycle {
	metrics := observability.MetricsOf(tel)
	return &Lifecycle{
		repo:         deps.Repo,
		provider:     deps.Provider,
		sched:        deps.Scheduler,
		notifier:     deps.Notifier,
		authorizer:   deps.Authorizer,
		audit:        deps.Audit,
		completions:  deps.Completions,
		timings:      timings,
		now:          time.Now,
		locks:        newKeyedMutex(),
		tracer:       observability.TracerOf(tel),
		log:          observability.LoggerOf(tel).With(observability.F("service", lifecycleService)),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		transitions:  metrics.Counter(observability.MOrderTransitions),
	}
}

// Start arms a freshly created order: the poll loop plus the provisional
// cancel timer for registered e-wallet numbers, the no-SMS timer otherwise.
func (l *Lifecycle) Start(ctx context.Context, o *domorder.Order) {
	unlock := l.locks.Lock(o.ID)
	defer unlock()

	l.startPoll(o.ID)
	if o.Validation == domorder.ValidationRegistered {
		l.sched.StartTimer(o.ID, scheduler.KindProvisionalCancel, l.timings.ProvisionalCancel, l.onProvisionalTimeout(o.ID))
	} else {
		l.sched.StartTimer(o.ID, scheduler.KindNoSMS, l.timings.NoSMSTimeout, l.onNoSMSTimeout(o.ID))
	}
	logctx.FromOr(ctx, l.log).Debug("order_monitoring_started",
		observability.F("order_id", o.ID),
		observability.F("validation", string(o.Validation)),
	)
}

// Resume re-arms every stored order that is not terminal yet. The no-SMS
// timer only gets the part of the window that is left; an order with a
// pending user cancel gets that cancel back, due when it was planned.
func (l *Lifecycle) Resume(ctx context.Context) (int, error) {
	orders, err := l.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("order: resume: %w", err)
	}
	n := 0
	for _, o := range orders {
		if o.Terminal() {
			continue
		}
		unlock := l.locks.Lock(o.ID)
		if o.CancelPending() {
			l.sched.StartTimer(o.ID, scheduler.KindUserCancel, l.untilDue(o), l.onUserCancel(o.ID, o.PendingCancel))
		} else {
			l.rearm(o)
		}
		unlock()
		n++
	}
	logctx.FromOr(ctx, l.log).Info("orders_resumed", observability.F("count", n))
	return n, nil
}

func (l *Lifecycle) startPoll(id string) {
	l.sched.StartPoll(id, l.timings.PollCadence, l.timings.MaxPollCycles, l.pollCycle(id))
}

// rearm restarts monitoring of an open order so it is never left without handles.
func (l *Lifecycle) rearm(o *domorder.Order) {
	l.startPoll(o.ID)
	l.sched.StartTimer(o.ID, scheduler.KindNoSMS, l.remainingWindow(o), l.onNoSMSTimeout(o.ID))
}

func (l *Lifecycle) untilDue(o *domorder.Order) time.Duration {
	if o.CancelDueAt.IsZero() {
		return l.timings.CancelGrace
	}
	return max(0, o.CancelDueAt.Sub(l.now()))
}

func (l *Lifecycle) remainingWindow(o *domorder.Order) time.Duration {
	if o.CreatedAt.IsZero() {
		return l.timings.NoSMSTimeout
	}
	left := l.timings.NoSMSTimeout - l.now().Sub(o.CreatedAt)
	if left < 0 {
		return 0
	}
	return left
}

func (l *Lifecycle) pollCycle(id string) scheduler.PollFunc {
	return func(ctx context.Context, cycle int) bool {
		logger := logctx.FromOr(ctx, l.log)

		rctx, cancel := context.WithTimeout(ctx, l.timings.ProviderTimeout)
		snap, err := l.provider.Status(rctx, id)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			logger.Warn("poll_cycle_failed",
				observability.F("cycle", cycle),
				observability.F("error", err.Error()),
			)
			return false
		}

		stop := false
		err = l.withOrder(ctx, id, func(o *domorder.Order) error {
			stop = l.apply(ctx, o, snap)
			return nil
		})
		switch {
		case err == nil:
			return stop
		case errors.Is(err, domorder.ErrNotFound):
			logger.Warn("poll_order_missing")
			return true
		default:
			return ctx.Err() != nil
		}
	}
}

// apply runs a status read through the state machine, persisting and
// notifying when it changed something. It reports whether the order is terminal.
func (l *Lifecycle) apply(ctx context.Context, o *domorder.Order, snap provider.StatusSnapshot) bool {
	logger := logctx.FromOr(ctx, l.log)
	before := o.Status

	obs, err := o.Observe(snap.Status, len(snap.SMS))
	if errors.Is(err, domorder.ErrAlreadyTerminal) {
		logger.Debug("race_resolved", observability.F("order_id", o.ID), observability.F("status", string(o.Status)))
		return true
	}
	if err != nil {
		logger.Warn("observe_failed", observability.F("order_id", o.ID), observability.F("error", err.Error()))
		return false
	}
	if !obs.Changed {
		return false
	}

	fresh := snap.Texts(obs.PreviousSMSCount)
	all := snap.Texts(0)
	if obs.Terminal {
		l.finalize(ctx, o, domorder.NotifyStatusChanged, fresh, all)
		return true
	}

	l.save(ctx, o)
	kind := domorder.NotifyStatusChanged
	if len(fresh) > 0 {
		kind = domorder.NotifySMS
		l.auditLine(ctx, o, "SMS_RECEIVED", fresh)
	}
	if o.Status != before {
		l.transitions.Add(1, observability.L("to", string(o.Status)))
	}
	n := domorder.NewNotification(o, kind)
	n.NewSMS = fresh
	n.SMS = all
	l.notify(ctx, n)
	return false
}

// finalize closes out a terminal transition: every handle of the order is
// cancelled before anything is written.
func (l *Lifecycle) finalize(ctx context.Context, o *domorder.Order, kind domorder.NotificationKind, fresh, all []string) {
	l.sched.CancelAll(o.ID)
	l.save(ctx, o)
	l.auditLine(ctx, o, string(o.Status), fresh)
	l.transitions.Add(1, observability.L("to", string(o.Status)))

	n := domorder.NewNotification(o, kind)
	n.NewSMS = fresh
	n.SMS = all
	l.notify(ctx, n)

	logctx.FromOr(ctx, l.log).Info("order_terminal",
		observability.F("order_id", o.ID),
		observability.F("status", string(o.Status)),
		observability.F("reason", string(o.CancelReason)),
	)
}

func (l *Lifecycle) onNoSMSTimeout(id string) scheduler.TimerFunc {
	return func(ctx context.Context) {
		logger := logctx.FromOr(ctx, l.log)
		err := l.withOrder(ctx, id, func(o *domorder.Order) error {
			if o.Terminal() {
				logger.Debug("race_resolved", observability.F("status", string(o.Status)))
				return nil
			}
			if o.Status != domorder.StatusPending || o.LastSMSCount > 0 {
				logger.Debug("no_sms_timeout_skipped", observability.F("sms_count", o.LastSMSCount))
				return nil
			}

			rctx, cancel := l.providerCtx(ctx)
			snap, err := l.provider.Status(rctx, id)
			cancel()
			if err != nil {
				logger.Warn("no_sms_recheck_failed", observability.F("error", err.Error()))
				return nil
			}
			if l.apply(ctx, o, snap) || o.Status != domorder.StatusPending || o.LastSMSCount > 0 {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			return l.cancelAtProvider(ctx, o, domorder.ReasonNoSMSTimeout)
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("no_sms_timeout_failed", observability.F("error", err.Error()))
		}
	}
}

func (l *Lifecycle) onProvisionalTimeout(id string) scheduler.TimerFunc {
	return func(ctx context.Context) {
		logger := logctx.FromOr(ctx, l.log)
		err := l.withOrder(ctx, id, func(o *domorder.Order) error {
			if o.Terminal() {
				logger.Debug("race_resolved", observability.F("status", string(o.Status)))
				return nil
			}
			if err := l.cancelAtProvider(ctx, o, domorder.ReasonProvisionalRegistered); err != nil {
				l.sched.StartTimer(o.ID, scheduler.KindNoSMS, l.remainingWindow(o), l.onNoSMSTimeout(o.ID))
				return err
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("provisional_cancel_failed", observability.F("error", err.Error()))
		}
	}
}

func (l *Lifecycle) onUserCancel(id string, reason domorder.CancelReason) scheduler.TimerFunc {
	return func(ctx context.Context) {
		logger := logctx.FromOr(ctx, l.log)
		err := l.withOrder(ctx, id, func(o *domorder.Order) error {
			if o.Terminal() {
				logger.Debug("race_resolved", observability.F("status", string(o.Status)))
				return nil
			}
			if err := l.cancelAtProvider(ctx, o, reason); err != nil {
				o.ClearCancelRequest()
				l.save(ctx, o)
				l.rearm(o)
				return err
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("user_cancel_failed", observability.F("error", err.Error()))
		}
	}
}

// cancelAtProvider issues the provider cancel and, once it is accepted, moves
// the order to CANCELLED. A refused cancel is reported to the requester.
func (l *Lifecycle) cancelAtProvider(ctx context.Context, o *domorder.Order, reason domorder.CancelReason) error {
	rctx, cancel := l.providerCtx(ctx)
	err := l.provider.Mutate(rctx, o.ID, provider.ActionCancel)
	cancel()
	if err != nil {
		l.notifyFailure(ctx, o, provider.ActionCancel, err)
		return fmt.Errorf("order: cancel %s: %w", o.ID, err)
	}
	if err := o.Cancel(reason); err != nil {
		return err
	}
	l.finalize(ctx, o, domorder.NotifyCancelled, nil, nil)
	return nil
}

// withOrder loads id under its lock. fn is skipped when ctx was cancelled
// while waiting, which is how superseded handles give way.
func (l *Lifecycle) withOrder(ctx context.Context, id string, fn func(o *domorder.Order) error) error {
	unlock := l.locks.Lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	o, err := l.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	return fn(o)
}

// providerCtx bounds a provider mutation. It outlives the caller so a
// mutation that was sent is always recorded.
func (l *Lifecycle) providerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), l.timings.ProviderTimeout)
}

func (l *Lifecycle) save(ctx context.Context, o *domorder.Order) {
	if err := l.repo.Update(context.WithoutCancel(ctx), o); err != nil {
		logctx.FromOr(ctx, l.log).Error("order_persist_failed",
			observability.F("order_id", o.ID),
			observability.F("error", err.Error()),
		)
	}
}

func (l *Lifecycle) auditLine(ctx context.Context, o *domorder.Order, status string, sms []string) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Append(ctx, o, status, sms); err != nil {
		logctx.FromOr(ctx, l.log).Warn("audit_append_failed",
			observability.F("order_id", o.ID),
			observability.F("error", err.Error()),
		)
	}
}

func (l *Lifecycle) notify(ctx context.Context, n domorder.Notification) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.Notify(ctx, n); err != nil {
		logctx.FromOr(ctx, l.log).Warn("notify_failed",
			observability.F("order_id", n.OrderID),
			observability.F("kind", string(n.Kind)),
			observability.F("error", err.Error()),
		)
	}
}

func (l *Lifecycle) notifyFailure(ctx context.Context, o *domorder.Order, action provider.Action, err error) {
	n := domorder.NewNotification(o, domorder.NotifyError)
	n.Message = failureMessage(action, err)
	l.notify(ctx, n)
}

// failureMessage describes err for the requester without provider payloads.
func failureMessage(action provider.Action, err error) string {
	switch {
	case errors.Is(err, provider.ErrTransport):
		return fmt.Sprintf("%s failed: provider unreachable", action)
	case provider.IsRejected(err):
		return fmt.Sprintf("%s failed: provider refused the request", action)
	default:
		return fmt.Sprintf("%s failed", action)
	}
}
