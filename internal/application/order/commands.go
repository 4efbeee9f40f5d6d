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
	useCaseCancel  = "order.cancel"
	useCaseFinish  = "order.finish"
	useCaseResend  = "order.resend"
	useCaseRefresh = "order.refresh"
	useCaseGet     = "order.get"
)

// CancelPlan describes a scheduled user cancellation.
type CancelPlan struct {
	Order    *domorder.Order
	Reason   domorder.CancelReason
	Delay    time.Duration
	CancelAt time.Time
}

// Cancel schedules the provider cancel of an order on behalf of requesterID.
// Orders past the provisional window are cancelled after a short grace, younger
// ones once they reach it. Every live handle of the order is dropped first and a
// repeated request replaces the pending one.
func (l *Lifecycle) Cancel(ctx context.Context, requesterID, orderID string) (plan *CancelPlan, err error) {
	err = l.instrument(ctx, useCaseCancel, "CancelOrder", orderID, func(ctx context.Context) error {
		if err := l.authorize(ctx, requesterID); err != nil {
			return err
		}
		return l.withOrder(ctx, orderID, func(o *domorder.Order) error {
			if o.Terminal() {
				return ErrAlreadyTerminal
			}
			now := l.now()
			reason, delay := l.cancelDelay(o, now)

			l.sched.CancelAll(o.ID)
			if err := o.MarkCancelRequested(now, reason, now.Add(delay)); err != nil {
				return err
			}
			l.save(ctx, o)
			l.sched.StartTimer(o.ID, scheduler.KindUserCancel, delay, l.onUserCancel(o.ID, reason))

			n := domorder.NewNotification(o, domorder.NotifyCancelPending)
			n.Reason = reason
			n.CancelAt = o.CancelDueAt
			l.notify(ctx, n)

			plan = &CancelPlan{Order: o.Clone(), Reason: reason, Delay: delay, CancelAt: n.CancelAt}
			return nil
		})
	})
	return plan, err
}

func (l *Lifecycle) cancelDelay(o *domorder.Order, now time.Time) (domorder.CancelReason, time.Duration) {
	if o.CreatedAt.IsZero() {
		return domorder.ReasonManualDelayed, l.timings.UnknownAgeDelay
	}
	elapsed := now.Sub(o.CreatedAt)
	if elapsed >= l.timings.CancelThreshold {
		return domorder.ReasonManualImmediate, l.timings.CancelGrace
	}
	return domorder.ReasonManualDelayed, l.timings.CancelThreshold - elapsed
}

// Finish completes an order at the provider and closes it locally.
func (l *Lifecycle) Finish(ctx context.Context, requesterID, orderID string) (out *domorder.Order, err error) {
	err = l.instrument(ctx, useCaseFinish, "FinishOrder", orderID, func(ctx context.Context) error {
		if err := l.authorize(ctx, requesterID); err != nil {
			return err
		}
		return l.withOrder(ctx, orderID, func(o *domorder.Order) error {
			if o.Terminal() {
				return ErrAlreadyTerminal
			}
			rctx, cancel := l.providerCtx(ctx)
			err := l.provider.Mutate(rctx, o.ID, provider.ActionFinish)
			cancel()
			if err != nil {
				return fmt.Errorf("order: finish %s: %w", o.ID, err)
			}
			if err := o.Finish(); err != nil {
				return err
			}
			l.finalize(ctx, o, domorder.NotifyFinished, nil, nil)
			if l.completions != nil {
				if err := l.completions.Append(ctx, o); err != nil {
					logctx.FromOr(ctx, l.log).Warn("completion_append_failed", observability.F("error", err.Error()))
				}
			}
			out = o.Clone()
			return nil
		})
	})
	return out, err
}

// Resend asks the provider for another SMS on the same number. The order
// goes back to PENDING with its SMS count reset and polling restarts.
func (l *Lifecycle) Resend(ctx context.Context, requesterID, orderID string) (out *domorder.Order, err error) {
	err = l.instrument(ctx, useCaseResend, "ResendOrder", orderID, func(ctx context.Context) error {
		if err := l.authorize(ctx, requesterID); err != nil {
			return err
		}
		return l.withOrder(ctx, orderID, func(o *domorder.Order) error {
			if o.Terminal() {
				return ErrAlreadyTerminal
			}
			rctx, cancel := l.providerCtx(ctx)
			err := l.provider.Mutate(rctx, o.ID, provider.ActionResend)
			cancel()
			if err != nil {
				return fmt.Errorf("order: resend %s: %w", o.ID, err)
			}
			if err := o.Resend(); err != nil {
				return err
			}
			l.save(ctx, o)
			l.auditLine(ctx, o, "RESENT", nil)
			l.transitions.Add(1, observability.L("to", string(o.Status)))
			l.startPoll(o.ID)
			l.notify(ctx, domorder.NewNotification(o, domorder.NotifyResent))
			out = o.Clone()
			return nil
		})
	})
	return out, err
}

// Refreshed is an on-demand status read and the order after applying it.
type Refreshed struct {
	Order    *domorder.Order
	Snapshot provider.StatusSnapshot
}

// Refresh reads the live provider status and applies it like a poll cycle.
func (l *Lifecycle) Refresh(ctx context.Context, requesterID, orderID string) (out *Refreshed, err error) {
	err = l.instrument(ctx, useCaseRefresh, "RefreshOrder", orderID, func(ctx context.Context) error {
		if err := l.authorize(ctx, requesterID); err != nil {
			return err
		}
		rctx, cancel := context.WithTimeout(ctx, l.timings.ProviderTimeout)
		snap, err := l.provider.Status(rctx, orderID)
		cancel()
		if err != nil {
			return fmt.Errorf("order: status %s: %w", orderID, err)
		}
		return l.withOrder(ctx, orderID, func(o *domorder.Order) error {
			if !o.Terminal() {
				l.apply(ctx, o, snap)
			}
			out = &Refreshed{Order: o.Clone(), Snapshot: snap}
			return nil
		})
	})
	return out, err
}

// Get returns the stored order. A hint only fills fields the store lacks; an
// order missing from the store is adopted from the hint.
func (l *Lifecycle) Get(ctx context.Context, requesterID, orderID string, hint *domorder.Hint) (out *domorder.Order, err error) {
	err = l.instrument(ctx, useCaseGet, "GetOrder", orderID, func(ctx context.Context) error {
		if err := l.authorize(ctx, requesterID); err != nil {
			return err
		}
		logger := logctx.FromOr(ctx, l.log)

		unlock := l.locks.Lock(orderID)
		defer unlock()

		o, err := l.repo.Get(ctx, orderID)
		switch {
		case errors.Is(err, domorder.ErrNotFound) && hint != nil:
			adopted, aerr := domorder.Adopt(orderID, "", requesterID, *hint)
			if aerr != nil {
				return aerr
			}
			if ierr := l.repo.Insert(ctx, adopted); ierr != nil && !isStored(ierr) {
				return ierr
			}
			logger.Warn("order_adopted_from_hint")
			out = adopted
			return nil
		case err != nil:
			return err
		}

		if hint != nil {
			if conflicts := o.Conflicts(*hint); len(conflicts) > 0 {
				logger.Warn("order_hint_conflict", observability.F("fields", conflicts))
			}
			if filled := o.Reconcile(*hint); len(filled) > 0 {
				l.save(ctx, o)
				logger.Info("order_filled_from_hint", observability.F("fields", filled))
			}
		}
		out = o
		return nil
	})
	return out, err
}

// Monitored is an open order and its live handles.
type Monitored struct {
	Order *domorder.Order
	Tasks []scheduler.Kind
}

// Monitoring lists the open orders with their live handles.
func (l *Lifecycle) Monitoring(ctx context.Context) ([]Monitored, error) {
	orders, err := l.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Monitored, 0, len(orders))
	for _, o := range orders {
		if o.Terminal() {
			continue
		}
		out = append(out, Monitored{Order: o, Tasks: l.sched.Active(o.ID)})
	}
	return out, nil
}

func (l *Lifecycle) authorize(ctx context.Context, requesterID string) error {
	if l.authorizer == nil {
		return nil
	}
	if err := l.authorizer.Authorize(ctx, requesterID); err != nil {
		return fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	}
	return nil
}

// isStored reports whether an insert error still left the order in memory.
func isStored(err error) bool {
	return !errors.Is(err, domorder.ErrConflict) && !errors.Is(err, domorder.ErrInvalidID)
}
