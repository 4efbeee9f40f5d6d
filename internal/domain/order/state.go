package order

import "time"

// OrderState implements the state pattern for order lifecycle transitions.
type OrderState interface {
	Status() Status
	OnSMSObserved(o *Order) (OrderState, error)
	OnProviderStatus(o *Order, ps ProviderStatus) (OrderState, error)
	OnCancelled(o *Order, reason CancelReason) (OrderState, error)
	OnFinished(o *Order) (OrderState, error)
	OnResent(o *Order) (OrderState, error)
}

func stateOf(s Status) OrderState {
	switch s {
	case StatusPending:
		return pendingState{}
	case StatusActiveSMS:
		return activeSMSState{}
	default:
		return terminalState{status: s}
	}
}

// openState carries the transitions shared by PENDING and ACTIVE_SMS.
type openState struct{}

// settle maps a terminal provider status onto the order. Other statuses keep current.
func settle(o *Order, ps ProviderStatus, current OrderState) (OrderState, error) {
	switch ps {
	case ProviderSuccess:
		return terminalState{status: StatusSuccess}, nil
	case ProviderCancel:
		o.CancelReason = ReasonProviderCancelled
		return terminalState{status: StatusCancelled}, nil
	case ProviderRefund:
		o.CancelReason = ReasonProviderRefunded
		return terminalState{status: StatusRefunded}, nil
	}
	return current, nil
}

func (openState) OnCancelled(o *Order, reason CancelReason) (OrderState, error) {
	o.CancelReason = reason
	return terminalState{status: StatusCancelled}, nil
}

func (openState) OnFinished(*Order) (OrderState, error) {
	return terminalState{status: StatusFinished}, nil
}

func (openState) OnResent(o *Order) (OrderState, error) {
	o.LastSMSCount = 0
	o.LastProviderStatus = ProviderPending
	o.ResendCount++
	return pendingState{}, nil
}

type pendingState struct{ openState }

func (pendingState) Status() Status { return StatusPending }

func (pendingState) OnSMSObserved(*Order) (OrderState, error) {
	return activeSMSState{}, nil
}

func (p pendingState) OnProviderStatus(o *Order, ps ProviderStatus) (OrderState, error) {
	return settle(o, ps, p)
}

type activeSMSState struct{ openState }

func (activeSMSState) Status() Status { return StatusActiveSMS }

func (activeSMSState) OnSMSObserved(*Order) (OrderState, error) {
	return activeSMSState{}, nil
}

func (a activeSMSState) OnProviderStatus(o *Order, ps ProviderStatus) (OrderState, error) {
	return settle(o, ps, a)
}

type terminalState struct{ status Status }

func (t terminalState) Status() Status { return t.status }

func (terminalState) OnSMSObserved(*Order) (OrderState, error) {
	return nil, ErrAlreadyTerminal
}

func (terminalState) OnProviderStatus(*Order, ProviderStatus) (OrderState, error) {
	return nil, ErrAlreadyTerminal
}

func (terminalState) OnCancelled(*Order, CancelReason) (OrderState, error) {
	return nil, ErrAlreadyTerminal
}

func (terminalState) OnFinished(*Order) (OrderState, error) {
	return nil, ErrAlreadyTerminal
}

func (terminalState) OnResent(*Order) (OrderState, error) {
	return nil, ErrAlreadyTerminal
}

// Observation describes what a provider status read changed on an order.
type Observation struct {
	Changed bool
	// PreviousSMSCount is the SMS count before the read; messages past it are new.
	PreviousSMSCount int
	Terminal         bool
}

// Observe applies a provider status read. Unchanged reads leave the order untouched.
func (o *Order) Observe(ps ProviderStatus, smsCount int) (Observation, error) {
	if o.Terminal() {
		return Observation{}, ErrAlreadyTerminal
	}
	obs := Observation{PreviousSMSCount: o.LastSMSCount}
	grew := smsCount > o.LastSMSCount
	if !grew && ps == o.LastProviderStatus {
		return obs, nil
	}
	obs.Changed = true

	state := stateOf(o.Status)
	if grew {
		o.LastSMSCount = smsCount
	}
	if o.LastSMSCount > 0 {
		next, err := state.OnSMSObserved(o)
		if err != nil {
			return Observation{}, err
		}
		state = next
	}
	o.LastProviderStatus = ps
	next, err := state.OnProviderStatus(o, ps)
	if err != nil {
		return Observation{}, err
	}
	o.Status = next.Status()
	obs.Terminal = o.Terminal()
	o.touch()
	return obs, nil
}

// Cancel moves the order to CANCELLED with reason.
func (o *Order) Cancel(reason CancelReason) error {
	return o.apply(func(s OrderState) (OrderState, error) { return s.OnCancelled(o, reason) })
}

// Finish marks the order complete by the requester, regardless of provider status.
func (o *Order) Finish() error {
	return o.apply(func(s OrderState) (OrderState, error) { return s.OnFinished(o) })
}

// Resend re-enters PENDING with the SMS count reset. Identity and history are kept.
func (o *Order) Resend() error {
	return o.apply(func(s OrderState) (OrderState, error) { return s.OnResent(o) })
}

// MarkCancelRequested records when a user asked for cancellation and when the
// provider cancel is due.
func (o *Order) MarkCancelRequested(at time.Time, reason CancelReason, due time.Time) error {
	if o.Terminal() {
		return ErrAlreadyTerminal
	}
	o.CancelRequestedAt = at
	o.PendingCancel = reason
	o.CancelDueAt = due
	o.touch()
	return nil
}

// CancelPending reports whether a user cancel is scheduled but not done.
func (o *Order) CancelPending() bool {
	return !o.Terminal() && o.PendingCancel != ""
}

// ClearCancelRequest drops a scheduled user cancel, e.g. after the provider refused it.
func (o *Order) ClearCancelRequest() {
	o.PendingCancel = ""
	o.CancelDueAt = time.Time{}
	o.touch()
}

func (o *Order) apply(fn func(OrderState) (OrderState, error)) error {
	next, err := fn(stateOf(o.Status))
	if err != nil {
		return err
	}
	o.Status = next.Status()
	o.touch()
	return nil
}
