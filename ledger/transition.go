package ledger

import (
	"fmt"
	"time"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusChurned},
	StatusActive:  {StatusChurned, StatusExpired},
}

// CanTransition reports whether a referral may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("ledger: invalid transition %s -> %s", e.From, e.To)
}

// Activate moves a pending referral to active at t, stamping the commission
// window end from the snapshotted duration.
func (r *Referral) Activate(t time.Time) error {
	if !CanTransition(r.Status, StatusActive) {
		return &TransitionError{From: r.Status, To: StatusActive}
	}
	t = t.UTC()
	exp := AddMonths(t, r.CommissionDurationMonths)
	r.Status = StatusActive
	r.SubscribedAt = &t
	r.ExpiresAt = &exp
	r.Touch(t)
	return nil
}

// Churn moves an open referral to churned at t.
func (r *Referral) Churn(t time.Time) error {
	if !CanTransition(r.Status, StatusChurned) {
		return &TransitionError{From: r.Status, To: StatusChurned}
	}
	t = t.UTC()
	r.Status = StatusChurned
	r.ChurnedAt = &t
	r.Touch(t)
	return nil
}

// Expire moves an active referral to expired.
func (r *Referral) Expire(t time.Time) error {
	if !CanTransition(r.Status, StatusExpired) {
		return &TransitionError{From: r.Status, To: StatusExpired}
	}
	r.Status = StatusExpired
	r.Touch(t)
	return nil
}
