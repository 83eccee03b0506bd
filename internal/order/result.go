package order

import (
	"context"
	"errors"

	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
)

// Outcome is the settled result of one executor operation.
type Outcome string

const (
	OutcomePlaced    Outcome = "placed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeNoOp      Outcome = "noop"
	OutcomeRejected  Outcome = "rejected"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeFailed    Outcome = "failed"
)

// Result is returned by every executor operation and by pair executions.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`

	// ShouldCancelOrderProcess is set when the venue refused the order outright;
	// callers must not resubmit the same intent.
	ShouldCancelOrderProcess bool `json:"should_cancel_order_process"`

	Outcome    Outcome        `json:"outcome"`
	Order      *common.Order  `json:"order,omitempty"`
	Protective []common.Order `json:"protective,omitempty"`
	Affected   []common.Order `json:"affected,omitempty"`
	Attempts   int            `json:"attempts,omitempty"`
	Kind       errs.Kind      `json:"error_kind,omitempty"`
	Err        error          `json:"-"`
}

// Placed is the result of an accepted order.
func Placed(o common.Order, msg string) Result {
	return Result{Success: true, Outcome: OutcomePlaced, Order: &o, Message: msg}
}

// Cancelled is the result of a successful cancel.
func Cancelled(msg string) Result {
	return Result{Success: true, Outcome: OutcomeCancelled, Message: msg}
}

// NoOp is a successful result where nothing had to be done.
func NoOp(msg string) Result {
	return Result{Success: true, Outcome: OutcomeNoOp, Message: msg}
}

// FromError classifies err into a failed result.
func FromError(err error) Result {
	r := Result{Outcome: OutcomeFailed, Err: err, Kind: errs.KindOf(err)}
	if err != nil {
		r.Message = err.Error()
	}
	switch {
	case errs.IsKind(err, errs.ExchangeRejected):
		r.Outcome = OutcomeRejected
		r.ShouldCancelOrderProcess = true
	case errs.IsKind(err, errs.Unknown):
		r.Outcome = OutcomeUnknown
	case r.Kind == errs.Internal && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
		// the caller gave up while the call may still have reached the venue
		r.Outcome = OutcomeUnknown
		r.Kind = errs.Unknown
	}
	return r
}

// Error returns the failure as an error, or nil for a successful result.
func (r Result) Error() error {
	if r.Success {
		return nil
	}
	if r.Err != nil {
		return r.Err
	}
	return errs.New(errs.Internal, r.Message)
}
