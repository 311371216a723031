// Package transport implements the pluggable remote-object boundary design
// note from spec.md §9: the scheduler only ever sees Timeout | Ok(value) |
// Err(protocol), regardless of whether the call underneath is an in-process
// dispatch, a Modbus round-trip, or an MQTT request/response. Concrete
// sensor and actuator adapters call Call to get this uniform contract.
package transport

import (
	"context"
	"errors"
	"time"
)

// Outcome classifies how a Call resolved.
type Outcome int

const (
	// OutcomeOK means the call returned a value before the deadline.
	OutcomeOK Outcome = iota
	// OutcomeTimeout means the call did not return before the deadline
	// (spec.md §7 error kind 1, "adapter transient").
	OutcomeTimeout
	// OutcomeErr means the call returned before the deadline but failed,
	// including a malformed/out-of-range result (spec.md §7 error kind 2,
	// "adapter protocol").
	OutcomeErr
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeErr:
		return "err"
	default:
		return "unknown"
	}
}

// Result is the sum type a transport call resolves to.
type Result[T any] struct {
	Outcome Outcome
	Value   T
	Err     error
}

// Ok builds a successful Result.
func Ok[T any](v T) Result[T] {
	return Result[T]{Outcome: OutcomeOK, Value: v}
}

// Timeout builds a Result reporting the call did not complete in time.
func Timeout[T any]() Result[T] {
	return Result[T]{Outcome: OutcomeTimeout, Err: ErrTimeout}
}

// ErrResult builds a Result reporting a protocol-level failure.
func ErrResult[T any](err error) Result[T] {
	return Result[T]{Outcome: OutcomeErr, Err: err}
}

// ErrTimeout is returned inside a timed-out Result's Err field.
var ErrTimeout = errors.New("transport: call timed out")

// Call runs fn with a context bounded by timeout, classifying the outcome.
// fn must itself respect ctx cancellation for the timeout to be effective
// against adapters that can block indefinitely (spec.md §5 "every call into
// an adapter is a potential suspension").
func Call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) Result[T] {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		v, err := fn(callCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) {
				return Timeout[T]()
			}
			return ErrResult[T](o.err)
		}
		return Ok(o.value)
	case <-callCtx.Done():
		return Timeout[T]()
	}
}
