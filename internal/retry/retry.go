// Package retry runs an operation under a bounded attempt policy and reports
// a typed outcome instead of looping with ad-hoc sleeps.
package retry

import (
	"context"
	"time"
)

// Policy bounds the number of attempts and the pause between them.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// Backoff multiplies Delay after each failed attempt. Values <= 1 keep it fixed.
	Backoff float64
}

// Status is the terminal state of a retried operation.
type Status int

const (
	Succeeded Status = iota
	Exhausted
	Canceled
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	case Canceled:
		return "canceled"
	}
	return "unknown"
}

// Outcome is the result of Do.
type Outcome[T any] struct {
	Value    T
	Status   Status
	Attempts int
	// Errors holds every failed attempt's error, oldest first.
	Errors []error
}

// LastErr returns the most recent attempt error, if any.
func (o Outcome[T]) LastErr() error {
	if len(o.Errors) == 0 {
		return nil
	}
	return o.Errors[len(o.Errors)-1]
}

// Waiter pauses between attempts; it returns false when ctx ends first.
type Waiter func(ctx context.Context, d time.Duration) bool

// SleepWaiter waits on a timer or the context, whichever comes first.
func SleepWaiter(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Do runs op until it succeeds, the attempts run out or ctx is canceled.
// wait may be nil, in which case SleepWaiter is used.
func Do[T any](ctx context.Context, p Policy, wait Waiter, op func(ctx context.Context, attempt int) (T, error)) Outcome[T] {
	if wait == nil {
		wait = SleepWaiter
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay

	var out Outcome[T]
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			out.Status = Canceled
			out.Errors = append(out.Errors, ctx.Err())
			return out
		}
		out.Attempts = attempt
		v, err := op(ctx, attempt)
		if err == nil {
			out.Value = v
			out.Status = Succeeded
			return out
		}
		out.Errors = append(out.Errors, err)
		if attempt == attempts {
			break
		}
		if !wait(ctx, delay) {
			out.Status = Canceled
			return out
		}
		if p.Backoff > 1 {
			delay = time.Duration(float64(delay) * p.Backoff)
		}
	}
	out.Status = Exhausted
	return out
}
