// Package runner holds the process machinery shared by the collectors:
// deadline budgets, interrupt-on-timeout launches, command execution and
// capability escalation.
package runner

import (
	"errors"
	"time"
)

// ErrBudgetExhausted is returned when a launch is requested with no time
// left.
var ErrBudgetExhausted = errors.New("time budget exhausted")

// Budget is a wall-clock window shared by every launch of one test. The
// first launch may use all of it; later launches get what is left.
type Budget struct {
	deadline time.Time
	now      func() time.Time
}

// NewBudget starts a window of the given length.
func NewBudget(total time.Duration) *Budget {
	return newBudgetWithClock(total, time.Now)
}

func newBudgetWithClock(total time.Duration, now func() time.Time) *Budget {
	return &Budget{deadline: now().Add(total), now: now}
}

// Remaining returns the time left, never negative.
func (b *Budget) Remaining() time.Duration {
	left := b.deadline.Sub(b.now())
	if left < 0 {
		return 0
	}
	return left
}

// Exhausted reports whether no time is left.
func (b *Budget) Exhausted() bool {
	return b.Remaining() <= 0
}

// Repeat calls launch with the remaining time until the budget is spent or
// maxLaunches calls were made. A negative maxLaunches means no cap. Windows
// shorter than minSlice are not launched. The first launch error stops the
// loop.
func Repeat(
	budget *Budget,
	maxLaunches int,
	minSlice time.Duration,
	launch func(remaining time.Duration) error,
) (int, error) {
	launches := 0
	for maxLaunches < 0 || launches < maxLaunches {
		remaining := budget.Remaining()
		if remaining <= 0 || remaining < minSlice {
			break
		}

		launches++
		if err := launch(remaining); err != nil {
			return launches, err
		}
	}
	return launches, nil
}
