// Package probe implements polling-based readiness detection for remote
// operations that expose no completion callback. The only way to observe
// progress in the target UI is to re-inspect rendered page state, so the
// prober suspends the calling goroutine between checks.
package probe

import (
	"context"
	"fmt"
	"time"
)

// Outcome is the terminal result of one prober call.
type Outcome int

const (
	// Ready means the predicate reported true within budget.
	Ready Outcome = iota

	// TimedOut means the predicate never reported true before MaxWait
	// elapsed. The remote side effect may still have occurred; callers
	// must treat this as "unknown, verify externally".
	TimedOut
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	if o == Ready {
		return "ready"
	}
	return "timed_out"
}

// Predicate reports whether the awaited condition currently holds.
// Implementations inspect live page state and must not block for long.
type Predicate func() bool

// Profile is the timing envelope for one operation class.
//
// InitialDelay is always applied before the first predicate evaluation:
// checking earlier is known to fail for the operation classes this
// program drives, and probing an element that is rendered but not yet
// interactive can destabilize it.
//
// A profile with PollInterval and MaxWait both zero is the fixed-delay
// form: suspend for InitialDelay and return Ready without evaluating any
// predicate. This models "network settle" pauses.
type Profile struct {
	InitialDelay time.Duration
	PollInterval time.Duration
	MaxWait      time.Duration
}

// FixedDelay returns the single-suspension profile used for operations
// that only need the page to settle.
func FixedDelay(d time.Duration) Profile {
	return Profile{InitialDelay: d}
}

// Validate rejects unusable profiles. Non-positive values are an error,
// never clamped; the only zero values allowed are the PollInterval and
// MaxWait of the fixed-delay form, which must be zero together.
func (p Profile) Validate() error {
	if p.InitialDelay <= 0 {
		return fmt.Errorf("initial delay must be positive, got %v", p.InitialDelay)
	}
	if p.PollInterval == 0 && p.MaxWait == 0 {
		return nil // fixed-delay form
	}
	if p.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", p.PollInterval)
	}
	if p.MaxWait <= 0 {
		return fmt.Errorf("max wait must be positive, got %v", p.MaxWait)
	}
	return nil
}

// IsFixedDelay reports whether the profile is the no-polling form.
func (p Profile) IsFixedDelay() bool {
	return p.PollInterval == 0 && p.MaxWait == 0
}

// WithMaxWait returns a copy of the profile with MaxWait replaced.
// Used for per-call timeout overrides and retry extensions.
func (p Profile) WithMaxWait(d time.Duration) Profile {
	p.MaxWait = d
	return p
}

// Extended returns a copy of the profile with MaxWait doubled. Phases
// that retry a timed-out confirmation use this for the second attempt.
func (p Profile) Extended() Profile {
	p.MaxWait *= 2
	return p
}

// Wait suspends for InitialDelay, then evaluates pred at PollInterval
// cadence until it reports true or the elapsed time exceeds MaxWait.
//
// Deadlines are computed from monotonic elapsed-time reads, not from
// counted sleeps, so host suspension does not stretch the budget. One
// call overruns MaxWait by at most a single PollInterval.
//
// A cancelled context resolves the wait immediately with the context's
// error; the outcome value is meaningless in that case.
func Wait(ctx context.Context, pred Predicate, p Profile) (Outcome, error) {
	if err := p.Validate(); err != nil {
		return TimedOut, err
	}

	start := time.Now()

	if err := sleep(ctx, p.InitialDelay); err != nil {
		return TimedOut, err
	}

	if p.IsFixedDelay() {
		return Ready, nil
	}

	for {
		if pred() {
			return Ready, nil
		}
		if time.Since(start) > p.MaxWait {
			return TimedOut, nil
		}
		if err := sleep(ctx, p.PollInterval); err != nil {
			return TimedOut, err
		}
	}
}

// sleep blocks for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
