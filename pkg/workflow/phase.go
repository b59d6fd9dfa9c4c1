package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrConfirmTimeout is returned by a phase body when its confirmation
// probe timed out. The executor maps it to PhaseTimeout rather than
// PhaseError: the action was dispatched and may have taken effect
// remotely, it just could not be confirmed locally.
var ErrConfirmTimeout = errors.New("confirmation timed out")

// TimeoutPolicy selects how the orchestrator reacts when a phase
// reports timeout.
type TimeoutPolicy int

const (
	// TimeoutTerminal surfaces the timeout as the run's terminal
	// timed_out status. Used for waits whose overrun is a legitimate
	// outcome requiring external follow-up.
	TimeoutTerminal TimeoutPolicy = iota

	// TimeoutRetryOnce retries the phase a single time with an extended
	// confirmation budget; a second timeout fails the run. Used for
	// dialog renders and similar short operations that occasionally
	// straggle.
	TimeoutRetryOnce
)

// RunOpts carries per-attempt execution hints into a phase body.
type RunOpts struct {
	// Attempt is 1 for the first execution, 2 for the retry.
	Attempt int

	// ExtendWait tells the body to run its confirmation probe with the
	// extended (doubled) MaxWait.
	ExtendWait bool
}

// Phase is one locate-act-confirm unit. Run returns a payload and an
// error; the executor folds both into a PhaseResult, so failures never
// propagate past the phase boundary as raised values.
type Phase struct {
	Name          string
	TimeoutPolicy TimeoutPolicy
	Run           func(ctx context.Context, opts RunOpts) (map[string]string, error)
}

// Execute runs one phase attempt and always returns a well-formed
// PhaseResult. Elapsed time is truncated to millisecond precision to
// match the result document contract.
func Execute(ctx context.Context, p Phase, opts RunOpts) PhaseResult {
	start := time.Now()
	payload, err := p.Run(ctx, opts)
	res := PhaseResult{
		Name:    p.Name,
		Payload: payload,
		Elapsed: time.Since(start).Truncate(time.Millisecond),
	}

	switch {
	case err == nil:
		res.Status = PhaseSuccess
	case errors.Is(err, ErrConfirmTimeout):
		res.Status = PhaseTimeout
		res.Diagnostic = err.Error()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Status = PhaseError
		res.Diagnostic = fmt.Sprintf("cancelled: %v", err)
	default:
		// Locate failures, rejected actions, and unreachable sessions
		// all land here: the phase could not take effect.
		res.Status = PhaseError
		res.Diagnostic = err.Error()
	}
	return res
}
