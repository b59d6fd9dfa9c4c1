// Package workflow sequences locate-act-confirm phases into named
// workflows and reports structured results to external callers.
//
// Execution is strictly serial: every phase mutates one shared browser
// tab, so phases never run concurrently, and a Session is held
// exclusively for the duration of a run.
package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jgwill/mcpservers/pkg/logging"
	"github.com/jgwill/mcpservers/pkg/metrics"
)

// ErrSessionBusy is returned immediately when a run is requested
// against a session already held by another run. Requests are never
// queued; callers apply their own bounded retry.
var ErrSessionBusy = errors.New("session busy")

// Locker is the exclusive-use handle the orchestrator takes on a
// session for the whole run. browser.Session implements it.
type Locker interface {
	// TryLock acquires the lock without blocking and reports success.
	TryLock() bool
	Unlock()
}

// MutexLocker is a standalone Locker for workflows that need
// serialization but no browser session, such as local clones.
type MutexLocker struct {
	mu sync.Mutex
}

func (l *MutexLocker) TryLock() bool { return l.mu.TryLock() }
func (l *MutexLocker) Unlock()       { l.mu.Unlock() }

// Spec is a named, ordered list of phases. Each phase's precondition
// depends on the prior phase's side effect.
type Spec struct {
	Name   string
	Phases []Phase
}

// Orchestrator executes workflow specs against an exclusively held
// session lock.
type Orchestrator struct {
	log *logging.Logger
}

// NewOrchestrator returns an orchestrator logging to log. A nil logger
// is replaced with a stderr fallback.
func NewOrchestrator(log *logging.Logger) *Orchestrator {
	if log == nil {
		log, _ = logging.NewLogger("orchestrator")
	}
	return &Orchestrator{log: log}
}

// Run executes spec serially under lock and returns the aggregate
// result.
//
// Policy:
//   - a phase error halts the run; the result is failed and contains
//     exactly the phases attempted so far. No compensation is run: the
//     remote system exposes none through its UI.
//   - a phase timeout follows the phase's TimeoutPolicy: terminal
//     timed_out, or one retry with an extended confirmation budget
//     before a second timeout fails the run.
//
// The only non-nil error Run returns is ErrSessionBusy, reported
// immediately when the lock is already held. Everything that happens
// inside a run is expressed through the Result.
func (o *Orchestrator) Run(ctx context.Context, lock Locker, spec Spec) (Result, error) {
	if !lock.TryLock() {
		o.log.Warnf("workflow %s rejected: session busy", spec.Name)
		metrics.ObserveSessionBusy()
		return Result{}, ErrSessionBusy
	}
	defer lock.Unlock()

	res := Result{
		Workflow:  spec.Name,
		StartedAt: time.Now().UTC(),
	}
	o.log.Infof("workflow %s: starting %d phases", spec.Name, len(spec.Phases))

	status := StatusCompleted
	for i, phase := range spec.Phases {
		pr := o.runPhase(ctx, spec.Name, i, phase)
		res.Phases = append(res.Phases, pr)

		if pr.Status == PhaseError {
			status = StatusFailed
			break
		}
		if pr.Status == PhaseTimeout {
			// The phase keeps its timeout status either way: the remote
			// side effect may have happened. The run status depends on
			// whether a timeout is a legitimate outcome for this phase.
			if phase.TimeoutPolicy == TimeoutTerminal {
				status = StatusTimedOut
			} else {
				status = StatusFailed
			}
			break
		}
	}

	res.Status = status
	res.EndedAt = time.Now().UTC()
	metrics.ObserveWorkflow(spec.Name, string(res.Status))
	o.log.Infof("workflow %s: %s after %d/%d phases",
		spec.Name, res.Status, len(res.Phases), len(spec.Phases))
	return res, nil
}

// runPhase executes one phase, applying the retry-once timeout policy
// when configured.
func (o *Orchestrator) runPhase(ctx context.Context, workflow string, idx int, phase Phase) PhaseResult {
	o.log.Infof("workflow %s: phase %d (%s)", workflow, idx, phase.Name)

	pr := Execute(ctx, phase, RunOpts{Attempt: 1})
	if pr.Status == PhaseTimeout && phase.TimeoutPolicy == TimeoutRetryOnce && ctx.Err() == nil {
		o.log.Warnf("workflow %s: phase %s timed out, retrying with extended wait", workflow, phase.Name)
		metrics.ObservePhaseRetry()
		retry := Execute(ctx, phase, RunOpts{Attempt: 2, ExtendWait: true})
		if retry.Status == PhaseTimeout {
			retry.Diagnostic = "timed out twice: " + retry.Diagnostic
		}
		retry.Elapsed += pr.Elapsed
		pr = retry
	}

	metrics.ObservePhase(phase.Name, string(pr.Status), pr.Elapsed)
	if pr.Status != PhaseSuccess {
		o.log.Warnf("workflow %s: phase %s ended %s: %s", workflow, phase.Name, pr.Status, pr.Diagnostic)
	}
	return pr
}
