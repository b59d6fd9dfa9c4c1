package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okPhase(name string) Phase {
	return Phase{
		Name: name,
		Run: func(ctx context.Context, opts RunOpts) (map[string]string, error) {
			return nil, nil
		},
	}
}

func failingPhase(name string) Phase {
	return Phase{
		Name: name,
		Run: func(ctx context.Context, opts RunOpts) (map[string]string, error) {
			return nil, errors.New("expected UI structure absent")
		},
	}
}

func TestRunCompletesAllPhases(t *testing.T) {
	o := NewOrchestrator(nil)
	spec := Spec{Name: "wf", Phases: []Phase{okPhase("a"), okPhase("b"), okPhase("c")}}

	res, err := o.Run(context.Background(), &MutexLocker{}, spec)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	require.Len(t, res.Phases, 3)
	for _, p := range res.Phases {
		assert.Equal(t, PhaseSuccess, p.Status)
	}
	assert.False(t, res.EndedAt.Before(res.StartedAt))
}

func TestRunErrorHaltsAtStrictPrefix(t *testing.T) {
	// Phase 2 of 3 errors: exactly 2 results, phase 3 never runs.
	var thirdRan bool
	third := Phase{
		Name: "c",
		Run: func(ctx context.Context, opts RunOpts) (map[string]string, error) {
			thirdRan = true
			return nil, nil
		},
	}
	o := NewOrchestrator(nil)
	spec := Spec{Name: "wf", Phases: []Phase{okPhase("a"), failingPhase("b"), third}}

	res, err := o.Run(context.Background(), &MutexLocker{}, spec)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.Phases, 2)
	assert.Equal(t, PhaseSuccess, res.Phases[0].Status)
	assert.Equal(t, PhaseError, res.Phases[1].Status)
	assert.False(t, thirdRan, "phases after an error must never execute")
}

func TestRunTerminalTimeout(t *testing.T) {
	timeoutPhase := Phase{
		Name:          "await",
		TimeoutPolicy: TimeoutTerminal,
		Run: func(ctx context.Context, opts RunOpts) (map[string]string, error) {
			return nil, ErrConfirmTimeout
		},
	}
	o := NewOrchestrator(nil)

	res, err := o.Run(context.Background(), &MutexLocker{}, Spec{Name: "wf", Phases: []Phase{timeoutPhase}})
	require.NoError(t, err)

	assert.Equal(t, StatusTimedOut, res.Status)
	require.Len(t, res.Phases, 1)
	assert.Equal(t, PhaseTimeout, res.Phases[0].Status)
}

func TestRunRetryOnceRecovers(t *testing.T) {
	var attempts []RunOpts
	phase := Phase{
		Name:          "open-dialog",
		TimeoutPolicy: TimeoutRetryOnce,
		Run: func(ctx context.Context, opts RunOpts) (map[string]string, error) {
			attempts = append(attempts, opts)
			if opts.Attempt == 1 {
				return nil, ErrConfirmTimeout
			}
			return nil, nil
		},
	}
	o := NewOrchestrator(nil)

	res, err := o.Run(context.Background(), &MutexLocker{}, Spec{Name: "wf", Phases: []Phase{phase}})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].ExtendWait)
	assert.True(t, attempts[1].ExtendWait, "retry must run with the extended wait budget")
}

func TestRunRetryOnceSecondTimeoutFails(t *testing.T) {
	var attempts int
	phase := Phase{
		Name:          "open-dialog",
		TimeoutPolicy: TimeoutRetryOnce,
		Run: func(ctx context.Context, opts RunOpts) (map[string]string, error) {
			attempts++
			return nil, ErrConfirmTimeout
		},
	}
	o := NewOrchestrator(nil)

	res, err := o.Run(context.Background(), &MutexLocker{}, Spec{Name: "wf", Phases: []Phase{phase}})
	require.NoError(t, err)

	assert.Equal(t, 2, attempts)
	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.Phases, 1)
	// The phase keeps its honest timeout status: the remote side effect
	// may still have happened.
	assert.Equal(t, PhaseTimeout, res.Phases[0].Status)
	assert.Contains(t, res.Phases[0].Diagnostic, "timed out twice")
}

func TestRunSessionBusyRejectedImmediately(t *testing.T) {
	lock := &MutexLocker{}
	require.True(t, lock.TryLock())
	defer lock.Unlock()

	o := NewOrchestrator(nil)
	start := time.Now()
	_, err := o.Run(context.Background(), lock, Spec{Name: "wf", Phases: []Phase{okPhase("a")}})

	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "rejection must not block")
}

func TestRunMutualExclusionConcurrentStart(t *testing.T) {
	// Two runs race for one lock; at most one may hold it at any
	// instant, and the loser gets an immediate busy rejection.
	lock := &MutexLocker{}
	o := NewOrchestrator(nil)

	release := make(chan struct{})
	slow := Spec{Name: "slow", Phases: []Phase{{
		Name: "hold",
		Run: func(ctx context.Context, opts RunOpts) (map[string]string, error) {
			<-release
			return nil, nil
		},
	}}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := o.Run(context.Background(), lock, slow)
		assert.NoError(t, err)
		assert.Equal(t, StatusCompleted, res.Status)
	}()

	// Wait until the first run holds the lock.
	require.Eventually(t, func() bool {
		if lock.TryLock() {
			lock.Unlock()
			return false
		}
		return true
	}, time.Second, 5*time.Millisecond)

	_, err := o.Run(context.Background(), lock, Spec{Name: "second", Phases: []Phase{okPhase("a")}})
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(release)
	wg.Wait()
}

func TestRunRepeatedWaitIsIdempotent(t *testing.T) {
	// A wait-for-completion phase whose condition already holds
	// completes again without dispatching any UI action.
	wait := Spec{Name: "wait", Phases: []Phase{{
		Name:          "await",
		TimeoutPolicy: TimeoutTerminal,
		Run: func(ctx context.Context, opts RunOpts) (map[string]string, error) {
			// Condition already true: confirm only, no act step.
			return nil, nil
		},
	}}}

	o := NewOrchestrator(nil)
	lock := &MutexLocker{}

	first, err := o.Run(context.Background(), lock, wait)
	require.NoError(t, err)
	second, err := o.Run(context.Background(), lock, wait)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, first.Status)
	assert.Equal(t, StatusCompleted, second.Status)
}

func TestExecuteMapsCancellation(t *testing.T) {
	phase := Phase{
		Name: "confirm",
		Run: func(ctx context.Context, opts RunOpts) (map[string]string, error) {
			return nil, context.Canceled
		},
	}

	res := Execute(context.Background(), phase, RunOpts{Attempt: 1})
	assert.Equal(t, PhaseError, res.Status)
	assert.Contains(t, res.Diagnostic, "cancelled")
}

func TestExecuteNeverPanicsOnErrors(t *testing.T) {
	res := Execute(context.Background(), failingPhase("x"), RunOpts{Attempt: 1})
	assert.Equal(t, PhaseError, res.Status)
	assert.Equal(t, "expected UI structure absent", res.Diagnostic)
	assert.GreaterOrEqual(t, res.Elapsed, time.Duration(0))
}
