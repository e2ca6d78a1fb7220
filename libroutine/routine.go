// Package libroutine provides a circuit breaker and a managed background
// loop runner built on top of it.
package libroutine

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute when the breaker rejects the call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Routine is a circuit breaker guarding a recurring operation.
type Routine struct {
	mu            sync.Mutex
	state         State
	failures      int
	threshold     int
	resetTimeout  time.Duration
	openedAt      time.Time
	probeInFlight bool
}

// NewRoutine creates a breaker that opens after threshold consecutive
// failures and probes again after resetTimeout.
func NewRoutine(threshold int, resetTimeout time.Duration) *Routine {
	return &Routine{
		state:        Closed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
	}
}

// Allow reports whether a call may proceed right now. Once the reset
// timeout has elapsed the breaker goes half-open and admits exactly one
// probe call; further callers are rejected until that probe resolves
// through markSuccess or markFailure.
func (r *Routine) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case Closed:
		return true
	case Open:
		if time.Since(r.openedAt) >= r.resetTimeout {
			r.state = HalfOpen
			r.probeInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if r.probeInFlight {
			return false
		}
		r.probeInFlight = true
		return true
	default:
		return false
	}
}

// GetState returns the current state, promoting Open to HalfOpen once the
// reset timeout has elapsed.
func (r *Routine) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Open && time.Since(r.openedAt) >= r.resetTimeout {
		r.state = HalfOpen
		r.probeInFlight = false
	}
	return r.state
}

// GetThreshold returns the configured failure threshold.
func (r *Routine) GetThreshold() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threshold
}

// GetResetTimeout returns the configured reset timeout.
func (r *Routine) GetResetTimeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resetTimeout
}

// ForceOpen trips the breaker regardless of the failure count.
func (r *Routine) ForceOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Open
	r.openedAt = time.Now()
	r.probeInFlight = false
}

// ForceClose resets the breaker to the closed state.
func (r *Routine) ForceClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Closed
	r.failures = 0
	r.probeInFlight = false
}

func (r *Routine) markSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Closed
	r.failures = 0
	r.probeInFlight = false
}

func (r *Routine) markFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case HalfOpen:
		r.state = Open
		r.openedAt = time.Now()
		r.probeInFlight = false
	case Closed:
		r.failures++
		if r.failures >= r.threshold {
			r.state = Open
			r.openedAt = time.Now()
		}
	}
}

// Execute runs fn through the breaker. It returns ErrCircuitOpen when the
// breaker rejects the call, otherwise fn's error.
func (r *Routine) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(ctx); err != nil {
		r.markFailure()
		return err
	}
	r.markSuccess()
	return nil
}

// ExecuteWithRetry runs fn up to maxRetries times, sleeping between
// attempts. An open breaker aborts the retry sequence immediately.
func (r *Routine) ExecuteWithRetry(ctx context.Context, sleep time.Duration, maxRetries int, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
		}
		err := r.Execute(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// Loop runs fn immediately and then on every interval tick or trigger
// signal until ctx is canceled. Ticker runs are suppressed while the
// breaker is open; after it goes half-open the probe waits one more
// tick so that state observers get a full interval to see HalfOpen.
// Trigger runs always go through Execute, so their outcome, including
// ErrCircuitOpen rejections, is reported through errFn.
func (r *Routine) Loop(ctx context.Context, interval time.Duration, trigger <-chan struct{}, fn func(ctx context.Context) error, errFn func(error)) {
	run := func() {
		if err := r.Execute(ctx, fn); err != nil {
			errFn(err)
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	probeArmed := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch r.GetState() {
			case Closed:
				probeArmed = false
				run()
			case HalfOpen:
				if probeArmed {
					probeArmed = false
					run()
				} else {
					probeArmed = true
				}
			default:
				probeArmed = false
			}
		case <-trigger:
			probeArmed = false
			run()
		}
	}
}
