package retry

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by callers that refuse work while a breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState is the state of a Breaker.
type CircuitState int

const (
	// Closed lets calls through normally.
	Closed CircuitState = iota
	// Open rejects all calls until the reset timeout elapses.
	Open
	// HalfOpen lets a probe call through to test recovery.
	HalfOpen
)

func (s CircuitState) String() string {
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

// Breaker tracks failures across many logical calls over time, independent of
// any single retry loop. After FailureThreshold consecutive failures it opens;
// once ResetTimeout has elapsed since the last failure it half-opens on the
// next CanExecute, and a single success closes it again.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	resetTimeout     time.Duration

	state       CircuitState
	failures    int
	lastFailure time.Time

	now func() time.Time // seam for tests
}

// NewBreaker creates a closed Breaker.
func NewBreaker(failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            Closed,
		now:              time.Now,
	}
}

// CanExecute reports whether a call may proceed. The Open to HalfOpen
// transition happens lazily here once the reset timeout has elapsed.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.now().Sub(b.lastFailure) >= b.resetTimeout {
		b.state = HalfOpen
	}
	return b.state != Open
}

// RecordFailure notes a failed call. In Closed it opens the breaker once the
// threshold is reached; in HalfOpen any failure reopens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = Open
		}
	case HalfOpen:
		b.state = Open
	}
}

// RecordSuccess notes a successful call. In HalfOpen it closes the breaker;
// in Closed it resets the consecutive-failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.state = Closed
		b.failures = 0
	case Closed:
		b.failures = 0
	}
}

// State returns the current state, applying the lazy Open to HalfOpen
// transition first so callers never observe a stale Open.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.now().Sub(b.lastFailure) >= b.resetTimeout {
		b.state = HalfOpen
	}
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
