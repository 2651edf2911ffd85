package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config controls backoff timing and which errors are worth retrying.
type Config struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	JitterFactor  float64       `yaml:"jitter"` // fraction of the delay in [0,1]; 0 disables jitter

	// Retryable reports whether an error should trigger another attempt.
	// A nil predicate retries every error.
	Retryable func(error) bool `yaml:"-"`
}

// DefaultConfig returns the defaults used when config omits retry settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
		JitterFactor:  0.1,
	}
}

// Delay returns the backoff to wait after the given zero-based attempt.
// The result never exceeds MaxDelay, jitter included, and is never negative.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		d *= 1 + (rand.Float64()*2-1)*c.JitterFactor
	}
	if d < 0 {
		d = 0
	}
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// Func is one attempt of the wrapped operation.
type Func func(ctx context.Context) error

// Handler runs an operation with bounded retries and blocking backoff sleeps.
// It is ephemeral: create one per logical invocation so the attempt log and
// statistics cover exactly that invocation.
type Handler struct {
	cfg      Config
	attempts []time.Duration

	// sleep is a seam for tests; the default waits on a timer or the context.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHandler creates a Handler with the given config.
func NewHandler(cfg Config) *Handler {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Handler{cfg: cfg, sleep: sleepCtx}
}

// Execute runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is exhausted, in which case the last error is returned as-is.
// cleanup, when non-nil, runs between attempts before the backoff sleep.
func (h *Handler) Execute(ctx context.Context, fn Func, cleanup func()) error {
	var last error
	for attempt := 0; attempt < h.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		err := fn(ctx)
		h.attempts = append(h.attempts, time.Since(start))
		if err == nil {
			return nil
		}
		last = err

		if h.cfg.Retryable != nil && !h.cfg.Retryable(err) {
			return err
		}
		if attempt == h.cfg.MaxAttempts-1 {
			break
		}
		if cleanup != nil {
			cleanup()
		}
		if err := h.sleep(ctx, h.cfg.Delay(attempt)); err != nil {
			return err
		}
	}
	return last
}

// Stats summarises the attempt log of a Handler.
type Stats struct {
	Attempts int
	Total    time.Duration
	Avg      time.Duration
	Min      time.Duration
	Max      time.Duration
}

// Stats returns timing statistics for the attempts made so far.
func (h *Handler) Stats() Stats {
	s := Stats{Attempts: len(h.attempts)}
	if s.Attempts == 0 {
		return s
	}
	s.Min = h.attempts[0]
	for _, d := range h.attempts {
		s.Total += d
		if d < s.Min {
			s.Min = d
		}
		if d > s.Max {
			s.Max = d
		}
	}
	s.Avg = s.Total / time.Duration(s.Attempts)
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
