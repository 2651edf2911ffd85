package retry

import (
	"testing"
	"time"
)

// fakeClock lets breaker tests move time forward deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testBreaker(threshold int, reset time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreaker(threshold, reset)
	b.now = clk.now
	return b, clk
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Fatalf("state after 2 failures = %v, want closed", b.State())
	}
	if !b.CanExecute() {
		t.Fatal("CanExecute = false while closed")
	}

	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("state after 3 failures = %v, want open", b.State())
	}
	if b.CanExecute() {
		t.Fatal("CanExecute = true while open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	if got := b.Failures(); got != 0 {
		t.Fatalf("Failures = %d, want 0", got)
	}

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed (count was reset)", b.State())
	}
}

func TestBreakerHalfOpensAfterTimeout(t *testing.T) {
	b, clk := testBreaker(1, time.Minute)

	b.RecordFailure()
	if b.CanExecute() {
		t.Fatal("CanExecute = true immediately after opening")
	}

	clk.advance(59 * time.Second)
	if b.CanExecute() {
		t.Fatal("CanExecute = true before reset timeout")
	}

	clk.advance(1 * time.Second)
	if !b.CanExecute() {
		t.Fatal("CanExecute = false after reset timeout")
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
}

func TestBreakerClosesOnHalfOpenSuccess(t *testing.T) {
	b, clk := testBreaker(2, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	clk.advance(time.Minute)
	if !b.CanExecute() {
		t.Fatal("CanExecute = false after reset timeout")
	}

	b.RecordSuccess()
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if got := b.Failures(); got != 0 {
		t.Errorf("Failures = %d, want 0 after closing", got)
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b, clk := testBreaker(2, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	clk.advance(time.Minute)
	if !b.CanExecute() {
		t.Fatal("CanExecute = false after reset timeout")
	}

	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("state = %v, want open after half-open failure", b.State())
	}
	if b.CanExecute() {
		t.Fatal("CanExecute = true after reopening")
	}

	// The failure restarted the reset window.
	clk.advance(time.Minute)
	if !b.CanExecute() {
		t.Fatal("CanExecute = false after second reset timeout")
	}
}

func TestBreakerStateString(t *testing.T) {
	cases := []struct {
		state CircuitState
		want  string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("%d.String() = %q, want %q", c.state, got, c.want)
		}
	}
}
