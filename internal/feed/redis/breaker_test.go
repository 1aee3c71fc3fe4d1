package redis

import (
	"errors"
	"testing"
	"time"
)

var errDown = errors.New("down")

// fakeClock is a manually advanced clock for breaker tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(max int) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	b := NewBreaker(max, 10*time.Second)
	b.now = clk.now
	return b, clk
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3)

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errDown }); err != errDown {
			t.Fatalf("call %d: got %v, want errDown", i, err)
		}
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("got %v, want ErrBreakerOpen", err)
	}
	if called {
		t.Error("fn ran while breaker open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(2)
	b.Do(func() error { return errDown })
	b.Do(func() error { return nil })
	b.Do(func() error { return errDown })
	if b.State() != BreakerClosed {
		t.Errorf("state = %v, want closed (failures were not consecutive)", b.State())
	}
}

func TestBreaker_ProbeClosesOnSuccess(t *testing.T) {
	b, clk := newTestBreaker(1)
	var transitions []string
	b.OnStateChange = func(from, to BreakerState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	b.Do(func() error { return errDown })
	clk.advance(11 * time.Second)
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("state = %v, want closed", b.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_ProbeReopensOnFailure(t *testing.T) {
	b, clk := newTestBreaker(1)
	b.Do(func() error { return errDown })
	clk.advance(11 * time.Second)
	b.Do(func() error { return errDown })

	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	clk.advance(5 * time.Second)
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("cooldown restarted by failed probe: got %v", err)
	}
}

func TestBreaker_RejectsDuringProbe(t *testing.T) {
	b, clk := newTestBreaker(1)
	b.Do(func() error { return errDown })
	clk.advance(11 * time.Second)

	var inner error
	b.Do(func() error {
		inner = b.Do(func() error { return nil })
		return nil
	})
	if !errors.Is(inner, ErrBreakerOpen) {
		t.Errorf("concurrent call during probe: got %v, want ErrBreakerOpen", inner)
	}
}
