package redis

import (
	"errors"
	"testing"
	"time"
)

var errWrite = errors.New("write failed")

func TestCircuitBreaker_TripsAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := cb.Do(func() error { return errWrite }); !errors.Is(err, errWrite) {
			t.Fatalf("call %d: got %v, want errWrite", i, err)
		}
	}
	if cb.Current() != StateOpen {
		t.Fatalf("state after 3 failures: got %v, want open", cb.Current())
	}

	// Open breaker rejects without invoking fn
	called := false
	err := cb.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("got %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn must not run while the breaker is open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.Do(func() error { return errWrite })
	cb.Do(func() error { return errWrite })
	cb.Do(func() error { return nil })
	cb.Do(func() error { return errWrite })
	cb.Do(func() error { return errWrite })

	if cb.Current() != StateClosed {
		t.Errorf("non-consecutive failures must not trip: got %v", cb.Current())
	}
}

func TestCircuitBreaker_ProbeAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.Do(func() error { return errWrite })
	if cb.Current() != StateOpen {
		t.Fatalf("got %v, want open", cb.Current())
	}

	time.Sleep(20 * time.Millisecond)

	// Failed probe reopens
	if err := cb.Do(func() error { return errWrite }); !errors.Is(err, errWrite) {
		t.Fatalf("probe: got %v, want errWrite", err)
	}
	if cb.Current() != StateOpen {
		t.Errorf("after failed probe: got %v, want open", cb.Current())
	}

	time.Sleep(20 * time.Millisecond)

	// Successful probe closes
	if err := cb.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.Current() != StateClosed {
		t.Errorf("after successful probe: got %v, want closed", cb.Current())
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	var transitions []string
	cb.OnStateChange = func(from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}

	cb.Do(func() error { return errWrite })
	time.Sleep(20 * time.Millisecond)
	cb.Do(func() error { return nil })

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions: got %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: got %q, want %q", i, transitions[i], want[i])
		}
	}
}
