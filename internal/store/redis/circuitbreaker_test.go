package redis

import (
	"errors"
	"testing"
	"time"
)

var errWrite = errors.New("write failed")

func trip(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := cb.Execute(func() error { return errWrite }); !errors.Is(err, errWrite) {
			t.Fatalf("failure %d: got %v, want errWrite", i, err)
		}
	}
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	cb := NewCircuitBreaker(3, 40*time.Millisecond)

	if got := cb.CurrentState(); got != StateClosed {
		t.Fatalf("initial state = %v, want Closed", got)
	}

	// Two failures stay under the threshold.
	trip(t, cb, 2)
	if got := cb.CurrentState(); got != StateClosed {
		t.Fatalf("state after 2 failures = %v, want Closed", got)
	}

	// The third failure opens the breaker and further calls are
	// rejected without invoking the function.
	trip(t, cb, 1)
	if got := cb.CurrentState(); got != StateOpen {
		t.Fatalf("state after 3 failures = %v, want Open", got)
	}
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker: got %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("open breaker must not invoke the function")
	}

	// After the reset timeout a single probe closes it again.
	time.Sleep(50 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := cb.CurrentState(); got != StateClosed {
		t.Fatalf("state after successful probe = %v, want Closed", got)
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 40*time.Millisecond)
	trip(t, cb, 2)

	time.Sleep(50 * time.Millisecond)
	trip(t, cb, 1)

	if got := cb.CurrentState(); got != StateOpen {
		t.Fatalf("state after failed probe = %v, want Open", got)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Second)

	trip(t, cb, 2)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("success: %v", err)
	}

	// Two fresh failures must not reach the original threshold.
	trip(t, cb, 2)
	if got := cb.CurrentState(); got != StateClosed {
		t.Fatalf("state = %v, want Closed after counter reset", got)
	}
}

func TestCircuitBreaker_StateChangeNotifications(t *testing.T) {
	var got []State
	cb := NewCircuitBreaker(1, 40*time.Millisecond)
	cb.OnStateChange = func(from, to State) {
		got = append(got, to)
	}

	trip(t, cb, 1)
	time.Sleep(50 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
