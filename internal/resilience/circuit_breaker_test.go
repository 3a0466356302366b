package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %s", cb.GetState())
	}

	if !cb.allowRequest() {
		t.Error("Expected to allow request in Closed state")
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be Closed after 2 failures")
	}

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after 3 failures")
	}

	err := cb.Call(context.Background(), func(ctx context.Context) error {
		t.Error("fn must not run while the circuit is open")
		return nil
	}, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenLimitsRequests(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 50*time.Millisecond)
	cb.RecordResult(false)

	time.Sleep(80 * time.Millisecond)

	allowed := 0
	for i := 0; i < 5; i++ {
		if cb.allowRequest() {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("Expected 3 requests admitted in half-open, got %d", allowed)
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected HalfOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_CloseAfterSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 50*time.Millisecond)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(false)

	time.Sleep(80 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := cb.Call(context.Background(), func(ctx context.Context) error { return nil }, nil); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to be Closed after successes in HalfOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_IgnoredFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)
	clientErr := errors.New("bad request")

	for i := 0; i < 3; i++ {
		err := cb.Call(context.Background(), func(ctx context.Context) error { return clientErr },
			func(err error) bool { return !errors.Is(err, clientErr) })
		if !errors.Is(err, clientErr) {
			t.Fatalf("Expected client error, got %v", err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected circuit to stay Closed for ignored failures, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	cb := NewCircuitBreaker("synthesis", 1, time.Minute)

	var mu sync.Mutex
	var transitions []string
	cb.OnStateChange(func(name string, from, to CircuitState) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	})

	cb.RecordResult(false)
	cb.Reset()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"synthesis:closed->open", "synthesis:open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("Expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker("test", 10, time.Minute)
	cb.RecordResult(true)
	cb.RecordResult(false)

	state, requests, failures, rate := cb.GetStats()
	if state != StateClosed || requests != 2 || failures != 1 || rate != 50.0 {
		t.Errorf("Unexpected stats: state=%s requests=%d failures=%d rate=%f", state, requests, failures, rate)
	}
}
