package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func TestCircuitBreakerSuccess(t *testing.T) {
	config := DefaultConfig("broker")
	config.OnStateChange = nil
	cb := New(config)

	result, err := cb.Execute(func() (any, error) { return "success", nil })
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result != "success" {
		t.Fatalf("expected 'success', got %v", result)
	}
}

func TestCircuitBreakerTripsOpenAfterConsecutiveFailures(t *testing.T) {
	config := DefaultConfig("broker")
	config.OnStateChange = nil
	config.MaxFailures = 2
	cb := New(config)

	expectedErr := errors.New("broker timeout")
	for i := 0; i < 5; i++ {
		if _, err := cb.Execute(func() (any, error) { return nil, expectedErr }); err == nil {
			t.Error("expected error, got nil")
		}
	}

	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("expected state Open, got %v", cb.State())
	}
}

func TestCircuitBreakerTransitionsThroughHalfOpen(t *testing.T) {
	config := DefaultConfig("broker")
	config.MaxFailures = 2
	config.Timeout = 50 * time.Millisecond

	var stateChanges []string
	config.OnStateChange = func(name string, from, to gobreaker.State) {
		stateChanges = append(stateChanges, to.String())
	}

	cb := New(config)
	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("expected initial state Closed, got %v", cb.State())
	}

	for i := 0; i < 5; i++ {
		cb.Execute(func() (any, error) { return nil, errors.New("fail") })
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("expected state Open, got %v", cb.State())
	}

	time.Sleep(80 * time.Millisecond)
	cb.Execute(func() (any, error) { return "recovered", nil })

	if len(stateChanges) == 0 {
		t.Error("expected at least one recorded state change")
	}
}

func TestCircuitBreakerExecuteWithContextRejectsCancelledContext(t *testing.T) {
	config := DefaultConfig("broker")
	config.OnStateChange = nil
	cb := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := cb.ExecuteWithContext(ctx, func() (any, error) { return "never", nil }); err == nil {
		t.Fatal("expected context cancellation error")
	}
}
