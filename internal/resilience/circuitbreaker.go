// Package resilience wraps outbound broker calls with a circuit breaker
// so a failing broker session degrades gracefully instead of queueing
// timeouts behind every subsequent order.
package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"ironcondor/internal/observability"
)

// Config configures one CircuitBreaker instance.
type Config struct {
	Name          string
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration
	MaxFailures   uint32
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultConfig returns the broker-gateway defaults: trip after 5
// consecutive failures (or a 60% failure ratio over at least 3 requests),
// half-open after 30s, allow 3 probes per half-open window.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		MaxFailures: 5,
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.LogEvent(context.Background(), "warn", "circuit_breaker_state_change", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}
}

// CircuitBreaker wraps a gobreaker.CircuitBreaker[any] with the project's
// logging and a named identity for diagnostics.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker[any]
	name   string
	config Config
}

// New creates a CircuitBreaker from config.
func New(config Config) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && (counts.ConsecutiveFailures >= config.MaxFailures || failureRatio >= 0.6)
		},
		OnStateChange: config.OnStateChange,
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker[any](settings), name: config.Name, config: config}
}

// Execute runs fn with circuit-breaker protection.
func (cb *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	result, err := cb.cb.Execute(fn)
	if err != nil {
		return nil, fmt.Errorf("circuit breaker %s: %w", cb.name, err)
	}
	return result, nil
}

// ExecuteWithContext aborts before invoking fn if ctx is already done.
func (cb *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cb.Execute(fn)
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() gobreaker.State { return cb.cb.State() }

// Counts returns the current request/failure counters.
func (cb *CircuitBreaker) Counts() gobreaker.Counts { return cb.cb.Counts() }

// Name returns the breaker's identity.
func (cb *CircuitBreaker) Name() string { return cb.name }
