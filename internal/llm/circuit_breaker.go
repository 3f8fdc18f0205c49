package llm

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while a provider's breaker is rejecting
// calls. Callers treat it like any other provider failure; for the
// archive retry path that means backoff keeps probing until the provider
// recovers.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig tunes when a provider is declared down and how it
// is allowed back.
type CircuitBreakerConfig struct {
	// TripAfter is how many consecutive failures mark the provider down.
	TripAfter uint32

	// Cooldown is how long calls are rejected before a probe is allowed.
	Cooldown time.Duration

	// ProbeBudget is how many trial calls may run once the cooldown
	// expires; a failure among them reopens the breaker.
	ProbeBudget uint32
}

// CircuitBreaker guards one provider's HTTP surface. A provider outage
// otherwise turns every turn into a slow timeout; tripping fast keeps
// the coordinator responsive and lets /stop and control commands work
// while the provider is down.
type CircuitBreaker struct {
	provider string
	breaker  *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a breaker for the named provider with the
// defaults used by all clients: down after 3 straight failures, 30s
// cooldown, 2 probe calls to close again.
func NewCircuitBreaker(provider string) *CircuitBreaker {
	return NewCircuitBreakerWithConfig(provider, CircuitBreakerConfig{
		TripAfter:   3,
		Cooldown:    30 * time.Second,
		ProbeBudget: 2,
	})
}

// NewCircuitBreakerWithConfig creates a breaker with explicit tuning.
func NewCircuitBreakerWithConfig(provider string, config CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{provider: provider}
	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: config.ProbeBudget,
		Timeout:     config.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.TripAfter
		},
		IsSuccessful: func(err error) bool {
			// Caller-side cancellation says nothing about provider health.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				log.Printf("WARNING: llm: %s circuit opened, rejecting calls for %s", name, config.Cooldown)
			case gobreaker.StateClosed:
				log.Printf("llm: %s circuit closed, provider recovered", name)
			}
		},
	})
	return cb
}

// Execute runs fn unless the breaker is open, in which case it returns
// ErrCircuitOpen without calling the provider. A context already
// cancelled is reported as such and never counted against the provider.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := cb.breaker.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

// State reports "closed", "open" or "half-open".
func (cb *CircuitBreaker) State() string {
	switch cb.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
