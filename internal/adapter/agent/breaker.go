package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"vigil/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 60 * time.Second
	defaultCBInterval    time.Duration = 10 * time.Minute
)

// BreakerConfig configures the circuit breaker behavior.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failed invocations before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration
}

// CircuitBreakerRunner wraps an AgentRunner with circuit breaker protection.
// Unlike a request/response client, an invocation only fails once its stream
// ends with an error element, so the breaker spans the whole stream.
type CircuitBreakerRunner struct {
	inner   domain.AgentRunner
	breaker *gobreaker.CircuitBreaker[struct{}]
}

var _ domain.AgentRunner = (*CircuitBreakerRunner)(nil)

// NewCircuitBreakerRunner wraps inner with a circuit breaker.
// Zero-valued fields in cfg fall back to defaults.
func NewCircuitBreakerRunner(inner domain.AgentRunner, cfg BreakerConfig, logger *slog.Logger) *CircuitBreakerRunner {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "agent:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Shutdown cancellation is not the agent's fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &CircuitBreakerRunner{inner: inner, breaker: cb}
}

func (r *CircuitBreakerRunner) Name() string { return r.inner.Name() }

// State returns the current circuit breaker state.
func (r *CircuitBreakerRunner) State() gobreaker.State {
	return r.breaker.State()
}

// Invoke routes the invocation through the breaker. While the circuit is
// open it fails fast with domain.ErrCircuitOpen.
func (r *CircuitBreakerRunner) Invoke(ctx context.Context, req domain.AgentRequest) (<-chan domain.StreamElement, error) {
	out := make(chan domain.StreamElement, 16)
	started := make(chan error, 1)

	go func() {
		defer close(out)
		_, err := r.breaker.Execute(func() (struct{}, error) {
			ch, err := r.inner.Invoke(ctx, req)
			started <- err
			if err != nil {
				return struct{}{}, err
			}
			var streamErr error
			for el := range ch {
				if el.Kind == domain.ElementError {
					streamErr = el.Err
				}
				out <- el
			}
			if streamErr == nil && ctx.Err() != nil {
				streamErr = ctx.Err()
			}
			return struct{}{}, streamErr
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			started <- fmt.Errorf("runner %q: %w: %v", r.inner.Name(), domain.ErrCircuitOpen, err)
		}
	}()

	if err := <-started; err != nil {
		return nil, err
	}
	return out, nil
}
