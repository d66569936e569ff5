package oauth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitBreaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// CircuitBreaker protects a provider API from calls while it is failing.
type CircuitBreaker interface {
	// Call executes fn if the circuit allows it, otherwise it returns
	// ErrCircuitOpen without calling fn.
	Call(ctx context.Context, fn func() error) error
	State() string
	Stats() CircuitStats
	Reset()
}

// CircuitStats represents circuit breaker statistics
type CircuitStats struct {
	State               string    `json:"state"`
	Requests            int64     `json:"requests"`
	TotalFailures       int64     `json:"total_failures"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	NextRetryTime       time.Time `json:"next_retry_time,omitzero"`
}

// CircuitBreakerConfig configures the circuit breaker
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in half-open before closing
	SuccessThreshold int
	// Timeout is how long to wait before trying half-open state
	Timeout time.Duration
	// MaxHalfOpenRequests is the maximum number of requests in half-open state
	MaxHalfOpenRequests int
	// OnStateChange is called when the circuit changes state
	OnStateChange func(from, to string)
}

// DefaultCircuitBreaker is a consecutive-failure circuit breaker.
type DefaultCircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu                   sync.Mutex
	state                string
	requests             int64
	totalFailures        int64
	consecutiveFailures  int64
	consecutiveSuccesses int64
	halfOpenInFlight     int
	nextRetryTime        time.Time
	// generation changes with every state transition.
	generation uint64
}

// admission is the state a call was let through in.
type admission struct {
	generation uint64
	halfOpen   bool
}

// NewDefaultCircuitBreaker creates a new circuit breaker with default settings
func NewDefaultCircuitBreaker(config CircuitBreakerConfig) *DefaultCircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxHalfOpenRequests <= 0 {
		config.MaxHalfOpenRequests = 1
	}

	return &DefaultCircuitBreaker{config: config, now: time.Now, state: StateClosed}
}

// Call returns ctx.Err() without running fn when ctx is already done. A
// call cancelled by its own context is not counted as a failure.
func (cb *DefaultCircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	adm, err := cb.before()
	if err != nil {
		return err
	}
	err = fn()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		cb.release(adm)
		return err
	}
	cb.after(adm, err)
	return err
}

func (cb *DefaultCircuitBreaker) before() (admission, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.nextRetryTime) {
			return admission{}, ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.consecutiveSuccesses = 0
		cb.halfOpenInFlight = 0
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.MaxHalfOpenRequests {
			return admission{}, ErrCircuitOpen
		}
		cb.halfOpenInFlight++
		return admission{generation: cb.generation, halfOpen: true}, nil
	}
	return admission{generation: cb.generation}, nil
}

// release gives back a half-open slot without recording a result.
func (cb *DefaultCircuitBreaker) release(adm admission) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if adm.halfOpen && adm.generation == cb.generation {
		cb.halfOpenInFlight--
	}
}

func (cb *DefaultCircuitBreaker) after(adm admission, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	if err != nil {
		cb.totalFailures++
	}
	// The circuit moved on while the call ran; its result belongs to a
	// state that no longer exists.
	if adm.generation != cb.generation {
		return
	}
	if adm.halfOpen {
		cb.halfOpenInFlight--
	}

	if err != nil {
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
		if adm.halfOpen || cb.consecutiveFailures >= int64(cb.config.FailureThreshold) {
			cb.setState(StateOpen)
			cb.nextRetryTime = cb.now().Add(cb.config.Timeout)
		}
		return
	}

	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses++
	if adm.halfOpen && cb.consecutiveSuccesses >= int64(cb.config.SuccessThreshold) {
		cb.setState(StateClosed)
	}
}

func (cb *DefaultCircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *DefaultCircuitBreaker) Stats() CircuitStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := CircuitStats{
		State:               cb.state,
		Requests:            cb.requests,
		TotalFailures:       cb.totalFailures,
		ConsecutiveFailures: cb.consecutiveFailures,
	}
	if cb.state == StateOpen {
		stats.NextRetryTime = cb.nextRetryTime
	}
	return stats
}

// Reset closes the circuit and clears the counters.
func (cb *DefaultCircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.requests, cb.totalFailures = 0, 0
	cb.consecutiveFailures, cb.consecutiveSuccesses = 0, 0
	cb.halfOpenInFlight = 0
	cb.nextRetryTime = time.Time{}
}

// setState must be called with mu held.
func (cb *DefaultCircuitBreaker) setState(to string) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.generation++
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}
