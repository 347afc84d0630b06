package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half_open"
	StateOpen     State = "open"
)

// Gauge encodes the state for metrics: closed=0, half_open=1, open=2.
func (s State) Gauge() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	}
	return 0
}

type BreakerConfig struct {
	Timeout          time.Duration // hard timeout per protected call
	FailureThreshold int           // consecutive failures to open circuit
	RecoveryTimeout  time.Duration // how long to stay open before half-open
	HalfOpenMaxCalls int           // allow N trial calls in half-open
}

// Breaker guards one downstream. Half-open admits limited probes; a probe
// failure reopens immediately, a probe success closes.
type Breaker struct {
	cfg BreakerConfig
	mu  sync.Mutex

	state State

	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
	forced              bool
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
	}
}

// Do runs fn under the breaker. When the circuit rejects the call it
// returns ErrCircuitOpen without invoking fn; the caller substitutes its
// fallback.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	err := fn(callCtx)

	b.afterRequest(err)

	return err
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.forced {
			return false
		}
		if time.Since(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			b.halfOpenInFlight = 1
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxCalls {
			return false
		}
		b.halfOpenInFlight++
		return true

	default:
		return true
	}
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.forced {
		return
	}

	if b.state == StateHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	if err == nil {
		b.consecutiveFailures = 0
		b.state = StateClosed
		return
	}

	b.consecutiveFailures++

	// a failed half-open probe reopens immediately
	if b.state == StateHalfOpen {
		b.open()
		return
	}

	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.open()
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = time.Now()
}

// ForceOpen pins the breaker open until ForceClose; the recovery timeout
// does not apply while forced.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced = true
	b.open()
}

func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced = false
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.halfOpenInFlight = 0
}

type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
	Forced              bool      `json:"forced"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		Forced:              b.forced,
	}
}
