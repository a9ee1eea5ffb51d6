package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/tabcaption/pkg/provider/stt"
)

// TokenGuard wraps a [stt.TokenSource] with a [CircuitBreaker]. Rejections
// of the API key itself (401, 403) do not count against the endpoint;
// rate limiting and server errors do.
type TokenGuard struct {
	src     stt.TokenSource
	breaker *CircuitBreaker
}

var _ stt.TokenSource = (*TokenGuard)(nil)

// NewTokenGuard returns a [TokenGuard] around src. cfg.Trips is overridden.
func NewTokenGuard(src stt.TokenSource, cfg CircuitBreakerConfig) *TokenGuard {
	if cfg.Name == "" {
		cfg.Name = "token-exchange"
	}
	cfg.Trips = tokenTrips
	return &TokenGuard{src: src, breaker: NewCircuitBreaker(cfg)}
}

// Exchange forwards to the wrapped source unless the breaker is open. An
// open breaker surfaces as a [stt.ServiceError] so callers show it like any
// other outage.
func (g *TokenGuard) Exchange(ctx context.Context, apiKey string) (stt.Token, error) {
	var tok stt.Token
	err := g.breaker.Execute(func() error {
		var err error
		tok, err = g.src.Exchange(ctx, apiKey)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return stt.Token{}, &stt.ServiceError{
			Kind:   stt.ConnectionFailure,
			Reason: "Transcription service unavailable. Please try again shortly.",
			Err:    fmt.Errorf("resilience: token exchange: %w", err),
		}
	}
	return tok, err
}

// State reports the breaker state, for readiness checks.
func (g *TokenGuard) State() State { return g.breaker.State() }

// RetryAfter is the remaining open time, or zero when calls are allowed.
func (g *TokenGuard) RetryAfter() time.Duration {
	cb := g.breaker
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	if d := cb.resetTimeout - cb.now().Sub(cb.openedAt); d > 0 {
		return d
	}
	return 0
}

func tokenTrips(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, stt.ErrNoCredential) {
		return false
	}
	var ce *stt.CredentialError
	if errors.As(err, &ce) {
		return ce.StatusCode == 429 || ce.StatusCode >= 500
	}
	return true
}
