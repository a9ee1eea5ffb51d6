package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [Group] failed or had an
// open breaker.
var ErrAllFailed = errors.New("resilience: all endpoints failed")

// member pairs a value with its breaker.
type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Group holds interchangeable values tried in registration order, each behind
// its own [CircuitBreaker]. Members are added before first use.
type Group[T any] struct {
	members []member[T]
	cfg     CircuitBreakerConfig
}

// NewGroup creates an empty [Group]. cfg is the template for each member's
// breaker; its Name is replaced by the member name.
func NewGroup[T any](cfg CircuitBreakerConfig) *Group[T] {
	return &Group[T]{cfg: cfg}
}

// Add registers value under name.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cfg),
	})
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// States reports each member's breaker state keyed by name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Call runs fn against each member in order until one succeeds. An error the
// breaker does not count as tripping (see CircuitBreakerConfig.Trips) is
// returned immediately because another endpoint would fail the same way.
// Package-level because methods cannot take type parameters.
func Call[T any, R any](g *Group[T], fn func(name string, v T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	if len(g.members) == 0 {
		return zero, fmt.Errorf("%w: no endpoints registered", ErrAllFailed)
	}
	for i := range g.members {
		m := &g.members[i]
		var result R
		err := m.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(m.name, m.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping endpoint, circuit open", "endpoint", m.name)
			if lastErr == nil {
				lastErr = err
			}
			continue
		}
		if !m.breaker.trips(err) {
			return zero, err
		}
		lastErr = err
		slog.Warn("endpoint failed, trying next", "endpoint", m.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
