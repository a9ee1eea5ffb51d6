package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/tabcaption/pkg/provider/stt"
)

// Regions implements [stt.Provider] by failing over between realtime
// endpoints. Session start errors that come from the service itself (an
// unsupported language, an exhausted quota) are returned at once. Transport
// failures move on to the next region.
type Regions struct {
	group *Group[stt.Provider]
}

var _ stt.Provider = (*Regions)(nil)

// NewRegions creates an empty [Regions]. cfg tunes each region's breaker;
// its Trips field is overridden.
func NewRegions(cfg CircuitBreakerConfig) *Regions {
	cfg.Trips = sessionTrips
	return &Regions{group: NewGroup[stt.Provider](cfg)}
}

// Add registers a provider for the named region. Regions are tried in the
// order they are added.
func (r *Regions) Add(name string, p stt.Provider) {
	r.group.Add(name, p)
}

// States reports each region's breaker state.
func (r *Regions) States() map[string]State { return r.group.States() }

// StartStream opens a session against the first healthy region.
func (r *Regions) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Call(r.group, func(_ string, p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

func sessionTrips(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, stt.ErrNoCredential) {
		return false
	}
	var se *stt.ServiceError
	if errors.As(err, &se) {
		return se.Kind == stt.ConnectionFailure
	}
	return true
}
