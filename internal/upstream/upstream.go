package upstream

import (
	"context"
	"time"

	"github.com/titan-gateway/titan/internal/breaker"
	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/metrics"
	"github.com/titan-gateway/titan/internal/pool"
)

// RetryConfig is the per-upstream retry policy referenced in spec §3/§4.6
// ("Reconnection policy").
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
}

// Upstream is a named set of backends sharing a load-balancing policy, a
// connection pool, and per-backend circuit breakers (spec §3).
type Upstream struct {
	Name     string
	Backends []*domain.Backend
	Policy   Policy
	Pool     *pool.Pool
	Retry    RetryConfig

	breakers map[uint32]*breaker.Breaker
}

// Option is a functional option on Upstream; New does not accept any.
type Option func(*Upstream)

func New(name string, backends []*domain.Backend, policy Policy, poolSize int, retry RetryConfig, breakerCfg breaker.Config, flags *breaker.CatastrophicFlags, sink metrics.Sink) *Upstream {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	u := &Upstream{
		Name:     name,
		Backends: backends,
		Policy:   policy,
		Pool:     pool.New(poolSize),
		Retry:    retry,
		breakers: make(map[uint32]*breaker.Breaker, len(backends)),
	}
	for _, b := range backends {
		id := b.ID
		br := breaker.New(breakerCfg, func(set bool) {
			if flags != nil {
				flags.Set(id, set)
			}
		})
		br.SetOnTransition(func(from, to breaker.State) {
			sink.BreakerTransition(name, id, from.String(), to.String())
		})
		u.breakers[b.ID] = br
	}
	return u
}

func (u *Upstream) Breaker(backendID uint32) *breaker.Breaker {
	return u.breakers[backendID]
}

// Select returns a usable backend, honouring both status and circuit
// breaker admission (spec §4.6 "Available").
func (u *Upstream) Select(ctx context.Context, clientHint string) (*domain.Backend, error) {
	now := time.Now()
	candidates := available(u.Backends, func(b *domain.Backend) bool {
		br, ok := u.breakers[b.ID]
		return !ok || br.Allow(now)
	})
	if len(candidates) == 0 {
		return nil, ErrNoBackendsAvailable
	}
	return u.Policy.Select(ctx, candidates, clientHint)
}

func (u *Upstream) RecordResult(backendID uint32, ok bool) {
	now := time.Now()
	br, has := u.breakers[backendID]
	if !has {
		return
	}
	if ok {
		br.RecordSuccess(now)
	} else {
		br.RecordFailure(now)
	}
}

func NewPolicy(name string, seed int64) Policy {
	switch name {
	case "least_connections":
		return NewLeastConnections()
	case "random":
		return NewRandom(seed)
	case "ip_hash":
		return NewIPHash()
	case "weighted_round_robin", "weighted":
		return NewWeightedRoundRobin()
	default:
		return NewRoundRobin()
	}
}
