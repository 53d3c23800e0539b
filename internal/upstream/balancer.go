// Package upstream models a named set of backends, its load-balancing
// policy, and its connection pool (spec §3 "Upstream", §4.6).
package upstream

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/titan-gateway/titan/internal/domain"
)

var ErrNoBackendsAvailable = errors.New("upstream: no backend available")

// Policy selects one backend from the available set. hint is an opaque
// client key (e.g. client IP) used by sticky policies (spec §4.6 "IP-hash").
type Policy interface {
	Name() string
	Select(ctx context.Context, backends []*domain.Backend, hint string) (*domain.Backend, error)
}

// available filters to backends whose status permits routing and whose
// breaker (if any) currently allows requests; callers supply the breaker
// check since breakers are owned by the Upstream, not the policy.
func available(backends []*domain.Backend, allow func(*domain.Backend) bool) []*domain.Backend {
	out := make([]*domain.Backend, 0, len(backends))
	for _, b := range backends {
		if !b.Status().Available() {
			continue
		}
		if allow != nil && !allow(b) {
			continue
		}
		if !b.UnderCapacity() {
			continue
		}
		out = append(out, b)
	}
	return out
}

// RoundRobin cycles through the available set with an atomic counter,
// grounded on the teacher's balancer.RoundRobinSelector.
type RoundRobin struct {
	counter atomic.Uint64
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (r *RoundRobin) Name() string { return "round_robin" }

func (r *RoundRobin) Select(_ context.Context, backends []*domain.Backend, _ string) (*domain.Backend, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackendsAvailable
	}
	idx := r.counter.Add(1) - 1
	return backends[idx%uint64(len(backends))], nil
}

// LeastConnections picks the backend with the fewest active connections,
// tracked directly on domain.Backend so no side map is needed.
type LeastConnections struct{}

func NewLeastConnections() *LeastConnections { return &LeastConnections{} }

func (l *LeastConnections) Name() string { return "least_connections" }

func (l *LeastConnections) Select(_ context.Context, backends []*domain.Backend, _ string) (*domain.Backend, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackendsAvailable
	}
	best := backends[0]
	for _, b := range backends[1:] {
		if b.ActiveConnections() < best.ActiveConnections() {
			best = b
		}
	}
	return best, nil
}

// Random picks uniformly over the available set.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Name() string { return "random" }

func (r *Random) Select(_ context.Context, backends []*domain.Backend, _ string) (*domain.Backend, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackendsAvailable
	}
	r.mu.Lock()
	idx := r.rng.Intn(len(backends))
	r.mu.Unlock()
	return backends[idx], nil
}

// IPHash selects a stable index from a hash of the client hint, giving the
// same client the same backend as long as the available set is unchanged.
type IPHash struct{}

func NewIPHash() *IPHash { return &IPHash{} }

func (h *IPHash) Name() string { return "ip_hash" }

func (h *IPHash) Select(_ context.Context, backends []*domain.Backend, hint string) (*domain.Backend, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackendsAvailable
	}
	sum := fnv.New32a()
	_, _ = sum.Write([]byte(hint))
	idx := sum.Sum32() % uint32(len(backends))
	return backends[idx], nil
}

// WeightedRoundRobin implements Nginx's smooth-weighted algorithm (spec
// §4.6 and §9 permit either virtual-pool expansion or a smooth-weighted
// variant; this is the smooth-weighted one, chosen to avoid materialising
// a virtual pool per selection).
type WeightedRoundRobin struct {
	mu      sync.Mutex
	current map[uint32]int
}

func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{current: make(map[uint32]int)}
}

func (w *WeightedRoundRobin) Name() string { return "weighted_round_robin" }

func (w *WeightedRoundRobin) Select(_ context.Context, backends []*domain.Backend, _ string) (*domain.Backend, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackendsAvailable
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	total := 0
	var best *domain.Backend
	bestWeight := 0
	for _, b := range backends {
		weight := b.Weight
		if weight <= 0 {
			weight = 1
		}
		total += weight
		cur := w.current[b.ID] + weight
		w.current[b.ID] = cur
		if best == nil || cur > bestWeight {
			best = b
			bestWeight = cur
		}
	}
	w.current[best.ID] -= total
	return best, nil
}
