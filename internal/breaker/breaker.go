// Package breaker implements the per-backend circuit breaker of spec §4.7:
// a sliding window of failure timestamps drives Closed -> Open -> HalfOpen
// -> Closed transitions, with lifetime counters kept atomic for
// cross-worker observability.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"
)

type State uint8

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config is the per-backend breaker policy (spec §3, §4.7).
type Config struct {
	FailureThreshold      int
	SuccessThreshold      int
	WindowMs              int
	TimeoutMs             int
	CatastrophicThreshold int
	EnableGlobalHints     bool
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:      5,
		SuccessThreshold:      2,
		WindowMs:              10_000,
		TimeoutMs:             30_000,
		CatastrophicThreshold: 20,
		EnableGlobalHints:     true,
	}
}

// Breaker is one circuit breaker instance, owned by a single backend.
// window mutation is documented (spec §5) as owning-worker-only; the mutex
// here makes the type safe to share across goroutines in tests and in any
// deployment that doesn't pin workers to OS threads, without changing the
// single-writer semantics the spec describes.
type Breaker struct {
	cfg Config

	mu               sync.Mutex
	window           []time.Time
	state            atomic.Uint32
	transitionAt     atomic.Int64
	consecutiveGood  atomic.Int32
	probeInFlight    atomic.Bool

	totalFailures    atomic.Uint64
	totalSuccesses   atomic.Uint64
	totalRejections  atomic.Uint64
	totalTransitions atomic.Uint64

	onCatastrophic func(bool)
	onTransition   func(from, to State)
}

// SetOnTransition installs a callback invoked after every state change with
// the old and new state (spec §11 breaker-transition counters). It is
// separate from onCatastrophic, which only fires on the global-hint
// threshold crossing, not on every Closed/Open/HalfOpen move.
func (b *Breaker) SetOnTransition(fn func(from, to State)) {
	b.onTransition = fn
}

// New creates a Breaker in the Closed state. onCatastrophic, if non-nil, is
// invoked with true when the window exceeds CatastrophicThreshold and with
// false when the breaker recovers to Closed (spec §4.7 "Catastrophic hint").
func New(cfg Config, onCatastrophic func(bool)) *Breaker {
	b := &Breaker{cfg: cfg, onCatastrophic: onCatastrophic}
	b.state.Store(uint32(Closed))
	b.transitionAt.Store(time.Now().UnixNano())
	return b
}

func (b *Breaker) State() State {
	return State(b.state.Load())
}

func (b *Breaker) setState(s State) {
	old := State(b.state.Load())
	b.state.Store(uint32(s))
	b.transitionAt.Store(time.Now().UnixNano())
	b.totalTransitions.Add(1)
	if b.onTransition != nil && old != s {
		b.onTransition(old, s)
	}
}

// Allow decides whether a request may proceed. Closed always allows; Open
// rejects until timeout_ms has elapsed since the Open transition, then
// admits a single probe (guarded by probeInFlight) and flips to HalfOpen;
// HalfOpen admits every call.
func (b *Breaker) Allow(now time.Time) bool {
	switch b.State() {
	case Closed:
		return true
	case HalfOpen:
		return true
	case Open:
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.State() != Open {
			return true
		}
		transitionAt := time.Unix(0, b.transitionAt.Load())
		if now.Sub(transitionAt) < time.Duration(b.cfg.TimeoutMs)*time.Millisecond {
			b.totalRejections.Add(1)
			return false
		}
		if !b.probeInFlight.CompareAndSwap(false, true) {
			b.totalRejections.Add(1)
			return false
		}
		b.setState(HalfOpen)
		b.consecutiveGood.Store(0)
		return true
	default:
		return true
	}
}

// RecordFailure appends a failure timestamp to the sliding window, evicts
// entries older than window_ms, and transitions Closed->Open if the window
// has reached failure_threshold. In HalfOpen any failure transitions
// immediately back to Open.
func (b *Breaker) RecordFailure(now time.Time) {
	b.totalFailures.Add(1)

	switch b.State() {
	case HalfOpen:
		b.mu.Lock()
		b.window = b.window[:0]
		b.probeInFlight.Store(false)
		b.setState(Open)
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.window = append(b.window, now)
	b.evictStale(now)

	if b.cfg.EnableGlobalHints && b.onCatastrophic != nil && len(b.window) > b.cfg.CatastrophicThreshold {
		b.onCatastrophic(true)
	}

	if b.State() == Closed && len(b.window) >= b.cfg.FailureThreshold {
		b.setState(Open)
	}
}

// RecordSuccess increments the consecutive-success counter in HalfOpen;
// reaching success_threshold closes the breaker and clears the window. In
// Closed it is a pure counter bump (kept for completeness/observability).
func (b *Breaker) RecordSuccess(now time.Time) {
	b.totalSuccesses.Add(1)

	if b.State() != HalfOpen {
		return
	}

	good := b.consecutiveGood.Add(1)
	if int(good) >= b.cfg.SuccessThreshold {
		b.mu.Lock()
		b.window = b.window[:0]
		b.probeInFlight.Store(false)
		b.setState(Closed)
		b.mu.Unlock()
		if b.cfg.EnableGlobalHints && b.onCatastrophic != nil {
			b.onCatastrophic(false)
		}
	}
}

func (b *Breaker) evictStale(now time.Time) {
	cutoff := now.Add(-time.Duration(b.cfg.WindowMs) * time.Millisecond)
	i := 0
	for i < len(b.window) && b.window[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.window = b.window[i:]
	}
}

// Counters reports the lifetime observability counters (spec §4.7).
func (b *Breaker) Counters() (failures, successes, rejections, transitions uint64) {
	return b.totalFailures.Load(), b.totalSuccesses.Load(), b.totalRejections.Load(), b.totalTransitions.Load()
}
