// Package metrics defines the gateway's narrow metrics interface and a
// Prometheus-backed implementation of it. Spec §1 treats "Prometheus textual
// formatting... metrics counters" as an external collaborator the core only
// talks to through an interface; Sink is that interface.
package metrics

import "time"

// Sink is the only metrics surface the rest of the core ever imports. A nil
// Sink is never passed around; NoopSink satisfies the interface for tests
// and for a gateway run with metrics disabled (spec §1 out-of-scope
// boundary, §11 "consumed only through the ports.MetricsSink interface").
type Sink interface {
	// BreakerTransition records a circuit breaker state change for one
	// backend (spec §4.7).
	BreakerTransition(upstream string, backendID uint32, from, to string)

	// PoolHit/PoolMiss record a connection pool Acquire outcome (spec §4.6).
	PoolHit(upstream string)
	PoolMiss(upstream string)

	// RequestLatency records one completed request's end-to-end duration,
	// tagged by route and final status code (spec §4.8 pipeline result).
	RequestLatency(route string, status int, d time.Duration)

	// BackendStatus records a health-prober status transition (spec §12
	// "Health-check active prober").
	BackendStatus(upstream, backend, status string)
}

// NoopSink discards every observation; used when cfg.Metrics.Enabled is
// false so the dispatcher never has to nil-check a Sink.
type NoopSink struct{}

func (NoopSink) BreakerTransition(string, uint32, string, string) {}
func (NoopSink) PoolHit(string)                                  {}
func (NoopSink) PoolMiss(string)                                 {}
func (NoopSink) RequestLatency(string, int, time.Duration)       {}
func (NoopSink) BackendStatus(string, string, string)            {}
