package metrics

import (
	"testing"
	"time"
)

func TestNoopSink_SatisfiesInterface(t *testing.T) {
	var sink Sink = NoopSink{}
	sink.BreakerTransition("up", 1, "closed", "open")
	sink.PoolHit("up")
	sink.PoolMiss("up")
	sink.RequestLatency("/r", 200, time.Millisecond)
	sink.BackendStatus("up", "b1", "healthy")
}
