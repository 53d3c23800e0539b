// Package health implements the active backend health-check prober of spec
// §12: independent of the request-path circuit breaker, it periodically
// dials each backend's health-check URL and drives Healthy/Degraded/
// Unhealthy status transitions. Grounded on the teacher's
// internal/adapter/health/scheduler.go + checker.go pair, simplified to a
// fixed-interval ticker per backend rather than a heap-based scheduler,
// since titan's backend set size doesn't need the heap's O(log n) reschedule.
package health

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/logger"
	"github.com/titan-gateway/titan/internal/metrics"
	"github.com/titan-gateway/titan/internal/upstream"
	"github.com/titan-gateway/titan/internal/util"
	"github.com/titan-gateway/titan/pkg/format"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Prober runs one goroutine per backend that has a health-check interval
// configured.
type Prober struct {
	client *http.Client
	logger *logger.StyledLogger
	sink   metrics.Sink
}

func NewProber(styled *logger.StyledLogger, sink metrics.Sink) *Prober {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Prober{client: &http.Client{}, logger: styled, sink: sink}
}

// Run blocks until ctx is cancelled, then waits for in-flight checks to
// finish before returning (errgroup drains exactly like the teacher's
// WaitGroup-based checker shutdown).
func (p *Prober) Run(ctx context.Context, upstreams map[string]*upstream.Upstream) error {
	g, gctx := errgroup.WithContext(ctx)
	for name, up := range upstreams {
		name, up := name, up
		for _, b := range up.Backends {
			b := b
			if b.Health.Interval <= 0 {
				continue
			}
			g.Go(func() error {
				p.loop(gctx, name, b)
				return nil
			})
		}
	}
	return g.Wait()
}

func (p *Prober) loop(ctx context.Context, upstreamName string, b *domain.Backend) {
	ticker := time.NewTicker(b.Health.Interval)
	defer ticker.Stop()

	var consecutiveOK, consecutiveBad int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx, upstreamName, b, &consecutiveOK, &consecutiveBad)
		}
	}
}

func (p *Prober) check(ctx context.Context, upstreamName string, b *domain.Backend, okCount, badCount *int) {
	timeout := b.Health.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := util.JoinURLPath(b.URL.String(), b.Health.Path)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		p.recordFailure(upstreamName, b, okCount, badCount, 0)
		return
	}

	started := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(started)
	if err != nil {
		p.recordFailure(upstreamName, b, okCount, badCount, elapsed)
		return
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.recordSuccess(upstreamName, b, okCount, badCount, elapsed)
		return
	}
	p.recordFailure(upstreamName, b, okCount, badCount, elapsed)
}

func (p *Prober) recordSuccess(upstreamName string, b *domain.Backend, okCount, badCount *int, elapsed time.Duration) {
	*okCount++
	*badCount = 0
	b.MarkChecked(time.Now())

	threshold := b.Health.HealthyThreshold
	if threshold <= 0 {
		threshold = 1
	}
	if b.Status() != domain.BackendHealthy && *okCount >= threshold {
		b.SetStatus(domain.BackendHealthy)
		p.sink.BackendStatus(upstreamName, b.Name, string(domain.BackendHealthy))
		if p.logger != nil {
			p.logger.InfoHealthy("backend recovered", b.Name, "upstream", upstreamName, "latency", format.Latency(elapsed.Milliseconds()))
		}
	}
}

func (p *Prober) recordFailure(upstreamName string, b *domain.Backend, okCount, badCount *int, elapsed time.Duration) {
	*badCount++
	*okCount = 0
	b.MarkChecked(time.Now())

	threshold := b.Health.UnhealthyThreshold
	if threshold <= 0 {
		threshold = 1
	}
	switch {
	case *badCount >= threshold && b.Status() != domain.BackendUnhealthy:
		b.SetStatus(domain.BackendUnhealthy)
		p.sink.BackendStatus(upstreamName, b.Name, string(domain.BackendUnhealthy))
		if p.logger != nil {
			p.logger.WarnWithEndpoint("backend marked unhealthy", b.Name, "upstream", upstreamName, "after", format.Latency(elapsed.Milliseconds()))
		}
	case *badCount == 1 && b.Status() == domain.BackendHealthy:
		b.SetStatus(domain.BackendDegraded)
		p.sink.BackendStatus(upstreamName, b.Name, string(domain.BackendDegraded))
	}
}
