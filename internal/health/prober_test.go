package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titan-gateway/titan/internal/breaker"
	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/upstream"
)

type recordingSink struct {
	statuses atomic.Int32
	last     atomic.Value
}

func (r *recordingSink) BreakerTransition(string, uint32, string, string) {}
func (r *recordingSink) PoolHit(string)                                  {}
func (r *recordingSink) PoolMiss(string)                                 {}
func (r *recordingSink) RequestLatency(string, int, time.Duration)       {}
func (r *recordingSink) BackendStatus(_, _, status string) {
	r.statuses.Add(1)
	r.last.Store(status)
}

func backendFor(t *testing.T, srv *httptest.Server, interval time.Duration) *domain.Backend {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return domain.NewBackend(1, "b1", u, 1, 0, domain.HealthCheckConfig{
		Path:               "/healthz",
		Interval:           interval,
		Timeout:            time.Second,
		HealthyThreshold:   1,
		UnhealthyThreshold: 1,
	})
}

func TestProber_MarksUnhealthyThenHealthy(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := backendFor(t, srv, 10*time.Millisecond)
	up := upstream.New("checkout", []*domain.Backend{b}, upstream.NewRoundRobin(), 1, upstream.RetryConfig{}, breaker.DefaultConfig(), nil, nil)

	sink := &recordingSink{}
	prober := NewProber(nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = prober.Run(ctx, map[string]*upstream.Upstream{"checkout": up}) }()

	require.Eventually(t, func() bool {
		return b.Status() == domain.BackendUnhealthy
	}, time.Second, 5*time.Millisecond)

	healthy.Store(true)
	require.Eventually(t, func() bool {
		return b.Status() == domain.BackendHealthy
	}, time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, sink.statuses.Load(), int32(2))
}

func TestProber_SkipsBackendsWithoutInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := backendFor(t, srv, 0)
	up := upstream.New("checkout", []*domain.Backend{b}, upstream.NewRoundRobin(), 1, upstream.RetryConfig{}, breaker.DefaultConfig(), nil, nil)

	prober := NewProber(nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := prober.Run(ctx, map[string]*upstream.Upstream{"checkout": up})
	assert.NoError(t, err)
	assert.Equal(t, domain.BackendHealthy, b.Status())
}
