package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/pipeline"
)

// RateLimitConfig is the per-route token-bucket policy.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	KeyHeader         string // "" means key by client IP
	CleanupInterval   time.Duration
	CleanupMaxIdle    time.Duration
}

// RateLimit keeps one token bucket per key (client IP or a configured
// header) in a map shared by every connection that runs this middleware
// instance; buckets are not split per worker. On an empty bucket it stops
// with 429.
type RateLimit struct {
	pipeline.Base
	cfg      RateLimitConfig
	limiters sync.Map // key string -> *bucket

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type bucket struct {
	limiter    *rate.Limiter
	lastAccess accessClock
}

func NewRateLimit(id string, cfg RateLimitConfig) *RateLimit {
	rl := &RateLimit{Base: pipeline.NewBase(id, pipeline.TypeRateLimit), cfg: cfg}
	if cfg.CleanupInterval > 0 {
		rl.stopCleanup = make(chan struct{})
		go rl.cleanupLoop()
	}
	return rl
}

// Stop halts the background cleanup goroutine; callers must invoke this
// when a config reload retires this middleware instance.
func (rl *RateLimit) Stop() {
	if rl.stopCleanup == nil {
		return
	}
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *RateLimit) ProcessRequest(ctx *pipeline.RequestContext) pipeline.Outcome {
	key := rl.keyFor(ctx)
	b := rl.bucketFor(key)
	if !b.limiter.Allow() {
		ctx.Response = pipeline.SynthesizeError(domain.KindRateLimited, "rate limit exceeded")
		return pipeline.Stop
	}
	return pipeline.Continue
}

func (rl *RateLimit) keyFor(ctx *pipeline.RequestContext) string {
	if rl.cfg.KeyHeader != "" {
		if v, ok := ctx.Request.Headers.Get(rl.cfg.KeyHeader); ok {
			return v
		}
	}
	if ctx.ClientIP != nil {
		return ctx.ClientIP.String()
	}
	return ""
}

func (rl *RateLimit) bucketFor(key string) *bucket {
	if v, ok := rl.limiters.Load(key); ok {
		b := v.(*bucket)
		b.lastAccess.store(time.Now())
		return b
	}
	b := &bucket{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)}
	b.lastAccess.store(time.Now())
	actual, _ := rl.limiters.LoadOrStore(key, b)
	return actual.(*bucket)
}

func (rl *RateLimit) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.cfg.CleanupMaxIdle)
			rl.limiters.Range(func(k, v any) bool {
				if v.(*bucket).lastAccess.load().Before(cutoff) {
					rl.limiters.Delete(k)
				}
				return true
			})
		}
	}
}

// accessClock stores a time.Time behind a mutex; the cleanup loop and request
// path both touch it, and it's updated far less often than the limiter is
// consulted so a mutex is simpler than atomic.Value juggling here.
type accessClock struct {
	mu sync.Mutex
	t  time.Time
}

func (a *accessClock) store(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *accessClock) load() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}
