package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/redis/go-redis/v9"

	"github.com/titan-gateway/titan/internal/breaker"
	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/metrics"
	"github.com/titan-gateway/titan/internal/middleware"
	"github.com/titan-gateway/titan/internal/pipeline"
	"github.com/titan-gateway/titan/internal/router"
	"github.com/titan-gateway/titan/internal/upstream"
	"github.com/titan-gateway/titan/internal/util"
)

// Snapshot is the immutable, fully-built object every worker reads against:
// a compiled router, the named upstreams, and a pipeline per route (spec
// §3 "Lifecycles": "Router and Upstream objects live for the lifetime of
// one config snapshot"). It is published by Manager via RCU (rcu.go) and
// never mutated after Build returns it.
type Snapshot struct {
	Config    *Config
	Router    *router.Router
	Upstreams map[string]*upstream.Upstream
	Pipelines map[*domain.Route]*pipeline.Pipeline
	Routes    []domain.Route

	// ProxyStage is the single shared terminal middleware instance every
	// snapshot registers under id "proxy". A route may list "proxy" in its
	// configured middleware chain, but Build leaves that id out of the
	// route's resolved pipeline (the stage needs an *upstream.Upstream
	// binding the pipeline package can't carry); the connection manager invokes it
	// directly via ProcessRequestWithUpstream once a route's upstream has
	// been resolved from this snapshot (spec §4.8 "Proxy (terminal)").
	ProxyStage *middleware.Proxy

	CatastrophicFlags *breaker.CatastrophicFlags

	// TrustedProxyCIDRs is cfg.Server.TrustedProxyCIDRs, pre-parsed once at
	// build time so the hot request path never re-parses CIDR strings.
	TrustedProxyCIDRs []*net.IPNet
}

// Build validates cfg and compiles a Snapshot from it. Build never mutates
// a previously published Snapshot — it always constructs a fresh Router,
// fresh Upstreams, and fresh Pipelines, matching the RCU discipline of
// spec §4.9 ("publishers build the new snapshot fully before publication").
func Build(cfg *Config, logger *slog.Logger, sink metrics.Sink) (*Snapshot, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}

	flags := breaker.NewCatastrophicFlags()
	var idAlloc breaker.IDAllocator

	upstreamNames := make(map[string]struct{}, len(cfg.Upstreams))
	for _, uc := range cfg.Upstreams {
		upstreamNames[uc.Name] = struct{}{}
	}

	upstreams := make(map[string]*upstream.Upstream, len(cfg.Upstreams))
	for _, uc := range cfg.Upstreams {
		up, err := buildUpstream(uc, &idAlloc, flags, sink)
		if err != nil {
			return nil, fmt.Errorf("config: upstream %q: %w", uc.Name, err)
		}
		upstreams[uc.Name] = up
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	routes := make([]domain.Route, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		ids := make([]string, 0, len(rc.MiddlewareIDs))
		for _, id := range rc.MiddlewareIDs {
			if id != "proxy" {
				ids = append(ids, id)
			}
		}
		routes = append(routes, domain.Route{
			PathPattern:   rc.PathPattern,
			Method:        rc.Method,
			HandlerID:     rc.HandlerID,
			UpstreamName:  rc.UpstreamName,
			Priority:      rc.Priority,
			PathRewrite:   rc.PathRewrite,
			Timeout:       rc.Timeout.String(),
			MiddlewareIDs: ids,
		})
	}

	routePtrs := make([]*domain.Route, len(routes))
	for i := range routes {
		routePtrs[i] = &routes[i]
	}
	rt, err := router.Build(routePtrs, upstreamNames)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	pipelines, _, err := pipeline.Build(registry, routes)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	proxyMW, ok := registry.Get("proxy")
	if !ok {
		return nil, fmt.Errorf("config: registry missing mandatory %q middleware", "proxy")
	}
	proxyStage, ok := proxyMW.(*middleware.Proxy)
	if !ok {
		return nil, fmt.Errorf("config: middleware %q is not *middleware.Proxy", "proxy")
	}
	proxyStage.SetSink(sink)

	trustedCIDRs, err := util.ParseTrustedCIDRs(cfg.Server.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("config: server.trusted_proxy_cidrs: %w", err)
	}

	return &Snapshot{
		Config:            cfg,
		Router:            rt,
		Upstreams:         upstreams,
		Pipelines:         pipelines,
		Routes:            routes,
		ProxyStage:        proxyStage,
		CatastrophicFlags: flags,
		TrustedProxyCIDRs: trustedCIDRs,
	}, nil
}

func buildUpstream(uc UpstreamConfig, idAlloc *breaker.IDAllocator, flags *breaker.CatastrophicFlags, sink metrics.Sink) (*upstream.Upstream, error) {
	backends := make([]*domain.Backend, 0, len(uc.Backends))
	for _, bc := range uc.Backends {
		scheme := bc.Scheme
		if scheme == "" {
			scheme = "http"
		}
		host := bc.Host
		if bc.Port != 0 {
			host = host + ":" + strconv.Itoa(bc.Port)
		}
		u, err := url.Parse(scheme + "://" + host)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", bc.Name, err)
		}
		id := idAlloc.Next()
		hc := domain.HealthCheckConfig{
			Path:               bc.HealthCheck.Path,
			Interval:           bc.HealthCheck.Interval,
			Timeout:            bc.HealthCheck.Timeout,
			HealthyThreshold:   bc.HealthCheck.HealthyThreshold,
			UnhealthyThreshold: bc.HealthCheck.UnhealthyThreshold,
		}
		backends = append(backends, domain.NewBackend(id, bc.Name, u, bc.Weight, bc.MaxConn, hc))
	}

	policy := upstream.NewPolicy(uc.Policy, time.Now().UnixNano())
	breakerCfg := breaker.Config{
		FailureThreshold:      orDefault(uc.Breaker.FailureThreshold, 5),
		SuccessThreshold:      orDefault(uc.Breaker.SuccessThreshold, 2),
		WindowMs:              orDefault(uc.Breaker.WindowMs, 10_000),
		TimeoutMs:             orDefault(uc.Breaker.TimeoutMs, 30_000),
		CatastrophicThreshold: orDefault(uc.Breaker.CatastrophicThreshold, 20),
		EnableGlobalHints:     uc.Breaker.EnableGlobalHints,
	}
	retry := upstream.RetryConfig{MaxRetries: uc.MaxRetries, Backoff: uc.RetryBackoff}

	return upstream.New(uc.Name, backends, policy, uc.PoolSize, retry, breakerCfg, flags, sink), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// buildRegistry instantiates every middleware pool entry into the shared
// registry the pipeline builder resolves route chains against (spec §4.8).
func buildRegistry(cfg *Config, logger *slog.Logger) (*pipeline.Registry, error) {
	reg := pipeline.NewRegistry()

	var revocation *redis.Client
	if cfg.JWT.RevocationRedisAddr != "" {
		revocation = redis.NewClient(&redis.Options{Addr: cfg.JWT.RevocationRedisAddr})
	}

	for id, c := range cfg.CORS {
		if err := reg.Register(middleware.NewCORS(id, middleware.CORSConfig{
			AllowOrigins:     c.AllowOrigins,
			AllowMethods:     c.AllowMethods,
			AllowHeaders:     c.AllowHeaders,
			AllowCredentials: c.AllowCredentials,
			MaxAgeSeconds:    c.MaxAgeSeconds,
		})); err != nil {
			return nil, err
		}
	}

	for id, c := range cfg.RateLimit {
		if err := reg.Register(middleware.NewRateLimit(id, middleware.RateLimitConfig{
			RequestsPerSecond: c.RequestsPerSecond,
			Burst:             c.Burst,
			KeyHeader:         c.KeyHeader,
			CleanupInterval:   c.CleanupInterval,
			CleanupMaxIdle:    c.CleanupMaxIdle,
		})); err != nil {
			return nil, err
		}
	}

	for id, c := range cfg.Transform {
		tc := middleware.TransformConfig{
			StripPrefix:  c.StripPrefix,
			RegexReplace: c.RegexReplace,
		}
		if c.RegexMatch != "" {
			re, err := regexp.Compile(c.RegexMatch)
			if err != nil {
				return nil, fmt.Errorf("transform %q: regex_match: %w", id, err)
			}
			tc.RegexMatch = re
		}
		for _, h := range c.Headers {
			tc.Headers = append(tc.Headers, middleware.HeaderRule{
				Kind:  headerOpKind(h.Op),
				Name:  h.Name,
				Value: h.Value,
				Phase: transformPhase(h.Phase),
			})
		}
		for _, q := range c.Query {
			tc.Query = append(tc.Query, middleware.QueryRule{
				Kind:  headerOpKind(q.Op),
				Name:  q.Name,
				Value: q.Value,
			})
		}
		if err := reg.Register(middleware.NewTransform(id, tc)); err != nil {
			return nil, err
		}
	}

	for id, c := range cfg.Compression {
		sensitive := make(map[string]bool, len(c.BreachSensitive))
		for _, p := range c.BreachSensitive {
			sensitive[p] = true
		}
		if err := reg.Register(middleware.NewCompression(id, middleware.CompressionConfig{
			MinSize:         c.MinSize,
			ExcludedTypes:   c.ExcludedTypes,
			BreachSensitive: sensitive,
		})); err != nil {
			return nil, err
		}
	}

	for id, c := range cfg.Auth {
		jc, err := buildJWTAuthConfig(c, revocation)
		if err != nil {
			return nil, fmt.Errorf("auth %q: %w", id, err)
		}
		if err := reg.Register(middleware.NewJWTAuth(id, jc)); err != nil {
			return nil, err
		}
	}

	for id, c := range cfg.Authz {
		mode := middleware.MatchAll
		if c.Mode == "any" {
			mode = middleware.MatchAny
		}
		if err := reg.Register(middleware.NewJWTAuthz(id, middleware.JWTAuthzConfig{
			RequiredScopes: c.RequiredScopes,
			RequiredRoles:  c.RequiredRoles,
			Mode:           mode,
		})); err != nil {
			return nil, err
		}
	}

	if err := reg.Register(middleware.NewLogging("logging", logger)); err != nil {
		return nil, err
	}
	if err := reg.Register(middleware.NewProxy("proxy", 10*time.Second, 60*time.Second)); err != nil {
		return nil, err
	}

	return reg, nil
}

// buildJWTAuthConfig merges static keys with a JWKS snapshot fetched via
// keyfunc (spec §4.8 "static keys ∪ latest JWKS snapshot"); JWKS fetch
// happens once at snapshot-build time, which runs outside the event loop
// per spec §5 ("coarse-grained blocking operations... performed outside
// the event loop").
func buildJWTAuthConfig(c JWTAuthConfig, revocation *redis.Client) (middleware.JWTAuthConfig, error) {
	staticKeys := make(map[string]interface{}, len(c.StaticKeys))
	for kid, raw := range c.StaticKeys {
		staticKeys[kid] = []byte(raw)
	}

	var kf keyfunc.Keyfunc
	if c.JWKSURL != "" {
		jwks, err := keyfunc.NewDefaultClient([]string{c.JWKSURL})
		if err != nil {
			return middleware.JWTAuthConfig{}, fmt.Errorf("jwks %s: %w", c.JWKSURL, err)
		}
		kf = jwks.Keyfunc
	}

	algs := c.AllowedAlgs
	if len(algs) == 0 {
		algs = []string{"RS256", "ES256", "HS256"}
	}

	return middleware.JWTAuthConfig{
		StaticKeys:     staticKeys,
		JWKSKeyfunc:    kf,
		Issuer:         c.Issuer,
		Audience:       c.Audience,
		ClockSkew:      c.ClockSkew,
		AllowedAlgs:    algs,
		QueryParamName: c.QueryParamName,
		CacheSize:      c.CacheSize,
		Revocation:     revocation,
	}, nil
}

func headerOpKind(op string) pipeline.HeaderOpKind {
	switch op {
	case "add":
		return pipeline.HeaderAdd
	case "del":
		return pipeline.HeaderDel
	default:
		return pipeline.HeaderSet
	}
}

func transformPhase(phase string) middleware.TransformPhase {
	if phase == "response" {
		return middleware.PhaseResponse
	}
	return middleware.PhaseRequest
}
