package config

import "time"

// Config is the top-level JSON-facing configuration document (spec §3, §6):
// server/upstreams/routes plus middleware pools keyed by id, JWT/JWKS and
// observability settings. A loaded Config is validated and compiled into an
// immutable Snapshot before it is ever handed to a router or upstream.
type Config struct {
	Server      ServerConfig                 `mapstructure:"server"`
	Upstreams   []UpstreamConfig             `mapstructure:"upstreams"`
	Routes      []RouteConfig                `mapstructure:"routes"`
	CORS        map[string]CORSConfig        `mapstructure:"cors"`
	RateLimit   map[string]RateLimitConfig   `mapstructure:"rate_limit"`
	Transform   map[string]TransformConfig   `mapstructure:"transform"`
	Compression map[string]CompressionConfig `mapstructure:"compression"`
	Auth        map[string]JWTAuthConfig     `mapstructure:"auth"`
	Authz       map[string]JWTAuthzConfig    `mapstructure:"authz"`
	JWT         JWTGlobalConfig              `mapstructure:"jwt"`
	Logging     LoggingConfig                `mapstructure:"logging"`
	Metrics     MetricsConfig                `mapstructure:"metrics"`
	Version     string                       `mapstructure:"version"`
	Description string                       `mapstructure:"description"`
}

// ServerConfig is spec §3's "Server" block.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	Port            int           `mapstructure:"port"`
	Backlog         int           `mapstructure:"backlog"`
	Workers         int           `mapstructure:"workers"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxConnBytes    int64         `mapstructure:"max_conn_bytes"`
	MaxRequestBytes int64         `mapstructure:"max_request_bytes"`
	TLS             TLSConfig     `mapstructure:"tls"`

	// TrustProxyHeaders, when true, makes the gateway prefer X-Forwarded-For
	// / X-Real-IP over the TCP peer address for the client IP the pipeline
	// records (rate-limit keys, IP-hash load balancing) — but only for
	// connections whose peer address falls within TrustedProxyCIDRs, so an
	// untrusted client can't spoof its own IP by setting the header itself.
	TrustProxyHeaders bool     `mapstructure:"trust_proxy_headers"`
	TrustedProxyCIDRs []string `mapstructure:"trusted_proxy_cidrs"`
}

// TLSConfig carries the certificate pair and the server-preference ALPN
// list (spec §3, §6).
type TLSConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	CertFile string   `mapstructure:"cert_file"`
	KeyFile  string   `mapstructure:"key_file"`
	ALPN     []string `mapstructure:"alpn"`
}

// HealthCheckConfig is the per-backend active-probe policy (spec §3, §12
// "Health-check active prober").
type HealthCheckConfig struct {
	Path               string        `mapstructure:"path"`
	Interval           time.Duration `mapstructure:"interval"`
	Timeout            time.Duration `mapstructure:"timeout"`
	HealthyThreshold   int           `mapstructure:"healthy_threshold"`
	UnhealthyThreshold int           `mapstructure:"unhealthy_threshold"`
}

// BackendConfig is one member of an UpstreamConfig's Backends list.
type BackendConfig struct {
	Host        string            `mapstructure:"host"`
	Port        int               `mapstructure:"port"`
	Name        string            `mapstructure:"name"`
	Scheme      string            `mapstructure:"scheme"`
	Weight      int               `mapstructure:"weight"`
	MaxConn     int               `mapstructure:"max_conn"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
}

// BreakerConfig mirrors internal/breaker.Config in JSON field names (spec
// §3 "embedded Circuit-Breaker config").
type BreakerConfig struct {
	FailureThreshold      int  `mapstructure:"failure_threshold"`
	SuccessThreshold      int  `mapstructure:"success_threshold"`
	WindowMs              int  `mapstructure:"window_ms"`
	TimeoutMs             int  `mapstructure:"timeout_ms"`
	CatastrophicThreshold int  `mapstructure:"catastrophic_threshold"`
	EnableGlobalHints     bool `mapstructure:"enable_global_hints"`
}

// UpstreamConfig is spec §3's "Upstreams" entry.
type UpstreamConfig struct {
	Name         string          `mapstructure:"name"`
	Backends     []BackendConfig `mapstructure:"backends"`
	Policy       string          `mapstructure:"policy"`
	MaxRetries   int             `mapstructure:"max_retries"`
	RetryBackoff time.Duration   `mapstructure:"retry_backoff"`
	PoolSize     int             `mapstructure:"pool_size"`
	IdleTimeout  time.Duration   `mapstructure:"idle_timeout"`
	Breaker      BreakerConfig   `mapstructure:"breaker"`
}

// RouteConfig is spec §3's "Routes" entry.
type RouteConfig struct {
	PathPattern   string        `mapstructure:"path"`
	Method        string        `mapstructure:"method"`
	HandlerID     string        `mapstructure:"handler_id"`
	UpstreamName  string        `mapstructure:"upstream"`
	Priority      int           `mapstructure:"priority"`
	PathRewrite   string        `mapstructure:"path_rewrite"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MiddlewareIDs []string      `mapstructure:"middleware"`
}

// CORSConfig is the JSON-facing mirror of middleware.CORSConfig.
type CORSConfig struct {
	AllowOrigins     []string `mapstructure:"allow_origins"`
	AllowMethods     []string `mapstructure:"allow_methods"`
	AllowHeaders     []string `mapstructure:"allow_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAgeSeconds    int      `mapstructure:"max_age_seconds"`
}

// RateLimitConfig is the JSON-facing mirror of middleware.RateLimitConfig.
type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	KeyHeader         string        `mapstructure:"key_header"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	CleanupMaxIdle    time.Duration `mapstructure:"cleanup_max_idle"`
}

// HeaderRuleConfig is one add/remove/modify header operation in a Transform
// pool entry.
type HeaderRuleConfig struct {
	Op    string `mapstructure:"op"` // "set" | "add" | "del"
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"`
	Phase string `mapstructure:"phase"` // "request" | "response"
}

// QueryRuleConfig is one add/remove/modify query-parameter operation.
type QueryRuleConfig struct {
	Op    string `mapstructure:"op"`
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"`
}

// TransformConfig is the JSON-facing mirror of middleware.TransformConfig;
// RegexMatch is a pattern string compiled at Build time.
type TransformConfig struct {
	StripPrefix  string             `mapstructure:"strip_prefix"`
	RegexMatch   string             `mapstructure:"regex_match"`
	RegexReplace string             `mapstructure:"regex_replace"`
	Headers      []HeaderRuleConfig `mapstructure:"headers"`
	Query        []QueryRuleConfig  `mapstructure:"query"`
}

// CompressionConfig is the JSON-facing mirror of middleware.CompressionConfig.
type CompressionConfig struct {
	MinSize         int      `mapstructure:"min_size"`
	ExcludedTypes   []string `mapstructure:"excluded_types"`
	BreachSensitive []string `mapstructure:"breach_sensitive_paths"`
}

// JWTAuthConfig is the JSON-facing mirror of middleware.JWTAuthConfig.
// StaticKeys maps a kid to a PEM block or raw HS256 secret; JWKSURL, if
// set, is merged in at Build time via keyfunc (spec §4.8 "static keys ∪
// latest JWKS snapshot").
type JWTAuthConfig struct {
	StaticKeys     map[string]string `mapstructure:"static_keys"`
	JWKSURL        string            `mapstructure:"jwks_url"`
	Issuer         string            `mapstructure:"issuer"`
	Audience       string            `mapstructure:"audience"`
	ClockSkew      time.Duration     `mapstructure:"clock_skew"`
	AllowedAlgs    []string          `mapstructure:"allowed_algs"`
	QueryParamName string            `mapstructure:"query_param_name"`
	CacheSize      int               `mapstructure:"cache_size"`
}

// JWTAuthzConfig is the JSON-facing mirror of middleware.JWTAuthzConfig.
type JWTAuthzConfig struct {
	RequiredScopes []string `mapstructure:"required_scopes"`
	RequiredRoles  []string `mapstructure:"required_roles"`
	Mode           string   `mapstructure:"mode"` // "all" | "any"
}

// JWTGlobalConfig holds settings shared by every `auth` pool entry:
// revocation backing store and JWKS refresh policy.
type JWTGlobalConfig struct {
	RevocationRedisAddr string        `mapstructure:"revocation_redis_addr"`
	JWKSRefreshInterval time.Duration `mapstructure:"jwks_refresh_interval"`
}

// LoggingConfig controls internal/logger's handler construction (spec §10.1).
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "json" | "pretty"
	Output     string `mapstructure:"output"` // "" | "stdout" | "stderr": console only; any other value also writes rotating files under FilePath
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Theme      string `mapstructure:"theme"` // "default" | "dark" | "light", pretty-mode TTY styling
}

// MetricsConfig controls the Prometheus exposition surface (spec §1,
// interface only — the core never formats Prometheus text itself).
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}
