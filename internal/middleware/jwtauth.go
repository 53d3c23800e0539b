package middleware

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/pipeline"
	"github.com/titan-gateway/titan/internal/util"
)

// JWTAuthConfig is the per-route JWT validation policy (spec §4.8).
type JWTAuthConfig struct {
	StaticKeys     map[string]interface{} // kid -> key, for HS256/static RS256/ES256 keys
	JWKSKeyfunc    keyfunc.Keyfunc         // nil when no JWKS source is configured
	Issuer         string                  // "" skips issuer check
	Audience       string                  // "" skips audience check
	ClockSkew      time.Duration
	AllowedAlgs    []string
	QueryParamName string // token query param accepted for WebSocket upgrades
	CacheSize      int
	Revocation     *redis.Client // nil disables jti revocation checks
}

// JWTAuth extracts a bearer token, validates its signature against a merged
// static+JWKS key set, checks exp/nbf with clock skew, and optionally
// checks issuer/audience/revocation. Successful validations are cached per
// worker by raw token string (spec §4.8 "Caches successful validations per
// worker (LRU)").
type JWTAuth struct {
	pipeline.Base
	cfg   JWTAuthConfig
	cache *lruCache
}

func NewJWTAuth(id string, cfg JWTAuthConfig) *JWTAuth {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	return &JWTAuth{Base: pipeline.NewBase(id, pipeline.TypeJWTAuth), cfg: cfg, cache: newLRUCache(size)}
}

func (j *JWTAuth) ProcessRequest(ctx *pipeline.RequestContext) pipeline.Outcome {
	raw, ok := j.extractToken(ctx)
	if !ok {
		return j.unauthorized(ctx, "missing bearer token")
	}

	if claims, ok := j.cache.get(raw); ok {
		j.populateMetadata(ctx, claims)
		return pipeline.Continue
	}

	token, err := jwt.Parse(raw, j.keyFunc, jwt.WithValidMethods(j.cfg.AllowedAlgs), jwt.WithLeeway(j.cfg.ClockSkew))
	if err != nil || !token.Valid {
		return j.unauthorized(ctx, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return j.unauthorized(ctx, "unexpected claims type")
	}

	if j.cfg.Issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != j.cfg.Issuer {
			return j.unauthorized(ctx, "issuer mismatch")
		}
	}
	if j.cfg.Audience != "" {
		aud, _ := claims.GetAudience()
		if !containsString(aud, j.cfg.Audience) {
			return j.unauthorized(ctx, "audience mismatch")
		}
	}
	if j.cfg.Revocation != nil {
		if jti, ok := claims["jti"].(string); ok {
			if revoked, _ := j.cfg.Revocation.Exists(context.Background(), "revoked_jti:"+jti).Result(); revoked > 0 {
				return j.unauthorized(ctx, "token revoked")
			}
		}
	}

	j.cache.put(raw, claims)
	j.populateMetadata(ctx, claims)
	return pipeline.Continue
}

func (j *JWTAuth) keyFunc(token *jwt.Token) (interface{}, error) {
	if kid, _ := token.Header["kid"].(string); kid != "" {
		if key, ok := j.cfg.StaticKeys[kid]; ok {
			return key, nil
		}
	}
	if j.cfg.JWKSKeyfunc != nil {
		return j.cfg.JWKSKeyfunc(token)
	}
	return nil, jwt.ErrTokenUnverifiable
}

func (j *JWTAuth) extractToken(ctx *pipeline.RequestContext) (string, bool) {
	if auth, ok := ctx.Request.Headers.Get("Authorization"); ok {
		if tok, found := strings.CutPrefix(auth, "Bearer "); found {
			return tok, true
		}
	}
	if j.cfg.QueryParamName != "" {
		if tok, ok := queryParam(ctx.Request.Query, j.cfg.QueryParamName); ok {
			return tok, true
		}
	}
	return "", false
}

// populateMetadata copies the claims JWTAuthz reads into the request's
// metadata map. "scope"/"roles" claims appear on the wire either as a single
// space-separated string (the common OAuth2 "scope" shape) or as a JSON
// array (many identity providers emit "roles" this way); both shapes are
// normalised to the same space-joined string JWTAuthz expects.
func (j *JWTAuth) populateMetadata(ctx *pipeline.RequestContext, claims jwt.MapClaims) {
	if sub, _ := claims.GetSubject(); sub != "" {
		ctx.Metadata["jwt_subject"] = sub
	}
	if scopes := util.GetString(claims, "scope"); scopes != "" {
		ctx.Metadata["jwt_scopes"] = scopes
	} else if arr := util.GetStringArray(claims, "scope"); len(arr) > 0 {
		ctx.Metadata["jwt_scopes"] = strings.Join(arr, " ")
	}
	if roles := util.GetString(claims, "roles"); roles != "" {
		ctx.Metadata["jwt_roles"] = roles
	} else if arr := util.GetStringArray(claims, "roles"); len(arr) > 0 {
		ctx.Metadata["jwt_roles"] = strings.Join(arr, " ")
	}
	if iat, ok := util.GetFloat64(claims, "iat"); ok {
		ctx.Metadata["jwt_issued_at"] = strconv.FormatInt(iat, 10)
	}
}

func (j *JWTAuth) unauthorized(ctx *pipeline.RequestContext, reason string) pipeline.Outcome {
	resp := pipeline.SynthesizeError(domain.KindAuthFailed, reason)
	resp.Headers.Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	ctx.Response = resp
	return pipeline.Stop
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}

func queryParam(rawQuery, name string) (string, bool) {
	for _, pair := range strings.Split(rawQuery, "&") {
		k, v, found := strings.Cut(pair, "=")
		if found && k == name {
			return v, true
		}
	}
	return "", false
}

// lruCache is a minimal fixed-size LRU keyed by raw token string, avoiding a
// dependency purely for a small bounded cache. get marks an entry as most
// recently used; put evicts the least recently used entry once cap is reached.
type lruCache struct {
	mu    sync.Mutex
	cap   int
	order []string
	data  map[string]jwt.MapClaims
}

func newLRUCache(cap int) *lruCache {
	return &lruCache{cap: cap, data: make(map[string]jwt.MapClaims, cap)}
}

func (c *lruCache) get(key string) (jwt.MapClaims, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if ok {
		for i, k := range c.order {
			if k == key {
				copy(c.order[i:], c.order[i+1:])
				c.order[len(c.order)-1] = key
				break
			}
		}
	}
	return v, ok
}

func (c *lruCache) put(key string, claims jwt.MapClaims) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data[key]; !exists {
		if len(c.order) >= c.cap {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.data, oldest)
		}
		c.order = append(c.order, key)
	}
	c.data[key] = claims
}
