package middleware

import (
	"strconv"
	"strings"

	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/pipeline"
	"github.com/titan-gateway/titan/internal/util/pattern"
)

// CORSConfig mirrors the per-route CORS policy in the config schema.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
	MaxAgeSeconds    int
}

// CORS adds configured allow-origin/methods/headers/credentials/max-age on
// the response and short-circuits OPTIONS preflight with 204 (spec §4.8).
type CORS struct {
	pipeline.Base
	cfg CORSConfig
}

func NewCORS(id string, cfg CORSConfig) *CORS {
	return &CORS{Base: pipeline.NewBase(id, pipeline.TypeCORS), cfg: cfg}
}

func (c *CORS) ProcessRequest(ctx *pipeline.RequestContext) pipeline.Outcome {
	if ctx.Request.Method != "OPTIONS" {
		return pipeline.Continue
	}
	resp := &domain.Response{StatusCode: 204, Complete: true}
	c.applyHeaders(ctx.Request, &resp.Headers)
	ctx.Response = resp
	return pipeline.Stop
}

func (c *CORS) ProcessResponse(ctx *pipeline.ResponseContext) pipeline.Outcome {
	c.applyHeaders(ctx.Request.Request, &ctx.Response.Headers)
	return pipeline.Continue
}

func (c *CORS) applyHeaders(req *domain.Request, h *domain.Headers) {
	origin, _ := req.Headers.Get("Origin")
	if allowed := c.matchOrigin(origin); allowed != "" {
		h.Set("Access-Control-Allow-Origin", allowed)
	}
	if len(c.cfg.AllowMethods) > 0 {
		h.Set("Access-Control-Allow-Methods", strings.Join(c.cfg.AllowMethods, ", "))
	}
	if len(c.cfg.AllowHeaders) > 0 {
		h.Set("Access-Control-Allow-Headers", strings.Join(c.cfg.AllowHeaders, ", "))
	}
	if c.cfg.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if c.cfg.MaxAgeSeconds > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(c.cfg.MaxAgeSeconds))
	}
}

// matchOrigin returns the configured AllowOrigins entry that matches origin,
// supporting a literal "*" plus "*"-wildcard patterns such as
// "*.example.com" for subdomain allow-lists.
func (c *CORS) matchOrigin(origin string) string {
	for _, allowed := range c.cfg.AllowOrigins {
		if allowed == "*" || domain.EqualFold(allowed, origin) {
			return allowed
		}
		if strings.Contains(allowed, "*") && pattern.MatchesGlob(origin, allowed) {
			return origin
		}
	}
	return ""
}
