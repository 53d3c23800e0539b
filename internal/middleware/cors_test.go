package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/pipeline"
)

func newCORSRequestContext(origin, method string) *pipeline.RequestContext {
	req := &domain.Request{Method: method, Path: "/api/widgets"}
	if origin != "" {
		req.Headers.Set("Origin", origin)
	}
	return pipeline.NewRequestContext(req, domain.Match{}, nil, 0, "corr-id")
}

func TestCORS_ExactOriginMatch(t *testing.T) {
	c := NewCORS("cors", CORSConfig{AllowOrigins: []string{"https://app.example.com"}})
	ctx := newCORSRequestContext("https://app.example.com", "GET")
	resp := &domain.Response{StatusCode: 200}
	respCtx := pipeline.NewResponseContext(ctx, resp)

	outcome := c.ProcessResponse(respCtx)
	assert.Equal(t, pipeline.Continue, outcome)
	got, ok := resp.Headers.Get("Access-Control-Allow-Origin")
	assert.True(t, ok)
	assert.Equal(t, "https://app.example.com", got)
}

func TestCORS_WildcardGlobSubdomain(t *testing.T) {
	c := NewCORS("cors", CORSConfig{AllowOrigins: []string{"https://*.example.com"}})
	ctx := newCORSRequestContext("https://tenant-a.example.com", "GET")
	resp := &domain.Response{StatusCode: 200}
	respCtx := pipeline.NewResponseContext(ctx, resp)

	c.ProcessResponse(respCtx)
	got, ok := resp.Headers.Get("Access-Control-Allow-Origin")
	assert.True(t, ok)
	// The echoed origin, not the glob pattern itself, must be reflected.
	assert.Equal(t, "https://tenant-a.example.com", got)
}

func TestCORS_WildcardGlobNoMatch(t *testing.T) {
	c := NewCORS("cors", CORSConfig{AllowOrigins: []string{"https://*.example.com"}})
	ctx := newCORSRequestContext("https://evil.attacker.com", "GET")
	resp := &domain.Response{StatusCode: 200}
	respCtx := pipeline.NewResponseContext(ctx, resp)

	c.ProcessResponse(respCtx)
	_, ok := resp.Headers.Get("Access-Control-Allow-Origin")
	assert.False(t, ok)
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	c := NewCORS("cors", CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST"},
		MaxAgeSeconds: 600,
	})
	ctx := newCORSRequestContext("https://app.example.com", "OPTIONS")

	outcome := c.ProcessRequest(ctx)
	assert.Equal(t, pipeline.Stop, outcome)
	assert.Equal(t, 204, ctx.Response.StatusCode)
	allowMethods, _ := ctx.Response.Headers.Get("Access-Control-Allow-Methods")
	assert.Equal(t, "GET, POST", allowMethods)
}
