package middleware

import (
	"strings"

	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/pipeline"
)

// MatchMode is how a route's required scopes/roles combine (spec §4.8
// "AND or OR").
type MatchMode uint8

const (
	MatchAll MatchMode = iota
	MatchAny
)

// JWTAuthzConfig is the per-route authorization requirement.
type JWTAuthzConfig struct {
	RequiredScopes []string
	RequiredRoles  []string
	Mode           MatchMode
}

// JWTAuthz reads scopes/roles from context metadata set by JWTAuth and
// checks them against route requirements (spec §4.8).
type JWTAuthz struct {
	pipeline.Base
	cfg JWTAuthzConfig
}

func NewJWTAuthz(id string, cfg JWTAuthzConfig) *JWTAuthz {
	return &JWTAuthz{Base: pipeline.NewBase(id, pipeline.TypeJWTAuthz), cfg: cfg}
}

func (j *JWTAuthz) ProcessRequest(ctx *pipeline.RequestContext) pipeline.Outcome {
	have := splitSpace(ctx.Metadata["jwt_scopes"])
	have = append(have, splitSpace(ctx.Metadata["jwt_roles"])...)

	required := append(append([]string{}, j.cfg.RequiredScopes...), j.cfg.RequiredRoles...)
	if len(required) == 0 {
		return pipeline.Continue
	}

	ok := false
	switch j.cfg.Mode {
	case MatchAll:
		ok = true
		for _, r := range required {
			if !containsString(have, r) {
				ok = false
				break
			}
		}
	case MatchAny:
		for _, r := range required {
			if containsString(have, r) {
				ok = true
				break
			}
		}
	}

	if !ok {
		ctx.Response = pipeline.SynthesizeError(domain.KindAuthzFailed, "insufficient scope")
		return pipeline.Stop
	}
	return pipeline.Continue
}

func splitSpace(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
