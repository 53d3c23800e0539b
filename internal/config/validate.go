package config

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

var validMethods = map[string]bool{
	"": true, "GET": true, "HEAD": true, "POST": true, "PUT": true,
	"PATCH": true, "DELETE": true, "OPTIONS": true, "CONNECT": true, "TRACE": true,
}

var validPolicies = map[string]bool{
	"": true, "round_robin": true, "least_connections": true, "random": true,
	"weighted_round_robin": true, "weighted": true, "ip_hash": true,
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

const maxFieldLen = 2048

// Validate enforces spec §3's cross-reference invariant (every route names
// an upstream that exists) plus the schema rules spec §4.8/§4.9 name:
// method/policy tags must be syntactically valid, middleware ids must exist
// and match the id pattern, route path patterns are length-bounded
// (maxFieldLen). Validation
// must succeed before a snapshot is ever built or published (spec §4.9
// "Guarantees").
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.Workers < 0 {
		return fmt.Errorf("config: server.workers must be >= 0")
	}

	upstreamNames := make(map[string]struct{}, len(cfg.Upstreams))
	for i, uc := range cfg.Upstreams {
		if uc.Name == "" {
			return fmt.Errorf("config: upstreams[%d] missing name", i)
		}
		if _, dup := upstreamNames[uc.Name]; dup {
			return fmt.Errorf("config: duplicate upstream name %q", uc.Name)
		}
		upstreamNames[uc.Name] = struct{}{}

		if !validPolicies[uc.Policy] {
			return fmt.Errorf("config: upstream %q has invalid load-balancing policy %q", uc.Name, uc.Policy)
		}
		if len(uc.Backends) == 0 {
			return fmt.Errorf("config: upstream %q has no backends", uc.Name)
		}
		for j, bc := range uc.Backends {
			if bc.Host == "" {
				return fmt.Errorf("config: upstream %q backend[%d] missing host", uc.Name, j)
			}
		}
	}

	registeredMiddleware := collectMiddlewareIDs(cfg)
	if len(registeredMiddleware) > maxRegisteredMiddleware {
		return fmt.Errorf("config: %d middleware registered exceeds max %d", len(registeredMiddleware), maxRegisteredMiddleware)
	}
	for id := range registeredMiddleware {
		if err := validateID(id); err != nil {
			return err
		}
	}

	for i, rc := range cfg.Routes {
		if rc.PathPattern == "" {
			return fmt.Errorf("config: routes[%d] missing path", i)
		}
		if len(rc.PathPattern) > maxFieldLen {
			return fmt.Errorf("config: routes[%d] path exceeds max length", i)
		}
		if !validMethods[rc.Method] {
			return fmt.Errorf("config: routes[%d] has invalid method %q", i, rc.Method)
		}
		if rc.UpstreamName != "" {
			if _, ok := upstreamNames[rc.UpstreamName]; !ok {
				return fmt.Errorf("config: route %q references unknown upstream %q", rc.PathPattern, rc.UpstreamName)
			}
		}
		if len(rc.MiddlewareIDs) > maxChainLength {
			return fmt.Errorf("config: route %q middleware chain length %d exceeds max %d", rc.PathPattern, len(rc.MiddlewareIDs), maxChainLength)
		}
		for _, id := range rc.MiddlewareIDs {
			if _, ok := registeredMiddleware[id]; !ok {
				return fmt.Errorf("config: route %q references unknown middleware id %q%s", rc.PathPattern, id, suggestID(id, registeredMiddleware))
			}
		}
	}

	return nil
}

// maxChainLength/maxRegisteredMiddleware mirror pipeline.MaxChainLength and
// pipeline.MaxRegistered (spec §4.8); they are redeclared here rather than
// imported so config validation has no dependency on the pipeline package's
// registry, which is only built after validation succeeds.
const (
	maxChainLength          = 20
	maxRegisteredMiddleware = 100
)

func collectMiddlewareIDs(cfg *Config) map[string]struct{} {
	ids := make(map[string]struct{})
	for id := range cfg.CORS {
		ids[id] = struct{}{}
	}
	for id := range cfg.RateLimit {
		ids[id] = struct{}{}
	}
	for id := range cfg.Transform {
		ids[id] = struct{}{}
	}
	for id := range cfg.Compression {
		ids[id] = struct{}{}
	}
	for id := range cfg.Auth {
		ids[id] = struct{}{}
	}
	for id := range cfg.Authz {
		ids[id] = struct{}{}
	}
	ids["logging"] = struct{}{}
	ids["proxy"] = struct{}{}
	return ids
}

func validateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("config: middleware id %q does not match [A-Za-z0-9_-]{1,64}", id)
	}
	return nil
}

// suggestID offers a bounded fuzzy-match suggestion for a typo'd reference
// (spec §4.8 "on typos a bounded fuzzy-match suggestion is included").
func suggestID(target string, registered map[string]struct{}) string {
	const maxDistance = 2
	best, bestDist := "", maxDistance+1

	ids := make([]string, 0, len(registered))
	for id := range registered {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		d := fuzzy.LevenshteinDistance(target, id)
		if d > 0 && d <= maxDistance && d < bestDist {
			bestDist, best = d, id
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}
