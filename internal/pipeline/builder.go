package pipeline

import (
	"fmt"

	"github.com/titan-gateway/titan/internal/domain"
)

// Build resolves every route's middleware id list into a Pipeline using the
// shared registry, collecting non-fatal warnings (duplicate-type skips) and
// failing on the first hard validation error (spec §4.8).
func Build(registry *Registry, routes []domain.Route) (map[*domain.Route]*Pipeline, []string, error) {
	pipelines := make(map[*domain.Route]*Pipeline, len(routes))
	var allWarnings []string

	for i := range routes {
		route := &routes[i]
		stages, warnings, err := registry.Chain(route.MiddlewareIDs)
		if err != nil {
			return nil, nil, fmt.Errorf("route %s %s: %w", route.Method, route.PathPattern, err)
		}
		for _, w := range warnings {
			allWarnings = append(allWarnings, fmt.Sprintf("route %s %s: %s", route.Method, route.PathPattern, w))
		}
		pipelines[route] = New(stages)
	}
	return pipelines, allWarnings, nil
}
