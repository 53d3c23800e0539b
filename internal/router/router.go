package router

import (
	"fmt"

	"github.com/titan-gateway/titan/internal/domain"
)

// Router owns one Tree per config snapshot; it is rebuilt deterministically
// on each reload (spec §4.9 "Guarantees").
type Router struct {
	tree *Tree
}

// Build validates and inserts every route from a snapshot's route list.
// Validation (spec §3 invariant) happens at config-load time via
// internal/config; Build assumes routes are already known-valid and only
// asserts that assumption with a panic-free error return, so a bug in the
// validator surfaces here rather than corrupting the tree silently.
func Build(routes []*domain.Route, upstreamNames map[string]struct{}) (*Router, error) {
	tree := NewTree()
	for _, r := range routes {
		if r.UpstreamName != "" {
			if _, ok := upstreamNames[r.UpstreamName]; !ok {
				return nil, fmt.Errorf("route %q references unknown upstream %q", r.PathPattern, r.UpstreamName)
			}
		}
		tree.Insert(r)
	}
	return &Router{tree: tree}, nil
}

func (rt *Router) Match(method, path string) domain.Match {
	return rt.tree.Match(method, path)
}
