package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titan-gateway/titan/internal/domain"
)

func mustRoute(pattern, method, handler string, priority int) *domain.Route {
	return &domain.Route{PathPattern: pattern, Method: method, HandlerID: handler, Priority: priority}
}

func TestTree_SimpleGET(t *testing.T) {
	tr := NewTree()
	tr.Insert(mustRoute("/hello", "GET", "h", 0))

	m := tr.Match("GET", "/hello")
	require.True(t, m.Found)
	assert.Equal(t, "h", m.Route.HandlerID)
}

func TestTree_PathParameter(t *testing.T) {
	tr := NewTree()
	tr.Insert(mustRoute("/users/:id", "GET", "get_user", 0))

	m := tr.Match("GET", "/users/42")
	require.True(t, m.Found)
	assert.Equal(t, "get_user", m.Route.HandlerID)
	v, ok := m.Get("id")
	require.True(t, ok)
	assert.Equal(t, "42", v)
}

func TestTree_RadixSplit(t *testing.T) {
	tr := NewTree()
	tr.Insert(mustRoute("/public", "GET", "public", 0))
	tr.Insert(mustRoute("/protected", "GET", "protected", 0))
	tr.Insert(mustRoute("/privacy", "GET", "privacy", 0))

	m := tr.Match("GET", "/protected")
	require.True(t, m.Found)
	assert.Equal(t, "protected", m.Route.HandlerID)

	m2 := tr.Match("GET", "/priv")
	assert.False(t, m2.Found)
}

func TestTree_Wildcard(t *testing.T) {
	tr := NewTree()
	tr.Insert(mustRoute("/static/*path", "GET", "static", 0))

	m := tr.Match("GET", "/static/css/app.css")
	require.True(t, m.Found)
	assert.Equal(t, "css/app.css", m.Wildcard)
}

func TestTree_MethodFallback(t *testing.T) {
	tr := NewTree()
	tr.Insert(mustRoute("/agnostic", "", "any", 0))
	tr.Insert(mustRoute("/agnostic", "GET", "get_specific", 5))

	m := tr.Match("GET", "/agnostic")
	require.True(t, m.Found)
	assert.Equal(t, "get_specific", m.Route.HandlerID, "exact method beats method-agnostic")

	m2 := tr.Match("POST", "/agnostic")
	require.True(t, m2.Found)
	assert.Equal(t, "any", m2.Route.HandlerID, "falls back to method-agnostic entry")
}

func TestTree_PriorityTieBreak(t *testing.T) {
	tr := NewTree()
	tr.Insert(mustRoute("/a", "GET", "low", 1))
	tr.Insert(mustRoute("/a", "GET", "high", 10))

	m := tr.Match("GET", "/a")
	require.True(t, m.Found)
	assert.Equal(t, "high", m.Route.HandlerID)
}

func TestTree_DeterministicAcrossInsertOrder(t *testing.T) {
	order1 := NewTree()
	order1.Insert(mustRoute("/a", "GET", "x", 1))
	order1.Insert(mustRoute("/a/:id", "GET", "y", 1))

	order2 := NewTree()
	order2.Insert(mustRoute("/a/:id", "GET", "y", 1))
	order2.Insert(mustRoute("/a", "GET", "x", 1))

	for _, path := range []string{"/a", "/a/1"} {
		m1 := order1.Match("GET", path)
		m2 := order2.Match("GET", path)
		require.Equal(t, m1.Found, m2.Found)
		if m1.Found {
			assert.Equal(t, m1.Route.HandlerID, m2.Route.HandlerID)
		}
	}
}

func TestTree_Backtracking(t *testing.T) {
	tr := NewTree()
	// The literal "/users/list" wins over the ":id" param when the literal
	// segment matches exactly, but if the literal branch fails to produce a
	// leaf the search must backtrack to the param.
	tr.Insert(mustRoute("/users/:id/profile", "GET", "profile", 0))
	tr.Insert(mustRoute("/users/list", "GET", "list", 0))

	m := tr.Match("GET", "/users/list")
	require.True(t, m.Found)
	assert.Equal(t, "list", m.Route.HandlerID)

	m2 := tr.Match("GET", "/users/42/profile")
	require.True(t, m2.Found)
	assert.Equal(t, "profile", m2.Route.HandlerID)
	v, _ := m2.Get("id")
	assert.Equal(t, "42", v)

	// "/users/list/profile" backtracks: the literal "list" child is a dead
	// end (no further children), so the search retries via the :id param,
	// capturing "list" as the id.
	m3 := tr.Match("GET", "/users/list/profile")
	require.True(t, m3.Found)
	assert.Equal(t, "profile", m3.Route.HandlerID)
	v3, _ := m3.Get("id")
	assert.Equal(t, "list", v3)
}

func TestRouterBuild_UnknownUpstream(t *testing.T) {
	routes := []*domain.Route{mustRoute("/a", "GET", "h", 0)}
	routes[0].UpstreamName = "missing"
	_, err := Build(routes, map[string]struct{}{"known": {}})
	require.Error(t, err)
}
