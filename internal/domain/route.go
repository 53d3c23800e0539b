package domain

// Route is a single configured mapping from (method, path pattern) to a
// handler and an upstream (spec §3 "Routes"). It is the value the router's
// radix tree leaves store against a method.
type Route struct {
	PathPattern    string
	Method         string // empty means method-agnostic
	HandlerID      string
	UpstreamName   string
	Priority       int
	PathRewrite    string
	Timeout        string // configured time.Duration formatted by String() in config.Build, "0s" when unset
	MiddlewareIDs  []string
}

// Match is what the router hands back to the dispatcher: the matched
// route plus any extracted path parameters and wildcard tail (spec §4.5).
type Match struct {
	Route    *Route
	Params   []Param
	Wildcard string
	Found    bool
}

// Param is a single named path segment captured during matching, e.g.
// ("id", "42") for a route registered as "/users/:id".
type Param struct {
	Name  string
	Value string
}

// Get returns the value for name, or "" with ok=false if not present.
func (m *Match) Get(name string) (string, bool) {
	for _, p := range m.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}
