// Package pattern implements the leading/trailing-wildcard glob matcher CORS origin
// rules are checked against (internal/middleware/cors.go.matchOrigin), e.g.
// a configured "*.example.com" allow-origin entry against an incoming
// Origin header.
package pattern

import "strings"

// MatchesGlob reports whether s matches pattern, where a "*" at the start
// and/or end of pattern stands for any run of characters; a pattern with a
// "*" anywhere else matches only itself. Matching is case-insensitive.
func MatchesGlob(s, pattern string) bool {
	pattern = strings.ToLower(pattern)
	s = strings.ToLower(s)

	switch {
	case pattern == "*":
		return true
	case strings.Contains(pattern, "*"):
		// patterns like "*.example.com", "cdn.example.*", "*example*"
		switch {
		case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
			core := strings.Trim(pattern, "*")
			return strings.Contains(s, core)
		case strings.HasPrefix(pattern, "*"):
			suffix := strings.TrimPrefix(pattern, "*")
			return strings.HasSuffix(s, suffix)
		case strings.HasSuffix(pattern, "*"):
			prefix := strings.TrimSuffix(pattern, "*")
			return strings.HasPrefix(s, prefix)
		default:
			// a "*" elsewhere in the pattern isn't a supported shape;
			// the pattern is compared as a plain string.
			return s == pattern
		}
	default:
		return s == pattern
	}
}
