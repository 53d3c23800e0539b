// Package util provides small generic helpers shared across titan's
// non-hot-path components (health probing, JWT claim normalisation,
// trusted-proxy client IP resolution).
package util

// JoinURLPath concatenates a base URL with a path, handling trailing/leading
// slashes, for internal/health/prober.go's health-check target
// (backend base URL + configured health path). This uses string
// concatenation rather than url.ResolveReference() because ResolveReference
// treats paths starting with "/" as absolute references per RFC 3986, which
// replaces the entire path of the base URL instead of appending to it.
// For example: "http://localhost/api/".ResolveReference("/v1/health") = "http://localhost/v1/health"
// But we want: "http://localhost/api/" + "/v1/health" = "http://localhost/api/v1/health"
func JoinURLPath(baseURL, path string) string {
	if baseURL == "" {
		return path
	}
	if path == "" {
		return baseURL
	}

	// Normalise: strip trailing slash from base, strip leading slash from path
	baseHasSlash := baseURL[len(baseURL)-1] == '/'
	pathHasSlash := path[0] == '/'

	if baseHasSlash && pathHasSlash {
		return baseURL + path[1:]
	}
	if !baseHasSlash && !pathHasSlash {
		return baseURL + "/" + path
	}
	return baseURL + path
}
