package util

import "testing"

func TestJoinURLPath(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		path     string
		expected string
	}{
		{
			name:     "base with trailing slash, path with leading slash",
			baseURL:  "http://10.0.1.5:8080/api/",
			path:     "/healthz",
			expected: "http://10.0.1.5:8080/api/healthz",
		},
		{
			name:     "base without trailing slash, path with leading slash",
			baseURL:  "http://10.0.1.5:8080",
			path:     "/healthz",
			expected: "http://10.0.1.5:8080/healthz",
		},
		{
			name:     "base with trailing slash, path without leading slash",
			baseURL:  "http://10.0.1.5:8080/api/",
			path:     "healthz",
			expected: "http://10.0.1.5:8080/api/healthz",
		},
		{
			name:     "base without trailing slash, path without leading slash",
			baseURL:  "http://10.0.1.5:8080",
			path:     "healthz",
			expected: "http://10.0.1.5:8080/healthz",
		},
		{
			name:     "empty base",
			baseURL:  "",
			path:     "/healthz",
			expected: "/healthz",
		},
		{
			name:     "empty path",
			baseURL:  "http://10.0.1.5:8080",
			path:     "",
			expected: "http://10.0.1.5:8080",
		},
		{
			name:     "nested base path",
			baseURL:  "http://backend.internal:9000/service/",
			path:     "/status",
			expected: "http://backend.internal:9000/service/status",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := JoinURLPath(tc.baseURL, tc.path)
			if result != tc.expected {
				t.Errorf("JoinURLPath(%q, %q) = %q, expected %q",
					tc.baseURL, tc.path, result, tc.expected)
			}
		})
	}
}
