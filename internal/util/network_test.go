package util

import (
	"net"
	"testing"

	"github.com/titan-gateway/titan/internal/domain"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == id2 {
		t.Error("Generated IDs should be unique")
	}

	if len(id1) == 0 {
		t.Error("Generated ID should not be empty")
	}

	if len(id1) < 10 {
		t.Errorf("Generated ID seems too short: %s", id1)
	}
}

func headersWith(pairs ...string) domain.Headers {
	var h domain.Headers
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func TestResolveClientIP_ProxyHeadersDisabled(t *testing.T) {
	remote := net.ParseIP("192.168.1.100")
	ip := ResolveClientIP(nil, remote, false, nil)
	if !ip.Equal(remote) {
		t.Errorf("expected %s, got %s", remote, ip)
	}
}

func TestResolveClientIP_TrustedSource_XForwardedFor(t *testing.T) {
	remote := net.ParseIP("192.168.1.1")
	trustedCIDRs, _ := ParseTrustedCIDRs([]string{"192.168.0.0/16"})
	h := headersWith("X-Forwarded-For", "203.0.113.1, 192.168.1.1")

	ip := ResolveClientIP(h, remote, true, trustedCIDRs)
	if ip.String() != "203.0.113.1" {
		t.Errorf("expected 203.0.113.1 from X-Forwarded-For, got %s", ip)
	}
}

func TestResolveClientIP_UntrustedSource_Ignored(t *testing.T) {
	remote := net.ParseIP("203.0.113.1")
	trustedCIDRs, _ := ParseTrustedCIDRs([]string{"192.168.0.0/16"})
	h := headersWith("X-Forwarded-For", "10.0.0.1")

	ip := ResolveClientIP(h, remote, true, trustedCIDRs)
	if !ip.Equal(remote) {
		t.Errorf("expected remote %s to be preserved for untrusted source, got %s", remote, ip)
	}
}

func TestResolveClientIP_XRealIP_TrustedSource(t *testing.T) {
	remote := net.ParseIP("10.0.0.1")
	trustedCIDRs, _ := ParseTrustedCIDRs([]string{"10.0.0.0/8"})
	h := headersWith("X-Real-IP", "203.0.113.50")

	ip := ResolveClientIP(h, remote, true, trustedCIDRs)
	if ip.String() != "203.0.113.50" {
		t.Errorf("expected 203.0.113.50 from X-Real-IP, got %s", ip)
	}
}

func TestResolveClientIP_EmptyTrustedCIDRs(t *testing.T) {
	remote := net.ParseIP("192.168.1.1")
	h := headersWith("X-Forwarded-For", "203.0.113.1")

	ip := ResolveClientIP(h, remote, true, nil)
	if !ip.Equal(remote) {
		t.Errorf("expected remote %s preserved with no trusted CIDRs, got %s", remote, ip)
	}
}

func TestParseTrustedCIDRs_Valid(t *testing.T) {
	cidrs := []string{
		"192.168.0.0/16",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"127.0.0.1/32",
	}

	networks, err := ParseTrustedCIDRs(cidrs)
	if err != nil {
		t.Fatalf("ParseTrustedCIDRs failed: %v", err)
	}

	if len(networks) != 4 {
		t.Errorf("Expected 4 networks, got %d", len(networks))
	}

	testIP := net.ParseIP("192.168.1.100")
	if !networks[0].Contains(testIP) {
		t.Error("192.168.1.100 should be in 192.168.0.0/16")
	}
}

func TestParseTrustedCIDRs_Invalid(t *testing.T) {
	cidrs := []string{
		"192.168.0.0/16",
		"invalid-cidr",
		"10.0.0.0/8",
	}

	_, err := ParseTrustedCIDRs(cidrs)
	if err == nil {
		t.Error("Expected error for invalid CIDR")
	}
}

func TestParseTrustedCIDRs_Empty(t *testing.T) {
	networks, err := ParseTrustedCIDRs([]string{})
	if err != nil {
		t.Fatalf("ParseTrustedCIDRs failed with empty slice: %v", err)
	}
	if networks != nil {
		t.Error("Expected nil for empty CIDR list")
	}
}

func TestParseTrustedCIDRs_WithSpaces(t *testing.T) {
	cidrs := []string{
		" 192.168.0.0/16 ",
		"  10.0.0.0/8",
		"172.16.0.0/12  ",
		"",
	}

	networks, err := ParseTrustedCIDRs(cidrs)
	if err != nil {
		t.Fatalf("ParseTrustedCIDRs failed: %v", err)
	}

	if len(networks) != 3 {
		t.Errorf("Expected 3 networks (empty string skipped), got %d", len(networks))
	}
}

func TestIsIPInTrustedCIDRs(t *testing.T) {
	cidrs, _ := ParseTrustedCIDRs([]string{
		"192.168.0.0/16",
		"10.0.0.0/8",
	})

	testCases := []struct {
		ip       string
		expected bool
	}{
		{"192.168.0.1", true},
		{"192.168.1.100", true},
		{"192.168.255.255", true},
		{"10.0.0.1", true},
		{"10.255.255.255", true},
		{"172.16.0.1", false},
		{"203.0.113.1", false},
		{"127.0.0.1", false},
	}

	for _, tc := range testCases {
		t.Run(tc.ip, func(t *testing.T) {
			ip := net.ParseIP(tc.ip)
			result := isIPInTrustedCIDRs(ip, cidrs)
			if result != tc.expected {
				t.Errorf("IP %s: expected %v, got %v", tc.ip, tc.expected, result)
			}
		})
	}
}

func TestResolveClientIP_MultipleForwardedIPs(t *testing.T) {
	remote := net.ParseIP("192.168.1.1")
	trustedCIDRs, _ := ParseTrustedCIDRs([]string{"192.168.0.0/16"})
	h := headersWith("X-Forwarded-For", "203.0.113.1, 198.51.100.1, 192.168.1.1")

	ip := ResolveClientIP(h, remote, true, trustedCIDRs)
	if ip.String() != "203.0.113.1" {
		t.Errorf("expected first IP from X-Forwarded-For chain: 203.0.113.1, got %s", ip)
	}
}

func TestResolveClientIP_FallbackToRemote(t *testing.T) {
	remote := net.ParseIP("192.168.1.1")
	trustedCIDRs, _ := ParseTrustedCIDRs([]string{"192.168.0.0/16"})

	ip := ResolveClientIP(nil, remote, true, trustedCIDRs)
	if !ip.Equal(remote) {
		t.Errorf("expected fallback to remote: %s, got %s", remote, ip)
	}
}
