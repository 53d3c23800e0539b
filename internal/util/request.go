package util

import (
	"fmt"
	"math/rand"
	"net"
	"strings"

	"github.com/titan-gateway/titan/internal/domain"
)

// GenerateRequestID produces a short, human-readable random id. No gateway
// code path calls it: request contexts carry uuid correlation ids, and the
// health prober logs without an id.
func GenerateRequestID() string {
	actions := []string{
		"grazing", "trekking", "humming", "spitting", "prancing",
		"carrying", "leading", "following", "resting", "alerting",
		"browsing", "foraging", "wandering", "galloping", "ambling",
	}
	llamas := []string{
		"huacaya", "suri", "vicuna", "alpaca", "guanaco",
		"woolly", "silky", "fluffy", "curly", "shaggy",
		"noble", "gentle", "swift", "steady", "proud",
	}

	group := llamas[rand.Intn(len(llamas))]
	action := actions[rand.Intn(len(actions))]
	suffix := fmt.Sprintf("%04x", rand.Intn(65536))

	return fmt.Sprintf("%s_%s_%s", group, action, suffix)
}

// ResolveClientIP returns the client IP the pipeline context should record
// (spec §4.8 "a client IP and port"). By default this is just the TCP peer
// address; when trustProxyHeaders is set and the peer address falls inside
// trustedCIDRs, the gateway instead trusts X-Forwarded-For (first hop) or
// X-Real-IP the way a gateway sitting behind a load balancer or another
// reverse proxy must, so rate-limit keys and IP-hash load balancing see the
// real client rather than the balancer's address.
func ResolveClientIP(headers domain.Headers, remote net.IP, trustProxyHeaders bool, trustedCIDRs []*net.IPNet) net.IP {
	if !trustProxyHeaders || remote == nil || !isIPInTrustedCIDRs(remote, trustedCIDRs) {
		return remote
	}

	if fwd, ok := headers.Get("X-Forwarded-For"); ok && fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip
		}
	}
	if real, ok := headers.Get("X-Real-IP"); ok && real != "" {
		if ip := net.ParseIP(strings.TrimSpace(real)); ip != nil {
			return ip
		}
	}
	return remote
}
