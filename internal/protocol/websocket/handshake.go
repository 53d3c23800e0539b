package websocket

import (
	"encoding/base64"
	"fmt"

	"github.com/titan-gateway/titan/internal/domain"
)

const ProtocolVersion = "13"

// IsUpgradeRequest reports whether req carries the headers spec §4.4
// requires of a WebSocket handshake.
func IsUpgradeRequest(req *domain.Request) bool {
	upgrade, _ := req.Headers.Get("Upgrade")
	conn, _ := req.Headers.Get("Connection")
	version, _ := req.Headers.Get("Sec-WebSocket-Version")
	_, hasKey := req.Headers.Get("Sec-WebSocket-Key")
	return domain.EqualFold(upgrade, "websocket") &&
		containsToken(conn, "upgrade") &&
		version == ProtocolVersion &&
		hasKey
}

func containsToken(header, token string) bool {
	// Connection header may be a comma-separated token list.
	start := 0
	for i := 0; i <= len(header); i++ {
		if i == len(header) || header[i] == ',' {
			field := trimSpace(header[start:i])
			if domain.EqualFold(field, token) {
				return true
			}
			start = i + 1
		}
	}
	return false
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t') {
		j--
	}
	return s[i:j]
}

// ErrBadHandshake is returned by Accept when the request fails validation.
type ErrBadHandshake struct{ Reason string }

func (e *ErrBadHandshake) Error() string { return fmt.Sprintf("websocket: bad handshake: %s", e.Reason) }

// Accept validates a handshake request and builds the 101 response
// (spec §4.4, §8 scenario 5).
func Accept(req *domain.Request) (*domain.Response, error) {
	if !IsUpgradeRequest(req) {
		return nil, &ErrBadHandshake{Reason: "missing required upgrade headers"}
	}
	key, _ := req.Headers.Get("Sec-WebSocket-Key")
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(raw) != 16 {
		return nil, &ErrBadHandshake{Reason: "invalid Sec-WebSocket-Key"}
	}

	resp := &domain.Response{StatusCode: 101}
	resp.Headers.Set("Upgrade", "websocket")
	resp.Headers.Set("Connection", "Upgrade")
	resp.Headers.Set("Sec-WebSocket-Accept", AcceptKey(key))
	return resp, nil
}
