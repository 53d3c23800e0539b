// Package tlsutil builds the *tls.Config a listener wraps its accepted
// connections in, including the server-preference ALPN negotiation order
// spec §4.1/§9 require for picking HTTP/2 ("h2") over HTTP/1.1 ("http/1.1")
// without a second round trip.
package tlsutil

import (
	"crypto/tls"
	"fmt"
)

// DefaultALPN is used when a TLSConfig names no protocols: prefer HTTP/2,
// fall back to HTTP/1.1 (spec §4.1 "Detection... ALPN result").
var DefaultALPN = []string{"h2", "http/1.1"}

// Build loads certFile/keyFile and returns a server tls.Config advertising
// alpn in priority order. An empty alpn falls back to DefaultALPN.
func Build(certFile, keyFile string, alpn []string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsutil: loading keypair: %w", err)
	}
	if len(alpn) == 0 {
		alpn = DefaultALPN
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   alpn,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// NegotiatedProtocol returns the ALPN protocol the handshake settled on, or
// "" if the peer didn't participate in ALPN (the caller then falls back to
// client-preface sniffing, per spec §4.1 "Detection").
func NegotiatedProtocol(conn *tls.Conn) string {
	return conn.ConnectionState().NegotiatedProtocol
}
