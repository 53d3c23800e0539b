// Package domain holds the value types shared by every subsystem of the
// gateway core: backends, routes, requests/responses, and the error kinds
// the pipeline maps onto wire-level status codes.
package domain

import (
	"fmt"
	"net/http"
)

// Kind classifies a gateway error independently of its Go type, so the
// pipeline's error-to-status mapping (§7 of the design) can switch on a
// single tag instead of a type assertion chain.
type Kind uint8

const (
	KindInternal Kind = iota
	KindConfigInvalid
	KindBindFailed
	KindClientProtocol
	KindUpstreamUnavailable
	KindUpstreamTransport
	KindUpstreamTimeout
	KindAuthFailed
	KindAuthzFailed
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "config_invalid"
	case KindBindFailed:
		return "bind_failed"
	case KindClientProtocol:
		return "client_protocol_error"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindUpstreamTransport:
		return "upstream_transport"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindAuthFailed:
		return "auth_failed"
	case KindAuthzFailed:
		return "authz_failed"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Status returns the wire-level HTTP status the pipeline synthesizes for
// this error kind (spec §7 "Propagation policy").
func (k Kind) Status() int {
	switch k {
	case KindClientProtocol:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindUpstreamTransport:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindAuthFailed:
		return http.StatusUnauthorized
	case KindAuthzFailed:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// GatewayError is the single error type the core raises; Kind drives status
// mapping, Op and Detail carry context for logging.
type GatewayError struct {
	Err    error
	Op     string
	Detail string
	Kind   Kind
}

func (e *GatewayError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and the operation that failed.
func NewError(kind Kind, op string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Op: op, Err: err}
}

// NewErrorf is NewError with a formatted detail string, mirroring the
// teacher's pattern of one typed error struct per failure family.
func NewErrorf(kind Kind, op, format string, args ...interface{}) *GatewayError {
	return &GatewayError{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *GatewayError; otherwise returns KindInternal.
func KindOf(err error) Kind {
	var ge *GatewayError
	if ok := asGatewayError(err, &ge); ok {
		return ge.Kind
	}
	return KindInternal
}

func asGatewayError(err error, target **GatewayError) bool {
	for err != nil {
		if ge, ok := err.(*GatewayError); ok {
			*target = ge
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
