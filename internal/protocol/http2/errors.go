package http2

import "golang.org/x/net/http2"

// ErrCode mirrors the RFC 7540 §7 error code space. titan keeps its own
// named constants rather than importing http2.ErrCode's values directly so
// the mapping from internal parse failures to GOAWAY codes (goAwayCode,
// below) reads as a single table instead of scattered literals.
type ErrCode = http2.ErrCode

const (
	ErrCodeNo                 ErrCode = http2.ErrCodeNo
	ErrCodeProtocol           ErrCode = http2.ErrCodeProtocol
	ErrCodeInternal           ErrCode = http2.ErrCodeInternal
	ErrCodeFlowControl        ErrCode = http2.ErrCodeFlowControl
	ErrCodeSettingsTimeout    ErrCode = http2.ErrCodeSettingsTimeout
	ErrCodeStreamClosed       ErrCode = http2.ErrCodeStreamClosed
	ErrCodeFrameSize          ErrCode = http2.ErrCodeFrameSize
	ErrCodeRefusedStream      ErrCode = http2.ErrCodeRefusedStream
	ErrCodeCancel             ErrCode = http2.ErrCodeCancel
	ErrCodeCompression        ErrCode = http2.ErrCodeCompression
	ErrCodeConnect            ErrCode = http2.ErrCodeConnect
	ErrCodeEnhanceYourCalm    ErrCode = http2.ErrCodeEnhanceYourCalm
	ErrCodeInadequateSecurity ErrCode = http2.ErrCodeInadequateSecurity
	ErrCodeHTTP11Required     ErrCode = http2.ErrCodeHTTP11Required
)

// ConnError is a connection-level protocol violation (spec §4.3 "Protocol
// violations terminate the connection with the appropriate GOAWAY code").
type ConnError struct {
	Code   ErrCode
	Reason string
}

func (e *ConnError) Error() string { return "http2: connection error: " + e.Reason }

// StreamError is a stream-level violation; only the offending stream is
// reset, the connection continues (spec §4.3 "individual stream errors
// terminate only that stream").
type StreamError struct {
	StreamID uint32
	Code     ErrCode
	Reason   string
}

func (e *StreamError) Error() string { return "http2: stream error: " + e.Reason }

// goAwayCode maps a parse/protocol failure reason to the RFC 7540 §7 error
// code titan sends in the GOAWAY frame. This table is the supplemental
// piece spec §4.3 leaves unenumerated ("terminate with the appropriate
// GOAWAY code" without naming one).
func goAwayCode(reason failureReason) ErrCode {
	switch reason {
	case reasonBadFrameSize:
		return ErrCodeFrameSize
	case reasonBadHeaderBlock:
		return ErrCodeCompression
	case reasonFlowControlViolation:
		return ErrCodeFlowControl
	case reasonUnexpectedContinuation, reasonBadStreamState:
		return ErrCodeProtocol
	case reasonSettingsTimeout:
		return ErrCodeSettingsTimeout
	default:
		return ErrCodeProtocol
	}
}

type failureReason uint8

const (
	reasonBadFrameSize failureReason = iota
	reasonBadHeaderBlock
	reasonFlowControlViolation
	reasonUnexpectedContinuation
	reasonBadStreamState
	reasonSettingsTimeout
)
