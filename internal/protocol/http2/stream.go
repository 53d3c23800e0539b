package http2

import "github.com/titan-gateway/titan/internal/domain"

// initialWindowSize is the RFC 7540 §6.9.2 default per-stream flow-control
// window, used both as titan's advertised SETTINGS_INITIAL_WINDOW_SIZE and
// as the starting credit for every stream and the connection as a whole.
const initialWindowSize = 65535

// stream is one HTTP/2 stream's state (spec §3 "Streams (HTTP/2)"). The
// session owns a map of these, keyed by stream id.
type stream struct {
	id    uint32
	state domain.StreamState

	req  domain.Request
	resp domain.Response

	reqBody  []byte
	respBody []byte

	reqHeaderDone  bool
	reqEndStream   bool
	respHeaderSent bool
	respEndSent    bool

	sendWindow int32
	recvWindow int32
}

func newStream(id uint32) *stream {
	return &stream{
		id:         id,
		state:      domain.StreamIdle,
		sendWindow: initialWindowSize,
		recvWindow: initialWindowSize,
	}
}

// onHeadersReceived advances Idle -> Open on HEADERS (spec §4.3 state
// machine). A HEADERS frame on any other state is a stream protocol error.
func (s *stream) onHeadersReceived() error {
	if s.state != domain.StreamIdle {
		return &StreamError{StreamID: s.id, Code: ErrCodeStreamClosed, Reason: "HEADERS on non-idle stream"}
	}
	s.state = domain.StreamOpen
	return nil
}

// onRequestEndStream advances Open -> HalfClosedRemote when the client
// signals END_STREAM on the request side.
func (s *stream) onRequestEndStream() {
	s.reqEndStream = true
	if s.state == domain.StreamOpen {
		s.state = domain.StreamHalfClosedRemote
	}
}

// onResponseEndStream advances HalfClosedRemote -> Closed once titan has
// sent its own END_STREAM (spec §4.3 "HalfClosedRemote -> Closed").
func (s *stream) onResponseEndStream() {
	s.respEndSent = true
	if s.state == domain.StreamHalfClosedRemote {
		s.state = domain.StreamClosed
	}
}

// reset forces the stream to Closed regardless of current state (spec §4.3
// "Any -> Closed on RST_STREAM or connection error mapping").
func (s *stream) reset() {
	s.state = domain.StreamClosed
}

func (s *stream) closed() bool { return s.state == domain.StreamClosed }
