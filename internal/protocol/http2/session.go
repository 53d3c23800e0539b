// Package http2 implements the HTTP/2 session and stream state machine of
// spec §4.3: multiplexed streams over one connection, framed with
// golang.org/x/net/http2's Framer and golang.org/x/net/http2/hpack codec.
//
// Go exposes no raw, non-blocking frame reader the way the spec's
// recv(bytes)/consume_send_buffer(n) byte-buffer contract assumes; a Framer
// blocks its goroutine until a full frame has arrived on the underlying
// net.Conn. titan embraces that and runs one Session per accepted HTTP/2
// connection on its own goroutine (the connection manager's reinterpretation
// of "dual demultiplexers" for a runtime whose netpoller is not directly
// programmable — see internal/connmgr), with one further goroutine per
// active stream so a slow backend on one stream never blocks frame delivery
// to its siblings.
package http2

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/titan-gateway/titan/internal/domain"
)

// Handler produces a response for a fully-received request. It is invoked
// on its own goroutine per stream so one slow stream cannot stall others
// multiplexed on the same connection.
type Handler func(req *domain.Request) *domain.Response

// Session owns one HTTP/2 connection: the Framer, the HPACK encoder/decoder
// pair, and the live stream map (spec §3 "an HTTP/2 session handle with its
// stream map").
type Session struct {
	conn   net.Conn
	framer *http2.Framer
	logger *slog.Logger
	handle Handler

	writeMu sync.Mutex
	henc    *hpack.Encoder
	hbuf    bytes.Buffer

	streamMu    sync.Mutex
	streams     map[uint32]*stream
	maxStreamID uint32
	connSendWin int32
	connRecvWin int32

	peerMaxFrameSize uint32

	wg sync.WaitGroup
}

// NewSession constructs a Session over an already-accepted connection whose
// first 24 bytes are (or, under TLS negotiated via ALPN "h2", are about to
// be) the HTTP/2 client preface (spec §4.3 "Detection").
func NewSession(conn net.Conn, logger *slog.Logger, handle Handler) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		conn:             conn,
		framer:           http2.NewFramer(conn, conn),
		logger:           logger,
		handle:           handle,
		streams:          make(map[uint32]*stream),
		connSendWin:      initialWindowSize,
		connRecvWin:      initialWindowSize,
		peerMaxFrameSize: 16384,
	}
	s.henc = hpack.NewEncoder(&s.hbuf)
	s.framer.ReadMetaHeaders = hpack.NewDecoder(4096, nil)
	return s
}

// Serve reads the client preface, exchanges initial SETTINGS, then loops
// reading frames until the connection errors or is closed. It returns nil
// on a graceful peer-initiated close.
func (s *Session) Serve() error {
	preface := make([]byte, len(http2.ClientPreface))
	if _, err := readFull(s.conn, preface); err != nil {
		return fmt.Errorf("http2: reading client preface: %w", err)
	}
	if string(preface) != http2.ClientPreface {
		return &ConnError{Code: ErrCodeProtocol, Reason: "bad client preface"}
	}

	if err := s.writeFrame(func() error {
		return s.framer.WriteSettings(http2.Setting{ID: http2.SettingInitialWindowSize, Val: initialWindowSize})
	}); err != nil {
		return err
	}

	defer s.wg.Wait()

	for {
		f, err := s.framer.ReadFrame()
		if err != nil {
			return s.handleReadError(err)
		}
		if err := s.dispatch(f); err != nil {
			if connErr, ok := err.(*ConnError); ok {
				s.goAway(connErr.Code)
				return connErr
			}
			if streamErr, ok := err.(*StreamError); ok {
				s.resetStream(streamErr.StreamID, streamErr.Code)
				continue
			}
			return err
		}
	}
}

func (s *Session) handleReadError(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("http2: read frame: %w", err)
}

func (s *Session) dispatch(f http2.Frame) error {
	switch frame := f.(type) {
	case *http2.SettingsFrame:
		return s.onSettings(frame)
	case *http2.MetaHeadersFrame:
		return s.onMetaHeaders(frame)
	case *http2.DataFrame:
		return s.onData(frame)
	case *http2.WindowUpdateFrame:
		return s.onWindowUpdate(frame)
	case *http2.RSTStreamFrame:
		s.onRSTStream(frame)
		return nil
	case *http2.PingFrame:
		return s.onPing(frame)
	case *http2.GoAwayFrame:
		return fmt.Errorf("http2: peer sent GOAWAY: %s", frame.ErrCode)
	default:
		// Unknown/unsupported frame types are ignored per RFC 7540 §4.1.
		return nil
	}
}

func (s *Session) onSettings(f *http2.SettingsFrame) error {
	if f.IsAck() {
		return nil
	}
	f.ForeachSetting(func(setting http2.Setting) error {
		if setting.ID == http2.SettingMaxFrameSize {
			s.peerMaxFrameSize = setting.Val
		}
		return nil
	})
	return s.writeFrame(func() error { return s.framer.WriteSettingsAck() })
}

func (s *Session) onPing(f *http2.PingFrame) error {
	if f.IsAck() {
		return nil
	}
	return s.writeFrame(func() error { return s.framer.WritePing(true, f.Data) })
}

// onMetaHeaders is reached only when the Framer's built-in header-block
// reassembly (ReadMetaHeaders) has already merged any CONTINUATION frames
// and decoded the HPACK block, per spec §4.3's "Idle -> Open (on HEADERS
// received)" — CONTINUATION is an HPACK/Framer implementation detail, not a
// distinct stream-state transition.
func (s *Session) onMetaHeaders(f *http2.MetaHeadersFrame) error {
	st := newStream(f.StreamID)
	if err := st.onHeadersReceived(); err != nil {
		return err
	}

	req := &st.req
	req.StreamID = f.StreamID
	req.Version = "HTTP/2"
	for _, hf := range f.Fields {
		switch hf.Name {
		case ":method":
			req.Method = hf.Value
		case ":path":
			req.Path, req.Query = splitPathQuery(hf.Value)
		case ":authority":
			req.Headers.Set("Host", hf.Value)
		case ":scheme":
			// scheme is implied by the listener's TLS state, not forwarded.
		default:
			req.Headers.Add(hf.Name, hf.Value)
		}
	}

	s.streamMu.Lock()
	s.streams[f.StreamID] = st
	if f.StreamID > s.maxStreamID {
		s.maxStreamID = f.StreamID
	}
	s.streamMu.Unlock()

	if f.StreamEnded() {
		st.onRequestEndStream()
		s.dispatchRequest(st)
	}
	return nil
}

func (s *Session) onData(f *http2.DataFrame) error {
	st := s.lookupStream(f.StreamID)
	if st == nil {
		return &StreamError{StreamID: f.StreamID, Code: ErrCodeStreamClosed, Reason: "DATA on unknown stream"}
	}
	st.reqBody = append(st.reqBody, f.Data()...)

	s.connRecvWin -= int32(f.Length)
	st.recvWindow -= int32(f.Length)
	if s.connRecvWin < initialWindowSize/2 {
		incr := initialWindowSize - s.connRecvWin
		s.connRecvWin = initialWindowSize
		_ = s.writeFrame(func() error { return s.framer.WriteWindowUpdate(0, uint32(incr)) })
	}

	if f.StreamEnded() {
		st.onRequestEndStream()
		s.dispatchRequest(st)
	}
	return nil
}

func (s *Session) onWindowUpdate(f *http2.WindowUpdateFrame) error {
	if f.StreamID == 0 {
		s.connSendWin += int32(f.Increment)
		return nil
	}
	st := s.lookupStream(f.StreamID)
	if st != nil {
		st.sendWindow += int32(f.Increment)
	}
	return nil
}

func (s *Session) onRSTStream(f *http2.RSTStreamFrame) {
	s.streamMu.Lock()
	if st, ok := s.streams[f.StreamID]; ok {
		st.reset()
	}
	s.streamMu.Unlock()
}

// dispatchRequest runs the handler on its own goroutine (spec's
// get_active_streams() is realized here as the live s.streams map, and the
// handler corresponds to submit_response being driven asynchronously).
func (s *Session) dispatchRequest(st *stream) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp := s.handle(&st.req)
		if resp == nil {
			resp = &domain.Response{StatusCode: 502}
		}
		s.submitResponse(st, resp)
	}()
}

// submitResponse writes a HEADERS frame (status + headers) followed by a
// DATA frame carrying the body, both with END_STREAM when there is no
// further body to send, implementing the session API's submit_response.
func (s *Session) submitResponse(st *stream, resp *domain.Response) {
	s.hbuf.Reset()
	_ = s.henc.WriteField(hpack.HeaderField{Name: ":status", Value: fmt.Sprintf("%d", resp.StatusCode)})
	for _, h := range resp.Headers {
		if domain.IsHopByHop(h.Name) {
			continue
		}
		_ = s.henc.WriteField(hpack.HeaderField{Name: lowerHeaderName(h.Name), Value: h.Value})
	}

	endStream := len(resp.Body) == 0
	err := s.writeFrame(func() error {
		return s.framer.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      st.id,
			BlockFragment: s.hbuf.Bytes(),
			EndHeaders:    true,
			EndStream:     endStream,
		})
	})
	if err != nil {
		s.logger.Warn("http2: write headers failed", "stream", st.id, "error", err)
		return
	}
	st.respHeaderSent = true

	if !endStream {
		err := s.writeFrame(func() error { return s.framer.WriteData(st.id, true, resp.Body) })
		if err != nil {
			s.logger.Warn("http2: write data failed", "stream", st.id, "error", err)
			return
		}
	}
	st.onResponseEndStream()
}

func (s *Session) resetStream(id uint32, code ErrCode) {
	_ = s.writeFrame(func() error { return s.framer.WriteRSTStream(id, code) })
	s.streamMu.Lock()
	if st, ok := s.streams[id]; ok {
		st.reset()
	}
	s.streamMu.Unlock()
}

func (s *Session) goAway(code ErrCode) {
	s.streamMu.Lock()
	last := s.maxStreamID
	s.streamMu.Unlock()
	_ = s.writeFrame(func() error { return s.framer.WriteGoAway(last, code, nil) })
}

func (s *Session) writeFrame(write func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return write()
}

func (s *Session) lookupStream(id uint32) *stream {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	return s.streams[id]
}

func splitPathQuery(target string) (path, query string) {
	for i := 0; i < len(target); i++ {
		if target[i] == '?' {
			return target[:i], target[i+1:]
		}
	}
	return target, ""
}

func lowerHeaderName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
