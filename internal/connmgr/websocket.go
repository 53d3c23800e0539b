package connmgr

import (
	"context"
	"net"
	"time"

	"github.com/titan-gateway/titan/internal/config"
	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/logger"
	"github.com/titan-gateway/titan/internal/protocol/websocket"
)

const (
	wsDialTimeout  = 5 * time.Second
	wsIdlePing     = 30 * time.Second
	wsPongTimeout  = 10 * time.Second
	wsReadChunk    = 4 * 1024
)

// tunnelWebSocket resolves req's route to a backend, forwards the upgrade
// handshake, and relays frames in both directions until either side closes
// (spec §4.4 "Tunnel semantics"). It returns false when the client
// connection should be torn down by the caller (handshake failure, tunnel
// end), true only if conn remains reusable for a subsequent request (never
// the case today: a completed or failed upgrade always ends the
// connection).
func tunnelWebSocket(conn net.Conn, req *domain.Request, snap *config.Snapshot, clientIP net.IP, clientPort int, styled *logger.StyledLogger) bool {
	match := snap.Router.Match(req.Method, req.Path)
	if !match.Found || match.Route.UpstreamName == "" {
		writeParseError(conn, nil)
		return false
	}
	up, ok := snap.Upstreams[match.Route.UpstreamName]
	if !ok {
		writeParseError(conn, nil)
		return false
	}

	clientHint := ""
	if clientIP != nil {
		clientHint = clientIP.String()
	}
	backend, err := up.Select(context.Background(), clientHint)
	if err != nil {
		writeUpgradeFailure(conn, 503)
		return false
	}

	backend.IncActive()
	defer backend.DecActive()

	beConn, err := dialBackend(backend)
	if err != nil {
		up.RecordResult(backend.ID, false)
		writeUpgradeFailure(conn, 502)
		return false
	}
	defer beConn.Close()

	if err := forwardHandshake(beConn, req); err != nil {
		up.RecordResult(backend.ID, false)
		writeUpgradeFailure(conn, 502)
		return false
	}

	status, headerBytes, err := readUpgradeResponse(beConn)
	if err != nil || status != 101 {
		up.RecordResult(backend.ID, false)
		writeUpgradeFailure(conn, 502)
		return false
	}
	if _, werr := conn.Write(headerBytes); werr != nil {
		return false
	}
	up.RecordResult(backend.ID, true)

	if styled != nil {
		styled.Debug("websocket tunnel established", "route", req.Path, "upstream", up.Name, "backend", backend.Name)
	}

	relayTunnel(conn, beConn)
	return false
}

func dialBackend(b *domain.Backend) (net.Conn, error) {
	host, port := b.URL.Hostname(), b.URL.Port()
	if port == "" {
		port = "80"
		if b.URL.Scheme == "https" {
			port = "443"
		}
	}
	d := net.Dialer{Timeout: wsDialTimeout}
	return d.Dial("tcp", net.JoinHostPort(host, port))
}

// forwardHandshake re-serializes the client's upgrade request onto the
// backend connection. Unlike internal/middleware/proxy.go's writeRequest,
// Connection and Upgrade are NOT stripped: the backend needs them intact to
// recognize this as a WebSocket handshake (spec §4.4).
func forwardHandshake(w net.Conn, req *domain.Request) error {
	path := req.Path
	if req.Query != "" {
		path += "?" + req.Query
	}
	var buf []byte
	buf = append(buf, req.Method...)
	buf = append(buf, ' ')
	buf = append(buf, path...)
	buf = append(buf, " HTTP/1.1\r\n"...)
	for _, h := range req.Headers {
		buf = append(buf, h.Name...)
		buf = append(buf, ": "...)
		buf = append(buf, h.Value...)
		buf = append(buf, "\r\n"...)
	}
	buf = append(buf, "\r\n"...)
	_ = w.SetWriteDeadline(time.Now().Add(wsDialTimeout))
	_, err := w.Write(buf)
	_ = w.SetWriteDeadline(time.Time{})
	return err
}

// readUpgradeResponse reads the backend's raw status line and headers
// (through the blank line terminator) without re-serializing them, so the
// Sec-WebSocket-Accept the backend computed reaches the client byte for
// byte.
func readUpgradeResponse(r net.Conn) (int, []byte, error) {
	_ = r.SetReadDeadline(time.Now().Add(wsDialTimeout))
	defer r.SetReadDeadline(time.Time{})

	var buf []byte
	chunk := make([]byte, 512)
	for {
		if i := indexHeaderEnd(buf); i >= 0 {
			status := parseStatusLine(buf)
			return status, buf[:i+4], nil
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return 0, nil, err
		}
		if len(buf) > 8*1024 {
			return 0, nil, websocket.ErrProtocol
		}
	}
}

func indexHeaderEnd(buf []byte) int {
	for i := 0; i+3 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' && buf[i+2] == '\r' && buf[i+3] == '\n' {
			return i
		}
	}
	return -1
}

func parseStatusLine(buf []byte) int {
	// "HTTP/1.1 101 Switching Protocols\r\n..."
	status := 0
	i := 0
	for i < len(buf) && buf[i] != ' ' {
		i++
	}
	i++
	for i < len(buf) && buf[i] >= '0' && buf[i] <= '9' {
		status = status*10 + int(buf[i]-'0')
		i++
	}
	return status
}

func writeUpgradeFailure(conn net.Conn, code int) {
	resp := &domain.Response{StatusCode: code, Complete: true}
	resp.Body = []byte("websocket upgrade failed")
	_ = WriteResponse(conn, resp, false)
}

// relayTunnel pumps frames between the client and backend legs until either
// side closes or a protocol violation occurs (spec §4.4 "Tunnel semantics").
// Control frames are answered locally: Ping gets an immediate Pong with the
// same payload on the leg it arrived on, and Close triggers the matching
// Close (same code and reason) on the opposite leg before both connections
// are torn down.
func relayTunnel(client, backend net.Conn) {
	done := make(chan struct{}, 2)
	go func() { pump(client, backend, true); done <- struct{}{} }()
	go func() { pump(backend, client, false); done <- struct{}{} }()
	<-done
	client.Close()
	backend.Close()
	<-done
}

// pump reads frames from src and relays them to dst. fromClient controls
// which parser mode is used: frames arriving from the client are masked
// (ExpectMasked=true) and are unmasked as a side effect of websocket.Parser
// decoding them; frames written onward are always sent unmasked, since
// both the backend leg and the client-facing leg carry server-style
// unmasked frames in this gateway's model.
func pump(src, dst net.Conn, fromClient bool) {
	parser := websocket.New(fromClient)
	var buf []byte
	awaitingPong := false

	for {
		_ = src.SetReadDeadline(time.Now().Add(wsIdlePing))
		result, consumed, frame, err := parser.Feed(buf)
		switch result {
		case websocket.Error:
			sendClose(dst, uint16(websocket.CloseProtocolError), "")
			return
		case websocket.Incomplete:
			chunk := make([]byte, wsReadChunk)
			n, rerr := src.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
				awaitingPong = false
				continue
			}
			if isTimeout(rerr) {
				if awaitingPong {
					sendClose(dst, uint16(websocket.CloseInternalError), "")
					return
				}
				awaitingPong = true
				if werr := writeFrame(src, websocket.OpPing, nil, true); werr != nil {
					return
				}
				_ = src.SetReadDeadline(time.Now().Add(wsPongTimeout))
				continue
			}
			if rerr != nil {
				return
			}
			continue
		case websocket.Complete:
			buf = buf[consumed:]
			parser.Reset()
			awaitingPong = false

			switch frame.Opcode {
			case websocket.OpPing:
				_ = writeFrame(src, websocket.OpPong, frame.Payload, true)
			case websocket.OpPong:
				// liveness only, nothing to relay
			case websocket.OpClose:
				code, reason := closeCodeReason(frame.Payload)
				sendClose(dst, code, reason)
				return
			default:
				if werr := writeFrame(dst, frame.Opcode, frame.Payload, frame.FIN); werr != nil {
					return
				}
			}
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

func closeCodeReason(payload []byte) (uint16, string) {
	if len(payload) < 2 {
		return uint16(websocket.CloseNormal), ""
	}
	code := uint16(payload[0])<<8 | uint16(payload[1])
	return code, string(payload[2:])
}

func sendClose(w net.Conn, code uint16, reason string) {
	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code)
	copy(payload[2:], reason)
	_ = writeFrame(w, websocket.OpClose, payload, true)
}

// writeFrame serializes a single unmasked frame (spec §4.4 "forwarded
// unmasked"): the gateway never sets the mask bit on frames it relays or
// originates, on either leg of the tunnel.
func writeFrame(w net.Conn, opcode websocket.Opcode, payload []byte, fin bool) error {
	var head byte
	if fin {
		head |= 0x80
	}
	head |= byte(opcode)

	var buf []byte
	buf = append(buf, head)
	length := len(payload)
	switch {
	case length < 126:
		buf = append(buf, byte(length))
	case length <= 0xFFFF:
		buf = append(buf, 126, byte(length>>8), byte(length))
	default:
		buf = append(buf, 127,
			byte(length>>56), byte(length>>48), byte(length>>40), byte(length>>32),
			byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	}
	buf = append(buf, payload...)

	_ = w.SetWriteDeadline(time.Now().Add(wsPongTimeout))
	_, err := w.Write(buf)
	_ = w.SetWriteDeadline(time.Time{})
	return err
}
