package connmgr

import (
	"net"
	"time"

	"github.com/titan-gateway/titan/internal/config"
	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/protocol/http1"
	"github.com/titan-gateway/titan/internal/protocol/websocket"
)

const readChunkSize = 16 * 1024

// serveHTTP1 runs the per-connection HTTP/1.1 loop: read into a growing
// buffer, feed the incremental parser, dispatch each completed request, and
// either upgrade to a WebSocket tunnel or write the response and continue
// reading the next pipelined request (spec §4.2, §4.1 "connection
// lifecycle").
func serveHTTP1(conn net.Conn, srv *Server, cfg config.ServerConfig) {
	defer conn.Close()

	parser := http1.New()
	var buf []byte
	clientIP, clientPort := splitHostPort(conn.RemoteAddr())

	for {
		if cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		}

		result, consumed, req, err := parser.Feed(buf)
		switch result {
		case http1.Error:
			writeParseError(conn, err)
			return
		case http1.Incomplete:
			chunk := make([]byte, readChunkSize)
			n, rerr := conn.Read(chunk)
			if n > 0 {
				if cfg.MaxConnBytes > 0 && int64(len(buf)+n) > cfg.MaxConnBytes {
					writeParseError(conn, nil)
					return
				}
				buf = append(buf, chunk[:n]...)
			}
			if rerr != nil {
				return
			}
			continue
		case http1.Complete:
			buf = buf[consumed:]

			if websocket.IsUpgradeRequest(req) {
				snap := srv.manager.Get()
				if !tunnelWebSocket(conn, req, snap, clientIP, clientPort, srv.styled) {
					return
				}
				parser.Reset()
				continue
			}

			resp := srv.dispatch(req, clientIP, clientPort)

			keepAlive := req.KeepAlive && resp.StatusCode < 500
			if cfg.WriteTimeout > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			}
			if werr := WriteResponse(conn, resp, keepAlive); werr != nil {
				return
			}
			if !keepAlive {
				return
			}
			parser.Reset()
		}
	}
}

func writeParseError(conn net.Conn, _ error) {
	resp := &domain.Response{StatusCode: 400, Complete: true}
	resp.Headers.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Body = []byte("bad request")
	_ = WriteResponse(conn, resp, false)
}

func splitHostPort(addr net.Addr) (net.IP, int) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, 0
	}
	return tcpAddr.IP, tcpAddr.Port
}
