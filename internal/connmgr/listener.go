package connmgr

import (
	"bufio"
	"crypto/tls"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/titan-gateway/titan/internal/config"
	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/logger"
	"github.com/titan-gateway/titan/internal/metrics"
	h2session "github.com/titan-gateway/titan/internal/protocol/http2"
	"github.com/titan-gateway/titan/internal/tlsutil"
	"github.com/titan-gateway/titan/internal/util"
)

// Server accepts connections, detects HTTP/1.1 vs HTTP/2, and dispatches
// each to the matching serve loop (spec §4.1 "Detection").
type Server struct {
	manager *config.Manager
	styled  *logger.StyledLogger
	sink    metrics.Sink
	tlsCfg  *tls.Config

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closing  bool
}

func NewServer(manager *config.Manager, styled *logger.StyledLogger, sink metrics.Sink) *Server {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Server{manager: manager, styled: styled, sink: sink}
}

// ListenAndServe binds addr, optionally wrapping it in TLS per cfg.TLS, and
// runs the accept loop until the listener is closed by Shutdown.
func (s *Server) ListenAndServe(addr string, cfg config.ServerConfig) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := tlsutil.Build(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.ALPN)
		if err != nil {
			ln.Close()
			return err
		}
		s.tlsCfg = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if s.styled != nil {
		s.styled.Info("listening", "addr", addr, "tls", cfg.TLS.Enabled)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn, cfg)
		}()
	}
}

// Addr returns the bound listener address, or nil if ListenAndServe has not
// yet bound a socket. Used by callers (and tests) that bind to port 0 and
// need to learn the assigned port.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown closes the listener and waits up to timeout for in-flight
// connections to drain; a timeout <= 0 waits until all of them finish.
func (s *Server) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	s.closing = true
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return
	}
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

func (s *Server) serveConn(conn net.Conn, cfg config.ServerConfig) {
	if cfg.IdleTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.IdleTimeout))
	}

	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return
		}
		_ = conn.SetDeadline(time.Time{})
		if tlsutil.NegotiatedProtocol(tlsConn) == "h2" {
			s.serveHTTP2(conn)
			return
		}
		serveHTTP1(conn, s, cfg)
		return
	}

	_ = conn.SetDeadline(time.Time{})
	bc, isH2 := detectH2Preface(conn)
	if isH2 {
		s.serveHTTP2(bc)
		return
	}
	serveHTTP1(bc, s, cfg)
}

// dispatch runs Dispatch against the live snapshot and records its latency
// under the matched route's path pattern (the request path when no route
// matches), the one metric the connection manager
// itself is positioned to observe (per-pool and per-breaker counters are
// recorded closer to those components).
func (s *Server) dispatch(req *domain.Request, clientIP net.IP, clientPort int) *domain.Response {
	start := time.Now()
	snap := s.manager.Get()
	clientIP = util.ResolveClientIP(req.Headers, clientIP, snap.Config.Server.TrustProxyHeaders, snap.TrustedProxyCIDRs)
	route := req.Path
	if m := snap.Router.Match(req.Method, req.Path); m.Found {
		route = m.Route.PathPattern
	}
	resp := Dispatch(snap, req, clientIP, clientPort)
	s.sink.RequestLatency(route, resp.StatusCode, time.Since(start))
	return resp
}

// detectH2Preface peeks the connection's first bytes for the HTTP/2
// client-preface string used by prior-knowledge plaintext HTTP/2 (spec
// §4.1 "Detection"), returning a conn with the peeked bytes restored to its
// read buffer either way.
func detectH2Preface(conn net.Conn) (net.Conn, bool) {
	br := bufio.NewReaderSize(conn, len(http2.ClientPreface))
	peeked, err := br.Peek(len(http2.ClientPreface))
	isH2 := err == nil && string(peeked) == http2.ClientPreface
	return &bufConn{Conn: conn, r: br}, isH2
}

// bufConn layers a bufio.Reader in front of a net.Conn's Read so bytes
// peeked for protocol detection are not lost.
type bufConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func (s *Server) serveHTTP2(conn net.Conn) {
	var slogger *slog.Logger
	if s.styled != nil {
		slogger = s.styled.GetUnderlying()
	}
	handler := func(req *domain.Request) *domain.Response {
		clientIP, clientPort := splitHostPort(conn.RemoteAddr())
		return s.dispatch(req, clientIP, clientPort)
	}
	session := h2session.NewSession(conn, slogger, handler)
	if err := session.Serve(); err != nil && s.styled != nil {
		s.styled.Debug("http2 session ended", "error", err)
	}
	conn.Close()
}
