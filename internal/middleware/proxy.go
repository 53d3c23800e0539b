package middleware

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/metrics"
	"github.com/titan-gateway/titan/internal/pipeline"
	"github.com/titan-gateway/titan/internal/pool"
	"github.com/titan-gateway/titan/internal/upstream"
)

// Proxy is the terminal middleware: it selects the upstream, acquires a
// backend connection, writes the serialized request (forwarding headers
// except hop-by-hop and Connection/Host, which the proxy owns), reads and
// parses the response, and places it into the response context. On any
// failure it fills 502/503/504 (spec §4.8 "Proxy (terminal)").
type Proxy struct {
	pipeline.Base
	dialTimeout time.Duration
	ioTimeout   time.Duration
	sink        metrics.Sink
}

func NewProxy(id string, dialTimeout, ioTimeout time.Duration) *Proxy {
	return &Proxy{Base: pipeline.NewBase(id, pipeline.TypeProxy), dialTimeout: dialTimeout, ioTimeout: ioTimeout, sink: metrics.NoopSink{}}
}

// SetSink installs the metrics sink pool acquisitions are reported against.
// Build calls this once per snapshot after asserting the registry's "proxy"
// entry (spec §11 pool hit/miss counters).
func (p *Proxy) SetSink(sink metrics.Sink) {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	p.sink = sink
}

// ProcessRequest is never the real dispatch path: a Proxy stage needs to
// know which Upstream the matched route targets, and the pipeline package
// has no dependency on the upstream package to carry that binding. The
// connection manager calls ProcessRequestWithUpstream directly instead once
// it has resolved the route's upstream from the config snapshot.
func (p *Proxy) ProcessRequest(ctx *pipeline.RequestContext) pipeline.Outcome {
	ctx.Response = pipeline.SynthesizeError(domain.KindInternal, "proxy middleware requires an upstream binding")
	return pipeline.Stop
}

// ProcessRequestWithUpstream is the real entry point the connection manager
// calls once it has resolved which Upstream this route targets.
func (p *Proxy) ProcessRequestWithUpstream(ctx *pipeline.RequestContext, up *upstream.Upstream) pipeline.Outcome {
	clientHint := ""
	if ctx.ClientIP != nil {
		clientHint = ctx.ClientIP.String()
	}

	backend, err := up.Select(context.Background(), clientHint)
	if err != nil {
		ctx.Response = pipeline.SynthesizeError(domain.KindUpstreamUnavailable, err.Error())
		return pipeline.Stop
	}

	backend.IncActive()
	conn, fromPool, err := p.acquire(up, backend)
	if err != nil {
		backend.DecActive()
		up.RecordResult(backend.ID, false)
		ctx.Response = pipeline.SynthesizeError(domain.KindUpstreamTransport, err.Error())
		return pipeline.Stop
	}

	if p.ioTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(p.ioTimeout))
	}

	resp, err := p.roundTrip(conn, ctx.Request, backend.URL.Host)
	backend.DecActive()
	if err != nil {
		conn.Close()
		backend.RecordRequest(false)
		up.RecordResult(backend.ID, false)
		kind := domain.KindUpstreamTransport
		if isTimeout(err) {
			kind = domain.KindUpstreamTimeout
		}
		ctx.Response = pipeline.SynthesizeError(kind, err.Error())
		return pipeline.Stop
	}

	backend.RecordRequest(true)
	up.RecordResult(backend.ID, true)
	_ = conn.SetDeadline(time.Time{})
	up.Pool.Release(conn)
	_ = fromPool

	ctx.Response = resp
	return pipeline.Continue
}

// acquire returns a pooled idle connection if one is live, otherwise dials
// a fresh one (spec §4.6 LIFO pool with fallback dial on miss).
func (p *Proxy) acquire(up *upstream.Upstream, backend *domain.Backend) (*pool.Conn, bool, error) {
	host, port := backend.URL.Hostname(), backend.URL.Port()
	if port == "" {
		port = "80"
		if backend.URL.Scheme == "https" {
			port = "443"
		}
	}

	if c := up.Pool.Acquire(host, port); c != nil {
		p.sink.PoolHit(up.Name)
		return c, true, nil
	}
	p.sink.PoolMiss(up.Name)

	d := net.Dialer{Timeout: p.dialTimeout}
	raw, err := d.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, false, err
	}
	return &pool.Conn{
		Conn:      raw,
		Host:      host,
		Port:      port,
		BackendID: backend.ID,
		CreatedAt: time.Now(),
		KeepAlive: true,
	}, false, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

func (p *Proxy) roundTrip(conn *pool.Conn, req *domain.Request, hostOverride string) (*domain.Response, error) {
	if err := writeRequest(conn, req, hostOverride); err != nil {
		return nil, err
	}
	conn.ServedCount++
	conn.LastUsed = time.Now()
	return readResponse(conn, req.Method)
}

// writeRequest serializes req onto w, stripping hop-by-hop headers and
// owning Host/Connection itself (spec §4.8).
func writeRequest(w io.Writer, req *domain.Request, hostOverride string) error {
	var b strings.Builder
	path := req.Path
	if req.Query != "" {
		path += "?" + req.Query
	}
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", req.Method, path)
	fmt.Fprintf(&b, "Host: %s\r\n", hostOverride)

	for _, h := range req.Headers {
		if domain.IsHopByHop(h.Name) || domain.EqualFold(h.Name, "Host") {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(req.Body))
	b.WriteString("Connection: keep-alive\r\n\r\n")

	if _, err := w.Write([]byte(b.String())); err != nil {
		return err
	}
	if len(req.Body) > 0 {
		_, err := w.Write(req.Body)
		return err
	}
	return nil
}

// readResponse parses a backend's HTTP/1.1 response. net/http's response
// reader is used here deliberately: none of the corpus's third-party stack
// covers decoding an upstream-originated HTTP response, and re-implementing
// RFC 7230 response parsing would duplicate net/http's already-hardened
// chunked/Content-Length handling for no behavioral gain.
func readResponse(conn io.Reader, method string) (*domain.Response, error) {
	br := bufio.NewReader(conn)
	httpReq := &http.Request{Method: method}
	httpResp, err := http.ReadResponse(br, httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	resp := &domain.Response{StatusCode: httpResp.StatusCode, Body: body, Complete: true}
	for name, values := range httpResp.Header {
		for _, v := range values {
			resp.Headers.Add(name, v)
		}
	}
	return resp, nil
}
