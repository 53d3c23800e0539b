package middleware

import (
	"bufio"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titan-gateway/titan/internal/breaker"
	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/pipeline"
	"github.com/titan-gateway/titan/internal/upstream"
)

// fakeBackend starts a tiny listener that replies with a fixed HTTP/1.1
// response to every accepted connection, standing in for a real backend.
func fakeBackend(t *testing.T, status int, body string) (*domain.Backend, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				br := bufio.NewReader(c)
				// discard the request line + headers
				for {
					line, err := br.ReadString('\n')
					if err != nil || line == "\r\n" {
						break
					}
				}
				resp := "HTTP/1.1 " + statusLine(status) + "\r\n" +
					"Content-Length: " + itoa(len(body)) + "\r\n\r\n" + body
				c.Write([]byte(resp))
			}(conn)
		}
	}()

	u, err := url.Parse("http://" + ln.Addr().String())
	require.NoError(t, err)
	backend := domain.NewBackend(1, "b1", u, 1, 10, domain.HealthCheckConfig{})
	return backend, func() { ln.Close() }
}

func statusLine(code int) string {
	switch code {
	case 200:
		return "200 OK"
	case 500:
		return "500 Internal Server Error"
	default:
		return itoa(code) + " Status"
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func newTestUpstream(backends ...*domain.Backend) *upstream.Upstream {
	policy := upstream.NewPolicy("round_robin", 1)
	return upstream.New("test", backends, policy, 4, upstream.RetryConfig{}, breaker.DefaultConfig(), breaker.NewCatastrophicFlags(), nil)
}

func newReqCtx(method, path string) *pipeline.RequestContext {
	req := &domain.Request{Method: method, Path: path, Version: "HTTP/1.1"}
	return pipeline.NewRequestContext(req, domain.Match{Found: true}, net.ParseIP("127.0.0.1"), 0, "corr-1")
}

func TestProxy_ForwardsToBackendAndFillsResponse(t *testing.T) {
	backend, cleanup := fakeBackend(t, 200, "hello")
	defer cleanup()

	up := newTestUpstream(backend)
	p := NewProxy("proxy", 2*time.Second, 2*time.Second)

	ctx := newReqCtx("GET", "/v1/things")
	outcome := p.ProcessRequestWithUpstream(ctx, up)

	require.Equal(t, pipeline.Continue, outcome)
	require.NotNil(t, ctx.Response)
	assert.Equal(t, 200, ctx.Response.StatusCode)
	assert.Equal(t, "hello", string(ctx.Response.Body))
}

func TestProxy_NoHealthyBackendYieldsUpstreamUnavailable(t *testing.T) {
	u, _ := url.Parse("http://127.0.0.1:1")
	backend := domain.NewBackend(1, "down", u, 1, 10, domain.HealthCheckConfig{})
	backend.SetStatus(domain.BackendUnhealthy)

	up := newTestUpstream(backend)
	p := NewProxy("proxy", 200*time.Millisecond, 200*time.Millisecond)

	ctx := newReqCtx("GET", "/v1/things")
	outcome := p.ProcessRequestWithUpstream(ctx, up)

	require.Equal(t, pipeline.Stop, outcome)
	require.NotNil(t, ctx.Response)
	assert.Equal(t, domain.KindUpstreamUnavailable.Status(), ctx.Response.StatusCode)
}

func TestProxy_DialFailureYieldsUpstreamTransport(t *testing.T) {
	u, _ := url.Parse("http://127.0.0.1:1")
	backend := domain.NewBackend(1, "unreachable", u, 1, 10, domain.HealthCheckConfig{})

	up := newTestUpstream(backend)
	p := NewProxy("proxy", 200*time.Millisecond, 200*time.Millisecond)

	ctx := newReqCtx("GET", "/v1/things")
	outcome := p.ProcessRequestWithUpstream(ctx, up)

	require.Equal(t, pipeline.Stop, outcome)
	require.NotNil(t, ctx.Response)
	assert.True(t, ctx.Response.StatusCode == domain.KindUpstreamTransport.Status() ||
		ctx.Response.StatusCode == domain.KindUpstreamTimeout.Status())
}

func TestProxy_ProcessRequestWithoutUpstreamBindingFails(t *testing.T) {
	p := NewProxy("proxy", time.Second, time.Second)
	ctx := newReqCtx("GET", "/v1/things")

	outcome := p.ProcessRequest(ctx)

	assert.Equal(t, pipeline.Stop, outcome)
	assert.Equal(t, domain.KindInternal.Status(), ctx.Response.StatusCode)
}

func TestWriteRequest_StripsHopByHopAndOwnsHost(t *testing.T) {
	req := &domain.Request{
		Method: "POST",
		Path:   "/x",
		Query:  "a=1",
		Headers: domain.Headers{
			{Name: "Connection", Value: "keep-alive"},
			{Name: "Host", Value: "client-supplied"},
			{Name: "X-Custom", Value: "v"},
		},
		Body: []byte("payload"),
	}

	var buf buffer
	err := writeRequest(&buf, req, "backend.internal:8080")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "POST /x?a=1 HTTP/1.1\r\n")
	assert.Contains(t, out, "Host: backend.internal:8080\r\n")
	assert.Contains(t, out, "X-Custom: v\r\n")
	assert.NotContains(t, out, "client-supplied")
	assert.Contains(t, out, "payload")
}

type buffer struct {
	data []byte
}

func (b *buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *buffer) String() string { return string(b.data) }
