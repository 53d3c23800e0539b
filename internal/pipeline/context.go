// Package pipeline implements the two-phase middleware pipeline: an ordered
// chain of stages run once over the request and once over the response.
package pipeline

import (
	"net"
	"time"

	"github.com/titan-gateway/titan/internal/domain"
)

// HeaderOp is a recorded header mutation a middleware wants applied. Ops are
// buffered rather than applied in place so a request-phase Transform stage
// can queue response-phase header work without copying the whole header set.
type HeaderOp struct {
	Kind  HeaderOpKind
	Name  string
	Value string
}

type HeaderOpKind uint8

const (
	HeaderSet HeaderOpKind = iota
	HeaderAdd
	HeaderDel
)

// Context is the shared state both RequestContext and ResponseContext embed:
// the router match, client identity, timing, correlation id, and the cross-
// middleware metadata map (spec §4.8 "Context").
type Context struct {
	Match         domain.Match
	ClientIP      net.IP
	ClientPort    int
	StartTime     time.Time
	CorrelationID string
	Metadata      map[string]string

	errored bool
	errMsg  string

	headerOps []HeaderOp
}

func newContext(match domain.Match, ip net.IP, port int, correlationID string) Context {
	return Context{
		Match:         match,
		ClientIP:      ip,
		ClientPort:    port,
		StartTime:     time.Now(),
		CorrelationID: correlationID,
		Metadata:      make(map[string]string),
	}
}

// Fail marks the context as terminally errored and records msg for Errored
// and ErrorMsg. RunRequest and RunResponse do not consult this flag; only a
// stage returning Error halts a phase.
func (c *Context) Fail(msg string) {
	c.errored = true
	c.errMsg = msg
}

func (c *Context) Errored() bool   { return c.errored }
func (c *Context) ErrorMsg() string { return c.errMsg }

// QueueHeaderOp buffers a header mutation for later application; it owns its
// own copies of name/value so it never aliases a config snapshot's strings.
func (c *Context) QueueHeaderOp(kind HeaderOpKind, name, value string) {
	c.headerOps = append(c.headerOps, HeaderOp{Kind: kind, Name: name, Value: string([]byte(value))})
}

func (c *Context) HeaderOps() []HeaderOp { return c.headerOps }

// ApplyHeaderOps replays buffered header mutations onto h.
func ApplyHeaderOps(h *domain.Headers, ops []HeaderOp) {
	for _, op := range ops {
		switch op.Kind {
		case HeaderSet:
			h.Set(op.Name, op.Value)
		case HeaderAdd:
			h.Add(op.Name, op.Value)
		case HeaderDel:
			h.Del(op.Name)
		}
	}
}

// RequestContext is passed to every middleware's ProcessRequest call.
// Response starts nil; a middleware that returns Stop must fill it in
// before returning, since the response phase runs over whatever is here
// (spec §4.8 "the response is assumed already filled by the stopping
// middleware").
type RequestContext struct {
	Context
	Request  *domain.Request
	Response *domain.Response
}

// ResponseContext is passed to every middleware's ProcessResponse call. It
// carries a pointer back to the RequestContext it was spawned from so
// response-phase stages can read request-phase metadata (e.g. JWT scopes).
type ResponseContext struct {
	Context
	Response *domain.Response
	Request  *RequestContext
}

// NewRequestContext builds the initial context for an incoming request.
func NewRequestContext(req *domain.Request, match domain.Match, ip net.IP, port int, correlationID string) *RequestContext {
	return &RequestContext{
		Context: newContext(match, ip, port, correlationID),
		Request: req,
	}
}

// NewResponseContext derives a response-phase context from its request
// context, inheriting metadata, correlation id, and match. If the request
// phase already filled reqCtx.Response (a Stop short-circuit), that
// response is used; otherwise upstreamResp (e.g. the Proxy stage's reply)
// is used.
func NewResponseContext(reqCtx *RequestContext, upstreamResp *domain.Response) *ResponseContext {
	resp := reqCtx.Response
	if resp == nil {
		resp = upstreamResp
	}
	return &ResponseContext{
		Context:  reqCtx.Context,
		Response: resp,
		Request:  reqCtx,
	}
}

// Reset clears a RequestContext for pool reuse (spec §5 "reusable per-worker
// pipeline instances").
func (c *RequestContext) Reset() {
	c.Match = domain.Match{}
	c.ClientIP = nil
	c.ClientPort = 0
	c.StartTime = time.Time{}
	c.CorrelationID = ""
	for k := range c.Metadata {
		delete(c.Metadata, k)
	}
	c.errored = false
	c.errMsg = ""
	c.headerOps = c.headerOps[:0]
	c.Request = nil
	c.Response = nil
}
