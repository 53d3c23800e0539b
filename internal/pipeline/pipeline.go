package pipeline

import (
	"github.com/titan-gateway/titan/internal/domain"
)

// Pipeline is a resolved, ordered chain of middleware stages for one route.
// It is built once per config snapshot and shared read-only across workers;
// per-request state lives entirely in RequestContext/ResponseContext.
type Pipeline struct {
	stages []Middleware
}

func New(stages []Middleware) *Pipeline {
	return &Pipeline{stages: stages}
}

// Result is what RunRequest/RunResponse return: the outcome that stopped
// the phase (if any) plus which stage produced it, for logging.
type Result struct {
	Outcome   Outcome
	StoppedBy string
}

// RunRequest executes the request phase in declared order. Stop halts
// further stages (the response is assumed already filled in); Error halts
// and the caller must synthesize a 5xx.
func (p *Pipeline) RunRequest(ctx *RequestContext) Result {
	for _, mw := range p.stages {
		switch mw.ProcessRequest(ctx) {
		case Continue:
			continue
		case Stop:
			return Result{Outcome: Stop, StoppedBy: mw.ID()}
		case Error:
			return Result{Outcome: Error, StoppedBy: mw.ID()}
		}
	}
	return Result{Outcome: Continue}
}

// RunResponse executes the response phase in the same declared order (not
// reversed), over whatever response was produced by upstream or a
// request-phase short-circuit (spec §4.8).
func (p *Pipeline) RunResponse(ctx *ResponseContext) Result {
	for _, mw := range p.stages {
		switch mw.ProcessResponse(ctx) {
		case Continue:
			continue
		case Stop:
			return Result{Outcome: Stop, StoppedBy: mw.ID()}
		case Error:
			return Result{Outcome: Error, StoppedBy: mw.ID()}
		}
	}
	ApplyHeaderOps(&ctx.Response.Headers, ctx.HeaderOps())
	return Result{Outcome: Continue}
}

// Len reports the number of resolved stages, mostly useful for tests and
// diagnostics endpoints.
func (p *Pipeline) Len() int { return len(p.stages) }

// SynthesizeError builds the terminal response for an Error outcome or a
// request that never reached a terminal middleware, using the gateway's
// error taxonomy (spec §7) to pick a status code.
func SynthesizeError(kind domain.Kind, detail string) *domain.Response {
	resp := &domain.Response{StatusCode: kind.Status(), Complete: true}
	resp.Headers.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Body = []byte(detail)
	return resp
}
