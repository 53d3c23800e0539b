package connmgr

import (
	"net"

	"github.com/google/uuid"

	"github.com/titan-gateway/titan/internal/config"
	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/pipeline"
)

// Dispatch resolves req against snap, runs the matched route's pipeline,
// and returns the response to write back to the client. It is the single
// entry point shared by the HTTP/1.1 serve loop and the HTTP/2 session's
// Handler callback (spec §2 "Data flow": router match -> request phase ->
// proxy -> response phase).
func Dispatch(snap *config.Snapshot, req *domain.Request, clientIP net.IP, clientPort int) *domain.Response {
	match := snap.Router.Match(req.Method, req.Path)
	if !match.Found {
		return pipeline.SynthesizeError(domain.KindClientProtocol, "no route matched "+req.Method+" "+req.Path)
	}

	pipe, ok := snap.Pipelines[match.Route]
	if !ok {
		return pipeline.SynthesizeError(domain.KindInternal, "route has no resolved pipeline")
	}

	reqCtx := pipeline.NewRequestContext(req, match, clientIP, clientPort, uuid.NewString())

	result := pipe.RunRequest(reqCtx)
	if result.Outcome == pipeline.Error {
		reqCtx.Response = pipeline.SynthesizeError(domain.KindInternal, "middleware "+result.StoppedBy+" failed")
	}

	// Proxy dispatch is implicit: a route with an upstream binding and no
	// request-phase short-circuit is forwarded through the shared Proxy
	// stage, which needs the *upstream.Upstream the pipeline package can't
	// carry (see internal/middleware/proxy.go ProcessRequest doc comment).
	if reqCtx.Response == nil && match.Route.UpstreamName != "" {
		up, ok := snap.Upstreams[match.Route.UpstreamName]
		if !ok {
			reqCtx.Response = pipeline.SynthesizeError(domain.KindUpstreamUnavailable, "unknown upstream "+match.Route.UpstreamName)
		} else {
			snap.ProxyStage.ProcessRequestWithUpstream(reqCtx, up)
		}
	}

	if reqCtx.Response == nil {
		reqCtx.Response = pipeline.SynthesizeError(domain.KindInternal, "route has no upstream and no middleware produced a response")
	}

	respCtx := pipeline.NewResponseContext(reqCtx, reqCtx.Response)
	_ = pipe.RunResponse(respCtx)

	return respCtx.Response
}
