package pipeline

// Outcome is the three-way result every middleware phase returns, per
// spec §4.8: Continue runs the next stage, Stop short-circuits the current
// phase, Error terminates the request with a synthesized 5xx.
type Outcome uint8

const (
	Continue Outcome = iota
	Stop
	Error
)

// Type tags the kind of middleware for the same-type REPLACEMENT conflict
// policy (spec §4.8).
type Type string

const (
	TypeLogging     Type = "logging"
	TypeCORS        Type = "cors"
	TypeRateLimit   Type = "rate_limit"
	TypeJWTAuth     Type = "jwt_auth"
	TypeJWTAuthz    Type = "jwt_authz"
	TypeTransform   Type = "transform"
	TypeCompression Type = "compression"
	TypeProxy       Type = "proxy"
)

// Middleware is a pluggable pipeline stage. A stage need not implement both
// phases meaningfully; the zero behavior (embed Base) is Continue.
type Middleware interface {
	ID() string
	Type() Type
	ProcessRequest(ctx *RequestContext) Outcome
	ProcessResponse(ctx *ResponseContext) Outcome
}

// Base gives a concrete middleware a no-op default for whichever phase it
// doesn't care about, so e.g. a request-only stage need not define
// ProcessResponse.
type Base struct {
	id string
	mt Type
}

func NewBase(id string, mt Type) Base { return Base{id: id, mt: mt} }

func (b Base) ID() string   { return b.id }
func (b Base) Type() Type   { return b.mt }

func (b Base) ProcessRequest(_ *RequestContext) Outcome   { return Continue }
func (b Base) ProcessResponse(_ *ResponseContext) Outcome { return Continue }
