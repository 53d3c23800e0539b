package middleware

import (
	"regexp"
	"strings"

	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/pipeline"
)

// HeaderRule is one add/remove/modify header operation applied by Transform.
type HeaderRule struct {
	Kind  pipeline.HeaderOpKind
	Name  string
	Value string
	Phase TransformPhase
}

// TransformPhase says whether a HeaderRule applies to the outbound request
// or the inbound response.
type TransformPhase uint8

const (
	PhaseRequest TransformPhase = iota
	PhaseResponse
)

// QueryRule is one add/remove/modify query-parameter operation.
type QueryRule struct {
	Kind  pipeline.HeaderOpKind
	Name  string
	Value string
}

// TransformConfig is the per-route path/header/query rewrite policy
// (spec §4.8).
type TransformConfig struct {
	StripPrefix  string
	RegexMatch   *regexp.Regexp // nil disables regex rewrite
	RegexReplace string
	Headers      []HeaderRule
	Query        []QueryRule
}

// Transform applies prefix-strip and regex path rewrites, queues header
// add/remove/modify ops for the response phase to apply, and rewrites the
// query string (spec §4.8).
type Transform struct {
	pipeline.Base
	cfg TransformConfig
}

func NewTransform(id string, cfg TransformConfig) *Transform {
	return &Transform{Base: pipeline.NewBase(id, pipeline.TypeTransform), cfg: cfg}
}

func (t *Transform) ProcessRequest(ctx *pipeline.RequestContext) pipeline.Outcome {
	req := ctx.Request

	if t.cfg.StripPrefix != "" {
		req.Path = strings.TrimPrefix(req.Path, t.cfg.StripPrefix)
		if !strings.HasPrefix(req.Path, "/") {
			req.Path = "/" + req.Path
		}
	}
	if t.cfg.RegexMatch != nil {
		req.Path = t.cfg.RegexMatch.ReplaceAllString(req.Path, t.cfg.RegexReplace)
	}

	for _, rule := range t.cfg.Headers {
		if rule.Phase != PhaseRequest {
			continue
		}
		applyHeaderRule(&req.Headers, rule)
	}

	if len(t.cfg.Query) > 0 {
		req.Query = rewriteQuery(req.Query, t.cfg.Query)
	}

	for _, rule := range t.cfg.Headers {
		if rule.Phase == PhaseResponse {
			ctx.QueueHeaderOp(rule.Kind, rule.Name, rule.Value)
		}
	}
	return pipeline.Continue
}

func applyHeaderRule(h *domain.Headers, rule HeaderRule) {
	switch rule.Kind {
	case pipeline.HeaderSet:
		h.Set(rule.Name, rule.Value)
	case pipeline.HeaderAdd:
		h.Add(rule.Name, rule.Value)
	case pipeline.HeaderDel:
		h.Del(rule.Name)
	}
}

func rewriteQuery(raw string, rules []QueryRule) string {
	values := make(map[string][]string)
	var order []string
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		if _, seen := values[k]; !seen {
			order = append(order, k)
		}
		values[k] = append(values[k], v)
	}

	for _, rule := range rules {
		switch rule.Kind {
		case pipeline.HeaderSet:
			if _, seen := values[rule.Name]; !seen {
				order = append(order, rule.Name)
			}
			values[rule.Name] = []string{rule.Value}
		case pipeline.HeaderAdd:
			if _, seen := values[rule.Name]; !seen {
				order = append(order, rule.Name)
			}
			values[rule.Name] = append(values[rule.Name], rule.Value)
		case pipeline.HeaderDel:
			delete(values, rule.Name)
		}
	}

	var b strings.Builder
	for _, k := range order {
		vs, ok := values[k]
		if !ok {
			continue
		}
		for _, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}
