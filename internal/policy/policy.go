package policy

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/nao1215/dysdera/internal/model"
)

// Candidate is a URL proposed for enqueue.
type Candidate struct {
	// URL is the canonical candidate URL.
	URL *url.URL
	// Depth is the inferred discovery depth.
	Depth int
	// Parent is the page the candidate was found on. Nil for seeds.
	Parent *url.URL
	// Kind is the expected kind of the target.
	Kind model.Kind
}

// Response describes a fetched response before extraction.
type Response struct {
	URL           *url.URL
	StatusCode    int
	ContentType   string
	ContentLength int64
}

// Check is one admission rule. It can veto a candidate before enqueue, a
// response before extraction, or both. A check that does not care about
// one side returns model.Allow() for it.
//
// Checks must be safe for concurrent use.
type Check interface {
	Name() string
	AdmitCandidate(ctx context.Context, c Candidate) model.Decision
	AdmitResponse(ctx context.Context, r Response) model.Decision
}

// Engine evaluates an ordered list of checks and stops at the first deny.
// The check list is fixed at construction time.
type Engine struct {
	checks []Check
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used to report denies at debug level.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine evaluating checks in the given order.
// Nil checks are skipped.
func NewEngine(checks []Check, opts ...EngineOption) *Engine {
	e := &Engine{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, c := range checks {
		if c != nil {
			e.checks = append(e.checks, c)
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// With returns a new engine with extra checks appended after the existing ones.
func (e *Engine) With(checks ...Check) *Engine {
	all := make([]Check, 0, len(e.checks)+len(checks))
	all = append(all, e.checks...)
	all = append(all, checks...)
	return NewEngine(all, WithLogger(e.logger))
}

// Names returns the check names in evaluation order.
func (e *Engine) Names() []string {
	names := make([]string, len(e.checks))
	for i, c := range e.checks {
		names[i] = c.Name()
	}
	return names
}

// AdmitCandidate runs every check against c until one denies.
func (e *Engine) AdmitCandidate(ctx context.Context, c Candidate) model.Decision {
	for _, check := range e.checks {
		d := check.AdmitCandidate(ctx, c)
		if !d.Allowed {
			d = attribute(d, check)
			e.logger.Debug("candidate denied",
				"url", c.URL.String(),
				"depth", c.Depth,
				"check", d.Check,
				"reason", d.Reason,
			)
			return d
		}
	}
	return model.Allow()
}

// AdmitResponse runs every check against r until one denies.
func (e *Engine) AdmitResponse(ctx context.Context, r Response) model.Decision {
	for _, check := range e.checks {
		d := check.AdmitResponse(ctx, r)
		if !d.Allowed {
			d = attribute(d, check)
			e.logger.Debug("response denied",
				"url", r.URL.String(),
				"status", r.StatusCode,
				"content_type", r.ContentType,
				"check", d.Check,
				"reason", d.Reason,
			)
			return d
		}
	}
	return model.Allow()
}

func attribute(d model.Decision, c Check) model.Decision {
	if d.Check == "" {
		d.Check = c.Name()
	}
	if d.Reason == "" {
		d.Reason = "denied"
	}
	return d
}

// Funcs adapts plain functions to a Check. A nil function allows.
type Funcs struct {
	CheckName string
	Candidate func(ctx context.Context, c Candidate) model.Decision
	Response  func(ctx context.Context, r Response) model.Decision
}

// Name implements Check.
func (f Funcs) Name() string {
	return f.CheckName
}

// AdmitCandidate implements Check.
func (f Funcs) AdmitCandidate(ctx context.Context, c Candidate) model.Decision {
	if f.Candidate == nil {
		return model.Allow()
	}
	return f.Candidate(ctx, c)
}

// AdmitResponse implements Check.
func (f Funcs) AdmitResponse(ctx context.Context, r Response) model.Decision {
	if f.Response == nil {
		return model.Allow()
	}
	return f.Response(ctx, r)
}
