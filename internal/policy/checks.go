package policy

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/nao1215/dysdera/internal/model"
)

// Reasons attached to denies by the built-in checks.
const (
	ReasonOutOfScope     = "out-of-scope"
	ReasonExcluded       = "excluded"
	ReasonNotFollowed    = "not-followed"
	ReasonMaxDepth       = "max-depth"
	ReasonContentType    = "content-type"
	ReasonContentTooLong = "content-too-long"
	ReasonNotModified    = "not-modified"
	ReasonStatus         = "status"
)

// scopeRule is one allowed-host entry, optionally narrowed to a path glob.
type scopeRule struct {
	host hostPattern
	path string
}

// ScopeCheck admits candidates whose host (and optional path) matches one of
// the allowed patterns. An empty pattern list admits every host.
//
// Patterns have the form "host" or "host/path-glob", for example
// "example.com", "*.example.org" or "example.net/docs/*".
//
// In extended mode a candidate outside the scope is still admitted when its
// parent is inside it. The candidate's own links then have an out-of-scope
// parent and are denied, so off-scope pages are visited but never expanded.
type ScopeCheck struct {
	rules    []scopeRule
	extended bool
}

// NewScopeCheck creates a scope check.
func NewScopeCheck(allowed []string, extended bool) *ScopeCheck {
	s := &ScopeCheck{extended: extended}
	for _, raw := range allowed {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		host, p, _ := strings.Cut(raw, "/")
		rule := scopeRule{host: hostPattern(host)}
		if p != "" {
			rule.path = "/" + p
		}
		s.rules = append(s.rules, rule)
	}
	return s
}

// Name implements Check.
func (s *ScopeCheck) Name() string { return "scope" }

// InScope reports whether host and path fall in the allowed scope.
func (s *ScopeCheck) InScope(host, urlPath string) bool {
	if len(s.rules) == 0 {
		return true
	}
	for _, r := range s.rules {
		if !r.host.match(host) {
			continue
		}
		if r.path == "" || matchPathPattern(r.path, urlPath) {
			return true
		}
	}
	return false
}

// AdmitCandidate implements Check.
func (s *ScopeCheck) AdmitCandidate(_ context.Context, c Candidate) model.Decision {
	if s.InScope(c.URL.Hostname(), c.URL.Path) {
		return model.Allow()
	}
	if s.extended && c.Parent != nil && s.InScope(c.Parent.Hostname(), c.Parent.Path) {
		return model.Allow()
	}
	return model.Deny(s.Name(), ReasonOutOfScope)
}

// AdmitResponse implements Check.
func (s *ScopeCheck) AdmitResponse(context.Context, Response) model.Decision {
	return model.Allow()
}

// ExclusionCheck denies candidates matching any denied pattern.
// See urlPattern for the pattern syntax.
type ExclusionCheck struct {
	patterns []urlPattern
}

// NewExclusionCheck compiles the denied patterns.
func NewExclusionCheck(denied []string) (*ExclusionCheck, error) {
	e := &ExclusionCheck{}
	for _, raw := range denied {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p, err := compileURLPattern(raw)
		if err != nil {
			return nil, err
		}
		e.patterns = append(e.patterns, p)
	}
	return e, nil
}

// Name implements Check.
func (e *ExclusionCheck) Name() string { return "exclusion" }

// AdmitCandidate implements Check.
func (e *ExclusionCheck) AdmitCandidate(_ context.Context, c Candidate) model.Decision {
	raw := c.URL.String()
	for _, p := range e.patterns {
		if p.match(raw, c.URL.Path) {
			return model.Deny(e.Name(), ReasonExcluded+": "+p.raw)
		}
	}
	return model.Allow()
}

// AdmitResponse implements Check.
func (e *ExclusionCheck) AdmitResponse(context.Context, Response) model.Decision {
	return model.Allow()
}

// SitePatterns holds per-host path globs.
// Ignore denies matching paths. Follow, when non-empty, admits only matching
// paths.
type SitePatterns struct {
	Ignore []string
	Follow []string
}

// SiteCheck applies per-host ignore and follow patterns.
type SiteCheck struct {
	sites map[string]SitePatterns
}

// NewSiteCheck creates a site check keyed by lower-case hostname.
func NewSiteCheck(sites map[string]SitePatterns) *SiteCheck {
	normalized := make(map[string]SitePatterns, len(sites))
	for host, p := range sites {
		normalized[strings.ToLower(host)] = p
	}
	return &SiteCheck{sites: normalized}
}

// Name implements Check.
func (s *SiteCheck) Name() string { return "site" }

// AdmitCandidate implements Check.
func (s *SiteCheck) AdmitCandidate(_ context.Context, c Candidate) model.Decision {
	p, ok := s.sites[strings.ToLower(c.URL.Hostname())]
	if !ok {
		return model.Allow()
	}
	for _, pattern := range p.Ignore {
		if matchPathPattern(pattern, c.URL.Path) {
			return model.Deny(s.Name(), ReasonExcluded+": "+pattern)
		}
	}
	if len(p.Follow) == 0 {
		return model.Allow()
	}
	for _, pattern := range p.Follow {
		if matchPathPattern(pattern, c.URL.Path) {
			return model.Allow()
		}
	}
	return model.Deny(s.Name(), ReasonNotFollowed)
}

// AdmitResponse implements Check.
func (s *SiteCheck) AdmitResponse(context.Context, Response) model.Decision {
	return model.Allow()
}

// DepthCheck denies candidates deeper than Max. A negative Max disables it.
type DepthCheck struct {
	Max int
}

// Name implements Check.
func (d DepthCheck) Name() string { return "depth" }

// AdmitCandidate implements Check.
func (d DepthCheck) AdmitCandidate(_ context.Context, c Candidate) model.Decision {
	if d.Max >= 0 && c.Depth > d.Max {
		return model.Deny(d.Name(), ReasonMaxDepth)
	}
	return model.Allow()
}

// AdmitResponse implements Check.
func (d DepthCheck) AdmitResponse(context.Context, Response) model.Decision {
	return model.Allow()
}

// StatusCheck admits only 2xx responses. A 304 is reported as not-modified.
type StatusCheck struct{}

// Name implements Check.
func (StatusCheck) Name() string { return "status" }

// AdmitCandidate implements Check.
func (StatusCheck) AdmitCandidate(context.Context, Candidate) model.Decision {
	return model.Allow()
}

// AdmitResponse implements Check.
func (s StatusCheck) AdmitResponse(_ context.Context, r Response) model.Decision {
	switch {
	case r.StatusCode == http.StatusNotModified:
		return model.Deny(s.Name(), ReasonNotModified)
	case r.StatusCode < 200 || r.StatusCode > 299:
		return model.Deny(s.Name(), ReasonStatus+"-"+strconv.Itoa(r.StatusCode))
	default:
		return model.Allow()
	}
}

// ContentTypeCheck admits responses whose media type is in the allowlist.
// Entries may be exact ("text/html"), a type wildcard ("image/*") or "*/*".
// An empty allowlist admits everything.
type ContentTypeCheck struct {
	allowed []string
}

// NewContentTypeCheck creates a content-type check.
func NewContentTypeCheck(allowed []string) *ContentTypeCheck {
	c := &ContentTypeCheck{}
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			c.allowed = append(c.allowed, a)
		}
	}
	return c
}

// Name implements Check.
func (c *ContentTypeCheck) Name() string { return "content-type" }

// AdmitCandidate implements Check.
func (c *ContentTypeCheck) AdmitCandidate(context.Context, Candidate) model.Decision {
	return model.Allow()
}

// AdmitResponse implements Check.
func (c *ContentTypeCheck) AdmitResponse(_ context.Context, r Response) model.Decision {
	if len(c.allowed) == 0 {
		return model.Allow()
	}
	mediaType := MediaType(r.ContentType)
	for _, a := range c.allowed {
		if a == "*/*" || a == mediaType {
			return model.Allow()
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(mediaType, prefix+"/") {
			return model.Allow()
		}
	}
	return model.Deny(c.Name(), fmt.Sprintf("%s: %q", ReasonContentType, mediaType))
}

// ContentLengthCheck denies responses longer than Max bytes.
// A non-positive Max disables it. Unknown lengths (negative) are admitted;
// the fetcher enforces the same limit while reading.
type ContentLengthCheck struct {
	Max int64
}

// Name implements Check.
func (c ContentLengthCheck) Name() string { return "content-length" }

// AdmitCandidate implements Check.
func (c ContentLengthCheck) AdmitCandidate(context.Context, Candidate) model.Decision {
	return model.Allow()
}

// AdmitResponse implements Check.
func (c ContentLengthCheck) AdmitResponse(_ context.Context, r Response) model.Decision {
	if c.Max > 0 && r.ContentLength > c.Max {
		return model.Deny(c.Name(), ReasonContentTooLong)
	}
	return model.Allow()
}

// MediaType returns the lower-cased media type of a Content-Type value
// without parameters.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
