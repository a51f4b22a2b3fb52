package policy

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// hostPattern matches a hostname.
//
//	"example.com"    matches only example.com
//	"*.example.com"  matches example.com and every subdomain
//	"*"              matches every host
//
// Any other pattern containing glob metacharacters is matched with path.Match.
type hostPattern string

func (p hostPattern) match(host string) bool {
	pattern := strings.ToLower(string(p))
	host = strings.ToLower(host)

	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*."):
		apex := pattern[2:]
		return host == apex || strings.HasSuffix(host, "."+apex)
	case strings.ContainsAny(pattern, "*?["):
		ok, err := path.Match(pattern, host)
		return err == nil && ok
	default:
		return host == pattern
	}
}

// matchPathPattern matches a URL path against a glob.
//
//	"/admin/*"  matches /admin and everything below it
//	"*.pdf"     matches any path ending in .pdf
//
// Other patterns use path.Match, and patterns without a slash are also
// tried against the last path segment.
func matchPathPattern(pattern, p string) bool {
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(p, prefix+"/") || p == prefix {
			return true
		}
	}

	if strings.HasPrefix(pattern, "*.") && strings.HasSuffix(p, pattern[1:]) {
		return true
	}

	if ok, err := path.Match(pattern, p); err == nil && ok {
		return true
	}

	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		if ok, err := path.Match(pattern, path.Base(p)); err == nil && ok {
			return true
		}
	}

	return false
}

// urlPattern is a compiled exclusion pattern.
// A "re:" prefix selects a regular expression matched against the full URL.
// A pattern starting with "/" or "*." is a path glob. Anything else is a
// glob matched against the full URL, or a substring when it has no glob
// metacharacters.
type urlPattern struct {
	raw string
	re  *regexp.Regexp
}

func compileURLPattern(raw string) (urlPattern, error) {
	if expr, ok := strings.CutPrefix(raw, "re:"); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return urlPattern{}, fmt.Errorf("compile pattern %q: %w", raw, err)
		}
		return urlPattern{raw: raw, re: re}, nil
	}
	return urlPattern{raw: raw}, nil
}

func (p urlPattern) match(rawURL, urlPath string) bool {
	switch {
	case p.re != nil:
		return p.re.MatchString(rawURL)
	case strings.HasPrefix(p.raw, "/") || strings.HasPrefix(p.raw, "*."):
		return matchPathPattern(p.raw, urlPath)
	case strings.ContainsAny(p.raw, "*?["):
		ok, err := path.Match(p.raw, rawURL)
		return err == nil && ok
	default:
		return strings.Contains(rawURL, p.raw)
	}
}
