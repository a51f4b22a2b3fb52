package urlnorm

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// Normalizer canonicalizes absolute http(s) URLs.
// The zero value strips fragments and preserves query order.
// Normalize is deterministic and idempotent for every accepted input.
type Normalizer struct {
	keepFragments bool
	sortQuery     bool
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithKeepFragments keeps the #fragment part of URLs.
func WithKeepFragments(keep bool) Option {
	return func(n *Normalizer) {
		n.keepFragments = keep
	}
}

// WithSortQuery sorts query parameters by key.
// Values of a repeated key keep their relative order.
func WithSortQuery(sort bool) Option {
	return func(n *Normalizer) {
		n.sortQuery = sort
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize returns the canonical form of raw.
//
// The following rules are applied:
//   - scheme and host are lower-cased, IDN hosts are converted to punycode
//   - default ports (80 for http, 443 for https) are removed
//   - user info is removed
//   - "." and ".." path segments are resolved, an empty path becomes "/"
//   - percent-encoding uses upper-case hex and unreserved bytes are decoded
//   - the query is sorted or preserved depending on configuration
//   - the fragment is stripped unless configured to keep it
//
// Relative URLs and schemes other than http and https are rejected.
func (n *Normalizer) Normalize(raw string) (string, error) {
	u, err := n.Parse(raw)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Parse is like Normalize but returns the parsed canonical URL.
func (n *Normalizer) Parse(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	switch u.Scheme {
	case "http", "https":
	case "":
		return nil, fmt.Errorf("%w: not absolute: %q", ErrInvalidURL, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	if u.Opaque != "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrEmptyHost, raw)
	}

	host, err := normalizeHost(u.Hostname())
	if err != nil {
		return nil, err
	}
	port := u.Port()
	if port == defaultPort(u.Scheme) {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	u.User = nil

	escaped := removeDotSegments(normalizePercent(u.EscapedPath()))
	if escaped == "" {
		escaped = "/"
	}
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	u.Path = unescaped
	u.RawPath = escaped

	u.ForceQuery = false
	u.RawQuery = n.query(u.RawQuery)

	if !n.keepFragments {
		u.Fragment = ""
		u.RawFragment = ""
	}

	return u, nil
}

// Resolve resolves ref against base and normalizes the result.
// It is used for links found in documents, which are often relative.
func (n *Normalizer) Resolve(base *url.URL, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if base != nil {
		r = base.ResolveReference(r)
	}
	return n.Normalize(r.String())
}

// normalizeHost lower-cases host, converts IDNs to ASCII and drops a
// trailing root dot.
func normalizeHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return "", ErrEmptyHost
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		// STD3 rules reject labels such as "my_host" that do resolve in
		// practice. Plain ASCII hosts pass through unchanged.
		if isASCII(host) {
			return host, nil
		}
		return "", fmt.Errorf("%w: host %q: %w", ErrInvalidURL, host, err)
	}
	return ascii, nil
}

// defaultPort returns the implicit port of scheme.
func defaultPort(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

// query normalizes a raw query. A query url.ParseQuery rejects, such as one
// using ";" separators, keeps its order.
func (n *Normalizer) query(raw string) string {
	if !n.sortQuery || raw == "" {
		return normalizePercent(raw)
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return normalizePercent(raw)
	}
	return values.Encode()
}

// normalizePercent upper-cases percent escapes and decodes escaped
// unreserved characters (ALPHA, DIGIT, "-", ".", "_", "~").
func normalizePercent(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' || i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2]) {
			b.WriteByte(c)
			continue
		}
		decoded := unhex(s[i+1])<<4 | unhex(s[i+2])
		if isUnreserved(decoded) {
			b.WriteByte(decoded)
		} else {
			b.WriteByte('%')
			b.WriteByte(upper(s[i+1]))
			b.WriteByte(upper(s[i+2]))
		}
		i += 2
	}
	return b.String()
}

// removeDotSegments implements RFC 3986 section 5.2.4.
func removeDotSegments(p string) string {
	if !strings.Contains(p, ".") {
		return p
	}
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for i, seg := range segments {
		last := i == len(segments)-1
		switch seg {
		case ".":
			if last {
				out = append(out, "")
			}
		case "..":
			if len(out) > 1 {
				out = out[:len(out)-1]
			}
			if last {
				out = append(out, "")
			}
		default:
			out = append(out, seg)
		}
	}
	result := strings.Join(out, "/")
	if strings.HasPrefix(p, "/") && !strings.HasPrefix(result, "/") {
		result = "/" + result
	}
	return result
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func upper(c byte) byte {
	if 'a' <= c && c <= 'f' {
		return c - 'a' + 'A'
	}
	return c
}

func isUnreserved(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}
