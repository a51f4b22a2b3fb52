package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/nao1215/dysdera/internal/model"
	"github.com/nao1215/dysdera/internal/policy"
	"github.com/nao1215/dysdera/internal/urlnorm"
)

// Defaults used when the corresponding option is not set.
const (
	DefaultUserAgent    = "dysdera/1.0 (+https://github.com/nao1215/dysdera)"
	DefaultMaxRedirects = 10
	DefaultMaxBodyBytes = 10 * 1024 * 1024
	DefaultTimeout      = 30 * time.Second
)

// Reasons attached to PolicyRejected results produced while following redirects.
const (
	ReasonRedirectLoop     = "redirect-loop"
	ReasonTooManyRedirects = "too-many-redirects"
	ReasonBadRedirect      = "invalid-redirect"
)

// checkName is the check name used for denies produced by the fetcher itself.
const checkName = "fetch"

// Admitter is the candidate side of the policy engine. Every redirect hop
// is admitted through it.
type Admitter interface {
	AdmitCandidate(ctx context.Context, c policy.Candidate) model.Decision
}

// LastModifiedLookup returns the stored modification time of a URL, used
// to send If-Modified-Since.
type LastModifiedLookup interface {
	LastModified(ctx context.Context, canonical string) (time.Time, bool)
}

// HeaderSource returns extra request headers for a host, such as a site
// cookie. It may return nil.
type HeaderSource func(host string) http.Header

// HTTPFetcher performs one bounded HTTP GET per call, following redirects
// itself so that every hop passes policy admission.
type HTTPFetcher struct {
	client       *http.Client
	aux          *http.Client
	userAgent    string
	headers      http.Header
	siteHeaders  HeaderSource
	maxRedirects int
	maxBodyBytes int64
	admit        Admitter
	lastModified LastModifiedLookup
	norm         *urlnorm.Normalizer
	logger       *slog.Logger

	transport   http.RoundTripper
	dialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithHeaders adds headers to every request.
func WithHeaders(headers map[string]string) Option {
	return func(f *HTTPFetcher) {
		for k, v := range headers {
			f.headers.Set(k, v)
		}
	}
}

// WithHeaderSource sets per-host headers. They override WithHeaders.
func WithHeaderSource(src HeaderSource) Option {
	return func(f *HTTPFetcher) { f.siteHeaders = src }
}

// WithMaxRedirects sets the maximum number of redirect hops. Zero disables
// redirect following: any redirect then fails as too-many-redirects.
func WithMaxRedirects(n int) Option {
	return func(f *HTTPFetcher) {
		if n >= 0 {
			f.maxRedirects = n
		}
	}
}

// WithMaxBodyBytes caps the decoded body size. Zero or negative means no cap.
func WithMaxBodyBytes(n int64) Option {
	return func(f *HTTPFetcher) { f.maxBodyBytes = n }
}

// WithAdmitter sets the policy applied to redirect hops.
func WithAdmitter(a Admitter) Option {
	return func(f *HTTPFetcher) { f.admit = a }
}

// WithLastModifiedLookup enables conditional requests.
func WithLastModifiedLookup(l LastModifiedLookup) Option {
	return func(f *HTTPFetcher) { f.lastModified = l }
}

// WithNormalizer sets the normalizer used for redirect targets.
func WithNormalizer(n *urlnorm.Normalizer) Option {
	return func(f *HTTPFetcher) { f.norm = n }
}

// WithTransport replaces the HTTP transport entirely.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *HTTPFetcher) { f.transport = rt }
}

// WithDialContext sets the dial function of the default transport, for
// example a SOCKS5 dialer.
func WithDialContext(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(f *HTTPFetcher) { f.dialContext = dial }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *HTTPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates an HTTPFetcher.
func New(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		userAgent:    DefaultUserAgent,
		headers:      make(http.Header),
		maxRedirects: DefaultMaxRedirects,
		maxBodyBytes: DefaultMaxBodyBytes,
		admit:        policy.NewEngine(nil),
		norm:         urlnorm.New(),
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(f)
	}

	rt := f.transport
	if rt == nil {
		dial := f.dialContext
		if dial == nil {
			dial = (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext
		}
		tr := &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dial,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: time.Second,
			// Bodies are decoded by readBody so that br is handled too.
			DisableCompression: true,
		}
		if f.dialContext != nil {
			// A custom dialer is usually a proxy; environment proxies would bypass it.
			tr.Proxy = nil
		}
		rt = tr
	}

	f.client = &http.Client{
		Transport: rt,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	f.aux = &http.Client{
		Transport: rt,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return f
}

// Client returns a client sharing the fetcher's transport that follows up
// to five redirects, for robots.txt and other auxiliary requests.
func (f *HTTPFetcher) Client() *http.Client {
	return f.aux
}

// Fetch fetches rawURL as a depth 0 page.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) model.FetchResult {
	return f.FetchRecord(ctx, &model.URLRecord{URL: rawURL, Kind: model.KindPage}, timeout)
}

// FetchRecord fetches rec.URL within timeout. The record's depth and kind
// are used when admitting redirect hops.
//
// A timeout of zero uses DefaultTimeout. 5xx and 429 responses become
// retryable NetworkFailure results; every other status is a Success and is
// judged by the policy engine afterwards.
func (f *HTTPFetcher) FetchRecord(ctx context.Context, rec *model.URLRecord, timeout time.Duration) model.FetchResult {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	current, err := url.Parse(rec.URL)
	if err != nil || current.Host == "" {
		return &model.NetworkFailure{URL: rec.URL, Kind: model.FailureRequest, Err: err}
	}

	visited := map[string]bool{current.String(): true}
	var redirects []string

	for {
		resp, result := f.do(ctx, current, len(redirects) == 0, timeout)
		if result != nil {
			return result
		}

		location := resp.Header.Get("Location")
		if isRedirect(resp.StatusCode) && location != "" {
			drain(resp)

			next, result := f.nextHop(ctx, rec, current, location, visited, len(redirects))
			if result != nil {
				return result
			}
			f.logger.Debug("following redirect", "url", current.String(), "redirect", next.String(), "status", resp.StatusCode)
			redirects = append(redirects, next.String())
			visited[next.String()] = true
			current = next
			continue
		}

		return f.finish(ctx, resp, rec.URL, current, redirects, start, timeout)
	}
}

// do sends a single GET.
func (f *HTTPFetcher) do(ctx context.Context, target *url.URL, first bool, timeout time.Duration) (*http.Response, model.FetchResult) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &model.NetworkFailure{URL: target.String(), Kind: model.FailureRequest, Err: err}
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for k, v := range f.headers {
		req.Header[k] = v
	}
	if f.siteHeaders != nil {
		for k, v := range f.siteHeaders(target.Hostname()) {
			req.Header[k] = v
		}
	}
	if first && f.lastModified != nil {
		if t, ok := f.lastModified.LastModified(ctx, target.String()); ok {
			req.Header.Set("If-Modified-Since", t.UTC().Format(http.TimeFormat))
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(ctx, target.String(), err, timeout)
	}
	return resp, nil
}

// nextHop resolves and admits a redirect target.
func (f *HTTPFetcher) nextHop(ctx context.Context, rec *model.URLRecord, current *url.URL, location string, visited map[string]bool, hops int) (*url.URL, model.FetchResult) {
	canonical, err := f.norm.Resolve(current, location)
	if err != nil {
		return nil, &model.PolicyRejected{URL: location, Decision: model.Deny(checkName, ReasonBadRedirect)}
	}
	if visited[canonical] {
		return nil, &model.PolicyRejected{URL: canonical, Decision: model.Deny(checkName, ReasonRedirectLoop)}
	}
	if hops >= f.maxRedirects {
		return nil, &model.PolicyRejected{URL: canonical, Decision: model.Deny(checkName, ReasonTooManyRedirects)}
	}

	next, err := url.Parse(canonical)
	if err != nil {
		return nil, &model.PolicyRejected{URL: canonical, Decision: model.Deny(checkName, ReasonBadRedirect)}
	}
	d := f.admit.AdmitCandidate(ctx, policy.Candidate{URL: next, Depth: rec.Depth, Parent: current, Kind: rec.Kind})
	if !d.Allowed {
		return nil, &model.PolicyRejected{URL: canonical, Decision: d}
	}
	return next, nil
}

// finish turns the final response into a result.
func (f *HTTPFetcher) finish(ctx context.Context, resp *http.Response, requested string, final *url.URL, redirects []string, start time.Time, timeout time.Duration) model.FetchResult {
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		drain(resp)
		return &model.NetworkFailure{
			URL:        final.String(),
			Kind:       model.FailureStatus,
			StatusCode: resp.StatusCode,
			Retryable:  true,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	if f.maxBodyBytes > 0 && resp.ContentLength > f.maxBodyBytes {
		return &model.PolicyRejected{URL: final.String(), Decision: model.Deny("content-length", policy.ReasonContentTooLong)}
	}

	body, err := readBody(resp, f.maxBodyBytes)
	switch {
	case errors.Is(err, errBodyTooLarge):
		return &model.PolicyRejected{URL: final.String(), Decision: model.Deny("content-length", policy.ReasonContentTooLong)}
	case errors.Is(err, errUnsupportedEncoding):
		return &model.NetworkFailure{URL: final.String(), Kind: model.FailureProtocol, StatusCode: resp.StatusCode, Err: err}
	case err != nil:
		return classify(ctx, final.String(), err, timeout)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" && len(body) > 0 {
		contentType = http.DetectContentType(body)
	}
	mediaType := policy.MediaType(contentType)
	length := int64(len(body))
	if isText(mediaType) {
		body = toUTF8(body, contentType)
	}

	s := &model.Success{
		RequestURL:    requested,
		FinalURL:      final.String(),
		Redirects:     redirects,
		StatusCode:    resp.StatusCode,
		Header:        resp.Header.Clone(),
		ContentType:   mediaType,
		ContentLength: length,
		Body:          body,
		FetchedAt:     time.Now(),
		Elapsed:       time.Since(start),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			s.LastModified = &t
		}
	}
	return s
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// drain discards a small amount of the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}
