package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"github.com/nao1215/dysdera/internal/model"
	"github.com/nao1215/dysdera/internal/urlnorm"
)

// ErrBinaryContent is returned when a body declared as HTML contains
// binary data.
var ErrBinaryContent = errors.New("binary content declared as html")

// metaNames are the <meta name> values copied into ContentRecord.Meta.
var metaNames = map[string]bool{
	"description": true,
	"keywords":    true,
	"author":      true,
	"generator":   true,
}

// skippedSchemes are href prefixes that never yield crawlable links.
var skippedSchemes = []string{"javascript:", "mailto:", "tel:", "data:", "ftp:", "file:"}

// HTMLExtractor extracts links, text and metadata from HTML documents.
type HTMLExtractor struct {
	norm            *urlnorm.Normalizer
	respectRobots   bool
	followCanonical bool
	readability     bool
	languages       LanguageDetector
}

// HTMLOption configures an HTMLExtractor.
type HTMLOption func(*HTMLExtractor)

// WithNormalizer sets the normalizer used to resolve links.
func WithNormalizer(n *urlnorm.Normalizer) HTMLOption {
	return func(e *HTMLExtractor) { e.norm = n }
}

// WithRespectRobots honors meta robots nofollow/noindex and rel=nofollow.
func WithRespectRobots(respect bool) HTMLOption {
	return func(e *HTMLExtractor) { e.respectRobots = respect }
}

// WithFollowCanonical emits the canonical URL as a link when it differs
// from the fetched URL.
func WithFollowCanonical(follow bool) HTMLOption {
	return func(e *HTMLExtractor) { e.followCanonical = follow }
}

// WithReadability enables main-text extraction for excerpt, byline and
// site name.
func WithReadability(enabled bool) HTMLOption {
	return func(e *HTMLExtractor) { e.readability = enabled }
}

// WithLanguageDetector sets the detector used when the document declares
// no language.
func WithLanguageDetector(d LanguageDetector) HTMLOption {
	return func(e *HTMLExtractor) { e.languages = d }
}

// NewHTMLExtractor creates an HTMLExtractor.
func NewHTMLExtractor(opts ...HTMLOption) *HTMLExtractor {
	e := &HTMLExtractor{norm: urlnorm.New()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements Extractor.
func (e *HTMLExtractor) Name() string { return "html" }

// Supports implements Extractor.
func (e *HTMLExtractor) Supports(mediaType string) bool {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// Extract implements Extractor.
func (e *HTMLExtractor) Extract(_ context.Context, s *model.Success, out *model.ContentRecord) ([]model.Link, error) {
	head := s.Body
	if len(head) > 512 {
		head = head[:512]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, ErrBinaryContent
	}

	root, err := html.Parse(bytes.NewReader(s.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	base, err := url.Parse(s.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}

	out.Title = clean(doc.Find("title").First().Text())
	doc.Find("h1, h2, h3").Each(func(_ int, sel *goquery.Selection) {
		if t := clean(sel.Text()); t != "" {
			out.Headings = append(out.Headings, t)
		}
	})
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		if t := clean(sel.Text()); t != "" {
			out.Paragraphs = append(out.Paragraphs, t)
		}
	})
	doc.Find("figcaption").Each(func(_ int, sel *goquery.Selection) {
		if t := clean(sel.Text()); t != "" {
			out.Figcaptions = append(out.Figcaptions, t)
		}
	})

	nofollow := false
	doc.Find("meta[name]").Each(func(_ int, sel *goquery.Selection) {
		name := strings.ToLower(strings.TrimSpace(sel.AttrOr("name", "")))
		content := clean(sel.AttrOr("content", ""))
		switch {
		case name == "robots":
			directives := strings.ToLower(content)
			if strings.Contains(directives, "nofollow") || strings.Contains(directives, "none") {
				nofollow = true
			}
			if strings.Contains(directives, "noindex") || strings.Contains(directives, "none") {
				out.NoIndex = e.respectRobots
			}
		case metaNames[name] && content != "":
			if out.Meta == nil {
				out.Meta = make(map[string]string)
			}
			out.Meta[name] = content
		}
	})

	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		out.Language = primaryLanguage(lang)
	}
	if out.Language == "" && e.languages != nil {
		if lang, ok := e.languages.Detect(out.Text()); ok {
			out.Language = lang
		}
	}

	if e.readability {
		e.applyReadability(s.Body, base, out)
	}

	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		if canonical, err := e.norm.Resolve(base, href); err == nil {
			out.Canonical = canonical
		}
	}

	var links []model.Link
	if !(nofollow && e.respectRobots) {
		doc.Find("a[href], area[href]").Each(func(_ int, sel *goquery.Selection) {
			if e.respectRobots && hasRel(sel.AttrOr("rel", ""), "nofollow") {
				return
			}
			if link, ok := e.resolve(base, sel.AttrOr("href", "")); ok {
				links = append(links, model.Link{URL: link, Kind: model.KindPage})
			}
		})
	}
	for _, l := range links {
		out.Links = append(out.Links, l.URL)
	}

	if e.followCanonical && out.Canonical != "" && out.Canonical != s.FinalURL && out.Canonical != out.URL {
		links = append(links, model.Link{URL: out.Canonical, Kind: model.KindCanonical})
	}
	return links, nil
}

// applyReadability fills the fields go-readability is good at.
func (e *HTMLExtractor) applyReadability(body []byte, base *url.URL, out *model.ContentRecord) {
	rp := readability.NewParser()
	article, err := rp.Parse(bytes.NewReader(body), base)
	if err != nil {
		return
	}
	if out.Title == "" {
		out.Title = clean(article.Title)
	}
	out.Excerpt = clean(article.Excerpt)
	out.Byline = clean(article.Byline)
	out.SiteName = clean(article.SiteName)
}

// resolve turns an href into a canonical absolute URL.
func (e *HTMLExtractor) resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}
	link, err := e.norm.Resolve(base, href)
	if err != nil {
		return "", false
	}
	return link, true
}

func hasRel(rel, value string) bool {
	for _, r := range strings.Fields(strings.ToLower(rel)) {
		if r == value {
			return true
		}
	}
	return false
}

// primaryLanguage returns the primary subtag of a BCP 47 tag, lower-cased.
func primaryLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

// clean collapses whitespace and applies NFC normalization.
func clean(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
