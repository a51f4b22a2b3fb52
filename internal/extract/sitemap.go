package extract

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/nao1215/dysdera/internal/model"
	"github.com/nao1215/dysdera/internal/urlnorm"
)

// maxSitemapBytes caps the size of a decompressed sitemap (50MB, the
// sitemaps.org limit).
const maxSitemapBytes = 50 * 1024 * 1024

// sitemapDoc covers both urlset and sitemapindex documents. Element names
// are matched without namespace, so old Google namespaces work too.
type sitemapDoc struct {
	XMLName  xml.Name
	URLs     []sitemapURL `xml:"url"`
	Sitemaps []sitemapRef `xml:"sitemap"`
}

type sitemapURL struct {
	Loc        string       `xml:"loc"`
	LastMod    string       `xml:"lastmod"`
	ChangeFreq string       `xml:"changefreq"`
	Priority   string       `xml:"priority"`
	News       *sitemapNews `xml:"news"`
}

type sitemapNews struct {
	Name            string `xml:"publication>name"`
	Language        string `xml:"publication>language"`
	PublicationDate string `xml:"publication_date"`
	Title           string `xml:"title"`
	Keywords        string `xml:"keywords"`
}

type sitemapRef struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// SitemapExtractor turns sitemaps into page and sitemap candidates.
// XML documents that are not sitemaps yield no links and no error.
type SitemapExtractor struct {
	norm *urlnorm.Normalizer
}

// NewSitemapExtractor creates a SitemapExtractor.
func NewSitemapExtractor(n *urlnorm.Normalizer) *SitemapExtractor {
	if n == nil {
		n = urlnorm.New()
	}
	return &SitemapExtractor{norm: n}
}

// Name implements Extractor.
func (e *SitemapExtractor) Name() string { return "sitemap" }

// Supports implements Extractor.
func (e *SitemapExtractor) Supports(mediaType string) bool {
	switch mediaType {
	case "application/xml", "text/xml", "application/x-gzip", "application/gzip":
		return true
	default:
		return false
	}
}

// Extract implements Extractor.
func (e *SitemapExtractor) Extract(_ context.Context, s *model.Success, out *model.ContentRecord) ([]model.Link, error) {
	body := s.Body
	if len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gunzip sitemap: %w", err)
		}
		defer gz.Close()
		body, err = io.ReadAll(io.LimitReader(gz, maxSitemapBytes))
		if err != nil {
			return nil, fmt.Errorf("gunzip sitemap: %w", err)
		}
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}

	base, _ := url.Parse(s.FinalURL)
	out.Meta = map[string]string{"xml.root": doc.XMLName.Local}

	var links []model.Link
	switch doc.XMLName.Local {
	case "urlset":
		for _, u := range doc.URLs {
			loc, err := e.norm.Resolve(base, u.Loc)
			if err != nil {
				continue
			}
			links = append(links, model.Link{URL: loc, Kind: model.KindPage, Hint: sitemapPriority(u.Priority)})
			if u.News != nil && u.News.Title != "" {
				out.Headings = append(out.Headings, clean(u.News.Title))
			}
		}
	case "sitemapindex":
		for _, ref := range doc.Sitemaps {
			loc, err := e.norm.Resolve(base, ref.Loc)
			if err != nil {
				continue
			}
			links = append(links, model.Link{URL: loc, Kind: model.KindSitemap})
		}
	default:
		return nil, nil
	}

	out.Meta["sitemap.entries"] = strconv.Itoa(len(links))
	for _, l := range links {
		out.Links = append(out.Links, l.URL)
	}
	return links, nil
}

// sitemapPriority parses a <priority> value. Missing or invalid values get
// the sitemaps.org default of 0.5.
func sitemapPriority(s string) float64 {
	p, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || p < 0 || p > 1 {
		return 0.5
	}
	return p
}
