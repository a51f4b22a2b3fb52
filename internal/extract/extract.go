package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nao1215/dysdera/internal/model"
)

// Extractor turns a fetched response into links and content fields.
//
// Extract fills out (whose identity and fetch fields are already set) and
// returns outbound links. An error marks the record as a parse error; its
// links are then discarded.
type Extractor interface {
	Name() string
	Supports(mediaType string) bool
	Extract(ctx context.Context, s *model.Success, out *model.ContentRecord) ([]model.Link, error)
}

// Pipeline selects an extractor by content type and never fails.
type Pipeline struct {
	extractors []Extractor
	fallback   Extractor
	logger     *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithFallback replaces the extractor used when nothing else matches.
func WithFallback(e Extractor) PipelineOption {
	return func(p *Pipeline) {
		if e != nil {
			p.fallback = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline creates a pipeline that tries extractors in order.
func NewPipeline(extractors []Extractor, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		extractors: extractors,
		fallback:   Fallback{},
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// For returns the extractor that handles mediaType.
func (p *Pipeline) For(mediaType string) Extractor {
	for _, e := range p.extractors {
		if e.Supports(mediaType) {
			return e
		}
	}
	return p.fallback
}

// Process extracts links and a content record from s.
//
// Link depth is the record depth plus one, except for links found in a
// sitemap and canonical links, which keep the record depth.
func (p *Pipeline) Process(ctx context.Context, rec *model.URLRecord, s *model.Success) model.Extraction {
	out := model.NewContentRecord(rec)
	if s.FinalURL != rec.URL {
		out.FinalURL = s.FinalURL
	}
	out.StatusCode = s.StatusCode
	out.ContentType = s.ContentType
	out.ContentLength = s.ContentLength
	out.LastModified = s.LastModified
	out.FetchedAt = s.FetchedAt
	out.ComputeHash(s.Body)

	e := p.For(s.ContentType)
	out.Extractor = e.Name()

	links, err := safeExtract(ctx, e, s, out)
	if err != nil {
		p.logger.Debug("extraction failed", "url", rec.URL, "extractor", e.Name(), "error", err)
		out.ParseError = true
		out.ParseMessage = err.Error()
		out.Links = nil
		return model.Extraction{Record: out}
	}

	if text := out.Text(); text != "" {
		out.Simhash = Simhash(text)
	}

	seen := make(map[string]bool, len(links))
	result := make([]model.Link, 0, len(links))
	for _, l := range links {
		if l.URL == "" || seen[l.URL] {
			continue
		}
		seen[l.URL] = true
		if l.Kind == "" {
			l.Kind = model.KindPage
		}
		l.Depth = rec.Depth + 1
		if rec.Kind == model.KindSitemap || l.Kind == model.KindCanonical {
			l.Depth = rec.Depth
		}
		result = append(result, l)
	}
	return model.Extraction{Links: result, Record: out}
}

// safeExtract runs e and converts a panic into an error. Some binary
// parsers panic on corrupt input.
func safeExtract(ctx context.Context, e Extractor, s *model.Success, out *model.ContentRecord) (links []model.Link, err error) {
	defer func() {
		if r := recover(); r != nil {
			links = nil
			err = fmt.Errorf("%s extractor panicked: %v", e.Name(), r)
		}
	}()
	return e.Extract(ctx, s, out)
}

// Fallback records the response without extracting anything.
type Fallback struct{}

// Name implements Extractor.
func (Fallback) Name() string { return "fallback" }

// Supports implements Extractor.
func (Fallback) Supports(string) bool { return true }

// Extract implements Extractor.
func (Fallback) Extract(context.Context, *model.Success, *model.ContentRecord) ([]model.Link, error) {
	return nil, nil
}
