package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/dysdera/internal/model"
)

// ErrUnknownFormat is returned by New for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown report format")

// Writer defines the interface for report output.
// Implementations write crawl summaries and run listings in various formats.
type Writer interface {
	// WriteSummary outputs the summary of one crawl run.
	// Returns the number of bytes written and any error encountered.
	WriteSummary(summary *model.CrawlSummary) (int, error)

	// WriteRuns outputs a run history listing.
	WriteRuns(runs []model.RunInfo) (int, error)
}

// New returns the writer for a format name: text, json or markdown.
func New(format string, output io.Writer) (Writer, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return NewSimpleWriter(output), nil
	case "json":
		return NewJSONWriter(output, WithPrettyPrint()), nil
	case "markdown", "md":
		return NewMarkdownWriter(output), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// MultiWriter writes to multiple Writers simultaneously.
// This is useful for outputting to both terminal and file.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// WriteSummary outputs the summary to all configured Writers.
// Stops on first error encountered.
func (m *MultiWriter) WriteSummary(summary *model.CrawlSummary) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteSummary(summary)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteRuns outputs the listing to all configured Writers.
func (m *MultiWriter) WriteRuns(runs []model.RunInfo) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteRuns(runs)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// counter is one labelled summary value, shared by the text and Markdown
// writers so that both list the same rows in the same order.
type counter struct {
	label string
	value int64
}

func counters(s *model.CrawlSummary) []counter {
	return []counter{
		{"enqueued", s.Enqueued},
		{"fetched", s.Fetched},
		{"persisted", s.Persisted},
		{"failed", s.Failed},
		{"retries", s.Retries},
		{"denied", s.TotalDenied()},
		{"duplicates", s.Duplicates},
		{"dedup hits", s.DedupHits},
		{"parse errors", s.ParseErrors},
		{"invalid urls", s.InvalidURLs},
		{"lost", s.Lost},
		{"stalls", s.Stalls},
	}
}

func status(s *model.CrawlSummary) string {
	if s.Interrupted {
		return "interrupted"
	}
	return "complete"
}

const timeLayout = "2006-01-02 15:04:05 MST"
