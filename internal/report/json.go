package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/dysdera/internal/model"
)

// JSONWriter outputs reports in JSON format for tool integration.
// A summary is one object and the run history is one array, each
// terminated by a newline, so the output can be piped into jq.
//
// Design decision: the summary is written with the same field names the
// database stores in the runs table, plus a derived duration_ms. A summary
// printed by crawl and one read back by history therefore decode into the
// same model.CrawlSummary.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	// When false, output is compact (no extra whitespace).
	indent bool

	// indentPrefix is prepended to every line of indented output.
	indentPrefix string

	// indentString is one level of indentation, typically "  " or "\t".
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with default indentation.
// New uses it for the json format.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteSummary outputs the summary as one JSON object.
func (w *JSONWriter) WriteSummary(summary *model.CrawlSummary) (int, error) {
	return w.writeJSON(summarySchema{CrawlSummary: summary, DurationMS: summary.Duration().Milliseconds()})
}

// WriteRuns outputs the run history as a JSON array.
func (w *JSONWriter) WriteRuns(runs []model.RunInfo) (int, error) {
	if runs == nil {
		runs = []model.RunInfo{}
	}
	return w.writeJSON(runs)
}

// summarySchema adds derived fields to the stored summary.
type summarySchema struct {
	*model.CrawlSummary

	// DurationMS is FinishedAt minus StartedAt in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error
	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	data = append(data, '\n')
	return w.output.Write(data)
}
