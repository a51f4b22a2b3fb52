package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/dysdera/internal/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const ruleWidth = 70

// SimpleWriter outputs human-readable text reports for terminal display.
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether zero counters are shown.
	showEmpty bool

	upper cases.Caser
	title cases.Caser
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show zero counters.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
		upper:      cases.Upper(language.English),
		title:      cases.Title(language.English),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteSummary outputs the crawl summary in human-readable format.
func (w *SimpleWriter) WriteSummary(s *model.CrawlSummary) (int, error) {
	var sb strings.Builder

	w.writeRule(&sb, "=")
	sb.WriteString(centered(w.upper.String("dysdera crawl summary")))
	w.writeRule(&sb, "=")
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "Run:       %s\n", s.RunID)
	fmt.Fprintf(&sb, "Started:   %s\n", s.StartedAt.Format(timeLayout))
	if !s.FinishedAt.IsZero() {
		fmt.Fprintf(&sb, "Finished:  %s\n", s.FinishedAt.Format(timeLayout))
	}
	fmt.Fprintf(&sb, "Duration:  %s\n", s.Duration().Round(time.Millisecond))
	fmt.Fprintf(&sb, "Status:    %s\n", w.title.String(status(s)))
	fmt.Fprintf(&sb, "Hosts:     %d\n", s.Hosts)
	for _, seed := range s.Seeds {
		fmt.Fprintf(&sb, "Seed:      %s\n", seed)
	}
	sb.WriteString("\n")

	w.writeSection(&sb, "counters")
	for _, c := range counters(s) {
		if c.value == 0 && !w.showEmpty {
			continue
		}
		fmt.Fprintf(&sb, "  %-14s %d\n", w.title.String(c.label)+":", c.value)
	}
	sb.WriteString("\n")

	if len(s.Denied) > 0 {
		w.writeSection(&sb, "denied by reason")
		for _, reason := range s.DeniedReasons() {
			fmt.Fprintf(&sb, "  %6d  %s\n", s.Denied[reason], reason)
		}
		sb.WriteString("\n")
	}

	w.writeRule(&sb, "=")
	return io.WriteString(w.output, sb.String())
}

// WriteRuns outputs the run history as an aligned listing.
func (w *SimpleWriter) WriteRuns(runs []model.RunInfo) (int, error) {
	var sb strings.Builder
	if len(runs) == 0 {
		sb.WriteString("No crawl runs recorded.\n")
		return io.WriteString(w.output, sb.String())
	}

	fmt.Fprintf(&sb, "%-36s  %-19s  %-11s  %9s  %9s  %6s  %s\n",
		"RUN", "STARTED", "STATUS", "FETCHED", "PERSISTED", "FAILED", "SEEDS")
	for _, r := range runs {
		fmt.Fprintf(&sb, "%-36s  %-19s  %-11s  %9d  %9d  %6d  %s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Status(),
			r.Fetched,
			r.Persisted,
			r.Failed,
			strings.Join(r.Seeds, " "),
		)
	}
	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeSection(sb *strings.Builder, name string) {
	w.writeRule(sb, "-")
	sb.WriteString(w.upper.String(name))
	sb.WriteString("\n")
	w.writeRule(sb, "-")
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeRule(sb *strings.Builder, ch string) {
	sb.WriteString(strings.Repeat(ch, ruleWidth))
	sb.WriteString("\n")
}

func centered(s string) string {
	pad := (ruleWidth - len(s)) / 2
	if pad < 0 {
		pad = 0
	}
	return strings.Repeat(" ", pad) + s + "\n"
}
