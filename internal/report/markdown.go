package report

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/dysdera/internal/model"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs reports in GitHub Flavored Markdown, for sharing
// crawl results in issues and pull requests.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// WriteSummary outputs the crawl summary in Markdown format.
func (w *MarkdownWriter) WriteSummary(s *model.CrawlSummary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Crawl Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run", "`" + s.RunID + "`"},
			{"Started", s.StartedAt.Format(timeLayout)},
			{"Duration", s.Duration().Round(time.Millisecond).String()},
			{"Status", status(s)},
			{"Hosts", strconv.Itoa(s.Hosts)},
			{"Seeds", seedList(s.Seeds)},
		},
	})
	md.PlainText("")

	w.writeAlert(md, s)
	w.writeCounters(md, s)
	w.writeOutcomes(md, s)
	w.writeDenied(md, s)

	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [dysdera](https://github.com/nao1215/dysdera)*")

	return len(md.String()), md.Build()
}

// WriteRuns outputs the run history as a Markdown table.
func (w *MarkdownWriter) WriteRuns(runs []model.RunInfo) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Crawl Runs")
	md.PlainText("")

	if len(runs) == 0 {
		md.PlainText("No crawl runs recorded.")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			"`" + r.ID + "`",
			r.StartedAt.Format(timeLayout),
			r.Status(),
			strconv.FormatInt(r.Fetched, 10),
			strconv.FormatInt(r.Persisted, 10),
			strconv.FormatInt(r.Failed, 10),
			seedList(r.Seeds),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Run", "Started", "Status", "Fetched", "Persisted", "Failed", "Seeds"},
		Rows:   rows,
	})
	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, s *model.CrawlSummary) {
	switch {
	case s.Interrupted:
		md.Warningf("The crawl was interrupted. %d URL(s) were fetched before it stopped.", s.Fetched)
	case s.Lost > 0:
		md.Cautionf("%d record(s) could not be persisted.", s.Lost)
	case s.Failed > 0:
		md.Importantf("%d URL(s) failed permanently.", s.Failed)
	case s.Fetched == 0:
		md.Note("Nothing was fetched.")
	default:
		md.Tip("The crawl completed without failures.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeCounters(md *markdown.Markdown, s *model.CrawlSummary) {
	md.H2("Counters")
	md.PlainText("")

	rows := make([][]string, 0, 12)
	for _, c := range counters(s) {
		rows = append(rows, []string{c.label, strconv.FormatInt(c.value, 10)})
	}
	md.Table(markdown.TableSet{Header: []string{"Counter", "Value"}, Rows: rows})
	md.PlainText("")
}

// writeOutcomes draws how the fetched, failed and denied URLs split up.
func (w *MarkdownWriter) writeOutcomes(md *markdown.Markdown, s *model.CrawlSummary) {
	parts := []counter{
		{"Persisted", s.Persisted},
		{"Duplicates", s.Duplicates},
		{"Failed", s.Failed},
		{"Denied", s.TotalDenied()},
		{"Lost", s.Lost},
	}
	hasData := false
	for _, c := range parts {
		if c.value > 0 {
			hasData = true
			break
		}
	}
	if !hasData {
		return
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("URL Outcomes"),
		piechart.WithShowData(true),
	)
	for _, c := range parts {
		if c.value > 0 {
			chart.LabelAndIntValue(c.label, uint64(c.value))
		}
	}

	md.H2("Outcomes")
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeDenied(md *markdown.Markdown, s *model.CrawlSummary) {
	if len(s.Denied) == 0 {
		return
	}

	md.H2("Denied by Reason")
	md.PlainText("")
	rows := make([][]string, 0, len(s.Denied))
	for _, reason := range s.DeniedReasons() {
		check, why, _ := strings.Cut(reason, ":")
		rows = append(rows, []string{check, "`" + why + "`", strconv.FormatInt(s.Denied[reason], 10)})
	}
	md.Table(markdown.TableSet{Header: []string{"Check", "Reason", "Count"}, Rows: rows})
	md.PlainText("")
}

func seedList(seeds []string) string {
	if len(seeds) == 0 {
		return "-"
	}
	return strings.Join(seeds, "<br>")
}
