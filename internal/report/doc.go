// Package report renders crawl summaries and the run history.
//
// This package contains writers for different output formats:
//   - SimpleWriter: human-readable text for terminal display
//   - JSONWriter: structured JSON for tool integration
//   - MarkdownWriter: GitHub Flavored Markdown with a mermaid pie chart
//
// Writers implement the Writer interface, allowing them to be used
// interchangeably and composed for multi-format output.
package report
