// Package main provides the entry point for the dysdera CLI.
//
// dysdera is a polite, policy-driven web crawler. It fetches pages from seed
// URLs, follows links within a configured scope and stores the extracted
// content in SQLite and JSON Lines.
//
// Usage:
//
//	dysdera crawl https://example.com/
//	dysdera history
//
// See --help for all available options.
package main

// main is the entry point for dysdera.
func main() {
	Execute()
}
