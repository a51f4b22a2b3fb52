// Package extract turns fetched responses into outbound links and content
// records.
//
// A Pipeline holds an ordered list of Extractor values and picks the first
// one that supports the response media type, falling back to a no-op
// extractor. Extraction never fails the crawl: an extractor error yields a
// record flagged as a parse error with no links.
//
// Built-in extractors:
//
//   - HTMLExtractor parses HTML with golang.org/x/net/html and queries it
//     with goquery for links, canonical URL, headings, paragraphs,
//     captions, meta tags and meta robots. go-readability supplies excerpt,
//     byline and site name, and lingua-go detects the language when the
//     document does not declare one.
//   - SitemapExtractor reads urlset and sitemapindex documents, gzipped or not.
//   - ImageExtractor records EXIF tags of JPEG and TIFF images.
//   - Fallback records the response only.
package extract
