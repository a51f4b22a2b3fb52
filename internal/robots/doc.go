// Package robots implements robots.txt handling for the crawler.
//
// An Agent fetches /robots.txt once per origin, caches the parsed rules with
// a TTL and answers three questions: may a URL be fetched, what Crawl-delay
// applies to the host, and which sitemaps does the host declare. Agent also
// implements policy.Check so it can sit in the exclusion stage of the policy
// engine.
package robots
