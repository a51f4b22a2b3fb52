// Package config provides the crawl configuration of dysdera: defaults,
// validation, the YAML config file with its per-site entries, and
// environment overrides.
package config
