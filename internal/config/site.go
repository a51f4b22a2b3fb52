package config

import (
	"strings"
	"time"
)

// SiteConfig holds per-host crawl settings.
type SiteConfig struct {
	// Cookie is sent with every request to the host.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are extra request headers for the host.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Delay overrides the per-host delay. Zero keeps the global value.
	Delay time.Duration `yaml:"delay,omitempty"`

	// Concurrency overrides the per-host concurrency. Zero keeps the global
	// value.
	Concurrency int `yaml:"concurrency,omitempty"`

	// IgnorePatterns are path globs that are never crawled on the host.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// FollowPatterns, when set, are the only path globs crawled on the host.
	FollowPatterns []string `yaml:"followPatterns,omitempty"`
}

// CrawlSection overrides Config defaults from the config file.
// Nil fields keep the current value.
type CrawlSection struct {
	AllowedHosts         []string           `yaml:"allowedHosts,omitempty"`
	DeniedPatterns       []string           `yaml:"deniedPatterns,omitempty"`
	MaxDepth             *int               `yaml:"maxDepth,omitempty"`
	RespectRobots        *bool              `yaml:"respectRobots,omitempty"`
	AllowedContentTypes  []string           `yaml:"allowedContentTypes,omitempty"`
	MaxContentLength     *int64             `yaml:"maxContentLength,omitempty"`
	PerHostDelay         *time.Duration     `yaml:"perHostDelay,omitempty"`
	MaxRedirects         *int               `yaml:"maxRedirects,omitempty"`
	GlobalConcurrency    *int               `yaml:"globalConcurrency,omitempty"`
	PerHostConcurrency   *int               `yaml:"perHostConcurrency,omitempty"`
	PerHostRate          *float64           `yaml:"perHostRate,omitempty"`
	PerHostBurst         *int               `yaml:"perHostBurst,omitempty"`
	FetchTimeout         *time.Duration     `yaml:"fetchTimeout,omitempty"`
	MaxRetries           *int               `yaml:"maxRetries,omitempty"`
	RetryBaseDelay       *time.Duration     `yaml:"retryBaseDelay,omitempty"`
	RetryMaxDelay        *time.Duration     `yaml:"retryMaxDelay,omitempty"`
	UserAgent            *string            `yaml:"userAgent,omitempty"`
	Headers              map[string]string  `yaml:"headers,omitempty"`
	KeepFragments        *bool              `yaml:"keepFragments,omitempty"`
	SortQuery            *bool              `yaml:"sortQuery,omitempty"`
	ExtendedScope        *bool              `yaml:"extendedScope,omitempty"`
	HostKeyMode          *string            `yaml:"hostKeyMode,omitempty"`
	RobotsTTL            *time.Duration     `yaml:"robotsTTL,omitempty"`
	RobotsErrorTTL       *time.Duration     `yaml:"robotsErrorTTL,omitempty"`
	FollowCanonical      *bool              `yaml:"followCanonical,omitempty"`
	VisitSitemaps        *bool              `yaml:"visitSitemaps,omitempty"`
	DuplicateSensitivity *int               `yaml:"duplicateSensitivity,omitempty"`
	ConditionalFetch     *bool              `yaml:"conditionalFetch,omitempty"`
	Selection            *string            `yaml:"selection,omitempty"`
	Keywords             map[string]float64 `yaml:"keywords,omitempty"`
	PersistRetries       *int               `yaml:"persistRetries,omitempty"`
	PersistDropOnFailure *bool              `yaml:"persistDropOnFailure,omitempty"`
	StallThreshold       *time.Duration     `yaml:"stallThreshold,omitempty"`
	ProxyAddr            *string            `yaml:"proxy,omitempty"`
	DetectLanguage       *bool              `yaml:"detectLanguage,omitempty"`
	Readability          *bool              `yaml:"readability,omitempty"`
	OutputJSONL          *string            `yaml:"outputJSONL,omitempty"`
	DatabasePath         *string            `yaml:"databasePath,omitempty"`
	RunTimeout           *time.Duration     `yaml:"runTimeout,omitempty"`
}

// File represents the structure of the .dysdera configuration file.
type File struct {
	// Crawl overrides the built-in defaults.
	Crawl CrawlSection `yaml:"crawl,omitempty"`

	// Sites maps host names to their site-specific configurations.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults applies to all sites unless overridden per site.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// GetSiteConfig returns the configuration for a host, merged over the
// defaults. Host names are matched case-insensitively.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := cf.Defaults
	if len(cf.Defaults.Headers) > 0 {
		result.Headers = make(map[string]string, len(cf.Defaults.Headers))
		for k, v := range cf.Defaults.Headers {
			result.Headers[k] = v
		}
	}

	siteConfig, ok := cf.Sites[host]
	if !ok {
		for name, sc := range cf.Sites {
			if strings.EqualFold(name, host) {
				siteConfig, ok = sc, true
				break
			}
		}
	}
	if !ok {
		return result
	}

	if siteConfig.Cookie != "" {
		result.Cookie = siteConfig.Cookie
	}
	if siteConfig.Delay != 0 {
		result.Delay = siteConfig.Delay
	}
	if siteConfig.Concurrency != 0 {
		result.Concurrency = siteConfig.Concurrency
	}
	if len(siteConfig.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string)
		}
		for k, v := range siteConfig.Headers {
			result.Headers[k] = v
		}
	}
	if len(siteConfig.IgnorePatterns) > 0 {
		result.IgnorePatterns = siteConfig.IgnorePatterns
	}
	if len(siteConfig.FollowPatterns) > 0 {
		result.FollowPatterns = siteConfig.FollowPatterns
	}
	return result
}

// HasSite reports whether the file has an entry for host.
func (cf *File) HasSite(host string) bool {
	for name := range cf.Sites {
		if strings.EqualFold(name, host) {
			return true
		}
	}
	return false
}
