package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".dysdera"

// DefaultEnvFile is the dotenv file read from the current directory.
const DefaultEnvFile = ".env"

// Environment variables that override the config file.
const (
	EnvUserAgent = "DYSDERA_USER_AGENT"
	EnvProxy     = "DYSDERA_PROXY"
	EnvDatabase  = "DYSDERA_DATABASE"
)

// LoadConfigFile loads a YAML configuration file.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cf.Sites == nil {
		cf.Sites = make(map[string]SiteConfig)
	}
	return &cf, nil
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .dysdera in the current directory
// 3. Look for .dysdera in the user's home directory
// 4. Look for config.yaml in the XDG config directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if fileExists(configPath) {
			return configPath
		}
		return ""
	}

	if cwd, err := os.Getwd(); err == nil {
		if cwdConfig := filepath.Join(cwd, DefaultConfigFile); fileExists(cwdConfig) {
			return cwdConfig
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		if homeConfig := filepath.Join(home, DefaultConfigFile); fileExists(homeConfig) {
			return homeConfig
		}
	}

	if xdgConfig := GlobalConfigFile(); fileExists(xdgConfig) {
		return xdgConfig
	}
	return ""
}

// GlobalConfigFile is the per-user configuration file in the XDG config
// directory.
func GlobalConfigFile() string {
	return filepath.Join(XDGConfigDir(), "config.yaml")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ReadEnvFile reads a dotenv file. A missing file yields an empty map.
func ReadEnvFile(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return env, nil
}

// EnvLookup returns a lookup that prefers the process environment and falls
// back to values read from a dotenv file.
func EnvLookup(dotenv map[string]string) func(string) string {
	return func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return dotenv[key]
	}
}

// ApplyEnv overrides the user agent, proxy and database path from the
// environment. Empty values are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvUserAgent); v != "" {
		c.UserAgent = v
	}
	if v := getenv(EnvProxy); v != "" {
		c.ProxyAddr = v
	}
	if v := getenv(EnvDatabase); v != "" {
		c.DatabasePath = v
	}
}

// ApplyFile overrides defaults with the crawl section of the config file and
// keeps the file for per-site lookups.
func (c *Config) ApplyFile(cf *File) {
	if cf == nil {
		return
	}
	c.SiteConfigs = cf
	s := cf.Crawl

	setSlice(&c.AllowedHosts, s.AllowedHosts)
	setSlice(&c.DeniedPatterns, s.DeniedPatterns)
	setSlice(&c.AllowedContentTypes, s.AllowedContentTypes)
	set(&c.MaxDepth, s.MaxDepth)
	set(&c.RespectRobots, s.RespectRobots)
	set(&c.MaxContentLength, s.MaxContentLength)
	set(&c.PerHostDelay, s.PerHostDelay)
	set(&c.MaxRedirects, s.MaxRedirects)
	set(&c.GlobalConcurrency, s.GlobalConcurrency)
	set(&c.PerHostConcurrency, s.PerHostConcurrency)
	set(&c.PerHostRate, s.PerHostRate)
	set(&c.PerHostBurst, s.PerHostBurst)
	set(&c.FetchTimeout, s.FetchTimeout)
	set(&c.MaxRetries, s.MaxRetries)
	set(&c.RetryBaseDelay, s.RetryBaseDelay)
	set(&c.RetryMaxDelay, s.RetryMaxDelay)
	set(&c.UserAgent, s.UserAgent)
	set(&c.KeepFragments, s.KeepFragments)
	set(&c.SortQuery, s.SortQuery)
	set(&c.ExtendedScope, s.ExtendedScope)
	set(&c.HostKeyMode, s.HostKeyMode)
	set(&c.RobotsTTL, s.RobotsTTL)
	set(&c.RobotsErrorTTL, s.RobotsErrorTTL)
	set(&c.FollowCanonical, s.FollowCanonical)
	set(&c.VisitSitemaps, s.VisitSitemaps)
	set(&c.DuplicateSensitivity, s.DuplicateSensitivity)
	set(&c.ConditionalFetch, s.ConditionalFetch)
	set(&c.Selection, s.Selection)
	set(&c.PersistRetries, s.PersistRetries)
	set(&c.PersistDropOnFailure, s.PersistDropOnFailure)
	set(&c.StallThreshold, s.StallThreshold)
	set(&c.ProxyAddr, s.ProxyAddr)
	set(&c.DetectLanguage, s.DetectLanguage)
	set(&c.Readability, s.Readability)
	set(&c.OutputJSONL, s.OutputJSONL)
	set(&c.DatabasePath, s.DatabasePath)
	set(&c.RunTimeout, s.RunTimeout)

	if len(s.Headers) > 0 {
		if c.Headers == nil {
			c.Headers = make(map[string]string, len(s.Headers))
		}
		for k, v := range s.Headers {
			c.Headers[k] = v
		}
	}
	if len(s.Keywords) > 0 {
		c.Keywords = s.Keywords
	}
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setSlice[T any](dst *[]T, v []T) {
	if len(v) > 0 {
		*dst = v
	}
}
