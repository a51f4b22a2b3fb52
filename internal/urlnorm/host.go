package urlnorm

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// HostKeyMode selects how URLs are grouped into frontier host buckets.
type HostKeyMode int

const (
	// HostKeyAuthority groups by host and port ("www.example.com:8080").
	HostKeyAuthority HostKeyMode = iota
	// HostKeyRegistrable groups by registrable domain ("example.com"), so
	// every subdomain of a site shares one politeness budget.
	HostKeyRegistrable
)

// ParseHostKeyMode maps a configuration value to a mode.
// Unknown values fall back to HostKeyAuthority.
func ParseHostKeyMode(s string) HostKeyMode {
	if strings.EqualFold(s, "registrable") || strings.EqualFold(s, "domain") {
		return HostKeyRegistrable
	}
	return HostKeyAuthority
}

// HostKey returns the bucket key for a canonical URL.
func HostKey(u *url.URL, mode HostKeyMode) string {
	if mode == HostKeyRegistrable {
		return RegistrableDomain(u.Hostname())
	}
	return strings.ToLower(u.Host)
}

// RegistrableDomain returns the eTLD+1 of host. IP addresses, single-label
// hosts and public suffixes are returned unchanged.
func RegistrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// SameDomain reports whether two hosts share a registrable domain.
func SameDomain(a, b string) bool {
	return RegistrableDomain(a) == RegistrableDomain(b)
}
