// Package socks routes crawler traffic through a SOCKS5 proxy.
//
// A Dialer wraps golang.org/x/net/proxy and plugs into the fetcher through
// its DialContext option. Embedded starts a private Tor daemon with tornago
// and exposes its SOCKS port, for crawls that must not reveal the crawler's
// address.
package socks
