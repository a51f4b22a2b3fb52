package socks

import "errors"

// Proxy errors.
var (
	// ErrInvalidProxyAddress is returned when the proxy address format is invalid.
	// Expected format is "host:port".
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")

	// ErrProxyUnreachable is returned when no TCP connection to the proxy
	// can be established in time.
	ErrProxyUnreachable = errors.New("socks5 proxy unreachable")

	// ErrNotSOCKS5 is returned when the proxy answers but does not speak
	// SOCKS5 without authentication.
	ErrNotSOCKS5 = errors.New("proxy is not a SOCKS5 proxy accepting unauthenticated clients")

	// ErrTorNotRunning is returned when the embedded Tor daemon is used
	// before Start succeeded.
	ErrTorNotRunning = errors.New("embedded Tor daemon is not running")
)

// ProxyStatus represents the result of checking a proxy.
type ProxyStatus int

const (
	// ProxyStatusOK indicates a working SOCKS5 proxy.
	ProxyStatusOK ProxyStatus = iota

	// ProxyStatusWrongType indicates the proxy answered, but not as an
	// unauthenticated SOCKS5 proxy.
	ProxyStatusWrongType

	// ProxyStatusCannotConnect indicates no connection could be established.
	ProxyStatusCannotConnect

	// ProxyStatusTimeout indicates the check timed out.
	ProxyStatusTimeout
)

// String returns a human-readable description of the proxy status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not SOCKS5)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error returns the error for this status, or nil if OK.
func (s ProxyStatus) Error() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrNotSOCKS5
	case ProxyStatusCannotConnect, ProxyStatusTimeout:
		return ErrProxyUnreachable
	default:
		return errors.New("unknown proxy status")
	}
}
