package socks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// checkProxyTimeout bounds the connectivity check.
const checkProxyTimeout = 2 * time.Second

// SOCKS5 protocol constants
const (
	socks5Version      = 0x05
	socks5AuthNone     = 0x00
	socks5AuthNoAccept = 0xFF
)

// Dialer opens TCP connections through a SOCKS5 proxy.
// Host names are resolved by the proxy, so DNS lookups never leave it.
type Dialer struct {
	proxyAddress string
	dialer       proxy.Dialer
}

// NewDialer creates a dialer for the proxy at "host:port".
//
// It validates the address format but does not contact the proxy. Call
// Check to verify that it is up.
func NewDialer(proxyAddress string) (*Dialer, error) {
	if !isValidProxyAddress(proxyAddress) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProxyAddress, proxyAddress)
	}

	// Nil auth: Tor and most local proxies accept unauthenticated clients.
	d, err := proxy.SOCKS5("tcp", proxyAddress, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	return &Dialer{proxyAddress: proxyAddress, dialer: d}, nil
}

// isValidProxyAddress checks if the address is in valid "host:port" format.
func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// ProxyAddress returns the configured proxy address.
func (d *Dialer) ProxyAddress() string {
	return d.proxyAddress
}

// DialContext connects to address through the proxy.
// It has the signature expected by http.Transport.DialContext.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if cd, ok := d.dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}

	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := d.dialer.Dial(network, address)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case result := <-resultCh:
		return result.conn, result.err
	case <-ctx.Done():
		go func() {
			if r := <-resultCh; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// CheckConnection performs a SOCKS5 greeting against the proxy and reports
// whether it accepts unauthenticated clients.
func (d *Dialer) CheckConnection(ctx context.Context) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", d.proxyAddress)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(checkProxyTimeout)); err != nil {
		return ProxyStatusCannotConnect
	}

	// version + one method + "no authentication"
	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return ProxyStatusCannotConnect
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if resp[0] != socks5Version || resp[1] == socks5AuthNoAccept || resp[1] != socks5AuthNone {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

// Check is CheckConnection as an error.
func (d *Dialer) Check(ctx context.Context) error {
	if err := d.CheckConnection(ctx).Error(); err != nil {
		return fmt.Errorf("%s: %w", d.proxyAddress, err)
	}
	return nil
}
