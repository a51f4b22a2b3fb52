package socks

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// socksServer is a minimal SOCKS5 server that connects every CONNECT
// request to target and records the requested addresses.
type socksServer struct {
	listener net.Listener
	target   string

	mu        sync.Mutex
	requested []string
}

func newSOCKSServer(t *testing.T, target string) *socksServer {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to start mock server: %v", err)
	}
	s := &socksServer{listener: l, target: target}
	t.Cleanup(func() { _ = l.Close() })
	go s.serve()
	return s
}

func (s *socksServer) addr() string { return s.listener.Addr().String() }

func (s *socksServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *socksServer) handle(conn net.Conn) {
	defer conn.Close()

	greeting := make([]byte, 2)
	if _, err := io.ReadFull(conn, greeting); err != nil {
		return
	}
	methods := make([]byte, greeting[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return
	}
	if _, err := conn.Write([]byte{0x05, 0x00}); err != nil {
		return
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return
	}
	var host string
	switch header[3] {
	case 0x01:
		ip := make([]byte, 4)
		if _, err := io.ReadFull(conn, ip); err != nil {
			return
		}
		host = net.IP(ip).String()
	case 0x03:
		n := make([]byte, 1)
		if _, err := io.ReadFull(conn, n); err != nil {
			return
		}
		name := make([]byte, n[0])
		if _, err := io.ReadFull(conn, name); err != nil {
			return
		}
		host = string(name)
	default:
		return
	}
	port := make([]byte, 2)
	if _, err := io.ReadFull(conn, port); err != nil {
		return
	}

	s.mu.Lock()
	s.requested = append(s.requested, net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(port)))))
	s.mu.Unlock()

	upstream, err := net.Dial("tcp", s.target) //nolint:noctx // test code
	if err != nil {
		_, _ = conn.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return
	}
	defer upstream.Close()
	if _, err := conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 127, 0, 0, 1, 0, 0}); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() { _, _ = io.Copy(upstream, conn); done <- struct{}{} }()
	go func() { _, _ = io.Copy(conn, upstream); done <- struct{}{} }()
	<-done
}

func (s *socksServer) requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requested...)
}

// TestNewDialer tests address validation.
func TestNewDialer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		address string
		valid   bool
	}{
		{"127.0.0.1:9050", true},
		{"localhost:1080", true},
		{"[::1]:9050", true},
		{"127.0.0.1", false},
		{":9050", false},
		{"127.0.0.1:0", false},
		{"127.0.0.1:65536", false},
		{"127.0.0.1:abc", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			t.Parallel()

			d, err := NewDialer(tt.address)
			if tt.valid {
				if err != nil || d.ProxyAddress() != tt.address {
					t.Errorf("expected valid dialer, got %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidProxyAddress) {
				t.Errorf("expected ErrInvalidProxyAddress, got %v", err)
			}
		})
	}
}

// TestDialContext tests HTTP traffic through the proxy.
func TestDialContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello from "+r.Host)
	}))
	t.Cleanup(srv.Close)

	proxySrv := newSOCKSServer(t, srv.Listener.Addr().String())
	d, err := NewDialer(proxySrv.addr())
	if err != nil {
		t.Fatalf("failed to create dialer: %v", err)
	}

	client := &http.Client{Transport: &http.Transport{DialContext: d.DialContext}, Timeout: 5 * time.Second}
	resp, err := client.Get("http://example.com/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if string(body) != "hello from example.com" {
		t.Errorf("unexpected body %q", body)
	}
	reqs := proxySrv.requests()
	if len(reqs) != 1 || reqs[0] != "example.com:80" {
		t.Errorf("expected the proxy to resolve example.com:80, got %v", reqs)
	}
}

// TestDialContextCancelled tests that a cancelled context fails the dial.
func TestDialContextCancelled(t *testing.T) {
	t.Parallel()

	d, err := NewDialer("127.0.0.1:59997")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.DialContext(ctx, "tcp", "example.com:80"); err == nil {
		t.Error("expected dial to fail")
	}
}

// TestCheckConnection tests the SOCKS5 greeting check.
func TestCheckConnection(t *testing.T) {
	t.Parallel()

	// mock answers the client greeting with reply.
	mock := func(t *testing.T, reply []byte) string {
		t.Helper()

		listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
		if err != nil {
			t.Fatalf("failed to start mock server: %v", err)
		}
		t.Cleanup(func() { _ = listener.Close() })
		go func() {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			buf := make([]byte, 3)
			_, _ = io.ReadFull(conn, buf)
			_, _ = conn.Write(reply)
		}()
		return listener.Addr().String()
	}

	t.Run("returns CannotConnect for non-existent proxy", func(t *testing.T) {
		t.Parallel()

		d, _ := NewDialer("127.0.0.1:59999")
		if status := d.CheckConnection(context.Background()); status != ProxyStatusCannotConnect {
			t.Errorf("expected ProxyStatusCannotConnect, got %v", status)
		}
		if err := d.Check(context.Background()); !errors.Is(err, ErrProxyUnreachable) {
			t.Errorf("expected ErrProxyUnreachable, got %v", err)
		}
	})

	t.Run("returns WrongType for non-SOCKS5 server", func(t *testing.T) {
		t.Parallel()

		d, _ := NewDialer(mock(t, []byte("HTTP/1.1 200 OK\r\n\r\n")))
		if status := d.CheckConnection(context.Background()); status != ProxyStatusWrongType {
			t.Errorf("expected ProxyStatusWrongType, got %v", status)
		}
	})

	t.Run("returns WrongType for SOCKS5 requiring auth", func(t *testing.T) {
		t.Parallel()

		d, _ := NewDialer(mock(t, []byte{0x05, 0xFF}))
		if err := d.Check(context.Background()); !errors.Is(err, ErrNotSOCKS5) {
			t.Errorf("expected ErrNotSOCKS5, got %v", err)
		}
	})

	t.Run("returns OK for valid SOCKS5 proxy", func(t *testing.T) {
		t.Parallel()

		d, _ := NewDialer(mock(t, []byte{0x05, 0x00}))
		if status := d.CheckConnection(context.Background()); status != ProxyStatusOK {
			t.Errorf("expected ProxyStatusOK, got %v", status)
		}
	})
}

// TestProxyStatus tests status strings and errors.
func TestProxyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status ProxyStatus
		str    string
		err    error
	}{
		{ProxyStatusOK, "OK", nil},
		{ProxyStatusWrongType, "wrong type (not SOCKS5)", ErrNotSOCKS5},
		{ProxyStatusCannotConnect, "cannot connect", ErrProxyUnreachable},
		{ProxyStatusTimeout, "timeout", ErrProxyUnreachable},
	}
	for _, tt := range tests {
		if tt.status.String() != tt.str {
			t.Errorf("expected %q, got %q", tt.str, tt.status.String())
		}
		if !errors.Is(tt.status.Error(), tt.err) && tt.err != nil {
			t.Errorf("expected %v, got %v", tt.err, tt.status.Error())
		}
		if tt.err == nil && tt.status.Error() != nil {
			t.Errorf("expected nil error for %v", tt.status)
		}
	}
	if ProxyStatus(99).String() != "unknown" {
		t.Error("expected unknown status string")
	}
}

// TestEmbedded tests the embedded daemon without starting Tor.
func TestEmbedded(t *testing.T) {
	t.Parallel()

	e := NewEmbedded()
	if e.startupTimeout != DefaultStartupTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultStartupTimeout, e.startupTimeout)
	}
	if e.IsRunning() || e.SocksAddr() != "" {
		t.Error("expected an idle daemon")
	}
	if _, err := e.Dialer(); !errors.Is(err, ErrTorNotRunning) {
		t.Errorf("expected ErrTorNotRunning, got %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Errorf("expected Stop on an idle daemon to succeed, got %v", err)
	}

	e = NewEmbedded(WithStartupTimeout(5*time.Minute), WithStartupTimeout(0))
	if e.startupTimeout != 5*time.Minute {
		t.Errorf("expected timeout 5m, got %v", e.startupTimeout)
	}
}
