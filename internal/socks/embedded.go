package socks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/tornago"
)

// DefaultStartupTimeout is the default bootstrap limit of the embedded Tor
// daemon.
const DefaultStartupTimeout = 3 * time.Minute

// Embedded manages an embedded Tor daemon using tornago.
//
// Starting it takes one to three minutes: the daemon downloads directory
// information and builds its first circuits before the SOCKS port answers.
type Embedded struct {
	process        *tornago.TorProcess
	socksAddr      string
	startupTimeout time.Duration
	logger         *slog.Logger
}

// EmbeddedOption configures an Embedded instance.
type EmbeddedOption func(*Embedded)

// WithStartupTimeout sets the maximum time to wait for Tor to bootstrap.
func WithStartupTimeout(timeout time.Duration) EmbeddedOption {
	return func(e *Embedded) {
		if timeout > 0 {
			e.startupTimeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EmbeddedOption {
	return func(e *Embedded) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEmbedded creates an embedded Tor manager. Call Start to launch it.
func NewEmbedded(opts ...EmbeddedOption) *Embedded {
	e := &Embedded{
		startupTimeout: DefaultStartupTimeout,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the daemon on OS-assigned ports and blocks until it has
// bootstrapped or the startup timeout expires.
func (e *Embedded) Start(ctx context.Context) error {
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(e.startupTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	e.logger.Info("starting embedded tor", "timeout", e.startupTimeout)
	process, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return fmt.Errorf("failed to start embedded Tor daemon: %w", err)
	}

	select {
	case <-ctx.Done():
		_ = process.Stop() //nolint:errcheck // Best effort cleanup
		return ctx.Err()
	default:
	}

	e.process = process
	e.socksAddr = process.SocksAddr()
	e.logger.Info("embedded tor ready", "proxy", e.socksAddr)
	return nil
}

// Stop shuts the daemon down. It is safe to call on an unstarted instance
// and more than once.
func (e *Embedded) Stop() error {
	if e.process == nil {
		return nil
	}
	err := e.process.Stop()
	e.process = nil
	e.socksAddr = ""
	return err
}

// SocksAddr returns the SOCKS5 address of the running daemon, or an empty
// string if it is not running.
func (e *Embedded) SocksAddr() string {
	return e.socksAddr
}

// IsRunning reports whether the daemon is running.
func (e *Embedded) IsRunning() bool {
	return e.process != nil
}

// Dialer returns a Dialer using the daemon's SOCKS port.
func (e *Embedded) Dialer() (*Dialer, error) {
	if !e.IsRunning() {
		return nil, ErrTorNotRunning
	}
	return NewDialer(e.socksAddr)
}
