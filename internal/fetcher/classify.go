package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nao1215/dysdera/internal/model"
)

// classify maps a transport error to a fetch result.
func classify(ctx context.Context, rawURL string, err error, timeout time.Duration) model.FetchResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &model.Timeout{URL: rawURL, After: timeout}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &model.Timeout{URL: rawURL, After: timeout}
	}

	failure := &model.NetworkFailure{URL: rawURL, Err: err}

	var (
		dnsErr      *net.DNSError
		certErr     *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		recordErr   tls.RecordHeaderError
	)
	switch {
	case errors.Is(err, context.Canceled):
		failure.Kind = model.FailureRequest
	case errors.As(err, &dnsErr):
		failure.Kind = model.FailureDNS
		failure.Retryable = !dnsErr.IsNotFound
	case errors.As(err, &certErr), errors.As(err, &unknownAuth), errors.As(err, &hostErr),
		errors.As(err, &recordErr):
		failure.Kind = model.FailureTLS
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED), errors.Is(err, syscall.EPIPE):
		failure.Kind = model.FailureConnection
		failure.Retryable = true
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		failure.Kind = model.FailureProtocol
		failure.Retryable = true
	default:
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			failure.Kind = model.FailureConnection
			failure.Retryable = true
		} else {
			failure.Kind = model.FailureProtocol
			failure.Retryable = true
		}
	}
	return failure
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
