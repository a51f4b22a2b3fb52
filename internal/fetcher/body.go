package fetcher

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"
)

var (
	errBodyTooLarge        = errors.New("response body too large")
	errUnsupportedEncoding = errors.New("unsupported content encoding")
)

// readBody decodes the content encoding and reads at most limit bytes.
// A body longer than limit yields errBodyTooLarge.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	reader, closer, err := decoder(resp)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		defer closer.Close()
	}

	if limit <= 0 {
		body, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return body, nil
	}

	body, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// decoder wraps the body according to Content-Encoding.
func decoder(resp *http.Response) (io.Reader, io.Closer, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return resp.Body, nil, nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip decode: %w", err)
		}
		return gz, gz, nil
	case "br":
		return brotli.NewReader(resp.Body), nil, nil
	case "deflate":
		// Servers disagree on whether deflate is zlib-wrapped.
		br := bufio.NewReader(resp.Body)
		if header, err := br.Peek(2); err == nil && isZlibHeader(header) {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return nil, nil, fmt.Errorf("deflate decode: %w", err)
			}
			return zr, zr, nil
		}
		fl := flate.NewReader(br)
		return fl, fl, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errUnsupportedEncoding, encoding)
	}
}

func isZlibHeader(b []byte) bool {
	return b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

// isText reports whether a media type carries text that should be
// converted to UTF-8.
func isText(mediaType string) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	for _, s := range []string{"html", "xml", "json", "javascript"} {
		if strings.Contains(mediaType, s) {
			return true
		}
	}
	return false
}

// toUTF8 converts body to UTF-8 using the declared charset, a BOM or an
// HTML meta prescan. The body is returned unchanged when conversion fails.
func toUTF8(body []byte, contentType string) []byte {
	if !strings.Contains(strings.ToLower(contentType), "charset=") && utf8.Valid(body) {
		return body
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return out
}
