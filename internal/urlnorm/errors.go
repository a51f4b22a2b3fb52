package urlnorm

import "errors"

var (
	// ErrInvalidURL is returned for input that cannot be parsed as an
	// absolute URL. Callers drop such input and count it.
	ErrInvalidURL = errors.New("invalid url")

	// ErrUnsupportedScheme is returned for schemes other than http and https.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")

	// ErrEmptyHost is returned for URLs without a host component.
	ErrEmptyHost = errors.New("url has no host")
)
