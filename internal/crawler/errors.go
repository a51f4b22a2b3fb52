package crawler

import "errors"

var (
	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = errors.New("crawl already started")

	// ErrNoSeeds is returned when Run is called without seed URLs.
	ErrNoSeeds = errors.New("no seed urls")
)
