package store

import "errors"

var (
	// ErrClosed is returned by Save after Close.
	ErrClosed = errors.New("store closed")

	// ErrRecordLost is returned when a record could not be saved and was
	// dropped.
	ErrRecordLost = errors.New("record lost")
)
