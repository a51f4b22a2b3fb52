package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/dysdera/internal/model"
)

// Sink persists content records.
//
// Save must be idempotent: saving the same record twice is allowed and is
// treated as an upsert keyed by the record URL. Implementations must accept
// concurrent calls from multiple workers.
type Sink interface {
	Save(ctx context.Context, rec *model.ContentRecord) error
	Close() error
}

// Backoff returns the wait before retry number attempt (starting at 1).
type Backoff func(attempt int) time.Duration

// ExponentialBackoff doubles base on every attempt, capped at limit.
func ExponentialBackoff(base, limit time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= limit {
				return limit
			}
		}
		if d > limit {
			return limit
		}
		return d
	}
}

// Retrying wraps a Sink and retries failed saves.
//
// With drop enabled, a record still unsaved after the configured number of
// retries is given up and Save returns an error wrapping ErrRecordLost.
// Without it, Save keeps retrying until the context is done.
type Retrying struct {
	sink    Sink
	retries int
	drop    bool
	backoff Backoff
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// RetryOption configures a Retrying sink.
type RetryOption func(*Retrying)

// WithRetries sets how many times a failed save is retried.
func WithRetries(n int) RetryOption {
	return func(r *Retrying) {
		if n >= 0 {
			r.retries = n
		}
	}
}

// WithDrop makes Retrying give up after the retries are exhausted.
func WithDrop(drop bool) RetryOption {
	return func(r *Retrying) { r.drop = drop }
}

// WithBackoff sets the wait between attempts.
func WithBackoff(b Backoff) RetryOption {
	return func(r *Retrying) {
		if b != nil {
			r.backoff = b
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RetryOption {
	return func(r *Retrying) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRetrying wraps sink with retries.
func NewRetrying(sink Sink, opts ...RetryOption) *Retrying {
	r := &Retrying{
		sink:    sink,
		retries: 3,
		drop:    true,
		backoff: ExponentialBackoff(500*time.Millisecond, 30*time.Second),
		logger:  slog.New(slog.DiscardHandler),
		sleep:   sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Save implements Sink.
func (r *Retrying) Save(ctx context.Context, rec *model.ContentRecord) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = r.sink.Save(ctx, rec); err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		if r.drop && attempt >= r.retries {
			r.logger.Warn("record lost", "url", rec.URL, "attempts", attempt+1, "error", err)
			return fmt.Errorf("%w: %s: %w", ErrRecordLost, rec.URL, err)
		}
		r.logger.Info("retrying save", "url", rec.URL, "attempt", attempt+1, "error", err)
		if serr := r.sleep(ctx, r.backoff(attempt+1)); serr != nil {
			return fmt.Errorf("%w: %s: %w", ErrRecordLost, rec.URL, serr)
		}
	}
}

// Close implements Sink.
func (r *Retrying) Close() error {
	return r.sink.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Multi saves every record to all of its sinks.
type Multi []Sink

// Save implements Sink. It tries every sink and joins their errors.
func (m Multi) Save(ctx context.Context, rec *model.ContentRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps records in memory, upserting by URL.
type Memory struct {
	mu      sync.Mutex
	records map[string]*model.ContentRecord
	order   []string
	saves   int
	closed  bool
}

// NewMemory creates an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*model.ContentRecord)}
}

// Save implements Sink.
func (m *Memory) Save(_ context.Context, rec *model.ContentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.records[rec.URL]; !ok {
		m.order = append(m.order, rec.URL)
	}
	cp := *rec
	m.records[rec.URL] = &cp
	m.saves++
	return nil
}

// Close implements Sink.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns the stored records in first-save order.
func (m *Memory) Records() []*model.ContentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.ContentRecord, 0, len(m.order))
	for _, u := range m.order {
		out = append(out, m.records[u])
	}
	return out
}

// Get returns the record stored for url.
func (m *Memory) Get(url string) (*model.ContentRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[url]
	return rec, ok
}

// Saves returns the number of successful Save calls, upserts included.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
