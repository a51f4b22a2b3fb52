package crawler

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/nao1215/dysdera/internal/frontier"
	"github.com/nao1215/dysdera/internal/model"
	"github.com/nao1215/dysdera/internal/policy"
	"github.com/nao1215/dysdera/internal/store"
)

// process runs one unit of work: fetch with retries, admit the response,
// extract, enqueue links and persist. The lease is held for the whole unit
// so that retries stay within the host's politeness limits.
func (s *Scheduler) process(ctx context.Context, lease *frontier.Lease) {
	defer lease.Release()
	rec := lease.Record

	result, attempts, ok := s.fetch(ctx, lease)
	if !ok {
		s.aborted.Add(1)
		s.logger.Debug("fetch aborted", "url", rec.URL)
		return
	}

	switch r := result.(type) {
	case *model.Success:
		s.stats.fetched.Add(1)
		s.handleSuccess(ctx, rec, r, attempts)
	case *model.PolicyRejected:
		s.stats.deny(r.Decision)
		s.logger.Debug("fetch rejected", "url", rec.URL, "decision", r.Decision.String())
	default:
		s.stats.failed.Add(1)
		s.logger.Warn("fetch failed", "url", rec.URL, "attempts", attempts, "error", model.Describe(result))
		out := model.NewContentRecord(rec)
		out.RunID = s.runID
		out.Failed = true
		out.Error = model.Describe(result)
		out.Attempts = attempts
		out.FetchedAt = s.now()
		if f, isFailure := result.(*model.NetworkFailure); isFailure {
			out.StatusCode = f.StatusCode
		}
		s.persist(ctx, out)
	}
}

// fetch performs the fetch and its retries. It reports false when the crawl
// was stopped in the meantime; the result is then discarded.
func (s *Scheduler) fetch(ctx context.Context, lease *frontier.Lease) (model.FetchResult, int, bool) {
	rec := lease.Record
	attempts := 0
	for {
		attempts++
		result := s.fetcher.FetchRecord(ctx, rec, s.fetchTimeout)
		if ctx.Err() != nil {
			return nil, attempts, false
		}
		if !model.Retryable(result) || attempts > s.maxRetries {
			return result, attempts, true
		}

		wait, ok := s.retryDelay(lease, attempts, result)
		if !ok {
			s.logger.Warn("retry-after exceeds limit",
				"url", rec.URL,
				"retry_after", wait,
				"limit", s.maxRetryWait,
			)
			return result, attempts, true
		}
		s.stats.retries.Add(1)
		s.logger.Info("retrying fetch",
			"url", rec.URL,
			"attempt", attempts,
			"wait", wait,
			"error", model.Describe(result),
		)
		if !sleep(ctx, wait) {
			return nil, attempts, false
		}
	}
}

// retryDelay is the backoff for the given attempt, raised to the host's
// politeness delay and to any server-sent Retry-After. It reports false
// when the Retry-After is longer than the scheduler will hold a lease.
func (s *Scheduler) retryDelay(lease *frontier.Lease, attempt int, result model.FetchResult) (time.Duration, bool) {
	wait := s.backoff(attempt)
	if h, ok := s.frontier.Host(lease.Host()); ok && h.Delay > wait {
		wait = h.Delay
	}
	if f, ok := result.(*model.NetworkFailure); ok && f.RetryAfter > wait {
		if f.RetryAfter > s.maxRetryWait {
			return f.RetryAfter, false
		}
		wait = f.RetryAfter
	}
	return wait, true
}

func (s *Scheduler) handleSuccess(ctx context.Context, rec *model.URLRecord, r *model.Success, attempts int) {
	if s.admit != nil {
		final, err := url.Parse(r.FinalURL)
		if err != nil {
			final, _ = url.Parse(rec.URL)
		}
		d := s.admit.AdmitResponse(ctx, policy.Response{
			URL:           final,
			StatusCode:    r.StatusCode,
			ContentType:   r.ContentType,
			ContentLength: r.ContentLength,
		})
		if !d.Allowed {
			s.stats.deny(d)
			return
		}
	}

	ex := s.pipeline.Process(ctx, rec, r)
	out := ex.Record
	out.RunID = s.runID
	out.Attempts = attempts
	links := ex.Links

	if out.ParseError {
		s.stats.parseErrors.Add(1)
	}
	if s.duplicates != nil && !out.ParseError {
		if of, dup := s.duplicates.check(out); dup {
			out.Duplicate = true
			out.DuplicateOf = of
			links = nil
			s.stats.duplicates.Add(1)
			s.logger.Debug("duplicate content", "url", out.URL, "duplicate_of", of)
		}
	}

	for _, l := range links {
		s.enqueue(ctx, frontier.Candidate{
			URL:    l.URL,
			Depth:  l.Depth,
			Parent: rec.URL,
			Kind:   l.Kind,
			Hint:   l.Hint,
		})
	}

	if ctx.Err() != nil {
		s.aborted.Add(1)
		return
	}
	s.persist(ctx, out)
}

// persist saves a record. A failed save is counted as lost and never stops
// the worker.
func (s *Scheduler) persist(ctx context.Context, out *model.ContentRecord) {
	if err := s.sink.Save(ctx, out); err != nil {
		s.stats.lost.Add(1)
		msg := "save failed"
		if errors.Is(err, store.ErrRecordLost) {
			msg = "record dropped"
		}
		s.logger.Warn(msg, "url", out.URL, "error", err)
		return
	}
	s.stats.persisted.Add(1)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
