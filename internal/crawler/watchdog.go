package crawler

import (
	"context"
	"time"
)

// minWatchdogTick bounds how often the watchdog looks at progress.
const minWatchdogTick = 10 * time.Millisecond

// watchdog reports stalls: no unit of work completed within the threshold
// while URLs are still pending. It only reports; remediation is up to the
// StallHandler.
func (s *Scheduler) watchdog(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	tick := s.stallThreshold / 2
	if tick < minWatchdogTick {
		tick = minWatchdogTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.State() != Running {
			return
		}

		idle := s.now().Sub(time.Unix(0, s.lastProgress.Load()))
		if idle < s.stallThreshold || s.frontier.Len() == 0 {
			continue
		}

		s.stats.stalls.Add(1)
		hosts := s.frontier.Hosts()
		s.logger.Warn("crawl stalled",
			"idle", idle.Round(time.Millisecond),
			"pending", s.frontier.Len(),
			"in_flight", s.frontier.InFlight(),
			"hosts", len(hosts),
		)
		if s.onStall != nil {
			s.onStall(ctx, hosts)
		}
		s.touch()
	}
}
