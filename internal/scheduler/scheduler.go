// Package scheduler triggers pipeline runs on a cron schedule for the daemon.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions and descriptors such as
// @hourly or @every 30m.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse validates a cron expression.
func Parse(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// Options tunes a Scheduler.
type Options struct {
	Jitter     time.Duration // random delay added before each run
	RunOnStart bool          // run once immediately before waiting for the first tick
}

// Scheduler runs one pipeline at a time on a schedule. A run that overruns
// later ticks causes those ticks to be skipped, never queued.
type Scheduler struct {
	schedule cron.Schedule
	runner   Runner
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	next    time.Time
	lastErr error
	lastRun time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Scheduler. Call Start to begin.
func New(schedule cron.Schedule, runner Runner, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		schedule: schedule,
		runner:   runner,
		opts:     opts,
		logger:   logger.With("component", "scheduler"),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the schedule loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler", "run_on_start", s.opts.RunOnStart, "jitter", s.opts.Jitter)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop waits for an in-flight run to finish and stops the loop.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Next returns the time of the next scheduled run.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// LastRun returns when the previous run started and how it ended.
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	if s.opts.RunOnStart {
		s.trigger(ctx, s.now())
	}

	for {
		now := s.now()
		next := s.schedule.Next(now)
		if next.IsZero() {
			s.logger.Warn("Schedule has no future activations, stopping")
			return
		}
		delay := next.Sub(now) + calculateJitter(s.opts.Jitter)
		s.setNext(now.Add(delay))
		s.logger.Debug("Next run scheduled", "at", now.Add(delay).Format(time.RFC3339), "in", delay.Round(time.Second))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			s.trigger(ctx, next)
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			s.logger.Warn("Scheduler context cancelled, stopping loop")
			return
		}
	}
}

// trigger runs the pipeline synchronously and reports ticks that elapsed meanwhile.
func (s *Scheduler) trigger(ctx context.Context, due time.Time) {
	started := s.now()
	s.logger.Info("Scheduled run starting", "due", due.Format(time.RFC3339))

	err := s.runner.Run(ctx)

	s.mu.Lock()
	s.lastRun = started
	s.lastErr = err
	s.mu.Unlock()

	switch {
	case err == nil:
		s.logger.Info("Scheduled run finished", "duration", s.now().Sub(started).Round(time.Millisecond))
	case errors.Is(err, context.Canceled):
		s.logger.Warn("Scheduled run canceled", "error", err)
	default:
		s.logger.Error("Scheduled run failed", "error", err)
	}

	if missed := s.missedTicks(due, s.now()); missed > 0 {
		s.logger.Warn("Run overran its schedule, skipping missed ticks", "missed", missed)
	}
}

// missedTicks counts activations strictly between due and now, capped to keep
// pathological schedules cheap.
func (s *Scheduler) missedTicks(due, now time.Time) int {
	const limit = 1000
	n := 0
	for t := s.schedule.Next(due); !t.IsZero() && t.Before(now) && n < limit; t = s.schedule.Next(t) {
		n++
	}
	return n
}

func (s *Scheduler) setNext(t time.Time) {
	s.mu.Lock()
	s.next = t
	s.mu.Unlock()
}

// calculateJitter returns a random duration in [0, jitter].
func calculateJitter(jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(jitter) + 1))
}
