// Package scheduler launches cron subscriptions when their schedule comes
// due.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/automation"
	"github.com/djlord-it/findingsd/internal/domain"
)

// Source lists the enabled cron subscriptions.
type Source interface {
	CronSubscriptions() []domain.Subscription
}

type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

// Launcher fans a cron subscription out over its projects.
type Launcher interface {
	LaunchCron(ctx context.Context, sub domain.Subscription) (automation.CronResult, error)
}

// MetricsSink records scheduler activity. Implementations must not block.
type MetricsSink interface {
	CronTick(duration time.Duration, launched int)
	CronLaunchCompleted(subscription string, duration time.Duration, err error)
}

type Config struct {
	TickInterval time.Duration
	// Timezone cron expressions are evaluated in. Empty means UTC.
	Timezone string
}

// Scheduler runs due cron subscriptions. A subscription that is still
// running when it comes due again is not launched a second time.
type Scheduler struct {
	config   Config
	source   Source
	parser   CronParser
	launcher Launcher
	logger   *zap.Logger
	metrics  MetricsSink // optional
	clock    func() time.Time
	lastTick time.Time

	mu       sync.Mutex
	running  map[uuid.UUID]bool
	launched map[uuid.UUID]time.Time // last scheduled time launched
	wg       sync.WaitGroup
}

func New(config Config, source Source, parser CronParser, launcher Launcher, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		config:   config,
		source:   source,
		parser:   parser,
		launcher: launcher,
		logger:   logger.Named("scheduler"),
		clock:    time.Now,
		running:  make(map[uuid.UUID]bool),
		launched: make(map[uuid.UUID]time.Time),
	}
}

// WithMetrics attaches a metrics sink.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithClock replaces the time source.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run ticks until ctx is done, then waits for in-flight launches.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info("started", zap.Duration("tick", s.config.TickInterval))
	s.lastTick = s.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.processTick(ctx); err != nil {
				s.logger.Error("tick error", zap.Error(err))
			}
		}
	}
}

// Wait blocks until every launched subscription has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) processTick(ctx context.Context) error {
	start := s.clock()
	now := start.UTC()

	launched := 0
	for _, sub := range s.source.CronSubscriptions() {
		due, err := s.due(sub, s.lastTick, now)
		if err != nil {
			s.logger.Error("cannot schedule subscription",
				zap.String("subscription", sub.Name),
				zap.Error(err))
			continue
		}
		if due.IsZero() {
			continue
		}
		if s.launch(ctx, sub, due) {
			launched++
		}
	}

	s.lastTick = now
	if s.metrics != nil {
		s.metrics.CronTick(s.clock().Sub(start), launched)
	}
	return nil
}

// due returns the latest scheduled time of sub in (lastTick, now], or the
// zero time. Missed occurrences collapse into one launch.
func (s *Scheduler) due(sub domain.Subscription, lastTick, now time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(sub.CronExpression, s.config.Timezone)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parse cron")
	}

	const maxIterations = 1000
	var latest time.Time
	missed := 0
	t := sched.Next(lastTick)
	for i := 0; i < maxIterations && !t.After(now); i++ {
		if !latest.IsZero() {
			missed++
		}
		latest = t.UTC().Truncate(time.Minute)
		t = sched.Next(t)
	}
	if missed > 0 {
		s.logger.Warn("collapsing missed cron occurrences",
			zap.String("subscription", sub.Name),
			zap.Int("missed", missed))
	}
	return latest, nil
}

func (s *Scheduler) launch(ctx context.Context, sub domain.Subscription, scheduledAt time.Time) bool {
	s.mu.Lock()
	if last, ok := s.launched[sub.ID]; ok && !scheduledAt.After(last) {
		s.mu.Unlock()
		return false // already launched
	}
	if s.running[sub.ID] {
		s.mu.Unlock()
		s.logger.Warn("subscription still running, skipping occurrence",
			zap.String("subscription", sub.Name),
			zap.Time("scheduled_at", scheduledAt))
		return false
	}
	s.running[sub.ID] = true
	s.launched[sub.ID] = scheduledAt
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, sub.ID)
			s.mu.Unlock()
		}()

		start := s.clock()
		res, err := s.launcher.LaunchCron(ctx, sub)
		if s.metrics != nil {
			s.metrics.CronLaunchCompleted(sub.Name, s.clock().Sub(start), err)
		}
		if err != nil {
			s.logger.Error("cron subscription failed",
				zap.String("subscription", sub.Name),
				zap.Time("scheduled_at", scheduledAt),
				zap.Error(err))
			return
		}
		s.logger.Info("cron subscription launched",
			zap.String("subscription", sub.Name),
			zap.Time("scheduled_at", scheduledAt),
			zap.Int("projects", res.Projects),
			zap.Int("pages", res.Pages),
			zap.Int("published", res.Published))
	}()
	return true
}
