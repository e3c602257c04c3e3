// Package leaderelection makes sure a single findingsd instance runs the
// cron scheduler.
//
// With Postgres, a session-scoped advisory lock determines the leader. The
// lock is held for the lifetime of a dedicated database connection; there is
// no renewal or TTL. If the connection dies, Postgres releases the lock
// server-side. The heartbeat ping exists solely to detect local connection
// death so the leader can stop its duties promptly.
package leaderelection

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reasons leadership is lost.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Lock is a held leadership lock.
type Lock interface {
	// Ping reports whether the lock is still held.
	Ping(ctx context.Context) error
	Release() error
}

// Locker hands out the leadership lock. TryLock does not block waiting for
// another holder; it returns acquired=false instead.
type Locker interface {
	TryLock(ctx context.Context, key int64) (lock Lock, acquired bool, err error)
}

type Config struct {
	LockKey int64
	// RetryInterval: follower, how often to attempt lock acquisition.
	RetryInterval time.Duration
	// HeartbeatInterval: leader, how often to ping the lock.
	HeartbeatInterval time.Duration
}

// Elector runs the election loop.
type Elector struct {
	config    Config
	locker    Locker
	onElected func(ctx context.Context)
	onDemoted func()
	metrics   MetricsSink // optional, nil = disabled
	logger    *zap.Logger
}

// New creates a new Elector.
//
// onElected is called in a new goroutine when this instance acquires the lock.
// The provided context is cancelled when leadership is lost.
// onElected should start leader duties and return quickly.
//
// onDemoted is called synchronously when leadership is lost.
// It should stop leader duties and block until they are fully stopped.
// It must be idempotent.
func New(config Config, locker Locker, onElected func(ctx context.Context), onDemoted func(), logger *zap.Logger) *Elector {
	return &Elector{
		config:    config,
		locker:    locker,
		onElected: onElected,
		onDemoted: onDemoted,
		logger:    logger.Named("leader"),
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run starts the leader election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Info("starting election loop",
		zap.Int64("lock_key", e.config.LockKey),
		zap.Duration("retry", e.config.RetryInterval),
		zap.Duration("heartbeat", e.config.HeartbeatInterval))

	for {
		reason := e.runOnce(ctx)

		if ctx.Err() != nil {
			e.logger.Info("election loop stopped")
			return
		}
		if reason != "" {
			e.logger.Warn("lost leadership, will retry",
				zap.String("reason", reason),
				zap.Duration("retry", e.config.RetryInterval))
		}

		select {
		case <-ctx.Done():
			e.logger.Info("election loop stopped")
			return
		case <-time.After(e.config.RetryInterval):
		}
	}
}

// runOnce attempts to acquire the lock and hold it.
// Returns the reason leadership was lost ("" if the lock was not acquired).
func (e *Elector) runOnce(ctx context.Context) string {
	if ctx.Err() != nil {
		return ""
	}
	lock, acquired, err := e.locker.TryLock(ctx, e.config.LockKey)
	if err != nil {
		e.logger.Error("lock attempt failed", zap.Error(err))
		return ""
	}
	if !acquired {
		e.logger.Debug("lock held by another instance", zap.Int64("lock_key", e.config.LockKey))
		return ""
	}
	defer func() {
		if err := lock.Release(); err != nil {
			e.logger.Warn("release lock", zap.Error(err))
		}
	}()

	e.logger.Info("acquired leadership", zap.Int64("lock_key", e.config.LockKey))
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.holdLock(ctx, lock)

	cancelLeader()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}
	e.logger.Info("released leadership", zap.String("reason", reason))
	return reason
}

// holdLock blocks while pinging the lock.
// Returns the reason the lock was lost.
func (e *Elector) holdLock(ctx context.Context, lock Lock) string {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			if err := lock.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				e.logger.Error("lock heartbeat failed", zap.Error(err))
				return ReasonConnLost
			}
		}
	}
}
