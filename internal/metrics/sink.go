// Package metrics exposes the engine's activity to Prometheus.
package metrics

import "time"

// Sink receives metrics from every component of the engine.
// Implementations must be non-blocking and fire-and-forget.
type Sink interface {
	// Router
	FindingRouted(kind, outcome string)

	// Subscriptions
	SubscriptionEvaluated(trigger, outcome string)
	TriggerAttempt(outcome string)
	CronPage(input string)

	// Job queue
	JobPublished(task, outcome string)
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	RetryAttempt(retryable bool)

	// Event bus
	BufferSize(n int)

	// Scheduler
	CronTick(duration time.Duration, launched int)
	CronLaunchCompleted(subscription string, duration time.Duration, err error)

	// Leader election
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}
