package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) FindingRouted(kind, outcome string)                                        {}
func (n *NoopSink) SubscriptionEvaluated(trigger, outcome string)                             {}
func (n *NoopSink) TriggerAttempt(outcome string)                                             {}
func (n *NoopSink) CronPage(input string)                                                     {}
func (n *NoopSink) JobPublished(task, outcome string)                                         {}
func (n *NoopSink) DeliveryAttemptCompleted(attempt int, statusClass string, d time.Duration) {}
func (n *NoopSink) RetryAttempt(retryable bool)                                               {}
func (n *NoopSink) BufferSize(size int)                                                       {}
func (n *NoopSink) CronTick(duration time.Duration, launched int)                             {}
func (n *NoopSink) CronLaunchCompleted(sub string, d time.Duration, err error)                {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                         {}
func (n *NoopSink) LeaderAcquired()                                                           {}
func (n *NoopSink) LeaderLost(reason string)                                                  {}

var _ Sink = (*NoopSink)(nil)
