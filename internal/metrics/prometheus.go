package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.Logger

	// Router metrics
	findingsRoutedTotal *prometheus.CounterVec

	// Subscription metrics
	subscriptionsEvaluatedTotal *prometheus.CounterVec
	triggerAttemptsTotal        *prometheus.CounterVec
	cronPagesTotal              *prometheus.CounterVec

	// Job queue metrics
	jobsPublishedTotal    *prometheus.CounterVec
	deliveryAttemptsTotal *prometheus.CounterVec
	webhookDuration       prometheus.Histogram
	retryAttemptsTotal    *prometheus.CounterVec

	// EventBus metrics
	bufferSize prometheus.Gauge

	// Scheduler metrics
	ticksTotal         prometheus.Counter
	tickDuration       prometheus.Histogram
	cronLaunchedTotal  prometheus.Counter
	cronLaunchesTotal  *prometheus.CounterVec
	cronLaunchDuration prometheus.Histogram

	// Leader election metrics
	isLeader            prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	s := &PrometheusSink{logger: logger.Named("metrics")}
	s.initRouterMetrics(reg)
	s.initSubscriptionMetrics(reg)
	s.initJobQueueMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initSchedulerMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initRouterMetrics(reg prometheus.Registerer) {
	s.findingsRoutedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "findingsd_router_findings_total",
		Help: "Total number of findings routed, by finding kind and outcome.",
	}, []string{"kind", "outcome"})

	s.register(reg, s.findingsRoutedTotal, "findingsd_router_findings_total")
}

func (s *PrometheusSink) initSubscriptionMetrics(reg prometheus.Registerer) {
	s.subscriptionsEvaluatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "findingsd_subscription_evaluations_total",
		Help: "Total number of subscription evaluations, by trigger type and outcome.",
	}, []string{"trigger", "outcome"})

	s.triggerAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "findingsd_trigger_attempts_total",
		Help: "Total number of cooldown gate attempts, by outcome.",
	}, []string{"outcome"})

	s.cronPagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "findingsd_cron_pages_total",
		Help: "Total number of inventory pages fetched by cron subscriptions.",
	}, []string{"input"})

	s.register(reg, s.subscriptionsEvaluatedTotal, "findingsd_subscription_evaluations_total")
	s.register(reg, s.triggerAttemptsTotal, "findingsd_trigger_attempts_total")
	s.register(reg, s.cronPagesTotal, "findingsd_cron_pages_total")
}

func (s *PrometheusSink) initJobQueueMetrics(reg prometheus.Registerer) {
	s.jobsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "findingsd_jobqueue_published_total",
		Help: "Total number of job publications, by task and outcome.",
	}, []string{"task", "outcome"})

	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "findingsd_jobqueue_delivery_attempts_total",
		Help: "Total number of webhook delivery attempts.",
	}, []string{"attempt", "status_class"})

	s.webhookDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "findingsd_jobqueue_webhook_duration_seconds",
		Help:    "Webhook request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "findingsd_jobqueue_retry_attempts_total",
		Help: "Total number of retry attempts (excludes first attempt).",
	}, []string{"retryable"})

	s.register(reg, s.jobsPublishedTotal, "findingsd_jobqueue_published_total")
	s.register(reg, s.deliveryAttemptsTotal, "findingsd_jobqueue_delivery_attempts_total")
	s.register(reg, s.webhookDuration, "findingsd_jobqueue_webhook_duration_seconds")
	s.register(reg, s.retryAttemptsTotal, "findingsd_jobqueue_retry_attempts_total")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "findingsd_eventbus_buffer_size",
		Help: "Current number of findings in the event bus buffer.",
	})

	s.register(reg, s.bufferSize, "findingsd_eventbus_buffer_size")
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "findingsd_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "findingsd_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	s.cronLaunchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "findingsd_scheduler_launched_total",
		Help: "Total number of cron subscription launches started.",
	})
	s.cronLaunchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "findingsd_scheduler_launches_completed_total",
		Help: "Total number of completed cron subscription launches, by outcome.",
	}, []string{"outcome"})
	s.cronLaunchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "findingsd_scheduler_launch_duration_seconds",
		Help:    "Duration of a cron subscription launch in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})

	s.register(reg, s.ticksTotal, "findingsd_scheduler_ticks_total")
	s.register(reg, s.tickDuration, "findingsd_scheduler_tick_duration_seconds")
	s.register(reg, s.cronLaunchedTotal, "findingsd_scheduler_launched_total")
	s.register(reg, s.cronLaunchesTotal, "findingsd_scheduler_launches_completed_total")
	s.register(reg, s.cronLaunchDuration, "findingsd_scheduler_launch_duration_seconds")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "findingsd_leader_is_leader",
		Help: "1 when this instance holds the scheduler lock.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "findingsd_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "findingsd_leader_lost_total",
		Help: "Total number of times leadership was lost, by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "findingsd_leader_is_leader")
	s.register(reg, s.leaderAcquiredTotal, "findingsd_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "findingsd_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register collector", zap.String("name", name), zap.Error(err))
	}
}

func (s *PrometheusSink) FindingRouted(kind, outcome string) {
	s.findingsRoutedTotal.WithLabelValues(kind, outcome).Inc()
}

func (s *PrometheusSink) SubscriptionEvaluated(trigger, outcome string) {
	s.subscriptionsEvaluatedTotal.WithLabelValues(trigger, outcome).Inc()
}

func (s *PrometheusSink) TriggerAttempt(outcome string) {
	s.triggerAttemptsTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) CronPage(input string) {
	s.cronPagesTotal.WithLabelValues(input).Inc()
}

func (s *PrometheusSink) JobPublished(task, outcome string) {
	s.jobsPublishedTotal.WithLabelValues(task, outcome).Inc()
}

func (s *PrometheusSink) DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.webhookDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	s.retryAttemptsTotal.WithLabelValues(strconv.FormatBool(retryable)).Inc()
}

func (s *PrometheusSink) BufferSize(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) CronTick(duration time.Duration, launched int) {
	s.ticksTotal.Inc()
	s.tickDuration.Observe(duration.Seconds())
	s.cronLaunchedTotal.Add(float64(launched))
}

func (s *PrometheusSink) CronLaunchCompleted(subscription string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	// subscription names are unbounded, keep them out of the labels
	s.cronLaunchesTotal.WithLabelValues(outcome).Inc()
	s.cronLaunchDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}

var _ Sink = (*PrometheusSink)(nil)
