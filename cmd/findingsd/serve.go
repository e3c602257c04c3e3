package main

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/djlord-it/findingsd/internal/api"
	"github.com/djlord-it/findingsd/internal/automation"
	"github.com/djlord-it/findingsd/internal/circuitbreaker"
	"github.com/djlord-it/findingsd/internal/config"
	"github.com/djlord-it/findingsd/internal/cron"
	"github.com/djlord-it/findingsd/internal/inventory"
	"github.com/djlord-it/findingsd/internal/jobqueue"
	"github.com/djlord-it/findingsd/internal/jobs"
	"github.com/djlord-it/findingsd/internal/leaderelection"
	"github.com/djlord-it/findingsd/internal/metrics"
	"github.com/djlord-it/findingsd/internal/router"
	"github.com/djlord-it/findingsd/internal/scheduler"
	"github.com/djlord-it/findingsd/internal/store/postgres"
	"github.com/djlord-it/findingsd/internal/store/sqlite"
	"github.com/djlord-it/findingsd/internal/subscription"
	"github.com/djlord-it/findingsd/internal/transport/channel"
	"github.com/djlord-it/findingsd/internal/trigger"
)

// cronParserAdapter adapts internal/cron.Parser to scheduler.CronParser interface.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a *cronParserAdapter) Parse(expression string, timezone string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return &cronScheduleAdapter{sched: sched}, nil
}

// cronScheduleAdapter adapts internal/cron.Schedule to scheduler.CronSchedule interface.
type cronScheduleAdapter struct {
	sched cron.Schedule
}

func (a *cronScheduleAdapter) Next(after time.Time) time.Time {
	return a.sched.Next(after)
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		logConfig = zap.NewDevelopmentConfig()
	}
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	logConfig.Level = zap.NewAtomicLevelAt(level)
	return logConfig.Build()
}

// leaderDuties runs the scheduler while this instance is the leader.
// At most one Run is active at a time.
type leaderDuties struct {
	sched interface {
		Run(ctx context.Context) error
	}

	running sync.Mutex
}

func (d *leaderDuties) start(ctx context.Context) {
	d.running.Lock()
	defer d.running.Unlock()
	// Leadership may already be lost when this goroutine gets scheduled.
	if ctx.Err() != nil {
		return
	}
	_ = d.sched.Run(ctx)
}

// stop waits for the scheduler, whose context the elector already cancelled.
func (d *leaderDuties) stop() {
	d.running.Lock()
	d.running.Unlock()
}

func runServe(cfg config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return invalidConfig(err)
	}
	defer logger.Sync()

	for _, w := range cfg.Warnings {
		logger.Warn("configuration", zap.String("warning", w))
	}
	logger.Info("starting findingsd",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("trigger_store", cfg.TriggerStore),
		zap.String("job_queue", cfg.JobQueue),
		zap.Duration("tick", cfg.TickInterval))

	ctx := context.Background()
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("close", zap.Error(err))
			}
		}
	}()

	// Metrics sink (optional)
	var sink metrics.Sink = metrics.NewNoopSink()
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, logger)
		logger.Info("metrics enabled", zap.String("path", cfg.MetricsPath), zap.String("port", cfg.MetricsPort))
	} else {
		logger.Info("METRICS_ENABLED not set; metrics disabled")
	}

	// Postgres backs the trigger store and leader election.
	var db *sql.DB
	if cfg.UsesPostgres() {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "failed to open database")
		}
		closers = append(closers, db)
		if err := db.PingContext(ctx); err != nil {
			return errors.Wrap(err, "failed to connect to database")
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	var triggerStore trigger.Store
	switch cfg.TriggerStore {
	case config.TriggerStorePostgres:
		triggerStore = postgres.New(db, cfg.DBOpTimeout)
	case config.TriggerStoreSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		closers = append(closers, s)
		triggerStore = s
	default:
		triggerStore = trigger.NewMemoryStore()
		logger.Warn("trigger store is in memory; cooldowns reset on restart")
	}

	publisher, err := newPublisher(cfg, sink, logger, &closers)
	if err != nil {
		return err
	}
	queue := jobqueue.NewGuarded(publisher, cfg.JobQueue, logger).WithMetrics(sink)
	if cfg.CircuitBreakerThreshold > 0 {
		queue = queue.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}

	subs, err := subscription.LoadDir(cfg.SubscriptionsDir)
	var loadErrs subscription.LoadErrors
	switch {
	case errors.As(err, &loadErrs):
		for _, fe := range loadErrs {
			logger.Error("invalid subscription file, skipped", zap.String("file", fe.File), zap.Error(fe.Err))
		}
	case err != nil:
		logger.Warn("no subscriptions loaded", zap.String("dir", cfg.SubscriptionsDir), zap.Error(err))
	}
	registry := subscription.NewRegistry(subs...)
	logger.Info("subscriptions loaded", zap.Int("count", registry.Len()))

	inv := inventory.New()
	if cfg.CustomJobsDir == "" {
		logger.Info("CUSTOM_JOBS_DIR not set, subscriptions naming custom jobs will be skipped")
	} else {
		catalog, err := jobs.LoadCatalogDir(cfg.CustomJobsDir)
		if err != nil {
			return invalidConfig(errors.Wrap(err, "custom jobs"))
		}
		catalog.Apply(context.Background(), inv)
		logger.Info("custom jobs loaded",
			zap.Int("custom_jobs", len(catalog.CustomJobs)),
			zap.Int("pod_configs", len(catalog.PodConfigs)))
	}
	gate := trigger.New(triggerStore, inv, logger).WithMetrics(sink)

	engine := automation.New(automation.Deps{
		Subscriptions: registry,
		Projects:      inv,
		Pager:         inv,
		Gate:          gate,
		Resolver:      jobs.NewResolver(inv, logger),
		Factory:       jobs.NewFactory(inv, logger),
		Queue:         queue,
	}, logger).WithMetrics(sink).WithPageSize(cfg.CronPageSize)

	rtr := router.New(inv, inv, inv, engine, logger, router.Options{
		CacheSize: cfg.JobCacheSize,
		CacheTTL:  cfg.JobCacheTTL,
	}).WithMetrics(sink)

	bus := channel.NewFindingBus(cfg.EventBusBufferSize, channel.WithMetrics(sink))

	sched := scheduler.New(
		scheduler.Config{TickInterval: cfg.TickInterval, Timezone: cfg.CronTimezone},
		registry,
		&cronParserAdapter{parser: cron.NewParser()},
		engine,
		logger,
	).WithMetrics(sink)

	var locker leaderelection.Locker = leaderelection.LocalLocker{}
	if db != nil {
		locker = leaderelection.NewPostgresLocker(db)
	}
	duties := &leaderDuties{sched: sched}
	elector := leaderelection.New(leaderelection.Config{
		LockKey:           cfg.LeaderLockKey,
		RetryInterval:     cfg.LeaderRetryInterval,
		HeartbeatInterval: cfg.LeaderHeartbeatInterval,
	}, locker, duties.start, duties.stop, logger).WithMetrics(sink)

	// HTTP server
	apiHandler := api.NewHandler(bus, rtr, registry, gate, logger).WithResources(inv)
	if db != nil {
		apiHandler = apiHandler.WithHealthChecker(db)
	}
	mux := chi.NewRouter()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		if cfg.MetricsPort == "" {
			mux.Handle(cfg.MetricsPath, promhttp.Handler())
		} else {
			metricsMux := chi.NewRouter()
			metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
			metricsServer = &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
			go func() {
				logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()
		}
	}
	mux.Mount("/", apiHandler.Routes())

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	// Separate contexts enable ordered shutdown.
	electorCtx, cancelElector := context.WithCancel(ctx)
	routerCtx, cancelRouter := context.WithCancel(ctx)
	defer cancelRouter()

	var electorWg, routerWg sync.WaitGroup
	electorWg.Add(1)
	go func() {
		defer electorWg.Done()
		elector.Run(electorCtx)
	}()
	routerWg.Add(1)
	go func() {
		defer routerWg.Done()
		rtr.Run(routerCtx, bus.Channel(), cfg.RouterWorkers)
	}()

	logger.Info("started",
		zap.String("http", cfg.HTTPAddr),
		zap.Int("router_workers", cfg.RouterWorkers))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logger.Info("received signal, shutting down", zap.String("signal", received.String()))

	// Phase 1: stop the elector, which stops the scheduler and waits for
	// in-flight cron launches.
	logger.Info("stopping scheduler...")
	cancelElector()
	electorWg.Wait()
	logger.Info("scheduler stopped")

	// Phase 2: stop accepting findings.
	logger.Info("stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(ctx, cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	logger.Info("http server stopped")

	// Phase 3: drain buffered findings through the router.
	logger.Info("draining finding bus...", zap.Int("buffered", bus.Len()))
	bus.Close()
	drained := make(chan struct{})
	go func() {
		routerWg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		logger.Info("router stopped")
	case <-time.After(cfg.HTTPShutdownTimeout):
		cancelRouter()
		<-drained
		logger.Warn("router drain timed out", zap.Int("dropped", bus.Len()))
	}

	// Phase 4: stop metrics server if running
	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(ctx, cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
		logger.Info("metrics server stopped")
	}

	logger.Info("stopped")
	return nil
}

// newPublisher builds the job queue backend selected by JOB_QUEUE.
func newPublisher(cfg config.Config, sink metrics.Sink, logger *zap.Logger, closers *[]io.Closer) (jobqueue.Publisher, error) {
	switch cfg.JobQueue {
	case config.JobQueueRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		*closers = append(*closers, client)
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, errors.Wrap(err, "failed to connect to redis")
		}
		logger.Info("publishing jobs to redis", zap.String("addr", cfg.RedisAddr), zap.String("key", cfg.JobQueueKey))
		return jobqueue.NewRedisPublisher(client, cfg.JobQueueKey).WithRetention(cfg.JobQueueRetention), nil
	case config.JobQueueWebhook:
		logger.Info("publishing jobs to webhook", zap.String("url", cfg.JobWebhookURL))
		return jobqueue.NewWebhookPublisher(cfg.JobWebhookURL, cfg.JobWebhookSecret, logger).WithMetrics(sink), nil
	default:
		logger.Warn("JOB_QUEUE=log; jobs are logged, not executed")
		return jobqueue.NewLogPublisher(logger), nil
	}
}
