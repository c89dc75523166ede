package di

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"PCRPull/internal/domain/repository"
	"PCRPull/internal/handler/api"
	internalrepo "PCRPull/internal/repository"
	"PCRPull/internal/service/calendar"
	"PCRPull/internal/usecase"
	"PCRPull/pkg/cache"
	"PCRPull/pkg/config"
	xhttp "PCRPull/pkg/http"
	"PCRPull/pkg/http/middleware"
	pkgkafka "PCRPull/pkg/kafka"
	applogger "PCRPull/pkg/logger"
	"PCRPull/pkg/metrics"
	"PCRPull/pkg/server"
)

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the Prometheus registry served at /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideCalendar builds the exchange calendar from the market section.
func ProvideCalendar(cfg *config.Config) (*calendar.Calendar, error) {
	open, err := config.ParseClock(cfg.Market.Open)
	if err != nil {
		return nil, fmt.Errorf("market open: %w", err)
	}
	closing, err := config.ParseClock(cfg.Market.Close)
	if err != nil {
		return nil, fmt.Errorf("market close: %w", err)
	}
	holidays, err := calendar.NewStaticHolidays(cfg.Market.Holidays)
	if err != nil {
		return nil, err
	}
	return calendar.New(cfg.Market.Timezone,
		calendar.WithSession(open, closing),
		calendar.WithHolidays(holidays),
	)
}

// ProvideSnapshotStore opens the JSON snapshot history.
func ProvideSnapshotStore(cfg *config.Config, clock repository.MarketClock, l *applogger.Logger, m repository.Metrics) (*internalrepo.FileSnapshotStore, error) {
	store, err := internalrepo.NewFileSnapshotStore(cfg.Store.Path, clock,
		internalrepo.WithBackupPath(cfg.BackupPath()),
		internalrepo.WithRetention(cfg.Retention()),
		internalrepo.WithStoreLogger(l.With(applogger.String("component", "snapshot_store"))),
		internalrepo.WithStoreMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	return store, nil
}

// ProvideCache returns Redis when enabled, otherwise an in-process cache.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(512))
		return mc, func() { _ = mc.Close() }, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	l.Info("report cache backed by redis",
		applogger.String("host", cfg.Redis.Host),
		applogger.Int("port", cfg.Redis.Port),
	)
	return rc, func() {
		if err := rc.Close(); err != nil {
			l.Warn("redis close error", applogger.Error(err))
		}
	}, nil
}

// ProvideAggregator creates the windowed PCR aggregator.
func ProvideAggregator(cfg *config.Config, store repository.SnapshotStore, clock repository.MarketClock, c cache.Service, l *applogger.Logger, m repository.Metrics) *usecase.PCRAggregator {
	return usecase.NewPCRAggregator(store, clock,
		usecase.WithDefaultWindows(cfg.Aggregator.DefaultWindows),
		usecase.WithReportCache(c, cfg.Aggregator.CacheTTL),
		usecase.WithAggregatorLogger(l.With(applogger.String("component", "aggregator"))),
		usecase.WithAggregatorMetrics(m),
	)
}

// ProvideSnapshotPublisher returns nil unless kafka.events_topic is configured.
func ProvideSnapshotPublisher(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (usecase.SnapshotPublisher, func(), error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.EventsTopic == "" {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return usecase.NewKafkaSnapshotPublisher(producer, cfg.Kafka.EventsTopic), func() {
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}, nil
}

// ProvideSnapshotService creates the shared write/read service.
func ProvideSnapshotService(store repository.SnapshotStore, agg *usecase.PCRAggregator, pub usecase.SnapshotPublisher, l *applogger.Logger, m repository.Metrics) *usecase.SnapshotService {
	return usecase.NewSnapshotService(store, agg, pub, l, m)
}

// ProvideKafkaConsumer returns nil when Kafka ingest is disabled.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Workers),
		pkgkafka.WithConsumerRetry(cfg.Kafka.RetryMax, cfg.Kafka.BackoffMin, cfg.Kafka.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook()))
	return consumer, nil
}

// ProvideIngestHandler creates the handler for the snapshot topic.
func ProvideIngestHandler(cfg *config.Config, svc *usecase.SnapshotService, l *applogger.Logger, m repository.Metrics) *usecase.SnapshotIngestHandler {
	return usecase.NewSnapshotIngestHandler(cfg.Kafka.Topic, svc, l.With(applogger.String("component", "ingest")), m)
}

// ProvidePCRHandler creates the Echo route handler.
func ProvidePCRHandler(cfg *config.Config, l *applogger.Logger, svc *usecase.SnapshotService) *api.PCREchoHandler {
	var opts []api.HandlerOption
	if cfg.Server.WriteBurst > 0 {
		opts = append(opts, api.WithWriteLimiter(middleware.NewLimiter(float64(cfg.Server.WriteBurst), cfg.Server.WriteRefill)))
	}
	return api.NewPCREchoHandler(l, svc, opts...)
}

// ProvideHTTPServer creates the Echo server with routes, /healthz and /metrics.
func ProvideHTTPServer(cfg *config.Config, h *api.PCREchoHandler, l *applogger.Logger, reg *prometheus.Registry) *xhttp.Server {
	return xhttp.NewServer(h,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l.With(applogger.String("component", "http"))),
		xhttp.WithRegistry(reg, reg),
	)
}

// ProvideApp creates the application server.
func ProvideApp(l *applogger.Logger, httpServer *xhttp.Server, consumer *pkgkafka.Consumer, ingest *usecase.SnapshotIngestHandler) *server.App {
	return server.New(l, httpServer, consumer, ingest)
}
