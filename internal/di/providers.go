package di

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"FinFactor/internal/calendar"
	domrepo "FinFactor/internal/domain/repository"
	"FinFactor/internal/handler/api"
	internalrepo "FinFactor/internal/repository"
	"FinFactor/internal/service/ratelimit"
	"FinFactor/internal/services/factors"
	"FinFactor/internal/services/robust"
	"FinFactor/internal/usecase"
	"FinFactor/pkg/cache"
	pkgch "FinFactor/pkg/clickhouse"
	"FinFactor/pkg/config"
	xhttp "FinFactor/pkg/http"
	pkgkafka "FinFactor/pkg/kafka"
	applogger "FinFactor/pkg/logger"
	"FinFactor/pkg/metrics"
	pkgpg "FinFactor/pkg/postgres"
	"FinFactor/pkg/server"
)

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

func ProvideCalendar(cfg *config.Config) (*calendar.Calendar, error) {
	cal, err := calendar.NewFromStrings(cfg.Calendar.ExtraHolidays)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}
	return cal, nil
}

// ProvideMetrics registers the pipeline collectors on the default registry.
// It returns nil when metrics are disabled.
func ProvideMetrics(cfg *config.Config) domrepo.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideStorage opens the configured backend. Schema creation is left to
// App.Init.
func ProvideStorage(ctx context.Context, cfg *config.Config, l *applogger.Logger) (domrepo.Storage, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := pkgpg.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		store := internalrepo.NewPGStore(pool)
		store.SetLogger(l)
		return store, nil
	case "clickhouse":
		client, err := pkgch.NewClient(
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(cfg.Pipeline.Workers+4, cfg.Pipeline.Workers),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		store := internalrepo.NewCHStore(client)
		store.SetLogger(l)
		return store, nil
	default:
		l.Warn("using in-memory storage; results are lost on exit")
		return internalrepo.NewMemoryStore(), nil
	}
}

// ProvideCache returns Redis when enabled and a process-local cache otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	c, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return c, nil
}

// ProvideFundamentals puts the shared cache in front of filing reads when
// Redis is enabled, so repeated runs skip the filing scan.
func ProvideFundamentals(cfg *config.Config, store domrepo.Storage, c cache.Service, l *applogger.Logger) domrepo.FundamentalReader {
	if !cfg.Redis.Enabled {
		return store
	}
	return internalrepo.NewCachedFundamentals(store, c, cfg.Redis.TTL, l)
}

// ProvideKafkaProducer returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

func ProvideScaledPublisher(cfg *config.Config, producer *pkgkafka.Producer) domrepo.ScaledPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaScaledPublisher(producer, cfg.Kafka.ScaledTopic)
}

func ProvideGuard(cfg *config.Config, m domrepo.Metrics, l *applogger.Logger) *ratelimit.Guard {
	opts := []ratelimit.GuardOption{
		ratelimit.WithPermanent(domrepo.IsPermanent),
		ratelimit.WithLogger(l),
	}
	if m != nil {
		opts = append(opts, ratelimit.WithRetryHook(m.RecordRetry))
	}
	return ratelimit.NewGuard(ratelimit.GuardConfig{
		Name:            "storage",
		RPS:             cfg.Pipeline.Guard.RPS,
		Burst:           cfg.Pipeline.Guard.Burst,
		Attempts:        cfg.Pipeline.Retry.Attempts,
		Backoff:         cfg.Pipeline.Retry.Backoff,
		BreakerFailures: cfg.Pipeline.Guard.BreakerFailures,
		BreakerTimeout:  cfg.Pipeline.Guard.BreakerTimeout,
	}, opts...)
}

func ProvidePool(cfg *config.Config, l *applogger.Logger) *usecase.Pool {
	return usecase.NewPool(cfg.Pipeline.Workers, l)
}

func ProvideComputer(cfg *config.Config, cal *calendar.Calendar) (*factors.Computer, error) {
	policy, err := factors.ParseKnowledgeDate(cfg.Pipeline.PointInTime)
	if err != nil {
		return nil, err
	}
	h := cfg.Pipeline.Horizons
	return factors.NewComputer(cal, factors.NewResolver(policy), factors.Horizons{
		Return:    h.Return,
		Short:     h.Short,
		Long:      h.Long,
		FillLimit: cfg.Pipeline.FillLimit,
	}), nil
}

func ProvideDetector(cfg *config.Config) *robust.OutlierDetector {
	return robust.NewOutlierDetector(cfg.Pipeline.OutlierA, cfg.Pipeline.MinCrossSection)
}

func ProvideScaler() *robust.CrossSectionScaler {
	return robust.NewCrossSectionScaler()
}

func ProvideFactorStage(
	cfg *config.Config,
	store domrepo.Storage,
	fundamentals domrepo.FundamentalReader,
	computer *factors.Computer,
	guard *ratelimit.Guard,
	pool *usecase.Pool,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.FactorStage {
	return usecase.NewFactorStage(store, fundamentals, computer, guard, pool, m, l, cfg.Pipeline.Clean)
}

func ProvideScalingStage(
	cfg *config.Config,
	store domrepo.Storage,
	cal *calendar.Calendar,
	detector *robust.OutlierDetector,
	scaler *robust.CrossSectionScaler,
	pub domrepo.ScaledPublisher,
	guard *ratelimit.Guard,
	pool *usecase.Pool,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.ScalingStage {
	return usecase.NewScalingStage(store, cal, detector, scaler, pub, guard, pool, m, l, store.Reset, cfg.Pipeline.Clean)
}

func ProvideRunner(factorStage *usecase.FactorStage, scalingStage *usecase.ScalingStage, l *applogger.Logger) *usecase.Runner {
	return usecase.NewRunner(factorStage, scalingStage, l)
}

// ProvideFactorsHandler shares the pipeline's storage guard so /health shows
// its breaker state.
func ProvideFactorsHandler(cfg *config.Config, store domrepo.Storage, detector *robust.OutlierDetector, guard *ratelimit.Guard, c cache.Service, l *applogger.Logger) *api.FactorsHandler {
	var rl *ratelimit.Limiter
	if cfg.Server.RateLimit.RPS > 0 {
		rl = ratelimit.New(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)
	}
	return api.NewFactorsHandler(store, store, detector, rl, c, l).WithBreaker(guard)
}

// ProvideHTTPServer returns nil when the API is disabled.
func ProvideHTTPServer(cfg *config.Config, h *api.FactorsHandler, l *applogger.Logger) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowRequest),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetrics(metricsPath, prometheus.DefaultGatherer),
		xhttp.WithLogger(l),
	}, h)
}

// ProvideApp assembles the application and attaches the log digest when
// configured. A caching fundamentals reader is dropped after every load.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	store domrepo.Storage,
	runner *usecase.Runner,
	httpServer *xhttp.Server,
	producer *pkgkafka.Producer,
	c cache.Service,
	fundamentals domrepo.FundamentalReader,
) *server.App {
	if cfg.Pipeline.Digest.Enabled && producer != nil {
		l.AttachCollector(&applogger.DigestConfig{
			Interval:  cfg.Pipeline.Digest.Interval,
			Threshold: cfg.Pipeline.Digest.Threshold,
			Topic:     cfg.Pipeline.Digest.Topic,
			Publisher: producer,
		})
	}

	closers := []io.Closer{c}
	if producer != nil {
		closers = append(closers, producer)
	}
	app := server.New(cfg, l, store, runner, httpServer, closers...)
	if inv, ok := fundamentals.(domrepo.Invalidator); ok {
		app.WithInvalidator(inv)
	}
	return app
}
