package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/audit"
	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/checkout"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/config"
	"github.com/noah-isme/backend-kasir/internal/db"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/health"
	"github.com/noah-isme/backend-kasir/internal/ledger"
	"github.com/noah-isme/backend-kasir/internal/lock"
	"github.com/noah-isme/backend-kasir/internal/notify"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/queue"
	"github.com/noah-isme/backend-kasir/internal/ratelimit"
	"github.com/noah-isme/backend-kasir/internal/receipt"
	"github.com/noah-isme/backend-kasir/internal/resilience"
	"github.com/noah-isme/backend-kasir/internal/sequence"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	resilience.MustRegisterMetrics(cfg.MetricsNamespace, nil)
	queue.MustRegisterMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := cfg.OTelExporter != "none"
	shutdownTracer, err := obs.InitTracer(context.Background(), obs.TracingConfig{
		ServiceName:   obs.ServiceName,
		Endpoint:      cfg.OTelEndpoint,
		Exporter:      cfg.OTelExporter,
		SamplingRatio: cfg.OTelSampling,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		tracingEnabled = false
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error().Err(err).Msg("shutdown tracer")
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var pool *pgxpool.Pool
	if cfg.NeedsDatabase() {
		pool = connectPostgres(ctx, cfg, logger)
		defer pool.Close()
	}

	redisClient := connectRedis(ctx, cfg, metricsEnabled, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	var (
		source catalog.Source
		writer ledger.Writer
	)
	switch cfg.LedgerDriver {
	case config.DriverMemory:
		mem := ledger.NewMemory(catalog.DemoProducts()...)
		source = mem
		writer = &ledger.Saga{Store: mem}
		logger.Warn().Msg("ledger running in memory; sales are lost on restart")
	default:
		source = &catalog.Postgres{DB: pool}
		writer = &ledger.Postgres{DB: pool}
	}

	var numbers checkout.SequenceGenerator
	switch cfg.SequenceDriver {
	case config.DriverPostgres:
		numbers = &sequence.Postgres{DB: pool, Prefix: cfg.SaleNumberPrefix}
	case config.DriverMemory:
		numbers = &sequence.Counter{Prefix: cfg.SaleNumberPrefix}
	default:
		numbers = &sequence.Redis{R: redisClient, Prefix: cfg.SaleNumberPrefix}
	}

	bus := &events.Bus{Sinks: []events.Sink{events.LogSink{Logger: logger.With().Str("component", "events").Logger()}}}
	keys := queue.Keys{Prefix: "kasir:queue"}
	enqueuer := queue.Enqueuer{R: redisClient, Keys: keys}
	var redelivery []queue.Worker
	// guard wraps an outbound sink with a breaker and parks what still fails on its own queue kind.
	guard := func(target string, sink events.Sink, timeout time.Duration) {
		guarded := &events.GuardedSink{
			Sink:     sink,
			Breaker:  resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget(target).WithLogger(logger),
			Attempts: 3,
			Backoff:  100 * time.Millisecond,
			Timeout:  timeout,
		}
		kind := "events." + target
		bus.Sinks = append(bus.Sinks, &events.RedeliverySink{
			Primary:     guarded,
			Queue:       enqueuer,
			Kind:        kind,
			MaxAttempts: envInt("EVENT_REDELIVERY_MAX_ATTEMPTS", 20),
		})
		redelivery = append(redelivery, queue.Worker{
			R:           redisClient,
			Keys:        keys,
			Kind:        kind,
			Concurrency: 2,
			RetryBase:   time.Second,
			RetryJitter: 0.2,
			Handler:     events.RedeliveryHandler(guarded),
			Logger:      logger,
		})
	}
	if len(cfg.KafkaBrokers) > 0 {
		sink := &events.KafkaSink{W: events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaSalesTopic)}
		guard("kafka", sink, 2*time.Second)
		defer func() {
			if err := sink.Close(); err != nil {
				logger.Error().Err(err).Msg("close kafka writer")
			}
		}()
	}
	if len(cfg.WebhookURLs) > 0 {
		endpoints := make([]notify.Endpoint, 0, len(cfg.WebhookURLs))
		for _, u := range cfg.WebhookURLs {
			endpoints = append(endpoints, notify.Endpoint{URL: u, Secret: cfg.WebhookSecret})
		}
		guard("webhook", &notify.Webhook{
			Endpoints:   endpoints,
			Client:      notify.HTTPClient(cfg.WebhookTimeout),
			Replay:      notify.RedisReplayGuard{Client: redisClient},
			ReplayTTL:   24 * time.Hour,
			ReplayLease: 2 * cfg.WebhookTimeout,
		}, cfg.WebhookTimeout)
	}

	policy, err := receipt.ParsePolicy(cfg.ReceiptFields)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse RECEIPT_FIELDS")
	}

	products := &catalog.Cached{Source: source, Cache: catalog.NewCache(redisClient, cfg.CatalogCacheTTL)}
	carts := &cart.Store{R: redisClient, TTL: cfg.CartTTL}

	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: products})
	cartHandler := &cart.Handler{Store: carts, Catalog: products}
	checkoutHandler := &checkout.Handler{
		Svc: &checkout.Service{
			Sequence:       numbers,
			Ledger:         writer,
			TaxRatePercent: cfg.TaxRatePercent,
			DiscountRate:   cfg.DiscountRate,
			Logger:         logger.With().Str("component", "checkout").Logger(),
		},
		Carts:   carts,
		Locker:  lock.Locker{R: redisClient},
		LockTTL: cfg.CheckoutLockTTL,
		Catalog: products,
		Events:  bus,
		Receipt: policy,
		Logger:  logger,
	}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	var trail audit.Store = audit.LogStore{Logger: logger.With().Str("component", "audit").Logger()}
	if pool != nil {
		trail = audit.Postgres{DB: pool}
	}
	auditRecorder := audit.HTTPRecorder{
		Service: audit.Service{Store: trail, Enabled: envBool("AUDIT_ENABLED", true), SamplingRate: envFloat("AUDIT_SAMPLING_RATE", 1)},
		OnError: func(err error) { logger.Warn().Err(err).Msg("audit record failed") },
	}

	healthHandler := health.Handler{
		Checker:      health.Deps{DB: pool, Redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}

	r := newRouter(routerDeps{
		cfg:            cfg,
		logger:         logger,
		metricsEnabled: metricsEnabled,
		tracingEnabled: tracingEnabled,
		health:         healthHandler,
		catalog:        catalogHandler,
		cart:           cartHandler,
		checkout:       checkoutHandler,
		trustProxy:     envBool("HTTP_TRUST_PROXY_HEADERS", false),
		idem:           idem,
		audit:          auditRecorder,
		limiter: ratelimit.Handler{
			Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:"},
			Window:  cfg.RateLimitWindow,
			Max:     cfg.RateLimitPerCashier,
			OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	for _, w := range redelivery {
		go func() {
			if err := w.Run(stop); err != nil {
				logger.Error().Err(err).Str("kind", w.Kind).Msg("event redelivery worker stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("ledger", cfg.LedgerDriver).Str("sequence", cfg.SequenceDriver).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-stop.Done():
		health.SetReady(false)
		logger.Info().Msg("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
		if err := checkoutHandler.Drain(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("sale events still publishing at shutdown")
		}
	}
}

func connectPostgres(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	if envBool("DB_AUTO_MIGRATE", false) {
		if err := db.Up(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = obs.ServiceName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func connectRedis(ctx context.Context, cfg *config.Config, metricsEnabled bool, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}
