package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Dominik5397/Team-Task-Manager/pkg/analytics"
	"github.com/Dominik5397/Team-Task-Manager/pkg/api"
	"github.com/Dominik5397/Team-Task-Manager/pkg/bootstrap"
	"github.com/Dominik5397/Team-Task-Manager/pkg/config"
	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
	"github.com/Dominik5397/Team-Task-Manager/pkg/retention"
)

var configPath = flag.String("config", os.Getenv(config.FileEnvVar), "Path to a YAML configuration file")

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Change log server exited with error")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	instruments, err := observability.NewOTelInstruments()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(registry)
	}

	storage, err := bootstrap.OpenStorage(ctx, cfg.Storage, metrics)
	if err != nil {
		return err
	}
	cache, redisClient, err := bootstrap.OpenStatsCache(ctx, cfg.StatsCache)
	if err != nil {
		storage.Close()
		return err
	}
	log.WithFields(logrus.Fields{
		"storage":     cfg.Storage.Type,
		"stats_cache": cfg.StatsCache.Type,
	}).Info("Change log storage ready")

	service := bootstrap.NewService(storage, cache, logger, metrics, instruments)

	engine := analytics.NewEngine(service, storage.Counts,
		analytics.WithQueryTimeout(cfg.Analytics.QueryTimeout),
		analytics.WithDailyCompletionRate(cfg.Analytics.DailyCompletionRate),
		analytics.WithLogger(logger),
		analytics.WithMetrics(metrics),
		analytics.WithInstruments(instruments),
	)

	manager, err := bootstrap.NewRetentionManager(ctx, cfg.Retention, service, logger, metrics)
	if err != nil {
		storage.Close()
		return err
	}

	// A memory store lives in this process only, so the separate retention
	// job cannot reach it; purge in-process instead.
	var scheduler *retention.Scheduler
	if cfg.Retention.Enabled && cfg.Storage.Type == "memory" {
		scheduler, err = retention.NewScheduler(manager, cfg.Retention.Schedule, cfg.Retention.Days, cfg.Retention.RunTimeout, log)
		if err != nil {
			storage.Close()
			return err
		}
		scheduler.Start()
		if *configPath != "" {
			go watchConfig(ctx, *configPath, logger, log, scheduler)
		}
	}

	apiServer := api.NewServer(api.Deps{
		Service:               service,
		Engine:                engine,
		Retention:             manager,
		Logger:                logger,
		Metrics:               metrics,
		RequestTimeout:        cfg.Server.RequestTimeout,
		MaxConcurrentRequests: cfg.Server.MaxConcurrentRequests,
	})

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(apiServer, "changelog-server"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(storage.DB, redisClient))
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthSrv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, srv, cfg.Server.ShutdownTimeout)
	shutdown.Register("opentelemetry", providers.Shutdown)
	shutdown.Register("storage", func(context.Context) error { return storage.Close() })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("health server", healthSrv.Shutdown)
	if scheduler != nil {
		shutdown.Register("retention scheduler", scheduler.Stop)
	}

	failed := make(chan error, 2)
	serve := func(name string, s *http.Server) {
		log.WithFields(logrus.Fields{"server": name, "addr": s.Addr}).Info("Listening")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- fmt.Errorf("%s server: %w", name, err)
			cancel()
		}
	}
	go serve("api", srv)
	go serve("health", healthSrv)

	log.Info("Change log server started")
	if err := shutdown.WaitForSignal(ctx); err != nil {
		return err
	}
	log.Info("Change log server stopped")

	select {
	case err := <-failed:
		return err
	default:
		return nil
	}
}

func watchConfig(ctx context.Context, path string, logger *observability.Logger, log *logrus.Logger, scheduler *retention.Scheduler) {
	err := config.Watch(ctx, path, logger, func(cfg *config.Config) {
		scheduler.SetDays(cfg.Retention.Days)
		if err := scheduler.Reschedule(cfg.Retention.Schedule); err != nil {
			log.WithError(err).Warn("Keeping previous retention schedule")
		}
	})
	if err != nil {
		log.WithError(err).Error("Configuration watcher stopped")
	}
}
