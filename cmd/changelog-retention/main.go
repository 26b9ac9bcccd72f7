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
	"github.com/sirupsen/logrus"

	"github.com/Dominik5397/Team-Task-Manager/pkg/bootstrap"
	"github.com/Dominik5397/Team-Task-Manager/pkg/config"
	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
	"github.com/Dominik5397/Team-Task-Manager/pkg/retention"
)

var (
	configPath = flag.String("config", os.Getenv(config.FileEnvVar), "Path to a YAML configuration file")
	runOnce    = flag.Bool("run-once", false, "Purge once and exit")
	days       = flag.Int("days", -1, "Retention period in days; overrides the configuration when not negative")
)

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
	if *days >= 0 {
		cfg.Retention.Days = *days
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Retention job failed")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	if cfg.Storage.Type == "memory" {
		return fmt.Errorf("retention job: %w; run the server with retention enabled instead", bootstrap.ErrMemoryStorage)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			log.WithError(err).Warn("OpenTelemetry shutdown failed")
		}
	}()

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	storage, err := bootstrap.OpenStorage(ctx, cfg.Storage, metrics)
	if err != nil {
		return err
	}
	defer storage.Close()

	// Purges must clear a shared cache; a server-local LRU expires by TTL
	cache, redisClient, err := bootstrap.OpenStatsCache(ctx, cfg.StatsCache)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	service := bootstrap.NewService(storage, cache, logger, metrics, nil)
	manager, err := bootstrap.NewRetentionManager(ctx, cfg.Retention, service, logger, metrics)
	if err != nil {
		return err
	}

	scheduler, err := retention.NewScheduler(manager, cfg.Retention.Schedule, cfg.Retention.Days, cfg.Retention.RunTimeout, log)
	if err != nil {
		return err
	}

	if *runOnce {
		log.WithField("days", cfg.Retention.Days).Info("Running retention purge once")
		res, err := scheduler.RunNow(ctx)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"cutoff":   res.Cutoff.Format(time.RFC3339),
			"archived": res.Archived,
			"deleted":  res.Deleted,
		}).Info("Retention purge completed")
		return nil
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

	shutdown := observability.NewShutdownManager(logger, healthSrv, cfg.Server.ShutdownTimeout)
	shutdown.Register("retention scheduler", scheduler.Stop)

	failed := make(chan error, 1)
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- fmt.Errorf("health server: %w", err)
			cancel()
		}
	}()

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, logger, func(next *config.Config) {
				if *days < 0 {
					scheduler.SetDays(next.Retention.Days)
				}
				if err := scheduler.Reschedule(next.Retention.Schedule); err != nil {
					log.WithError(err).Warn("Keeping previous retention schedule")
				}
			})
			if err != nil {
				log.WithError(err).Error("Configuration watcher stopped")
			}
		}()
	}

	scheduler.Start()
	log.WithField("next_run", scheduler.Next().Format(time.RFC3339)).Info("Retention job started")

	if err := shutdown.WaitForSignal(ctx); err != nil {
		return err
	}
	log.Info("Retention job stopped")

	select {
	case err := <-failed:
		return err
	default:
		return nil
	}
}
