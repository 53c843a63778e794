package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kingithegreat/AquaProject-sub000/internal/api"
	"github.com/kingithegreat/AquaProject-sub000/internal/config"
	"github.com/kingithegreat/AquaProject-sub000/internal/connectivity"
	"github.com/kingithegreat/AquaProject-sub000/internal/domain"
	"github.com/kingithegreat/AquaProject-sub000/internal/events"
	"github.com/kingithegreat/AquaProject-sub000/internal/logging"
	"github.com/kingithegreat/AquaProject-sub000/internal/metrics"
	"github.com/kingithegreat/AquaProject-sub000/internal/models"
	"github.com/kingithegreat/AquaProject-sub000/internal/queue"
	"github.com/kingithegreat/AquaProject-sub000/internal/remote"
	"github.com/kingithegreat/AquaProject-sub000/internal/service"
	"github.com/kingithegreat/AquaProject-sub000/internal/store"
	"github.com/kingithegreat/AquaProject-sub000/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, sqliteStore, err := initStore(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer sqliteStore.Close()

	// Backups linger when a write could not be verified remotely; surface
	// them at boot so operators notice a stuck cleanup.
	if refs, err := sqliteStore.Keys(ctx, models.KeyBookingPrefix); err == nil && len(refs) > 0 {
		logger.Info().Int("retained_backups", len(refs)).Msg("local booking backups present")
	}

	eventBus := events.NewEventBus()
	subscribeSyncEvents(eventBus, &logger)

	source := connectivity.NewPollingSource(
		connectivity.DialCheck(probeAddr(cfg.Sync.ProbeURL), cfg.Sync.ProbeTimeout),
		10*time.Second,
	)
	go source.Run(ctx)

	// The monitor and the queue reference each other; the closures bind
	// opQueue before the monitor starts.
	var opQueue *queue.OperationQueue
	monitor := connectivity.NewMonitor(
		source, kv, cfg.Sync.ProbeURL, cfg.Sync.DrainDebounce,
		func() int { return opQueue.Size() },
		func() { opQueue.Drain(ctx) },
		&logger,
	)

	docs := remote.NewClient(cfg.Remote, &logger)
	engine := syncer.NewEngine(
		docs, kv, monitor, eventBus, cfg.Remote.Collection,
		cfg.Sync.ProbeTimeout, cfg.Sync.SaveTimeout, cfg.Sync.VerifyTimeout,
		&logger,
	)
	opQueue = queue.NewOperationQueue(kv, engine, eventBus, cfg.Sync.MaxRetries, cfg.Sync.InterOpDelay, &logger)

	opQueue.LoadFromStore(ctx)
	monitor.Start(ctx)
	defer monitor.Stop()

	bookingService := service.NewBookingService(kv, opQueue, eventBus, cfg.Services, &logger)
	defer bookingService.Wait()

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, bookingService, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().Msg("aquasync daemon started")
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "aquasyncd").Logger()

	return cfg, logger, closer, nil
}

// initStore picks the durable backend: Redis when configured (server
// deployments), sqlite otherwise, each behind a failover wrapper so a
// backend outage degrades to best-effort instead of failing submissions.
func initStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.KeyValueStore, *store.SQLiteStore, error) {
	sqliteStore, err := store.NewSQLiteStore(cfg.Storage.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("local store initialization failed")
		return nil, nil, err
	}

	if cfg.Redis.Address == "" {
		return store.NewFailoverStore(sqliteStore, store.NewMemoryStore(), logger), sqliteStore, nil
	}

	redisClient := store.NewRedisClient(cfg.Redis)
	if err := store.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, starting on sqlite")
	}
	redisStore := store.NewRedisStore(redisClient)
	return store.NewFailoverStore(redisStore, sqliteStore, logger), sqliteStore, nil
}

func startMetricsServer(port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Info().Str("addr", addr).Msg("metrics listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

// probeAddr derives a dialable host:port from the probe URL.
func probeAddr(probeURL string) string {
	u, err := url.Parse(probeURL)
	if err != nil || u.Host == "" {
		return "1.1.1.1:443"
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "http" {
		return u.Host + ":80"
	}
	return u.Host + ":443"
}

func subscribeSyncEvents(bus *events.EventBus, logger *zerolog.Logger) {
	bus.Subscribe(events.EventBookingSyncFailed, func(ev *events.Event) error {
		var payload events.BookingEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			logger.Error().Err(err).Msg("event bus: decode payload")
			return nil
		}
		logger.Warn().
			Str("reference", payload.Reference).
			Int("retry_count", payload.RetryCount).
			Msg("booking never reached the remote store; local backup retained")
		return nil
	})
}
