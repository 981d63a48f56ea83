package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"shareit/internal/api"
	"shareit/internal/config"
	"shareit/internal/database"
	"shareit/internal/domain"
	"shareit/internal/events"
	"shareit/internal/export"
	"shareit/internal/google"
	"shareit/internal/logging"
	"shareit/internal/metrics"
	"shareit/internal/repository"
	"shareit/internal/service"
	"shareit/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Start the HTTP API, the gRPC health endpoint, background workers and the metrics server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// coordination bundles the item locker and rate limiter chosen at startup.
type coordination struct {
	redis   *redis.Client
	locker  domain.ItemLocker
	limiter domain.RateLimiter
}

func runServe(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	logger := a.logger.With().Str("component", "serve").Logger()

	coord := initCoordination(ctx, cfg, a.logger)
	if coord.redis != nil {
		defer func() { _ = repository.Close(coord.redis) }()
	}

	bus := events.NewEventBus()
	bus.OnError(func(event *events.Event, err error) {
		logger.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
	})
	initTelegram(ctx, cfg, a.repo, bus, a.logger)

	var syncWorker domain.SyncWorker
	if w := initSyncWorker(ctx, cfg, a.repo, coord.redis, a.logger); w != nil {
		go w.Start(ctx)
		syncWorker = w
	}

	bookings := service.NewBookingService(a.repo, coord.locker, bus, syncWorker, cfg.Booking, a.logger)
	catalog := service.NewCatalogService(a.repo, a.logger)
	comments := service.NewCommentService(a.repo, bookings, a.logger)
	exporter := export.NewExporter(bookings, catalog, cfg.Exports.Path, a.logger)

	if a.sqlite != nil && cfg.Backup.Enabled {
		backups := database.NewBackupService(a.sqlite, cfg.Backup, logging.Component(a.logger, "backup"))
		go backups.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Bookings: bookings,
		Catalog:  catalog,
		Comments: comments,
		Exporter: exporter,
		Health:   a.repo,
	}, coord.limiter, a.logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, a.logger)
		if err != nil {
			return fmt.Errorf("create grpc server: %w", err)
		}
		go grpcServer.WatchReadiness(ctx, a.repo, 10*time.Second)
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()
	logger.Info().Int("http_port", cfg.API.HTTP.Port).Str("driver", cfg.Database.Driver).Msg("shareit started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.HTTP.ShutdownTimeout)
	defer cancel()
	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	logger.Info().Msg("shareit stopped")
	return nil
}

// initCoordination prefers Redis for item locks and shared rate limits and
// falls back to in-process implementations when Redis is absent or down.
func initCoordination(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) coordination {
	memLocker := repository.NewMemoryLocker(cfg.Booking.LockWait)
	memLimiter := repository.NewMemoryRateLimiter()
	if cfg.Redis.Address == "" {
		return coordination{locker: memLocker, limiter: memLimiter}
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Redis.Address).Msg("redis unavailable at startup, starting on local fallback")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}

	return coordination{
		redis:   client,
		locker:  repository.NewFailoverLocker(repository.NewRedisLocker(client, cfg.Booking.LockWait), memLocker, logger),
		limiter: repository.NewFailoverRateLimiter(repository.NewRedisRateLimiter(client), memLimiter, logger),
	}
}

func initTelegram(ctx context.Context, cfg *config.Config, users domain.CatalogRepository, bus *events.EventBus, logger *zerolog.Logger) {
	if !cfg.Telegram.Enabled || !cfg.Booking.NotifyTelegram {
		return
	}
	bot, err := service.NewTelegramBot(cfg.Telegram.BotToken, cfg.Telegram.Debug)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return
	}
	notifier := service.NewTelegramNotifier(bot, users, logger)
	notifier.Subscribe(bus)
	go notifier.Start(ctx)
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifications enabled")
}

func initSyncWorker(ctx context.Context, cfg *config.Config, store domain.SyncQueueRepository, client *redis.Client, logger *zerolog.Logger) *worker.SyncWorker {
	if !cfg.Booking.SyncToSheets {
		return nil
	}
	sheets, err := google.NewSheetsService(ctx, cfg.Google.CredentialsFile, cfg.Google.BookingSpreadsheetID, cfg.Google.BookingsSheet)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheets.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets unreachable, continuing without sheets")
		return nil
	}
	if err := sheets.WriteHeader(ctx); err != nil {
		logger.Warn().Err(err).Msg("write sheet header")
	}
	if err := sheets.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("warm up sheet row cache")
	}
	logger.Info().Str("sheet", cfg.Google.BookingsSheet).Msg("google sheets connected")
	return worker.NewSyncWorker(store, sheets, client, worker.RetryPolicy{}, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
