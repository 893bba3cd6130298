package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/coachsync/internal/account"
	"github.com/goodtune/coachsync/internal/api"
	"github.com/goodtune/coachsync/internal/clock"
	"github.com/goodtune/coachsync/internal/config"
	"github.com/goodtune/coachsync/internal/metrics"
	"github.com/goodtune/coachsync/internal/notify"
	"github.com/goodtune/coachsync/internal/realtime"
	"github.com/goodtune/coachsync/internal/storage/redis"
	"github.com/goodtune/coachsync/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coachsync service",
	Long:  `Sign in the configured account, keep its workout and message state live, and serve it over HTTP alongside metrics.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting coachsync")

	sdListeners, err := systemd.GetListeners()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to get systemd listeners")
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("redis_host", cfg.Storage.Redis.Host).
		Int("redis_port", cfg.Storage.Redis.Port).
		Msg("Storage initialized")

	ctx := context.Background()

	// Realtime channel shares the store's Redis connection pool
	var channel realtime.Channel
	var redisChannel *realtime.RedisChannel
	if cfg.Realtime.Enabled {
		redisChannel = realtime.NewRedisChannel(store.Client(), cfg.Realtime.ChannelPrefix, logger)
		if err := redisChannel.Start(ctx); err != nil {
			return fmt.Errorf("failed to start realtime channel: %w", err)
		}
		store.SetPublisher(redisChannel)
		channel = redisChannel
	} else {
		logger.Warn().Msg("Realtime disabled, previews refresh only on demand")
	}

	live := account.New(store, channel, clock.RealClock{}, notifyConfig(cfg.Notify), logger)

	if cfg.Account.UserID != "" {
		if err := live.SignIn(ctx, cfg.Account.UserID); err != nil {
			return fmt.Errorf("failed to sign in %s: %w", cfg.Account.UserID, err)
		}
	} else {
		logger.Warn().Msg("No account.user_id configured, serving signed-out state")
	}

	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(apiAddr, live, logger)
	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().
		Str("api", apiAddr).
		Str("metrics", metricsAddr).
		Str("user_id", live.UserID()).
		Msg("coachsync startup complete")

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			break
		}

		logger.Info().Msg("SIGHUP received, reloading session and conversations...")
		_ = systemd.NotifyReloading()
		if err := live.Reload(ctx); err != nil {
			logger.Error().Err(err).Msg("Reload incomplete")
		} else {
			logger.Info().
				Bool("active_workout", live.Sessions().IsActive()).
				Str("badge", live.Notifications().DisplayBadge()).
				Msg("Reloaded")
		}
		_ = systemd.NotifyReady()
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	live.Close()

	if redisChannel != nil {
		if err := redisChannel.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing realtime channel")
		}
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("coachsync stopped")
	return nil
}

func openStore(cfg config.StorageConfig, logger zerolog.Logger) (*redis.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "redis"
	}

	switch storageType {
	case "redis":
		return redis.Open(cfg, redis.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (only 'redis' is supported)", storageType)
	}
}

func notifyConfig(cfg config.NotifyConfig) notify.Config {
	return notify.Config{
		BadgeThreshold: cfg.BadgeThreshold,
		Coalesce:       cfg.CoalesceRefresh,
		FetchTimeout:   config.ParseDuration(cfg.FetchTimeout, 0),
		SubscribeKind:  realtime.EventKind(cfg.SubscribeKind),
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// quietLogger is used by one-shot commands so only errors reach stderr.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}
