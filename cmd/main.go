package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/archive"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/config"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/handler"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/lock"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/metrics"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/notifier"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/reconciler"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/remote"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/repository"
	"github.com/0xPollos/twitter-follow-tracker-bot/pkg/database"
	pkglog "github.com/0xPollos/twitter-follow-tracker-bot/pkg/log"
	"github.com/0xPollos/twitter-follow-tracker-bot/pkg/pubsub"
	"github.com/0xPollos/twitter-follow-tracker-bot/pkg/storage"
)

const serviceName = "follow-tracker"

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		var ce *domain.ConfigError
		if errors.As(err, &ce) {
			l.Fatal().Str("field", ce.Field).Msg(ce.Error())
		}
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// 2. Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty || cfg.Log.Level == "debug",
		ServiceName: serviceName,
	})
	logger := pkglog.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Init DB and snapshot store
	db, err := database.New(&database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		FilePath:        cfg.Database.FilePath,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		logger.Fatal().Err(&domain.StartupError{Stage: "database", Err: err}).Msg("failed to connect to database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to get underlying sql.DB")
	}
	defer sqlDB.Close()

	store := repository.NewGormSnapshotRepository(db)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(&domain.StartupError{Stage: "ensure_schema", Err: err}).Msg("failed to ensure schema")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("snapshot store ready")

	// 4. Metrics and X API client
	m := metrics.New(prometheus.DefaultRegisterer)
	client := remote.NewClient(remote.Options{
		BaseURL:           cfg.X.BaseURL,
		BearerToken:       cfg.X.BearerToken,
		PageSize:          cfg.X.PageSize,
		Timeout:           cfg.X.RequestTimeout,
		RateLimitCooldown: cfg.X.RateLimitCooldown,
		MaxAttempts:       cfg.X.MaxAttempts,
		RequestsPerMinute: cfg.X.RequestsPerMinute,
		Observer:          m,
	})

	// 5. Resolve every target; any failure is fatal
	var targets []domain.TargetIdentity
	for _, username := range cfg.Targets() {
		id, err := client.ResolveUser(ctx, username)
		if err != nil {
			logger.Fatal().Err(&domain.StartupError{Stage: "resolve_target", Err: err}).
				Str(pkglog.FieldTargetUsername, username).
				Msg("failed to resolve target")
		}
		logger.Info().
			Str(pkglog.FieldTargetUsername, id.Username).
			Str(pkglog.FieldTargetID, id.ID).
			Msg("tracking following")
		targets = append(targets, id)
	}

	// 6. Optional cycle lock
	var locker lock.Locker = lock.NopLocker{}
	if cfg.Redis.Address != "" {
		rl, err := lock.NewRedisLocker(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rl.Close()
		locker = rl
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis cycle lock enabled")
	}

	// 7. Notifiers
	var notifiers notifier.Multi
	if cfg.Telegram.Enabled {
		notifiers = append(notifiers, notifier.NewTelegramNotifier(
			cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.Timeout))
	}
	publisher, err := pubsub.NewPublisher(cfg.Bus)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Bus.Driver).Msg("failed to create event bus publisher")
	}
	if publisher != nil {
		defer publisher.Close()
		notifiers = append(notifiers, notifier.NewBusNotifier(publisher))
		logger.Info().Str("driver", cfg.Bus.Driver).Msg("event bus enabled")
	}
	if len(notifiers) == 0 {
		logger.Warn().Msg("no notifier configured; changes are only logged")
		notifiers = append(notifiers, notifier.LogNotifier{})
	}

	// 8. Optional snapshot archive
	objects, err := storage.New(ctx, cfg.Archive)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Archive.Driver).Msg("failed to create archive storage")
	}
	arch := archive.New(objects)
	if arch != nil {
		logger.Info().Str("driver", cfg.Archive.Driver).Msg("snapshot archive enabled")
	}

	// 9. One reconciler loop per target
	recs := make([]*reconciler.Reconciler, 0, len(targets))
	trackers := make([]handler.Tracker, 0, len(targets))
	for _, t := range targets {
		rec := reconciler.New(t, client, store, notifiers,
			reconciler.Config{Interval: cfg.Interval(), LockTTL: cfg.Redis.LockTTL},
			reconciler.WithLocker(locker),
			reconciler.WithArchive(arch),
			reconciler.WithMetrics(m),
		)
		recs = append(recs, rec)
		trackers = append(trackers, rec)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range recs {
		rec := rec
		g.Go(func() error { return rec.Run(gctx) })
	}
	logger.Info().Dur("interval", cfg.Interval()).Int("targets", len(recs)).Msg("reconcilers started")

	// 10. HTTP API
	var srv *http.Server
	if cfg.Server.Port != 0 {
		gin.SetMode(gin.ReleaseMode)
		r := gin.New()
		r.Use(gin.Recovery())
		r.Use(pkglog.GinMiddleware(logger))
		handler.NewHandler(trackers, store, arch, promhttp.Handler()).RegisterRoutes(r)

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		srv = &http.Server{Addr: addr, Handler: r}
		go func() {
			logger.Info().Str("addr", addr).Msg("http server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal().Err(err).Msg("HTTP server error")
			}
		}()
	}

	// 11. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutdown signal received")

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		// cancel() interrupts in-flight requests and any rate-limit cooldown
		cancel()
		for _, rec := range recs {
			rec.Stop()
		}
		if err := g.Wait(); err != nil {
			logger.Warn().Err(err).Msg("reconciler exited with error")
		}

		if srv != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("HTTP server forced to shutdown")
			}
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("follow-tracker stopped")
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("shutdown timed out after 30s")
	}
}
