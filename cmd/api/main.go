package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"preview/api/internal/app"
	"preview/api/internal/config"
	"preview/api/internal/gitrepo"
	"preview/api/internal/logging"
	"preview/api/internal/preview"
	"preview/api/internal/realtime"
	"preview/api/internal/session"
	"preview/api/internal/store"
)

const purgeInterval = time.Hour

type sessionBackend interface {
	CreatePreviewSession(context.Context, store.PreviewSession) error
	LookupPreviewSession(context.Context, string) (store.PreviewSession, error)
	MergePreviewChanges(context.Context, string, preview.ChangeSet) (store.PreviewSession, error)
	DeletePreviewSession(context.Context, string) error
	Ping(context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "json")
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.ContentRepoDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create content repo dir")
	}

	var (
		sessions sessionBackend
		channel  realtime.Channel
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info().Msg("using Redis for preview sessions and realtime fan-out")
		client, err := session.Dial(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer client.Close()
		sessions = session.NewRedisStoreWithClient(client)
		channel = session.NewRedisChannel(client)
	} else {
		logger.Info().Msg("using PostgreSQL for preview sessions")
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
		pg := store.NewPostgresStore(db)
		go purgeExpired(ctx, pg, logger)
		sessions = pg
		channel = realtime.NewHub(logger)
	}

	service := app.New(cfg, sessions, channel, gitrepo.New(cfg.ContentRepoDir), logger)
	stream := realtime.NewStreamHandler(channel, cfg.CORSOrigin, logger)
	httpServer := app.NewHTTPServer(service, stream, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("preview API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

// purgeExpired removes lapsed Postgres sessions; Redis expires keys itself.
func purgeExpired(ctx context.Context, pg *store.PostgresStore, logger zerolog.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := pg.PurgeExpired(ctx, now)
			if err != nil {
				logger.Warn().Err(err).Msg("purge expired previews failed")
				continue
			}
			if removed > 0 {
				logger.Info().Int64("removed", removed).Msg("expired previews purged")
			}
		}
	}
}
