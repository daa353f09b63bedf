// Command server runs the music generation backend: a single-process HTTP
// server exposing the websocket control channel, the Prometheus metrics
// endpoint, and the generated artifact file server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-musicgpt-backend/internal/audio"
	"github.com/tbourn/go-musicgpt-backend/internal/config"
	"github.com/tbourn/go-musicgpt-backend/internal/generation"
	httpapi "github.com/tbourn/go-musicgpt-backend/internal/http"
	"github.com/tbourn/go-musicgpt-backend/internal/metrics"
	"github.com/tbourn/go-musicgpt-backend/internal/observability"
	"github.com/tbourn/go-musicgpt-backend/internal/repo"
	"github.com/tbourn/go-musicgpt-backend/internal/synth"
	"github.com/tbourn/go-musicgpt-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments set environment variables directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	log.Info().
		Str("version", version).
		Str("addr", cfg.Addr()).
		Str("db", cfg.DBPath).
		Str("data_dir", cfg.DataDir).
		Msg("starting server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing (no-op unless OTEL_ENABLED).
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database failed")
	}

	store, err := audio.NewStore(cfg.DataDir, cfg.Generation.SampleRate)
	if err != nil {
		log.Fatal().Err(err).Msg("artifact store setup failed")
	}

	proc := synth.New()
	proc.SampleRate = cfg.Generation.SampleRate

	mgr := generation.NewManager(proc, generation.Config{
		QueueSize:     cfg.Generation.QueueSize,
		ProgressDelta: cfg.Generation.ProgressDelta,
		Logger:        log.Logger,
		Recorder:      metrics.JobRecorder{},
	})

	r := gin.New()
	app := httpapi.RegisterRoutes(r, db, mgr, cfg)

	// Jobs that were in flight when the previous process died are resolved
	// before clients can reconnect and re-read their chats.
	if n, err := app.Chats.MarkInterrupted(ctx); err != nil {
		log.Fatal().Err(err).Msg("interrupted entry reconciliation failed")
	} else if n > 0 {
		log.Warn().Int64("entries", n).Msg("marked interrupted jobs from previous run")
	}

	fanout := &generation.Fanout{
		Events: mgr.Events(),
		Store:  app.Chats,
		Audio:  store,
		Pub:    app.Dispatcher,
		Log:    log.Logger,
	}

	go mgr.Run(ctx)
	go fanout.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("server stopped unexpectedly")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
	log.Info().Msg("server stopped")
}
