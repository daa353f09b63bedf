// Package httpapi wires the HTTP transport (Gin) to the websocket dispatcher,
// the generation pipeline, and shared middleware. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, logging, panic recovery, metrics,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/tbourn/go-musicgpt-backend/internal/config"
	"github.com/tbourn/go-musicgpt-backend/internal/domain"
	"github.com/tbourn/go-musicgpt-backend/internal/generation"
	"github.com/tbourn/go-musicgpt-backend/internal/http/middleware"
	"github.com/tbourn/go-musicgpt-backend/internal/repo"
	"github.com/tbourn/go-musicgpt-backend/internal/services"
	"github.com/tbourn/go-musicgpt-backend/internal/ws"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"
)

// chatRepoShim adapts the repository free functions to the services.ChatRepo
// interface expected by the ChatService. This keeps services decoupled from
// the concrete repo package while reusing existing functions.
type chatRepoShim struct{}

// CreateOrTouchChat proxies repo.CreateOrTouchChat.
func (chatRepoShim) CreateOrTouchChat(ctx context.Context, db *gorm.DB, chatID, name string) (*domain.Chat, error) {
	return repo.CreateOrTouchChat(ctx, db, chatID, name)
}

// GetChat proxies repo.GetChat.
func (chatRepoShim) GetChat(ctx context.Context, db *gorm.DB, chatID string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, chatID)
}

// ListChats proxies repo.ListChats.
func (chatRepoShim) ListChats(ctx context.Context, db *gorm.DB) ([]domain.Chat, error) {
	return repo.ListChats(ctx, db)
}

// RenameChat proxies repo.RenameChat.
func (chatRepoShim) RenameChat(ctx context.Context, db *gorm.DB, chatID, name string) error {
	return repo.RenameChat(ctx, db, chatID, name)
}

// DeleteChat proxies repo.DeleteChat.
func (chatRepoShim) DeleteChat(ctx context.Context, db *gorm.DB, chatID string) error {
	return repo.DeleteChat(ctx, db, chatID)
}

// entryRepoShim adapts the repository free functions to services.EntryRepo.
type entryRepoShim struct{}

// AppendUserEntry proxies repo.AppendUserEntry.
func (entryRepoShim) AppendUserEntry(ctx context.Context, db *gorm.DB, chatID, entryID, text string) (*domain.ChatEntry, error) {
	return repo.AppendUserEntry(ctx, db, chatID, entryID, text)
}

// UpsertAIEntry proxies repo.UpsertAIEntry.
func (entryRepoShim) UpsertAIEntry(ctx context.Context, db *gorm.DB, chatID, entryID, relpath, errMsg string) (*domain.ChatEntry, error) {
	return repo.UpsertAIEntry(ctx, db, chatID, entryID, relpath, errMsg)
}

// ListEntries proxies repo.ListEntries.
func (entryRepoShim) ListEntries(ctx context.Context, db *gorm.DB, chatID string) ([]domain.ChatEntry, error) {
	return repo.ListEntries(ctx, db, chatID)
}

// MarkInterruptedEntries proxies repo.MarkInterruptedEntries.
func (entryRepoShim) MarkInterruptedEntries(ctx context.Context, db *gorm.DB, message string) (int64, error) {
	return repo.MarkInterruptedEntries(ctx, db, message)
}

// App bundles the long-lived components constructed during route registration
// so the caller can finish wiring them (the event fanout consumes generation
// events and publishes through the Dispatcher).
type App struct {
	Chats      *services.ChatService
	Hub        *ws.Hub
	Dispatcher *ws.Dispatcher
}

// RegisterRoutes attaches all middleware and endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting,
// CORS and security headers, the health and metrics endpoints, the websocket
// endpoint, and the static artifact file server.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per client IP; the websocket upgrade pays one token)
//  8. CORS and Security headers
//
// Gzip is applied only to the /files group: compressing the upgrade response
// would break the websocket handshake, and WAV artifacts are the payloads
// that benefit from it.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, mgr *generation.Manager, cfg config.Config) *App {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured access logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB); websocket frames have their own cap
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "not_found",
			"message":    "route not found",
		})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "method_not_allowed",
			"message":    "method not allowed",
		})
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db
	chatSvc := services.NewChatService(db, chatRepoShim{}, entryRepoShim{})

	// Websocket endpoint: the primary client surface
	hub := ws.NewHub(log.Logger)
	dispatcher := ws.NewDispatcher(log.Logger, hub, mgr, chatSvc)
	r.GET("/ws", dispatcher.Handle)

	// Generated artifacts, served compressed under /files
	files := r.Group("/files")
	files.Use(gzip.Gzip(gzip.DefaultCompression))
	files.Static("/", cfg.DataDir)

	return &App{Chats: chatSvc, Hub: hub, Dispatcher: dispatcher}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
