// Emperor Arena - debate session orchestration server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/emperor-arena/internal/api"
	"github.com/ashureev/emperor-arena/internal/config"
	"github.com/ashureev/emperor-arena/internal/debate"
	"github.com/ashureev/emperor-arena/internal/domain"
	"github.com/ashureev/emperor-arena/internal/middleware"
	"github.com/ashureev/emperor-arena/internal/relay"
	"github.com/ashureev/emperor-arena/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"backend_url", cfg.Backend.URL,
		"max_rounds", cfg.Backend.MaxRounds,
		"archive", cfg.Archive.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Transcript archive (optional).
	var repo *store.SQLiteStore
	var archiver *store.Archiver
	var transcripts api.TranscriptReader
	if cfg.Archive.Enabled {
		repo, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		if err := repo.Ping(ctx); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Database connected", "path", cfg.DBPath)
		archiver = store.NewArchiver(repo, logger)
		transcripts = repo
	} else {
		slog.Info("Transcript archive disabled")
	}

	controller := debate.NewController(debate.Config{
		BackendURL:      cfg.Backend.URL,
		ConnectTimeout:  cfg.Backend.ConnectTimeout,
		ContinueTimeout: cfg.Backend.ContinueTimeout,
		TypingInterval:  cfg.Backend.TypingInterval,
		MaxRounds:       cfg.Backend.MaxRounds,
		Rounds:          cfg.Backend.Rounds,
		Logger:          logger.With("component", "debate"),
	})
	if archiver != nil {
		controller.OnEnded(func(sess domain.Session) {
			archiver.Archive(sess)
		})
	}

	hub := relay.NewHub(logger.With("component", "relay"))
	hub.Publish(controller.Snapshot())
	controller.OnChange(hub.Publish)

	// Initialize handlers.
	apiHandler := api.NewHandler(controller, transcripts, logger)
	wsHandler := relay.NewWebSocketHandler(hub, cfg.HTTP.AllowedOrigins, logger)
	sseHandler := relay.NewSSEHandler(hub, cfg.HTTP.KeepaliveInterval, logger)

	limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
	limiter.StartEviction(ctx)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.HTTP.AllowedOrigins))

	apiHandler.RegisterRoutes(r, limiter.Handler)
	r.Get("/api/session/stream", sseHandler.ServeHTTP)
	r.Get("/ws/session", wsHandler.ServeHTTP)

	// SSE and websocket subscribers are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	controller.Close()
	if archiver != nil {
		archiver.Close()
	}
	if repo != nil {
		if err := repo.Close(); err != nil {
			slog.Error("Failed to close repository", "error", err)
		}
	}

	slog.Info("Server stopped successfully")
}
