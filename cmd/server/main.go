// Odissey - Interactive Storytelling Server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/odisseyhq/odissey/internal/api"
	"github.com/odisseyhq/odissey/internal/config"
	"github.com/odisseyhq/odissey/internal/middleware"
	"github.com/odisseyhq/odissey/internal/prompt"
	"github.com/odisseyhq/odissey/internal/provider"
	"github.com/odisseyhq/odissey/internal/store"
	"github.com/odisseyhq/odissey/internal/story"
	"github.com/odisseyhq/odissey/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	registry := buildRegistry(context.Background(), cfg)
	slog.Info("Provider registry ready", "providers", registry.Names())

	builder := prompt.NewBuilder()
	director := prompt.NewDirector(registry, cfg.Story.Provider, logger)
	engine := story.New(repo, registry, builder, director, story.Options{
		Provider:      cfg.Story.Provider,
		MaxAttempts:   cfg.Story.MaxAttempts,
		TurnTimeout:   cfg.Story.TurnTimeout,
		HistoryWindow: cfg.Story.HistoryWindow,
	}, logger)

	r := newRouter(cfg, repo, engine)

	// Create server.
	// Streaming responses require long write timeouts; turns are bounded by
	// the orchestrator's own deadline instead.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
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
		os.Exit(1)
	}

	// Let in-flight world-state refreshes commit before the store closes.
	engine.Wait()

	slog.Info("Server stopped successfully")
}

// newRouter assembles the middleware chain and routes. Health endpoints are
// registered outside the authenticated group: platform probes cannot send
// tokens.
func newRouter(cfg *config.Config, repo store.Repository, engine api.Engine) chi.Router {
	handler := api.NewHandler(repo, engine)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := ws.NewHandler(engine, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{"*"}))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Story API and WebSocket turn transport, token-gated when configured.
	r.Group(func(r chi.Router) {
		r.Use(api.BearerAuth(cfg.APIToken))
		handler.RegisterRoutes(r)
		r.Get("/api/sessions/{sessionID}/ws", wsHandler.ServeHTTP)
	})

	return r
}

// buildRegistry registers every provider with credentials. The offline
// storyteller is always present so the service runs with no upstream keys.
func buildRegistry(ctx context.Context, cfg *config.Config) *provider.Registry {
	registry := provider.NewRegistry(cfg.Story.Provider)
	registry.Register(provider.NewOffline())

	if cfg.OpenAI.Enabled() {
		adapter, err := provider.NewOpenAI(provider.Config{
			APIKey: cfg.OpenAI.APIKey,
			Model:  cfg.OpenAI.Model,
		})
		if err != nil {
			slog.Warn("OpenAI provider disabled", "error", err)
		} else {
			registry.Register(adapter)
			slog.Info("Provider registered", "provider", adapter.Name(), "model", cfg.OpenAI.Model)
		}
	}

	if cfg.Gemini.Enabled() {
		adapter, err := provider.NewGemini(ctx, provider.Config{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.Model,
		})
		if err != nil {
			slog.Warn("Gemini provider disabled", "error", err)
		} else {
			registry.Register(adapter)
			slog.Info("Provider registered", "provider", adapter.Name(), "model", cfg.Gemini.Model)
		}
	}

	if cfg.OpenRouter.Enabled() {
		adapter, err := provider.NewOpenRouter(provider.Config{
			APIKey:  cfg.OpenRouter.APIKey,
			Model:   cfg.OpenRouter.Model,
			BaseURL: cfg.OpenRouter.BaseURL,
		})
		if err != nil {
			slog.Warn("OpenRouter provider disabled", "error", err)
		} else {
			registry.Register(adapter)
			slog.Info("Provider registered", "provider", adapter.Name(), "model", cfg.OpenRouter.Model)
		}
	}

	return registry
}
