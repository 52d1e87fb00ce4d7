// Chat panel shell server: serves the page that hosts the chat widget and
// relays session creation to the remote sessions API.
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

	"github.com/ashureev/chatkit-shell/internal/api"
	"github.com/ashureev/chatkit-shell/internal/bootstrap"
	"github.com/ashureev/chatkit-shell/internal/bridge"
	"github.com/ashureev/chatkit-shell/internal/config"
	"github.com/ashureev/chatkit-shell/internal/facts"
	"github.com/ashureev/chatkit-shell/internal/identity"
	"github.com/ashureev/chatkit-shell/internal/middleware"
	"github.com/ashureev/chatkit-shell/internal/store"
	"github.com/ashureev/chatkit-shell/internal/upstream"
	"github.com/ashureev/chatkit-shell/internal/widget"
	"github.com/ashureev/chatkit-shell/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"workflow_configured", cfg.WorkflowConfigured())
	if cfg.OpenAIAPIKey == "" {
		slog.Warn("OPENAI_API_KEY is not set; session creation will fail")
	}

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

	options, err := widget.Load(cfg.WidgetOptionsPath)
	if err != nil {
		slog.Error("Failed to load widget options", "error", err, "path", cfg.WidgetOptionsPath)
		os.Exit(1)
	}

	// Initialize services.
	sessionsAPI := upstream.NewClient(cfg.APIBase, cfg.OpenAIAPIKey, cfg.Timeout.Upstream, logger)
	secrets := bootstrap.NewClient(cfg.SessionEndpoint, cfg.Timeout.Upstream, logger)
	recorder := facts.NewRecorder(repo, logger)
	registry := bridge.NewRegistry()
	userLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer userLimiter.Stop()
	ipLimiter := middleware.NewRateLimiter(cfg.RateLimit.IPRequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer ipLimiter.Stop()

	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "chatkit",
		Name:      "panel_connections",
		Help:      "Open panel websocket connections.",
	}, func() float64 { return float64(registry.Count()) }))

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, cfg)
	healthHandler := api.NewHealthHandlerWithConfig(repo, cfg)
	sessionHandler := api.NewSessionHandler(baseHandler, sessionsAPI, api.SessionLimits{User: userLimiter, IP: ipLimiter})
	configHandler := api.NewConfigHandler(baseHandler, options)
	userHandler := api.NewUserHandler(baseHandler, registry)
	wsHandler := bridge.NewHandler(repo, secrets, recorder, registry, bridge.Options{
		WorkflowID:    cfg.WorkflowID,
		FileUploads:   cfg.FileUploads,
		AllowRetry:    cfg.AllowRetry,
		ScriptTimeout: cfg.Timeout.ScriptLoad,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
	})
	pageHandler, err := web.NewPageHandler(web.PageConfig{
		ScriptURL:          cfg.ScriptURL,
		WorkflowConfigured: cfg.WorkflowConfigured(),
		FileUploads:        cfg.FileUploads,
		ScriptTimeoutMS:    cfg.Timeout.ScriptLoad.Milliseconds(),
		Options:            options,
		SchemeFor:          baseHandler.SchemeFor,
	})
	if err != nil {
		slog.Error("Failed to initialize page shell", "error", err)
		os.Exit(1)
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/static/*", web.StaticHandler())

	// The relay resolves the identity cookie itself so it can answer
	// server-to-server bootstrap calls.
	sessionHandler.RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

		configHandler.RegisterRoutes(r)
		userHandler.RegisterRoutes(r)

		// WebSocket endpoint.
		r.Get("/ws/panel", wsHandler.ServeHTTP)

		r.Get("/", pageHandler.ServeHTTP)
	})

	// Create server.
	// Panel websockets are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	facts.StartRetentionWorker(ctx, repo, cfg.FactRetention)

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

	slog.Info("Server stopped successfully")
}
