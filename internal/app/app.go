package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vadim/neo-inbox/internal/config"
	httpcontroller "github.com/vadim/neo-inbox/internal/controller/http"
	"github.com/vadim/neo-inbox/internal/domain/event/cache"
	"github.com/vadim/neo-inbox/internal/domain/event/scheduler"
	"github.com/vadim/neo-inbox/internal/domain/event/service"
	templateservice "github.com/vadim/neo-inbox/internal/domain/template/service"
	"github.com/vadim/neo-inbox/internal/httpx/response"
	"github.com/vadim/neo-inbox/internal/httpx/upstream/inbox"
	"github.com/vadim/neo-inbox/internal/metrics"
	"github.com/vadim/neo-inbox/internal/realtime"
	"github.com/vadim/neo-inbox/internal/session"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	// Infrastructure
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	redis    *redis.Client

	// Domain
	cache     *cache.Store
	client    *inbox.Client
	sessions  *session.Manager
	events    *service.Service
	templates *templateservice.Service
	channel   *realtime.Channel
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))

	// Initialize router with middleware
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(30 * time.Second))

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
	}

	// Initialize infrastructure
	if err := app.initInfrastructure(ctx); err != nil {
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	// Initialize domain layers
	if err := app.initDomains(ctx); err != nil {
		return nil, fmt.Errorf("initializing domains: %w", err)
	}

	// Register routes
	app.registerRoutes()

	// Initialize HTTP server
	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return app, nil
}

// initInfrastructure initializes metrics and the optional Redis session backend
func (a *App) initInfrastructure(ctx context.Context) error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	if a.cfg.Session.Backend != config.SessionBackendRedis {
		return nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		_ = a.redis.Close()
		return fmt.Errorf("connecting to redis: %w", err)
	}

	return nil
}

// initDomains initializes the cache, REST client, session and sync layers
func (a *App) initDomains(ctx context.Context) error {
	var store session.Store
	switch a.cfg.Session.Backend {
	case config.SessionBackendRedis:
		store = session.NewRedisStore(a.redis, a.cfg.Redis.Prefix, a.cfg.Redis.TTL)
	case config.SessionBackendFile, "":
		store = session.NewFileStore(a.cfg.Session.Path)
	default:
		return fmt.Errorf("unknown session backend %q", a.cfg.Session.Backend)
	}

	// The client and the session manager reference each other: the token
	// comes from the manager and a 401 drops the session.
	var sessions *session.Manager
	a.client = inbox.New(
		inbox.WithBaseURL(a.cfg.API.BaseURL),
		inbox.WithTimeout(a.cfg.API.Timeout),
		inbox.WithTokenSource(func() string { return sessions.Token() }),
		inbox.WithUnauthorizedHandler(func() { sessions.HandleUnauthorized() }),
	)
	sessions = session.NewManager(a.client, store, a.logger)
	a.sessions = sessions

	a.cache = cache.New(cache.WithExpiry(a.cfg.Sync.CacheExpiry))

	a.events = service.New(a.cache, a.client, service.Config{
		Poll: scheduler.Config{
			ActiveInterval: a.cfg.Sync.ActiveInterval,
			IdleInterval:   a.cfg.Sync.IdleInterval,
			TickTimeout:    a.cfg.Sync.TickTimeout,
		},
	}, a.logger, a.metrics)

	a.templates = templateservice.New(a.client)

	wsURL := a.cfg.Realtime.URL
	if wsURL == "" {
		u, err := realtime.URLFromAPIBase(a.cfg.API.BaseURL)
		if err != nil {
			return fmt.Errorf("deriving push url: %w", err)
		}
		wsURL = u
	}
	a.channel = realtime.New(realtime.Config{
		URL:          wsURL,
		BaseDelay:    a.cfg.Realtime.BaseDelay,
		MaxAttempts:  a.cfg.Realtime.MaxAttempts,
		DialTimeout:  a.cfg.Realtime.DialTimeout,
		WriteTimeout: a.cfg.Realtime.WriteTimeout,
	}, a.logger, a.metrics)

	a.sessions.OnChange(a.onSessionChange)

	return nil
}

// onSessionChange connects the push channel after login and tears the
// conversation state down when the session ends
func (a *App) onSessionChange(c session.Change) {
	switch c.Kind {
	case session.ChangeLoggedIn, session.ChangeRestored:
		go a.connectChannel(c.Token)

	case session.ChangeLoggedOut, session.ChangeExpired:
		if c.Gen != a.sessions.Generation() {
			// an expiry delivered after a newer login
			a.logger.Debug("ignoring stale session change", "reason", string(c.Kind), "gen", c.Gen)
			return
		}
		a.events.Close()
		a.channel.Disconnect()
		a.cache.ClearAll()
		a.metrics.CachedConversations(0)
		a.logger.Info("session ended, conversation state cleared", "reason", string(c.Kind))
	}
}

func (a *App) connectChannel(token string) {
	err := a.channel.Connect(context.Background(), token)
	if err != nil && !errors.Is(err, realtime.ErrConnectInProgress) {
		// a reconnect is already scheduled
		a.logger.Warn("push channel not connected yet", "error", err)
	}
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() {
	// Health check
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)
	a.router.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	// API v1
	a.router.Route("/api/v1", func(r chi.Router) {
		httpcontroller.NewAuthHandler(a.sessions).RegisterRoutes(r)
		httpcontroller.NewConversationHandler(a.client, a.events, a.channel, a.templates).RegisterRoutes(r)
		httpcontroller.NewContactHandler(a.client).RegisterRoutes(r)
		httpcontroller.NewTemplateHandler(a.templates).RegisterRoutes(r)
		httpcontroller.NewMediaHandler(a.client).RegisterRoutes(r)
		httpcontroller.NewRealtimeHandler(a.channel, a.sessions.Token).RegisterRoutes(r)
	})
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}

// readyHandler reports whether a session is held and the push channel is up
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"authenticated": a.sessions.IsAuthenticated(),
		"realtime":      a.channel.State().String(),
		"cached":        a.cache.Size(),
	}
	if !a.sessions.IsAuthenticated() {
		response.Unavailable(w, status)
		return
	}
	response.OK(w, status)
}

// Sessions exposes the session manager for the login command
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

// Handler returns the root HTTP handler
func (a *App) Handler() http.Handler {
	return a.router
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	// Restore a persisted session; the listener connects the push channel
	if found, err := a.sessions.Restore(ctx); err != nil {
		a.logger.Error("failed to restore session", "error", err)
	} else if !found {
		a.logger.Info("no stored session, waiting for login")
	}

	// Channel to receive errors from server
	errCh := make(chan error, 1)

	// Start HTTP server in goroutine
	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	a.events.Close()
	a.channel.Disconnect()

	if err := a.Close(); err != nil {
		return err
	}

	a.logger.Info("shutdown complete")
	return nil
}

// Close releases infrastructure connections
func (a *App) Close() error {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			return fmt.Errorf("closing redis: %w", err)
		}
	}
	return nil
}
