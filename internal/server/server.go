// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/blockvest/blockvest/internal/config"
	"github.com/blockvest/blockvest/internal/health"
	"github.com/blockvest/blockvest/internal/idgen"
	"github.com/blockvest/blockvest/internal/logging"
	"github.com/blockvest/blockvest/internal/metrics"
	"github.com/blockvest/blockvest/internal/platform"
	"github.com/blockvest/blockvest/internal/ratelimit"
	"github.com/blockvest/blockvest/internal/risk"
	"github.com/blockvest/blockvest/internal/security"
	"github.com/blockvest/blockvest/internal/traces"
	"github.com/blockvest/blockvest/internal/validation"
)

// redisKeyPrefix namespaces assessment keys in a shared Redis.
const redisKeyPrefix = "blockvest:risk"

// dbStatsInterval is how often pool statistics are sampled.
const dbStatsInterval = 15 * time.Second

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	version        string
	engine         *risk.Engine
	monitor        *risk.Monitor
	reassessTimer  *risk.ReassessTimer
	directory      *platform.MemoryDirectory // set when platform data is held in memory
	health         *health.Registry
	rateLimiter    *ratelimit.Limiter
	db             *sql.DB       // nil if not using Postgres
	redis          *redis.Client // nil if not using Redis
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	shutdownTraces func(context.Context) error
	drainDelay     time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by health checks and traces
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithDirectory supplies the in-memory platform data used when no database
// is configured (for testing). Without it a demo directory is seeded.
func WithDirectory(d *platform.MemoryDirectory) Option {
	return func(s *Server) {
		s.directory = d
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// sending traffic before closing the listener
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	// Apply options first (may set logger/directory)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	store, sources, err := s.initStorage(ctx)
	if err != nil {
		return nil, err
	}

	s.engine = risk.NewEngine(store, sources).
		WithLogger(s.logger).
		WithStaleAfter(cfg.StaleAfter).
		WithSourceTimeout(cfg.SourceTimeout).
		WithMonitorInterval(cfg.MonitorInterval)

	// High-risk monitoring is the engine's scheduler
	s.monitor = risk.NewMonitor(s.engine, s.logger)
	s.engine.WithScheduler(s.monitor)
	s.logger.Info("high-risk monitoring enabled", "interval", cfg.MonitorInterval)

	s.reassessTimer = risk.NewReassessTimer(s.engine, cfg.ReassessInterval, s.logger)
	s.logger.Info("scheduled reassessment enabled", "interval", cfg.ReassessInterval)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// initStorage picks the assessment store and platform data sources:
// Postgres for both when DATABASE_URL is set, otherwise Redis (if REDIS_URL
// is set) or memory for assessments with in-memory platform data.
func (s *Server) initStorage(ctx context.Context) (risk.Store, risk.Sources, error) {
	if s.cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return nil, risk.Sources{}, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, risk.Sources{}, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.health.Register("postgres", health.Postgres(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))

		store := risk.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate risk store", "error", err)
		}
		return store, platform.NewPostgresDirectory(db).Sources(), nil
	}

	if s.directory == nil {
		s.directory = platform.NewMemoryDirectory()
		platform.SeedDemo(s.directory, time.Now())
		s.logger.Info("using in-memory platform data (demo mode)",
			"investments", []string{platform.DemoEstablishedInvestment, platform.DemoNewcomerInvestment},
		)
	}

	if s.cfg.RedisURL != "" {
		opts, err := redis.ParseURL(s.cfg.RedisURL)
		if err != nil {
			return nil, risk.Sources{}, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, risk.Sources{}, fmt.Errorf("failed to connect to redis: %w", err)
		}

		s.redis = client
		s.health.Register("redis", health.Redis(client))
		s.logger.Info("using Redis assessment storage", "addr", opts.Addr)
		return risk.NewRedisStore(client, redisKeyPrefix), s.directory.Sources(), nil
	}

	s.logger.Info("using in-memory assessment storage")
	return risk.NewMemoryStore(), s.directory.Sources(), nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerSecond = float64(s.cfg.RateLimitRPS)
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	riskHandler := risk.NewHandler(s.engine)

	v1 := s.router.Group("/v1/risk")
	v1.Use(validation.IDParamMiddleware())
	riskHandler.RegisterRoutes(v1)

	admin := v1.Group("")
	admin.Use(security.RequireAdmin(s.cfg.AdminSecret))
	riskHandler.RegisterAdminRoutes(admin)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "route not found"})
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.health.CheckAll(ctx)
	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
			logging.L(ctx).Warn("health check failed", "check", st.Name, "detail", st.Detail)
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.version, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialise tracing", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"version", s.version,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start high-risk monitor
	go s.monitor.Start(runCtx)

	// Start scheduled reassessment timer
	go s.reassessTimer.Start(runCtx)

	// Sample connection pool statistics
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, dbStatsInterval)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (timers, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop high-risk monitor
	s.monitor.Stop()
	s.logger.Info("risk monitor stopped")

	// Stop reassessment timer
	s.reassessTimer.Stop()
	s.logger.Info("reassessment timer stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush pending spans
	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	// Close Redis client
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Engine returns the risk engine
func (s *Server) Engine() *risk.Engine {
	return s.engine
}
