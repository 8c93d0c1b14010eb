// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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

	"github.com/assetbay/assetbay/internal/auth"
	"github.com/assetbay/assetbay/internal/config"
	"github.com/assetbay/assetbay/internal/escrow"
	"github.com/assetbay/assetbay/internal/invoice"
	"github.com/assetbay/assetbay/internal/listing"
	"github.com/assetbay/assetbay/internal/logging"
	"github.com/assetbay/assetbay/internal/metrics"
	"github.com/assetbay/assetbay/internal/offer"
	"github.com/assetbay/assetbay/internal/order"
	"github.com/assetbay/assetbay/internal/payment"
	"github.com/assetbay/assetbay/internal/ratelimit"
	"github.com/assetbay/assetbay/internal/realtime"
	"github.com/assetbay/assetbay/internal/security"
	"github.com/assetbay/assetbay/internal/traces"
	"github.com/assetbay/assetbay/internal/validation"
	"github.com/assetbay/assetbay/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	authMgr  *auth.Manager
	listings *listing.Service
	offers   *offer.Service
	orders   *order.Service
	payments *payment.Service
	escrows  *escrow.Service
	invoices *invoice.Service

	webhookStore    webhooks.Store
	webhookEmitter  *webhooks.Emitter
	realtimeHub     *realtime.Hub
	paymentParser   payment.WebhookParser
	offerTimer      *offer.Timer
	escrowTimer     *escrow.Timer
	invoiceTimer    *invoice.Timer
	rateLimiter     *ratelimit.Limiter
	tracesShutdown  func(context.Context) error
	db              *sql.DB // nil if using in-memory
	router          *gin.Engine
	httpSrv         *http.Server
	logger          *slog.Logger
	cancelRunCtx    context.CancelFunc // cancels background goroutines started in Run

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Stores (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		listingStore listing.Store
		offerStore   offer.Store
		orderStore   order.Store
		paymentStore payment.Store
		escrowStore  escrow.Store
		invoiceStore invoice.Store
		authStore    auth.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		listingStore = listing.NewPostgresStore(db)
		offerStore = offer.NewPostgresStore(db)
		orderStore = order.NewPostgresStore(db)
		paymentStore = payment.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		invoiceStore = invoice.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		s.webhookStore = webhooks.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		listingStore = listing.NewMemoryStore()
		offerStore = offer.NewMemoryStore()
		orderStore = order.NewMemoryStore()
		paymentStore = payment.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		invoiceStore = invoice.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		s.webhookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.authMgr = auth.NewManager(authStore, cfg.AdminSecret)

	// Event fan-out: every lifecycle event goes to webhook subscribers
	// and to connected WebSocket clients.
	s.realtimeHub = realtime.NewHub(s.logger)
	dispatcher := webhooks.NewDispatcher(s.webhookStore)
	s.webhookEmitter = webhooks.NewEmitter(dispatcher, s.logger)
	emitter := &fanoutEmitter{emitters: []eventEmitter{s.webhookEmitter, s.realtimeHub}}

	// Lifecycle services. Packages stay decoupled: each one talks to its
	// collaborators through a small interface, satisfied by the adapters
	// at the bottom of this file.
	s.listings = listing.NewService(listingStore)

	s.orders = order.NewService(orderStore, &orderListings{s.listings}, cfg.CommissionPct).
		WithListingMarker(s.listings).
		WithEmitter(emitter)

	s.offers = offer.NewService(offerStore, &offerListings{s.listings}, s.orders).
		WithDefaultTTL(cfg.OfferDefaultTTL).
		WithEmitter(emitter)

	// Payment processor: Stripe when configured, otherwise the stub
	// resolved through the admin endpoint (development).
	var processor payment.Processor
	if cfg.StripeSecretKey != "" {
		stripeProc := payment.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		processor = stripeProc
		s.paymentParser = stripeProc
		s.logger.Info("stripe payments enabled")
	} else {
		processor = payment.NewStubProcessor()
		s.logger.Info("stub payment processor enabled (resolve via admin endpoint)")
	}

	s.payments = payment.NewService(paymentStore, &paymentOrders{s.orders}, processor).
		WithEmitter(emitter)

	s.escrows = escrow.NewService(escrowStore, &escrowOrders{s.orders}).
		WithPaymentRefunder(s.payments).
		WithEmitter(emitter)

	// Payment success holds the escrow through the order service.
	s.orders.WithEscrowHolder(s.escrows)

	s.invoices = invoice.NewService(invoiceStore, &invoiceOrders{s.orders}).
		WithDueAfter(cfg.InvoiceDueAfter).
		WithEmitter(emitter)

	// Background timers
	s.offerTimer = offer.NewTimer(s.offers, offerStore, s.logger)
	s.escrowTimer = escrow.NewTimer(s.escrows, escrowStore, &escrowOrders{s.orders}, cfg.EscrowAutoReleaseAfter, s.logger)
	s.invoiceTimer = invoice.NewTimer(s.invoices, invoiceStore, s.logger)

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

	// CORS (allow all origins for development - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rateCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rateCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(rateCfg)
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
			requestID = generateRequestID()
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

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	listingHandler := listing.NewHandler(s.listings)
	offerHandler := offer.NewHandler(s.offers)
	orderHandler := order.NewHandler(s.orders)
	paymentHandler := payment.NewHandler(s.payments, s.paymentParser)
	escrowHandler := escrow.NewHandler(s.escrows)
	invoiceHandler := invoice.NewHandler(s.invoices)
	webhookHandler := webhooks.NewHandler(s.webhookStore)
	authHandler := auth.NewHandler(s.authMgr)

	// V1 API group
	v1 := s.router.Group("/v1")

	// PUBLIC ROUTES (no auth required)
	// Browsing active listings and auth info are open to everyone. The
	// processor webhook is also public: it is authenticated by its
	// signature, not by an API key.
	listingHandler.RegisterRoutes(v1)
	paymentHandler.RegisterRoutes(v1)
	v1.GET("/auth/info", authHandler.Info)

	// Key issuance is public but gated by the admin secret header.
	v1.POST("/auth/keys", authHandler.IssueKey)

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	{
		listingHandler.RegisterProtectedRoutes(protected)
		offerHandler.RegisterProtectedRoutes(protected)
		orderHandler.RegisterProtectedRoutes(protected)
		paymentHandler.RegisterProtectedRoutes(protected)
		escrowHandler.RegisterProtectedRoutes(protected)
		invoiceHandler.RegisterProtectedRoutes(protected)
		webhookHandler.RegisterProtectedRoutes(protected)

		// API key self-management
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		protected.GET("/auth/me", authHandler.WhoAmI)
	}

	// ADMIN ROUTES (require admin role)
	admin := v1.Group("")
	admin.Use(auth.Middleware(s.authMgr), auth.RequireAdmin(s.authMgr))
	{
		listingHandler.RegisterAdminRoutes(admin)
		paymentHandler.RegisterAdminRoutes(admin)
		escrowHandler.RegisterAdminRoutes(admin)
		invoiceHandler.RegisterAdminRoutes(admin)
	}
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := map[string]string{}
	status := "healthy"
	code := http.StatusOK

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unreachable"
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "in-memory"
	}

	if !s.healthy.Load() {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now(),
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
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
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

	// Tracing (no-op when no OTLP endpoint is configured)
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
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
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start lifecycle timers
	go s.offerTimer.Start(runCtx)
	go s.escrowTimer.Start(runCtx)
	go s.invoiceTimer.Start(runCtx)

	// Export connection pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

	select {
	case err := <-errChan:
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

	// Cancel the context for all background goroutines (hub, timers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop lifecycle timers
	if s.offerTimer != nil {
		s.offerTimer.Stop()
	}
	if s.escrowTimer != nil {
		s.escrowTimer.Stop()
	}
	if s.invoiceTimer != nil {
		s.invoiceTimer.Stop()
	}
	s.logger.Info("lifecycle timers stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Flush traces
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Warn("traces shutdown error", "error", err)
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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// -----------------------------------------------------------------------------
// Adapters
//
// Lifecycle packages never import each other; they declare the interface
// they need and the composition root satisfies it here.
// -----------------------------------------------------------------------------

// eventEmitter is the shared emitter shape every lifecycle package declares.
type eventEmitter interface {
	Emit(event string, data map[string]any)
}

// fanoutEmitter sends each event to every sink (webhooks, realtime).
type fanoutEmitter struct {
	emitters []eventEmitter
}

func (f *fanoutEmitter) Emit(event string, data map[string]any) {
	for _, e := range f.emitters {
		e.Emit(event, data)
	}
}

// orderListings adapts listing.Service to order.ListingDirectory
type orderListings struct {
	l *listing.Service
}

func (a *orderListings) GetListing(ctx context.Context, id string) (order.ListingSnapshot, error) {
	l, err := a.l.Get(ctx, id)
	if err != nil {
		return order.ListingSnapshot{}, err
	}
	return order.ListingSnapshot{
		ID:       l.ID,
		SellerID: l.SellerID,
		Price:    l.Price,
		Currency: l.Currency,
		Sellable: l.Sellable(),
	}, nil
}

// offerListings adapts listing.Service to offer.ListingDirectory
type offerListings struct {
	l *listing.Service
}

func (a *offerListings) GetListing(ctx context.Context, id string) (offer.ListingSnapshot, error) {
	l, err := a.l.Get(ctx, id)
	if err != nil {
		return offer.ListingSnapshot{}, err
	}
	return offer.ListingSnapshot{
		ID:         l.ID,
		SellerID:   l.SellerID,
		Currency:   l.Currency,
		Negotiable: l.IsPriceNegotiable,
		Sellable:   l.Sellable(),
	}, nil
}

// paymentOrders adapts order.Service to payment.OrderManager
type paymentOrders struct {
	o *order.Service
}

func (a *paymentOrders) BeginPayment(ctx context.Context, orderID, paymentID string) (payment.OrderInfo, error) {
	o, err := a.o.BeginPayment(ctx, orderID, paymentID)
	if err != nil {
		return payment.OrderInfo{}, err
	}
	return payment.OrderInfo{
		ID:         o.ID,
		BuyerID:    o.BuyerID,
		FinalPrice: o.FinalPrice,
		Currency:   o.Currency,
	}, nil
}

func (a *paymentOrders) PaymentSucceeded(ctx context.Context, orderID, paymentID string) error {
	return a.o.ProcessPaymentSucceeded(ctx, orderID, paymentID)
}

// escrowOrders adapts order.Service to escrow.Orders
type escrowOrders struct {
	o *order.Service
}

func (a *escrowOrders) GetOrder(ctx context.Context, orderID string) (escrow.OrderSnapshot, error) {
	o, err := a.o.Get(ctx, orderID)
	if err != nil {
		return escrow.OrderSnapshot{}, err
	}
	return escrow.OrderSnapshot{
		ID:              o.ID,
		BuyerID:         o.BuyerID,
		SellerID:        o.SellerID,
		PaymentID:       o.PaymentID,
		Completed:       o.Status == order.StatusCompleted,
		RefundRequested: o.Status == order.StatusRefundRequested,
		CompletedAt:     o.CompletedAt,
	}, nil
}

func (a *escrowOrders) MarkRefunded(ctx context.Context, orderID string) error {
	return a.o.MarkRefunded(ctx, orderID)
}

// invoiceOrders adapts order.Service to invoice.Orders
type invoiceOrders struct {
	o *order.Service
}

func (a *invoiceOrders) GetOrder(ctx context.Context, orderID string) (invoice.OrderSnapshot, error) {
	o, err := a.o.Get(ctx, orderID)
	if err != nil {
		return invoice.OrderSnapshot{}, err
	}
	return invoice.OrderSnapshot{
		ID:           o.ID,
		OrderNumber:  o.OrderNumber,
		BuyerID:      o.BuyerID,
		SellerID:     o.SellerID,
		FinalPrice:   o.FinalPrice,
		PlatformFee:  o.PlatformFee,
		SellerAmount: o.SellerAmount,
		Currency:     o.Currency,
		Paid:         orderPaid(o.Status),
	}, nil
}

// orderPaid reports whether the order's payment has settled. Everything
// from processing onward has a succeeded payment behind it.
func orderPaid(status order.Status) bool {
	switch status {
	case order.StatusProcessing, order.StatusCompleted, order.StatusRefundRequested, order.StatusRefunded:
		return true
	default:
		return false
	}
}
