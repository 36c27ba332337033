// Package http exposes the settlement services over a JSON API.
// Handlers only translate requests; every rule lives in the services.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/irlwork/settlement/internal/application/service"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// StatementExporter writes a user's earnings statement as xlsx
type StatementExporter interface {
	Export(ctx context.Context, userID string, w io.Writer) error
}

// HealthFunc reports component health for GET /health
type HealthFunc func(ctx context.Context) map[string]interface{}

// Services groups everything the handlers call
type Services struct {
	Tasks          service.TaskService
	Disputes       service.DisputeService
	Escrow         service.EscrowService
	Payments       service.PaymentService
	Withdrawals    service.WithdrawalService
	Reputation     service.ReputationService
	Reconciliation service.ReconciliationService
	Statements     StatementExporter
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	metrics    http.Handler
	logger     Logger
}

// NewServer creates a new HTTP server. metrics may be nil, in which case
// the default prometheus registry is served.
func NewServer(config ServerConfig, services Services, health HealthFunc, metrics http.Handler, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if metrics == nil {
		metrics = promhttp.Handler()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultServerConfig().ShutdownTimeout
	}

	server := &Server{
		config:   config,
		router:   gin.New(),
		handlers: NewHandlers(services, health, logger),
		metrics:  metrics,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)
	s.router.GET("/metrics", gin.WrapH(s.metrics))

	api := s.router.Group("/api")

	tasks := api.Group("/tasks")
	{
		tasks.POST("", h.CreateTask)
		tasks.GET("/:id", h.GetTask)
		tasks.POST("/:id/transition", h.TransitionTask)
		tasks.POST("/:id/assign", h.AssignTask)
		tasks.POST("/:id/accept", h.AcceptTask)
		tasks.POST("/:id/start", h.StartWork)
		tasks.POST("/:id/submit", h.SubmitWork)
		tasks.POST("/:id/revision", h.RequestRevision)
		tasks.POST("/:id/withdraw", h.WorkerWithdraw)
		tasks.POST("/:id/cancel", h.CancelTask)
		tasks.POST("/:id/approve", h.ApproveTask)

		tasks.POST("/:id/disputes", h.FileDispute)
		tasks.GET("/:id/disputes", h.ListDisputes)
		tasks.POST("/:id/disputes/resolve", h.ResolveDispute)

		tasks.POST("/:id/escrow/authorize", h.AuthorizeEscrow)
		tasks.POST("/:id/escrow/capture", h.CaptureEscrow)
		tasks.POST("/:id/escrow/deposit", h.RecordDeposit)
		tasks.POST("/:id/escrow/refund", h.RefundEscrow)
	}

	users := api.Group("/users")
	{
		users.GET("/:id/balance", h.GetBalance)
		users.POST("/:id/withdraw", h.Withdraw)
		users.GET("/:id/withdrawals", h.ListWithdrawals)
		users.GET("/:id/reputation", h.GetReputation)
		users.PUT("/:id/profile", h.UpdateProfile)
		users.GET("/:id/statement.xlsx", h.ExportStatement)
	}

	admin := api.Group("/admin")
	{
		admin.POST("/sweeps/promote", h.SweepPromote)
		admin.POST("/sweeps/renew", h.SweepRenew)
		admin.POST("/sweeps/reconcile", h.SweepReconcile)
		admin.POST("/sweeps/expire", h.SweepExpire)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
