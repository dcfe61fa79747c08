package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"herald-go/internal/config"
)

// Server represents the HTTP server with all configured routes and middleware.
type Server struct {
	app    *fiber.App
	config *config.ServerConfig
	auth   *config.AuthConfig
	logger *slog.Logger

	// Handlers
	contactHandler  *ContactHandler
	segmentHandler  *SegmentHandler
	campaignHandler *CampaignHandler
	receiptHandler  *ReceiptHandler
}

// ServerDeps contains all dependencies required to create a new Server.
type ServerDeps struct {
	Config          *config.ServerConfig
	Auth            *config.AuthConfig
	Logger          *slog.Logger
	ContactHandler  *ContactHandler
	SegmentHandler  *SegmentHandler
	CampaignHandler *CampaignHandler
	ReceiptHandler  *ReceiptHandler
}

// HealthResponse is the body of the health check.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(deps ServerDeps) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           deps.Config.ReadTimeout,
		WriteTimeout:          deps.Config.WriteTimeout,
		IdleTimeout:           deps.Config.IdleTimeout,
		ErrorHandler:          customErrorHandler,
	})

	s := &Server{
		app:             app,
		config:          deps.Config,
		auth:            deps.Auth,
		logger:          deps.Logger,
		contactHandler:  deps.ContactHandler,
		segmentHandler:  deps.SegmentHandler,
		campaignHandler: deps.CampaignHandler,
		receiptHandler:  deps.ReceiptHandler,
	}

	s.registerMiddleware()
	s.registerRoutes()

	return s
}

// registerMiddleware sets up all middleware for the server.
func (s *Server) registerMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.New())

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} | ${path} | ${error}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
}

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	// Unauthenticated operational endpoints
	s.app.Get("/healthz", s.healthCheck)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := s.app.Group("/v1", TenantMiddleware(s.auth, s.logger))

	// Delivery receipts
	v1.Post("/webhooks/receipts", s.receiptHandler.Ingest)

	// Contacts
	v1.Post("/contacts", s.contactHandler.Create)
	v1.Get("/contacts", s.contactHandler.List)
	v1.Get("/contacts/:id", s.contactHandler.GetByID)
	v1.Put("/contacts/:id", s.contactHandler.Update)
	v1.Delete("/contacts/:id", s.contactHandler.Delete)

	// Segments
	v1.Post("/segments/preview", s.segmentHandler.Preview)
	v1.Post("/segments/system", s.segmentHandler.EnsureSystem)
	v1.Post("/segments", s.segmentHandler.Create)
	v1.Get("/segments", s.segmentHandler.List)
	v1.Get("/segments/:id", s.segmentHandler.GetByID)
	v1.Put("/segments/:id", s.segmentHandler.Update)
	v1.Delete("/segments/:id", s.segmentHandler.Delete)
	v1.Post("/segments/:id/recalculate", s.segmentHandler.Recalculate)
	v1.Get("/segments/:id/members", s.segmentHandler.Members)
	v1.Get("/segments/:id/contacts/:contactId", s.segmentHandler.Contains)

	// Campaigns
	v1.Post("/campaigns", s.campaignHandler.Create)
	v1.Get("/campaigns", s.campaignHandler.List)
	v1.Get("/campaigns/:id", s.campaignHandler.GetByID)
	v1.Put("/campaigns/:id", s.campaignHandler.Update)
	v1.Delete("/campaigns/:id", s.campaignHandler.Delete)
	v1.Post("/campaigns/:id/schedule", s.campaignHandler.Schedule)
	v1.Post("/campaigns/:id/pause", s.campaignHandler.Pause)
	v1.Post("/campaigns/:id/resume", s.campaignHandler.Resume)
	v1.Post("/campaigns/:id/cancel", s.campaignHandler.Cancel)
	v1.Post("/campaigns/:id/stats", s.campaignHandler.Stats)
	v1.Get("/campaigns/:id/executions", s.campaignHandler.Executions)
}

// healthCheck returns the health status of the service.
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return Success(c, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// App returns the underlying Fiber app. Tests drive it with app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.logger.Info("starting HTTP server", "address", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}

// customErrorHandler handles errors returned from handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	if e, ok := err.(*fiber.Error); ok {
		return Error(c, e.Code, ErrCodeInternalError, e.Message)
	}

	return InternalError(c, fmt.Sprintf("unexpected error: %v", err))
}
