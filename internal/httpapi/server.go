// Package httpapi serves the public REST and SSE surface of the
// showcase engine.
package httpapi

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/knearme/showcase/internal/health"
	"github.com/knearme/showcase/internal/metrics"
	"github.com/knearme/showcase/internal/orchestrator"
	"github.com/knearme/showcase/internal/publish"
	"github.com/knearme/showcase/internal/requestid"
	"github.com/knearme/showcase/internal/store"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
}

// Server is the API Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	logger   zerolog.Logger
	config   ServerConfig
}

// NewServer creates and configures the API server.
func NewServer(
	cfg ServerConfig,
	engine *orchestrator.Engine,
	st *store.Store,
	publisher *publish.Publisher,
	checker *health.Checker,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	handlers := NewHandlers(engine, st, publisher, checker, m, logger)

	s := &Server{
		app:      app,
		handlers: handlers,
		logger:   logger.With().Str("component", "httpapi").Logger(),
		config:   cfg,
	}

	s.setupMiddleware(cfg, logger)
	s.setupRoutes(handlers, m)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, logger zerolog.Logger) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware
	s.app.Use(func(c *fiber.Ctx) error {
		_, reqID := requestid.New(c.Context())
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	s.app.Use(NewAuthMiddleware(cfg.Auth, logger))

	// Audit middleware (log every request)
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if isProbePath(path) {
			return c.Next()
		}

		logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", fmt.Sprintf("%v", c.Locals("request_id"))).
			Msg("api request")

		return c.Next()
	})
}

func (s *Server) setupRoutes(h *Handlers, m *metrics.Metrics) {
	// Probe endpoints (no auth required — handled in auth middleware)
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)
	s.app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	v1 := s.app.Group("/api/v1")

	// Conversation
	v1.Post("/projects/:id/turns", h.RunTurn)

	// Project state
	v1.Get("/projects/:id", h.GetProject)
	v1.Get("/projects/:id/checkpoints", h.ListCheckpoints)
	v1.Get("/projects/:id/checkpoints/latest", h.LatestCheckpoint)

	// Image registry
	v1.Get("/projects/:id/images", h.ListImages)
	v1.Post("/projects/:id/images", h.AddImage)
	v1.Put("/projects/:id/images/order", h.ReorderImages)

	// Publishing
	v1.Post("/projects/:id/publish", h.Publish)
	v1.Get("/projects/:id/publish/validate", h.ValidatePublish)

	// Health detail
	v1.Get("/health", h.HealthDetail)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		errType := "request_error"
		detail := err.Error()
		// Don't leak internal details on 500s.
		if code == fiber.StatusInternalServerError {
			errType = "internal_error"
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     errType,
			Title:    utils.StatusMessage(code),
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
