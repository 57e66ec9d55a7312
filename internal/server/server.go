// Package server exposes the coordinator's two transports: the
// request/response HTTP surface and the persistent streaming surface,
// plus the project directory CRUD mounted beside them.
package server

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/p-blackswan/collabd/internal/coord"
	"github.com/p-blackswan/collabd/internal/directory"
	"github.com/p-blackswan/collabd/internal/health"
	"github.com/p-blackswan/collabd/internal/metrics"
	"github.com/p-blackswan/collabd/internal/requestid"
)

// Config holds configuration for the API server.
type Config struct {
	ListenAddr  string
	CORSOrigins string
	TLSCert     string
	TLSKey      string
}

// Server is the collabd Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	logger   zerolog.Logger
	config   Config
}

// New creates and configures the API server.
func New(
	cfg Config,
	hub *coord.Hub,
	dir *directory.Directory,
	checker *health.Checker,
	mc *metrics.Metrics,
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

	handlers := NewHandlers(hub, dir, checker, mc, logger)

	s := &Server{
		app:      app,
		handlers: handlers,
		logger:   logger.With().Str("component", "server").Logger(),
		config:   cfg,
	}

	s.setupMiddleware(cfg, logger)
	s.setupRoutes(handlers, mc)

	return s
}

func (s *Server) setupMiddleware(cfg Config, logger zerolog.Logger) {
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
			AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
			AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
		}))
	}

	// Audit middleware (log every request)
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		// Skip noisy probe logging
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
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

func (s *Server) setupRoutes(h *Handlers, mc *metrics.Metrics) {
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	if mc != nil {
		metricsHandler := fasthttpadaptor.NewFastHTTPHandler(mc.Handler())
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			metricsHandler(c.Context())
			return nil
		})
	}

	v1 := s.app.Group("/api/v1")

	// Project directory (relational CRUD, independent of the coordinator)
	v1.Post("/projects", h.CreateProject)
	v1.Get("/projects", h.ListProjects)
	v1.Get("/projects/:id", h.GetProject)
	v1.Put("/projects/:id", h.UpdateProject)
	v1.Delete("/projects/:id", h.DeleteProject)

	// Coordinator surface, one actor per project id
	p := v1.Group("/projects/:id")
	p.Post("/state-init", h.InitializeState)
	p.Get("/state", h.GetState)
	p.Get("/analytics", h.Analytics)

	p.Get("/agents", h.ListAgents)
	p.Post("/agents", h.RegisterAgent)
	p.Put("/agents/:agentId", h.UpdateAgent)
	p.Delete("/agents/:agentId", h.RemoveAgent)

	p.Get("/tasks", h.ListTasks)
	p.Post("/tasks", h.CreateTask)
	p.Put("/tasks/:taskId", h.UpdateTask)
	p.Delete("/tasks/:taskId", h.DeleteTask)

	p.Get("/messages", h.ListMessages)
	p.Post("/messages", h.SendMessage)

	p.Put("/context", h.UpdateContext)

	// Streaming surface
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/projects/:id", websocket.New(h.HandleStream))
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	s.logger.Info().Str("addr", addr).Msg("api server starting")

	if s.config.TLSCert != "" && s.config.TLSKey != "" {
		return s.app.ListenTLS(addr, s.config.TLSCert, s.config.TLSKey)
	}
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("api server shutting down")
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

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(fiber.Map{"error": detail})
	}
}
