// Package web serves the local diagnostics surface: health, live
// pipeline status, and the embedded context store. It is the headless
// equivalent of the original operator dashboard.
package web

import (
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/neurocare/go-companion/pkg/carectx"
)

// StatusFunc returns the current pipeline status document.
type StatusFunc func() any

// Server is the diagnostics HTTP/websocket server.
type Server struct {
	app    *fiber.App
	addr   string
	status StatusFunc
	store  *carectx.Store
	logger *slog.Logger
}

// NewServer creates the diagnostics server. status provides the
// /api/status document; store backs the /api/context endpoints.
func NewServer(addr string, status StatusFunc, store *carectx.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:   addr,
		status: status,
		store:  store,
		logger: logger.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Companion Diagnostics",
		DisableStartupMessage: true,
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/context", s.handleGetContext)
	api.Post("/context", s.handleUpdateContext)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusStream))

	s.app = app
	return s
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

func (s *Server) handleGetContext(c *fiber.Ctx) error {
	return c.JSON(s.store.Get())
}

func (s *Server) handleUpdateContext(c *fiber.Ctx) error {
	var patch carectx.Context
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(s.store.Update(patch))
}

// handleStatusStream pushes the status document once a second until
// the client disconnects.
func (s *Server) handleStatusStream(c *websocket.Conn) {
	defer c.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if err := c.WriteJSON(s.status()); err != nil {
			return
		}
	}
}

// App exposes the fiber app, for tests.
func (s *Server) App() *fiber.App { return s.app }

// Start serves until Shutdown. It blocks; run it in a goroutine.
func (s *Server) Start() error {
	s.logger.Info("diagnostics server listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
