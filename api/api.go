package api

import (
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/ollamabridge/pkg/storage"
)

const defaultMaxListLimit = 1000

// Server is the admin API server for the bridge's usage ledger.
type Server struct {
	config Config
	driver storage.Driver
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The driver is shared with the proxy's worker pool.
func NewServer(config Config, driver storage.Driver, logger *slog.Logger) *Server {
	if config.MaxListLimit <= 0 {
		config.MaxListLimit = defaultMaxListLimit
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		driver: driver,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/usage", s.handleListUsage)
	app.Get("/usage/stats", s.handleUsageStats)
	app.Get("/usage/:id", s.handleGetUsage)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener starts the API server using the provided listener.
func (s *Server) RunWithListener(listener net.Listener) error {
	s.logger.Info("starting API server", "listen", listener.Addr().String())
	return s.app.Listener(listener)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
