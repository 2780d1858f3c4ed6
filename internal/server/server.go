// Package server provides the HTTP server for psky-relay, built on
// Echo v4. It serves the mirrored chat data over REST and bridges the
// relay's fan-out to WebSocket subscribers.
package server

import (
	"context"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/psky-chat/psky-relay/internal/config"
	"github.com/psky-chat/psky-relay/internal/database"
	"github.com/psky-chat/psky-relay/internal/events"
)

// Server wraps the Echo instance and application dependencies.
type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	mirror database.Mirror
	events *events.Manager
}

// New creates a configured Echo server with all routes registered.
func New(cfg *config.Config, mirror database.Mirror, evts *events.Manager) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true // We log the listen address ourselves.

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{
		echo:   e,
		cfg:    cfg,
		mirror: mirror,
		events: evts,
	}

	s.registerRoutes()
	return s
}

// Start begins listening for HTTP requests. It blocks until the context
// is cancelled, then performs a graceful shutdown allowing in-flight
// requests to complete.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", s.cfg.ListenAddr)
		if err := s.echo.Start(s.cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Println("Shutting down HTTP server...")
		return s.echo.Shutdown(context.Background())
	}
}
