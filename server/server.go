// Package server exposes health, metrics, session state and a live turn
// event feed over HTTP.
package server

import (
	"context"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/call"
)

// Sessions is the read side of the session manager.
type Sessions interface {
	Snapshots() []call.Snapshot
	Len() int
}

// Options configure a Server. Ready reports whether the broker link is up;
// nil means always ready.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
	Sessions        Sessions
	Registry        *prometheus.Registry
	Hub             *Hub
	Ready           func() bool
	Version         string
}

type Server struct {
	app    *fiber.App
	opts   Options
	logger *zap.Logger
}

// New builds the HTTP server. It listens only once Run or Serve is called.
func New(opts Options, logger *zap.Logger) (*Server, error) {
	if opts.Sessions == nil {
		return nil, errors.New("sessions are required")
	}
	if opts.Hub == nil {
		return nil, errors.New("event hub is required")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			AppName:               "pixa",
		}),
		opts:   opts,
		logger: logger.With(zap.String("component", "http")),
	}
	s.routes()
	return s, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) routes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": s.opts.Version})
	})

	s.app.Get("/readyz", func(c *fiber.Ctx) error {
		if s.opts.Ready != nil && !s.opts.Ready() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "broker disconnected"})
		}
		return c.JSON(fiber.Map{"status": "ready"})
	})

	if s.opts.Registry != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})))
	}

	s.app.Get("/sessions", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"count":    s.opts.Sessions.Len(),
			"sessions": s.opts.Sessions.Snapshots(),
		})
	})

	// Middleware to require WebSocket upgrade on /events
	s.app.Use("/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/events", websocket.New(s.streamEvents))
}

func (s *Server) streamEvents(ws *websocket.Conn) {
	defer ws.Close()
	events := s.opts.Hub.Subscribe()
	defer s.opts.Hub.Unsubscribe(events)
	s.logger.Debug("event listener connected", zap.String("remote", ws.RemoteAddr().String()))

	// The feed is one way; reading only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case data, ok := <-events:
			if !ok {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("event write failed", zap.Error(err))
				return
			}
		}
	}
}

// Run serves on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.opts.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- s.app.Listener(ln)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
		s.opts.Hub.Close()
		if err := s.app.ShutdownWithTimeout(s.opts.ShutdownTimeout); err != nil {
			return errors.Wrap(err, "shutdown http server")
		}
		return nil
	}
}
