// Package telemetry serves a read-only dashboard of the controller: status
// snapshots, the priority table and the live event stream.
// Nothing it exposes changes controller state.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-tacton/pkg/events"
	"github.com/teslashibe/go-tacton/pkg/hub"
)

// Config holds the server settings.
type Config struct {
	Addr           string
	History        int           // Events kept for /api/events and new clients
	StatusInterval time.Duration // Push period on /ws/status
}

// Server is the telemetry dashboard.
type Server struct {
	cfg     Config
	src     Sources
	log     *slog.Logger
	app     *fiber.App
	history *events.Ring
	started time.Time

	eventHub  *hub.Hub
	statusHub *hub.Hub
}

var _ events.Sink = (*Server)(nil)

// NewServer creates the dashboard.
func NewServer(cfg Config, src Sources, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if cfg.History <= 0 {
		cfg.History = 256
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}

	s := &Server{
		cfg:       cfg,
		src:       src,
		log:       log,
		history:   events.NewRing(cfg.History),
		started:   time.Now(),
		eventHub:  hub.New("events", log),
		statusHub: hub.New("status", log),
	}

	app := fiber.New(fiber.Config{
		AppName:               "tacton telemetry",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
	}))
	app.Use(logger.New(logger.Config{
		Format: "${status} ${method} ${path} ${latency}\n",
		Output: logWriter{log},
	}))

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleEvents)
	api.Get("/table", s.handleTable)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// SetSources replaces the components the dashboard reads. Call it before
// Serve.
func (s *Server) SetSources(src Sources) {
	s.src = src
}

// App returns the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Emit records e and pushes it to event stream clients.
func (s *Server) Emit(e events.Event) {
	s.history.Emit(e)
	if err := s.eventHub.BroadcastJSON(e); err != nil {
		s.log.Warn("encode event", "kind", e.Kind, "error", err)
	}
}

// Status returns the current status snapshot.
func (s *Server) Status() Status {
	st := s.src.status(s.started)
	st.Clients = s.eventHub.ClientCount() + s.statusHub.ClientCount()
	return st
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("telemetry listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the dashboard on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.eventHub.Run(ctx)
	go s.statusHub.Run(ctx)
	go s.pushStatus(ctx)

	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()
	s.log.Info("telemetry dashboard", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) pushStatus(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.statusHub.ClientCount() == 0 {
				continue
			}
			if err := s.statusHub.BroadcastJSON(s.Status()); err != nil {
				s.log.Warn("encode status", "error", err)
			}
		}
	}
}

// logWriter feeds fiber's access log into slog at debug level.
type logWriter struct {
	log *slog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.log.Debug("http", "request", strings.TrimSpace(string(p)))
	return len(p), nil
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
