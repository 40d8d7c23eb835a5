// Package web serves the read-only status dashboard.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	tlog "github.com/teslashibe/go-traffic/internal/log"
	"github.com/teslashibe/go-traffic/pkg/hub"
	"github.com/teslashibe/go-traffic/pkg/policy"
	"github.com/teslashibe/go-traffic/pkg/traffic"
)

const shutdownTimeout = 5 * time.Second

// Status is the body of GET /api/status.
type Status struct {
	traffic.Stats
	Detector string `json:"detector"`
	FellBack bool   `json:"fell_back"`
}

// DecisionEvent is pushed on /ws/decisions after every cycle.
type DecisionEvent struct {
	RunID       string    `json:"run_id"`
	Cycle       uint64    `json:"cycle"`
	Time        time.Time `json:"time"`
	Count       int       `json:"count"`
	WaitSeconds int       `json:"wait_seconds"`
	Reduced     bool      `json:"reduced"`
	Message     string    `json:"message"`
}

// Config configures the dashboard.
type Config struct {
	// Status reports loop progress. Required.
	Status func() Status

	// Annotate draws the decision onto a frame for /ws/camera.
	// When nil, raw frames are sent.
	Annotate func(jpeg []byte, d policy.Decision) ([]byte, error)

	// Logger receives diagnostics. Default: the global logger.
	Logger *slog.Logger
}

// Server is the dashboard. It implements traffic.Observer.
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger

	decisions *hub.Hub
	camera    *hub.Hub

	// latest frame waiting to be annotated; older frames are replaced
	frames chan traffic.Event

	startOnce sync.Once
}

// NewServer builds the fiber app and routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Status == nil {
		return nil, errors.New("web: status func is required")
	}
	s := &Server{
		cfg:       cfg,
		logger:    tlog.For(cfg.Logger, "web"),
		decisions: hub.New("decisions", cfg.Logger),
		camera:    hub.New("camera", cfg.Logger),
		frames:    make(chan traffic.Event, 1),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Traffic Status",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/healthz", s.handleHealthz)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/decisions", websocket.New(s.subscribe(s.decisions)))
	app.Get("/ws/camera", websocket.New(s.subscribe(s.camera)))

	s.app = app
	return s, nil
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.startOnce.Do(func() {
		go s.decisions.Run(ctx)
		go s.camera.Run(ctx)
		go s.annotateLoop(ctx)
	})

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.app.ShutdownWithContext(sctx); err != nil {
			s.logger.Warn("dashboard shutdown failed", "error", err)
		}
	}()

	s.logger.Info("dashboard listening", "addr", ln.Addr().String())
	fmt.Printf("🌐 Status dashboard: http://%s/api/status\n", ln.Addr())
	return s.app.Listener(ln)
}

// Observe publishes a cycle event. It never blocks the control loop.
func (s *Server) Observe(e traffic.Event) {
	if err := s.decisions.PublishJSON(decisionEvent(e)); err != nil {
		s.logger.Warn("encode decision event failed", "error", err)
	}

	if s.camera.Subscribers() == 0 || len(e.Frame) == 0 {
		return
	}
	select {
	case s.frames <- e:
	default:
		// Replace the pending frame with the newer one.
		select {
		case <-s.frames:
		default:
		}
		select {
		case s.frames <- e:
		default:
		}
	}
}

func (s *Server) annotateLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.frames:
			data := e.Frame
			if s.cfg.Annotate != nil {
				out, err := s.cfg.Annotate(e.Frame, e.Decision)
				if err != nil {
					s.logger.Debug("annotate frame failed", "error", err)
					continue
				}
				data = out
			}
			s.camera.Publish(hub.Binary(data))
		}
	}
}

func decisionEvent(e traffic.Event) DecisionEvent {
	return DecisionEvent{
		RunID:       e.RunID,
		Cycle:       e.Cycle,
		Time:        e.Time,
		Count:       e.Decision.Count,
		WaitSeconds: e.Decision.WaitSeconds(),
		Reduced:     e.Decision.Reduced,
		Message:     e.Decision.String(),
	}
}

var _ traffic.Observer = (*Server)(nil)
