package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-traffic/pkg/hub"
	"github.com/teslashibe/go-traffic/pkg/traffic"
)

// handleStatus returns loop progress and the active detector.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Status())
}

// handleHealthz reports whether the loop is still running.
func (s *Server) handleHealthz(c *fiber.Ctx) error {
	st := s.cfg.Status()
	if st.State == traffic.StateTerminated.String() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": st.State})
	}
	return c.JSON(fiber.Map{"status": "ok", "state": st.State})
}

// subscribe attaches a websocket connection to h until it disconnects.
func (s *Server) subscribe(h *hub.Hub) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		client := hub.Attach(h, conn)
		if client == nil {
			conn.Close()
			return
		}
		client.Serve()
	}
}
