package telemetry

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-tacton/pkg/events"
	"github.com/teslashibe/go-tacton/pkg/tacton"
)

// TableEntry is one row of the priority table.
type TableEntry struct {
	Label string `json:"label"`
	tacton.Entry
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"uptime":  s.Status().Uptime,
		"clients": s.eventHub.ClientCount() + s.statusHub.ClientCount(),
	})
}

// handleStatus returns the current controller state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

// handleEvents returns recent events, oldest first.
// ?kind= filters by kind prefix ("tacton" matches every tacton.* event)
// and ?limit= keeps only the newest n.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	all := s.history.Snapshot()

	kind := c.Query("kind")
	out := make([]events.Event, 0, len(all))
	for _, e := range all {
		if kind == "" || string(e.Kind) == kind || strings.HasPrefix(string(e.Kind), kind+".") {
			out = append(out, e)
		}
	}

	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "limit must not be negative")
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return c.JSON(out)
}

// handleTable returns the priority table, most urgent first.
func (s *Server) handleTable(c *fiber.Ctx) error {
	if s.src.Dispatcher == nil {
		return fiber.NewError(fiber.StatusNotFound, "no dispatcher")
	}
	table := s.src.Dispatcher.Table()
	rows := make([]TableEntry, 0, len(table))
	for _, label := range table.Labels() {
		rows = append(rows, TableEntry{Label: label, Entry: table[label]})
	}
	return c.JSON(rows)
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	st := s.Status()
	var b strings.Builder
	metric := func(name, kind, help string, v any) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, v)
	}
	metric("tacton_clients", "gauge", "Connected dashboard clients", st.Clients)
	if st.Tacton != nil {
		metric("tacton_dispatched_total", "counter", "Tactons played", st.Tacton.Dispatched)
		metric("tacton_failed_total", "counter", "Tactons aborted by actuator errors", st.Tacton.Failed)
		metric("tacton_cooling_down_total", "counter", "Dispatches skipped by the cooldown", st.Tacton.CoolingDown)
		metric("tacton_busy_total", "counter", "Dispatches skipped while an actuator was busy", st.Tacton.Busy)
	}
	if st.Click != nil {
		metric("tacton_click_pulses_total", "counter", "Click pulses started", st.Click.Pulses)
		metric("tacton_click_shortened_total", "counter", "Click pulses shortened", st.Click.Shortened)
		metric("tacton_click_blocked_total", "counter", "Click requests dropped while a tacton held the actuator", st.Click.Blocked)
	}
	if st.Scheduler != nil {
		metric("tacton_subtasks_failed_total", "counter", "Sub-tasks that returned an error", st.Scheduler.Failed)
	}
	if st.Bus != nil {
		metric("tacton_bus_errors_total", "counter", "Actuator bus errors", st.Bus.Errors)
		metric("tacton_bus_conflicts_total", "counter", "Channel claims refused", st.Bus.Conflicts)
	}
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(b.String())
}

// handleEventsWS replays the history, then streams live events.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	history := s.history.Snapshot()
	greeting := make([][]byte, 0, len(history))
	for _, e := range history {
		greeting = append(greeting, mustJSON(e))
	}
	s.eventHub.Serve(c, greeting...)
}

// handleStatusWS sends the current status, then periodic updates.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	s.statusHub.Serve(c, mustJSON(s.Status()))
}
