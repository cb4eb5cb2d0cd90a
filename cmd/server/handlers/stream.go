package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/cmd/server/container"
	"github.com/noetl/noetl/internal/eventbus"
)

// StreamHandler implements GET /executions/{id}/stream (SPEC_FULL.md §3.6).
type StreamHandler struct {
	c *container.Container
}

func NewStreamHandler(c *container.Container) *StreamHandler {
	return &StreamHandler{c: c}
}

// Stream upgrades the request to a server-sent-events stream of the
// execution's published events. Blocks until the client disconnects.
func (h *StreamHandler) Stream(c echo.Context) error {
	executionID := c.Param("id")
	if err := eventbus.ServeSSE(h.c.Hub, executionID, c.Response().Writer, c.Request()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "stream failed")
	}
	return nil
}
