package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/cmd/server/container"
	"github.com/noetl/noetl/internal/broker"
	"github.com/noetl/noetl/internal/render"
	"github.com/noetl/noetl/internal/value"
)

// ContextHandler implements POST /context/render.
type ContextHandler struct {
	c *container.Container
}

func NewContextHandler(c *container.Container) *ContextHandler {
	return &ContextHandler{c: c}
}

type renderRequest struct {
	ExecutionID   string      `json:"execution_id"`
	Template      string      `json:"template"`
	ExtraContext  value.Value `json:"extra_context"`
	Strict        bool        `json:"strict"`
}

// Render handles POST /context/render: builds the execution's current
// context (spec.md §4.C) and evaluates template against it (spec.md §4.D).
func (h *ContextHandler) Render(c echo.Context) error {
	var req renderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if req.ExecutionID == "" || req.Template == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "execution_id and template required")
	}

	ctx := c.Request().Context()
	exec, ok, err := h.c.Events.GetExecution(ctx, req.ExecutionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load execution")
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	}

	pb, err := h.c.Catalog.Fetch(ctx, exec.PlaybookPath, exec.PlaybookVersion)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch playbook")
	}
	aliases := broker.WorkbookAliases(pb)

	extra := req.ExtraContext
	if extra.IsNull() {
		extra = value.Map(nil)
	}
	ctxValue, err := h.c.Builder.Build(ctx, req.ExecutionID, aliases, extra)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build context")
	}

	mode := render.Lenient
	if req.Strict {
		mode = render.Strict
	}
	rendered, err := h.c.Renderer.RenderString(req.Template, ctxValue, mode)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"rendered":     rendered.Native(),
		"context_keys": ctxValue.Keys(),
	})
}
