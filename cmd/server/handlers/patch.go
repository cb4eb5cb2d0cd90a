package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/cmd/server/container"
	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/patch"
)

// PatchHandler implements POST /executions/{id}/patch (SPEC_FULL.md §3.1).
type PatchHandler struct {
	c *container.Container
}

func NewPatchHandler(c *container.Container) *PatchHandler {
	return &PatchHandler{c: c}
}

type patchRequest struct {
	Operations  json.RawMessage `json:"operations"`
	Description string          `json:"description"`
	CreatedBy   string          `json:"created_by"`
}

// Submit validates a JSON Patch document against the execution's
// currently-effective playbook (base playbook with every prior patch in
// the chain replayed), stores it, and lets the next broker evaluation pick
// it up via Evaluator.Evaluate's reload-if-patched hook.
func (h *PatchHandler) Submit(c echo.Context) error {
	executionID := c.Param("id")

	var req patchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	ctx := c.Request().Context()
	exec, ok, err := h.c.Events.GetExecution(ctx, executionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load execution")
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	}

	basePb, err := h.c.Catalog.Fetch(ctx, exec.PlaybookPath, exec.PlaybookVersion)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch playbook")
	}

	chain, err := h.c.Patches.List(ctx, executionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load patch chain")
	}
	currentPb := basePb
	if len(chain) > 0 {
		currentPb, err = patch.Apply(basePb, chain)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to replay patch chain")
		}
	}

	ops, err := patch.ParseOperations(req.Operations)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	events, err := h.c.Events.GetEvents(ctx, executionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load events")
	}
	completed := map[string]bool{}
	for _, e := range events {
		if e.Status == model.StatusCompleted && (e.EventType == model.EventActionCompleted || e.EventType == model.EventResult) {
			completed[e.NodeName] = true
		}
	}

	if err := h.c.Validator.Validate(ops, currentPb, completed); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	record, err := h.c.Patches.Append(ctx, executionID, req.Operations, req.Description, req.CreatedBy)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store patch")
	}

	outcome, err := h.c.Evaluator.Evaluate(ctx, executionID)
	if err != nil {
		h.c.Components.Logger.Warn("broker evaluate after patch failed", "execution_id", executionID, "error", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"patch":   record,
		"outcome": outcome,
	})
}
