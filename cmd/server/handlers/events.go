// Package handlers implements the REST surface spec.md §6 names, echo
// handlers over the container's internal/* components, grounded on the
// teacher's cmd/orchestrator/handlers style (thin echo.Context adapters,
// errors surfaced via echo.NewHTTPError, c.Bind for request bodies).
package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/cmd/server/container"
	"github.com/noetl/noetl/common/ratelimit"
	"github.com/noetl/noetl/internal/broker"
	"github.com/noetl/noetl/internal/model"
)

// EventHandler implements POST /events and GET /events/by-execution/{id}.
type EventHandler struct {
	c *container.Container
}

func NewEventHandler(c *container.Container) *EventHandler {
	return &EventHandler{c: c}
}

// Emit handles POST /events: records the event, then triggers one broker
// evaluation pass for its execution (spec.md §6 "Emit event; triggers
// broker evaluation").
func (h *EventHandler) Emit(c echo.Context) error {
	var e model.Event
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event body")
	}
	if e.ExecutionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "execution_id required")
	}
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}

	ctx := c.Request().Context()

	if e.EventType == model.EventExecutionStart {
		if allowed, err := h.admitExecutionStart(ctx, c, e); err != nil {
			h.c.Components.Logger.Error("tiered rate limit check failed", "execution_id", e.ExecutionID, "error", err)
		} else if !allowed.Allowed {
			return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
				"error":   "workflow_tier_rate_limit_exceeded",
				"message": "Too many workflows of this complexity tier. Please try again later.",
				"details": map[string]interface{}{
					"limit":               allowed.Limit,
					"window":              "60 seconds",
					"retry_after_seconds": allowed.RetryAfterSeconds,
				},
			})
		}
	}

	// PubEvents.Emit records the event (and, for action_error events, the
	// error_log row alongside it — eventlog.Store.Emit's own job per
	// spec.md §4.A, not this handler's) before publishing it to SSE
	// subscribers, so a worker reporting over POST /events gets the same
	// error_log bookkeeping a directly-embedded Store.Emit call would.
	if err := h.c.PubEvents.Emit(ctx, e); err != nil {
		h.c.Components.Logger.Error("event emit failed", "execution_id", e.ExecutionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record event")
	}

	outcome, err := h.c.Evaluator.Evaluate(ctx, e.ExecutionID)
	if err != nil {
		h.c.Components.Logger.Error("broker evaluate failed", "execution_id", e.ExecutionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "event recorded but broker evaluation failed")
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"event_id": e.EventID,
		"outcome":  outcome,
	})
}

// admitExecutionStart applies a per-user, per-complexity-tier rate limit
// (spec.md §4.G) before an execution_start event is admitted: a playbook
// with several loop steps can fan out far more queue work than its single
// event suggests, so it draws down a separate, tighter counter than a
// loop-free playbook. Fails open (allowed=true) when the playbook can't be
// resolved or the limiter itself errors, matching the global/per-user
// middleware's fail-open-for-availability behavior.
func (h *EventHandler) admitExecutionStart(ctx context.Context, c echo.Context, e model.Event) (*ratelimit.RateLimitResult, error) {
	path, version := broker.PlaybookRef(e)
	if path == "" {
		return &ratelimit.RateLimitResult{Allowed: true}, nil
	}

	pb, err := h.c.Catalog.Fetch(ctx, path, version)
	if err != nil {
		return &ratelimit.RateLimitResult{Allowed: true}, nil
	}

	profile := ratelimit.InspectWorkflow(pb)

	username, _ := c.Get("username").(string)
	if username == "" {
		username = "anonymous"
	}

	return h.c.RateLimiter.CheckTieredLimit(ctx, username, profile.Tier)
}

// ListByExecution handles GET /events/by-execution/{id}.
func (h *EventHandler) ListByExecution(c echo.Context) error {
	executionID := c.Param("id")
	events, err := h.c.Events.GetEvents(c.Request().Context(), executionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list events")
	}
	return c.JSON(http.StatusOK, events)
}
