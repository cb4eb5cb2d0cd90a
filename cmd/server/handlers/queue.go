package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/cmd/server/container"
	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/value"
)

// QueueHandler implements the /queue/* administrative and worker-facing
// endpoints (spec.md §6).
type QueueHandler struct {
	c *container.Container
}

func NewQueueHandler(c *container.Container) *QueueHandler {
	return &QueueHandler{c: c}
}

type enqueueRequest struct {
	ExecutionID   string      `json:"execution_id"`
	NodeID        string      `json:"node_id"`
	NodeName      string      `json:"node_name"`
	Action        value.Value `json:"action"`
	Context       value.Value `json:"context"`
	Priority      int         `json:"priority"`
	MaxAttempts   int         `json:"max_attempts"`
	AvailableAt   *time.Time  `json:"available_at"`
}

// Enqueue handles POST /queue/enqueue.
func (h *QueueHandler) Enqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if req.ExecutionID == "" || req.NodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "execution_id and node_id required")
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = 5
	}
	availableAt := time.Now().UTC()
	if req.AvailableAt != nil {
		availableAt = *req.AvailableAt
	}

	id, err := h.c.Queue.Enqueue(c.Request().Context(), queue.EnqueueRequest{
		ExecutionID:  req.ExecutionID,
		NodeID:       req.NodeID,
		NodeName:     req.NodeName,
		Action:       req.Action,
		InputContext: req.Context,
		Priority:     req.Priority,
		MaxAttempts:  req.MaxAttempts,
		AvailableAt:  availableAt,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to enqueue")
	}
	return c.JSON(http.StatusOK, map[string]int64{"id": id})
}

type leaseRequest struct {
	WorkerID     string `json:"worker_id"`
	LeaseSeconds int    `json:"lease_seconds"`
}

// Lease handles POST /queue/lease.
func (h *QueueHandler) Lease(c echo.Context) error {
	var req leaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if req.LeaseSeconds <= 0 {
		req.LeaseSeconds = 60
	}

	job, err := h.c.Queue.Lease(c.Request().Context(), req.WorkerID, req.LeaseSeconds)
	if err != nil {
		if err == queue.ErrEmpty {
			return c.JSON(http.StatusOK, map[string]bool{"empty": true})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to lease")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"job": job})
}

// Complete handles POST /queue/{id}/complete.
func (h *QueueHandler) Complete(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid queue id")
	}
	if err := h.c.Queue.Complete(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to complete job")
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type failRequest struct {
	Retry            bool `json:"retry"`
	RetryDelaySeconds int  `json:"retry_delay_seconds"`
	LastError        string `json:"last_error"`
}

// Fail handles POST /queue/{id}/fail.
func (h *QueueHandler) Fail(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid queue id")
	}
	var req failRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	delay := time.Duration(req.RetryDelaySeconds) * time.Second
	if err := h.c.Queue.Fail(c.Request().Context(), id, req.Retry, delay, req.LastError); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fail job")
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type heartbeatRequest struct {
	WorkerID      string `json:"worker_id"`
	ExtendSeconds int    `json:"extend_seconds"`
}

// Heartbeat handles POST /queue/{id}/heartbeat.
func (h *QueueHandler) Heartbeat(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid queue id")
	}
	var req heartbeatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if req.ExtendSeconds <= 0 {
		req.ExtendSeconds = 60
	}

	extend := time.Duration(req.ExtendSeconds) * time.Second
	if err := h.c.Queue.Heartbeat(c.Request().Context(), id, req.WorkerID, extend); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to extend lease")
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// ReapExpired handles POST /queue/reap-expired.
func (h *QueueHandler) ReapExpired(c echo.Context) error {
	n, err := h.c.Queue.ReapExpired(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to reap expired leases")
	}
	return c.JSON(http.StatusOK, map[string]int{"reclaimed": n})
}

// List handles GET /queue?status=....
func (h *QueueHandler) List(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	status := model.QueueStatus(c.QueryParam("status"))

	jobs, err := h.c.Queue.List(c.Request().Context(), status, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list queue")
	}
	return c.JSON(http.StatusOK, jobs)
}
