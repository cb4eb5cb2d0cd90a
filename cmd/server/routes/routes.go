// Package routes registers the REST surface spec.md §6 names (plus the
// SPEC_FULL.md §3.1/§3.6 additions) onto an echo.Echo, grounded on the
// teacher's cmd/orchestrator/routes/run.go grouping style.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/cmd/server/container"
	"github.com/noetl/noetl/cmd/server/handlers"
	commonmiddleware "github.com/noetl/noetl/common/middleware"
)

// Register wires every handler from c onto e.
func Register(e *echo.Echo, c *container.Container) {
	events := handlers.NewEventHandler(c)
	executions := handlers.NewExecutionHandler(c)
	q := handlers.NewQueueHandler(c)
	ctxHandler := handlers.NewContextHandler(c)
	loopHandler := handlers.NewLoopHandler(c)
	patchHandler := handlers.NewPatchHandler(c)
	streamHandler := handlers.NewStreamHandler(c)

	e.Use(commonmiddleware.GlobalRateLimitMiddleware(c.RateLimiter, 1000))

	e.POST("/events", events.Emit)
	e.GET("/events/by-execution/:id", events.ListByExecution)

	e.GET("/executions", executions.List)
	e.GET("/executions/:id", executions.Get)
	e.POST("/executions/:id/patch", patchHandler.Submit)
	e.GET("/executions/:id/stream", streamHandler.Stream)

	e.POST("/queue/enqueue", q.Enqueue)
	e.POST("/queue/lease", q.Lease)
	e.POST("/queue/:id/complete", q.Complete)
	e.POST("/queue/:id/fail", q.Fail)
	e.POST("/queue/:id/heartbeat", q.Heartbeat)
	e.POST("/queue/reap-expired", q.ReapExpired)
	e.GET("/queue", q.List)

	e.POST("/context/render", ctxHandler.Render)

	e.GET("/aggregate/loop/results", loopHandler.Results)
}
