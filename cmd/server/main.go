package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/noetl/noetl/cmd/server/container"
	"github.com/noetl/noetl/cmd/server/routes"
	"github.com/noetl/noetl/common/bootstrap"
	"github.com/noetl/noetl/internal/queue"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "noetl-server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap noetl-server: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	c, err := container.New(components, components.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize container: %v\n", err)
		os.Exit(1)
	}

	go c.Hub.Run()
	go func() {
		if err := c.Subscriber.Start(ctx); err != nil && ctx.Err() == nil {
			components.Logger.Error("redis subscriber stopped", "error", err)
		}
	}()
	go queue.NewReaper(c.Queue, components.Logger).Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	e.GET("/health", func(ec echo.Context) error {
		return ec.JSON(200, map[string]string{"status": "ok", "service": "noetl-server"})
	})

	routes.Register(e, c)

	port := components.Config.Service.Port
	components.Logger.Info("starting noetl-server", "port", port)
	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
