// Package container is the composition root for cmd/server: it wires every
// internal/* kernel package into the concrete collaborators the REST
// surface (spec.md §6) needs, the way the teacher's
// cmd/orchestrator/container.Container wires its repositories and
// services bottom-up from bootstrap.Components.
package container

import (
	"fmt"
	"net/http"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/noetl/noetl/common/bootstrap"
	noetlredis "github.com/noetl/noetl/common/redis"
	"github.com/noetl/noetl/common/ratelimit"
	"github.com/noetl/noetl/internal/broker"
	"github.com/noetl/noetl/internal/cas"
	"github.com/noetl/noetl/internal/clients"
	ctxbuild "github.com/noetl/noetl/internal/context"
	"github.com/noetl/noetl/internal/eventbus"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/patch"
	"github.com/noetl/noetl/internal/playbook"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/render"
)

// Container holds every component a handler needs, initialized once at
// startup (singleton pattern, mirroring the teacher's Container).
type Container struct {
	Components *bootstrap.Components
	Redis      *goredis.Client

	Events    eventlog.Store
	PubEvents eventlog.Store // Events wrapped in eventbus.PublishingStore; what handlers should Emit through
	Queue     queue.Store
	CAS       cas.Store
	Patches   patch.Store

	Catalog      broker.Catalog
	Materializer playbook.Materializer
	Builder      *ctxbuild.Builder
	Renderer     *render.Renderer
	Evaluator    *broker.Evaluator
	Validator    *patch.Validator

	Hub        *eventbus.Hub
	Subscriber *eventbus.RedisSubscriber

	RateLimiter *ratelimit.RateLimiter
}

// New wires the container. It uses components.Config.Queue.Type ("memory"
// or "postgres") as the one knob that selects every durable store's
// backend, not just the work queue's: there is exactly one persistence
// tier in this deployment, so the distinction that matters is "tests"
// versus "production", and QueueConfig.Type already names that.
func New(components *bootstrap.Components, log Logger) (*Container, error) {
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%s", getEnv("REDIS_HOST", "localhost"), getEnv("REDIS_PORT", "6379")),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	wrappedRedis := noetlredis.NewClient(redisClient, log)

	var events eventlog.Store
	var casStore cas.Store
	var patchStore patch.Store
	var materializer playbook.Materializer

	switch components.Config.Queue.Type {
	case "postgres":
		if components.DB == nil {
			return nil, fmt.Errorf("container: postgres backend requires the database component")
		}
		events = eventlog.NewPostgresStore(components.DB)
		casStore = cas.NewPostgresStore(components.DB)
		patchStore = patch.NewPostgresStore(components.DB)
		materializer = playbook.NewPostgresMaterializer(components.DB)
	default:
		events = eventlog.NewMemoryStore()
		casStore = cas.NewMemoryStore()
		patchStore = patch.NewMemoryStore()
		materializer = &playbook.MemoryMaterializer{}
	}

	publisher := eventbus.NewPublishingStore(events, wrappedRedis)

	cache := ctxbuild.NewRedisCache(wrappedRedis, 30*time.Second)
	builder := ctxbuild.NewBuilder(publisher, cache).WithCAS(casStore)
	renderer := render.New()

	catalogURL := getEnv("CATALOG_URL", "http://localhost:8081")
	catalog := clients.NewCatalogClient(catalogURL, &http.Client{Timeout: 10 * time.Second}, log)

	evaluator := broker.New(publisher, components.Queue, builder, renderer, catalog, materializer, log).WithPatches(patchStore)

	hub := eventbus.NewHub()
	subscriber := eventbus.NewRedisSubscriber(redisClient, hub)

	rateLimiter := ratelimit.NewRateLimiter(redisClient, log)

	c := &Container{
		Components:   components,
		Redis:        redisClient,
		Events:       events,
		PubEvents:    publisher,
		Queue:        components.Queue,
		CAS:          casStore,
		Patches:      patchStore,
		Catalog:      catalog,
		Materializer: materializer,
		Builder:      builder,
		Renderer:     renderer,
		Evaluator:    evaluator,
		Validator:    patch.NewValidator(),
		Hub:          hub,
		Subscriber:   subscriber,
		RateLimiter:  rateLimiter,
	}

	return c, nil
}

// Logger is the structured-logging interface every internal/* package
// depends on (broker.Logger, clients.Logger, ratelimit.Logger,
// common/redis.Logger all share this shape); *common/logger.Logger
// satisfies it.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
