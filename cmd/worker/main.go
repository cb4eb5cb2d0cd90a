// Command noetl-worker runs the Worker Runtime (spec.md §4.H): a leasing
// loop that pulls jobs off the Work Queue, dispatches them to a typed
// action executor, and reports the outcome back as events.
//
// Grounded on the teacher's cmd/workflow-runner/main.go bootstrap/goroutine/
// errChan/signal shape, trimmed of its Redis-stream choreography (SDK,
// coordinator, supervisors) since this module's queue contract is the
// Work Queue (spec.md §4.B) rather than a Redis stream.
//
// Event reporting goes over HTTP to cmd/server's POST /events rather than
// straight to an eventlog.Store: that handler is the only place a broker
// evaluation pass is triggered (spec.md §6 "Emit event; triggers broker
// evaluation", §4.B "complete() schedules broker re-evaluation"), and this
// worker runs as its own process/replica set, not embedded in cmd/server.
// Writing events directly to the store without going through that handler
// would report outcomes that the broker is never asked to look at again.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/noetl/noetl/common/bootstrap"
	"github.com/noetl/noetl/internal/cas"
	"github.com/noetl/noetl/internal/clients"
	"github.com/noetl/noetl/internal/worker"
	"github.com/noetl/noetl/internal/worker/executors"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "noetl-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap noetl-worker: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	components.Logger.Info("noetl-worker starting")

	var casStore cas.Store
	switch components.Config.Queue.Type {
	case "postgres":
		casStore = cas.NewPostgresStore(components.DB)
	default:
		casStore = cas.NewMemoryStore()
	}

	serverURL := getEnv("NOETL_SERVER_URL", "http://localhost:8080")
	events := clients.NewEventClient(serverURL, &http.Client{Timeout: 30 * time.Second}, components.Logger)

	httpExecutor := executors.NewHTTPExecutor(&http.Client{Timeout: 30 * time.Second})
	if credentialURL := getEnv("CREDENTIAL_URL", ""); credentialURL != "" {
		credentialClient := clients.NewCredentialClient(credentialURL, &http.Client{Timeout: 10 * time.Second}, components.Logger)
		httpExecutor = httpExecutor.WithCredentials(credentialClient)
	}

	registry := worker.NewRegistry()
	registry.Register("http", httpExecutor)
	registry.Register("sql", executors.NewSQLExecutor())
	registry.Register("postgres", executors.NewSQLExecutor())
	registry.Register("code", executors.NewCodeExecutor(5*time.Minute))
	registry.Register("transfer", executors.NewTransferExecutor(http.DefaultClient))

	dispatcher := newExecDispatcher(events)
	registry.Register("playbook", executors.NewSubPlaybookExecutor(dispatcher))
	registry.Register("subplaybook", executors.NewSubPlaybookExecutor(dispatcher))

	executorURL := getEnv("EXECUTOR_URL", "")
	if executorURL != "" {
		remote := clients.NewRemoteExecutor(executorURL, &http.Client{Timeout: 60 * time.Second}, components.Logger)
		registry.Register("remote", &remoteExecutorAdapter{remote: remote})
	}

	runtime := worker.NewRuntime(components.Queue, events, registry, components.Logger).
		WithHeartbeatInterval(10 * time.Second).
		WithCAS(casStore, 0)

	workerID := getEnv("WORKER_ID", "worker-"+uuid.New().String())
	leaseSeconds := 30
	pollBackoff := 2 * time.Second

	errChan := make(chan error, 1)
	go func() {
		components.Logger.Info("starting worker runtime", "worker_id", workerID)
		runtime.Run(ctx, workerID, leaseSeconds, pollBackoff)
		errChan <- nil
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			components.Logger.Error("worker runtime stopped with error", "error", err)
			os.Exit(1)
		}
	case sig := <-sigChan:
		components.Logger.Info("received shutdown signal", "signal", sig)
		cancel()
		<-errChan
	}

	components.Logger.Info("noetl-worker shutting down gracefully")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
