package worker

import (
	"context"

	"github.com/noetl/noetl/internal/value"
)

// Dispatcher lets the sub-playbook executor kick off a nested execution
// without internal/worker/executors depending on internal/eventlog or
// internal/broker directly. cmd/worker wires the concrete implementation
// (emit an execution_start event, which the broker picks up on its next
// evaluation exactly like any other execution).
type Dispatcher interface {
	StartExecution(ctx context.Context, path, version string, workload value.Value) (executionID string, err error)
}
