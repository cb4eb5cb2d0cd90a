package main

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/value"
	"github.com/noetl/noetl/internal/worker"
)

// execDispatcher implements worker.Dispatcher by emitting an execution_start
// event and letting the broker drive it forward exactly like any other
// execution (internal/worker/executors/subplaybook.go's grounding comment:
// "the broker treats the nested run exactly like any other"). This keeps
// nested playbook execution on the same codepath as a top-level run instead
// of growing a parallel one. events is a worker.EventSink (the same HTTP
// POST /events client the runtime reports through, not a direct
// eventlog.Store), so the nested execution's first evaluation is triggered
// the same way every other event emission is.
type execDispatcher struct {
	events worker.EventSink
}

func newExecDispatcher(events worker.EventSink) *execDispatcher {
	return &execDispatcher{events: events}
}

func (d *execDispatcher) StartExecution(ctx context.Context, path, version string, workload value.Value) (string, error) {
	executionID := uuid.New().String()
	inputContext := value.Map(map[string]value.Value{
		"path":     value.String(path),
		"version":  value.String(version),
		"workload": workload,
	})
	metadata := value.Map(map[string]value.Value{
		"playbook_path":    value.String(path),
		"resource_version": value.String(version),
	})
	event := model.Event{
		EventID:      uuid.New().String(),
		ExecutionID:  executionID,
		Timestamp:    time.Now(),
		EventType:    model.EventExecutionStart,
		Status:       model.StatusRunning,
		InputContext: inputContext,
		Metadata:     metadata,
	}
	if err := d.events.Emit(ctx, event); err != nil {
		return "", err
	}
	return executionID, nil
}
