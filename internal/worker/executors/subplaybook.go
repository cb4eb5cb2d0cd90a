package executors

import (
	"context"
	"fmt"

	"github.com/noetl/noetl/internal/value"
	"github.com/noetl/noetl/internal/worker"
)

// SubPlaybookExecutor runs the "playbook"/"subplaybook" action type: it
// starts a nested execution of another catalog entry and returns once that
// execution has been accepted (spec.md never gives sub-playbook dispatch a
// separate code path from a top-level execution_start — the broker treats
// the nested run exactly like any other, driving it to completion on its
// own schedule). Grounded on
// original_source/noetl/plugin/controller/playbook/loader.py's
// get_playbook_path (`path`/`playbook_path`/`resource_path` field
// precedence, simplified here to `path`) and the catalog-entry shape
// spec.md §6 names (path, version, workload), wired through
// worker.Dispatcher so this package never imports internal/broker or
// internal/eventlog directly.
type SubPlaybookExecutor struct {
	dispatcher worker.Dispatcher
}

func NewSubPlaybookExecutor(dispatcher worker.Dispatcher) *SubPlaybookExecutor {
	return &SubPlaybookExecutor{dispatcher: dispatcher}
}

func (e *SubPlaybookExecutor) Execute(ctx context.Context, actionSpec, with value.Value) (worker.ExecutionResult, error) {
	path := firstNonEmpty(stringField(with, "path"), stringField(actionSpec, "path"))
	if path == "" {
		return worker.ExecutionResult{Status: "error", Error: "subplaybook: missing path", Retryable: false}, nil
	}
	version := firstNonEmpty(stringField(with, "version"), stringField(actionSpec, "version"))

	workload, ok := with.Get("workload")
	if !ok {
		workload = value.Map(map[string]value.Value{})
	}

	executionID, err := e.dispatcher.StartExecution(ctx, path, version, workload)
	if err != nil {
		return worker.ExecutionResult{Status: "error", Error: fmt.Sprintf("subplaybook: start execution: %v", err), Retryable: true}, nil
	}

	data := value.Map(map[string]value.Value{
		"execution_id": value.String(executionID),
		"path":         value.String(path),
	})
	return worker.ExecutionResult{Status: "success", Data: data}, nil
}
