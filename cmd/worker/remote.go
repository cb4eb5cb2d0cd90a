package main

import (
	"context"

	"github.com/noetl/noetl/internal/clients"
	"github.com/noetl/noetl/internal/value"
	"github.com/noetl/noetl/internal/worker"
)

// remoteExecutorAdapter registers clients.RemoteExecutor into a
// worker.Registry under the "remote" action type, so a playbook step can
// delegate to an external executor service (spec.md §6's consumed
// executor interface) instead of one of the built-in typed executors.
// Translates between clients.ExecutorResult and worker.ExecutionResult,
// the only difference between the two collaborator shapes.
type remoteExecutorAdapter struct {
	remote *clients.RemoteExecutor
}

func (a *remoteExecutorAdapter) Execute(ctx context.Context, actionSpec, with value.Value) (worker.ExecutionResult, error) {
	result, err := a.remote.Execute(ctx, actionSpec, with)
	if err != nil {
		return worker.ExecutionResult{Status: "error", Error: err.Error(), Retryable: true}, nil
	}
	return worker.ExecutionResult{
		ID:        result.ID,
		Status:    result.Status,
		Data:      result.Data,
		Error:     result.Error,
		Traceback: result.Traceback,
		Retryable: result.Status == "error",
	}, nil
}
