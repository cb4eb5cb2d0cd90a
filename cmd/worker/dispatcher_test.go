package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/value"
)

func TestExecDispatcherEmitsExecutionStart(t *testing.T) {
	events := eventlog.NewMemoryStore()
	d := newExecDispatcher(events)

	ctx := context.Background()
	workload := value.Map(map[string]value.Value{"n": value.Int(1)})
	executionID, err := d.StartExecution(ctx, "playbooks/child", "v1", workload)
	require.NoError(t, err)
	require.NotEmpty(t, executionID)

	exec, ok, err := events.GetExecution(ctx, executionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "playbooks/child", exec.PlaybookPath)
	assert.Equal(t, "v1", exec.PlaybookVersion)
	assert.Equal(t, model.StatusRunning, exec.Status)
}
