package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	e := model.Event{
		EventID:     "e1",
		ExecutionID: "exec1",
		EventType:   model.EventActionCompleted,
		Status:      model.StatusCompleted,
		NodeName:    "a",
		Timestamp:   time.Now(),
	}

	require.NoError(t, s.Emit(ctx, e))
	require.NoError(t, s.Emit(ctx, e))

	events, err := s.GetEvents(ctx, "exec1")
	require.NoError(t, err)
	assert.Len(t, events, 1, "duplicate emit of the same event_id must not duplicate the log")
}

func TestGetLatestByStepLatestTimestampWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.Emit(ctx, model.Event{
		EventID: "e1", ExecutionID: "exec1", NodeName: "a",
		Status: model.StatusRunning, Timestamp: base,
	}))
	require.NoError(t, s.Emit(ctx, model.Event{
		EventID: "e2", ExecutionID: "exec1", NodeName: "a",
		Status: model.StatusCompleted, Timestamp: base.Add(time.Second),
		OutputResult: value.Int(42),
	}))

	latest, ok, err := s.GetLatestByStep(ctx, "exec1", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, latest.Status)
}

func TestFindErrorReturnsEarliestFailure(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.Emit(ctx, model.Event{
		EventID: "e1", ExecutionID: "exec1", NodeName: "a",
		Status: model.StatusFailed, Timestamp: base, Error: "boom",
	}))
	require.NoError(t, s.Emit(ctx, model.Event{
		EventID: "e2", ExecutionID: "exec1", NodeName: "b",
		Status: model.StatusFailed, Timestamp: base.Add(time.Second), Error: "later",
	}))

	errEvent, ok, err := s.FindError(ctx, "exec1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "e1", errEvent.EventID)
}

func TestExecutionStartCreatesExecution(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, model.Event{
		EventID: "e1", ExecutionID: "exec1", EventType: model.EventExecutionStart,
		Status: model.StatusRunning, Timestamp: time.Now(),
		InputContext: value.Map(map[string]value.Value{
			"n": value.Int(2), "path": value.String("playbooks/demo"), "version": value.String("v2"),
		}),
	}))

	exec, ok, err := s.GetExecution(ctx, "exec1")
	require.NoError(t, err)
	require.True(t, ok)
	n, _ := exec.Workload.Get("n")
	i, _ := n.Int()
	assert.Equal(t, int64(2), i)
	assert.Equal(t, "playbooks/demo", exec.PlaybookPath)
	assert.Equal(t, "v2", exec.PlaybookVersion)
}

func TestExecutionStartFallsBackToMetadataForPlaybookRef(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, model.Event{
		EventID: "e1", ExecutionID: "exec1", EventType: model.EventExecutionStart,
		Status: model.StatusRunning, Timestamp: time.Now(),
		Metadata: value.Map(map[string]value.Value{
			"playbook_path": value.String("playbooks/legacy"), "resource_version": value.String("v1"),
		}),
	}))

	exec, ok, err := s.GetExecution(ctx, "exec1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "playbooks/legacy", exec.PlaybookPath)
	assert.Equal(t, "v1", exec.PlaybookVersion)
}
