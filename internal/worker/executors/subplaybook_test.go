package executors

import (
	"context"
	"errors"
	"testing"

	"github.com/noetl/noetl/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDispatcher struct {
	executionID string
	err         error
	gotPath     string
	gotVersion  string
	gotWorkload value.Value
}

func (d *stubDispatcher) StartExecution(ctx context.Context, path, version string, workload value.Value) (string, error) {
	d.gotPath, d.gotVersion, d.gotWorkload = path, version, workload
	return d.executionID, d.err
}

func TestSubPlaybookExecutorStartsNestedExecution(t *testing.T) {
	d := &stubDispatcher{executionID: "exec-42"}
	e := NewSubPlaybookExecutor(d)

	with := value.Map(map[string]value.Value{
		"path":     value.String("playbooks/child.yaml"),
		"version":  value.String("3"),
		"workload": value.Map(map[string]value.Value{"n": value.Int(1)}),
	})
	result, err := e.Execute(context.Background(), value.Null(), with)
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)

	id, ok := result.Data.Get("execution_id")
	require.True(t, ok)
	assert.Equal(t, "exec-42", id.String())
	assert.Equal(t, "playbooks/child.yaml", d.gotPath)
	assert.Equal(t, "3", d.gotVersion)
}

func TestSubPlaybookExecutorErrorsOnMissingPath(t *testing.T) {
	e := NewSubPlaybookExecutor(&stubDispatcher{})
	result, err := e.Execute(context.Background(), value.Null(), value.Map(map[string]value.Value{}))
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
	assert.False(t, result.Retryable)
}

func TestSubPlaybookExecutorPropagatesDispatchError(t *testing.T) {
	d := &stubDispatcher{err: errors.New("boom")}
	e := NewSubPlaybookExecutor(d)
	with := value.Map(map[string]value.Value{"path": value.String("p")})
	result, err := e.Execute(context.Background(), value.Null(), with)
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
	assert.True(t, result.Retryable)
}
