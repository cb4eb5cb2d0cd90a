package executors

import (
	"context"
	"testing"
	"time"

	"github.com/noetl/noetl/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeExecutorRunsShellScript(t *testing.T) {
	e := NewCodeExecutor(5 * time.Second)
	with := value.Map(map[string]value.Value{
		"interpreter": value.String("sh"),
		"code":        value.String("echo hello"),
	})
	result, err := e.Execute(context.Background(), value.Null(), with)
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)

	stdout, ok := result.Data.Get("stdout")
	require.True(t, ok)
	assert.Equal(t, "hello\n", stdout.String())
}

func TestCodeExecutorErrorsOnMissingCode(t *testing.T) {
	e := NewCodeExecutor(0)
	result, err := e.Execute(context.Background(), value.Null(), value.Map(map[string]value.Value{}))
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
	assert.False(t, result.Retryable)
}

func TestCodeExecutorNonZeroExitIsRetryable(t *testing.T) {
	e := NewCodeExecutor(5 * time.Second)
	with := value.Map(map[string]value.Value{
		"interpreter": value.String("sh"),
		"code":        value.String("exit 1"),
	})
	result, err := e.Execute(context.Background(), value.Null(), with)
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
	assert.True(t, result.Retryable)
}
