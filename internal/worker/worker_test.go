package worker

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/noetl/noetl/internal/cas"
	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct {
	result ExecutionResult
	err    error
	calls  int
	mu     sync.Mutex
}

func (s *stubExecutor) Execute(ctx context.Context, actionSpec, with value.Value) (ExecutionResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.result, s.err
}

type recordingEventSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *recordingEventSink) Emit(ctx context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingEventSink) eventsOfType(t model.EventType) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, e := range s.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

func TestRuntimeCompletesSuccessfulJob(t *testing.T) {
	q := queue.NewMemoryStore()
	events := &recordingEventSink{}
	exec := &stubExecutor{result: ExecutionResult{ID: "r1", Status: "success", Data: value.Int(42)}}

	reg := NewRegistry()
	reg.Register("http", exec)

	rt := NewRuntime(q, events, reg, nil).WithHeartbeatInterval(time.Hour)

	ctx := context.Background()
	_, err := q.Enqueue(ctx, queue.EnqueueRequest{
		ExecutionID: "exec1", NodeID: "exec1-step-1",
		Action:       value.Map(map[string]value.Value{"type": value.String("http")}),
		InputContext: value.Map(map[string]value.Value{"url": value.String("https://example.com")}),
	})
	require.NoError(t, err)

	job, err := q.Lease(ctx, "w1", 30)
	require.NoError(t, err)
	rt.processJob(ctx, "w1", job, 30)

	assert.Equal(t, 1, exec.calls)

	completed := events.eventsOfType(model.EventActionCompleted)
	require.Len(t, completed, 1)
	n, ok := completed[0].OutputResult.Int()
	require.True(t, ok)
	assert.Equal(t, int64(42), n)

	storedJob, ok, err := q.Get(ctx, job.QueueID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.QueueDone, storedJob.Status)
}

func TestRuntimeOffloadsLargeResultThroughCAS(t *testing.T) {
	q := queue.NewMemoryStore()
	events := &recordingEventSink{}
	casStore := cas.NewMemoryStore()

	large := value.String(strings.Repeat("x", 64))
	exec := &stubExecutor{result: ExecutionResult{Status: "success", Data: large}}

	reg := NewRegistry()
	reg.Register("http", exec)

	rt := NewRuntime(q, events, reg, nil).WithHeartbeatInterval(time.Hour).WithCAS(casStore, 16)

	ctx := context.Background()
	_, err := q.Enqueue(ctx, queue.EnqueueRequest{
		ExecutionID: "exec2", NodeID: "exec2-step-1",
		Action: value.Map(map[string]value.Value{"type": value.String("http")}),
	})
	require.NoError(t, err)

	job, err := q.Lease(ctx, "w1", 30)
	require.NoError(t, err)
	rt.processJob(ctx, "w1", job, 30)

	completed := events.eventsOfType(model.EventActionCompleted)
	require.Len(t, completed, 1)

	resolved, err := cas.Resolve(ctx, casStore, completed[0].OutputResult)
	require.NoError(t, err)
	assert.Equal(t, large.Native(), resolved.Native())
}

func TestRuntimeRetriesTransientFailureThenDeadLetters(t *testing.T) {
	q := queue.NewMemoryStore()
	events := &recordingEventSink{}
	exec := &stubExecutor{result: ExecutionResult{Status: "error", Error: "timeout", Retryable: true}}

	reg := NewRegistry()
	reg.Register("http", exec)
	rt := NewRuntime(q, events, reg, nil).WithHeartbeatInterval(time.Hour)

	ctx := context.Background()
	_, err := q.Enqueue(ctx, queue.EnqueueRequest{
		ExecutionID: "exec1", NodeID: "exec1-step-1",
		Action: value.Map(map[string]value.Value{"type": value.String("http")}), MaxAttempts: 2,
	})
	require.NoError(t, err)

	job, err := q.Lease(ctx, "w1", 30)
	require.NoError(t, err)
	rt.processJob(ctx, "w1", job, 30)

	storedJob, ok, err := q.Get(ctx, job.QueueID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.QueueQueued, storedJob.Status, "first failure should retry (attempts < max)")

	// The retry is requeued with available_at = now + retryDelay; wait it out.
	time.Sleep(retryDelay(job.Attempts) + 50*time.Millisecond)
	job2, err := q.Lease(ctx, "w1", 30)
	require.NoError(t, err)
	rt.processJob(ctx, "w1", job2, 30)

	storedJob2, ok, err := q.Get(ctx, job.QueueID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.QueueDead, storedJob2.Status, "second failure should exhaust max_attempts")

	errEvents := events.eventsOfType(model.EventActionError)
	require.Len(t, errEvents, 2)
	assert.Equal(t, model.StatusRetrying, errEvents[0].Status, "first attempt still has attempts left, must not look execution-scope failed")
	assert.Equal(t, model.StatusFailed, errEvents[1].Status, "second attempt exhausts max_attempts, now execution-scope failed")
}

func TestRuntimeRetryThenSuccessNeverEmitsExecutionScopeFailed(t *testing.T) {
	q := queue.NewMemoryStore()
	events := &recordingEventSink{}
	exec := &stubExecutor{result: ExecutionResult{Status: "error", Error: "timeout", Retryable: true}}

	reg := NewRegistry()
	reg.Register("http", exec)
	rt := NewRuntime(q, events, reg, nil).WithHeartbeatInterval(time.Hour)

	ctx := context.Background()
	_, err := q.Enqueue(ctx, queue.EnqueueRequest{
		ExecutionID: "exec1", NodeID: "exec1-step-1",
		Action: value.Map(map[string]value.Value{"type": value.String("http")}), MaxAttempts: 3,
	})
	require.NoError(t, err)

	job, err := q.Lease(ctx, "w1", 30)
	require.NoError(t, err)
	rt.processJob(ctx, "w1", job, 30)

	exec.result = ExecutionResult{ID: "r1", Status: "success", Data: value.Int(1)}
	// The retry is requeued with available_at = now + retryDelay; wait it out.
	time.Sleep(retryDelay(job.Attempts) + 50*time.Millisecond)
	job2, err := q.Lease(ctx, "w1", 30)
	require.NoError(t, err)
	rt.processJob(ctx, "w1", job2, 30)

	storedJob, ok, err := q.Get(ctx, job.QueueID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.QueueDone, storedJob.Status)

	for _, e := range events.events {
		assert.NotEqual(t, model.StatusFailed, e.Status, "a retry that ultimately succeeds must never emit an execution-scope failed status")
	}
	require.Len(t, events.eventsOfType(model.EventActionCompleted), 1)
}

func TestDecodeActionSpecUnwrapsBase64Fields(t *testing.T) {
	encoded := "cHJpbnQoJ2hpJyk=" // base64("print('hi')")
	spec := value.Map(map[string]value.Value{
		"type":     value.String("code"),
		"code_b64": value.String(encoded),
	})

	decoded := decodeActionSpec(spec)
	code, ok := decoded.Get("code")
	require.True(t, ok)
	assert.Equal(t, "print('hi')", code.String())
}

func TestRegistryDispatchesByActionType(t *testing.T) {
	httpExec := &stubExecutor{result: ExecutionResult{Status: "success"}}
	sqlExec := &stubExecutor{result: ExecutionResult{Status: "success"}}

	reg := NewRegistry()
	reg.Register("http", httpExec)
	reg.Register("sql", sqlExec)

	_, err := reg.Dispatch(context.Background(), value.Map(map[string]value.Value{"type": value.String("sql")}), value.Null())
	require.NoError(t, err)
	assert.Equal(t, 1, sqlExec.calls)
	assert.Equal(t, 0, httpExec.calls)
}

func TestRegistryErrorsOnUnknownActionType(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Dispatch(context.Background(), value.Map(map[string]value.Value{"type": value.String("unknown")}), value.Null())
	require.Error(t, err)
}
