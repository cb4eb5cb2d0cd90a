package broker

import (
	"context"
	"testing"

	ctxbuild "github.com/noetl/noetl/internal/context"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/playbook"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/render"
	"github.com/noetl/noetl/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gatePlaybook = `
workload:
  flag: true
workflow:
  - step: start
    type: start
    next:
      - then: [fetch]
  - step: fetch
    call: fetch_items
    with:
      limit: 10
    next:
      - then: [gate]
  - step: gate
    when: "flag"
    next:
      - then: [loopstep]
  - step: loopstep
    loop:
      iterator: item
      in: "{{ items }}"
    next:
      - then: [process_item]
  - step: process_item
    call: handle_item
    next:
      - then: [aggregate]
  - step: aggregate
    end_loop:
      pointer: loopstep
      result:
        total: "{{ loop_results | to_json }}"
    next:
      - then: [end]
  - step: end
    type: end
workbook:
  - name: fetch_items
    type: http
    with:
      url: "https://example.com/items"
  - name: handle_item
    type: http
    with:
      url: "https://example.com/handle"
`

type testEnv struct {
	events  *eventlog.MemoryStore
	queue   *queue.MemoryStore
	catalog *MemoryCatalog
	eval    *Evaluator
}

func newTestEnv(t *testing.T, yaml string) *testEnv {
	t.Helper()
	pb, err := playbook.Parse("playbooks/gate.yaml", "1", []byte(yaml))
	require.NoError(t, err)

	events := eventlog.NewMemoryStore()
	q := queue.NewMemoryStore()
	builder := ctxbuild.NewBuilder(events, nil)
	r := render.New()
	catalog := NewMemoryCatalog()
	catalog.Put(pb.Path, pb)
	mat := &playbook.MemoryMaterializer{}

	return &testEnv{
		events:  events,
		queue:   q,
		catalog: catalog,
		eval:    New(events, q, builder, r, catalog, mat, nil),
	}
}

func startExecution(t *testing.T, env *testEnv, executionID string, workload value.Value) {
	t.Helper()
	require.NoError(t, env.events.Emit(context.Background(), model.Event{
		EventID:     "start-1",
		ExecutionID: executionID,
		EventType:   model.EventExecutionStart,
		Status:      model.StatusCompleted,
		NodeName:    "start",
		InputContext: value.Map(map[string]value.Value{
			"path":     value.String("playbooks/gate.yaml"),
			"version":  value.String("1"),
			"workload": workload,
		}),
	}))
}

func completeStep(t *testing.T, env *testEnv, executionID, nodeID, stepName string, result value.Value) {
	t.Helper()
	require.NoError(t, env.events.Emit(context.Background(), model.Event{
		EventID:      nodeID + "-done",
		ExecutionID:  executionID,
		EventType:    model.EventActionCompleted,
		Status:       model.StatusCompleted,
		NodeID:       nodeID,
		NodeName:     stepName,
		OutputResult: result,
	}))
}

func TestEvaluateStopsOnFailure(t *testing.T) {
	env := newTestEnv(t, gatePlaybook)
	startExecution(t, env, "exec1", value.Map(nil))
	require.NoError(t, env.events.Emit(context.Background(), model.Event{
		EventID:     "ev-fail",
		ExecutionID: "exec1",
		EventType:   model.EventActionCompleted,
		Status:      model.StatusFailed,
		NodeName:    "fetch",
	}))

	out, err := env.eval.Evaluate(context.Background(), "exec1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, out.Kind)
}

func TestEvaluateDoesNotStopOnRetryingFailure(t *testing.T) {
	env := newTestEnv(t, gatePlaybook)
	startExecution(t, env, "exec1", value.Map(nil))
	require.NoError(t, env.events.Emit(context.Background(), model.Event{
		EventID:     "ev-retrying",
		ExecutionID: "exec1",
		EventType:   model.EventActionError,
		Status:      model.StatusRetrying,
		NodeName:    "fetch",
	}))

	out, err := env.eval.Evaluate(context.Background(), "exec1")
	require.NoError(t, err)
	assert.NotEqual(t, OutcomeStopped, out.Kind, "a retryable action_error must not trip the execution-scope failed early stop")
}

func TestEvaluateAdvancesPastControlStep(t *testing.T) {
	env := newTestEnv(t, gatePlaybook)
	startExecution(t, env, "exec1", value.Map(nil))

	out, err := env.eval.Evaluate(context.Background(), "exec1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeControlStep, out.Kind)
	assert.Equal(t, "start", out.StepName)
}

func TestEvaluateEnqueuesActionAfterControlStep(t *testing.T) {
	env := newTestEnv(t, gatePlaybook)
	startExecution(t, env, "exec1", value.Map(nil))
	completeStep(t, env, "exec1", "exec1-step-1", "start", value.Null())

	out, err := env.eval.Evaluate(context.Background(), "exec1")
	require.NoError(t, err)
	require.Equal(t, OutcomeEnqueued, out.Kind)
	assert.Equal(t, "fetch", out.StepName)

	job, ok, err := env.queue.Get(context.Background(), out.QueueID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "exec1-step-2", job.NodeID)
}

func TestEvaluateEnqueueIsDedupedOnRepeat(t *testing.T) {
	env := newTestEnv(t, gatePlaybook)
	startExecution(t, env, "exec1", value.Map(nil))
	completeStep(t, env, "exec1", "exec1-step-1", "start", value.Null())

	first, err := env.eval.Evaluate(context.Background(), "exec1")
	require.NoError(t, err)
	require.Equal(t, OutcomeEnqueued, first.Kind)

	second, err := env.eval.Evaluate(context.Background(), "exec1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, second.Kind)
}

const skipChainPlaybook = `
workload:
  flag: false
workflow:
  - step: start
    type: start
    next:
      - then: [fetch]
  - step: fetch
    call: fetch_items
    next:
      - then: [gate]
  - step: gate
    when: "flag"
    next:
      - then: [end]
  - step: end
    type: end
workbook:
  - name: fetch_items
    type: http
    with:
      url: "https://example.com/items"
`

func TestEvaluateSkipsStepWhenGateFalse(t *testing.T) {
	env := newTestEnv(t, skipChainPlaybook)
	startExecution(t, env, "exec1", value.Map(map[string]value.Value{"flag": value.Bool(false)}))
	completeStep(t, env, "exec1", "exec1-step-1", "start", value.Null())
	completeStep(t, env, "exec1", "exec1-step-2", "fetch", value.Map(nil))

	out, err := env.eval.Evaluate(context.Background(), "exec1")
	require.NoError(t, err)
	require.Equal(t, OutcomeControlStep, out.Kind)
	assert.Equal(t, "end", out.StepName)
	assert.Contains(t, out.SkippedSteps, "gate")
}

func TestEvaluateLoopLifecycleExpandWaitAggregate(t *testing.T) {
	env := newTestEnv(t, gatePlaybook)
	workload := value.Map(map[string]value.Value{
		"flag":  value.Bool(true),
		"items": value.List(value.Int(1), value.Int(2)),
	})
	startExecution(t, env, "exec1", workload)
	completeStep(t, env, "exec1", "exec1-step-1", "start", value.Null())
	completeStep(t, env, "exec1", "exec1-step-2", "fetch", value.Map(nil))
	completeStep(t, env, "exec1", "exec1-step-3", "gate", value.Null())

	expanded, err := env.eval.Evaluate(context.Background(), "exec1")
	require.NoError(t, err)
	require.Equal(t, OutcomeLoopExpanded, expanded.Kind)
	assert.Equal(t, "loopstep", expanded.StepName)

	jobs, err := env.queue.List(context.Background(), "", 10)
	require.NoError(t, err)
	var iterJobs []model.QueueJob
	for _, j := range jobs {
		if j.NodeID == "exec1-step-4-iter-0" || j.NodeID == "exec1-step-4-iter-1" {
			iterJobs = append(iterJobs, j)
		}
	}
	require.Len(t, iterJobs, 2)

	// before any iteration completes there is nothing in the event log that
	// marks the loop as in flight, so a repeat pass just re-expands
	// idempotently (both iterations already active, nothing new enqueued).
	reExpanded, err := env.eval.Evaluate(context.Background(), "exec1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoopExpanded, reExpanded.Kind)
	assert.Equal(t, "0/2 iterations enqueued", reExpanded.Detail)

	idx0 := 0
	require.NoError(t, env.events.Emit(context.Background(), model.Event{
		EventID:      "iter-0-done",
		ExecutionID:  "exec1",
		EventType:    model.EventActionCompleted,
		Status:       model.StatusCompleted,
		NodeID:       "exec1-step-4-iter-0",
		NodeName:     "process_item",
		CurrentIndex: &idx0,
		OutputResult: value.Int(10),
	}))

	stillWaiting, err := env.eval.Evaluate(context.Background(), "exec1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoopWaiting, stillWaiting.Kind)

	idx1 := 1
	require.NoError(t, env.events.Emit(context.Background(), model.Event{
		EventID:      "iter-1-done",
		ExecutionID:  "exec1",
		EventType:    model.EventActionCompleted,
		Status:       model.StatusCompleted,
		NodeID:       "exec1-step-4-iter-1",
		NodeName:     "process_item",
		CurrentIndex: &idx1,
		OutputResult: value.Int(20),
	}))

	aggregated, err := env.eval.Evaluate(context.Background(), "exec1")
	require.NoError(t, err)
	require.Equal(t, OutcomeLoopAggregated, aggregated.Kind)
	assert.Equal(t, "aggregate", aggregated.StepName)

	allEvents, err := env.events.GetEvents(context.Background(), "exec1")
	require.NoError(t, err)
	var aggEvent *model.Event
	for i := range allEvents {
		if allEvents[i].NodeName == "aggregate" {
			aggEvent = &allEvents[i]
		}
	}
	require.NotNil(t, aggEvent)
	total, ok := aggEvent.OutputResult.Get("total")
	require.True(t, ok)
	assert.Equal(t, "[10,20]", total.String())

	finished, err := env.eval.Evaluate(context.Background(), "exec1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeControlStep, finished.Kind)
	assert.Equal(t, "end", finished.StepName)
}
