// Package worker implements the Worker Runtime subsystem (spec.md §4.H):
// a leasing loop that pulls jobs off the Work Queue, decodes and dispatches
// a typed action to the executor keyed by action.type, and reports the
// outcome back as action_started/action_completed/action_error events,
// retrying transient failures and dead-lettering the rest.
//
// Grounded on the teacher's cmd/workflow-runner/worker/http_worker.go for
// the execute-then-report shape (execute, build a metrics envelope, signal
// completion), generalized from its Redis-stream-plus-SDK choreography to
// the spec.md §4.B lease/complete/fail queue contract, and on
// original_source/noetl/worker/worker.py for the long-poll/heartbeat/
// decode-then-dispatch loop.
package worker

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noetl/noetl/internal/cas"
	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/value"
)

// defaultOffloadThreshold mirrors internal/cas's own default (SPEC_FULL.md
// §3.5); results at or under this size stay inline in the event.
const defaultOffloadThreshold = 32 * 1024

// Logger mirrors the structured-logging interface used throughout this
// module (internal/broker.Logger, internal/clients.Logger).
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

type noopLogger struct{}

func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Debug(string, ...interface{}) {}

// ExecutionResult is the shape spec.md §6 gives the consumed action
// executor interface: `execute(...) -> {id, status, data?, error?,
// traceback?}`.
type ExecutionResult struct {
	ID        string
	Status    string // "success" or "error" (spec.md §4.H)
	Data      value.Value
	Error     string
	Traceback string
	Retryable bool // classified by the executor (spec.md §3 "action error... default retryable unless marked fatal")
}

// Executor is a typed action plug-in keyed by action.type (spec.md §4.H
// "Action executors are plug-ins keyed by action.type"). with is the
// already-rendered parameter map (the broker renders `with` before
// enqueuing; spec.md §4.H step 2 "invoke the typed action executor with
// (action_spec, input_context)" — actionSpec carries the type/task-level
// config, with carries the per-invocation rendered parameters).
type Executor interface {
	Execute(ctx context.Context, actionSpec value.Value, with value.Value) (ExecutionResult, error)
}

// Registry dispatches to the Executor registered for an action's `type`.
type Registry struct {
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: map[string]Executor{}}
}

func (r *Registry) Register(actionType string, executor Executor) {
	r.executors[actionType] = executor
}

func (r *Registry) Dispatch(ctx context.Context, actionSpec, with value.Value) (ExecutionResult, error) {
	actionType := actionTypeOf(actionSpec)
	executor, ok := r.executors[actionType]
	if !ok {
		return ExecutionResult{}, fmt.Errorf("worker: no executor registered for action type %q", actionType)
	}
	return executor.Execute(ctx, actionSpec, with)
}

func actionTypeOf(actionSpec value.Value) string {
	if t, ok := actionSpec.Get("type"); ok {
		return t.String()
	}
	return ""
}

// decodeActionSpec base64-unwraps the opaque fields the queue carries for
// code/SQL payloads (spec.md §4.H step 2 "decode action spec
// (base64-unwrapping code_b64, command_b64, etc.)"); the work queue wraps
// these so free-form source code and SQL text survive JSON/SQL storage
// unescaped. Unknown/absent b64 fields are left untouched.
func decodeActionSpec(spec value.Value) value.Value {
	m, ok := spec.Map()
	if !ok {
		return spec
	}
	out := make(map[string]value.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, field := range []string{"code_b64", "command_b64", "script_b64", "query_b64"} {
		raw, ok := out[field]
		if !ok || raw.Kind() != value.KindString {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(raw.String())
		if err != nil {
			continue
		}
		plainField := field[:len(field)-len("_b64")]
		out[plainField] = value.String(string(decoded))
	}
	return value.Map(out)
}

// Runtime is the Worker Runtime: leases jobs from the Work Queue, executes
// them via Registry, and reports results as events (spec.md §4.H).
type Runtime struct {
	queue    queue.Store
	events   EventSink
	registry *Registry
	logger   Logger

	heartbeatInterval time.Duration

	cas          cas.Store
	offloadBytes int
}

// EventSink is the subset of eventlog.Store the runtime needs, so tests can
// stub it without pulling in a full Store implementation.
type EventSink interface {
	Emit(ctx context.Context, e model.Event) error
}

func NewRuntime(q queue.Store, events EventSink, registry *Registry, logger Logger) *Runtime {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Runtime{queue: q, events: events, registry: registry, logger: logger, heartbeatInterval: 10 * time.Second}
}

// WithHeartbeatInterval sets the Runtime's heartbeatInterval field (10s by
// default). heartbeatLoop does not read it: lease renewal ticks at half the
// lease duration.
func (rt *Runtime) WithHeartbeatInterval(d time.Duration) *Runtime {
	rt.heartbeatInterval = d
	return rt
}

// WithCAS enables transparent offload of large action results into store
// before they're emitted as an action_completed event's output_result
// (SPEC_FULL.md §3.5), mirroring internal/context.Builder's WithCAS on the
// read side. thresholdBytes <= 0 uses defaultOffloadThreshold.
func (rt *Runtime) WithCAS(store cas.Store, thresholdBytes int) *Runtime {
	rt.cas = store
	if thresholdBytes <= 0 {
		thresholdBytes = defaultOffloadThreshold
	}
	rt.offloadBytes = thresholdBytes
	return rt
}

// Run long-polls for jobs until ctx is cancelled (spec.md §4.H loop).
// leaseSeconds is the lease duration requested per job; pollBackoff is how
// long to sleep after an empty lease before retrying.
func (rt *Runtime) Run(ctx context.Context, workerID string, leaseSeconds int, pollBackoff time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := rt.queue.Lease(ctx, workerID, leaseSeconds)
		if err == queue.ErrEmpty {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollBackoff):
			}
			continue
		}
		if err != nil {
			rt.logger.Error("lease failed", "worker_id", workerID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollBackoff):
			}
			continue
		}

		rt.processJob(ctx, workerID, job, leaseSeconds)
	}
}

// processJob runs one job to completion: heartbeat, dispatch, report,
// ack/retry (spec.md §4.H steps 2-5).
func (rt *Runtime) processJob(ctx context.Context, workerID string, job model.QueueJob, leaseSeconds int) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go rt.heartbeatLoop(hbCtx, workerID, job.QueueID, leaseSeconds)

	startEventID := uuid.New().String()
	now := time.Now()
	if err := rt.events.Emit(ctx, model.Event{
		EventID: startEventID, ExecutionID: job.ExecutionID,
		Timestamp: now, EventType: model.EventActionStarted, Status: model.StatusRunning,
		NodeID: job.NodeID, NodeName: job.NodeName, InputContext: job.InputContext,
	}); err != nil {
		rt.logger.Error("emit action_started failed", "queue_id", job.QueueID, "error", err)
	}

	actionSpec := decodeActionSpec(job.Action)
	result, execErr := rt.registry.Dispatch(ctx, actionSpec, job.InputContext)

	completedEventID := uuid.New().String()
	if execErr != nil || result.Status == "error" {
		errMsg := result.Error
		if execErr != nil {
			errMsg = execErr.Error()
		}

		// A retryable error only reaches execution-scope `failed` once the
		// queue has exhausted its attempts and dead-letters the job (spec.md
		// §7 "Max attempts exceeded: terminal dead"); up to that point it's
		// per-attempt `retrying` so the broker's failed-event early stop
		// (internal/broker.Evaluator.Evaluate) doesn't wrongly treat a
		// transient failure as terminal (§8 scenario 4: attempt 1 fails,
		// attempt 2 succeeds, execution ultimately completes).
		retryable := result.Retryable || execErr != nil
		status := model.StatusFailed
		if retryable && job.Attempts < job.MaxAttempts {
			status = model.StatusRetrying
		}

		if err := rt.events.Emit(ctx, model.Event{
			EventID: completedEventID, ParentEventID: &startEventID, ExecutionID: job.ExecutionID,
			Timestamp: time.Now(), EventType: model.EventActionError, Status: status,
			NodeID: job.NodeID, InputContext: job.InputContext, Error: errMsg,
		}); err != nil {
			rt.logger.Error("emit action_error failed", "queue_id", job.QueueID, "error", err)
		}

		if err := rt.queue.Fail(ctx, job.QueueID, retryable, retryDelay(job.Attempts), errMsg); err != nil {
			rt.logger.Error("fail job failed", "queue_id", job.QueueID, "error", err)
		}
		return
	}

	outputResult := result.Data
	if rt.cas != nil {
		offloaded, err := cas.Offload(ctx, rt.cas, outputResult, rt.offloadBytes)
		if err != nil {
			rt.logger.Error("cas offload failed", "queue_id", job.QueueID, "error", err)
		} else {
			outputResult = offloaded
		}
	}

	if err := rt.events.Emit(ctx, model.Event{
		EventID: completedEventID, ParentEventID: &startEventID, ExecutionID: job.ExecutionID,
		Timestamp: time.Now(), EventType: model.EventActionCompleted, Status: model.StatusCompleted,
		NodeID: job.NodeID, NodeName: job.NodeName, InputContext: job.InputContext, OutputResult: outputResult,
	}); err != nil {
		rt.logger.Error("emit action_completed failed", "queue_id", job.QueueID, "error", err)
	}

	if err := rt.queue.Complete(ctx, job.QueueID); err != nil {
		rt.logger.Error("complete job failed", "queue_id", job.QueueID, "error", err)
	}
}

func retryDelay(attempts int) time.Duration {
	d := time.Duration(attempts) * 2 * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	if d <= 0 {
		d = 2 * time.Second
	}
	return d
}

func (rt *Runtime) heartbeatLoop(ctx context.Context, workerID string, queueID int64, leaseSeconds int) {
	ticker := time.NewTicker(time.Duration(leaseSeconds) * time.Second / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rt.queue.Heartbeat(ctx, queueID, workerID, time.Duration(leaseSeconds)*time.Second); err != nil {
				rt.logger.Warn("heartbeat failed", "queue_id", queueID, "worker_id", workerID, "error", err)
			}
		}
	}
}
