// Package broker implements the Broker Evaluator (spec.md §4.F): a
// stateless, idempotent state-machine advancer that, given an execution's
// event history and playbook, decides the next actionable step(s),
// evaluates transitions, expands loop iterators, aggregates loop results,
// and emits enqueue operations.
//
// Grounded on the teacher's cmd/workflow-runner/coordinator/coordinator.go
// (the handleCompletion -> routeToNextNodes -> handleSkippedNode recursion
// shape, generalized here from its Redis-choreography trigger to a direct
// read-event-log-then-enqueue call) and, for the exact step-selection /
// transition / dispatch algorithm, on
// original_source/noetl/api/event.py::evaluate_broker_for_execution.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	ctxbuild "github.com/noetl/noetl/internal/context"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/loop"
	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/patch"
	"github.com/noetl/noetl/internal/playbook"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/render"
	"github.com/noetl/noetl/internal/value"
)

// Logger mirrors the teacher's structured-logging interface
// (cmd/workflow-runner/coordinator.Logger) so the evaluator can be wired
// to common/logger without importing it directly.
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

// Evaluator is the Broker Evaluator. A single instance is safe for
// concurrent Evaluate calls on different (or the same) execution_id: every
// store operation it performs is itself idempotent/guarded (spec.md §4.F
// "multiple evaluator calls may race... redundant work resolves to no-op").
type Evaluator struct {
	events       eventlog.Store
	queue        queue.Store
	builder      *ctxbuild.Builder
	renderer     *render.Renderer
	catalog      Catalog
	materializer playbook.Materializer
	patches      patch.Store
	log          Logger
}

func New(events eventlog.Store, q queue.Store, builder *ctxbuild.Builder, renderer *render.Renderer, catalog Catalog, materializer playbook.Materializer, log Logger) *Evaluator {
	if log == nil {
		log = noopLogger{}
	}
	return &Evaluator{events: events, queue: q, builder: builder, renderer: renderer, catalog: catalog, materializer: materializer, log: log}
}

// WithPatches attaches a patch.Store so every Evaluate call replays an
// execution's dynamic-patch chain on top of the catalog playbook before
// scheduling (the Evaluator's reloadIfPatched method, invoked at the top of
// every Evaluate call, mirroring the teacher's reloadIRIfPatched). Returns e
// for chaining at construction.
func (e *Evaluator) WithPatches(store patch.Store) *Evaluator {
	e.patches = store
	return e
}

// reloadIfPatched returns pb unchanged if no patches are registered for
// executionID, or the result of replaying the full patch chain against the
// base playbook otherwise. The chain is always replayed from the base, per
// the teacher's patch_loader.go comment: "This ensures we always apply ALL
// patches to the original base workflow, not the current cached IR".
func (e *Evaluator) reloadIfPatched(ctx context.Context, executionID string, pb *playbook.Playbook) (*playbook.Playbook, error) {
	if e.patches == nil {
		return pb, nil
	}
	chain, err := e.patches.List(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("broker: list patches: %w", err)
	}
	if len(chain) == 0 {
		return pb, nil
	}
	patched, err := patch.Apply(pb, chain)
	if err != nil {
		return nil, fmt.Errorf("broker: apply patch chain: %w", err)
	}
	return patched, nil
}

// Evaluate runs one pass of the algorithm in spec.md §4.F. It is safe to
// call repeatedly for the same execution_id; every branch either performs
// an idempotent write or returns a no-op Outcome.
func (e *Evaluator) Evaluate(ctx context.Context, executionID string) (Outcome, error) {
	events, err := e.events.GetEvents(ctx, executionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("broker: get_events: %w", err)
	}

	// Status here is execution-scope terminal (spec.md §7), never a
	// retryable action_error's per-attempt StatusRetrying: a transient
	// failure that the queue will re-lease must not stop scheduling (§8
	// scenario 4, "execution ultimately completed" after a failed attempt
	// 1 and a successful attempt 2).
	for _, ev := range events {
		if ev.Status == model.StatusFailed {
			e.log.Info("broker: execution has a failed event, stopping scheduling", "execution_id", executionID)
			return Outcome{Kind: OutcomeStopped}, nil
		}
	}

	startEvent, ok := firstExecutionStart(events)
	if !ok {
		return Outcome{Kind: OutcomeFinished}, nil
	}
	path, version := PlaybookRef(startEvent)
	if path == "" {
		e.log.Warn("broker: no playbook_path on execution_start", "execution_id", executionID)
		return Outcome{Kind: OutcomeFinished}, nil
	}

	pb, err := e.catalog.Fetch(ctx, path, version)
	if err != nil {
		return Outcome{}, fmt.Errorf("broker: catalog fetch: %w", err)
	}
	pb, err = e.reloadIfPatched(ctx, executionID, pb)
	if err != nil {
		return Outcome{}, err
	}

	if e.materializer != nil {
		if err := e.materializer.Materialize(ctx, executionID, pb); err != nil {
			e.log.Warn("broker: materialize failed, continuing", "execution_id", executionID, "error", err.Error())
		}
	}

	aliases := WorkbookAliases(pb)
	ctxValue, err := e.builder.Build(ctx, executionID, aliases, value.Null())
	if err != nil {
		return Outcome{}, fmt.Errorf("broker: build context: %w", err)
	}

	idx, waiting, transitionWith, err := e.selectNext(ctx, executionID, events, pb, ctxValue)
	if err != nil {
		return Outcome{}, err
	}
	if waiting {
		return Outcome{Kind: OutcomeLoopWaiting}, nil
	}
	if idx < 0 || idx >= len(pb.Workflow) {
		return Outcome{Kind: OutcomeFinished}, nil
	}

	var skipped []string
	for idx < len(pb.Workflow) {
		step := pb.Workflow[idx]
		skip, reason, err := e.shouldSkip(step, ctxValue)
		if err != nil {
			e.log.Warn("broker: skip evaluation error, treating as not skipped", "step", step.Name, "error", err.Error())
		}
		if !skip {
			break
		}
		if err := e.emitSkip(ctx, executionID, idx, step, reason); err != nil {
			return Outcome{}, err
		}
		skipped = append(skipped, step.Name)
		idx++
	}
	if idx >= len(pb.Workflow) {
		return Outcome{Kind: OutcomeSkipped, SkippedSteps: skipped}, nil
	}

	step := pb.Workflow[idx]

	if step.IsControl() {
		if err := e.emitSkip(ctx, executionID, idx, step, "control_step"); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: OutcomeControlStep, StepName: step.Name, SkippedSteps: skipped}, nil
	}

	if step.Loop != nil {
		return e.dispatchLoop(ctx, executionID, idx, step, pb, ctxValue, events)
	}
	if step.EndLoop != nil {
		return e.dispatchEndLoop(ctx, executionID, idx, step, pb, events, ctxValue)
	}
	return e.dispatchAction(ctx, executionID, idx, step, pb, ctxValue, events, transitionWith)
}

// selectNext implements spec.md §4.F step 4 plus the loop-completion
// special case of §4.G ("the evaluator also inspects a loop entry step
// that has already emitted iterations"). idx=-1 with waiting=true means a
// loop is still in flight; an idx at or past len(pb.Workflow) means the
// workflow has run to completion.
func (e *Evaluator) selectNext(ctx context.Context, executionID string, events []model.Event, pb *playbook.Playbook, ctxValue value.Value) (idx int, waiting bool, transitionWith value.Value, err error) {
	lastName, lastFound := lastCompletedStepName(events)

	if lastFound {
		if entryIdx, bodyName, ok := findLoopEntryForLastEvent(events, pb); ok {
			entryStep := pb.Workflow[entryIdx]
			iterations, ierr := loop.Expand(e.renderer, executionID, entryIdx+1, entryStep.Name, entryStep.Loop, ctxValue, ctxValue)
			if ierr != nil {
				return -1, false, value.Null(), fmt.Errorf("broker: re-expand loop %s: %w", entryStep.Name, ierr)
			}
			var fallback string
			if bs, ok := pb.StepByName(bodyName); ok {
				fallback = bs.Task
			}
			completed := loop.CompletedIterations(events, bodyName, fallback)
			if len(completed) < len(iterations) {
				return -1, true, value.Null(), nil
			}
			// all iterations done: the loop entry's own `next` points to
			// the body step (that's how dispatchLoop resolves the body
			// action), so the transition onward to end_loop comes from the
			// body step's `next`, not the loop entry's.
			_ = entryIdx
			lastName = bodyName
		}
	}

	if lastFound && lastName != "" {
		if step, ok := pb.StepByName(lastName); ok && len(step.Next) > 0 {
			target, cond, with, matched := evaluateNextCases(e.renderer, step.Next, ctxValue)
			_ = cond
			if matched {
				if targetIdx, ok := pb.StepIndex(target); ok {
					return targetIdx, false, with, nil
				}
			}
		}
	}

	completedCount := 0
	for _, ev := range events {
		if ev.Status == model.StatusCompleted && !ev.IsLoopIteration() &&
			(ev.EventType == model.EventActionCompleted || ev.EventType == model.EventResult) {
			completedCount++
		}
	}
	return completedCount, false, value.Null(), nil
}

// evaluateNextCases implements spec.md §4.F step 4b: evaluate `when` cases
// in order, first true wins; an `else` case matches only if no prior
// `when` matched.
func evaluateNextCases(r *render.Renderer, cases []playbook.NextCase, ctxValue value.Value) (target, cond string, with value.Value, matched bool) {
	for _, nc := range cases {
		if nc.Else {
			if !matched && len(nc.Then) > 0 {
				return nc.Then[0], "else", value.Null(), true
			}
			continue
		}
		if nc.When == "" {
			// no `when` and not an `else` case: an unconditional transition.
			if len(nc.Then) > 0 {
				return nc.Then[0], "", value.Null(), true
			}
			continue
		}
		ok, err := r.EvaluateBool(nc.When, ctxValue)
		if err == nil && ok && len(nc.Then) > 0 {
			return nc.Then[0], nc.When, value.Null(), true
		}
	}
	return "", "", value.Null(), false
}

// shouldSkip implements spec.md §4.F step 5 and SPEC_FULL §3.2 item 1:
// `pass` is always checked before `when`, and a true `pass` always wins
// regardless of what `when` would have evaluated to.
func (e *Evaluator) shouldSkip(step playbook.Step, ctxValue value.Value) (bool, string, error) {
	if step.Pass != "" {
		passVal, err := e.renderer.EvaluateBool(step.Pass, ctxValue)
		if err != nil {
			return false, "", err
		}
		if passVal {
			return true, "pass=true", nil
		}
	}
	if step.When != "" {
		whenVal, err := e.renderer.EvaluateBool(step.When, ctxValue)
		if err != nil {
			return false, "", err
		}
		if !whenVal {
			return true, "when=false", nil
		}
	}
	return false, "", nil
}

func (e *Evaluator) emitSkip(ctx context.Context, executionID string, idx int, step playbook.Step, reason string) error {
	return e.events.Emit(ctx, model.Event{
		EventID:     uuid.NewString(),
		ExecutionID: executionID,
		Timestamp:   time.Now().UTC(),
		EventType:   model.EventActionCompleted,
		Status:      model.StatusCompleted,
		NodeID:      fmt.Sprintf("%s-step-%d", executionID, idx+1),
		NodeName:    step.Name,
		NodeType:    "task",
		OutputResult: value.Map(map[string]value.Value{
			"skipped": value.Bool(true),
			"reason":  value.String(reason),
		}),
	})
}

func (e *Evaluator) dispatchAction(ctx context.Context, executionID string, idx int, step playbook.Step, pb *playbook.Playbook, ctxValue value.Value, events []model.Event, transitionWith value.Value) (Outcome, error) {
	action, defaults, err := resolveAction(step, pb)
	if err != nil {
		return Outcome{}, err
	}

	merged := value.Merge(defaults, step.With, false)
	merged = value.Merge(merged, transitionWith, false)

	preCtx := withEnvAndJob(ctxValue)
	renderedWith, err := e.renderer.RenderValue(merged, preCtx, render.Lenient)
	if err != nil {
		return Outcome{}, fmt.Errorf("broker: render with params for %s: %w", step.Name, err)
	}

	nodeID := fmt.Sprintf("%s-step-%d", executionID, idx+1)

	active, err := e.queue.ExistsActive(ctx, executionID, nodeID)
	if err != nil {
		return Outcome{}, err
	}
	if active || hasCompletedStep(events, step.Name) {
		return Outcome{Kind: OutcomeNoOp, StepName: step.Name}, nil
	}

	queueID, err := e.queue.Enqueue(ctx, queue.EnqueueRequest{
		ExecutionID:  executionID,
		NodeID:       nodeID,
		NodeName:     step.Name,
		Action:       action,
		InputContext: renderedWith,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("broker: enqueue %s: %w", step.Name, err)
	}

	return Outcome{Kind: OutcomeEnqueued, StepName: step.Name, QueueID: queueID}, nil
}

func (e *Evaluator) dispatchLoop(ctx context.Context, executionID string, idx int, step playbook.Step, pb *playbook.Playbook, ctxValue value.Value, events []model.Event) (Outcome, error) {
	bodyName := firstNextTarget(step)
	if bodyName == "" {
		return Outcome{}, fmt.Errorf("broker: loop step %s has no body (`next`)", step.Name)
	}
	bodyStep, ok := pb.StepByName(bodyName)
	if !ok {
		return Outcome{}, fmt.Errorf("broker: loop body step %q not found", bodyName)
	}

	iterations, err := loop.Expand(e.renderer, executionID, idx+1, step.Name, step.Loop, ctxValue, ctxValue)
	if err != nil {
		return Outcome{}, fmt.Errorf("broker: expand loop %s: %w", step.Name, err)
	}

	action, defaults, err := resolveAction(bodyStep, pb)
	if err != nil {
		return Outcome{}, err
	}

	enqueued := 0
	for _, it := range iterations {
		active, err := e.queue.ExistsActive(ctx, executionID, it.NodeID)
		if err != nil {
			return Outcome{}, err
		}
		if active || hasCompletedNode(events, it.NodeID) {
			continue
		}

		merged := value.Merge(defaults, bodyStep.With, false)
		preCtx := withEnvAndJob(it.Workload)
		renderedWith, err := e.renderer.RenderValue(merged, preCtx, render.Lenient)
		if err != nil {
			return Outcome{}, fmt.Errorf("broker: render loop iteration %s: %w", it.NodeID, err)
		}
		if _, err := e.queue.Enqueue(ctx, queue.EnqueueRequest{
			ExecutionID:  executionID,
			NodeID:       it.NodeID,
			NodeName:     bodyStep.Name,
			Action:       action,
			InputContext: renderedWith,
		}); err != nil {
			return Outcome{}, fmt.Errorf("broker: enqueue loop iteration %s: %w", it.NodeID, err)
		}
		enqueued++
	}

	return Outcome{Kind: OutcomeLoopExpanded, StepName: step.Name, Detail: fmt.Sprintf("%d/%d iterations enqueued", enqueued, len(iterations))}, nil
}

func (e *Evaluator) dispatchEndLoop(ctx context.Context, executionID string, idx int, step playbook.Step, pb *playbook.Playbook, events []model.Event, ctxValue value.Value) (Outcome, error) {
	nodeID := fmt.Sprintf("%s-step-%d", executionID, idx+1)
	if hasCompletedNode(events, nodeID) {
		return Outcome{Kind: OutcomeNoOp, StepName: step.Name}, nil
	}

	loopEntry, ok := pb.StepByName(step.EndLoop.Pointer)
	if !ok {
		return Outcome{}, fmt.Errorf("broker: end_loop pointer %q not found", step.EndLoop.Pointer)
	}
	bodyName := firstNextTarget(loopEntry)
	var fallback string
	if bs, ok := pb.StepByName(bodyName); ok {
		fallback = bs.Task
	}

	iterEvents := loop.CompletedIterations(events, bodyName, fallback)
	aggregated, err := loop.Aggregate(e.renderer, loopEntry.Name, iterEvents, step.EndLoop, ctxValue)
	if err != nil {
		return Outcome{}, fmt.Errorf("broker: aggregate end_loop %s: %w", step.Name, err)
	}

	if err := e.events.Emit(ctx, model.Event{
		EventID:      uuid.NewString(),
		ExecutionID:  executionID,
		Timestamp:    time.Now().UTC(),
		EventType:    model.EventActionCompleted,
		Status:       model.StatusCompleted,
		NodeID:       nodeID,
		NodeName:     step.Name,
		NodeType:     "end_loop",
		OutputResult: aggregated,
	}); err != nil {
		return Outcome{}, fmt.Errorf("broker: emit end_loop result %s: %w", step.Name, err)
	}

	return Outcome{Kind: OutcomeLoopAggregated, StepName: step.Name}, nil
}
