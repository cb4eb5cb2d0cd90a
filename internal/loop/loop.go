// Package loop implements the Loop Engine (spec.md §4.G), the subsystem
// of the Broker Evaluator responsible for expanding a step's `loop` block
// into per-item iterations and aggregating an `end_loop` step's result.
// Grounded on the teacher's cmd/workflow-runner/operators/control_flow.go
// LoopOperator (iteration expansion / dedup-by-node-id shape, generalized
// here from Redis-counter dedup to work-queue-row-existence dedup) and on
// original_source/noetl/api/event.py's loop_spec handling (iterator
// binding, filter-keeps-undefined, chunking, `end_loop` aggregation via
// `{step_name}_results`/`loop_results` aliases).
package loop

import (
	"encoding/json"
	"fmt"

	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/playbook"
	"github.com/noetl/noetl/internal/render"
	"github.com/noetl/noetl/internal/value"
)

// Iteration is one expanded unit of work from a loop step (spec.md §4.G
// step 4): a kept item (or, when chunked, a batch of items) bound to the
// loop's iterator name, with the `_loop` metadata the template renderer
// and downstream aggregation rely on.
type Iteration struct {
	Index    int
	Item     value.Value
	NodeID   string
	Workload value.Value
}

// Expand renders a loop step's `in` expression, applies `filter`, chunks
// the kept items if requested, and returns one Iteration per kept
// item/batch (spec.md §4.G steps 1-4). stepPosition is the step's 1-based
// position in the workflow, used to build the "{execution_id}-step-{N}-
// iter-{K}" node id.
func Expand(r *render.Renderer, executionID string, stepPosition int, loopName string, spec *playbook.LoopSpec, ctx value.Value, baseWorkload value.Value) ([]Iteration, error) {
	rawItems, err := r.RenderString(spec.In, ctx, render.Lenient)
	if err != nil {
		return nil, fmt.Errorf("loop: render in: %w", err)
	}

	items, ok := coerceList(rawItems)
	if !ok {
		return nil, fmt.Errorf("loop: `in` did not evaluate to a list")
	}

	type kept struct {
		index int
		item  value.Value
	}
	var keptItems []kept
	for i, item := range items {
		if spec.Filter == "" {
			keptItems = append(keptItems, kept{i, item})
			continue
		}
		iterCtx := ctx.With(spec.Iterator, item)
		include, err := r.EvaluateBool(spec.Filter, iterCtx)
		if err != nil {
			// undefined/erroring filter -> include (spec.md §4.G step 2).
			include = true
		}
		if include {
			keptItems = append(keptItems, kept{i, item})
		}
	}

	chunkSize := spec.Chunk
	var groups [][]kept
	if chunkSize > 0 {
		for i := 0; i < len(keptItems); i += chunkSize {
			end := i + chunkSize
			if end > len(keptItems) {
				end = len(keptItems)
			}
			groups = append(groups, keptItems[i:end])
		}
	} else {
		for _, k := range keptItems {
			groups = append(groups, []kept{k})
		}
	}

	totalCount := len(groups)
	iterations := make([]Iteration, 0, len(groups))
	for k, group := range groups {
		var iterValue value.Value
		if chunkSize > 0 {
			vs := make([]value.Value, len(group))
			for i, g := range group {
				vs[i] = g.item
			}
			iterValue = value.List(vs...)
		} else {
			iterValue = group[0].item
		}

		nodeID := fmt.Sprintf("%s-step-%d-iter-%d", executionID, stepPosition, k)
		workload := baseWorkload.With(spec.Iterator, iterValue)
		workload = workload.With("_loop", value.Map(map[string]value.Value{
			"loop_id":       value.String(nodeID),
			"loop_name":     value.String(loopName),
			"iterator":      value.String(spec.Iterator),
			"current_index": value.Int(int64(k)),
			"current_item":  iterValue,
			"items_count":   value.Int(int64(totalCount)),
		}))

		iterations = append(iterations, Iteration{Index: k, Item: iterValue, NodeID: nodeID, Workload: workload})
	}

	return iterations, nil
}

// coerceList converts a rendered `in` value to a list: direct if it is
// already a List, JSON-parsed if it is a string (spec.md §4.G step 1
// "coerce to list (JSON/Python-literal parse if a string)").
func coerceList(v value.Value) ([]value.Value, bool) {
	if list, ok := v.List(); ok {
		return list, true
	}
	if v.Kind() == value.KindString {
		var native []interface{}
		if err := json.Unmarshal([]byte(v.String()), &native); err == nil {
			out := make([]value.Value, len(native))
			for i, n := range native {
				out[i] = value.FromNative(n)
			}
			return out, true
		}
	}
	return nil, false
}

// CompletedIterations returns, from the full event list of an execution,
// the completed outputs of a loop body step, ordered by current_index
// where available (spec.md §4.G end_loop step 2). bodyStepName identifies
// the step whose iteration events to collect; fallbackStepName is tried if
// the primary name yields nothing (the "workbook wrapper" fallback, step 3).
func CompletedIterations(events []model.Event, bodyStepName, fallbackStepName string) []model.Event {
	out := collectIterations(events, bodyStepName)
	if len(out) == 0 && fallbackStepName != "" && fallbackStepName != bodyStepName {
		out = collectIterations(events, fallbackStepName)
	}
	return out
}

func collectIterations(events []model.Event, nodeName string) []model.Event {
	var out []model.Event
	for _, e := range events {
		if e.NodeName != nodeName {
			continue
		}
		if e.EventType != model.EventResult && e.EventType != model.EventActionCompleted {
			continue
		}
		if e.Status != model.StatusCompleted {
			continue
		}
		if !e.IsLoopIteration() {
			continue
		}
		out = append(out, e)
	}
	// stable sort by current_index, events without one keep arrival order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			a, b := out[j-1], out[j]
			if a.CurrentIndex == nil || b.CurrentIndex == nil {
				break
			}
			if *a.CurrentIndex <= *b.CurrentIndex {
				break
			}
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Aggregate builds the `{step_name}_results`/`loop_results` aliases and
// renders the end_loop `result` template against a context augmented with
// them (spec.md §4.G end_loop steps 3-4).
func Aggregate(r *render.Renderer, loopStepName string, iterationEvents []model.Event, endLoop *playbook.EndLoopSpec, ctx value.Value) (value.Value, error) {
	results := make([]value.Value, len(iterationEvents))
	for i, e := range iterationEvents {
		results[i] = e.OutputResult
	}
	list := value.List(results...)

	aggCtx := ctx.With(loopStepName+"_results", list).With("loop_results", list)

	if endLoop == nil || endLoop.Result.IsNull() {
		return list, nil
	}
	return r.RenderValue(endLoop.Result, aggCtx, render.Lenient)
}
