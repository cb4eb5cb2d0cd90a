// Package context implements the Context Builder subsystem (spec.md §4.C):
// a pure function of the event log prefix that reconstructs the execution
// context used by the Template Renderer and Broker Evaluator. Grounded on
// original_source/noetl/api/event.py's context-assembly logic (workload,
// results, top-level promotion, workbook aliasing) and cached via
// common/redis keyed by (execution_id, max_event_id) per spec.md §4.C/§5.
package context

import (
	"context"
	"fmt"

	"github.com/noetl/noetl/internal/cas"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/value"
)

// reservedRootKeys are the context keys the builder never lets a workload/
// result key shadow (spec.md §4.C "promoted to the context root unless it
// would shadow a reserved name").
var reservedRootKeys = map[string]bool{
	"workload": true,
	"work":     true,
	"results":  true,
	"context":  true,
	"env":      true,
	"job":      true,
	"_loop":    true,
}

// Cache is the pluggable caching layer the builder consults before
// recomputing from the event log (spec.md §4.C "implementations may cache
// by (execution_id, max_event_id)"). A nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, executionID string, maxEventID int64) (value.Value, bool)
	Set(ctx context.Context, executionID string, maxEventID int64, ctxValue value.Value)
}

// Builder reconstructs execution context from the event log.
type Builder struct {
	events eventlog.Store
	cache  Cache
	cas    cas.Store
}

func NewBuilder(events eventlog.Store, cache Cache) *Builder {
	return &Builder{events: events, cache: cache}
}

// WithCAS enables transparent resolution of large-payload offload pointers
// (SPEC_FULL.md §3.5): an output_result stored as {"$cas_ref": id} reads
// back as the original value, indistinguishable from an inline one.
func (b *Builder) WithCAS(store cas.Store) *Builder {
	b.cas = store
	return b
}

// WorkbookAlias describes a workflow step of type "workbook" whose `task`
// attribute references a reusable workbook task, used for the aliasing rule
// in spec.md §4.C.
type WorkbookAlias struct {
	StepName string
	TaskName string
}

// Build reconstructs the context map for executionID (spec.md §4.C). extra
// is merged last and never overwrites prior keys (spec.md §4.C). The env
// and job keys are not added here; internal/broker's withEnvAndJob adds
// them to the built context.
func (b *Builder) Build(ctx context.Context, executionID string, aliases []WorkbookAlias, extra value.Value) (value.Value, error) {
	events, err := b.events.GetEvents(ctx, executionID)
	if err != nil {
		return value.Null(), fmt.Errorf("context: get_events: %w", err)
	}

	var maxSeq int64
	for _, e := range events {
		if e.SequenceNum > maxSeq {
			maxSeq = e.SequenceNum
		}
	}

	if b.cache != nil {
		if cached, ok := b.cache.Get(ctx, executionID, maxSeq); ok {
			return value.Merge(cached, extra, true), nil
		}
	}

	resolve := func(v value.Value) (value.Value, error) { return v, nil }
	if b.cas != nil {
		resolve = func(v value.Value) (value.Value, error) { return cas.Resolve(ctx, b.cas, v) }
	}

	built, err := buildFromEvents(events, aliases, resolve)
	if err != nil {
		return value.Null(), fmt.Errorf("context: resolve cas reference: %w", err)
	}

	if b.cache != nil {
		b.cache.Set(ctx, executionID, maxSeq, built)
	}

	return value.Merge(built, extra, true), nil
}

func buildFromEvents(events []model.Event, aliases []WorkbookAlias, resolve func(value.Value) (value.Value, error)) (value.Value, error) {
	workload := value.Map(nil)
	results := map[string]value.Value{}

	for _, e := range events {
		if e.EventType == model.EventExecutionStart {
			if wl, ok := e.InputContext.Get("workload"); ok {
				workload = wl
			} else if e.InputContext.Kind() == value.KindMap {
				workload = e.InputContext
			}
		}
		if !e.OutputResult.IsNull() && e.NodeName != "" {
			resolved, err := resolve(e.OutputResult)
			if err != nil {
				return value.Null(), err
			}
			results[e.NodeName] = resolved
		}
	}

	// Workbook aliasing: bind results[step_name] = results[task] when the
	// step's own result is absent (spec.md §4.C).
	for _, alias := range aliases {
		if _, has := results[alias.StepName]; !has {
			if taskResult, ok := results[alias.TaskName]; ok {
				results[alias.StepName] = taskResult
			}
		}
	}

	root := map[string]value.Value{
		"workload": workload,
		"work":     workload,
		"context":  workload, // backward-compat alias (spec.md §4.C)
		"results":  value.Map(results),
	}

	// Top-level promotion: each key of workload and results is promoted to
	// the context root unless it would shadow a reserved name.
	if wm, ok := workload.Map(); ok {
		for k, v := range wm {
			if !reservedRootKeys[k] {
				root[k] = v
			}
		}
	}
	for k, v := range results {
		if !reservedRootKeys[k] {
			root[k] = v
		}
	}

	return value.Map(root), nil
}
