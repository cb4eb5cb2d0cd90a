package broker

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	ctxbuild "github.com/noetl/noetl/internal/context"
	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/playbook"
	"github.com/noetl/noetl/internal/value"
)

func firstExecutionStart(events []model.Event) (model.Event, bool) {
	for _, e := range events {
		if e.EventType == model.EventExecutionStart {
			return e, true
		}
	}
	return model.Event{}, false
}

// PlaybookRef extracts the playbook path/version an execution_start event
// carries, trying input_context first and falling back to metadata
// (original_source/noetl/api/event.py checks both, since the field landed
// in different places across noetl client versions). Exported so callers
// outside this package (cmd/server's admission-time tiering) resolve the
// same precedence the broker itself evaluates against, rather than a
// fourth copy of this fallback chain.
func PlaybookRef(ev model.Event) (path, version string) {
	if p, ok := ev.InputContext.Get("path"); ok && p.Kind() == value.KindString {
		path = p.String()
	}
	if path == "" {
		if p, ok := ev.Metadata.Get("playbook_path"); ok {
			path = p.String()
		}
	}
	if path == "" {
		if p, ok := ev.Metadata.Get("resource_path"); ok {
			path = p.String()
		}
	}

	if v, ok := ev.InputContext.Get("version"); ok && v.Kind() == value.KindString {
		version = v.String()
	}
	if version == "" {
		if v, ok := ev.Metadata.Get("resource_version"); ok {
			version = v.String()
		}
	}
	return path, version
}

// WorkbookAliases collects the {step -> task} bindings for steps whose
// type is "workbook", used by the Context Builder's result-aliasing rule
// (spec.md §4.C). Exported so cmd/server's POST /context/render handler can
// compute the same aliases the broker uses without duplicating the walk.
func WorkbookAliases(pb *playbook.Playbook) []ctxbuild.WorkbookAlias {
	var out []ctxbuild.WorkbookAlias
	for _, s := range pb.Workflow {
		if s.Type != "workbook" {
			continue
		}
		taskName := s.Task
		if taskName == "" {
			taskName = s.Call
		}
		if taskName == "" {
			continue
		}
		out = append(out, ctxbuild.WorkbookAlias{StepName: s.Name, TaskName: taskName})
	}
	return out
}

// resolveAction resolves a step's action spec (spec.md §4.F step 6
// "resolve the action spec from the workbook or the step itself"): a
// workbook reference (`call`/`task`) wins, then an inline `action` block,
// and otherwise the step's own raw definition (an inline action embedded
// directly on the step). It also returns the workbook task's `with`
// defaults, the base layer of the with-params merge precedence chain.
func resolveAction(step playbook.Step, pb *playbook.Playbook) (action value.Value, defaults value.Value, err error) {
	ref := step.Call
	if ref == "" {
		ref = step.Task
	}
	if ref != "" {
		task, ok := pb.TaskByName(ref)
		if !ok {
			return value.Null(), value.Map(nil), fmt.Errorf("broker: workbook task %q not found (step %s)", ref, step.Name)
		}
		action := task.Action
		if action.IsNull() {
			action = task.Raw
		}
		return action, task.With, nil
	}
	if !step.Action.IsNull() {
		return step.Action, value.Map(nil), nil
	}
	return step.Raw, value.Map(nil), nil
}

// lastCompletedStepName returns the node_name of the most recently
// completed action/result event, in event-log order (spec.md §4.F step
// 4a "last = latest step with completed status").
func lastCompletedStepName(events []model.Event) (string, bool) {
	var last string
	found := false
	for _, ev := range events {
		if ev.Status == model.StatusCompleted &&
			(ev.EventType == model.EventActionCompleted || ev.EventType == model.EventResult) {
			last = ev.NodeName
			found = true
		}
	}
	return last, found
}

// findLoopEntryForLastEvent checks whether the most recently completed
// event is a loop iteration, and if so returns the loop entry step's
// index and its body step's name (spec.md §4.G completion-detection
// special case).
func findLoopEntryForLastEvent(events []model.Event, pb *playbook.Playbook) (entryIdx int, bodyName string, ok bool) {
	var last *model.Event
	for i := range events {
		ev := &events[i]
		if ev.Status == model.StatusCompleted &&
			(ev.EventType == model.EventActionCompleted || ev.EventType == model.EventResult) {
			last = ev
		}
	}
	if last == nil || !last.IsLoopIteration() {
		return 0, "", false
	}

	for i, s := range pb.Workflow {
		if s.Loop == nil {
			continue
		}
		if firstNextTarget(s) == last.NodeName {
			return i, last.NodeName, true
		}
	}
	return 0, "", false
}

func firstNextTarget(step playbook.Step) string {
	for _, nc := range step.Next {
		if len(nc.Then) > 0 {
			return nc.Then[0]
		}
	}
	return ""
}

func hasCompletedStep(events []model.Event, stepName string) bool {
	for _, ev := range events {
		if ev.NodeName == stepName && ev.Status == model.StatusCompleted && !ev.IsLoopIteration() {
			return true
		}
	}
	return false
}

func hasCompletedNode(events []model.Event, nodeID string) bool {
	for _, ev := range events {
		if ev.NodeID == nodeID && ev.Status == model.StatusCompleted {
			return true
		}
	}
	return false
}

// withEnvAndJob layers the process environment and a fresh job uuid onto
// the pre-render context (spec.md §4.F step 6 "render workload in a
// pre-context that includes env, job.uuid, and rendered transition vars").
func withEnvAndJob(ctxValue value.Value) value.Value {
	out := ctxValue.With("env", envMapValue())
	return out.With("job", value.Map(map[string]value.Value{"uuid": value.String(uuid.NewString())}))
}

func envMapValue() value.Value {
	m := map[string]value.Value{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			m[parts[0]] = value.String(parts[1])
		}
	}
	return value.Map(m)
}
