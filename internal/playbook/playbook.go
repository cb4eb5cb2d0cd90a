// Package playbook implements the Playbook Parser subsystem (spec.md
// §4.E): decoding a YAML playbook into an ordered workflow, an indexed
// workbook of reusable task definitions, and a default workload, then
// materializing that structure into the denormalized workflow/transition/
// workbook projection rows the Broker Evaluator and UI consume.
//
// Grounded on the teacher's use of gopkg.in/yaml.v3 for its own config/
// workflow-definition decoding (cmd/workflow-runner reads its step graph
// from YAML the same way) and on original_source/noetl/plugin/playbook.py
// for the exact step-field vocabulary (step/name/type/task/call/action/
// with/when/pass/next/loop/end_loop).
package playbook

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/noetl/noetl/internal/value"
)

// Playbook is the parsed, in-memory form of a YAML playbook document.
type Playbook struct {
	Path     string
	Version  string
	Workload value.Value
	Workflow []Step
	Workbook map[string]Task

	stepIndex map[string]int
}

// Step is one entry of the `workflow` list (spec.md §4.E).
type Step struct {
	Name        string
	Type        string
	Task        string
	Call        string
	Description string
	Action      value.Value // inline action spec, when the step carries one directly
	With        value.Value
	When        string
	Pass        string // rendered to bool at evaluation time; literal "true"/"false" or a template
	Next        []NextCase
	Loop        *LoopSpec
	EndLoop     *EndLoopSpec
	Raw         value.Value // preserved for materialization (workflow.raw_config)
}

// NextCase is one entry of a step's `next` list.
type NextCase struct {
	When string
	Then []string
	Else bool
}

// LoopSpec is a step's `loop` block (spec.md §4.G).
type LoopSpec struct {
	Iterator string
	In       string
	Filter   string
	Chunk    int
}

// EndLoopSpec is a step's `end_loop` block (spec.md §4.G).
type EndLoopSpec struct {
	Pointer string
	Result  value.Value // aggregation template map
}

// Task is a `workbook`/`tasks` entry: a reusable action definition.
type Task struct {
	Name   string
	Type   string
	Action value.Value
	With   value.Value
	Raw    value.Value
}

// Parse decodes a YAML playbook document. yaml.v3 decodes mappings into
// interface{} as map[string]interface{}, so value.FromNative applies
// directly without the map[interface{}]interface{} normalization yaml.v2
// would have required.
func Parse(path, version string, data []byte) (*Playbook, error) {
	var native interface{}
	if err := yaml.Unmarshal(data, &native); err != nil {
		return nil, fmt.Errorf("playbook: yaml decode: %w", err)
	}
	return ParseValue(path, version, value.FromNative(native))
}

// ParseValue builds a Playbook directly from an already-decoded document
// tree, bypassing the YAML step. internal/patch uses this to re-parse a
// playbook after applying a JSON Patch document to its JSON form, without
// round-tripping back through YAML.
func ParseValue(path, version string, root value.Value) (*Playbook, error) {
	pb := &Playbook{
		Path:      path,
		Version:   version,
		Workbook:  map[string]Task{},
		stepIndex: map[string]int{},
	}

	if wl, ok := root.Get("workload"); ok {
		pb.Workload = wl
	} else {
		pb.Workload = value.Map(nil)
	}

	stepsVal, ok := root.Get("workflow")
	if !ok {
		return nil, fmt.Errorf("playbook: missing workflow list")
	}
	stepList, ok := stepsVal.List()
	if !ok {
		return nil, fmt.Errorf("playbook: workflow must be a list")
	}
	for i, sv := range stepList {
		step, err := parseStep(sv)
		if err != nil {
			return nil, fmt.Errorf("playbook: workflow[%d]: %w", i, err)
		}
		pb.stepIndex[step.Name] = len(pb.Workflow)
		pb.Workflow = append(pb.Workflow, step)
	}

	tasksVal, ok := root.Get("workbook")
	if !ok {
		tasksVal, ok = root.Get("tasks")
	}
	if ok {
		taskList, _ := tasksVal.List()
		for i, tv := range taskList {
			task, err := parseTask(tv)
			if err != nil {
				return nil, fmt.Errorf("playbook: workbook[%d]: %w", i, err)
			}
			pb.Workbook[task.Name] = task
		}
	}

	return pb, nil
}

func parseStep(v value.Value) (Step, error) {
	step := Step{Raw: v}

	if name, ok := v.Get("step"); ok {
		step.Name = name.String()
	} else if name, ok := v.Get("name"); ok {
		step.Name = name.String()
	}
	if step.Name == "" {
		return Step{}, fmt.Errorf("step missing name/step field")
	}

	if t, ok := v.Get("type"); ok {
		step.Type = t.String()
	}
	if t, ok := v.Get("task"); ok {
		step.Task = t.String()
	}
	if c, ok := v.Get("call"); ok {
		step.Call = c.String()
	}
	if d, ok := v.Get("description"); ok {
		step.Description = d.String()
	}
	if a, ok := v.Get("action"); ok {
		step.Action = a
	}
	if w, ok := v.Get("with"); ok {
		step.With = w
	} else {
		step.With = value.Map(nil)
	}
	if w, ok := v.Get("when"); ok {
		step.When = w.String()
	}
	if p, ok := v.Get("pass"); ok {
		step.Pass = p.String()
	}

	if nextVal, ok := v.Get("next"); ok {
		nextList, _ := nextVal.List()
		for _, nv := range nextList {
			step.Next = append(step.Next, parseNextCase(nv))
		}
	}

	if loopVal, ok := v.Get("loop"); ok {
		spec := LoopSpec{}
		if it, ok := loopVal.Get("iterator"); ok {
			spec.Iterator = it.String()
		}
		if in, ok := loopVal.Get("in"); ok {
			spec.In = in.String()
		}
		if f, ok := loopVal.Get("filter"); ok {
			spec.Filter = f.String()
		}
		if c, ok := loopVal.Get("chunk"); ok {
			if n, ok := c.Int(); ok {
				spec.Chunk = int(n)
			}
		}
		step.Loop = &spec
	}

	if endLoopVal, ok := v.Get("end_loop"); ok {
		spec := EndLoopSpec{}
		if p, ok := endLoopVal.Get("pointer"); ok {
			spec.Pointer = p.String()
		}
		if r, ok := endLoopVal.Get("result"); ok {
			spec.Result = r
		} else {
			spec.Result = value.Map(nil)
		}
		step.EndLoop = &spec
	}

	return step, nil
}

// parseNextCase parses one entry of a step's `next` list, which is shaped
// either {when, then: [...]} or {else: [...]} (spec.md §4.E).
func parseNextCase(v value.Value) NextCase {
	nc := NextCase{}
	if w, ok := v.Get("when"); ok {
		nc.When = w.String()
	}

	targets := "then"
	if _, ok := v.Get("else"); ok && nc.When == "" {
		nc.Else = true
		targets = "else"
	}

	if listVal, ok := v.Get(targets); ok {
		if list, ok := listVal.List(); ok {
			for _, tv := range list {
				nc.Then = append(nc.Then, tv.String())
			}
		} else {
			nc.Then = append(nc.Then, listVal.String())
		}
	}
	return nc
}

func parseTask(v value.Value) (Task, error) {
	task := Task{Raw: v}
	if name, ok := v.Get("name"); ok {
		task.Name = name.String()
	} else if name, ok := v.Get("task"); ok {
		task.Name = name.String()
	}
	if task.Name == "" {
		return Task{}, fmt.Errorf("workbook task missing name")
	}
	if t, ok := v.Get("type"); ok {
		task.Type = t.String()
	}
	if a, ok := v.Get("action"); ok {
		task.Action = a
	}
	if w, ok := v.Get("with"); ok {
		task.With = w
	} else {
		task.With = value.Map(nil)
	}
	return task, nil
}

// StepByName returns the step with the given name, and whether it exists.
func (p *Playbook) StepByName(name string) (Step, bool) {
	i, ok := p.stepIndex[name]
	if !ok {
		return Step{}, false
	}
	return p.Workflow[i], true
}

// StepIndex returns the position of a step within the ordered workflow
// list, used by the broker's positional fallback (spec.md §4.F step 4c).
func (p *Playbook) StepIndex(name string) (int, bool) {
	i, ok := p.stepIndex[name]
	return i, ok
}

// StepAt returns the step at a positional index, or false if out of range.
func (p *Playbook) StepAt(i int) (Step, bool) {
	if i < 0 || i >= len(p.Workflow) {
		return Step{}, false
	}
	return p.Workflow[i], true
}

// TaskByName looks up a workbook entry.
func (p *Playbook) TaskByName(name string) (Task, bool) {
	t, ok := p.Workbook[name]
	return t, ok
}

// IsControl reports whether a step is a terminal control marker — `start`/
// `end` type, or no type/task/call/action and no loop/end_loop block at all
// (spec.md §4.F step 6).
func (s Step) IsControl() bool {
	if s.Type == "start" || s.Type == "end" {
		return true
	}
	return s.Type == "" && s.Task == "" && s.Call == "" && s.Action.IsNull() && s.Loop == nil && s.EndLoop == nil
}
