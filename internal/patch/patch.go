// Package patch implements dynamic playbook patching (SPEC_FULL.md §3.1):
// amending an in-flight execution's playbook via an RFC 6902 JSON Patch
// document, validated against a safe-path allow-list, then re-materialized
// into the workflow/transition/workbook projection.
//
// Grounded on the teacher's common/validation/patch_validator.go (operation-
// shape validation, the per-patch safety limit) and common/models/
// patch_chain.go/cmd/orchestrator/{handlers,service}/run_patch.go (storing
// patches in sequence order per run and replaying the whole chain against
// the base document on every reload, never against the last patched
// result — cmd/workflow-runner/coordinator/patch_loader.go's
// reloadIRIfPatched does the same: always re-fetch the base artifact and
// reapply every patch in the chain).
package patch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/noetl/noetl/internal/playbook"
	"github.com/noetl/noetl/internal/value"
)

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

// fromJSONNative mirrors value.FromNative but decodes json.Number (the
// type encoding/json produces when a Decoder has UseNumber() set) into an
// Int when it parses as one and a Float otherwise, so a patched integer
// field like `chunk` survives the JSON Patch round trip as an Int instead
// of silently becoming a Float (plain json.Unmarshal into interface{}
// always produces float64, which would break LoopSpec.Chunk's c.Int() read).
func fromJSONNative(n interface{}) value.Value {
	switch t := n.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return value.Int(i)
		}
		f, _ := t.Float64()
		return value.Float(f)
	case []interface{}:
		out := make([]value.Value, len(t))
		for i, e := range t {
			out[i] = fromJSONNative(e)
		}
		return value.List(out...)
	case map[string]interface{}:
		out := make(map[string]value.Value, len(t))
		for k, e := range t {
			out[k] = fromJSONNative(e)
		}
		return value.Map(out)
	default:
		return value.FromNative(n)
	}
}

// Record is one submitted patch in an execution's patch chain.
type Record struct {
	Seq         int
	Operations  json.RawMessage
	Description string
	CreatedBy   string
}

// Store persists and replays an execution's patch chain. A patch is never
// applied to the previously-patched document; Apply always starts from the
// base playbook and replays every record in seq order, matching the
// teacher's "always rebuild from the base artifact" rule.
type Store interface {
	// Append validates and stores a new patch at the next sequence number
	// for executionID, returning the stored record.
	Append(ctx context.Context, executionID string, operations json.RawMessage, description, createdBy string) (Record, error)

	// List returns an execution's patch chain in seq order.
	List(ctx context.Context, executionID string) ([]Record, error)
}

// Validator enforces the safe-path allow-list spec SPEC_FULL.md §3.1
// describes: no structural patch to the root (first) step, and no patch
// targeting a step that has already completed.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

// allowedOps lists the RFC 6902 op types this module accepts; "copy" and
// "move" can relocate a completed step's subtree past the allow-list check
// below, so only add/replace/remove/test are accepted.
var allowedOps = map[string]bool{"add": true, "replace": true, "remove": true, "test": true}

// Validate checks one patch document's operations against the allow-list.
// completedSteps is the set of step names an executor is no longer free to
// touch (spec.md materializes one workflow row per step, so a completed
// step's row is keyed by /workflow/{index}; callers resolve indices to
// names before calling Validate so renumbering across patches doesn't
// invalidate the check).
func (val *Validator) Validate(ops []Operation, pb *playbook.Playbook, completedSteps map[string]bool) error {
	for i, op := range ops {
		if !allowedOps[op.Op] {
			return fmt.Errorf("patch: operation %d: unsupported op %q", i, op.Op)
		}
		if op.Path == "" {
			return fmt.Errorf("patch: operation %d: missing path", i)
		}

		idx, ok := workflowIndex(op.Path)
		if !ok {
			continue // a path outside /workflow/... (e.g. /workbook/...) is unrestricted
		}

		if idx == 0 && op.Op != "test" {
			return fmt.Errorf("patch: operation %d: structural patch to the root step (/workflow/0) is not allowed", i)
		}
		if idx >= 0 && idx < len(pb.Workflow) {
			name := pb.Workflow[idx].Name
			if completedSteps[name] {
				return fmt.Errorf("patch: operation %d: step %q has already completed and cannot be patched", i, name)
			}
		}
	}
	return nil
}

// workflowIndex extracts the numeric index from a "/workflow/{n}/..." JSON
// Pointer path. Paths like "/workflow/-" (append) return ok=false, since
// there is no existing step to check against the root/completed rules.
func workflowIndex(path string) (int, bool) {
	const prefix = "/workflow/"
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return 0, false
	}
	rest := path[len(prefix):]
	end := len(rest)
	for i, c := range rest {
		if c == '/' {
			end = i
			break
		}
	}
	var n int
	if _, err := fmt.Sscanf(rest[:end], "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// Operation is one RFC 6902 JSON Patch operation, decoded just far enough
// to run allow-list validation; Apply hands the original raw bytes to
// evanphx/json-patch for the actual patching semantics.
type Operation struct {
	Op   string `json:"op"`
	Path string `json:"path"`
}

// ParseOperations decodes a JSON Patch document's operations for
// validation purposes.
func ParseOperations(raw json.RawMessage) ([]Operation, error) {
	var ops []Operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("patch: decode operations: %w", err)
	}
	return ops, nil
}

// Apply replays base's JSON form through every operations document in
// chain, in order, and reparses the result into a Playbook (spec.md §4.E
// shape), never mutating base itself.
func Apply(base *playbook.Playbook, chain []Record) (*playbook.Playbook, error) {
	baseJSON, err := json.Marshal(toDocument(base).Native())
	if err != nil {
		return nil, fmt.Errorf("patch: marshal base: %w", err)
	}

	doc := baseJSON
	for _, rec := range chain {
		p, err := jsonpatch.DecodePatch(rec.Operations)
		if err != nil {
			return nil, fmt.Errorf("patch: seq %d: decode: %w", rec.Seq, err)
		}
		doc, err = p.Apply(doc)
		if err != nil {
			return nil, fmt.Errorf("patch: seq %d: apply: %w", rec.Seq, err)
		}
	}

	dec := json.NewDecoder(bytesReader(doc))
	dec.UseNumber()
	var native interface{}
	if err := dec.Decode(&native); err != nil {
		return nil, fmt.Errorf("patch: decode patched document: %w", err)
	}

	return playbook.ParseValue(base.Path, base.Version, fromJSONNative(native))
}

// toDocument reconstructs the {workload, workflow, workbook} document a
// playbook was parsed from, as a value.Value, for JSON Patch targeting.
func toDocument(pb *playbook.Playbook) value.Value {
	workflow := make([]value.Value, len(pb.Workflow))
	for i, s := range pb.Workflow {
		workflow[i] = s.Raw
	}
	workbook := make([]value.Value, 0, len(pb.Workbook))
	for _, t := range pb.Workbook {
		workbook = append(workbook, t.Raw)
	}
	return value.Map(map[string]value.Value{
		"workload": pb.Workload,
		"workflow": value.List(workflow...),
		"workbook": value.List(workbook...),
	})
}

// MemoryStore is a Store for tests and for embedding without a database.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string][]Record{}}
}

func (s *MemoryStore) Append(ctx context.Context, executionID string, operations json.RawMessage, description, createdBy string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := len(s.records[executionID]) + 1
	rec := Record{Seq: seq, Operations: operations, Description: description, CreatedBy: createdBy}
	s.records[executionID] = append(s.records[executionID], rec)
	return rec, nil
}

func (s *MemoryStore) List(ctx context.Context, executionID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records[executionID]))
	copy(out, s.records[executionID])
	return out, nil
}
