// Package eventlog implements the Event Log subsystem (spec.md §4.A): the
// append-only, sole-source-of-truth record of execution state. Grounded on
// the teacher's common/repository/run.go pgx repository pattern, generalized
// from a single "run" row to an append-only event stream, and on
// original_source/noetl/api/event.py for emit/idempotency semantics.
package eventlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/value"
)

// Store is the Event Log's operation set (spec.md §4.A).
type Store interface {
	// Emit upserts an event by (execution_id, event_id); duplicate emits are
	// idempotent. If event_type is execution_start, the execution's initial
	// workload is upserted atomically alongside it. If event_type is
	// action_error, a row is appended to the error_log side-table (spec.md
	// §4.A "emit() of an error event records it") regardless of which
	// caller emitted it — a remote worker reporting over HTTP and the REST
	// handler both end up recording the same way.
	Emit(ctx context.Context, e model.Event) error

	// GetEvents returns all events for an execution, in the total order
	// spec.md §5 defines (timestamp, ties broken by insertion rank).
	GetEvents(ctx context.Context, executionID string) ([]model.Event, error)

	// GetLatestByStep returns the most recent event recorded for node_name,
	// or false if none exists.
	GetLatestByStep(ctx context.Context, executionID, nodeName string) (model.Event, bool, error)

	// FindError returns the earliest event for an execution that has failed
	// status or is an action_error, or false if the execution has none.
	FindError(ctx context.Context, executionID string) (model.Event, bool, error)

	// GetExecution returns the execution row created by the first
	// execution_start event.
	GetExecution(ctx context.Context, executionID string) (model.Execution, bool, error)

	// ListExecutions returns execution summaries for GET /executions.
	ListExecutions(ctx context.Context, limit int) ([]model.Execution, error)

	// UpdateExecutionStatus sets the execution's terminal/lifecycle status.
	UpdateExecutionStatus(ctx context.Context, executionID string, status model.Status) error

	// RecordError appends a row to the error_log side-table (spec.md §4.A).
	RecordError(ctx context.Context, entry model.ErrorLogEntry) error
}

// MemoryStore is an in-memory Store used by broker/loop/render tests so they
// run without a database, and by the reference CLI for dry runs.
type MemoryStore struct {
	mu         sync.Mutex
	events     map[string][]model.Event // keyed by execution_id, insertion order
	executions map[string]model.Execution
	errors     []model.ErrorLogEntry
	seq        int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     make(map[string][]model.Event),
		executions: make(map[string]model.Execution),
	}
}

func (s *MemoryStore) Emit(ctx context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.EventID == "" {
		return fmt.Errorf("eventlog: event_id required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	list := s.events[e.ExecutionID]
	for i, existing := range list {
		if existing.EventID == e.EventID {
			list[i] = e // idempotent upsert
			return nil
		}
	}
	s.seq++
	e.SequenceNum = s.seq
	s.events[e.ExecutionID] = append(list, e)

	if e.EventType == model.EventExecutionStart {
		if _, exists := s.executions[e.ExecutionID]; !exists {
			s.executions[e.ExecutionID] = model.Execution{
				ExecutionID:     e.ExecutionID,
				PlaybookPath:    playbookPathOf(e),
				PlaybookVersion: playbookVersionOf(e),
				Workload:        e.InputContext,
				Status:          model.StatusRunning,
				CreatedAt:       e.Timestamp,
				UpdatedAt:       e.Timestamp,
			}
		}
	}

	if e.Status == model.StatusFailed || e.Status == model.StatusCompleted {
		if exec, ok := s.executions[e.ExecutionID]; ok {
			exec.UpdatedAt = e.Timestamp
			s.executions[e.ExecutionID] = exec
		}
	}

	if e.EventType == model.EventActionError && e.Error != "" {
		s.errors = append(s.errors, model.ErrorLogEntry{
			EventID:     e.EventID,
			ExecutionID: e.ExecutionID,
			NodeID:      e.NodeID,
			Severity:    "error",
			Message:     e.Error,
			CreatedAt:   e.Timestamp,
		})
	}

	return nil
}

func (s *MemoryStore) GetEvents(ctx context.Context, executionID string) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append([]model.Event(nil), s.events[executionID]...)
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].Timestamp.Before(list[j].Timestamp)
		}
		return list[i].SequenceNum < list[j].SequenceNum
	})
	return list, nil
}

func (s *MemoryStore) GetLatestByStep(ctx context.Context, executionID, nodeName string) (model.Event, bool, error) {
	events, _ := s.GetEvents(ctx, executionID)
	var latest model.Event
	found := false
	for _, e := range events {
		if e.NodeName == nodeName {
			latest = e
			found = true
		}
	}
	return latest, found, nil
}

// FindError returns the earliest event for an execution that either has
// failed status or is an action_error (spec.md §7 "the earliest
// action_error event carries diagnostics"). A retryable action_error is
// included even though it carries StatusRetrying, not StatusFailed, until
// its attempts are exhausted.
func (s *MemoryStore) FindError(ctx context.Context, executionID string) (model.Event, bool, error) {
	events, _ := s.GetEvents(ctx, executionID)
	for _, e := range events {
		if e.Status == model.StatusFailed || e.EventType == model.EventActionError {
			return e, true, nil
		}
	}
	return model.Event{}, false, nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, executionID string) (model.Execution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	return exec, ok, nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, limit int) ([]model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Execution, 0, len(s.executions))
	for _, e := range s.executions {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateExecutionStatus(ctx context.Context, executionID string, status model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return fmt.Errorf("eventlog: unknown execution %s", executionID)
	}
	exec.Status = status
	exec.UpdatedAt = time.Now().UTC()
	s.executions[executionID] = exec
	return nil
}

func (s *MemoryStore) RecordError(ctx context.Context, entry model.ErrorLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, entry)
	return nil
}

// Errors exposes recorded error_log rows (test/introspection helper).
func (s *MemoryStore) Errors() []model.ErrorLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ErrorLogEntry(nil), s.errors...)
}

// playbookPathOf and playbookVersionOf mirror internal/broker's PlaybookRef
// precedence (input_context first, metadata as fallback) so an execution
// row carries the same playbook reference the broker will resolve from the
// same execution_start event, whichever storage backend records it.
func playbookPathOf(e model.Event) string {
	if p, ok := e.InputContext.Get("path"); ok && p.Kind() == value.KindString {
		return p.String()
	}
	if p, ok := e.Metadata.Get("playbook_path"); ok {
		return p.String()
	}
	if p, ok := e.Metadata.Get("resource_path"); ok {
		return p.String()
	}
	return ""
}

func playbookVersionOf(e model.Event) string {
	if v, ok := e.InputContext.Get("version"); ok && v.Kind() == value.KindString {
		return v.String()
	}
	if v, ok := e.Metadata.Get("resource_version"); ok {
		return v.String()
	}
	return ""
}
