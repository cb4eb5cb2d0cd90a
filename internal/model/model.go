// Package model holds the durable data-model types shared by the event
// log, work queue, playbook materialization, and broker packages (spec.md §3).
package model

import (
	"time"

	"github.com/noetl/noetl/internal/value"
)

// EventType enumerates the event_type values spec.md §3 lists.
type EventType string

const (
	EventExecutionStart EventType = "execution_start"
	EventActionStarted  EventType = "action_started"
	EventActionCompleted EventType = "action_completed"
	EventActionError    EventType = "action_error"
	EventResult         EventType = "result"
	EventLoopIteration  EventType = "loop_iteration"
	EventLoopCompleted  EventType = "loop_completed"
	EventEndLoop        EventType = "end_loop"
	EventTransition     EventType = "transition"
	EventContextUpdate  EventType = "context_update"
)

// Status is the normalized status set from spec.md §3 invariants.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	// StatusFailed is execution-scope terminal: spec.md §7 "any event with
	// failed status at execution scope causes the broker to stop
	// scheduling". Only a non-retryable error, or a retryable one that has
	// exhausted its attempts (§7 "Max attempts exceeded: terminal dead"),
	// carries this status.
	StatusFailed Status = "failed"
	// StatusRetrying marks a per-attempt action_error that the queue will
	// re-lease (§8 scenario 4): it must never trip the broker's
	// failed-event early stop, since the execution is expected to keep
	// making progress once the retry succeeds.
	StatusRetrying Status = "retrying"
)

// NormalizeStatus maps a raw status string from an executor/worker into the
// canonical set (spec.md §6 "Status normalization").
func NormalizeStatus(raw string) Status {
	switch raw {
	case "completed", "success", "done", "ok":
		return StatusCompleted
	case "failed", "error", "failure":
		return StatusFailed
	case "running", "started", "in_progress":
		return StatusRunning
	case "pending", "queued", "":
		return StatusPending
	default:
		return StatusPending
	}
}

// Event is the immutable append-only record described in spec.md §3.
type Event struct {
	EventID       string     `json:"event_id"`
	ParentEventID *string    `json:"parent_event_id,omitempty"`
	ExecutionID   string     `json:"execution_id"`
	Timestamp     time.Time  `json:"timestamp"`
	SequenceNum   int64      `json:"sequence_num"`
	EventType     EventType  `json:"event_type"`
	Status        Status     `json:"status"`
	NodeID        string     `json:"node_id"`
	NodeName      string     `json:"node_name"`
	NodeType      string     `json:"node_type"`
	InputContext  value.Value `json:"input_context"`
	OutputResult  value.Value `json:"output_result"`
	Metadata      value.Value `json:"metadata"`

	LoopID       string      `json:"loop_id,omitempty"`
	LoopName     string      `json:"loop_name,omitempty"`
	Iterator     string      `json:"iterator,omitempty"`
	CurrentIndex *int        `json:"current_index,omitempty"`
	CurrentItem  value.Value `json:"current_item,omitempty"`

	Error string `json:"error,omitempty"`
}

// IsLoopIteration reports whether the event is a loop iteration event,
// i.e. whether it carries a current_index.
func (e Event) IsLoopIteration() bool {
	return e.CurrentIndex != nil
}

// Execution is the root aggregate identified by execution_id (spec.md §3).
type Execution struct {
	ExecutionID    string      `json:"execution_id"`
	PlaybookPath   string      `json:"playbook_path"`
	PlaybookVersion string     `json:"playbook_version"`
	Workload       value.Value `json:"workload"`
	Status         Status      `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// QueueStatus enumerates the work-queue row lifecycle (spec.md §3).
type QueueStatus string

const (
	QueueQueued QueueStatus = "queued"
	QueueLeased QueueStatus = "leased"
	QueueDone   QueueStatus = "done"
	QueueDead   QueueStatus = "dead"
)

// QueueJob is a row in the work queue table (spec.md §3).
type QueueJob struct {
	QueueID      int64       `json:"queue_id"`
	ExecutionID  string      `json:"execution_id"`
	NodeID       string      `json:"node_id"`
	NodeName     string      `json:"node_name"`
	Action       value.Value `json:"action"`
	InputContext value.Value `json:"input_context"`
	Status       QueueStatus `json:"status"`
	Priority     int         `json:"priority"`
	Attempts     int         `json:"attempts"`
	MaxAttempts  int         `json:"max_attempts"`
	AvailableAt  time.Time   `json:"available_at"`
	LeaseUntil   *time.Time  `json:"lease_until,omitempty"`
	WorkerID     string      `json:"worker_id,omitempty"`
	HeartbeatAt  *time.Time  `json:"heartbeat_at,omitempty"`
	LastError    string      `json:"last_error,omitempty"`
}

// WorkflowStep is a denormalized projection row (spec.md §3
// "workflow(execution_id, step_id, step_name, step_type, description, raw_config)").
type WorkflowStep struct {
	ExecutionID string      `json:"execution_id"`
	StepID      string      `json:"step_id"`
	StepName    string      `json:"step_name"`
	StepType    string      `json:"step_type"`
	Description string      `json:"description"`
	RawConfig   value.Value `json:"raw_config"`
}

// Transition is a denormalized projection row (spec.md §3
// "transition(execution_id, from_step, to_step, condition, with_params)").
type Transition struct {
	ExecutionID string      `json:"execution_id"`
	FromStep    string      `json:"from_step"`
	ToStep      string      `json:"to_step"`
	Condition   string      `json:"condition"`
	WithParams  value.Value `json:"with_params"`
}

// WorkbookTask is a denormalized projection row (spec.md §3
// "workbook(execution_id, task_id, task_name, task_type, raw_config)").
type WorkbookTask struct {
	ExecutionID string      `json:"execution_id"`
	TaskID      string      `json:"task_id"`
	TaskName    string      `json:"task_name"`
	TaskType    string      `json:"task_type"`
	RawConfig   value.Value `json:"raw_config"`
}

// ErrorLogEntry records an action_error event in the side-table spec.md
// §4.A describes ("record in a side-table error_log with stack trace and
// severity").
type ErrorLogEntry struct {
	EventID     string    `json:"event_id"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	Severity    string    `json:"severity"`
	Message     string    `json:"message"`
	StackTrace  string    `json:"stack_trace,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
