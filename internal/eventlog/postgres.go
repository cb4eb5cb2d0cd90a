package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/noetl/noetl/common/db"
	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/value"
)

// PostgresStore is the durable Event Log backed by Postgres (spec.md §4.A,
// §5 "all mutations go through SQL with appropriate locking"). Schema
// (informational; migrations are expected to be applied out of band):
//
//	CREATE TABLE event (
//	  event_id text NOT NULL,
//	  execution_id text NOT NULL,
//	  parent_event_id text,
//	  sequence_num bigserial,
//	  "timestamp" timestamptz NOT NULL,
//	  event_type text NOT NULL,
//	  status text NOT NULL,
//	  node_id text, node_name text, node_type text,
//	  input_context jsonb, output_result jsonb, metadata jsonb,
//	  loop_id text, loop_name text, iterator text,
//	  current_index int, current_item jsonb,
//	  error text,
//	  PRIMARY KEY (execution_id, event_id)
//	);
//	CREATE TABLE execution (
//	  execution_id text PRIMARY KEY,
//	  playbook_path text, playbook_version text,
//	  workload jsonb, status text,
//	  created_at timestamptz, updated_at timestamptz
//	);
//	CREATE TABLE error_log (
//	  event_id text UNIQUE, execution_id text, node_id text,
//	  severity text, message text, stack_trace text, created_at timestamptz
//	);
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

func (s *PostgresStore) Emit(ctx context.Context, e model.Event) error {
	if e.EventID == "" {
		return fmt.Errorf("eventlog: event_id required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	inputCtx, err := json.Marshal(e.InputContext.Native())
	if err != nil {
		return fmt.Errorf("eventlog: marshal input_context: %w", err)
	}
	output, err := json.Marshal(e.OutputResult.Native())
	if err != nil {
		return fmt.Errorf("eventlog: marshal output_result: %w", err)
	}
	metadata, err := json.Marshal(e.Metadata.Native())
	if err != nil {
		return fmt.Errorf("eventlog: marshal metadata: %w", err)
	}
	currentItem, err := json.Marshal(e.CurrentItem.Native())
	if err != nil {
		return fmt.Errorf("eventlog: marshal current_item: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("eventlog: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Upsert by (execution_id, event_id): duplicate emits are idempotent.
	_, err = tx.Exec(ctx, `
		INSERT INTO event (
			event_id, execution_id, parent_event_id, "timestamp", event_type, status,
			node_id, node_name, node_type, input_context, output_result, metadata,
			loop_id, loop_name, iterator, current_index, current_item, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (execution_id, event_id) DO UPDATE SET
			"timestamp" = EXCLUDED."timestamp",
			event_type = EXCLUDED.event_type,
			status = EXCLUDED.status,
			output_result = EXCLUDED.output_result,
			metadata = EXCLUDED.metadata,
			error = EXCLUDED.error
	`,
		e.EventID, e.ExecutionID, e.ParentEventID, e.Timestamp, e.EventType, e.Status,
		e.NodeID, e.NodeName, e.NodeType, inputCtx, output, metadata,
		nullIfEmpty(e.LoopID), nullIfEmpty(e.LoopName), nullIfEmpty(e.Iterator),
		e.CurrentIndex, currentItem, nullIfEmpty(e.Error),
	)
	if err != nil {
		return fmt.Errorf("eventlog: emit: %w", err)
	}

	if e.EventType == model.EventExecutionStart {
		workload, _ := json.Marshal(e.InputContext.Native())
		_, err = tx.Exec(ctx, `
			INSERT INTO execution (execution_id, playbook_path, playbook_version, workload, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (execution_id) DO NOTHING
		`, e.ExecutionID, playbookPathOf(e), playbookVersionOf(e), workload, model.StatusRunning, e.Timestamp)
		if err != nil {
			return fmt.Errorf("eventlog: upsert execution: %w", err)
		}
	}

	if e.Status == model.StatusFailed || e.Status == model.StatusCompleted {
		_, err = tx.Exec(ctx, `
			UPDATE execution SET updated_at = $2 WHERE execution_id = $1
		`, e.ExecutionID, e.Timestamp)
		if err != nil {
			return fmt.Errorf("eventlog: touch execution: %w", err)
		}
	}

	if e.EventType == model.EventActionError && e.Error != "" {
		_, err = tx.Exec(ctx, `
			INSERT INTO error_log (event_id, execution_id, node_id, severity, message, created_at)
			VALUES ($1,$2,$3,'error',$4,$5)
			ON CONFLICT (event_id) DO NOTHING
		`, e.EventID, e.ExecutionID, e.NodeID, e.Error, e.Timestamp)
		if err != nil {
			return fmt.Errorf("eventlog: record error_log: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}


func (s *PostgresStore) GetEvents(ctx context.Context, executionID string) ([]model.Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT event_id, execution_id, parent_event_id, sequence_num, "timestamp", event_type, status,
		       node_id, node_name, node_type, input_context, output_result, metadata,
		       loop_id, loop_name, iterator, current_index, current_item, error
		FROM event WHERE execution_id = $1
		ORDER BY "timestamp" ASC, sequence_num ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: get_events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(rows pgx.Rows) (model.Event, error) {
	var e model.Event
	var inputCtx, output, metadata, currentItem []byte
	var parentEventID *string

	if err := rows.Scan(
		&e.EventID, &e.ExecutionID, &parentEventID, &e.SequenceNum, &e.Timestamp, &e.EventType, &e.Status,
		&e.NodeID, &e.NodeName, &e.NodeType, &inputCtx, &output, &metadata,
		&e.LoopID, &e.LoopName, &e.Iterator, &e.CurrentIndex, &currentItem, &e.Error,
	); err != nil {
		return e, fmt.Errorf("eventlog: scan event: %w", err)
	}
	e.ParentEventID = parentEventID
	e.InputContext = decodeValue(inputCtx)
	e.OutputResult = decodeValue(output)
	e.Metadata = decodeValue(metadata)
	e.CurrentItem = decodeValue(currentItem)
	return e, nil
}

func decodeValue(raw []byte) value.Value {
	if len(raw) == 0 {
		return value.Null()
	}
	var n interface{}
	if err := json.Unmarshal(raw, &n); err != nil {
		return value.Null()
	}
	return value.FromNative(n)
}

func (s *PostgresStore) GetLatestByStep(ctx context.Context, executionID, nodeName string) (model.Event, bool, error) {
	rows, err := s.db.Query(ctx, `
		SELECT event_id, execution_id, parent_event_id, sequence_num, "timestamp", event_type, status,
		       node_id, node_name, node_type, input_context, output_result, metadata,
		       loop_id, loop_name, iterator, current_index, current_item, error
		FROM event WHERE execution_id = $1 AND node_name = $2
		ORDER BY "timestamp" DESC, sequence_num DESC LIMIT 1
	`, executionID, nodeName)
	if err != nil {
		return model.Event{}, false, fmt.Errorf("eventlog: get_latest_by_step: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return model.Event{}, false, nil
	}
	e, err := scanEvent(rows)
	return e, err == nil, err
}

// FindError returns the earliest event for an execution that either has
// failed status or is an action_error (spec.md §7). A retryable
// action_error is included even though it carries StatusRetrying, not
// StatusFailed, until its attempts are exhausted.
func (s *PostgresStore) FindError(ctx context.Context, executionID string) (model.Event, bool, error) {
	rows, err := s.db.Query(ctx, `
		SELECT event_id, execution_id, parent_event_id, sequence_num, "timestamp", event_type, status,
		       node_id, node_name, node_type, input_context, output_result, metadata,
		       loop_id, loop_name, iterator, current_index, current_item, error
		FROM event WHERE execution_id = $1 AND (status = $2 OR event_type = $3)
		ORDER BY "timestamp" ASC, sequence_num ASC LIMIT 1
	`, executionID, model.StatusFailed, model.EventActionError)
	if err != nil {
		return model.Event{}, false, fmt.Errorf("eventlog: find_error: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return model.Event{}, false, nil
	}
	e, err := scanEvent(rows)
	return e, err == nil, err
}

func (s *PostgresStore) GetExecution(ctx context.Context, executionID string) (model.Execution, bool, error) {
	var exec model.Execution
	var workload []byte
	err := s.db.QueryRow(ctx, `
		SELECT execution_id, playbook_path, playbook_version, workload, status, created_at, updated_at
		FROM execution WHERE execution_id = $1
	`, executionID).Scan(&exec.ExecutionID, &exec.PlaybookPath, &exec.PlaybookVersion, &workload, &exec.Status, &exec.CreatedAt, &exec.UpdatedAt)
	if err == pgx.ErrNoRows {
		return model.Execution{}, false, nil
	}
	if err != nil {
		return model.Execution{}, false, fmt.Errorf("eventlog: get_execution: %w", err)
	}
	exec.Workload = decodeValue(workload)
	return exec, true, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, limit int) ([]model.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT execution_id, playbook_path, playbook_version, workload, status, created_at, updated_at
		FROM execution ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list_executions: %w", err)
	}
	defer rows.Close()

	var out []model.Execution
	for rows.Next() {
		var exec model.Execution
		var workload []byte
		if err := rows.Scan(&exec.ExecutionID, &exec.PlaybookPath, &exec.PlaybookVersion, &workload, &exec.Status, &exec.CreatedAt, &exec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan execution: %w", err)
		}
		exec.Workload = decodeValue(workload)
		out = append(out, exec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateExecutionStatus(ctx context.Context, executionID string, status model.Status) error {
	_, err := s.db.Exec(ctx, `
		UPDATE execution SET status = $2, updated_at = now() WHERE execution_id = $1
	`, executionID, status)
	if err != nil {
		return fmt.Errorf("eventlog: update_execution_status: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordError(ctx context.Context, entry model.ErrorLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO error_log (event_id, execution_id, node_id, severity, message, stack_trace, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.EventID, entry.ExecutionID, entry.NodeID, entry.Severity, entry.Message, entry.StackTrace, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("eventlog: record_error: %w", err)
	}
	return nil
}
