package queue

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

// PostgresStore is the durable Work Queue backed by Postgres (spec.md §4.B).
// Schema (informational):
//
//	CREATE TABLE queue (
//	  queue_id bigserial PRIMARY KEY,
//	  execution_id text NOT NULL,
//	  node_id text NOT NULL,
//	  node_name text NOT NULL DEFAULT '',
//	  action jsonb, input_context jsonb,
//	  status text NOT NULL,
//	  priority int NOT NULL DEFAULT 0,
//	  attempts int NOT NULL DEFAULT 0,
//	  max_attempts int NOT NULL DEFAULT 5,
//	  available_at timestamptz NOT NULL,
//	  lease_until timestamptz,
//	  worker_id text,
//	  heartbeat_at timestamptz,
//	  last_error text
//	);
//	CREATE INDEX queue_lease_idx ON queue (status, priority DESC, queue_id) WHERE status = 'queued';
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

func (s *PostgresStore) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	available := req.AvailableAt
	if available.IsZero() {
		available = time.Now()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing int64
	err = tx.QueryRow(ctx, `
		SELECT queue_id FROM queue
		WHERE execution_id = $1 AND node_id = $2 AND status IN ('queued','leased')
		FOR UPDATE
	`, req.ExecutionID, req.NodeID).Scan(&existing)
	if err == nil {
		return existing, tx.Commit(ctx)
	}
	if err != pgx.ErrNoRows {
		return 0, fmt.Errorf("queue: check existing: %w", err)
	}

	action, _ := json.Marshal(req.Action.Native())
	inputCtx, _ := json.Marshal(req.InputContext.Native())

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO queue (execution_id, node_id, node_name, action, input_context, status, priority, attempts, max_attempts, available_at)
		VALUES ($1,$2,$3,$4,$5,'queued',$6,0,$7,$8)
		RETURNING queue_id
	`, req.ExecutionID, req.NodeID, req.NodeName, action, inputCtx, req.Priority, maxAttempts, available).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("queue: enqueue: %w", err)
	}
	return id, tx.Commit(ctx)
}

// Lease uses SELECT ... FOR UPDATE SKIP LOCKED so concurrent leasers never
// block on each other (spec.md §4.B, §5 "Shared resource policy").
func (s *PostgresStore) Lease(ctx context.Context, workerID string, leaseSeconds int) (model.QueueJob, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return model.QueueJob{}, fmt.Errorf("queue: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT queue_id FROM queue
		WHERE status = 'queued' AND available_at <= now()
		ORDER BY priority DESC, queue_id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`)
	var id int64
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return model.QueueJob{}, ErrEmpty
		}
		return model.QueueJob{}, fmt.Errorf("queue: lease select: %w", err)
	}

	until := time.Now().Add(time.Duration(leaseSeconds) * time.Second)
	_, err = tx.Exec(ctx, `
		UPDATE queue SET status = 'leased', worker_id = $2, lease_until = $3, attempts = attempts + 1
		WHERE queue_id = $1
	`, id, workerID, until)
	if err != nil {
		return model.QueueJob{}, fmt.Errorf("queue: lease update: %w", err)
	}

	job, err := scanQueueRow(tx.QueryRow(ctx, selectQueueColumns+` FROM queue WHERE queue_id = $1`, id))
	if err != nil {
		return model.QueueJob{}, err
	}
	return job, tx.Commit(ctx)
}

const selectQueueColumns = `
	SELECT queue_id, execution_id, node_id, node_name, action, input_context, status, priority,
	       attempts, max_attempts, available_at, lease_until, worker_id, heartbeat_at, last_error`

func scanQueueRow(row pgx.Row) (model.QueueJob, error) {
	var j model.QueueJob
	var action, inputCtx []byte
	var workerID, lastError *string
	var leaseUntil, heartbeatAt *time.Time

	if err := row.Scan(
		&j.QueueID, &j.ExecutionID, &j.NodeID, &j.NodeName, &action, &inputCtx, &j.Status, &j.Priority,
		&j.Attempts, &j.MaxAttempts, &j.AvailableAt, &leaseUntil, &workerID, &heartbeatAt, &lastError,
	); err != nil {
		return j, fmt.Errorf("queue: scan job: %w", err)
	}
	j.Action = decodeValue(action)
	j.InputContext = decodeValue(inputCtx)
	j.LeaseUntil = leaseUntil
	j.HeartbeatAt = heartbeatAt
	if workerID != nil {
		j.WorkerID = *workerID
	}
	if lastError != nil {
		j.LastError = *lastError
	}
	return j, nil
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

func (s *PostgresStore) Complete(ctx context.Context, queueID int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE queue SET status = 'done' WHERE queue_id = $1 AND status NOT IN ('done','dead')
	`, queueID)
	if err != nil {
		return fmt.Errorf("queue: complete: %w", err)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, queueID int64, retry bool, retryDelay time.Duration, lastErr string) error {
	if retry {
		_, err := s.db.Exec(ctx, `
			UPDATE queue SET status = CASE WHEN attempts < max_attempts THEN 'queued' ELSE 'dead' END,
			                  available_at = now() + $2::interval,
			                  worker_id = CASE WHEN attempts < max_attempts THEN NULL ELSE worker_id END,
			                  lease_until = CASE WHEN attempts < max_attempts THEN NULL ELSE lease_until END,
			                  last_error = $3
			WHERE queue_id = $1 AND status NOT IN ('done','dead')
		`, queueID, retryDelay.String(), lastErr)
		if err != nil {
			return fmt.Errorf("queue: fail (retry): %w", err)
		}
		return nil
	}
	_, err := s.db.Exec(ctx, `
		UPDATE queue SET status = 'dead', last_error = $2
		WHERE queue_id = $1 AND status NOT IN ('done','dead')
	`, queueID, lastErr)
	if err != nil {
		return fmt.Errorf("queue: fail (dead): %w", err)
	}
	return nil
}

func (s *PostgresStore) Heartbeat(ctx context.Context, queueID int64, workerID string, extend time.Duration) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE queue SET heartbeat_at = now(), lease_until = now() + $3::interval
		WHERE queue_id = $1 AND worker_id = $2
	`, queueID, workerID, extend.String())
	if err != nil {
		return fmt.Errorf("queue: heartbeat: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("queue: worker %s does not hold lease on job %d", workerID, queueID)
	}
	return nil
}

func (s *PostgresStore) ReapExpired(ctx context.Context) (int, error) {
	cmd, err := s.db.Exec(ctx, `
		UPDATE queue SET status = 'queued', worker_id = NULL, lease_until = NULL
		WHERE status = 'leased' AND lease_until < now()
	`)
	if err != nil {
		return 0, fmt.Errorf("queue: reap_expired: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}

func (s *PostgresStore) Get(ctx context.Context, queueID int64) (model.QueueJob, bool, error) {
	job, err := scanQueueRow(s.db.QueryRow(ctx, selectQueueColumns+` FROM queue WHERE queue_id = $1`, queueID))
	if err == pgx.ErrNoRows {
		return model.QueueJob{}, false, nil
	}
	if err != nil {
		return model.QueueJob{}, false, err
	}
	return job, true, nil
}

func (s *PostgresStore) List(ctx context.Context, status model.QueueStatus, limit int) ([]model.QueueJob, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = s.db.Query(ctx, selectQueueColumns+` FROM queue ORDER BY queue_id ASC LIMIT $1`, limit)
	} else {
		rows, err = s.db.Query(ctx, selectQueueColumns+` FROM queue WHERE status = $1 ORDER BY queue_id ASC LIMIT $2`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	defer rows.Close()

	var out []model.QueueJob
	for rows.Next() {
		j, err := scanQueueRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ExistsActive(ctx context.Context, executionID, nodeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM queue WHERE execution_id = $1 AND node_id = $2 AND status IN ('queued','leased','done')
		)
	`, executionID, nodeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("queue: exists_active: %w", err)
	}
	return exists, nil
}
