package patch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noetl/noetl/common/db"
)

// PostgresStore persists an execution's patch chain in a single table,
// grounded on the teacher's cmd/orchestrator/repository/run_patch.go
// (run_patches table keyed by run_id/seq, GetNextSeq via MAX(seq)+1).
// noetl_execution_patches replaces run_id with execution_id and stores the
// raw JSON Patch document directly rather than indirecting through a CAS
// blob/artifact row, since internal/cas already offers that indirection
// for callers who want it (large payload offload, SPEC_FULL §3.5) and the
// patch documents themselves are small.
//
// schema (applied out of band, like the teacher's other repositories):
//
//	CREATE TABLE IF NOT EXISTS noetl_execution_patches (
//	    execution_id TEXT NOT NULL,
//	    seq          INT  NOT NULL,
//	    operations   JSONB NOT NULL,
//	    description  TEXT NOT NULL DEFAULT '',
//	    created_by   TEXT NOT NULL DEFAULT '',
//	    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (execution_id, seq)
//	);
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

func (s *PostgresStore) Append(ctx context.Context, executionID string, operations json.RawMessage, description, createdBy string) (Record, error) {
	var seq int
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM noetl_execution_patches WHERE execution_id = $1`,
		executionID,
	).Scan(&seq)
	if err != nil {
		return Record{}, fmt.Errorf("patch: next seq: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO noetl_execution_patches (execution_id, seq, operations, description, created_by)
		 VALUES ($1, $2, $3, $4, $5)`,
		executionID, seq, operations, description, createdBy,
	)
	if err != nil {
		return Record{}, fmt.Errorf("patch: insert: %w", err)
	}

	return Record{Seq: seq, Operations: operations, Description: description, CreatedBy: createdBy}, nil
}

func (s *PostgresStore) List(ctx context.Context, executionID string) ([]Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT seq, operations, description, created_by
		 FROM noetl_execution_patches WHERE execution_id = $1 ORDER BY seq ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("patch: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Seq, &rec.Operations, &rec.Description, &rec.CreatedBy); err != nil {
			return nil, fmt.Errorf("patch: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("patch: rows: %w", err)
	}
	return out, nil
}
