package cas

import (
	"context"
	"fmt"

	"github.com/noetl/noetl/common/db"
)

// PostgresStore is the durable Store, grounded on the teacher's
// cmd/orchestrator/repository/cas_blob.go (cas_blob table, content-hash
// primary key, ON CONFLICT DO NOTHING idempotent insert). Schema
// (informational; migrations are applied out of band):
//
//	CREATE TABLE IF NOT EXISTS cas_blob (
//	    cas_id     TEXT PRIMARY KEY,
//	    media_type TEXT NOT NULL,
//	    size_bytes BIGINT NOT NULL,
//	    content    BYTEA NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

func (s *PostgresStore) Put(ctx context.Context, data []byte, mediaType string) (string, error) {
	casID := hashOf(data)
	_, err := s.db.Exec(ctx,
		`INSERT INTO cas_blob (cas_id, media_type, size_bytes, content)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (cas_id) DO NOTHING`,
		casID, mediaType, int64(len(data)), data,
	)
	if err != nil {
		return "", fmt.Errorf("cas: insert: %w", err)
	}
	return casID, nil
}

func (s *PostgresStore) Get(ctx context.Context, casID string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRow(ctx,
		`SELECT content FROM cas_blob WHERE cas_id = $1`,
		casID,
	).Scan(&content)
	if err != nil {
		return nil, fmt.Errorf("cas: get %q: %w", casID, err)
	}
	return content, nil
}

func (s *PostgresStore) Exists(ctx context.Context, casID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM cas_blob WHERE cas_id = $1)`,
		casID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("cas: exists %q: %w", casID, err)
	}
	return exists, nil
}
