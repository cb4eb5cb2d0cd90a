// Package queue implements the Work Queue subsystem (spec.md §4.B): a
// durable, lease-based job queue with at-least-once delivery, attempt
// accounting, and expiry reclamation. Grounded on the teacher's
// common/queue/queue.go in-memory channel queue, generalized to the
// SQL/Postgres lease model spec.md §3/§4.B/§5 mandates, and on
// original_source/noetl/server/api/queue/endpoint.py for the REST contract.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/value"
)

// ErrEmpty is returned by Lease when no job is available.
var ErrEmpty = errors.New("queue: empty")

// Store is the Work Queue's operation set (spec.md §4.B).
type Store interface {
	// Enqueue is idempotent keyed by (execution_id, node_id): if an active
	// queued/leased row already exists for that key, its id is returned
	// without inserting a new row.
	Enqueue(ctx context.Context, job EnqueueRequest) (int64, error)

	// Lease atomically selects the highest-priority queued row whose
	// available_at <= now, using row-level locking equivalent to
	// "SELECT ... FOR UPDATE SKIP LOCKED" to serialize concurrent leasers.
	Lease(ctx context.Context, workerID string, leaseSeconds int) (model.QueueJob, error)

	// Complete marks a job done; terminal rows are a no-op on re-complete.
	Complete(ctx context.Context, queueID int64) error

	// Fail requeues (if retry && attempts < max_attempts) or deadlines the job.
	Fail(ctx context.Context, queueID int64, retry bool, retryDelay time.Duration, lastErr string) error

	// Heartbeat extends a lease if workerID still holds it.
	Heartbeat(ctx context.Context, queueID int64, workerID string, extend time.Duration) error

	// ReapExpired resets leased-but-expired rows back to queued, preserving
	// attempts, and returns how many rows were reclaimed.
	ReapExpired(ctx context.Context) (int, error)

	// Get returns a single job by id.
	Get(ctx context.Context, queueID int64) (model.QueueJob, bool, error)

	// List returns jobs filtered by status (spec.md §6 "GET /queue?status=...").
	// An empty status lists all jobs.
	List(ctx context.Context, status model.QueueStatus, limit int) ([]model.QueueJob, error)

	// ExistsActive reports whether a queued/leased or completed job already
	// exists for (execution_id, node_id) — the broker's enqueue
	// deduplication guard (spec.md §4.F step 6, §8 "Idempotent enqueue").
	ExistsActive(ctx context.Context, executionID, nodeID string) (bool, error)
}

// EnqueueRequest carries the parameters of spec.md §4.B's enqueue operation.
type EnqueueRequest struct {
	ExecutionID  string
	NodeID       string
	NodeName     string // step name, carried through so the worker can report it on completion events without a playbook lookup
	Action       value.Value // action spec, base64-wrapped for opaque code/SQL by the caller
	InputContext value.Value
	Priority     int
	MaxAttempts  int
	AvailableAt  time.Time
}

// MemoryStore is an in-memory Store implementation used by broker/loop tests.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[int64]*model.QueueJob
	next int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[int64]*model.QueueJob)}
}

func (s *MemoryStore) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.ExecutionID == req.ExecutionID && j.NodeID == req.NodeID &&
			(j.Status == model.QueueQueued || j.Status == model.QueueLeased) {
			return j.QueueID, nil
		}
	}

	s.next++
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	available := req.AvailableAt
	if available.IsZero() {
		available = time.Now()
	}

	job := &model.QueueJob{
		QueueID:      s.next,
		ExecutionID:  req.ExecutionID,
		NodeID:       req.NodeID,
		NodeName:     req.NodeName,
		Status:       model.QueueQueued,
		Priority:     req.Priority,
		MaxAttempts:  maxAttempts,
		AvailableAt:  available,
		Action:       req.Action,
		InputContext: req.InputContext,
	}
	s.jobs[job.QueueID] = job
	return job.QueueID, nil
}

func (s *MemoryStore) Lease(ctx context.Context, workerID string, leaseSeconds int) (model.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var candidates []*model.QueueJob
	for _, j := range s.jobs {
		if j.Status == model.QueueQueued && !j.AvailableAt.After(now) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return model.QueueJob{}, ErrEmpty
	}

	// Higher priority first, FIFO (lower queue_id) within equal priority.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].QueueID < candidates[j].QueueID
	})

	job := candidates[0]
	job.Status = model.QueueLeased
	job.WorkerID = workerID
	until := now.Add(time.Duration(leaseSeconds) * time.Second)
	job.LeaseUntil = &until
	job.Attempts++
	return *job, nil
}

func (s *MemoryStore) Complete(ctx context.Context, queueID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[queueID]
	if !ok {
		return fmt.Errorf("queue: unknown job %d", queueID)
	}
	if job.Status == model.QueueDone || job.Status == model.QueueDead {
		return nil
	}
	job.Status = model.QueueDone
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, queueID int64, retry bool, retryDelay time.Duration, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[queueID]
	if !ok {
		return fmt.Errorf("queue: unknown job %d", queueID)
	}
	if job.Status == model.QueueDone || job.Status == model.QueueDead {
		return nil
	}
	job.LastError = lastErr
	if retry && job.Attempts < job.MaxAttempts {
		job.Status = model.QueueQueued
		job.AvailableAt = time.Now().Add(retryDelay)
		job.WorkerID = ""
		job.LeaseUntil = nil
	} else {
		job.Status = model.QueueDead
	}
	return nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, queueID int64, workerID string, extend time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[queueID]
	if !ok {
		return fmt.Errorf("queue: unknown job %d", queueID)
	}
	if job.WorkerID != workerID {
		return fmt.Errorf("queue: worker %s does not hold lease on job %d", workerID, queueID)
	}
	now := time.Now()
	job.HeartbeatAt = &now
	if extend > 0 {
		until := now.Add(extend)
		job.LeaseUntil = &until
	}
	return nil
}

func (s *MemoryStore) ReapExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	count := 0
	for _, j := range s.jobs {
		if j.Status == model.QueueLeased && j.LeaseUntil != nil && j.LeaseUntil.Before(now) {
			j.Status = model.QueueQueued
			j.WorkerID = ""
			j.LeaseUntil = nil
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Get(ctx context.Context, queueID int64) (model.QueueJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[queueID]
	if !ok {
		return model.QueueJob{}, false, nil
	}
	return *job, true, nil
}

func (s *MemoryStore) List(ctx context.Context, status model.QueueStatus, limit int) ([]model.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.QueueJob
	for _, j := range s.jobs {
		if status == "" || j.Status == status {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueID < out[j].QueueID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ExistsActive(ctx context.Context, executionID, nodeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ExecutionID == executionID && j.NodeID == nodeID &&
			(j.Status == model.QueueQueued || j.Status == model.QueueLeased || j.Status == model.QueueDone) {
			return true, nil
		}
	}
	return false, nil
}
