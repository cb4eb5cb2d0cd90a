package queue

import (
	"context"
	"testing"
	"time"

	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueIsIdempotentPerNode(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id1, err := s.Enqueue(ctx, EnqueueRequest{ExecutionID: "e1", NodeID: "step-a", Action: value.String("noop")})
	require.NoError(t, err)

	id2, err := s.Enqueue(ctx, EnqueueRequest{ExecutionID: "e1", NodeID: "step-a", Action: value.String("noop")})
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "re-enqueue of an active job must return the existing id")
}

func TestLeaseThenFailRetryReturnsSameJobWithIncrementedAttempts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, EnqueueRequest{ExecutionID: "e1", NodeID: "step-a"})
	require.NoError(t, err)

	job, err := s.Lease(ctx, "w1", 30)
	require.NoError(t, err)
	assert.Equal(t, id, job.QueueID)
	assert.Equal(t, 1, job.Attempts)

	require.NoError(t, s.Fail(ctx, id, true, 0, "transient"))

	job2, err := s.Lease(ctx, "w2", 30)
	require.NoError(t, err)
	assert.Equal(t, id, job2.QueueID)
	assert.Equal(t, 2, job2.Attempts)
}

func TestFailWithoutRetryGoesDead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, EnqueueRequest{ExecutionID: "e1", NodeID: "step-a"})
	require.NoError(t, err)
	_, err = s.Lease(ctx, "w1", 30)
	require.NoError(t, err)

	require.NoError(t, s.Fail(ctx, id, false, 0, "fatal"))

	job, ok, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.QueueDead, job.Status)
}

func TestReapExpiredReclaimsExpiredLease(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, EnqueueRequest{ExecutionID: "e1", NodeID: "step-a"})
	require.NoError(t, err)
	_, err = s.Lease(ctx, "w1", 0) // immediately expired lease
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	n, err := s.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := s.Lease(ctx, "w2", 30)
	require.NoError(t, err)
	assert.Equal(t, id, job.QueueID)
	assert.Equal(t, 2, job.Attempts)
}

func TestReapExpiredOnUnexpiredLeaseIsNoop(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Enqueue(ctx, EnqueueRequest{ExecutionID: "e1", NodeID: "step-a"})
	require.NoError(t, err)
	_, err = s.Lease(ctx, "w1", 300)
	require.NoError(t, err)

	n, err := s.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLeaseHonorsPriorityThenFIFO(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	low, err := s.Enqueue(ctx, EnqueueRequest{ExecutionID: "e1", NodeID: "low", Priority: 0})
	require.NoError(t, err)
	_ = low
	high, err := s.Enqueue(ctx, EnqueueRequest{ExecutionID: "e1", NodeID: "high", Priority: 10})
	require.NoError(t, err)

	job, err := s.Lease(ctx, "w1", 30)
	require.NoError(t, err)
	assert.Equal(t, high, job.QueueID, "higher priority job must lease first")
}

func TestLeaseEmptyReturnsErrEmpty(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Lease(context.Background(), "w1", 30)
	assert.ErrorIs(t, err, ErrEmpty)
}
