package eventbus

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeSSEStreamsPublishedEvents(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req := httptest.NewRequest("GET", "/executions/exec-1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() { done <- ServeSSE(hub, "exec-1", rec, req) }()

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, time.Millisecond)

	hub.Publish("exec-1", []byte(`{"event_type":"execution_start"}`))

	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body.String(), `data: {"event_type":"execution_start"}`)
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}
