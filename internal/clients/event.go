package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/noetl/noetl/internal/model"
)

// EventSink is the minimal emit contract a reporter needs (mirrors
// internal/worker.EventSink, duplicated here rather than imported so this
// package never depends on internal/worker).
type EventSink interface {
	Emit(ctx context.Context, e model.Event) error
}

// EventClient posts events to POST /events instead of writing to an
// eventlog.Store directly, so every event a remote worker reports still
// triggers one broker evaluation pass the way spec.md §6's table requires
// ("Emit event; triggers broker evaluation") and spec.md §4.B's complete()
// expects ("schedules broker re-evaluation for the execution"). Without
// this, a worker process that only held a direct eventlog.Store/queue.Store
// pair (as cmd/worker did previously) could report outcomes all day and the
// broker would never be asked to look at them again.
type EventClient struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

func NewEventClient(baseURL string, httpClient *http.Client, logger Logger) *EventClient {
	if logger == nil {
		logger = noopLogger{}
	}
	return &EventClient{baseURL: baseURL, http: NewHTTPClient(httpClient, logger), logger: logger}
}

// Emit satisfies EventSink (and, structurally, internal/worker.EventSink
// and internal/eventlog.Store's narrower Emit-only callers).
func (c *EventClient) Emit(ctx context.Context, e model.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("clients: encode event: %w", err)
	}

	reqURL := fmt.Sprintf("%s/events", c.baseURL)
	resp, err := c.http.DoRequest(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("clients: emit event %s/%s: %w", e.ExecutionID, e.EventType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("clients: emit event %s/%s: status=%d body=%s", e.ExecutionID, e.EventType, resp.StatusCode, string(respBody))
	}

	c.logger.Debug("posted event", "execution_id", e.ExecutionID, "event_type", e.EventType, "status", e.Status)
	return nil
}
