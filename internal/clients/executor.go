package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/noetl/noetl/internal/value"
)

// ExecutorResult is the response shape spec.md §6 names for the consumed
// action-executor interface: `execute(action_spec, input_context) ->
// {id, status, data?, error?, traceback?}`.
type ExecutorResult struct {
	ID        string
	Status    string
	Data      value.Value
	Error     string
	Traceback string
}

// RemoteExecutor is the HTTP-based action-executor client (spec.md §6's
// executor interface is a consumed, swappable external collaborator).
// cmd/worker registers it under the action type "remote"; the worker's
// Registry has no fallback, so only actions of type "remote" reach it. The
// local http/sql/code/transfer/subplaybook executors handle the other
// types.
type RemoteExecutor struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

func NewRemoteExecutor(baseURL string, httpClient *http.Client, logger Logger) *RemoteExecutor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &RemoteExecutor{baseURL: baseURL, http: NewHTTPClient(httpClient, logger), logger: logger}
}

// Execute sends actionSpec and inputContext to the remote executor and
// decodes its result.
func (c *RemoteExecutor) Execute(ctx context.Context, actionSpec, inputContext value.Value) (ExecutorResult, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"action_spec":   actionSpec.Native(),
		"input_context": inputContext.Native(),
	})
	if err != nil {
		return ExecutorResult{}, fmt.Errorf("clients: executor marshal: %w", err)
	}

	reqURL := fmt.Sprintf("%s/execute", c.baseURL)
	resp, err := c.http.DoRequest(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return ExecutorResult{}, fmt.Errorf("clients: executor call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExecutorResult{}, fmt.Errorf("clients: executor read response: %w", err)
	}

	var decoded struct {
		ID        string          `json:"id"`
		Status    string          `json:"status"`
		Data      json.RawMessage `json:"data"`
		Error     string          `json:"error"`
		Traceback string          `json:"traceback"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return ExecutorResult{}, fmt.Errorf("clients: executor decode: status=%d body=%s: %w", resp.StatusCode, string(body), err)
	}

	result := ExecutorResult{ID: decoded.ID, Status: decoded.Status, Error: decoded.Error, Traceback: decoded.Traceback}
	if len(decoded.Data) > 0 {
		var native interface{}
		if err := json.Unmarshal(decoded.Data, &native); err != nil {
			return ExecutorResult{}, fmt.Errorf("clients: executor decode data: %w", err)
		}
		result.Data = value.FromNative(native)
	} else {
		result.Data = value.Null()
	}

	if resp.StatusCode != http.StatusOK && result.Error == "" {
		result.Error = fmt.Sprintf("executor call failed: status=%d", resp.StatusCode)
	}

	c.logger.Debug("executed remote action", "id", result.ID, "status", result.Status)
	return result, nil
}
