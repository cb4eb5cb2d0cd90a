// Package clients provides the one concrete HTTP-based implementation of
// each external collaborator spec.md §6 names as "consumed" — catalog,
// credential store, action executor — so cmd/server and cmd/worker are
// runnable end to end. broker.Catalog and clients.CredentialStore are
// interfaces, so those two stay swappable; RemoteExecutor is a concrete
// type.
//
// Grounded on the teacher's common/clients/{config.go,context.go,http.go,
// orchestrator.go}: a shared context-aware HTTPClient wrapper that
// extracts request-scoped metadata into headers, and a thin typed client
// per downstream service built on top of it.
package clients

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Logger mirrors the teacher's common/clients.Logger interface.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

type noopLogger struct{}

func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Debug(string, ...interface{}) {}

type contextKey string

// requestIDKey is this module's analogue of the teacher's UserIDKey: a
// request-scoped value threaded from context into an outbound header,
// useful for correlating a worker's action-dispatch calls back to the
// execution that triggered them.
const requestIDKey contextKey = "execution-id"

// WithExecutionID attaches an execution id to ctx for outbound requests to
// tag with an X-Execution-ID header.
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, requestIDKey, executionID)
}

func executionIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}

// HTTPClient wraps http.Client with context-aware helpers: it extracts
// metadata from ctx and sets the corresponding header before every
// request, mirroring the teacher's DoRequest.
type HTTPClient struct {
	client *http.Client
	logger Logger
}

func NewHTTPClient(client *http.Client, logger Logger) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &HTTPClient{client: client, logger: logger}
}

func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if executionID, ok := executionIDFrom(ctx); ok {
		req.Header.Set("X-Execution-ID", executionID)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.client.Do(req)
}
