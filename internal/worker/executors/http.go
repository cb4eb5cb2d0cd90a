// Package executors holds the typed Executor implementations the Worker
// Runtime dispatches to by action.type (spec.md §4.H). Each file here
// implements worker.Executor and is registered into a worker.Registry by
// cmd/worker; this package imports internal/worker, never the reverse, so
// internal/worker stays free of any one executor's dependencies.
package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/noetl/noetl/internal/clients"
	"github.com/noetl/noetl/internal/value"
	"github.com/noetl/noetl/internal/worker"
	"github.com/noetl/noetl/internal/worker/security"
)

// HTTPExecutor runs the "http" action type: an outbound HTTP call with the
// rendered `with` params supplying url/method/headers/params/payload.
// Grounded on the teacher's cmd/workflow-runner/worker/http_worker.go
// executeHTTPRequest, generalized from its fixed Content-Type/User-Agent-only
// request building to rendered headers/query params, and hardened with the
// teacher's cmd/http-worker/security validators (SPEC_FULL §3.7) which that
// file never actually called.
type HTTPExecutor struct {
	client      *http.Client
	validator   *security.URLValidator
	credentials clients.CredentialStore
}

func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{client: client, validator: security.NewURLValidator()}
}

// WithCredentials enables `with.credential`-keyed secret injection: when a
// step names a credential, its fetched value's `token` field (spec.md §6's
// `fetch_credential(key) -> {data: {...}}`) becomes the request's Bearer
// token. Steps that don't name one are unaffected.
func (e *HTTPExecutor) WithCredentials(store clients.CredentialStore) *HTTPExecutor {
	e.credentials = store
	return e
}

func (e *HTTPExecutor) Execute(ctx context.Context, actionSpec, with value.Value) (worker.ExecutionResult, error) {
	rawURL := firstNonEmpty(stringField(with, "url"), stringField(actionSpec, "url"))
	if rawURL == "" {
		return worker.ExecutionResult{Status: "error", Error: "http: missing url", Retryable: false}, nil
	}

	if params, ok := with.Get("params"); ok {
		if m, ok := params.Map(); ok && len(m) > 0 {
			u, err := url.Parse(rawURL)
			if err != nil {
				return worker.ExecutionResult{Status: "error", Error: fmt.Sprintf("http: invalid url: %v", err)}, nil
			}
			q := u.Query()
			for k, v := range m {
				q.Set(k, v.String())
			}
			u.RawQuery = q.Encode()
			rawURL = u.String()
		}
	}

	if err := e.validator.Validate(rawURL); err != nil {
		return worker.ExecutionResult{Status: "error", Error: fmt.Sprintf("http: %v", err), Retryable: false}, nil
	}

	method := strings.ToUpper(firstNonEmpty(stringField(with, "method"), stringField(actionSpec, "method")))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if payload, ok := with.Get("payload"); ok && !payload.IsNull() {
		if payload.Kind() == value.KindString {
			body = strings.NewReader(payload.String())
		} else {
			encoded, err := json.Marshal(payload.Native())
			if err != nil {
				return worker.ExecutionResult{Status: "error", Error: fmt.Sprintf("http: encode payload: %v", err)}, nil
			}
			body = bytes.NewReader(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return worker.ExecutionResult{Status: "error", Error: fmt.Sprintf("http: build request: %v", err)}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "noetl-worker/1.0")
	if headers, ok := with.Get("headers"); ok {
		if m, ok := headers.Map(); ok {
			for k, v := range m {
				req.Header.Set(k, v.String())
			}
		}
	}

	if credentialKey := firstNonEmpty(stringField(with, "credential"), stringField(actionSpec, "credential")); credentialKey != "" {
		if e.credentials == nil {
			return worker.ExecutionResult{Status: "error", Error: "http: credential requested but no credential store configured", Retryable: false}, nil
		}
		cred, err := e.credentials.FetchCredential(ctx, credentialKey)
		if err != nil {
			return worker.ExecutionResult{Status: "error", Error: fmt.Sprintf("http: fetch credential: %v", err), Retryable: true}, nil
		}
		if token := stringField(cred, "token"); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return worker.ExecutionResult{Status: "error", Error: fmt.Sprintf("http: request failed: %v", err), Retryable: true}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return worker.ExecutionResult{Status: "error", Error: fmt.Sprintf("http: read response: %v", err), Retryable: true}, nil
	}

	var decodedBody interface{}
	if err := json.Unmarshal(respBody, &decodedBody); err != nil {
		decodedBody = string(respBody)
	}

	data := value.Map(map[string]value.Value{
		"status_code": value.Int(int64(resp.StatusCode)),
		"body":        value.FromNative(decodedBody),
		"duration_ms": value.Int(duration.Milliseconds()),
		"url":         value.String(rawURL),
		"method":      value.String(method),
	})

	if resp.StatusCode >= 500 {
		return worker.ExecutionResult{Status: "error", Data: data, Error: fmt.Sprintf("http: server error %d", resp.StatusCode), Retryable: true}, nil
	}
	if resp.StatusCode >= 400 {
		return worker.ExecutionResult{Status: "error", Data: data, Error: fmt.Sprintf("http: client error %d", resp.StatusCode), Retryable: false}, nil
	}
	return worker.ExecutionResult{Status: "success", Data: data}, nil
}

func stringField(v value.Value, key string) string {
	field, ok := v.Get(key)
	if !ok || field.Kind() != value.KindString {
		return ""
	}
	return field.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
