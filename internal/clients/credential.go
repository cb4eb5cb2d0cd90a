package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/noetl/noetl/internal/value"
)

// CredentialStore is the interface worker action executors depend on for
// secret material (spec.md §6's `fetch_credential(key) -> {data: {...}}`).
// Values returned through it must never be logged (spec.md §6 note).
type CredentialStore interface {
	FetchCredential(ctx context.Context, key string) (value.Value, error)
}

// CredentialClient is the HTTP-based CredentialStore implementation.
type CredentialClient struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

func NewCredentialClient(baseURL string, httpClient *http.Client, logger Logger) *CredentialClient {
	if logger == nil {
		logger = noopLogger{}
	}
	return &CredentialClient{baseURL: baseURL, http: NewHTTPClient(httpClient, logger), logger: logger}
}

// FetchCredential satisfies CredentialStore. The credential's data is
// never included in a log line here or by any caller holding the
// returned value — only the key and the HTTP outcome are.
func (c *CredentialClient) FetchCredential(ctx context.Context, key string) (value.Value, error) {
	reqURL := fmt.Sprintf("%s/credentials/%s", c.baseURL, url.PathEscape(key))

	resp, err := c.http.DoRequest(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return value.Null(), fmt.Errorf("clients: credential fetch %q: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return value.Null(), fmt.Errorf("clients: credential fetch %q: status=%d body=%s", key, resp.StatusCode, string(body))
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return value.Null(), fmt.Errorf("clients: credential decode %q: %w", key, err)
	}

	var native interface{}
	if err := json.Unmarshal(envelope.Data, &native); err != nil {
		return value.Null(), fmt.Errorf("clients: credential decode data %q: %w", key, err)
	}

	c.logger.Debug("fetched credential", "key", key)
	return value.FromNative(native), nil
}
