package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/noetl/noetl/internal/playbook"
)

// CatalogClient implements broker.Catalog against an HTTP catalog service,
// the concrete shape spec.md §6 describes as `fetch_entry(path, version)
// -> {content: yaml_string, ...}`.
type CatalogClient struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

func NewCatalogClient(baseURL string, httpClient *http.Client, logger Logger) *CatalogClient {
	if logger == nil {
		logger = noopLogger{}
	}
	return &CatalogClient{baseURL: baseURL, http: NewHTTPClient(httpClient, logger), logger: logger}
}

// Fetch satisfies broker.Catalog.
func (c *CatalogClient) Fetch(ctx context.Context, path, version string) (*playbook.Playbook, error) {
	q := url.Values{}
	q.Set("path", path)
	if version != "" {
		q.Set("version", version)
	}
	reqURL := fmt.Sprintf("%s/catalog/entry?%s", c.baseURL, q.Encode())

	resp, err := c.http.DoRequest(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("clients: catalog fetch %q: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("clients: catalog fetch %q: status=%d body=%s", path, resp.StatusCode, string(body))
	}

	var entry struct {
		Content string `json:"content"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("clients: catalog decode %q: %w", path, err)
	}

	resolvedVersion := version
	if entry.Version != "" {
		resolvedVersion = entry.Version
	}

	pb, err := playbook.Parse(path, resolvedVersion, []byte(entry.Content))
	if err != nil {
		return nil, fmt.Errorf("clients: catalog parse %q: %w", path, err)
	}

	c.logger.Debug("fetched playbook from catalog", "path", path, "version", resolvedVersion)
	return pb, nil
}
