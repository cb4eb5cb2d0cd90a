package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/noetl/noetl/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustValue(t *testing.T, raw string) value.Value {
	t.Helper()
	var v value.Value
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestCatalogClientFetchesAndParsesPlaybook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/catalog/entry", r.URL.Path)
		assert.Equal(t, "playbooks/demo.yaml", r.URL.Query().Get("path"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content": "workflow:\n  - step: start\n    type: start\n", "version": "2"}`))
	}))
	defer srv.Close()

	c := NewCatalogClient(srv.URL, nil, nil)
	pb, err := c.Fetch(context.Background(), "playbooks/demo.yaml", "1")
	require.NoError(t, err)
	assert.Equal(t, "2", pb.Version)
}

func TestCatalogClientPropagatesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not found"))
	}))
	defer srv.Close()

	c := NewCatalogClient(srv.URL, nil, nil)
	_, err := c.Fetch(context.Background(), "playbooks/missing.yaml", "1")
	require.Error(t, err)
}

func TestCredentialClientDecodesData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/credentials/db-creds", r.URL.Path)
		w.Write([]byte(`{"data": {"username": "svc", "password": "secret"}}`))
	}))
	defer srv.Close()

	c := NewCredentialClient(srv.URL, nil, nil)
	v, err := c.FetchCredential(context.Background(), "db-creds")
	require.NoError(t, err)

	username, ok := v.Get("username")
	require.True(t, ok)
	assert.Equal(t, "svc", username.String())
}

func TestRemoteExecutorRoundTripsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		w.Write([]byte(`{"id": "job-1", "status": "completed", "data": {"rows": 3}}`))
	}))
	defer srv.Close()

	e := NewRemoteExecutor(srv.URL, nil, nil)

	var actionSpec, inputContext = mustValue(t, `{"type":"http"}`), mustValue(t, `{"n":1}`)
	result, err := e.Execute(context.Background(), actionSpec, inputContext)
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)

	rows, ok := result.Data.Get("rows")
	require.True(t, ok)
	n, ok := rows.Float()
	require.True(t, ok)
	assert.Equal(t, float64(3), n)
}

func TestWithExecutionIDSetsHeader(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Execution-ID")
		w.Write([]byte(`{"data": {}}`))
	}))
	defer srv.Close()

	c := NewCredentialClient(srv.URL, nil, nil)
	ctx := WithExecutionID(context.Background(), "exec-123")
	_, err := c.FetchCredential(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "exec-123", gotHeader)
}
