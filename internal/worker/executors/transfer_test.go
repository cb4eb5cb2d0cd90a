package executors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/noetl/noetl/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchHTTPRowsExtractsDataPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": {"items": [{"id": 1}, {"id": 2}]}}`))
	}))
	defer srv.Close()

	e := NewTransferExecutor(srv.Client())
	source := value.Map(map[string]value.Value{
		"type": value.String("http"), "url": value.String(srv.URL), "data_path": value.String("results.items"),
	})
	rows, err := e.fetchHTTPRows(context.Background(), source)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	n, _ := rows[0]["id"].Float()
	assert.Equal(t, float64(1), n)
}

func TestIdentityMapping(t *testing.T) {
	row := map[string]value.Value{"a": value.Int(1), "b": value.String("x")}
	m := identityMapping(row)
	assert.Equal(t, map[string]string{"a": "a", "b": "b"}, m)
}

func TestTransferExecutorErrorsOnMissingTargetTable(t *testing.T) {
	e := NewTransferExecutor(nil)
	with := value.Map(map[string]value.Value{
		"source": value.Map(map[string]value.Value{"type": value.String("http"), "url": value.String("http://example.com")}),
		"target": value.Map(map[string]value.Value{}),
	})
	result, err := e.Execute(context.Background(), value.Null(), with)
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
}
