package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/internal/clients"
	"github.com/noetl/noetl/internal/value"
)

func TestRemoteExecutorAdapterTranslatesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"r1","status":"success","data":{"ok":true}}`))
	}))
	defer srv.Close()

	remote := clients.NewRemoteExecutor(srv.URL, srv.Client(), nil)
	adapter := &remoteExecutorAdapter{remote: remote}

	result, err := adapter.Execute(context.Background(), value.Map(map[string]value.Value{"type": value.String("remote")}), value.Null())
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.False(t, result.Retryable)
	ok, found := result.Data.Get("ok")
	require.True(t, found)
	assert.Equal(t, true, ok.Native())
}
