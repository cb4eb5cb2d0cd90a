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

type stubCredentialStore struct {
	token string
}

func (s *stubCredentialStore) FetchCredential(ctx context.Context, key string) (value.Value, error) {
	return value.Map(map[string]value.Value{"token": value.String(s.token)}), nil
}

func TestHTTPExecutorSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bar", r.URL.Query().Get("foo"))
		assert.Equal(t, "tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	e := NewHTTPExecutor(srv.Client())
	with := value.Map(map[string]value.Value{
		"url":    value.String(srv.URL),
		"method": value.String("get"),
		"params": value.Map(map[string]value.Value{"foo": value.String("bar")}),
		"headers": value.Map(map[string]value.Value{"Authorization": value.String("tok")}),
	})

	result, err := e.Execute(context.Background(), value.Map(map[string]value.Value{"type": value.String("http")}), with)
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)

	code, ok := result.Data.Get("status_code")
	require.True(t, ok)
	n, _ := code.Int()
	assert.Equal(t, int64(200), n)
}

func TestHTTPExecutorMissingURLIsNonRetryable(t *testing.T) {
	e := NewHTTPExecutor(nil)
	result, err := e.Execute(context.Background(), value.Null(), value.Map(map[string]value.Value{}))
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
	assert.False(t, result.Retryable)
}

func TestHTTPExecutorBlocksSSRFTargets(t *testing.T) {
	e := NewHTTPExecutor(nil)
	with := value.Map(map[string]value.Value{"url": value.String("http://169.254.169.254/latest/meta-data")})
	result, err := e.Execute(context.Background(), value.Null(), with)
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
	assert.False(t, result.Retryable)
}

func TestHTTPExecutorResolvesCredentialIntoBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	e := NewHTTPExecutor(srv.Client()).WithCredentials(&stubCredentialStore{token: "secret-token"})
	with := value.Map(map[string]value.Value{
		"url":        value.String(srv.URL),
		"credential": value.String("api-key"),
	})

	result, err := e.Execute(context.Background(), value.Null(), with)
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
}

func TestHTTPExecutorCredentialWithoutStoreIsNonRetryableError(t *testing.T) {
	e := NewHTTPExecutor(nil)
	with := value.Map(map[string]value.Value{
		"url":        value.String("http://example.com"),
		"credential": value.String("api-key"),
	})

	result, err := e.Execute(context.Background(), value.Null(), with)
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
	assert.False(t, result.Retryable)
}

func TestHTTPExecutorServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewHTTPExecutor(srv.Client())
	with := value.Map(map[string]value.Value{"url": value.String(srv.URL)})
	result, err := e.Execute(context.Background(), value.Null(), with)
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
	assert.True(t, result.Retryable)
}
