package graph

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTokenServer serves client-credentials tokens and counts requests.
func newTokenServer(t *testing.T, expiresIn int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenSource_AcquiresToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.FormValue("grant_type"))
		assert.Equal(t, "test-client-id", r.FormValue("client_id"))
		assert.Equal(t, "test-client-secret", r.FormValue("client_secret"))
		assert.Equal(t, defaultScope, r.FormValue("scope"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	ts := newTokenSource(server.URL, "test-client-id", "test-client-secret", server.Client())

	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", token)
}

func TestTokenSource_CachesToken(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTokenServer(t, 3600, &calls)
	ts := newTokenSource(server.URL, "c", "s", server.Client())

	first, err := ts.Token()
	require.NoError(t, err)
	second, err := ts.Token()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTokenSource_RefreshesExpiringToken(t *testing.T) {
	t.Parallel()

	// Tokens inside the oauth2 expiry margin are treated as expired.
	var calls atomic.Int32
	server := newTokenServer(t, 5, &calls)
	ts := newTokenSource(server.URL, "c", "s", server.Client())

	_, err := ts.Token()
	require.NoError(t, err)
	_, err = ts.Token()
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenSource_Invalidate(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTokenServer(t, 3600, &calls)
	ts := newTokenSource(server.URL, "c", "s", server.Client())

	first, err := ts.Token()
	require.NoError(t, err)

	ts.Invalidate()
	second, err := ts.Token()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenSource_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTokenServer(t, 3600, &calls)
	ts := newTokenSource(server.URL, "c", "s", server.Client())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ts.Token()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestTokenSource_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	ts := newTokenSource(server.URL, "c", "s", server.Client())
	_, err := ts.Token()
	assert.Error(t, err)
}

func TestTokenSource_EmptyAccessToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "", "expires_in": 3600})
	}))
	defer server.Close()

	ts := newTokenSource(server.URL, "c", "s", server.Client())
	_, err := ts.Token()
	assert.Error(t, err)
}
