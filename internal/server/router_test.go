package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shareq/internal/config"
	"shareq/internal/kv"
	"shareq/internal/log"
	"shareq/internal/metrics"
	"shareq/internal/queue"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDeliverer struct {
	fn queue.DeliverFunc
}

func (s stubDeliverer) Deliver(ctx context.Context, item queue.Item) (bool, error) {
	return s.fn(ctx, item)
}

func newTestServer(t *testing.T, jwtSecret string, deliver queue.DeliverFunc) (*httptest.Server, *queue.Queue) {
	t.Helper()
	cfg := &config.Config{
		StorageKey:     "test:pending",
		MaxRetries:     3,
		BaseBackoff:    time.Second,
		MaxBackoff:     30 * time.Second,
		ExpiryWindow:   7 * 24 * time.Hour,
		InstallationID: "test-install",
		JWTSecret:      jwtSecret,
	}
	logger := log.NewNop()
	q := queue.New(kv.NewMemory(), cfg, logger)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, q, cfg, logger)

	if deliver == nil {
		deliver = func(ctx context.Context, item queue.Item) (bool, error) { return true, nil }
	}
	r := chi.NewRouter()
	SetupRouter(r, cfg, q, stubDeliverer{fn: deliver}, m, reg, logger)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, q
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestEnqueueAndList(t *testing.T) {
	srv, _ := newTestServer(t, "", nil)

	resp := postJSON(t, srv.URL+"/shares", shareInput{URL: "https://x.example/a", Source: "clipboard"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/shares")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var items []queue.Item
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "https://x.example/a", items[0].Key)
	assert.Equal(t, "clipboard", items[0].Payload.Source)
}

func TestEnqueueRejectsInvalidURL(t *testing.T) {
	srv, q := newTestServer(t, "", nil)

	for _, bad := range []string{"", "not a url", "ftp://x.example/a", "https://"} {
		resp := postJSON(t, srv.URL+"/shares", shareInput{URL: bad})
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "url %q", bad)
	}
	assert.Empty(t, q.ListPending(context.Background()))
}

func TestListEmptyIsArray(t *testing.T) {
	srv, _ := newTestServer(t, "", nil)

	resp := do(t, http.MethodGet, srv.URL+"/shares")
	defer resp.Body.Close()

	var items []queue.Item
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestLookupAndPatch(t *testing.T) {
	srv, q := newTestServer(t, "", nil)
	ctx := context.Background()

	q.Enqueue(ctx, "https://x.example/a", queue.Payload{Source: "share_extension"})
	id := q.ListPending(ctx)[0].ID

	resp := do(t, http.MethodGet, srv.URL+"/shares/"+id)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	trip := "t9"
	data, _ := json.Marshal(queue.Patch{TripID: &trip})
	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/shares/"+id, bytes.NewReader(data))
	patchResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	patchResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, patchResp.StatusCode)

	item, ok := q.Lookup(ctx, id)
	require.True(t, ok)
	assert.Equal(t, "t9", item.Payload.TripID)

	resp = do(t, http.MethodGet, srv.URL+"/shares/unknown")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRemoveAndClear(t *testing.T) {
	srv, q := newTestServer(t, "", nil)
	ctx := context.Background()

	q.Enqueue(ctx, "https://x.example/a", queue.Payload{})
	q.Enqueue(ctx, "https://x.example/b", queue.Payload{})
	id := q.ListPending(ctx)[0].ID

	resp := do(t, http.MethodDelete, srv.URL+"/shares/"+id)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/shares/"+id)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/shares")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, q.ListPending(ctx))
}

func TestManualRetry(t *testing.T) {
	srv, q := newTestServer(t, "", func(ctx context.Context, item queue.Item) (bool, error) {
		return true, nil
	})
	ctx := context.Background()

	resp := postJSON(t, srv.URL+"/shares/unknown/retry", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	q.Enqueue(ctx, "https://x.example/a", queue.Payload{})
	id := q.ListPending(ctx)[0].ID

	resp = postJSON(t, srv.URL+"/shares/"+id+"/retry", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "delivered", out["outcome"])
	assert.Empty(t, q.ListPending(ctx))
}

func TestManualFlush(t *testing.T) {
	srv, q := newTestServer(t, "", func(ctx context.Context, item queue.Item) (bool, error) {
		return item.Key != "https://x.example/bad", nil
	})
	ctx := context.Background()

	q.Enqueue(ctx, "https://x.example/good", queue.Payload{})
	q.Enqueue(ctx, "https://x.example/bad", queue.Payload{})

	resp := postJSON(t, srv.URL+"/flush", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res queue.FlushResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, queue.FlushResult{Succeeded: 1, Failed: 1}, res)
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	srv, _ := newTestServer(t, secret, nil)

	resp := do(t, http.MethodGet, srv.URL+"/shares")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Health stays open for probes.
	resp = do(t, http.MethodGet, srv.URL+"/health")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "journal-app",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/shares", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "", nil)

	resp := do(t, http.MethodGet, srv.URL+"/metrics")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
