package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretly.share/config"
	"secretly.share/internal/lifecycle"
	"secretly.share/internal/store"
)

var (
	testCiphertext = base64.StdEncoding.EncodeToString([]byte("encrypted_secret_data"))
	testIV         = base64.StdEncoding.EncodeToString([]byte("0123456789ab"))
)

func newTestServer(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore(lifecycle.Default())
	t.Cleanup(func() { _ = s.Close() })
	return SetupRouter(s, config.Default(), nil), s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createBody(ciphertext, iv string) string {
	b, _ := json.Marshal(CreateRequest{Ciphertext: ciphertext, IV: iv})
	return string(b)
}

func createSecret(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/secrets", createBody(testCiphertext, testIV))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp CreateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestCreateThenRetrieveOnce(t *testing.T) {
	h, _ := newTestServer(t)
	id := createSecret(t, h)

	rec := do(t, h, http.MethodGet, "/api/secrets/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got SecretResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, testCiphertext, got.Ciphertext)
	assert.Equal(t, testIV, got.IV)

	rec = do(t, h, http.MethodGet, "/api/secrets/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetrieve_NotFoundIsUniform(t *testing.T) {
	h, _ := newTestServer(t)
	consumed := createSecret(t, h)
	do(t, h, http.MethodGet, "/api/secrets/"+consumed, "")

	unknown := do(t, h, http.MethodGet, "/api/secrets/AAAAAAAAAAAAAAAAAAAAAA", "")
	malformed := do(t, h, http.MethodGet, "/api/secrets/not-an-id", "")
	again := do(t, h, http.MethodGet, "/api/secrets/"+consumed, "")

	for _, rec := range []*httptest.ResponseRecorder{unknown, malformed, again} {
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"secret not found"}`, rec.Body.String())
	}
}

func TestResponsesAreNotCacheable(t *testing.T) {
	h, _ := newTestServer(t)
	id := createSecret(t, h)

	for _, path := range []string{"/api/secrets/" + id, "/api/secrets/" + id, "/health", "/"} {
		rec := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"), path)
		assert.Equal(t, "no-cache", rec.Header().Get("Pragma"), path)
	}
}

func TestCreate_Validation(t *testing.T) {
	h, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"ciphertext":`, http.StatusBadRequest},
		{"missing iv", createBody(testCiphertext, ""), http.StatusUnprocessableEntity},
		{"ciphertext not base64", createBody("!!!notbase64!!!", testIV), http.StatusUnprocessableEntity},
		{"url-safe alphabet rejected", createBody("-_-_", testIV), http.StatusUnprocessableEntity},
		{"short iv", createBody(testCiphertext, base64.StdEncoding.EncodeToString(make([]byte, 11))), http.StatusUnprocessableEntity},
		{"long iv", createBody(testCiphertext, base64.StdEncoding.EncodeToString(make([]byte, 13))), http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/secrets", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCreate_EmptyCiphertextAccepted(t *testing.T) {
	h, _ := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/secrets", createBody("", testIV))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created CreateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rec = do(t, h, http.MethodGet, "/api/secrets/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got SecretResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "", got.Ciphertext)
	assert.Equal(t, testIV, got.IV)
}

func TestCreate_RequiresJSON(t *testing.T) {
	h, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/secrets", strings.NewReader(createBody(testCiphertext, testIV)))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestCreate_MaxCiphertextBoundary(t *testing.T) {
	h, _ := newTestServer(t)

	atLimit := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, lifecycle.MaxCiphertextLen))
	rec := do(t, h, http.MethodPost, "/api/secrets", createBody(atLimit, testIV))
	assert.Equal(t, http.StatusCreated, rec.Code)

	overLimit := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, lifecycle.MaxCiphertextLen+1))
	rec = do(t, h, http.MethodPost, "/api/secrets", createBody(overLimit, testIV))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStoreFailureIsNotNotFound(t *testing.T) {
	h, s := newTestServer(t)
	id := createSecret(t, h)
	require.NoError(t, s.Close())

	rec := do(t, h, http.MethodGet, "/api/secrets/"+id, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/secrets", createBody(testCiphertext, testIV))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	h, s := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	require.NoError(t, s.Close())
	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestID(t *testing.T) {
	h, _ := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	h, _ := newTestServer(t)
	origin := config.Default().Server.CORSOrigin

	preflight := func(from string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/secrets", nil)
		req.Header.Set("Origin", from)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight(origin)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))

	rec = preflight("https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", origin)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLogLevelEndpoint(t *testing.T) {
	s := store.NewMemoryStore(lifecycle.Default())
	t.Cleanup(func() { _ = s.Close() })

	off := SetupRouter(s, config.Default(), nil)
	rec := do(t, off, http.MethodGet, "/log/level", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cfg := config.Default()
	cfg.Log.LevelEndpoint = true
	on := SetupRouter(s, cfg, nil)
	rec = do(t, on, http.MethodGet, "/log/level", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"level"`)
}

func TestFrontendPages(t *testing.T) {
	h, _ := newTestServer(t)

	for _, path := range []string{"/", "/s/AAAAAAAAAAAAAAAAAAAAAA", "/static/app.js"} {
		rec := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
