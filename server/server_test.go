package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestBindAndListRoutes(t *testing.T) {
	rt := RouteTable{
		{Method: http.MethodPost, Path: "/tx/start"}: ok,
		{Method: http.MethodGet, Path: "/dma/status"}: ok,
		{Method: http.MethodPost, Path: "/dma/status"}: ok,
	}
	r := chi.NewRouter()
	rt.Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/list-of-routes", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var routes []string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&routes))
	assert.Equal(t, []string{"GET /dma/status", "POST /dma/status", "POST /tx/start"}, routes)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tx/start", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestReplyWithFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cap.bin"), []byte{1, 2, 3, 4}, 0o644))

	w := httptest.NewRecorder()
	ReplyWithFile(w, httptest.NewRequest(http.MethodGet, "/", nil), "cap.bin", dir)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []byte{1, 2, 3, 4}, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "cap.bin")

	w = httptest.NewRecorder()
	ReplyWithFile(w, httptest.NewRequest(http.MethodGet, "/", nil), "missing.bin", dir)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
