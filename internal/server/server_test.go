package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_Health(t *testing.T) {
	s := New(Config{})

	rec := serve(s, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, body.Uptime)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := serve(s, method, "/api/health")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
	}
}

// Routes backed by a missing component are not registered.
func TestServer_OptionalRoutes(t *testing.T) {
	s := New(Config{})

	for _, path := range []string{"/ws", "/api/status", "/api/mask", "/api/runs", "/api/runs/latest", "/api/selections", "/metrics", "/"} {
		rec := serve(s, http.MethodGet, path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	// no protocol handler to close
	assert.NoError(t, s.CloseConnections(context.Background()))
}

func TestServer_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	index := "<html><body>gridpoint</body></html>"
	script := "const socket = new WebSocket('/ws');"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(index), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "client.js"), []byte(script), 0644))

	s := New(Config{StaticDir: dir})

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/", http.StatusOK, index},
		{"/client.js", http.StatusOK, script},
		{"/missing.html", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(s, http.MethodGet, tt.path)
			require.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}

	// API routes take precedence over the file server.
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/health").Code)
}
