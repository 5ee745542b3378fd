package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lazypower/curator/internal/config"
	"github.com/lazypower/curator/internal/engine"
	"github.com/lazypower/curator/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	return testServerWith(t, config.Default())
}

func testServerWith(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	eng, err := engine.New(db, cfg)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return New(eng, db.Path, "test-version")
}

// do sends a request and decodes the JSON response into out (if non-nil).
func do(t *testing.T, srv *Server, method, path, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	var body map[string]any
	w := do(t, srv, "GET", "/api/health", "", &body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
	if body["db_path"] != ":memory:" {
		t.Errorf("db_path = %v, want :memory:", body["db_path"])
	}
}

func TestInvalidIDs(t *testing.T) {
	srv := testServer(t)

	paths := []struct {
		method string
		path   string
	}{
		{"GET", "/api/patterns/abc"},
		{"GET", "/api/patterns/0/score"},
		{"PUT", "/api/patterns/-3/favorite"},
		{"POST", "/api/backups/x/restore"},
	}
	for _, p := range paths {
		w := do(t, srv, p.method, p.path, "", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s %s: status = %d, want %d", p.method, p.path, w.Code, http.StatusBadRequest)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "GET", "/api/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
