package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bleepstore/filestorage/internal/auth"
	"github.com/bleepstore/filestorage/internal/config"
	"github.com/bleepstore/filestorage/internal/metadata"
	"github.com/bleepstore/filestorage/internal/metrics"
	"github.com/bleepstore/filestorage/internal/orchestrator"
	"github.com/bleepstore/filestorage/internal/storage"
)

func init() {
	// Register metrics once for the entire test binary so that tests
	// checking /metrics output see the expected collectors.
	metrics.Register()
}

type testEnv struct {
	srv     *Server
	backend *storage.MemoryBackend
	store   *metadata.MemoryStore
}

type fakeHealth map[string]error

func (f fakeHealth) HealthCheck(context.Context) map[string]error { return f }

func newTestEnv(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}

	backend, err := storage.NewMemoryBackend(storage.MemoryOptions{})
	if err != nil {
		t.Fatalf("NewMemoryBackend failed: %v", err)
	}
	reg := storage.NewRegistry()
	reg.Register("local", backend)

	orch := orchestrator.New(reg, nil)
	store := metadata.NewMemoryStore()
	if err := metadata.Attach(orch, store); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	opts = append([]ServerOption{WithHealthReporter(reg)}, opts...)
	srv, err := New(cfg, orch, store, opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return &testEnv{srv: srv, backend: backend, store: store}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) request(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, httptest.NewRequest(method, path, body))
}

func uploadRequest(t *testing.T, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField failed: %v", err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		io.WriteString(fw, content)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body unmarshal error: %v (body %q)", err, rec.Body.String())
	}
	return body
}

func (e *testEnv) upload(t *testing.T, filename, content string, fields map[string]string) map[string]any {
	t.Helper()
	rec := e.do(t, uploadRequest(t, filename, content, fields))
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /files status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	return decode(t, rec)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/health", nil)

	if rec.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("GET /health Content-Type = %q, want application/json", ct)
	}
	if body := decode(t, rec); body["status"] != "ok" {
		t.Errorf("GET /health status = %q, want %q", body["status"], "ok")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("X-Request-Id header missing")
	}
	if got := rec.Header().Get("Server"); got != "filestorage" {
		t.Errorf("Server header = %q, want filestorage", got)
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /readyz status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	checks := decode(t, rec)["checks"].(map[string]any)
	if checks["metadata"] != "ok" || checks["storage"] != "ok" {
		t.Errorf("checks = %v", checks)
	}

	env = newTestEnv(t, WithHealthReporter(fakeHealth{"remote": errors.New("bucket gone")}))
	rec = env.request(t, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /readyz status = %d, want 503", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "unavailable" {
		t.Errorf("status = %v, want unavailable", body["status"])
	}
	if got := body["checks"].(map[string]any)["storage:remote"]; got != "bucket gone" {
		t.Errorf("storage:remote = %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.request(t, http.MethodGet, "/health", nil)

	rec := env.request(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "filestorage_http_requests_total") {
		t.Error("GET /metrics missing filestorage_http_requests_total")
	}
}

func TestUploadAndDownload(t *testing.T) {
	env := newTestEnv(t)
	body := env.upload(t, "notes.txt", "hello world", map[string]string{
		"model":      "User",
		"model_id":   "42",
		"collection": "docs",
		"metadata":   `{"author":"ann"}`,
	})

	uuid, _ := body["uuid"].(string)
	if uuid == "" {
		t.Fatalf("uuid missing from %v", body)
	}
	if body["filename"] != "notes.txt" || body["model"] != "User" || body["collection"] != "docs" {
		t.Errorf("body = %v", body)
	}
	if body["storage"] != "local" {
		t.Errorf("storage = %v, want local", body["storage"])
	}
	if body["id"].(float64) < 1 {
		t.Errorf("id = %v, want assigned", body["id"])
	}
	if md := body["metaData"].(map[string]any); md["author"] != "ann" {
		t.Errorf("metaData = %v", md)
	}
	path, _ := body["path"].(string)
	if path == "" {
		t.Fatalf("path missing from %v", body)
	}
	if got := env.backend.Paths(); len(got) != 1 || got[0] != path {
		t.Errorf("backend paths = %v, want [%s]", got, path)
	}

	rec := env.request(t, http.MethodGet, "/files/"+uuid, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /files/{uuid} status = %d", rec.Code)
	}
	if got := decode(t, rec); got["path"] != path {
		t.Errorf("path = %v, want %s", got["path"], path)
	}

	rec = env.request(t, http.MethodGet, "/files/"+uuid+"/content", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET content status = %d", rec.Code)
	}
	if rec.Body.String() != "hello world" {
		t.Errorf("content = %q, want hello world", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "notes.txt") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestUploadErrors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name     string
		req      *http.Request
		wantCode int
		wantErr  string
	}{
		{"no file", uploadRequest(t, "", "", map[string]string{"model": "User"}), http.StatusBadRequest, "NoStream"},
		{"unknown storage", uploadRequest(t, "a.txt", "a", map[string]string{"storage": "nope"}), http.StatusBadRequest, "UnknownStorage"},
		{"bad metadata", uploadRequest(t, "a.txt", "a", map[string]string{"metadata": "[1,2"}), http.StatusBadRequest, "InvalidAttributes"},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/files", strings.NewReader("raw")), http.StatusBadRequest, "InvalidAttributes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.req)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if got := decode(t, rec)["code"]; got != tt.wantErr {
				t.Errorf("code = %v, want %s", got, tt.wantErr)
			}
		})
	}
	if got := env.backend.Paths(); len(got) != 0 {
		t.Errorf("backend paths = %v, want none", got)
	}
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.Server.MaxUploadBytes = 64
	rec := env.do(t, uploadRequest(t, "big.bin", strings.Repeat("x", 1024), nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetMissingFile(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/files/missing", "/files/missing/content"} {
		rec := env.request(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, rec.Code)
			continue
		}
		if got := decode(t, rec)["code"]; got != "FileNotFound" {
			t.Errorf("GET %s code = %v, want FileNotFound", path, got)
		}
	}
}

func TestVariantLifecycle(t *testing.T) {
	env := newTestEnv(t)
	uuid := env.upload(t, "photo.jpg", "full-size", nil)["uuid"].(string)

	req := httptest.NewRequest(http.MethodPut, "/files/"+uuid+"/variants/thumb", strings.NewReader("tiny"))
	req.Header.Set("Content-Type", "image/jpeg")
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT variant status = %d (body %s)", rec.Code, rec.Body.String())
	}
	variants := decode(t, rec)["variants"].(map[string]any)
	thumb, ok := variants["thumb"].(map[string]any)
	if !ok || thumb["path"] == "" {
		t.Fatalf("variants = %v", variants)
	}

	stored, err := env.store.GetFile(context.Background(), uuid)
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if _, ok := stored.Variants["thumb"]; !ok {
		t.Error("variant was not persisted")
	}

	rec = env.request(t, http.MethodGet, "/files/"+uuid+"/variants/thumb/content", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "tiny" {
		t.Fatalf("GET variant content = (%d, %q)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", ct)
	}

	rec = env.request(t, http.MethodDelete, "/files/"+uuid+"/variants/thumb", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE variant status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if v := decode(t, rec)["variants"].(map[string]any); len(v) != 0 {
		t.Errorf("variants after delete = %v", v)
	}
	if got := env.backend.Paths(); len(got) != 1 {
		t.Errorf("backend paths = %v, want only the main file", got)
	}

	rec = env.request(t, http.MethodDelete, "/files/"+uuid+"/variants/thumb", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE variant status = %d, want 404", rec.Code)
	}
	if got := decode(t, rec)["code"]; got != "VariantNotFound" {
		t.Errorf("code = %v, want VariantNotFound", got)
	}
}

func TestDeleteFile(t *testing.T) {
	env := newTestEnv(t)
	uuid := env.upload(t, "a.txt", "a", nil)["uuid"].(string)
	req := httptest.NewRequest(http.MethodPut, "/files/"+uuid+"/variants/small", strings.NewReader("s"))
	if rec := env.do(t, req); rec.Code != http.StatusOK {
		t.Fatalf("PUT variant status = %d", rec.Code)
	}

	rec := env.request(t, http.MethodDelete, "/files/"+uuid, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204 (body %s)", rec.Code, rec.Body.String())
	}
	if got := env.backend.Paths(); len(got) != 0 {
		t.Errorf("backend paths = %v, want none", got)
	}
	if rec := env.request(t, http.MethodGet, "/files/"+uuid, nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", rec.Code)
	}
}

func TestListFiles(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "a.txt", "a", map[string]string{"model": "User"})
	env.upload(t, "b.txt", "b", map[string]string{"model": "Post"})
	env.upload(t, "c.txt", "c", map[string]string{"model": "User"})

	rec := env.request(t, http.MethodGet, "/files?model=User", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /files status = %d (body %s)", rec.Code, rec.Body.String())
	}
	files := decode(t, rec)["files"].([]any)
	if len(files) != 2 {
		t.Fatalf("files = %v, want 2", files)
	}
	if files[0].(map[string]any)["filename"] != "a.txt" || files[1].(map[string]any)["filename"] != "c.txt" {
		t.Errorf("files = %v", files)
	}

	rec = env.request(t, http.MethodGet, "/files?limit=1", nil)
	body := decode(t, rec)
	if len(body["files"].([]any)) != 1 {
		t.Errorf("files = %v, want 1", body["files"])
	}
	if body["next_after"] == nil {
		t.Error("next_after missing on a full page")
	}
}

func TestOpenAPISpec(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/openapi.json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /openapi.json status = %d, want 200", rec.Code)
	}
	body := decode(t, rec)
	if title := body["info"].(map[string]any)["title"]; title != "File Storage API" {
		t.Errorf("info.title = %v, want File Storage API", title)
	}
	paths := body["paths"].(map[string]any)
	for _, p := range []string{"/health", "/readyz", "/files", "/files/{uuid}", "/files/{uuid}/variants/{name}"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("paths missing %s", p)
		}
	}
}

func TestShutdownWithoutStart(t *testing.T) {
	env := newTestEnv(t)
	if err := env.srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown = %v, want nil", err)
	}
}

func TestAuthEnabled(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.Auth = config.AuthConfig{
		Enabled:           true,
		Keys:              []config.APIKey{{ID: "app", Secret: "s3cret"}},
		MaxPresignSeconds: 3600,
	}
	env.srv.verifier = auth.NewVerifier(env.srv.cfg.Auth)

	if rec := env.request(t, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", rec.Code)
	}

	rec := env.do(t, uploadRequest(t, "a.txt", "secret data", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous upload status = %d, want 401", rec.Code)
	}
	if got := decode(t, rec)["code"]; got != "Unauthenticated" {
		t.Errorf("code = %v, want Unauthenticated", got)
	}

	req := uploadRequest(t, "a.txt", "secret data", nil)
	req.Header.Set("Authorization", "Bearer app:s3cret")
	rec = env.do(t, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("authenticated upload status = %d (body %s)", rec.Code, rec.Body.String())
	}
	uuid := decode(t, rec)["uuid"].(string)

	contentPath := "/files/" + uuid + "/content"
	q, err := env.srv.verifier.Presign("app", http.MethodGet, contentPath, time.Minute)
	if err != nil {
		t.Fatalf("Presign failed: %v", err)
	}
	rec = env.request(t, http.MethodGet, contentPath+"?"+q.Encode(), nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "secret data" {
		t.Errorf("presigned GET = (%d, %q)", rec.Code, rec.Body.String())
	}

	rec = env.request(t, http.MethodDelete, "/files/"+uuid+"?"+q.Encode(), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("DELETE with a GET signature status = %d, want 403", rec.Code)
	}
}
