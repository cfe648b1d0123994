package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"git.uuxo.net/uuxo/file-relay/internal/config"
	"git.uuxo.net/uuxo/file-relay/internal/metadata"
	"git.uuxo.net/uuxo/file-relay/internal/metrics"
	"git.uuxo.net/uuxo/file-relay/internal/relay"
	"git.uuxo.net/uuxo/file-relay/internal/storage"
)

func TestMain(m *testing.M) {
	metrics.InitMetrics()
	os.Exit(m.Run())
}

func newTestHandlers(t *testing.T) (*Handlers, string) {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.StoragePath = dir
	cfg.Server.SelfServe = true

	h := NewHandlers(
		cfg,
		storage.NewAdmission(dir, 0),
		metadata.NewCache(64),
		relay.NewRegistry(0),
		nil, // hub is not needed for the HTTP endpoints under test
		nil, nil, nil, nil,
		1<<20,
	)
	return h, dir
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadStoresFileAndReturnsURL(t *testing.T) {
	h, dir := newTestHandlers(t)

	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	body, contentType := multipartBody(t, "My Photo.PNG", png)

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.handleUpload(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	url := resp["url"]
	if !strings.HasPrefix(url, "/uploads/") {
		t.Fatalf("url = %q", url)
	}

	name := strings.TrimPrefix(url, "/uploads/")
	if !storage.ValidStoredName(name) {
		t.Errorf("stored name %q fails validation", name)
	}
	if !strings.HasSuffix(name, "-my_photo.png") {
		t.Errorf("stored name %q, want random prefix plus sanitized base", name)
	}

	stored, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stored, png) {
		t.Error("stored bytes differ from uploaded bytes")
	}

	// The upload primes the metadata cache.
	entry, ok := h.cache.Get(name)
	if !ok || entry.MIME != "image/png" {
		t.Errorf("cache entry = %+v ok=%v, want image/png", entry, ok)
	}

	// The reservation is gone once the request finishes.
	if pending := h.admission.Pending(); pending != 0 {
		t.Errorf("pending after upload = %d, want 0", pending)
	}
}

func TestUploadMissingLength(t *testing.T) {
	h, _ := newTestHandlers(t)

	body, contentType := multipartBody(t, "x.bin", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = -1
	w := httptest.NewRecorder()
	h.handleUpload(w, req)

	if w.Code != http.StatusLengthRequired {
		t.Fatalf("status = %d, want 411", w.Code)
	}
}

func TestUploadInsufficientStorage(t *testing.T) {
	h, _ := newTestHandlers(t)
	// A reserve floor no disk can satisfy forces the 507 path.
	h.admission = storage.NewAdmission(h.cfg.Server.StoragePath, 1<<62)

	body, contentType := multipartBody(t, "x.bin", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.handleUpload(w, req)

	if w.Code != http.StatusInsufficientStorage {
		t.Fatalf("status = %d, want 507", w.Code)
	}
}

func TestUploadOversizedFileRemoved(t *testing.T) {
	h, dir := newTestHandlers(t)
	h.maxUploadSize = 8

	body, contentType := multipartBody(t, "big.bin", bytes.Repeat([]byte("x"), 64))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.handleUpload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected upload left %d artifacts on disk", len(entries))
	}
}

func TestUploadRejectsNonPost(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/upload", nil)
	w := httptest.NewRecorder()
	h.handleUpload(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}

func TestServeFileHeaders(t *testing.T) {
	h, dir := newTestHandlers(t)

	name := "ab12cd34ef56ab78-pic.png"
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	if err := os.WriteFile(filepath.Join(dir, name), png, 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/uploads/"+name, nil)
	w := httptest.NewRecorder()
	h.handleServeFile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	hdr := w.Header()
	if got := hdr.Get("Content-Type"); got != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", got)
	}
	if got := hdr.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := hdr.Get("Content-Security-Policy"); !strings.Contains(got, "sandbox") {
		t.Errorf("Content-Security-Policy = %q", got)
	}
	if got := hdr.Get("Content-Disposition"); !strings.HasPrefix(got, "inline") {
		t.Errorf("Content-Disposition = %q, want inline", got)
	}
	if !bytes.Equal(w.Body.Bytes(), png) {
		t.Error("served bytes differ from stored bytes")
	}
}

func TestServeFileRejectsBadNames(t *testing.T) {
	h, dir := newTestHandlers(t)

	// A real file outside the stored-name shape must still be unreachable.
	if err := os.WriteFile(filepath.Join(dir, "UPPER.png"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{
		"/uploads/../../etc/passwd",
		"/uploads/UPPER.png",
		"/uploads/",
		"/uploads/nope.png/extra",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		h.handleServeFile(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, w.Code)
		}
	}
}

func TestServeFileDisabled(t *testing.T) {
	h, dir := newTestHandlers(t)
	h.cfg.Server.SelfServe = false

	name := "ab12cd34ef56ab78-pic.png"
	if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/uploads/"+name, nil)
	w := httptest.NewRecorder()
	h.handleServeFile(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 with serving disabled", w.Code)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %v", resp["status"])
	}
}
