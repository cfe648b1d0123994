package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"git.uuxo.net/uuxo/file-relay/internal/config"
	"git.uuxo.net/uuxo/file-relay/internal/fileindex"
	"git.uuxo.net/uuxo/file-relay/internal/metadata"
	"git.uuxo.net/uuxo/file-relay/internal/metrics"
	"git.uuxo.net/uuxo/file-relay/internal/relay"
	"git.uuxo.net/uuxo/file-relay/internal/scanning"
	"git.uuxo.net/uuxo/file-relay/internal/storage"
	"git.uuxo.net/uuxo/file-relay/internal/thumbs"
	"git.uuxo.net/uuxo/file-relay/internal/utils"
	"git.uuxo.net/uuxo/file-relay/internal/workers"
)

// multipart framing and headers on top of the declared file size.
const multipartOverhead = 10 << 10

// Handlers bundles the HTTP endpoints with their collaborators. Scanner,
// thumbnailer, index, and pool may be nil; the endpoints degrade to plain
// store-and-serve.
type Handlers struct {
	cfg       *config.Config
	admission *storage.Admission
	cache     *metadata.Cache
	registry  *relay.Registry
	hub       *relay.Hub
	scanner   *scanning.Scanner
	thumbs    *thumbs.Generator
	index     *fileindex.Index
	pool      *workers.Pool

	maxUploadSize int64
	// statCache short-circuits repeated stat calls for hot served files.
	statCache *gocache.Cache
}

type statEntry struct {
	size    int64
	modTime time.Time
	mime    string
}

// NewHandlers wires the endpoint set.
func NewHandlers(cfg *config.Config, admission *storage.Admission, cache *metadata.Cache, registry *relay.Registry, hub *relay.Hub, scanner *scanning.Scanner, gen *thumbs.Generator, index *fileindex.Index, pool *workers.Pool, maxUploadSize int64) *Handlers {
	return &Handlers{
		cfg:           cfg,
		admission:     admission,
		cache:         cache,
		registry:      registry,
		hub:           hub,
		scanner:       scanner,
		thumbs:        gen,
		index:         index,
		pool:          pool,
		maxUploadSize: maxUploadSize,
		statCache:     gocache.New(30*time.Second, time.Minute),
	}
}

// Routes builds the request mux.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", h.handleUpload)
	mux.HandleFunc("/uploads/", h.handleServeFile)
	mux.HandleFunc("/ws", h.hub.ServeWS)
	mux.HandleFunc("/health", h.handleHealth)
	return mux
}

// handleUpload admits, receives, and stores one multipart upload, then
// answers with the served path of the stored file.
func (h *Handlers) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	declared := r.ContentLength

	release, err := h.admission.Admit(declared)
	if err != nil {
		metrics.UploadErrorsTotal.Inc()
		switch {
		case errors.Is(err, storage.ErrLengthRequired):
			http.Error(w, "Length Required", http.StatusLengthRequired)
		case errors.Is(err, storage.ErrInsufficientStorage):
			http.Error(w, "Insufficient Storage", http.StatusInsufficientStorage)
		default:
			log.WithError(err).Error("upload admission failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	// The reservation must not outlive the request: release fires on the
	// normal path and on client disconnect, whichever comes first, and
	// decrements exactly once.
	released := func() {
		release()
		metrics.PendingUploadBytes.Set(float64(h.admission.Pending()))
	}
	defer released()
	stop := context.AfterFunc(r.Context(), released)
	defer stop()
	metrics.PendingUploadBytes.Set(float64(h.admission.Pending()))

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)

	file, header, err := formFile(r)
	if err != nil {
		metrics.UploadErrorsTotal.Inc()
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	defer file.Close()

	storedName := storage.StoredName(header.Filename)
	absPath := filepath.Join(h.cfg.Server.StoragePath, storedName)

	dst, err := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		metrics.UploadErrorsTotal.Inc()
		log.WithError(err).Error("failed to create upload target")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	written, err := io.Copy(dst, io.LimitReader(file, h.maxUploadSize+1))
	closeErr := dst.Close()
	if err != nil || closeErr != nil {
		h.discard(absPath)
		metrics.UploadErrorsTotal.Inc()
		log.WithError(err).Error("failed to write upload")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if written > h.maxUploadSize {
		h.discard(absPath)
		metrics.UploadErrorsTotal.Inc()
		http.Error(w, "file exceeds maximum upload size", http.StatusBadRequest)
		return
	}

	if h.scanner != nil {
		if err := h.scanner.ScanFile(absPath); err != nil {
			h.discard(absPath)
			metrics.UploadErrorsTotal.Inc()
			log.WithField("name", storedName).WithError(err).Warn("upload rejected by scanner")
			http.Error(w, "file rejected", http.StatusBadRequest)
			return
		}
	}

	if entry, err := metadata.DetectFile(absPath); err == nil {
		h.cache.Put(storedName, entry)
	}

	h.postProcess(storedName, absPath, header.Filename, written, utils.GetClientIP(r, h.cfg.Server.TrustedProxies))

	metrics.UploadsTotal.Inc()
	metrics.UploadSizeBytes.Observe(float64(written))
	metrics.UploadDuration.Observe(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"url": "/uploads/" + storedName})
}

// postProcess runs the off-path upload work: thumbnail generation and the
// index insert. With no pool it runs inline.
func (h *Handlers) postProcess(storedName, absPath, originalName string, size int64, clientIP string) {
	if h.thumbs != nil && thumbs.IsImageFile(storedName) {
		h.submit(workers.Task{
			Name: "thumbnail " + storedName,
			Execute: func() error {
				_, err := h.thumbs.Generate(absPath)
				return err
			},
		})
	}
	if h.index != nil {
		rec := fileindex.Record{
			StoredName:   storedName,
			OriginalName: originalName,
			Size:         size,
			UploaderHash: h.registry.Identity(clientIP),
			UploadTime:   time.Now(),
		}
		if entry, ok := h.cache.Get(storedName); ok {
			rec.MIME = entry.MIME
		}
		h.submit(workers.Task{
			Name:    "index " + storedName,
			Execute: func() error { return h.index.Insert(rec) },
		})
	}
}

func (h *Handlers) submit(t workers.Task) {
	if h.pool != nil {
		h.pool.Submit(t)
		return
	}
	if err := t.Execute(); err != nil {
		log.WithField("task", t.Name).WithError(err).Warn("post-processing failed")
	}
}

func (h *Handlers) discard(absPath string) {
	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to remove rejected upload")
	}
}

// handleServeFile serves a stored upload. Stored names are the only
// accepted form; anything else is a 404, never a path lookup.
func (h *Handlers) handleServeFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.cfg.Server.SelfServe {
		http.NotFound(w, r)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/uploads/")
	if r.URL.Query().Get("thumbnail") == "true" {
		name += thumbs.Suffix
	}
	if !storage.ValidStoredName(name) {
		metrics.DownloadErrorsTotal.Inc()
		http.NotFound(w, r)
		return
	}

	absPath := filepath.Join(h.cfg.Server.StoragePath, name)
	st, ok := h.statFile(name, absPath)
	if !ok {
		metrics.DownloadErrorsTotal.Inc()
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(absPath)
	if err != nil {
		h.statCache.Delete(name)
		metrics.DownloadErrorsTotal.Inc()
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	// Served bytes are client-supplied. The headers keep browsers from
	// interpreting them in this origin.
	w.Header().Set("Content-Type", st.mime)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; sandbox")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))

	metrics.DownloadsTotal.Inc()
	http.ServeContent(w, r, "", st.modTime, f)
}

// statFile resolves size, mtime, and MIME for a served file, consulting
// the stat cache first.
func (h *Handlers) statFile(name, absPath string) (statEntry, bool) {
	if v, ok := h.statCache.Get(name); ok {
		return v.(statEntry), true
	}

	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		return statEntry{}, false
	}

	st := statEntry{size: info.Size(), modTime: info.ModTime()}
	if entry, ok := h.cache.Get(name); ok {
		st.mime = entry.MIME
	} else if entry, err := metadata.DetectFile(absPath); err == nil {
		h.cache.Put(name, entry)
		st.mime = entry.MIME
	} else {
		st.mime = "application/octet-stream"
	}
	h.statCache.Set(name, st, gocache.DefaultExpiration)
	return st, true
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":   "ok",
		"sessions": h.registry.Count(),
	}
	if h.index != nil {
		if stats, err := h.index.Stats(); err == nil {
			resp["indexed_files"] = stats.TotalFiles
			resp["indexed_bytes"] = stats.TotalBytes
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// formFile pulls the first uploaded file out of the multipart body. The
// part is streamed, not buffered through a temp file, until copied.
func formFile(r *http.Request) (io.ReadCloser, *multipartHeader, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, err
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, nil, fmt.Errorf("no file part in multipart body: %w", err)
		}
		if part.FileName() != "" {
			return part, &multipartHeader{Filename: part.FileName()}, nil
		}
		part.Close()
	}
}

type multipartHeader struct {
	Filename string
}
