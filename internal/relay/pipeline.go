package relay

import (
	"encoding/base64"
	"path/filepath"
	"strings"
	"time"

	"git.uuxo.net/uuxo/file-relay/internal/hue"
	"git.uuxo.net/uuxo/file-relay/internal/metadata"
	"git.uuxo.net/uuxo/file-relay/internal/ratelimit"
	"git.uuxo.net/uuxo/file-relay/internal/storage"
)

const uploadsPrefix = "/uploads/"

// Pipeline validates and enriches inbound messages. Every message passes
// rate checking, type-specific validation, and enrichment in that order;
// the stages never reorder and a failure at any stage short-circuits the
// rest.
type Pipeline struct {
	registry   *Registry
	limiter    *ratelimit.Limiter
	cache      *metadata.Cache
	uploadDir  string
	maxTextLen int
	maxPathLen int
	maxInline  int64

	now        func() time.Time
	detectFile func(string) (metadata.Entry, error)
}

// NewPipeline wires the pipeline against its collaborators. maxInline
// bounds the decoded size of inline data URI payloads.
func NewPipeline(registry *Registry, limiter *ratelimit.Limiter, cache *metadata.Cache, uploadDir string, maxTextLen, maxPathLen int, maxInline int64) *Pipeline {
	return &Pipeline{
		registry:   registry,
		limiter:    limiter,
		cache:      cache,
		uploadDir:  uploadDir,
		maxTextLen: maxTextLen,
		maxPathLen: maxPathLen,
		maxInline:  maxInline,
		now:        time.Now,
		detectFile: metadata.DetectFile,
	}
}

// Process runs one inbound message through the pipeline and returns the
// tagged outcome. It never panics on malformed input; garbage is dropped.
func (p *Pipeline) Process(sessionID string, in Inbound) Outcome {
	identity := ""
	assigned := hue.DefaultHue
	if s, ok := p.registry.Get(sessionID); ok {
		identity = s.IdentityHash
		assigned = s.Hue
	}

	if !p.limiter.Allow(identity) {
		return Outcome{Status: Rejected, Reason: "rate limit exceeded"}
	}

	msg := &Message{
		Type:      in.Type,
		Content:   in.Content,
		SenderID:  identity,
		Timestamp: p.now().UnixMilli(),
		Hue:       assigned,
		TempID:    in.TempID,
	}

	switch in.Type {
	case "text":
		if len(in.Content) > p.maxTextLen {
			return Outcome{Status: Dropped, Reason: "oversized_text"}
		}
	case "file":
		entry, reason := p.resolveFile(in.Content)
		if reason != "" {
			return Outcome{Status: Dropped, Reason: reason}
		}
		msg.Name = storage.SanitizeBaseName(in.Name)
		msg.FileType = entry.MIME
		msg.Size = entry.Size
	default:
		return Outcome{Status: Dropped, Reason: "unknown_type"}
	}

	return Outcome{Status: Accepted, Message: msg}
}

// resolveFile produces the metadata for a file message's content, which is
// either a served upload path or an inline data URI. A non-empty reason
// means the message must be dropped.
func (p *Pipeline) resolveFile(content string) (metadata.Entry, string) {
	switch {
	case strings.HasPrefix(content, uploadsPrefix):
		if len(content) > p.maxPathLen {
			return metadata.Entry{}, "oversized_path"
		}
		name := strings.TrimPrefix(content, uploadsPrefix)
		if !storage.ValidStoredName(name) {
			return metadata.Entry{}, "invalid_path"
		}
		if entry, ok := p.cache.Get(name); ok {
			return entry, ""
		}
		entry, err := p.detectFile(filepath.Join(p.uploadDir, name))
		if err != nil {
			log.WithField("name", name).WithError(err).Debug("file reference did not resolve")
			return metadata.Entry{}, "unresolvable_file"
		}
		p.cache.Put(name, entry)
		return entry, ""
	case strings.HasPrefix(content, "data:"):
		payload, ok := decodeDataURI(content)
		if !ok {
			return metadata.Entry{}, "malformed_data_uri"
		}
		if p.maxInline > 0 && int64(len(payload)) > p.maxInline {
			return metadata.Entry{}, "oversized_inline"
		}
		return metadata.DetectBytes(payload), ""
	default:
		return metadata.Entry{}, "invalid_path"
	}
}

// decodeDataURI decodes a base64 data URI. Non-base64 data URIs are not
// accepted.
func decodeDataURI(uri string) ([]byte, bool) {
	rest := strings.TrimPrefix(uri, "data:")
	meta, data, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return nil, false
	}
	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, false
	}
	return payload, true
}
