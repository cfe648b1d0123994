package storage

import (
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
)

// maxBaseLen caps the sanitized base name, before the extension.
const maxBaseLen = 100

var (
	unsafeChars    = regexp.MustCompile(`[^a-z0-9.-]`)
	underscoreRuns = regexp.MustCompile(`_+`)
	unsafeExt      = regexp.MustCompile(`[^a-z0-9]`)
)

// StoredName generates the on-disk name for an uploaded file:
// <16-hex-random>-<sanitized-base><original-extension>. Stored names are
// unique per upload and never overwritten.
func StoredName(clientName string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in serious trouble.
		panic("storage: crypto/rand unavailable: " + err.Error())
	}
	prefix := hex.EncodeToString(buf)

	ext := sanitizeExt(filepath.Ext(clientName))
	base := SanitizeBaseName(strings.TrimSuffix(filepath.Base(clientName), filepath.Ext(clientName)))

	return prefix + "-" + base + ext
}

// SanitizeBaseName reduces a client-supplied name to a safe base component:
// lowercased, non-[a-z0-9.-] replaced with "_", repeats collapsed, edges
// trimmed, truncated to 100 characters. An empty result becomes "file".
func SanitizeBaseName(name string) string {
	name = strings.ToLower(filepath.Base(name))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = underscoreRuns.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_.-")
	if len(name) > maxBaseLen {
		name = name[:maxBaseLen]
	}
	if name == "" {
		return "file"
	}
	return name
}

// ValidStoredName reports whether name looks like a name this server
// generated: a bare base name in the stored-name character set, with no
// path separators or traversal.
func ValidStoredName(name string) bool {
	if name == "" || len(name) > 160 {
		return false
	}
	if name != filepath.Base(name) {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return false
		}
	}
	return name != "." && name != ".."
}

func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	ext = unsafeExt.ReplaceAllString(ext, "")
	if ext == "" {
		return ""
	}
	if len(ext) > 10 {
		ext = ext[:10]
	}
	return "." + ext
}
