package relay

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"git.uuxo.net/uuxo/file-relay/internal/metadata"
	"git.uuxo.net/uuxo/file-relay/internal/ratelimit"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

func newTestPipeline(t *testing.T, ceiling int) (*Pipeline, *Session, string) {
	t.Helper()

	dir := t.TempDir()
	reg := NewRegistry(0)
	sess, err := reg.Connect("10.0.0.1")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	lim := ratelimit.New(ceiling, 100)
	t.Cleanup(lim.Close)

	p := NewPipeline(reg, lim, metadata.NewCache(16), dir, 64, 256, 1<<20)
	p.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return p, sess, dir
}

func TestProcessTextAccepted(t *testing.T) {
	p, sess, _ := newTestPipeline(t, 100)

	out := p.Process(sess.ID, Inbound{Type: "text", Content: "hello", TempID: "t-1"})
	if out.Status != Accepted {
		t.Fatalf("status = %v, want Accepted", out.Status)
	}
	m := out.Message
	if m.Content != "hello" || m.Type != "text" {
		t.Errorf("message = %+v", m)
	}
	if m.SenderID != sess.IdentityHash {
		t.Errorf("senderId = %q, want %q", m.SenderID, sess.IdentityHash)
	}
	if m.Hue != sess.Hue {
		t.Errorf("hue = %v, want %v", m.Hue, sess.Hue)
	}
	if m.Timestamp != 1700000000000 {
		t.Errorf("timestamp = %d", m.Timestamp)
	}
	if m.TempID != "t-1" {
		t.Errorf("tempId = %q, want passthrough", m.TempID)
	}
}

func TestProcessOversizedTextDropped(t *testing.T) {
	p, sess, _ := newTestPipeline(t, 100)

	out := p.Process(sess.ID, Inbound{Type: "text", Content: strings.Repeat("x", 65)})
	if out.Status != Dropped || out.Reason != "oversized_text" {
		t.Fatalf("outcome = %+v, want Dropped/oversized_text", out)
	}
}

func TestProcessUnknownTypeDropped(t *testing.T) {
	p, sess, _ := newTestPipeline(t, 100)

	out := p.Process(sess.ID, Inbound{Type: "sticker", Content: "x"})
	if out.Status != Dropped || out.Reason != "unknown_type" {
		t.Fatalf("outcome = %+v, want Dropped/unknown_type", out)
	}
}

func TestProcessRateLimited(t *testing.T) {
	p, sess, _ := newTestPipeline(t, 2)

	for i := 0; i < 2; i++ {
		if out := p.Process(sess.ID, Inbound{Type: "text", Content: "ok"}); out.Status != Accepted {
			t.Fatalf("message %d: %+v", i, out)
		}
	}
	out := p.Process(sess.ID, Inbound{Type: "text", Content: "over"})
	if out.Status != Rejected {
		t.Fatalf("status = %v, want Rejected", out.Status)
	}
	if out.Message != nil {
		t.Error("rejected outcome carried a message")
	}
}

func TestProcessFilePath(t *testing.T) {
	p, sess, dir := newTestPipeline(t, 100)

	name := "ab12cd34ef56ab78-photo.png"
	if err := os.WriteFile(filepath.Join(dir, name), pngHeader, 0o644); err != nil {
		t.Fatal(err)
	}

	out := p.Process(sess.ID, Inbound{Type: "file", Content: "/uploads/" + name, Name: "My Photo.PNG"})
	if out.Status != Accepted {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Message.FileType != "image/png" {
		t.Errorf("fileType = %q, want image/png", out.Message.FileType)
	}
	if out.Message.Size != int64(len(pngHeader)) {
		t.Errorf("size = %d, want %d", out.Message.Size, len(pngHeader))
	}
	if out.Message.Name != "my_photo.png" {
		t.Errorf("name = %q, want sanitized display name", out.Message.Name)
	}

	// Second reference hits the cache even after the file is gone.
	if err := os.Remove(filepath.Join(dir, name)); err != nil {
		t.Fatal(err)
	}
	out = p.Process(sess.ID, Inbound{Type: "file", Content: "/uploads/" + name})
	if out.Status != Accepted || out.Message.FileType != "image/png" {
		t.Fatalf("cached lookup outcome = %+v", out)
	}
}

func TestProcessFilePathRejectsTraversal(t *testing.T) {
	p, sess, _ := newTestPipeline(t, 100)

	cases := []struct {
		name    string
		content string
		reason  string
	}{
		{"missing file", "/uploads/ab12cd34ef56ab78-gone.bin", "unresolvable_file"},
		{"parent traversal", "/uploads/../etc/passwd", "invalid_path"},
		{"nested path", "/uploads/a/b.png", "invalid_path"},
		{"uppercase", "/uploads/AB12-x.png", "invalid_path"},
		{"bare name", "photo.png", "invalid_path"},
		{"overlong", "/uploads/" + strings.Repeat("a", 300), "oversized_path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := p.Process(sess.ID, Inbound{Type: "file", Content: tc.content})
			if out.Status != Dropped || out.Reason != tc.reason {
				t.Errorf("outcome = %+v, want Dropped/%s", out, tc.reason)
			}
		})
	}
}

func TestProcessDataURI(t *testing.T) {
	p, sess, _ := newTestPipeline(t, 100)

	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)
	out := p.Process(sess.ID, Inbound{Type: "file", Content: uri, Name: "inline.png"})
	if out.Status != Accepted {
		t.Fatalf("outcome = %+v", out)
	}
	// The advertised media type is ignored; detection runs on the bytes.
	if out.Message.FileType != "image/png" || out.Message.Size != int64(len(pngHeader)) {
		t.Errorf("fileType = %q size = %d", out.Message.FileType, out.Message.Size)
	}
}

func TestProcessDataURIMalformed(t *testing.T) {
	p, sess, _ := newTestPipeline(t, 100)

	for _, content := range []string{
		"data:image/png;base64",           // no payload separator
		"data:image/png,rawtext",          // not base64-flagged
		"data:image/png;base64,@@not-b64", // undecodable
	} {
		out := p.Process(sess.ID, Inbound{Type: "file", Content: content})
		if out.Status != Dropped || out.Reason != "malformed_data_uri" {
			t.Errorf("%q: outcome = %+v, want Dropped/malformed_data_uri", content, out)
		}
	}
}

func TestProcessDataURIOversized(t *testing.T) {
	p, sess, _ := newTestPipeline(t, 100)
	p.maxInline = 4

	uri := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString([]byte("12345"))
	out := p.Process(sess.ID, Inbound{Type: "file", Content: uri})
	if out.Status != Dropped || out.Reason != "oversized_inline" {
		t.Fatalf("outcome = %+v, want Dropped/oversized_inline", out)
	}
}

func TestProcessVanishedSessionFallsBack(t *testing.T) {
	p, sess, _ := newTestPipeline(t, 100)
	p.registry.Disconnect(sess.ID)

	out := p.Process(sess.ID, Inbound{Type: "text", Content: "ghost"})
	if out.Status != Accepted {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Message.Hue != 210 {
		t.Errorf("hue = %v, want fallback 210", out.Message.Hue)
	}
}
