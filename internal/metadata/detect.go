package metadata

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// sniffLen is how many leading bytes the text/binary fallback inspects.
const sniffLen = 512

type signature struct {
	mime   string
	offset int
	magic  []byte
}

// Known binary signatures, checked in order. First match wins.
var signatures = []signature{
	{"image/png", 0, []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}},
	{"image/jpeg", 0, []byte{0xff, 0xd8, 0xff}},
	{"image/gif", 0, []byte("GIF8")},
	{"application/pdf", 0, []byte("%PDF")},
	{"application/zip", 0, []byte{'P', 'K', 0x03, 0x04}},
	{"application/x-executable", 0, []byte{0x7f, 'E', 'L', 'F'}},
	{"application/x-msdos-program", 0, []byte{'M', 'Z'}},
	{"audio/mpeg", 0, []byte{0xff, 0xfb}},
	{"audio/mpeg", 0, []byte("ID3")},
	{"audio/ogg", 0, []byte("OggS")},
	{"video/mp4", 4, []byte("ftyp")},
	{"application/gzip", 0, []byte{0x1f, 0x8b}},
	{"image/bmp", 0, []byte("BM")},
}

// DetectBytes resolves MIME type and size for an in-memory payload.
// Magic-byte signatures are tried first; when none match, the first 512
// bytes decide between text/plain (no NUL byte) and application/octet-stream.
func DetectBytes(buf []byte) Entry {
	return Entry{MIME: sniff(buf), Size: int64(len(buf))}
}

// DetectFile resolves MIME type and size for a file on disk. An unreadable
// file returns an error; callers must not cache a result in that case.
func DetectFile(path string) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to open %s for detection: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Entry{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Entry{}, fmt.Errorf("failed to read %s for detection: %w", path, err)
	}

	return Entry{MIME: sniff(head[:n]), Size: info.Size()}, nil
}

func sniff(buf []byte) string {
	for _, sig := range signatures {
		end := sig.offset + len(sig.magic)
		if len(buf) >= end && bytes.Equal(buf[sig.offset:end], sig.magic) {
			return sig.mime
		}
	}

	// RIFF containers carry their subtype at offset 8.
	if len(buf) >= 12 && bytes.Equal(buf[:4], []byte("RIFF")) {
		switch string(buf[8:12]) {
		case "WEBP":
			return "image/webp"
		case "WAVE":
			return "audio/wav"
		case "AVI ":
			return "video/x-msvideo"
		}
	}

	head := buf
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return "application/octet-stream"
	}
	return "text/plain"
}
