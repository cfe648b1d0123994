package fileindex

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestInsertAndLookup(t *testing.T) {
	idx := openTestIndex(t)

	rec := Record{
		StoredName:   "0123456789abcdef-photo.jpg",
		OriginalName: "photo.jpg",
		Size:         12345,
		MIME:         "image/jpeg",
		UploaderHash: "a1b2c3d4",
		UploadTime:   time.Now(),
	}
	if err := idx.Insert(rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok, err := idx.Lookup(rec.StoredName)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatal("Lookup did not find the inserted record")
	}
	if got.Size != rec.Size || got.MIME != rec.MIME || got.UploaderHash != rec.UploaderHash {
		t.Errorf("Lookup = %+v, want fields of %+v", got, rec)
	}

	if _, ok, _ := idx.Lookup("missing"); ok {
		t.Error("Lookup should miss for an unknown name")
	}
}

func TestDuplicateStoredNameRejected(t *testing.T) {
	idx := openTestIndex(t)
	rec := Record{StoredName: "dup", OriginalName: "a", MIME: "text/plain", UploadTime: time.Now()}
	if err := idx.Insert(rec); err != nil {
		t.Fatal(err)
	}
	if err := idx.Insert(rec); err == nil {
		t.Error("duplicate stored_name should be rejected")
	}
}

func TestStats(t *testing.T) {
	idx := openTestIndex(t)
	now := time.Now()
	for i, mime := range []string{"image/png", "image/png", "text/plain"} {
		rec := Record{
			StoredName: string(rune('a'+i)) + "-file", OriginalName: "f",
			Size: 100, MIME: mime, UploadTime: now,
		}
		if err := idx.Insert(rec); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := idx.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalFiles != 3 || stats.TotalBytes != 300 {
		t.Errorf("Stats = %+v", stats)
	}
	if stats.MIMECounts["image/png"] != 2 || stats.MIMECounts["text/plain"] != 1 {
		t.Errorf("MIMECounts = %v", stats.MIMECounts)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	idx := openTestIndex(t)
	old := Record{StoredName: "old-file", OriginalName: "o", MIME: "text/plain",
		UploadTime: time.Now().Add(-48 * time.Hour)}
	fresh := Record{StoredName: "fresh-file", OriginalName: "f", MIME: "text/plain",
		UploadTime: time.Now()}
	for _, r := range []Record{old, fresh} {
		if err := idx.Insert(r); err != nil {
			t.Fatal(err)
		}
	}

	names, err := idx.DeleteOlderThan(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if len(names) != 1 || names[0] != "old-file" {
		t.Errorf("deleted names = %v, want [old-file]", names)
	}
	if _, ok, _ := idx.Lookup("old-file"); ok {
		t.Error("old record should be gone")
	}
	if _, ok, _ := idx.Lookup("fresh-file"); !ok {
		t.Error("fresh record should remain")
	}
}

func TestNilIndexIsNoop(t *testing.T) {
	var idx *Index
	if err := idx.Insert(Record{StoredName: "x"}); err != nil {
		t.Errorf("nil Insert: %v", err)
	}
	if _, ok, err := idx.Lookup("x"); ok || err != nil {
		t.Errorf("nil Lookup = %v, %v", ok, err)
	}
	if names, err := idx.DeleteOlderThan(time.Now()); names != nil || err != nil {
		t.Errorf("nil DeleteOlderThan = %v, %v", names, err)
	}
	if err := idx.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}
