// Package fileindex keeps a SQLite index of uploaded files: stored name,
// original name, size, MIME type, uploader identity hash, and upload time.
// The index matches what is on disk (artifacts survive restarts even though
// chat state does not) and drives TTL cleanup of old uploads.
package fileindex

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// Record is one indexed upload.
type Record struct {
	ID           int64
	StoredName   string
	OriginalName string
	Size         int64
	MIME         string
	UploaderHash string
	UploadTime   time.Time
}

// Stats holds aggregate statistics over the index.
type Stats struct {
	TotalFiles int64
	TotalBytes int64
	MIMECounts map[string]int64
}

// Index is a SQLite-backed upload index. A nil Index ignores all calls, so
// the relay works identically with the index disabled.
type Index struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (and migrates) the index database at dbPath.
func Open(dbPath string) (*Index, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create index directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	// SQLite supports only one writer.
	db.SetMaxOpenConns(1)

	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate index database: %w", err)
	}

	log.Infof("Upload index initialized at %s", dbPath)
	return idx, nil
}

func (x *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS uploads (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		stored_name   TEXT NOT NULL UNIQUE,
		original_name TEXT NOT NULL,
		size          INTEGER NOT NULL,
		mime          TEXT NOT NULL,
		uploader_hash TEXT NOT NULL,
		upload_time   TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_uploads_time ON uploads(upload_time);
	`
	_, err := x.db.Exec(schema)
	return err
}

// Insert records a finished upload.
func (x *Index) Insert(rec Record) error {
	if x == nil {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	_, err := x.db.Exec(
		`INSERT INTO uploads (stored_name, original_name, size, mime, uploader_hash, upload_time)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.StoredName, rec.OriginalName, rec.Size, rec.MIME, rec.UploaderHash, rec.UploadTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to index upload %s: %w", rec.StoredName, err)
	}
	return nil
}

// Lookup returns the record for a stored name.
func (x *Index) Lookup(storedName string) (Record, bool, error) {
	if x == nil {
		return Record{}, false, nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	var rec Record
	err := x.db.QueryRow(
		`SELECT id, stored_name, original_name, size, mime, uploader_hash, upload_time
		 FROM uploads WHERE stored_name = ?`, storedName,
	).Scan(&rec.ID, &rec.StoredName, &rec.OriginalName, &rec.Size, &rec.MIME, &rec.UploaderHash, &rec.UploadTime)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("index lookup failed: %w", err)
	}
	return rec, true, nil
}

// Stats aggregates file counts, total bytes, and a MIME histogram.
func (x *Index) Stats() (Stats, error) {
	if x == nil {
		return Stats{MIMECounts: map[string]int64{}}, nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	stats := Stats{MIMECounts: make(map[string]int64)}
	err := x.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM uploads`).
		Scan(&stats.TotalFiles, &stats.TotalBytes)
	if err != nil {
		return stats, fmt.Errorf("index stats failed: %w", err)
	}

	rows, err := x.db.Query(`SELECT mime, COUNT(*) FROM uploads GROUP BY mime`)
	if err != nil {
		return stats, fmt.Errorf("index stats failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mime string
		var count int64
		if err := rows.Scan(&mime, &count); err != nil {
			return stats, err
		}
		stats.MIMECounts[mime] = count
	}
	return stats, rows.Err()
}

// DeleteOlderThan removes index records older than cutoff and returns the
// stored names so the caller can unlink artifacts and thumbnails.
func (x *Index) DeleteOlderThan(cutoff time.Time) ([]string, error) {
	if x == nil {
		return nil, nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	rows, err := x.db.Query(`SELECT stored_name FROM uploads WHERE upload_time < ?`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("index cleanup query failed: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(names) > 0 {
		if _, err := x.db.Exec(`DELETE FROM uploads WHERE upload_time < ?`, cutoff.UTC()); err != nil {
			return nil, fmt.Errorf("index cleanup delete failed: %w", err)
		}
	}
	return names, nil
}

// Close closes the underlying database.
func (x *Index) Close() error {
	if x == nil {
		return nil
	}
	return x.db.Close()
}
