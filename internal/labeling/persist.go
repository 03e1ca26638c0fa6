package labeling

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/john/chatsentiment/internal/atomicfile"
	_ "modernc.org/sqlite"
)

// FilePersister keeps the snapshot in a single JSON file. Saves write a
// temporary file in the same directory and rename it over the old one.
type FilePersister struct {
	path string
}

// NewFilePersister returns a persister backed by path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Load reads the snapshot, returning nil if the file does not exist yet.
func (f *FilePersister) Load() (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}
	return decodeSnapshot(data)
}

// Save replaces the snapshot file atomically.
func (f *FilePersister) Save(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return atomicfile.Write(f.path, data)
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.Version > snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}

// SQLitePersister stores each snapshot as a row in a SQLite database and
// loads the most recent one. Older rows beyond keep are pruned on save.
type SQLitePersister struct {
	db   *sql.DB
	keep int
}

// OpenSQLite opens (and creates if needed) the snapshot database at path.
func OpenSQLite(path string, keep int) (*SQLitePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS store_snapshots (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		version    INTEGER NOT NULL,
		data       BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if keep < 1 {
		keep = 1
	}
	return &SQLitePersister{db: db, keep: keep}, nil
}

// Load returns the newest snapshot, or nil if none has been saved.
func (p *SQLitePersister) Load() (*Snapshot, error) {
	var data []byte
	err := p.db.QueryRow(`SELECT data FROM store_snapshots ORDER BY id DESC LIMIT 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

// Save inserts the snapshot and prunes old rows in one transaction.
func (p *SQLitePersister) Save(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO store_snapshots (version, data) VALUES (?, ?)`, snap.Version, data); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if _, err := tx.Exec(
		`DELETE FROM store_snapshots WHERE id NOT IN (SELECT id FROM store_snapshots ORDER BY id DESC LIMIT ?)`,
		p.keep,
	); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
