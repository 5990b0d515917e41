package buffer

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS batches (
	seq        INTEGER PRIMARY KEY,
	created_at INTEGER NOT NULL,
	checksum   INTEGER NOT NULL,
	payload    BLOB    NOT NULL
);`

// SQLiteBackend stores records as rows of a single table in WAL mode with
// full synchronous commits.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLiteBackend opens or creates the database file at path.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create buffer directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite buffer: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=FULL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite buffer: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Append inserts rec with its payload checksum.
func (s *SQLiteBackend) Append(rec Record) error {
	_, err := s.db.Exec(
		`INSERT INTO batches (seq, created_at, checksum, payload) VALUES (?, ?, ?, ?)`,
		int64(rec.Seq), rec.CreatedAt.UnixNano(), int64(xxh3.Hash(rec.Payload)), rec.Payload,
	)
	return err
}

// Index lists stored rows in sequence order.
func (s *SQLiteBackend) Index() ([]IndexEntry, error) {
	rows, err := s.db.Query(`SELECT seq, length(payload) FROM batches ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var index []IndexEntry
	for rows.Next() {
		var seq, size int64
		if err := rows.Scan(&seq, &size); err != nil {
			return nil, err
		}
		index = append(index, IndexEntry{Seq: uint64(seq), Size: size})
	}
	return index, rows.Err()
}

// Read loads the row for seq and verifies its checksum.
func (s *SQLiteBackend) Read(seq uint64) (Record, error) {
	var (
		createdAt, checksum int64
		payload             []byte
	)
	err := s.db.QueryRow(
		`SELECT created_at, checksum, payload FROM batches WHERE seq = ?`, int64(seq),
	).Scan(&createdAt, &checksum, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	if uint64(checksum) != xxh3.Hash(payload) {
		return Record{}, fmt.Errorf("%w: checksum mismatch for seq %d", ErrCorruptRecord, seq)
	}
	return Record{
		Seq:       seq,
		CreatedAt: unixNanoUTC(createdAt),
		Payload:   payload,
	}, nil
}

// Delete removes the row for seq.
func (s *SQLiteBackend) Delete(seq uint64) error {
	_, err := s.db.Exec(`DELETE FROM batches WHERE seq = ?`, int64(seq))
	return err
}

// Close closes the database.
func (s *SQLiteBackend) Close() error { return s.db.Close() }
