package hal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryStorage is the path that keeps saved state for the life of the
// process only.
const MemoryStorage = ":memory:"

// SQLStorage keeps named blobs in a SQLite database.
type SQLStorage struct {
	db   *sql.DB
	path string
}

var _ Storage = (*SQLStorage)(nil)

// OpenStorage opens or creates the database at path.
func OpenStorage(path string) (*SQLStorage, error) {
	if path == "" {
		path = MemoryStorage
	}
	if path != MemoryStorage {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	const schema = `
	CREATE TABLE IF NOT EXISTS saved_state (
		name       TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init schema: %w", err)
	}
	return &SQLStorage{db: db, path: path}, nil
}

func (s *SQLStorage) Path() string { return s.path }

func (s *SQLStorage) Save(name string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.Exec(`
		INSERT INTO saved_state (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		name, data, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("storage: save %q: %w", name, err)
	}
	return nil
}

func (s *SQLStorage) Load(name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM saved_state WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage: load %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load %q: %w", name, err)
	}
	return data, nil
}

func (s *SQLStorage) Delete(name string) error {
	res, err := s.db.Exec(`DELETE FROM saved_state WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("storage: delete %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("storage: delete %q: %w", name, ErrNotFound)
	}
	return nil
}

func (s *SQLStorage) Exists(name string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM saved_state WHERE name = ?`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("storage: exists %q: %w", name, err)
	}
	return n > 0, nil
}

// Names lists saved entries in name order.
func (s *SQLStorage) Names() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM saved_state ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("storage: list: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLStorage) Close() error { return s.db.Close() }
