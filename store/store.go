// Package store persists named page snapshots in a SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/pagevm/image"
)

var log = commonlog.GetLogger("pagevm.store")

// ErrSnapshotNotFound indicates the requested snapshot doesn't exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Info describes a stored snapshot without its contents.
type Info struct {
	ID      uuid.UUID
	Name    string
	Created time.Time
	Pages   int
	Strings int
	Size    int // encoded bytes
}

// Store handles SQLite storage for snapshots.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if needed) the snapshot database at path. The
// directory containing it is created as well.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: creating %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		id      TEXT PRIMARY KEY,
		name    TEXT NOT NULL,
		created INTEGER NOT NULL,
		pages   INTEGER NOT NULL,
		strings INTEGER NOT NULL,
		data    BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating table: %w", err)
	}

	log.Debugf("opened %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save stores snap under name and returns its new id. Names need not be
// unique; every Save creates a new snapshot.
func (s *Store) Save(name string, snap *image.Snapshot) (uuid.UUID, error) {
	data, err := image.Marshal(snap)
	if err != nil {
		return uuid.Nil, err
	}
	pages, strings := snap.Counts()
	id := uuid.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT INTO snapshots (id, name, created, pages, strings, data) VALUES (?, ?, ?, ?, ?, ?)",
		id.String(), name, time.Now().UnixNano(), pages, strings, data,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: saving snapshot: %w", err)
	}
	log.Infof("saved snapshot %s (%s): %d pages, %d bytes", name, id, pages, len(data))
	return id, nil
}

// Load retrieves and decodes a snapshot.
func (s *Store) Load(id uuid.UUID) (*image.Snapshot, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM snapshots WHERE id = ?", id.String()).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("store: querying snapshot: %w", err)
	}
	return image.Unmarshal(data)
}

// Latest returns the most recently saved snapshot with the given name.
func (s *Store) Latest(name string) (Info, error) {
	row := s.db.QueryRow(
		"SELECT id, name, created, pages, strings, length(data) FROM snapshots WHERE name = ? ORDER BY created DESC, rowid DESC LIMIT 1",
		name,
	)
	info, err := scanInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Info{}, ErrSnapshotNotFound
	}
	return info, err
}

// List returns every stored snapshot, oldest first.
func (s *Store) List() ([]Info, error) {
	rows, err := s.db.Query(
		"SELECT id, name, created, pages, strings, length(data) FROM snapshots ORDER BY created, rowid",
	)
	if err != nil {
		return nil, fmt.Errorf("store: listing snapshots: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: listing snapshots: %w", err)
	}
	return infos, nil
}

// Delete removes a snapshot.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM snapshots WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("store: deleting snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: deleting snapshot: %w", err)
	}
	if n == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInfo(sc scanner) (Info, error) {
	var (
		info    Info
		id      string
		created int64
	)
	if err := sc.Scan(&id, &info.Name, &created, &info.Pages, &info.Strings, &info.Size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Info{}, err
		}
		return Info{}, fmt.Errorf("store: reading snapshot row: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Info{}, fmt.Errorf("store: bad snapshot id %q: %w", id, err)
	}
	info.ID = parsed
	info.Created = time.Unix(0, created)
	return info, nil
}
