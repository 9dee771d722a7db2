package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slighter12/jsonrpc-entrypoint/jsonrpc"
)

// SharedKey is the shared value key the store is published under.
const SharedKey = "store"

var ErrNotFound = errors.New("key not found")

// Entry is one stored value.
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is a JSON key/value store backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Path returns the underlying SQLite file path.
func (s *Store) Path() string {
	return s.path
}

// Open initializes a SQLite database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection; a single connection keeps them in force
	// and serializes writers from concurrent batch items.
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: path}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init ensures pragmas and schema are configured.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("nil store")
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS entries (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Put stores value under key and bumps its version.
func (s *Store) Put(ctx context.Context, key string, value json.RawMessage) (Entry, error) {
	if !json.Valid(value) {
		return Entry{}, errors.New("value is not valid JSON")
	}
	now := time.Now().UnixMilli()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO entries(key, value, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = entries.version + 1,
			updated_at = excluded.updated_at
		RETURNING version;
	`, key, string(value), now)

	var version int64
	if err := row.Scan(&version); err != nil {
		return Entry{}, fmt.Errorf("put %q: %w", key, err)
	}
	return Entry{Key: key, Value: value, Version: version, UpdatedAt: time.UnixMilli(now).UTC()}, nil
}

// Get returns the entry stored under key or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value, version, updated_at FROM entries WHERE key = ?;`, key)
	entry, err := scanEntry(key, row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get %q: %w", key, err)
	}
	return entry, nil
}

// Delete removes key. It reports whether the key existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?;`, key)
	if err != nil {
		return false, fmt.Errorf("delete %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns entries whose key starts with prefix, ordered by key.
// A non-positive limit returns every match.
func (s *Store) List(ctx context.Context, prefix string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, version, updated_at FROM entries
		WHERE substr(key, 1, length(?1)) = ?1
		ORDER BY key
		LIMIT ?2;
	`, prefix, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var key string
		entry, err := scanEntry("", func(dest ...any) error {
			return rows.Scan(append([]any{&key}, dest...)...)
		})
		if err != nil {
			return nil, err
		}
		entry.Key = key
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(key string, scan func(dest ...any) error) (Entry, error) {
	var (
		value   string
		version int64
		updated int64
	)
	if err := scan(&value, &version, &updated); err != nil {
		return Entry{}, err
	}
	return Entry{
		Key:       key,
		Value:     json.RawMessage(value),
		Version:   version,
		UpdatedAt: time.UnixMilli(updated).UTC(),
	}, nil
}

// Resolver publishes the store to every call as a shared value.
func (s *Store) Resolver() jsonrpc.ContextResolver {
	return jsonrpc.ResolverFunc(func(*http.Request) (jsonrpc.Shared, error) {
		return jsonrpc.NewShared(map[string]any{SharedKey: s}), nil
	})
}

// From returns the store published to the call handling ctx.
func From(ctx context.Context) (*Store, bool) {
	return jsonrpc.SharedValue[*Store](ctx, SharedKey)
}

// ValidKey reports whether key is usable: non-blank and without control characters.
func ValidKey(key string) bool {
	if strings.TrimSpace(key) == "" {
		return false
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
