// Package credstore persists the transcription API key in SQLite.
//
// A key saved with [Store.Set] wins over the environment; the environment
// variable (optionally populated from a .env file at startup) is the
// fallback. With neither, [Store.APIKey] returns stt.ErrNoCredential.
package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/tabcaption/pkg/provider/stt"
)

// DefaultEnvVar is the environment fallback for the API key.
const DefaultEnvVar = "SPEECHMATICS_API_KEY"

// keyName is the row holding the transcription API key.
const keyName = "speechmatics_api_key"

const schema = `
	CREATE TABLE IF NOT EXISTS credentials (
		name       TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`

// Source tells where the current key comes from.
type Source string

const (
	SourceNone   Source = "none"
	SourceStored Source = "stored"
	SourceEnv    Source = "env"
)

// Option configures a [Store].
type Option func(*Store)

// WithEnvVar sets the fallback environment variable.
func WithEnvVar(name string) Option {
	return func(s *Store) { s.envVar = name }
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(s *Store) { s.lookupEnv = fn }
}

// Store is the credential store. It is safe for concurrent use.
type Store struct {
	db        *sql.DB
	envVar    string
	lookupEnv func(string) (string, bool)
	now       func() time.Time
}

// Open opens or creates the database at path. ":memory:" keeps the store
// in memory.
func Open(path string, opts ...Option) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("credstore: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("credstore: open database: %w", err)
	}
	// One connection: an in-memory database is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("credstore: migrate: %w", err)
	}

	s := &Store{
		db:        db,
		envVar:    DefaultEnvVar,
		lookupEnv: os.LookupEnv,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("credstore: ping: %w", err)
	}
	return nil
}

// APIKey returns the stored key, falling back to the environment.
func (s *Store) APIKey(ctx context.Context) (string, error) {
	key, _, err := s.lookup(ctx)
	return key, err
}

// Source reports where APIKey would read the key from.
func (s *Store) Source(ctx context.Context) (Source, error) {
	_, src, err := s.lookup(ctx)
	if errors.Is(err, stt.ErrNoCredential) {
		return SourceNone, nil
	}
	return src, err
}

func (s *Store) lookup(ctx context.Context) (string, Source, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM credentials WHERE name = ?`, keyName).Scan(&value)
	switch {
	case err == nil && value != "":
		return value, SourceStored, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return "", SourceNone, fmt.Errorf("credstore: read key: %w", err)
	}

	if s.envVar != "" {
		if v, ok := s.lookupEnv(s.envVar); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), SourceEnv, nil
		}
	}
	return "", SourceNone, stt.ErrNoCredential
}

// Set stores key. An empty key deletes the stored one.
func (s *Store) Set(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return s.Delete(ctx)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, keyName, key, s.now().Unix())
	if err != nil {
		return fmt.Errorf("credstore: save key: %w", err)
	}
	return nil
}

// Delete removes the stored key. The environment fallback still applies.
func (s *Store) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE name = ?`, keyName); err != nil {
		return fmt.Errorf("credstore: delete key: %w", err)
	}
	return nil
}

// UpdatedAt returns when the stored key was last saved. The zero time means
// no key is stored.
func (s *Store) UpdatedAt(ctx context.Context) (time.Time, error) {
	var unix int64
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM credentials WHERE name = ?`, keyName).Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("credstore: read key: %w", err)
	}
	return time.Unix(unix, 0), nil
}
