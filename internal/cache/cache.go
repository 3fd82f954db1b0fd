// Package cache is a sqlite-backed TTL cache shared by the price feed and the
// token metadata resolver. A nil *Store is a valid, always-missing cache.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

type Result struct {
	Hit      bool
	Value    []byte
	Age      time.Duration
	Stale    bool
	TooStale bool
}

// Fresh reports a hit that is still within its TTL.
func (r Result) Fresh() bool { return r.Hit && !r.Stale }

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS cache_entries (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			ttl_seconds INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		);`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}

	store := &Store{db: db, lock: flock.New(lockPath)}
	_ = store.Prune()
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes entries whose TTL has fully expired.
func (s *Store) Prune() error {
	if s == nil || s.db == nil {
		return nil
	}
	nowUnix := time.Now().UTC().Unix()
	if _, err := s.db.Exec("DELETE FROM cache_entries WHERE created_at + ttl_seconds < ?", nowUnix); err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

// Get reads namespace/key. maxStale bounds how far past its TTL an entry may
// be before it is flagged TooStale; negative means unbounded.
func (s *Store) Get(namespace, key string, maxStale time.Duration) (Result, error) {
	if s == nil || s.db == nil {
		return Result{}, nil
	}
	var value []byte
	var createdUnix, ttlSeconds int64
	err := s.db.QueryRow("SELECT value, created_at, ttl_seconds FROM cache_entries WHERE namespace = ? AND key = ?",
		namespace, normalizeKey(key)).Scan(&value, &createdUnix, &ttlSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}

	age := time.Since(time.Unix(createdUnix, 0).UTC())
	if age < 0 {
		age = 0
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	stale := age > ttl
	return Result{
		Hit:      true,
		Value:    value,
		Age:      age,
		Stale:    stale,
		TooStale: stale && maxStale >= 0 && age > ttl+maxStale,
	}, nil
}

func (s *Store) Set(namespace, key string, value []byte, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return nil
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	ttlSeconds := int64(ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO cache_entries (namespace, key, value, created_at, ttl_seconds)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value=excluded.value,
			created_at=excluded.created_at,
			ttl_seconds=excluded.ttl_seconds
	`, namespace, normalizeKey(key), value, time.Now().UTC().Unix(), ttlSeconds)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// GetJSON decodes a fresh entry into out. Stale or undecodable entries count
// as misses.
func (s *Store) GetJSON(namespace, key string, out any) (bool, error) {
	res, err := s.Get(namespace, key, 0)
	if err != nil || !res.Fresh() {
		return false, err
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *Store) SetJSON(namespace, key string, value any, ttl time.Duration) error {
	if s == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	return s.Set(namespace, key, payload, ttl)
}

// Addresses and symbols are case-insensitive keys.
func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
