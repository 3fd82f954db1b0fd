// Package store persists wallets, per-user settings, the trade log and price
// alerts in sqlite. Writes are serialized across processes with a file lock.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a wallet or alert does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time

	writeMu sync.Mutex

	idMu    sync.Mutex
	entropy io.Reader
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return nil, fmt.Errorf("create store lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS wallets (
			user_id TEXT PRIMARY KEY,
			address TEXT NOT NULL,
			encrypted_key TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			native_balance TEXT NOT NULL DEFAULT '0',
			stable_balance TEXT NOT NULL DEFAULT '0',
			last_token_address TEXT NOT NULL DEFAULT '',
			last_token_balance TEXT NOT NULL DEFAULT '0',
			balances_updated_at INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id TEXT PRIMARY KEY,
			slippage_bps INTEGER NOT NULL DEFAULT 0,
			gas_boost_bps INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			side TEXT NOT NULL,
			token TEXT NOT NULL,
			amount TEXT NOT NULL,
			tx_hash TEXT NOT NULL,
			approval_tx_hash TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_trades_user_created ON trades(user_id, created_at DESC);",
		`CREATE TABLE IF NOT EXISTS price_alerts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			token_address TEXT NOT NULL,
			symbol TEXT NOT NULL,
			target_price TEXT NOT NULL,
			condition TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			triggered INTEGER NOT NULL DEFAULT 0,
			triggered_at INTEGER,
			created_at INTEGER NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_alerts_active ON price_alerts(active, triggered);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init store schema: %w", err)
		}
	}
	return &Store{
		db:      db,
		lock:    flock.New(lockPath),
		now:     func() time.Time { return time.Now().UTC() },
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// write runs fn while holding the store lock. The flock handle is shared by
// every goroutine, so writers also serialize on writeMu.
func (s *Store) write(ctx context.Context, fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func fromUnixMilli(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func normalizeUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("missing user id")
	}
	return userID, nil
}
