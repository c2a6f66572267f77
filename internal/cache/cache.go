// Package cache is a sqlite-backed TTL cache for provider reference data
// (supported chains and token lists). Quotes and order state never go
// through it.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	clierr "github.com/ggonzalez94/xswap/internal/errors"
	"github.com/ggonzalez94/xswap/internal/model"
)

const (
	StatusHit    = "hit"
	StatusMiss   = "miss"
	StatusWrite  = "write"
	StatusBypass = "bypass"
)

type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

type Result struct {
	Hit      bool
	Value    []byte
	Age      time.Duration
	Stale    bool
	TooStale bool
}

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
		"CREATE TABLE IF NOT EXISTS reference_entries (key TEXT PRIMARY KEY, value BLOB NOT NULL, created_at INTEGER NOT NULL, ttl_seconds INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}

	store := &Store{db: db, lock: flock.New(lockPath), now: time.Now}
	_ = store.Prune(context.Background())
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Key derives a stable cache key from a namespace and its parts.
func Key(namespace string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return namespace + ":" + hex.EncodeToString(sum[:12])
}

// Prune deletes entries whose TTL has expired.
func (s *Store) Prune(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM reference_entries WHERE created_at + ttl_seconds < ?", s.now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

// Get reads an entry. maxStale bounds how long past its TTL an entry is still
// usable; a negative maxStale means unbounded.
func (s *Store) Get(ctx context.Context, key string, maxStale time.Duration) (Result, error) {
	var value []byte
	var createdUnix int64
	var ttlSeconds int64
	err := s.db.QueryRowContext(ctx, "SELECT value, created_at, ttl_seconds FROM reference_entries WHERE key = ?", key).Scan(&value, &createdUnix, &ttlSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{Hit: false}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}

	age := s.now().Sub(time.Unix(createdUnix, 0))
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

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reference_entries (key, value, created_at, ttl_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			created_at=excluded.created_at,
			ttl_seconds=excluded.ttl_seconds
	`, key, value, s.now().UTC().Unix(), ttlSeconds)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// Policy controls one cached lookup.
type Policy struct {
	TTL      time.Duration
	MaxStale time.Duration
	NoStale  bool
}

// Lookup serves key from the cache while fresh, otherwise calls fetch and
// stores the result. When fetch fails with a transport error and a stale
// entry within the MaxStale budget exists, the stale value is returned with a
// warning. A nil store always fetches.
func Lookup[T any](ctx context.Context, s *Store, key string, p Policy, fetch func(context.Context) (T, error)) (T, model.CacheStatus, []string, error) {
	var zero T
	if s == nil {
		v, err := fetch(ctx)
		return v, model.CacheStatus{Status: StatusBypass}, nil, err
	}

	var (
		stale       T
		staleStatus model.CacheStatus
		haveStale   bool
		staleTooOld bool
	)
	if cached, err := s.Get(ctx, key, p.MaxStale); err == nil && cached.Hit {
		var v T
		if err := json.Unmarshal(cached.Value, &v); err == nil {
			status := model.CacheStatus{Status: StatusHit, AgeMS: cached.Age.Milliseconds(), Stale: cached.Stale}
			if !cached.Stale {
				return v, status, nil, nil
			}
			stale, staleStatus, haveStale, staleTooOld = v, status, true, cached.TooStale
		}
	}

	v, err := fetch(ctx)
	if err != nil {
		if !haveStale || !fallbackAllowed(err) {
			return zero, model.CacheStatus{Status: StatusMiss}, nil, err
		}
		if p.NoStale {
			return zero, staleStatus, nil, clierr.Wrap(clierr.CodeStale, "fresh provider fetch failed and stale fallback is disabled (--no-stale)", err)
		}
		if staleTooOld {
			return zero, staleStatus, nil, clierr.Wrap(clierr.CodeStale, "fresh provider fetch failed and cached data exceeded stale budget", err)
		}
		return stale, staleStatus, []string{"provider fetch failed; serving stale data within max-stale budget"}, nil
	}

	status := model.CacheStatus{Status: StatusMiss}
	if payload, err := json.Marshal(v); err == nil {
		if err := s.Set(ctx, key, payload, p.TTL); err == nil {
			status.Status = StatusWrite
		}
	}
	return v, status, nil, nil
}

func fallbackAllowed(err error) bool {
	cliErr, ok := clierr.As(err)
	if !ok {
		return false
	}
	switch cliErr.Code {
	case clierr.CodeUnavailable, clierr.CodeRateLimited:
		return true
	default:
		return false
	}
}
