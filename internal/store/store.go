// Package store persists submitted orders in sqlite so a later CLI session
// can list and watch them.
package store

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

	clierr "github.com/ggonzalez94/xswap/internal/errors"
	"github.com/ggonzalez94/xswap/internal/model"
)

const lockTimeout = 5 * time.Second

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create order store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create order lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open order sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			src_chain_id INTEGER NOT NULL,
			dst_chain_id INTEGER NOT NULL,
			tx_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init order schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock order store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock order store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

// Save inserts or replaces an order. A stored terminal status is kept when
// the incoming order carries a non-terminal one.
func (s *Store) Save(ctx context.Context, order model.Order) error {
	if strings.TrimSpace(order.OrderID) == "" {
		return clierr.New(clierr.CodeUsage, "order id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	return s.withLock(ctx, func() error {
		prev, err := s.get(ctx, order.OrderID)
		if err == nil && prev.Status.Terminal() && !order.Status.Terminal() {
			order.Status = prev.Status
		}
		return s.put(ctx, order)
	})
}

// UpdateStatus records a newly observed status. Orders already in a terminal
// status are left untouched.
func (s *Store) UpdateStatus(ctx context.Context, orderID string, status model.OrderStatus, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	return s.withLock(ctx, func() error {
		order, err := s.get(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return nil
		}
		order.Status = status
		order.Touch(at)
		return s.put(ctx, order)
	})
}

func (s *Store) put(ctx context.Context, order model.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	createdUnix, _ := parseRFC3339Unix(order.CreatedAt)
	updatedUnix, _ := parseRFC3339Unix(order.UpdatedAt)
	if createdUnix == 0 {
		createdUnix = time.Now().UTC().Unix()
	}
	if updatedUnix == 0 {
		updatedUnix = createdUnix
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, status, src_chain_id, dst_chain_id, tx_hash, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			status=excluded.status,
			tx_hash=excluded.tx_hash,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, order.OrderID, string(order.Status), order.SourceChainID, order.DestinationChainID, order.TxHash, createdUnix, updatedUnix, payload)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, orderID string) (model.Order, error) {
	return s.get(ctx, orderID)
}

func (s *Store) get(ctx context.Context, orderID string) (model.Order, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM orders WHERE order_id = ?", orderID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("order not found: %s", orderID))
		}
		return model.Order{}, fmt.Errorf("read order: %w", err)
	}
	var order model.Order
	if err := json.Unmarshal(payload, &order); err != nil {
		return model.Order{}, fmt.Errorf("decode order payload: %w", err)
	}
	return order, nil
}

// List returns the most recently created orders first.
func (s *Store) List(ctx context.Context, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM orders ORDER BY created_at DESC, order_id ASC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]model.Order, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		var order model.Order
		if err := json.Unmarshal(payload, &order); err != nil {
			return nil, fmt.Errorf("decode order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

func parseRFC3339Unix(v string) (int64, bool) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, false
	}
	return t.UTC().Unix(), true
}
