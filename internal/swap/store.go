package swap

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/xswap/internal/errors"
	"github.com/ggonzalez94/xswap/internal/model"
)

// OrderStore persists submitted orders. UpdateStatus must never move an
// order out of a terminal status.
type OrderStore interface {
	Save(ctx context.Context, order model.Order) error
	Get(ctx context.Context, orderID string) (model.Order, error)
	List(ctx context.Context, limit int) ([]model.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status model.OrderStatus, at time.Time) error
}

// MemoryStore keeps orders for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]model.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: map[string]model.Order{}}
}

func (s *MemoryStore) Save(_ context.Context, order model.Order) error {
	if order.OrderID == "" {
		return clierr.New(clierr.CodeUsage, "order id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.orders[order.OrderID]; ok && prev.Status.Terminal() && !order.Status.Terminal() {
		order.Status = prev.Status
	}
	s.orders[order.OrderID] = order
	return nil
}

func (s *MemoryStore) Get(_ context.Context, orderID string) (model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	if !ok {
		return model.Order{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("order not found: %s", orderID))
	}
	return order, nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]model.Order, error) {
	s.mu.RLock()
	out := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].OrderID < out[j].OrderID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, orderID string, status model.OrderStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("order not found: %s", orderID))
	}
	if order.Status.Terminal() {
		return nil
	}
	order.Status = status
	order.Touch(at)
	s.orders[orderID] = order
	return nil
}
