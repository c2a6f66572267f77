package swap

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ggonzalez94/xswap/internal/id"
	"github.com/ggonzalez94/xswap/internal/model"
	"github.com/ggonzalez94/xswap/internal/providers"
	"github.com/ggonzalez94/xswap/internal/scheduler"
)

const DefaultPollInterval = 10 * time.Second

// PollObserver receives one call per status poll.
type PollObserver interface {
	ObservePoll(status model.OrderStatus, err error)
}

type TrackerOption func(*Tracker)

func WithPollInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

func WithTrackerLogger(logger *zap.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithPollObserver(observer PollObserver) TrackerOption {
	return func(t *Tracker) { t.observer = observer }
}

// WithTrackerStore persists observed statuses.
func WithTrackerStore(store OrderStore) TrackerOption {
	return func(t *Tracker) { t.store = store }
}

// Handle controls one tracking session.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops observing the order. It does not cancel the order itself.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed once polling has stopped, either at a terminal status or
// after Cancel.
func (h *Handle) Done() <-chan struct{} { return h.done }

type session struct {
	gen    uint64
	handle *Handle
}

type record struct {
	current model.OrderStatus
	history []model.StatusUpdate
}

// Tracker polls order status until a terminal status is observed.
type Tracker struct {
	provider providers.OrderStatusProvider
	sched    *scheduler.Scheduler
	interval time.Duration
	logger   *zap.Logger
	observer PollObserver
	store    OrderStore
	now      func() time.Time

	mu       sync.Mutex
	gen      uint64
	sessions map[string]session
	records  map[string]*record
}

func NewTracker(provider providers.OrderStatusProvider, sched *scheduler.Scheduler, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		provider: provider,
		sched:    sched,
		interval: DefaultPollInterval,
		logger:   zap.NewNop(),
		now:      time.Now,
		sessions: map[string]session{},
		records:  map[string]*record{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track fetches the order status right away and then every poll interval
// until the status is terminal or the handle is cancelled. onUpdate is called
// once per poll, including repeated statuses and failed polls. Tracking an
// order that is already tracked replaces the previous session.
func (t *Tracker) Track(ctx context.Context, orderID string, onUpdate func(model.StatusUpdate)) (*Handle, error) {
	if err := id.ValidateOrderID(orderID); err != nil {
		return nil, err
	}
	if onUpdate == nil {
		onUpdate = func(model.StatusUpdate) {}
	}
	pollCtx, cancel := context.WithCancel(ctx)
	handle := &Handle{cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	t.gen++
	gen := t.gen
	if prev, ok := t.sessions[orderID]; ok {
		prev.handle.Cancel()
		t.logger.Debug("replacing order tracker", zap.String("order_id", orderID))
	}
	t.sessions[orderID] = session{gen: gen, handle: handle}
	t.mu.Unlock()

	go t.poll(pollCtx, gen, orderID, onUpdate, handle)
	return handle, nil
}

func (t *Tracker) poll(ctx context.Context, gen uint64, orderID string, onUpdate func(model.StatusUpdate), handle *Handle) {
	defer close(handle.done)
	defer t.release(orderID, gen)
	defer handle.cancel()

	for n := 1; ; n++ {
		status, err := scheduler.Do(ctx, t.sched, func(ctx context.Context) (model.OrderStatus, error) {
			return t.provider.OrderStatus(ctx, orderID)
		})
		if ctx.Err() != nil {
			return
		}
		update, ok := t.apply(gen, orderID, n, status, err)
		if !ok {
			return
		}
		if t.observer != nil {
			t.observer.ObservePoll(status, err)
		}
		onUpdate(update)
		if err == nil && update.Status.Terminal() {
			t.logger.Info("order reached terminal status",
				zap.String("order_id", orderID),
				zap.String("status", string(update.Status)),
				zap.Int("polls", n))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.interval):
		}
	}
}

// apply folds one poll result into the order's record. A record that is
// already terminal keeps its status.
func (t *Tracker) apply(gen uint64, orderID string, poll int, status model.OrderStatus, err error) (model.StatusUpdate, bool) {
	now := t.now().UTC()
	t.mu.Lock()
	if s, ok := t.sessions[orderID]; !ok || s.gen != gen {
		t.mu.Unlock()
		return model.StatusUpdate{}, false
	}
	rec := t.records[orderID]
	if rec == nil {
		rec = &record{}
		t.records[orderID] = rec
	}

	update := model.StatusUpdate{OrderID: orderID, Poll: poll, ObservedAt: now}
	switch {
	case err != nil:
		update.Status = rec.current
		update.Err = err
		update.Error = err.Error()
	case rec.current.Terminal() && status != rec.current:
		t.logger.Warn("ignoring status after terminal status",
			zap.String("order_id", orderID),
			zap.String("current", string(rec.current)),
			zap.String("observed", string(status)))
		update.Status = rec.current
	default:
		if rec.current != "" && !rec.current.CanTransition(status) {
			t.logger.Warn("unexpected order status transition",
				zap.String("order_id", orderID),
				zap.String("from", string(rec.current)),
				zap.String("to", string(status)))
		}
		rec.current = status
		update.Status = status
	}
	rec.history = append(rec.history, update)
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn("order status poll failed", zap.String("order_id", orderID), zap.Int("poll", poll), zap.Error(err))
	} else if t.store != nil {
		if serr := t.store.UpdateStatus(context.Background(), orderID, update.Status, now); serr != nil {
			t.logger.Debug("order status not persisted", zap.String("order_id", orderID), zap.Error(serr))
		}
	}
	return update, true
}

func (t *Tracker) release(orderID string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[orderID]; ok && s.gen == gen {
		delete(t.sessions, orderID)
	}
}

// Current returns the last successfully observed status.
func (t *Tracker) Current(orderID string) (model.OrderStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[orderID]
	if !ok || rec.current == "" {
		return "", false
	}
	return rec.current, true
}

// History returns every update delivered for the order, oldest first.
func (t *Tracker) History(orderID string) []model.StatusUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[orderID]
	if !ok {
		return nil
	}
	return append([]model.StatusUpdate(nil), rec.history...)
}

// Active reports whether the order is currently being polled.
func (t *Tracker) Active(orderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[orderID]
	return ok
}
