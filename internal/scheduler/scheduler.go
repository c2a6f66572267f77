// Package scheduler serializes outbound provider calls through a single FIFO
// worker, spacing them out and retrying rate-limited calls with exponential
// backoff.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/xswap/internal/errors"
)

const (
	DefaultSpacing     = time.Second
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = time.Second
)

type Config struct {
	// Spacing is the minimum gap between the end of one operation and the
	// start of the next.
	Spacing time.Duration
	// MaxRetries bounds retries of a rate-limited operation.
	MaxRetries int
	// BaseBackoff is the first retry delay; each further retry doubles it.
	BaseBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{Spacing: DefaultSpacing, MaxRetries: DefaultMaxRetries, BaseBackoff: DefaultBaseBackoff}
}

// Observer receives scheduler events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveQueueDepth(depth int)
	ObserveRetry(attempt int, delay time.Duration)
	ObserveTask(err error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Option func(*Scheduler)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(s *Scheduler) { s.observer = observer }
}

func WithSleep(sleep SleepFunc) Option {
	return func(s *Scheduler) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

type task struct {
	ctx    context.Context
	run    func(context.Context) error
	finish func(error)
}

// Scheduler runs at most one operation at a time, in submission order.
type Scheduler struct {
	cfg      Config
	logger   *zap.Logger
	observer Observer
	sleep    SleepFunc
	now      func() time.Time

	mu      sync.Mutex
	queue   []*task
	closed  bool
	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
}

// New starts a scheduler worker. Call Close to stop it.
func New(cfg Config, opts ...Option) *Scheduler {
	if cfg.Spacing < 0 {
		cfg.Spacing = 0
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	s := &Scheduler{
		cfg:     cfg,
		logger:  zap.NewNop(),
		sleep:   sleepContext,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

// Close stops the worker after the running operation completes. Operations
// still queued fail with CodeUnavailable.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.stopped
		return
	}
	s.closed = true
	pending := s.queue
	s.queue = nil
	close(s.quit)
	s.mu.Unlock()

	for _, t := range pending {
		t.finish(errClosed())
	}
	s.observeDepth(0)
	<-s.stopped
}

// Pending returns the number of queued operations not yet started.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) enqueue(t *task) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.finish(errClosed())
		return
	}
	s.queue = append(s.queue, t)
	depth := len(s.queue)
	s.mu.Unlock()

	s.observeDepth(depth)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dequeue() (*task, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, false
		}
		if len(s.queue) > 0 {
			t := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			depth := len(s.queue)
			s.mu.Unlock()
			s.observeDepth(depth)
			return t, true
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.quit:
		}
	}
}

func (s *Scheduler) loop() {
	defer close(s.stopped)
	var lastDone time.Time
	for {
		t, ok := s.dequeue()
		if !ok {
			return
		}
		if t.ctx.Err() != nil {
			t.finish(clierr.Wrap(clierr.CodeUnavailable, "request cancelled", t.ctx.Err()))
			continue
		}
		if !lastDone.IsZero() {
			if gap := s.cfg.Spacing - s.now().Sub(lastDone); gap > 0 {
				if err := s.sleep(t.ctx, gap); err != nil {
					t.finish(clierr.Wrap(clierr.CodeUnavailable, "request cancelled", err))
					continue
				}
			}
		}
		err := s.execute(t)
		lastDone = s.now()
		t.finish(err)
		if s.observer != nil {
			s.observer.ObserveTask(err)
		}
	}
}

func (s *Scheduler) execute(t *task) error {
	for attempt := 0; ; attempt++ {
		err := t.run(t.ctx)
		if err == nil {
			if attempt > 0 {
				s.logger.Info("operation succeeded after rate limit retries", zap.Int("retries", attempt))
			}
			return nil
		}
		if !clierr.IsRateLimited(err) {
			return err
		}
		if attempt >= s.cfg.MaxRetries {
			s.logger.Warn("rate limit retries exhausted",
				zap.Error(err),
				zap.Int("retries", attempt),
				zap.Int("max_retries", s.cfg.MaxRetries))
			return clierr.Wrap(clierr.CodeRateLimited, "rate limit exceeded after retries", err)
		}

		delay := s.cfg.BaseBackoff * time.Duration(1<<uint(attempt))
		s.logger.Debug("rate limited, backing off",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay))
		if s.observer != nil {
			s.observer.ObserveRetry(attempt+1, delay)
		}
		if err := s.sleep(t.ctx, delay); err != nil {
			return clierr.Wrap(clierr.CodeUnavailable, "request cancelled", err)
		}
	}
}

func (s *Scheduler) observeDepth(depth int) {
	if s.observer != nil {
		s.observer.ObserveQueueDepth(depth)
	}
}

func errClosed() error {
	return clierr.New(clierr.CodeUnavailable, "scheduler closed")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
