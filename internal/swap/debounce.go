package swap

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before a quote is re-requested after an
// input edit.
const DefaultDebounce = time.Second

// Debouncer runs the most recently triggered function once no new trigger has
// arrived for the window.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending func()
	gen     uint64
	running sync.WaitGroup
}

func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Debouncer{window: window}
}

func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = fn
	d.timer = time.AfterFunc(d.window, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.pending == nil {
		d.mu.Unlock()
		return
	}
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.running.Add(1)
	d.mu.Unlock()
	defer d.running.Done()
	fn()
}

// Flush runs the pending call now, on the caller's goroutine, and waits for
// a call the timer already started.
func (d *Debouncer) Flush() {
	fn := d.take()
	if fn != nil {
		fn()
	}
	d.running.Wait()
}

// Stop drops a pending call, if any.
func (d *Debouncer) Stop() {
	d.take()
}

func (d *Debouncer) take() func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	fn := d.pending
	d.pending = nil
	return fn
}
