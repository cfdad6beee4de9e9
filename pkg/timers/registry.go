package timers

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry owns every repeating and delayed callback a session spawns, so that
// teardown can cancel all of them in one place. Stop and StopAll are
// synchronous: once they return, no callback fires again. Callbacks must not
// stop their own handle.
type Registry struct {
	mu      sync.Mutex
	logger  zerolog.Logger
	stopped bool
	nextID  uint64
	handles map[uint64]*Handle
}

// Handle is one scheduled callback. It stays valid after the callback
// finished; Stop and Reset are safe to call at any point.
type Handle struct {
	registry *Registry
	id       uint64
	name     string

	reset    chan time.Duration
	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger:  logger.With().Str("component", "timers").Logger(),
		handles: map[uint64]*Handle{},
	}
}

// Every schedules fn on a fixed interval until the handle is stopped.
func (r *Registry) Every(name string, interval time.Duration, fn func()) *Handle {
	h, ok := r.register(name)
	if !ok {
		return h
	}
	go func() {
		defer r.finish(h)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.done:
				return
			case d := <-h.reset:
				ticker.Reset(d)
			case <-ticker.C:
				fn()
			}
		}
	}()
	return h
}

// After schedules fn once after delay. Reset re-arms the delay as long as the
// callback has not fired yet; it returns false once the handle is spent.
func (r *Registry) After(name string, delay time.Duration, fn func()) *Handle {
	h, ok := r.register(name)
	if !ok {
		return h
	}
	go func() {
		defer r.finish(h)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		for {
			select {
			case <-h.done:
				return
			case d := <-h.reset:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(d)
			case <-timer.C:
				fn()
				return
			}
		}
	}()
	return h
}

// StopAll cancels every outstanding handle and waits for their goroutines to
// exit. The registry refuses new work afterwards, so a late caller cannot
// resurrect a torn-down session.
func (r *Registry) StopAll() {
	r.mu.Lock()
	r.stopped = true
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
}

// Stopped reports whether StopAll has been called.
func (r *Registry) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Registry) register(name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := &Handle{
		registry: r,
		name:     name,
		reset:    make(chan time.Duration),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	if r.stopped {
		r.logger.Warn().Str("timer", name).Msg("registry already stopped, refusing new timer")
		h.stopOnce.Do(func() { close(h.done) })
		close(h.finished)
		return h, false
	}
	r.nextID++
	h.id = r.nextID
	r.handles[h.id] = h
	return h, true
}

func (r *Registry) finish(h *Handle) {
	close(h.finished)
	r.mu.Lock()
	delete(r.handles, h.id)
	r.mu.Unlock()
}

// Stop cancels the handle and waits for its goroutine to exit. Calling Stop on
// an already finished handle returns immediately.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
	<-h.finished
}

// Reset re-arms the handle's timer with a new duration. Returns false if the
// handle already fired (for After) or was stopped.
func (h *Handle) Reset(d time.Duration) bool {
	select {
	case h.reset <- d:
		return true
	case <-h.finished:
		return false
	}
}

// Name returns the label the handle was registered under.
func (h *Handle) Name() string { return h.name }
