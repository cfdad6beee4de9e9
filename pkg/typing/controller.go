package typing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-go-golems/lifeline/pkg/timers"
	"github.com/go-go-golems/lifeline/pkg/transport"
)

// Controller debounces local keystrokes into start/stop typing signals. The
// first keystroke after an idle period sends one "start"; further keystrokes
// only re-arm the inactivity timer. One "stop" goes out when the window
// elapses, when the input is cleared, sent or disabled, or synchronously on
// Close so the counterpart never sees a stale indicator.
//
// Typing indication is best-effort: delivery failures are logged and
// swallowed. Signals are handed to a dispatch goroutine in burst order, so
// neither NotifyActivity nor InputIdle ever waits on the transport.
type Controller struct {
	client transport.Client
	timers *timers.Registry
	idle   time.Duration
	logger zerolog.Logger

	signals chan bool
	drained chan struct{}

	mu        sync.Mutex
	sessionID string
	enabled   bool
	active    bool
	handle    *timers.Handle
	closed    bool
}

type Option func(*Controller)

// WithIdleWindow overrides the inactivity window after which "stop" is sent.
func WithIdleWindow(d time.Duration) Option {
	return func(c *Controller) { c.idle = d }
}

func NewController(client transport.Client, registry *timers.Registry, logger zerolog.Logger, options ...Option) *Controller {
	c := &Controller{
		client:  client,
		timers:  registry,
		idle:    3 * time.Second,
		logger:  logger.With().Str("component", "typing").Logger(),
		signals: make(chan bool, 8),
		drained: make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	go c.dispatch()
	return c
}

// Bind attaches the controller to a session and enables signalling.
func (c *Controller) Bind(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.enabled = true
}

// SetEnabled gates signalling; disabling while typing sends the stop signal.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	mustStop := !enabled && c.active
	c.mu.Unlock()
	if mustStop {
		c.stopTyping()
	}
}

// NotifyActivity is called on every local keystroke.
func (c *Controller) NotifyActivity(ctx context.Context) {
	c.mu.Lock()
	if c.closed || !c.enabled || c.sessionID == "" {
		c.mu.Unlock()
		return
	}
	if c.active {
		handle := c.handle
		c.mu.Unlock()
		if handle == nil || !handle.Reset(c.idle) {
			// The inactivity timer fired between the keystroke and the
			// reset; treat this as a fresh typing burst.
			c.NotifyActivity(ctx)
		}
		return
	}
	c.active = true
	c.handle = c.timers.After("typing-idle", c.idle, func() {
		c.stopTyping()
	})
	c.enqueue(true)
	c.mu.Unlock()
}

// InputIdle signals stop immediately, used when the input is cleared or a
// message was sent.
func (c *Controller) InputIdle(_ context.Context) {
	c.stopTyping()
}

// Active reports whether a typing burst is in progress.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Close tears the controller down. Queued signals are flushed, then, if
// typing was active, the stop signal is sent synchronously before the timer
// is cancelled.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	wasActive := c.active
	c.active = false
	handle := c.handle
	c.handle = nil
	c.mu.Unlock()

	close(c.signals)
	<-c.drained
	if wasActive {
		c.deliver(false)
	}
	if handle != nil {
		handle.Stop()
	}
}

func (c *Controller) stopTyping() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	handle := c.handle
	c.handle = nil
	c.enqueue(false)
	c.mu.Unlock()

	if handle != nil {
		// The idle callback stopping its own handle would deadlock; the
		// handle is already spent or about to be, so stop it off-path.
		go handle.Stop()
	}
}

// enqueue hands a signal to the dispatch goroutine. Callers hold c.mu, which
// orders enqueues against Close closing the channel.
func (c *Controller) enqueue(active bool) {
	select {
	case c.signals <- active:
	default:
		c.logger.Debug().Bool("active", active).Msg("typing signal queue full, dropping")
	}
}

func (c *Controller) dispatch() {
	defer close(c.drained)
	for active := range c.signals {
		c.deliver(active)
	}
}

func (c *Controller) deliver(active bool) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	if err := c.client.Typing(context.Background(), sessionID, active); err != nil {
		c.logger.Debug().Err(err).Bool("active", active).Msg("typing signal failed")
	}
}
