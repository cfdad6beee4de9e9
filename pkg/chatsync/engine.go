package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-go-golems/lifeline/pkg/chat"
	"github.com/go-go-golems/lifeline/pkg/events"
	"github.com/go-go-golems/lifeline/pkg/store"
	"github.com/go-go-golems/lifeline/pkg/timers"
	"github.com/go-go-golems/lifeline/pkg/transport"
)

// PollingEngine fetches messages on a fixed interval, asking only for entries
// created strictly after the HighWaterMark. Failed polls are retried silently
// on the next tick; a consecutive-failure streak past the threshold surfaces
// one degraded notice, cleared on the next success.
type PollingEngine struct {
	*syncCore
	timers           *timers.Registry
	interval         time.Duration
	failureThreshold int
	logger           zerolog.Logger

	mu       sync.Mutex
	running  bool
	handle   *timers.Handle
	cancel   context.CancelFunc
	failures int
}

var _ Engine = &PollingEngine{}

type PollingOption func(*PollingEngine)

// WithPollInterval overrides the message poll cadence.
func WithPollInterval(d time.Duration) PollingOption {
	return func(e *PollingEngine) { e.interval = d }
}

// WithFailureThreshold sets how many consecutive poll failures trigger the
// degraded notice.
func WithFailureThreshold(n int) PollingOption {
	return func(e *PollingEngine) { e.failureThreshold = n }
}

func NewPollingEngine(
	client transport.Client,
	messageStore *store.MessageStore,
	router *events.Router,
	registry *timers.Registry,
	logger zerolog.Logger,
	options ...PollingOption,
) *PollingEngine {
	logger = logger.With().Str("component", "chatsync").Logger()
	e := &PollingEngine{
		syncCore:         newSyncCore(client, messageStore, router, logger),
		timers:           registry,
		interval:         3 * time.Second,
		failureThreshold: 3,
		logger:           logger,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Start performs the baseline fetch and begins interval polling. Starting an
// already running engine is a no-op.
func (e *PollingEngine) Start(ctx context.Context, session chat.Session) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.Debug().Str("session_id", session.ID).Msg("engine already running")
		return nil
	}
	e.running = true
	pollCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	e.bind(session)
	if err := e.baseline(pollCtx); err != nil {
		// The baseline is retried implicitly: the cursor stays at the
		// session creation time, so the next tick refetches everything.
		e.logger.Warn().Err(err).Str("session_id", session.ID).Msg("baseline fetch failed")
	}

	handle := e.timers.Every("message-poll", e.interval, func() { e.poll(pollCtx) })
	e.mu.Lock()
	e.handle = handle
	e.mu.Unlock()

	e.logger.Info().Str("session_id", session.ID).Dur("interval", e.interval).Msg("message polling started")
	return nil
}

// Stop halts polling synchronously: once it returns, no poll callback fires
// and in-flight requests are cancelled.
func (e *PollingEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	handle := e.handle
	cancel := e.cancel
	e.handle = nil
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		handle.Stop()
	}
	e.logger.Info().Msg("message polling stopped")
}

func (e *PollingEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Send reconciles an optimistic echo through the shared core.
func (e *PollingEngine) Send(ctx context.Context, content string) (chat.Outgoing, error) {
	return e.send(ctx, content)
}

// InjectSystemMessage merges a locally synthesized system message.
func (e *PollingEngine) InjectSystemMessage(content string) {
	e.injectSystemMessage(content)
}

func (e *PollingEngine) poll(ctx context.Context) {
	sessionID, after := e.cursor()
	batch, err := e.client.Messages(ctx, sessionID, &after)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.recordFailure(sessionID, err)
		return
	}
	e.recordSuccess(sessionID)
	e.applyBatch(sessionID, batch)
}

func (e *PollingEngine) recordFailure(sessionID string, err error) {
	e.mu.Lock()
	e.failures++
	failures := e.failures
	e.mu.Unlock()

	e.logger.Debug().Err(err).Int("consecutive_failures", failures).Msg("message poll failed")
	if failures == e.failureThreshold {
		if perr := e.router.Publish(events.TopicChat, events.NewEventSyncDegraded(sessionID, "messages", failures)); perr != nil {
			e.logger.Warn().Err(perr).Msg("failed to publish degraded notice")
		}
	}
}

func (e *PollingEngine) recordSuccess(sessionID string) {
	e.mu.Lock()
	wasDegraded := e.failures >= e.failureThreshold
	e.failures = 0
	e.mu.Unlock()

	if wasDegraded {
		if perr := e.router.Publish(events.TopicChat, events.NewEventSyncRecovered(sessionID, "messages")); perr != nil {
			e.logger.Warn().Err(perr).Msg("failed to publish recovery notice")
		}
	}
}
