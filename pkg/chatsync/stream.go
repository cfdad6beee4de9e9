package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-go-golems/lifeline/pkg/chat"
	"github.com/go-go-golems/lifeline/pkg/events"
	"github.com/go-go-golems/lifeline/pkg/store"
	"github.com/go-go-golems/lifeline/pkg/transport"
)

// Feed is the subscription side of the push-channel variant.
type Feed interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan transport.StreamFrame, <-chan error, error)
}

// StatusApplier receives server status snapshots pushed over the stream. The
// session state machine implements it, so transition logic stays in one place
// regardless of how snapshots arrive.
type StatusApplier interface {
	Apply(snapshot chat.StatusSnapshot)
}

// StreamEngine is the push-channel implementation of Engine. It performs the
// same baseline fetch as the polling engine, then merges pushed message
// frames through the shared core; status frames are forwarded to the state
// machine and typing frames republished on the bus. A dropped stream is
// resubscribed after a fixed backoff, with a degraded notice once the retry
// streak crosses the threshold.
type StreamEngine struct {
	*syncCore
	feed             Feed
	applier          StatusApplier
	retryBackoff     time.Duration
	failureThreshold int
	logger           zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ Engine = &StreamEngine{}

type StreamEngineOption func(*StreamEngine)

// WithRetryBackoff sets the delay before resubscribing a dropped stream.
func WithRetryBackoff(d time.Duration) StreamEngineOption {
	return func(e *StreamEngine) { e.retryBackoff = d }
}

// WithStreamFailureThreshold sets how many consecutive subscribe failures
// trigger the degraded notice.
func WithStreamFailureThreshold(n int) StreamEngineOption {
	return func(e *StreamEngine) { e.failureThreshold = n }
}

func NewStreamEngine(
	client transport.Client,
	feed Feed,
	applier StatusApplier,
	messageStore *store.MessageStore,
	router *events.Router,
	logger zerolog.Logger,
	options ...StreamEngineOption,
) *StreamEngine {
	logger = logger.With().Str("component", "chatsync-stream").Logger()
	e := &StreamEngine{
		syncCore:         newSyncCore(client, messageStore, router, logger),
		feed:             feed,
		applier:          applier,
		retryBackoff:     2 * time.Second,
		failureThreshold: 3,
		logger:           logger,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

func (e *StreamEngine) Start(ctx context.Context, session chat.Session) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.Debug().Str("session_id", session.ID).Msg("stream engine already running")
		return nil
	}
	e.running = true
	streamCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	e.bind(session)
	if err := e.baseline(streamCtx); err != nil {
		e.logger.Warn().Err(err).Str("session_id", session.ID).Msg("baseline fetch failed")
	}

	go func() {
		defer close(done)
		e.consumeLoop(streamCtx, session.ID)
	}()

	e.logger.Info().Str("session_id", session.ID).Msg("stream sync started")
	return nil
}

func (e *StreamEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	e.logger.Info().Msg("stream sync stopped")
}

func (e *StreamEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *StreamEngine) Send(ctx context.Context, content string) (chat.Outgoing, error) {
	return e.send(ctx, content)
}

func (e *StreamEngine) InjectSystemMessage(content string) {
	e.injectSystemMessage(content)
}

func (e *StreamEngine) consumeLoop(ctx context.Context, sessionID string) {
	failures := 0
	for ctx.Err() == nil {
		frames, errCh, err := e.feed.Subscribe(ctx, sessionID)
		if err != nil {
			failures++
			e.logger.Debug().Err(err).Int("consecutive_failures", failures).Msg("stream subscribe failed")
			if failures == e.failureThreshold {
				_ = e.router.Publish(events.TopicChat, events.NewEventSyncDegraded(sessionID, "stream", failures))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.retryBackoff):
			}
			continue
		}
		if failures >= e.failureThreshold {
			_ = e.router.Publish(events.TopicChat, events.NewEventSyncRecovered(sessionID, "stream"))
		}
		failures = 0

		// Refetch anything missed while the stream was down.
		_, after := e.cursor()
		if batch, ferr := e.client.Messages(ctx, sessionID, &after); ferr == nil {
			e.applyBatch(sessionID, batch)
		}

		e.drain(ctx, sessionID, frames, errCh)
	}
}

func (e *StreamEngine) drain(ctx context.Context, sessionID string, frames <-chan transport.StreamFrame, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if ok && err != nil {
				e.logger.Warn().Err(err).Msg("stream dropped, will resubscribe")
			}
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			e.handleFrame(sessionID, frame)
		}
	}
}

func (e *StreamEngine) handleFrame(sessionID string, frame transport.StreamFrame) {
	switch frame.Type {
	case transport.FrameMessage:
		if frame.Message != nil {
			e.applyBatch(sessionID, []chat.Message{*frame.Message})
		}
	case transport.FrameStatus:
		if frame.Status != nil && e.applier != nil {
			e.applier.Apply(*frame.Status)
		}
	case transport.FrameTyping:
		if frame.Typing != nil {
			_ = e.router.Publish(events.TopicChat,
				events.NewEventTypingState(sessionID, frame.Typing.SenderID, frame.Typing.Active))
		}
	default:
		e.logger.Debug().Str("frame_type", frame.Type).Msg("ignoring unknown frame")
	}
}
