package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/lifeline/pkg/chat"
	"github.com/go-go-golems/lifeline/pkg/events"
	"github.com/go-go-golems/lifeline/pkg/store"
	"github.com/go-go-golems/lifeline/pkg/transport"
)

// Engine keeps the local MessageStore consistent with server-held truth.
// Both the interval-polling and the subscription-based implementations share
// the same merge core, so tests written against one hold for the other.
type Engine interface {
	Start(ctx context.Context, session chat.Session) error
	Stop()
	Running() bool
	Send(ctx context.Context, content string) (chat.Outgoing, error)
	InjectSystemMessage(content string)
}

// syncCore owns the HighWaterMark and is the MessageStore's only writer.
type syncCore struct {
	client transport.Client
	store  *store.MessageStore
	router *events.Router
	logger zerolog.Logger

	mu        sync.Mutex
	sessionID string
	highWater time.Time
}

func newSyncCore(client transport.Client, messageStore *store.MessageStore, router *events.Router, logger zerolog.Logger) *syncCore {
	return &syncCore{
		client: client,
		store:  messageStore,
		router: router,
		logger: logger,
	}
}

// bind points the core at a session and resets the cursor to the session
// creation time, the baseline used when no message exists yet.
func (c *syncCore) bind(session chat.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = session.ID
	c.highWater = session.CreatedAt
}

func (c *syncCore) cursor() (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.highWater
}

// baseline performs the unconditional full fetch that establishes the initial
// HighWaterMark.
func (c *syncCore) baseline(ctx context.Context) error {
	sessionID, _ := c.cursor()
	batch, err := c.client.Messages(ctx, sessionID, nil)
	if err != nil {
		return errors.Wrap(err, "baseline fetch")
	}
	c.applyBatch(sessionID, batch)
	return nil
}

// applyBatch merges fetched messages, advances the HighWaterMark past the
// genuinely new entries and emits the new subset. It never regresses the mark
// and is a no-op for stale sessions.
func (c *syncCore) applyBatch(sessionID string, batch []chat.Message) []chat.Message {
	if len(batch) == 0 {
		return nil
	}
	c.mu.Lock()
	if sessionID != c.sessionID {
		c.mu.Unlock()
		c.logger.Debug().Str("stale_session", sessionID).Msg("discarding batch for torn-down session")
		return nil
	}
	c.mu.Unlock()

	res := c.store.Merge(batch)
	if len(res.Inserted) == 0 {
		return nil
	}

	newest := res.Inserted[len(res.Inserted)-1].CreatedAt
	c.advance(sessionID, newest)

	if err := c.router.Publish(events.TopicChat, events.NewEventNewMessages(sessionID, res.Inserted)); err != nil {
		c.logger.Warn().Err(err).Msg("failed to publish new messages")
	}
	return res.Inserted
}

func (c *syncCore) advance(sessionID string, to time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sessionID == c.sessionID && to.After(c.highWater) {
		c.highWater = to
	}
}

// send submits content with a fresh client message id and reconciles the
// optimistic echo. A server-reported duplicate is not re-added and fires no
// new-message event.
func (c *syncCore) send(ctx context.Context, content string) (chat.Outgoing, error) {
	sessionID, _ := c.cursor()
	out := chat.NewOutgoing(uuid.NewString(), content)

	res, err := c.client.SendMessage(ctx, sessionID, content, out.ClientID)
	if err != nil {
		c.logger.Debug().Err(err).Msg("send failed")
		return out.Reject(err), err
	}
	if res.Duplicate {
		c.logger.Debug().Str("client_id", out.ClientID).Msg("server reported duplicate send, suppressing echo")
		return out.Confirm(res.Message), nil
	}

	c.store.Merge([]chat.Message{res.Message})
	c.advance(sessionID, res.Message.CreatedAt)
	if err := c.router.Publish(events.TopicChat, events.NewEventMessageSent(sessionID, res.Message)); err != nil {
		c.logger.Warn().Err(err).Msg("failed to publish sent message")
	}
	return out.Confirm(res.Message), nil
}

// injectSystemMessage merges a locally synthesized system message so the UI
// reflects a lifecycle change immediately even if message sync lags. The
// HighWaterMark does not move: the message never came from the server.
func (c *syncCore) injectSystemMessage(content string) {
	sessionID, _ := c.cursor()
	msg := chat.Message{
		ID:         "system-" + sessionID + "-" + uuid.NewString(),
		SessionID:  sessionID,
		SenderID:   "system",
		SenderType: chat.SenderSystem,
		Content:    content,
		CreatedAt:  time.Now(),
	}
	res := c.store.Merge([]chat.Message{msg})
	if len(res.Inserted) == 0 {
		return
	}
	if err := c.router.Publish(events.TopicChat, events.NewEventNewMessages(sessionID, res.Inserted)); err != nil {
		c.logger.Warn().Err(err).Msg("failed to publish system message")
	}
}
