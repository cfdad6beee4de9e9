package transport

import (
	"context"
	"time"

	"github.com/go-go-golems/lifeline/pkg/chat"
)

// Client is the request/response contract the engine consumes. The wire
// format behind it is owned by the server; each method is invoked by exactly
// one component.
type Client interface {
	// RequestSession creates a new help request; the session starts WAITING.
	RequestSession(ctx context.Context) (chat.Session, error)

	// SessionStatus polls the server-held lifecycle state.
	SessionStatus(ctx context.Context, sessionID string) (chat.StatusSnapshot, error)

	// CancelSession withdraws a request; only valid while WAITING.
	CancelSession(ctx context.Context, sessionID string) error

	// Messages fetches the session's messages. A nil after means full
	// history; otherwise only messages created strictly after the timestamp.
	Messages(ctx context.Context, sessionID string, after *time.Time) ([]chat.Message, error)

	// SendMessage submits content with a client message id for duplicate
	// detection. A duplicate result carries no new message.
	SendMessage(ctx context.Context, sessionID, content, clientMessageID string) (SendResult, error)

	// Typing is fire-and-forget; failures are the caller's to swallow.
	Typing(ctx context.Context, sessionID string, active bool) error

	// FlagMessage requests moderation of a message.
	FlagMessage(ctx context.Context, sessionID, messageID, reason string) error

	// SubmitFeedback posts the end-of-session rating and returns a feedback id.
	SubmitFeedback(ctx context.Context, sessionID string, feedback chat.Feedback) (string, error)
}

// SendResult is the server's answer to a send. Duplicate means a retried
// submission was recognized server-side; the echo must not be re-added and no
// new-message event may fire.
type SendResult struct {
	Message   chat.Message
	Duplicate bool
}
