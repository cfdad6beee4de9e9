// Package transporttest provides a programmable fake transport.Client for
// exercising the engine components without a server.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/lifeline/pkg/chat"
	"github.com/go-go-golems/lifeline/pkg/transport"
)

// Client implements transport.Client with overridable function fields and a
// recorded call log. Unset fields return zero values.
type Client struct {
	mu sync.Mutex

	RequestSessionFunc func(ctx context.Context) (chat.Session, error)
	SessionStatusFunc  func(ctx context.Context, sessionID string) (chat.StatusSnapshot, error)
	CancelSessionFunc  func(ctx context.Context, sessionID string) error
	MessagesFunc       func(ctx context.Context, sessionID string, after *time.Time) ([]chat.Message, error)
	SendMessageFunc    func(ctx context.Context, sessionID, content, clientMessageID string) (transport.SendResult, error)
	TypingFunc         func(ctx context.Context, sessionID string, active bool) error
	FlagMessageFunc    func(ctx context.Context, sessionID, messageID, reason string) error
	SubmitFeedbackFunc func(ctx context.Context, sessionID string, feedback chat.Feedback) (string, error)

	typingCalls   []bool
	flagCalls     []string
	sendCalls     []string
	messagesCalls []*time.Time
}

var _ transport.Client = &Client{}

func (c *Client) RequestSession(ctx context.Context) (chat.Session, error) {
	if c.RequestSessionFunc != nil {
		return c.RequestSessionFunc(ctx)
	}
	return chat.Session{}, errors.New("transporttest: RequestSession not configured")
}

func (c *Client) SessionStatus(ctx context.Context, sessionID string) (chat.StatusSnapshot, error) {
	if c.SessionStatusFunc != nil {
		return c.SessionStatusFunc(ctx, sessionID)
	}
	return chat.StatusSnapshot{Status: chat.StatusWaiting}, nil
}

func (c *Client) CancelSession(ctx context.Context, sessionID string) error {
	if c.CancelSessionFunc != nil {
		return c.CancelSessionFunc(ctx, sessionID)
	}
	return nil
}

func (c *Client) Messages(ctx context.Context, sessionID string, after *time.Time) ([]chat.Message, error) {
	c.mu.Lock()
	var cursor *time.Time
	if after != nil {
		copied := *after
		cursor = &copied
	}
	c.messagesCalls = append(c.messagesCalls, cursor)
	c.mu.Unlock()
	if c.MessagesFunc != nil {
		return c.MessagesFunc(ctx, sessionID, after)
	}
	return nil, nil
}

func (c *Client) SendMessage(ctx context.Context, sessionID, content, clientMessageID string) (transport.SendResult, error) {
	c.mu.Lock()
	c.sendCalls = append(c.sendCalls, content)
	c.mu.Unlock()
	if c.SendMessageFunc != nil {
		return c.SendMessageFunc(ctx, sessionID, content, clientMessageID)
	}
	return transport.SendResult{}, errors.New("transporttest: SendMessage not configured")
}

func (c *Client) Typing(ctx context.Context, sessionID string, active bool) error {
	c.mu.Lock()
	c.typingCalls = append(c.typingCalls, active)
	c.mu.Unlock()
	if c.TypingFunc != nil {
		return c.TypingFunc(ctx, sessionID, active)
	}
	return nil
}

func (c *Client) FlagMessage(ctx context.Context, sessionID, messageID, reason string) error {
	c.mu.Lock()
	c.flagCalls = append(c.flagCalls, messageID)
	c.mu.Unlock()
	if c.FlagMessageFunc != nil {
		return c.FlagMessageFunc(ctx, sessionID, messageID, reason)
	}
	return nil
}

func (c *Client) SubmitFeedback(ctx context.Context, sessionID string, feedback chat.Feedback) (string, error) {
	if c.SubmitFeedbackFunc != nil {
		return c.SubmitFeedbackFunc(ctx, sessionID, feedback)
	}
	return "feedback-id", nil
}

// TypingCalls returns the recorded start(true)/stop(false) sequence.
func (c *Client) TypingCalls() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool{}, c.typingCalls...)
}

// FlagCalls returns the message ids flagged so far.
func (c *Client) FlagCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.flagCalls...)
}

// SendCalls returns the contents submitted so far.
func (c *Client) SendCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.sendCalls...)
}

// MessagesCalls returns the after cursors of every fetch, nil meaning a full
// history request.
func (c *Client) MessagesCalls() []*time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*time.Time{}, c.messagesCalls...)
}
