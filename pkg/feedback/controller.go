package feedback

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/lifeline/pkg/chat"
	"github.com/go-go-golems/lifeline/pkg/transport"
)

var (
	// ErrNotActive is returned when a submission is attempted before the
	// session reached a terminal state.
	ErrNotActive = errors.New("feedback flow is not active")
	// ErrAlreadySubmitted guards against accidental double submission.
	ErrAlreadySubmitted = errors.New("feedback was already submitted")
	// ErrSubmitInFlight is returned while a previous submission is still on
	// the wire.
	ErrSubmitInFlight = errors.New("feedback submission already in progress")
	// ErrClosed is returned once the flow was skipped or completed.
	ErrClosed = errors.New("feedback flow is closed")
)

// Controller manages the end-of-session rating flow. It activates exactly
// once per session lifetime, no matter how many times the terminal state is
// observed; the same one-shot guard rejects a second submission. Skipping is
// always available and performs no network call; submission failures keep the
// dialog open for retry.
type Controller struct {
	client transport.Client
	logger zerolog.Logger

	mu            sync.Mutex
	triggered     bool
	open          bool
	submitting    bool
	submitted     bool
	feedbackID    string
	sessionID     string
	counterpartID string
}

func NewController(client transport.Client, logger zerolog.Logger) *Controller {
	return &Controller{
		client: client,
		logger: logger.With().Str("component", "feedback").Logger(),
	}
}

// OnSessionTerminal activates the flow. Only the first invocation per session
// has any effect; it returns true when the flow newly opened.
func (c *Controller) OnSessionTerminal(session chat.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.triggered {
		return false
	}
	c.triggered = true
	c.open = true
	c.sessionID = session.ID
	c.counterpartID = session.CounterpartID
	c.logger.Info().Str("session_id", session.ID).Str("status", string(session.Status)).Msg("feedback flow opened")
	return true
}

// Active reports whether the dialog should be showing.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Submit posts the rating. Idempotent from the engine's perspective: once a
// submission succeeded, further attempts return ErrAlreadySubmitted, and an
// attempt overlapping an in-flight one returns ErrSubmitInFlight without a
// second request. A failed submission leaves the flow open so the user can
// retry or skip.
func (c *Controller) Submit(ctx context.Context, rating, comments string, metadata map[string]string) (string, error) {
	c.mu.Lock()
	if !c.triggered {
		c.mu.Unlock()
		return "", ErrNotActive
	}
	if c.submitted {
		id := c.feedbackID
		c.mu.Unlock()
		return id, ErrAlreadySubmitted
	}
	if !c.open {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.submitting {
		c.mu.Unlock()
		return "", ErrSubmitInFlight
	}
	c.submitting = true
	sessionID := c.sessionID
	c.mu.Unlock()

	id, err := c.client.SubmitFeedback(ctx, sessionID, chat.Feedback{
		Rating:   rating,
		Comments: comments,
		Metadata: metadata,
	})
	if err != nil {
		c.mu.Lock()
		c.submitting = false
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("feedback submission failed")
		return "", errors.Wrap(err, "submit feedback")
	}

	c.mu.Lock()
	c.submitting = false
	c.submitted = true
	c.open = false
	c.feedbackID = id
	c.mu.Unlock()

	c.logger.Info().Str("session_id", sessionID).Str("feedback_id", id).Msg("feedback submitted")
	return id, nil
}

// Skip closes the flow without a network call.
func (c *Controller) Skip() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		c.open = false
		c.logger.Debug().Str("session_id", c.sessionID).Msg("feedback skipped")
	}
}
