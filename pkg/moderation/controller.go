package moderation

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/lifeline/pkg/store"
	"github.com/go-go-golems/lifeline/pkg/transport"
)

// DefaultReason mirrors what the flag action submits when the user gives no
// explicit reason.
const DefaultReason = "Flagged by user"

// Controller issues flag requests and reconciles local state with server
// confirmation. There is no optimistic flip: moderated affects what every
// participant sees, so the flag only lands locally after the server accepted
// it. Failures leave local state untouched and are surfaced to the caller.
type Controller struct {
	client transport.Client
	store  *store.MessageStore
	logger zerolog.Logger
}

func NewController(client transport.Client, messageStore *store.MessageStore, logger zerolog.Logger) *Controller {
	return &Controller{
		client: client,
		store:  messageStore,
		logger: logger.With().Str("component", "moderation").Logger(),
	}
}

// Flag requests moderation of a message. A second flag of the same message is
// a harmless no-op locally, observable only as a repeated network call.
func (c *Controller) Flag(ctx context.Context, sessionID, messageID, reason string) error {
	if messageID == "" {
		return errors.New("flag: message id is empty")
	}
	if reason == "" {
		reason = DefaultReason
	}

	if err := c.client.FlagMessage(ctx, sessionID, messageID, reason); err != nil {
		c.logger.Warn().Err(err).Str("message_id", messageID).Msg("flag request failed")
		return errors.Wrap(err, "flag message")
	}

	if !c.store.MarkModerated(messageID) {
		c.logger.Debug().Str("message_id", messageID).Msg("flagged message not in local store")
	}
	return nil
}
