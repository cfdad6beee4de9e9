package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/lifeline/pkg/chat"
)

// StreamFrame is one push-channel delivery. Exactly one of the payload fields
// is set, discriminated by Type.
type StreamFrame struct {
	Type    string               `json:"type"` // message | status | typing
	Message *chat.Message        `json:"message,omitempty"`
	Status  *chat.StatusSnapshot `json:"status,omitempty"`
	Typing  *TypingFrame         `json:"typing,omitempty"`
}

const (
	FrameMessage = "message"
	FrameStatus  = "status"
	FrameTyping  = "typing"
)

// TypingFrame reports the counterpart's typing indicator.
type TypingFrame struct {
	SenderID string `json:"senderId"`
	Active   bool   `json:"active"`
}

// StreamFeed is the subscription-based variant of the message and status
// feeds: a websocket that pushes frames instead of the client polling. The
// sync engine and state machine consume it through the same merge/transition
// core as the polling implementations.
type StreamFeed struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	logger  zerolog.Logger
}

type StreamOption func(*StreamFeed)

// WithStreamToken sets the bearer token sent on the upgrade request.
func WithStreamToken(token string) StreamOption {
	return func(f *StreamFeed) { f.token = token }
}

func NewStreamFeed(baseURL string, logger zerolog.Logger, options ...StreamOption) (*StreamFeed, error) {
	wsURL, err := toWebsocketURL(baseURL)
	if err != nil {
		return nil, err
	}
	f := &StreamFeed{
		baseURL: wsURL,
		dialer:  websocket.DefaultDialer,
		logger:  logger.With().Str("component", "stream").Logger(),
	}
	for _, opt := range options {
		opt(f)
	}
	return f, nil
}

func toWebsocketURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Subscribe opens the push channel for a session. Frames arrive on the
// returned channel until the context is cancelled or the connection drops;
// the channel is closed afterwards and a terminal error, if any, is delivered
// on the error channel.
func (f *StreamFeed) Subscribe(ctx context.Context, sessionID string) (<-chan StreamFrame, <-chan error, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, nil, errors.New("stream feed: session id is empty")
	}

	header := http.Header{}
	if f.token != "" {
		header.Set("Authorization", "Bearer "+f.token)
	}
	endpoint := f.baseURL + "/api/chat/stream?sessionId=" + url.QueryEscape(sessionID)
	conn, resp, err := f.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "dial stream")
	}

	frames := make(chan StreamFrame, 64)
	errCh := make(chan error, 1)
	logger := f.logger.With().Str("session_id", sessionID).Logger()

	// Close the connection on cancellation so the read loop unblocks.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	go func() {
		defer close(frames)
		defer close(errCh)
		for {
			var frame StreamFrame
			if err := conn.ReadJSON(&frame); err != nil {
				if ctx.Err() != nil {
					logger.Debug().Msg("stream closed by cancellation")
					return
				}
				logger.Warn().Err(err).Msg("stream read failed")
				errCh <- errors.Wrap(err, "read stream frame")
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			default:
				logger.Warn().Str("frame_type", frame.Type).Msg("dropping frame, consumer too slow")
			}
		}
	}()

	return frames, errCh, nil
}
