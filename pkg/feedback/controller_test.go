package feedback

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/lifeline/pkg/chat"
	"github.com/go-go-golems/lifeline/pkg/transport/transporttest"
)

func terminalSession() chat.Session {
	return chat.Session{ID: "sess-1", Status: chat.StatusCompleted, CounterpartID: "vol-1"}
}

func TestFlowOpensOnceOnTerminal(t *testing.T) {
	c := NewController(&transporttest.Client{}, zerolog.Nop())

	assert.True(t, c.OnSessionTerminal(terminalSession()))
	assert.True(t, c.Active())

	// Repeated terminal observations (poll after lock, reconnect) are ignored.
	assert.False(t, c.OnSessionTerminal(terminalSession()))
	assert.True(t, c.Active())
}

func TestSubmitBeforeTerminalRejected(t *testing.T) {
	c := NewController(&transporttest.Client{}, zerolog.Nop())

	_, err := c.Submit(context.Background(), "good", "", nil)
	require.ErrorIs(t, err, ErrNotActive)
}

func TestSubmitOnce(t *testing.T) {
	var got chat.Feedback
	client := &transporttest.Client{
		SubmitFeedbackFunc: func(_ context.Context, sessionID string, feedback chat.Feedback) (string, error) {
			require.Equal(t, "sess-1", sessionID)
			got = feedback
			return "fb-42", nil
		},
	}
	c := NewController(client, zerolog.Nop())
	c.OnSessionTerminal(terminalSession())

	id, err := c.Submit(context.Background(), "good", "very helpful", map[string]string{"surface": "tui"})
	require.NoError(t, err)
	assert.Equal(t, "fb-42", id)
	assert.Equal(t, "good", got.Rating)
	assert.Equal(t, "very helpful", got.Comments)
	assert.False(t, c.Active(), "dialog closes after a successful submission")

	id, err = c.Submit(context.Background(), "bad", "", nil)
	require.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Equal(t, "fb-42", id, "repeat returns the original feedback id")
}

func TestSubmitFailureKeepsDialogOpen(t *testing.T) {
	calls := 0
	client := &transporttest.Client{
		SubmitFeedbackFunc: func(_ context.Context, _ string, _ chat.Feedback) (string, error) {
			calls++
			if calls == 1 {
				return "", errors.New("timeout")
			}
			return "fb-7", nil
		},
	}
	c := NewController(client, zerolog.Nop())
	c.OnSessionTerminal(terminalSession())

	_, err := c.Submit(context.Background(), "good", "", nil)
	require.Error(t, err)
	assert.True(t, c.Active(), "failure leaves the flow open for retry")

	id, err := c.Submit(context.Background(), "good", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "fb-7", id)
}

func TestOverlappingSubmitsPostOnce(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	client := &transporttest.Client{
		SubmitFeedbackFunc: func(_ context.Context, _ string, _ chat.Feedback) (string, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(entered)
			}
			<-release
			return "fb-1", nil
		},
	}
	c := NewController(client, zerolog.Nop())
	c.OnSessionTerminal(terminalSession())

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), "good", "", nil)
		firstErr <- err
	}()
	<-entered

	// A second rapid submit while the first is on the wire must not reach
	// the server.
	_, err := c.Submit(context.Background(), "good", "", nil)
	require.ErrorIs(t, err, ErrSubmitInFlight)

	close(release)
	require.NoError(t, <-firstErr)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	_, err = c.Submit(context.Background(), "good", "", nil)
	require.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestSkipClosesWithoutNetwork(t *testing.T) {
	submitted := false
	client := &transporttest.Client{
		SubmitFeedbackFunc: func(_ context.Context, _ string, _ chat.Feedback) (string, error) {
			submitted = true
			return "", nil
		},
	}
	c := NewController(client, zerolog.Nop())
	c.OnSessionTerminal(terminalSession())

	c.Skip()
	assert.False(t, c.Active())
	assert.False(t, submitted)

	_, err := c.Submit(context.Background(), "good", "", nil)
	require.ErrorIs(t, err, ErrClosed)
}
