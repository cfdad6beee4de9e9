package ui

import (
	"context"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/lifeline/pkg/chat"
	"github.com/go-go-golems/lifeline/pkg/engine"
	"github.com/go-go-golems/lifeline/pkg/events"
	"github.com/go-go-golems/lifeline/pkg/transport/transporttest"
)

func testModel(t *testing.T, sess chat.Session, client *transporttest.Client) Model {
	t.Helper()
	eng, err := engine.NewBuilder().WithClient(client).Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(10 * time.Millisecond) // let the bus come up
	require.NoError(t, eng.Resume(context.Background(), sess))

	m := NewModel(eng, sess, zerolog.Nop())
	resized, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return resized.(Model)
}

func typingEvent(active bool) *events.EventTypingState {
	return events.NewEventTypingState("s1", "vol-1", active)
}

func TestWaitingSessionShowsWaitingScreen(t *testing.T) {
	m := testModel(t, chat.Session{ID: "s1", Status: chat.StatusWaiting, CreatedAt: time.Now()}, &transporttest.Client{})
	assert.Contains(t, m.View(), "Waiting for a volunteer")
}

func TestActiveSessionShowsChatScreen(t *testing.T) {
	m := testModel(t, chat.Session{ID: "s1", Status: chat.StatusActive, CreatedAt: time.Now()}, &transporttest.Client{})
	view := m.View()
	assert.Contains(t, view, "lifeline chat")
	assert.NotContains(t, view, "Waiting for a volunteer")
}

func TestModeratedMessageRendersPlaceholder(t *testing.T) {
	m := testModel(t, chat.Session{ID: "s1", Status: chat.StatusActive, CreatedAt: time.Now()}, &transporttest.Client{})

	rendered := m.renderMessage(chat.Message{
		ID: "m1", SenderType: chat.SenderVolunteer, Content: "something awful",
		CreatedAt: time.Now(), Moderated: true,
	})
	assert.Contains(t, rendered, "[message removed]")
	assert.NotContains(t, rendered, "something awful")
}

func TestSystemMessageRendersAsLine(t *testing.T) {
	m := testModel(t, chat.Session{ID: "s1", Status: chat.StatusActive, CreatedAt: time.Now()}, &transporttest.Client{})

	rendered := m.renderMessage(chat.Message{
		ID: "sys", SenderType: chat.SenderSystem, Content: "This chat session has been ended by the volunteer. Thank you for your participation.",
		CreatedAt: time.Now(),
	})
	assert.Contains(t, rendered, "session has been ended")
	assert.NotContains(t, rendered, "Volunteer\n")
}

func TestLockedComposerRejectsInput(t *testing.T) {
	m := testModel(t, chat.Session{ID: "s1", Status: chat.StatusActive, CreatedAt: time.Now()}, &transporttest.Client{})

	updated, _ := m.Update(lockedMsg{})
	m = updated.(Model)
	m.textarea.SetValue("hello?")

	next, cmd := m.submitInput()
	m = next.(Model)
	assert.Nil(t, cmd, "no send command while locked")
	assert.Contains(t, m.View(), "session has ended")
	assert.Equal(t, "hello?", m.textarea.Value(), "input preserved")
}

func TestEmptyInputIsNotSent(t *testing.T) {
	m := testModel(t, chat.Session{ID: "s1", Status: chat.StatusActive, CreatedAt: time.Now()}, &transporttest.Client{})
	m.textarea.SetValue("   ")
	_, cmd := m.submitInput()
	assert.Nil(t, cmd)
}

func TestSendFailureRestoresComposer(t *testing.T) {
	m := testModel(t, chat.Session{ID: "s1", Status: chat.StatusActive, CreatedAt: time.Now()}, &transporttest.Client{})

	updated, _ := m.Update(sendResultMsg{content: "my message", err: assert.AnError})
	m = updated.(Model)
	assert.Equal(t, "my message", m.textarea.Value())
	assert.Contains(t, m.View(), "Message not sent")
}

func TestTypingIndicatorTogglesWithFrames(t *testing.T) {
	m := testModel(t, chat.Session{ID: "s1", Status: chat.StatusActive, CreatedAt: time.Now()}, &transporttest.Client{})

	updated, _ := m.Update(typingMsg{ev: typingEvent(true)})
	m = updated.(Model)
	assert.Contains(t, m.View(), "Volunteer is typing")

	updated, _ = m.Update(typingMsg{ev: typingEvent(false)})
	m = updated.(Model)
	assert.NotContains(t, m.View(), "Volunteer is typing")
}

func TestScrollKeysMoveViewportAndClearUnread(t *testing.T) {
	now := time.Now()
	history := make([]chat.Message, 0, 40)
	for i := 0; i < 40; i++ {
		history = append(history, chat.Message{
			ID: fmt.Sprintf("m%02d", i), SessionID: "s1", SenderType: chat.SenderVolunteer,
			Content: fmt.Sprintf("line %d", i), CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}
	client := &transporttest.Client{
		MessagesFunc: func(_ context.Context, _ string, _ *time.Time) ([]chat.Message, error) {
			return history, nil
		},
	}
	m := testModel(t, chat.Session{ID: "s1", Status: chat.StatusActive, CreatedAt: now.Add(-time.Minute)}, client)

	// The first batch lands at the newest message.
	updated, _ := m.Update(newMessagesMsg{ev: events.NewEventNewMessages("s1", history)})
	m = updated.(Model)
	require.True(t, m.viewport.AtBottom())
	require.Zero(t, m.unread)

	// Page up far enough that the slack below the viewport no longer counts
	// as bottom.
	for i := 0; i < 3; i++ {
		updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyPgUp})
		m = updated.(Model)
	}
	require.False(t, m.nearBottom())

	// The wheel scrolls too.
	before := m.viewport.YOffset
	updated, _ = m.Update(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelUp})
	m = updated.(Model)
	assert.Less(t, m.viewport.YOffset, before)

	// A message arriving while scrolled back shows the banner without a jump.
	arrival := chat.Message{
		ID: "m40", SessionID: "s1", SenderType: chat.SenderVolunteer,
		Content: "anything else on your mind?", CreatedAt: now.Add(41 * time.Second),
	}
	updated, _ = m.Update(newMessagesMsg{ev: events.NewEventNewMessages("s1", []chat.Message{arrival})})
	m = updated.(Model)
	assert.Equal(t, 1, m.unread)
	assert.Contains(t, m.View(), "1 new messages")
	assert.False(t, m.viewport.AtBottom())

	// Paging back to the newest message clears the count and persists it.
	for i := 0; i < 20 && !m.viewport.AtBottom(); i++ {
		updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyPgDown})
		m = updated.(Model)
	}
	require.True(t, m.nearBottom())
	assert.Zero(t, m.unread)
	assert.Zero(t, m.engine.Unread())
}

func TestFeedbackDialogSubmitKeys(t *testing.T) {
	submitted := ""
	client := &transporttest.Client{
		SubmitFeedbackFunc: func(_ context.Context, _ string, fb chat.Feedback) (string, error) {
			submitted = fb.Rating
			return "fb-1", nil
		},
	}
	m := testModel(t, chat.Session{ID: "s1", Status: chat.StatusCompleted, CreatedAt: time.Now()}, client)

	require.Eventually(t, m.engine.FeedbackActive, time.Second, time.Millisecond)
	updated, _ := m.Update(terminalMsg{})
	m = updated.(Model)
	require.Contains(t, m.View(), "How was this conversation?")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'2'}})
	m = next.(Model)
	require.NotNil(t, cmd)
	result := cmd()
	_, _ = m.Update(result)
	assert.Equal(t, "helpful", submitted)
}
