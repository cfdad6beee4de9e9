package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-go-golems/lifeline/pkg/events"
)

// Bus event wrappers delivered into the bubbletea update loop.
type (
	newMessagesMsg struct{ ev *events.EventNewMessages }
	messageSentMsg struct{ ev *events.EventMessageSent }
	transitionMsg  struct{ ev *events.EventSessionTransition }
	lockedMsg      struct{ ev *events.EventSessionLocked }
	terminalMsg    struct{ ev *events.EventSessionTerminal }
	typingMsg      struct{ ev *events.EventTypingState }
	degradedMsg    struct{ ev *events.EventSyncDegraded }
	recoveredMsg   struct{ ev *events.EventSyncRecovered }
)

// sendResultMsg carries the outcome of an asynchronous send.
type sendResultMsg struct {
	content string
	err     error
}

type flagResultMsg struct {
	messageID string
	err       error
}

type feedbackResultMsg struct {
	err error
}

type cancelResultMsg struct {
	err error
}

// sender is the subset of tea.Program the forwarder needs.
type sender interface {
	Send(msg tea.Msg)
}

// ForwardEvents registers bus handlers that re-deliver chat and session
// events as bubbletea messages. If the router is already running the new
// handlers are started in place, so the surface can attach after the engine
// is up.
func ForwardEvents(ctx context.Context, router *events.Router, p sender) error {
	router.AddHandler("ui-chat", events.TopicChat, func(e events.Event) error {
		switch e := e.(type) {
		case *events.EventNewMessages:
			p.Send(newMessagesMsg{ev: e})
		case *events.EventMessageSent:
			p.Send(messageSentMsg{ev: e})
		case *events.EventTypingState:
			p.Send(typingMsg{ev: e})
		case *events.EventSyncDegraded:
			p.Send(degradedMsg{ev: e})
		case *events.EventSyncRecovered:
			p.Send(recoveredMsg{ev: e})
		}
		return nil
	})
	router.AddHandler("ui-session", events.TopicSession, func(e events.Event) error {
		switch e := e.(type) {
		case *events.EventSessionTransition:
			p.Send(transitionMsg{ev: e})
		case *events.EventSessionLocked:
			p.Send(lockedMsg{ev: e})
		case *events.EventSessionTerminal:
			p.Send(terminalMsg{ev: e})
		case *events.EventSyncDegraded:
			p.Send(degradedMsg{ev: e})
		case *events.EventSyncRecovered:
			p.Send(recoveredMsg{ev: e})
		}
		return nil
	})
	if router.IsRunning() {
		return router.RunHandlers(ctx)
	}
	return nil
}
