package events

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/go-go-golems/lifeline/pkg/chat"
)

// Topics the engine publishes on. Message-flow events go to TopicChat,
// lifecycle events to TopicSession.
const (
	TopicChat    = "chat"
	TopicSession = "session"
)

type EventType string

const (
	EventTypeNewMessages       EventType = "new-messages"
	EventTypeMessageSent       EventType = "message-sent"
	EventTypeSessionTransition EventType = "session-transition"
	EventTypeSessionLocked     EventType = "session-locked"
	EventTypeSessionTerminal   EventType = "session-terminal"
	EventTypeTypingState       EventType = "typing-state"
	EventTypeSyncDegraded      EventType = "sync-degraded"
	EventTypeSyncRecovered     EventType = "sync-recovered"
)

// Event is the interface all bus payloads implement.
type Event interface {
	Type() EventType
	SessionID() string
}

type baseEvent struct {
	EventType EventType `json:"type"`
	Session   string    `json:"sessionId"`
}

func (e *baseEvent) Type() EventType   { return e.EventType }
func (e *baseEvent) SessionID() string { return e.Session }

// EventNewMessages carries the genuinely new subset of a merged batch.
type EventNewMessages struct {
	baseEvent
	Messages []chat.Message `json:"messages"`
}

func NewEventNewMessages(sessionID string, messages []chat.Message) *EventNewMessages {
	return &EventNewMessages{
		baseEvent: baseEvent{EventType: EventTypeNewMessages, Session: sessionID},
		Messages:  messages,
	}
}

// EventMessageSent marks the local user's own confirmed send. The read
// position tracker treats it as proof of attention at the bottom.
type EventMessageSent struct {
	baseEvent
	Message chat.Message `json:"message"`
}

func NewEventMessageSent(sessionID string, message chat.Message) *EventMessageSent {
	return &EventMessageSent{
		baseEvent: baseEvent{EventType: EventTypeMessageSent, Session: sessionID},
		Message:   message,
	}
}

// EventSessionTransition reports a server-driven status change.
type EventSessionTransition struct {
	baseEvent
	From          chat.Status `json:"from"`
	To            chat.Status `json:"to"`
	CounterpartID string      `json:"counterpartId,omitempty"`
}

func NewEventSessionTransition(sessionID string, from, to chat.Status, counterpartID string) *EventSessionTransition {
	return &EventSessionTransition{
		baseEvent:     baseEvent{EventType: EventTypeSessionTransition, Session: sessionID},
		From:          from,
		To:            to,
		CounterpartID: counterpartID,
	}
}

// EventSessionLocked fires once, the first time isLocked flips true.
type EventSessionLocked struct {
	baseEvent
}

func NewEventSessionLocked(sessionID string) *EventSessionLocked {
	return &EventSessionLocked{baseEvent: baseEvent{EventType: EventTypeSessionLocked, Session: sessionID}}
}

// EventSessionTerminal fires exactly once per session lifetime, guarded by the
// state machine's one-shot flag.
type EventSessionTerminal struct {
	baseEvent
	Status        chat.Status `json:"status"`
	CounterpartID string      `json:"counterpartId,omitempty"`
}

func NewEventSessionTerminal(sessionID string, status chat.Status, counterpartID string) *EventSessionTerminal {
	return &EventSessionTerminal{
		baseEvent:     baseEvent{EventType: EventTypeSessionTerminal, Session: sessionID},
		Status:        status,
		CounterpartID: counterpartID,
	}
}

// EventTypingState reports the counterpart's typing indicator (push channel
// only; the polling transport has no typing feed).
type EventTypingState struct {
	baseEvent
	SenderID string `json:"senderId"`
	Active   bool   `json:"active"`
}

func NewEventTypingState(sessionID, senderID string, active bool) *EventTypingState {
	return &EventTypingState{
		baseEvent: baseEvent{EventType: EventTypeTypingState, Session: sessionID},
		SenderID:  senderID,
		Active:    active,
	}
}

// EventSyncDegraded fires when consecutive background failures cross the
// threshold; the UI shows a non-blocking reconnecting notice.
type EventSyncDegraded struct {
	baseEvent
	Source   string `json:"source"`
	Failures int    `json:"failures"`
}

func NewEventSyncDegraded(sessionID, source string, failures int) *EventSyncDegraded {
	return &EventSyncDegraded{
		baseEvent: baseEvent{EventType: EventTypeSyncDegraded, Session: sessionID},
		Source:    source,
		Failures:  failures,
	}
}

// EventSyncRecovered clears a previously surfaced degraded notice.
type EventSyncRecovered struct {
	baseEvent
	Source string `json:"source"`
}

func NewEventSyncRecovered(sessionID, source string) *EventSyncRecovered {
	return &EventSyncRecovered{baseEvent: baseEvent{EventType: EventTypeSyncRecovered, Session: sessionID}, Source: source}
}

// MarshalEvent serializes an event for the bus.
func MarshalEvent(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	return b, errors.Wrap(err, "marshal event")
}

// NewEventFromJSON decodes a bus payload into its concrete event type.
func NewEventFromJSON(b []byte) (Event, error) {
	var probe baseEvent
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil, errors.Wrap(err, "peek event type")
	}

	var e Event
	switch probe.EventType {
	case EventTypeNewMessages:
		e = &EventNewMessages{}
	case EventTypeMessageSent:
		e = &EventMessageSent{}
	case EventTypeSessionTransition:
		e = &EventSessionTransition{}
	case EventTypeSessionLocked:
		e = &EventSessionLocked{}
	case EventTypeSessionTerminal:
		e = &EventSessionTerminal{}
	case EventTypeTypingState:
		e = &EventTypingState{}
	case EventTypeSyncDegraded:
		e = &EventSyncDegraded{}
	case EventTypeSyncRecovered:
		e = &EventSyncRecovered{}
	default:
		return nil, errors.Errorf("unknown event type: %q", probe.EventType)
	}
	if err := json.Unmarshal(b, e); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s event", probe.EventType)
	}
	return e, nil
}
