package chat

import (
	"time"
)

// Status is the server-reported lifecycle state of a chat session. Transitions
// are monotonic along the lifecycle graph; a session never re-enters
// StatusWaiting once it left it.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further lifecycle transition can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusAbandoned:
		return true
	default:
		return false
	}
}

// Valid reports whether the status is one the server is allowed to report.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusCompleted, StatusExpired, StatusAbandoned:
		return true
	default:
		return false
	}
}

// SenderType classifies who authored a message.
type SenderType string

const (
	SenderUser      SenderType = "user"
	SenderVolunteer SenderType = "volunteer"
	SenderSystem    SenderType = "system"
)

// DeliveryStatus is only meaningful for the local user's own messages.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
)

// deliveryRank orders delivery statuses so merges only ever move forward.
func deliveryRank(s DeliveryStatus) int {
	switch s {
	case DeliverySent:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryRead:
		return 3
	default:
		return 0
	}
}

// DeliveryAdvances reports whether incoming is strictly further along than
// current. Unknown statuses never advance.
func DeliveryAdvances(current, incoming DeliveryStatus) bool {
	return deliveryRank(incoming) > deliveryRank(current)
}

// Session is the client's view of a server-owned chat session. The client
// never sets Status locally; it only adopts what status polls report.
type Session struct {
	ID            string    `json:"id"`
	Status        Status    `json:"status"`
	IsLocked      bool      `json:"isLocked"`
	CounterpartID string    `json:"counterpartId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// StatusSnapshot is the result of one status poll (or one status frame on the
// push channel).
type StatusSnapshot struct {
	Status        Status `json:"status"`
	IsLocked      bool   `json:"isLocked"`
	CounterpartID string `json:"counterpartId,omitempty"`
}

// Message is a single chat message. ID is the deduplication key within a
// session; CreatedAt is the authoritative server timestamp.
type Message struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionId"`
	SenderID   string         `json:"senderId"`
	SenderType SenderType     `json:"senderType"`
	Content    string         `json:"content"`
	CreatedAt  time.Time      `json:"createdAt"`
	Status     DeliveryStatus `json:"status,omitempty"`
	Moderated  bool           `json:"moderated,omitempty"`
}

// Before orders messages by CreatedAt with ID as tie-break.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// Feedback is the end-of-session rating submission.
type Feedback struct {
	Rating   string            `json:"rating"`
	Comments string            `json:"comments,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ReadMarker records how far into a session's message log the user has seen,
// keyed by session so it survives remounting the same session.
type ReadMarker struct {
	SessionID     string `json:"sessionId"`
	LastSeenIndex int    `json:"lastSeenIndex"`
}
