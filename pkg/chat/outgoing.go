package chat

import "time"

// OutgoingState tags the lifetime of a locally sent message: Pending before
// the server echo arrives, Confirmed once reconciled against the echoed copy,
// Rejected when the send failed and the input should be preserved for retry.
type OutgoingState string

const (
	OutgoingPending   OutgoingState = "pending"
	OutgoingConfirmed OutgoingState = "confirmed"
	OutgoingRejected  OutgoingState = "rejected"
)

// Outgoing is the tagged variant for a locally sent message. Reconciliation
// against the server echo is an explicit transformation (Confirm/Reject)
// instead of mutating one shared object in place.
type Outgoing struct {
	State     OutgoingState
	ClientID  string
	Content   string
	QueuedAt  time.Time
	Message   Message // populated once Confirmed
	SendError error   // populated once Rejected
}

// NewOutgoing starts a Pending outgoing message with the given client
// message id used by the server for duplicate detection.
func NewOutgoing(clientID, content string) Outgoing {
	return Outgoing{
		State:    OutgoingPending,
		ClientID: clientID,
		Content:  content,
		QueuedAt: time.Now(),
	}
}

// Confirm reconciles the pending send with the server-confirmed copy.
func (o Outgoing) Confirm(msg Message) Outgoing {
	o.State = OutgoingConfirmed
	o.Message = msg
	o.SendError = nil
	return o
}

// Reject marks the send as failed; the content stays available for retry.
func (o Outgoing) Reject(err error) Outgoing {
	o.State = OutgoingRejected
	o.SendError = err
	return o
}
