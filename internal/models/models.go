package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	// ErrLagged is reported by a subscription that fell too far behind and was dropped.
	// The subscriber resynchronizes with ListSince from the last seq it saw.
	ErrLagged = errors.New("subscriber lagged behind")
)

// Role is the closed set of message sender roles.
type Role string

const (
	RoleSubject   Role = "subject"
	RoleStaff     Role = "staff"
	RoleResponder Role = "responder"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSubject, RoleStaff, RoleResponder:
		return true
	}
	return false
}

// ParseRole converts an external role name into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Direction returns the typing direction the role types in.
// The responder types on the staff side of the conversation.
func (r Role) Direction() Role {
	if r == RoleResponder {
		return RoleStaff
	}
	return r
}

// Participant is an already authenticated party of a conversation.
type Participant struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName"`
}

// Conversation is keyed by the subject participant id.
type Conversation struct {
	ID               string `json:"id"`
	ResponderEnabled bool   `json:"responderEnabled"`
	StaffID          string `json:"staffId,omitempty"` // Staff member who posted last, notification target for subject messages
	LastSeq          int64  `json:"lastSeq"`
}

// Message is an entry of the conversation log.
type Message struct {
	Seq            int64  `json:"seq"`
	Timestamp      int64  `json:"timestamp"` // Unix milliseconds
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderRole     Role   `json:"senderRole"`
	Body           string `json:"body"`
	Read           bool   `json:"read"`
}

// PushSubscription is a Web Push endpoint registered by a participant.
type PushSubscription struct {
	ParticipantID string `json:"participantId"`
	Endpoint      string `json:"endpoint"`
	Auth          string `json:"auth"`
	P256dh        string `json:"p256dh"`
}

type EventType string

const (
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
	EventRead    EventType = "read"
	EventError   EventType = "error" // Rejected client frame, stream only
)

// Event is delivered to conversation subscribers.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	Message        *Message  `json:"message,omitempty"`
	Role           Role      `json:"role,omitempty"`
	Typing         bool      `json:"typing"`
	ReaderID       string    `json:"readerId,omitempty"`
	Seqs           []int64   `json:"seqs,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      int64     `json:"timestamp"`
}

// ClientMessage represents a frame sent by the client over the conversation stream.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`
	Body string            `json:"body,omitempty"`
}

type ClientMessageType string

const (
	ClientMessageTypeSend      ClientMessageType = "send"
	ClientMessageTypeTyping    ClientMessageType = "typing"
	ClientMessageTypeHeartbeat ClientMessageType = "heartbeat"
	ClientMessageTypeRead      ClientMessageType = "read"
)

// APIResponse is the generic REST envelope for simple acknowledgements.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
