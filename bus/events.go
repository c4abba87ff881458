package bus

import "time"

// InboundKind discriminates events arriving from the chat transport.
type InboundKind string

const (
	// InboundMessage is free text typed by a user.
	InboundMessage InboundKind = "message"
	// InboundCommand is a slash command, optionally with parameters.
	InboundCommand InboundKind = "command"
)

// InboundEvent is one event from the chat transport. The transport adapter
// is the sole producer.
type InboundEvent struct {
	Kind      InboundKind `json:"kind"`
	UserID    string      `json:"user_id"`
	ChatID    string      `json:"chat_id"`
	MessageID string      `json:"message_id"`
	Text      string      `json:"text"`
	Command   string      `json:"command,omitempty"`
	Params    []string    `json:"params,omitempty"`
	At        time.Time   `json:"at"`
}

// OutboundKind discriminates events destined for the chat transport.
type OutboundKind string

const (
	// OutboundNotification carries new job postings for a user.
	OutboundNotification OutboundKind = "notification"
	// OutboundPrompt is a workflow question or re-prompt.
	OutboundPrompt OutboundKind = "prompt"
	// OutboundAck confirms a completed or cancelled workflow.
	OutboundAck OutboundKind = "ack"
)

// OutboundEvent is one message to deliver through the chat transport.
// Broadcast events carry no ChatID and are fanned out by the transport.
type OutboundEvent struct {
	Kind      OutboundKind `json:"kind"`
	ChatID    string       `json:"chat_id,omitempty"`
	Broadcast bool         `json:"broadcast,omitempty"`
	Message   string       `json:"message"`
	Source    string       `json:"source"` // originating component, for transport-side labels
	At        time.Time    `json:"at"`
}
