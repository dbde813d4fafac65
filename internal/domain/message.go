package domain

import "time"

// MessageType classifies an inbound WhatsApp message.
type MessageType string

const (
	TypeMessage  MessageType = "message"
	TypePostback MessageType = "postback"
	TypeDelivery MessageType = "delivery"
	TypeRead     MessageType = "read"
	TypeUnknown  MessageType = "unknown"
)

// ParseMessageType maps a provider type string to a MessageType.
// Unrecognized values map to TypeUnknown, never an error.
func ParseMessageType(s string) MessageType {
	switch MessageType(s) {
	case TypeMessage, TypePostback, TypeDelivery, TypeRead:
		return MessageType(s)
	default:
		return TypeUnknown
	}
}

// Message is the canonical extracted unit of customer communication.
// ID is the provider-assigned message id and doubles as the idempotency key:
// at most one Message per ID is ever stored.
type Message struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to,omitempty"`
	Text      *string     `json:"text,omitempty"` // nil means non-text attachment
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"` // provider-supplied, epoch seconds
	EventID   string      `json:"eventId,omitempty"`

	ReceivedAt  time.Time  `json:"receivedAt"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// HasText reports whether the message carries a non-empty text body.
func (m *Message) HasText() bool {
	return m.Text != nil && *m.Text != ""
}

// WebhookEvent is a raw provider payload exactly as received.
// Immutable once stored except for the processed flag.
type WebhookEvent struct {
	ID          string     `json:"id"`
	Object      string     `json:"object"`
	Payload     []byte     `json:"-"`
	ReceivedAt  time.Time  `json:"receivedAt"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// InboundMessage is a Message annotated with its ingress path, flowing
// from the gateway or the session listener into the reply pipeline.
type InboundMessage struct {
	Source  string // "webhook" | "socket"
	Message Message
}
