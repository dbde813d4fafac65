package domain

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by a Sender whose session is not open.
var ErrNotConnected = errors.New("session not connected")

// EventStore persists raw webhook events and canonical messages and
// enforces the at-most-one-Message-per-id invariant.
type EventStore interface {
	// SaveEvent durably stores a raw webhook payload and returns its
	// generated event id. Must complete before any extraction happens.
	SaveEvent(ctx context.Context, object string, payload []byte) (string, error)

	// SaveMessage inserts a message keyed by its provider id.
	// Returns false without error when a message with the same id
	// already exists (duplicate webhook delivery).
	SaveMessage(ctx context.Context, msg *Message) (bool, error)

	// IsProcessed reports whether the message id has completed the
	// respond→send pipeline.
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	// MarkProcessed flips processed to true and stamps processedAt.
	MarkProcessed(ctx context.Context, messageID string) error

	// Unprocessed lists messages that have not completed the pipeline.
	Unprocessed(ctx context.Context) ([]Message, error)

	// MarkEventProcessed flips the processed flag on a stored raw event.
	MarkEventProcessed(ctx context.Context, eventID string) error
}

// Responder produces a reply for an inbound customer text.
// Implementations must always return a non-empty reply: upstream AI
// failures are absorbed into a static fallback, never propagated.
type Responder interface {
	Reply(ctx context.Context, text string) string
}

// Sender is the outbound send capability owned by the live session.
type Sender interface {
	// Send delivers text to a recipient. Fails with ErrNotConnected
	// (wrapped) when the session is not open; no retry at this layer.
	Send(ctx context.Context, to, text string) error
}

// Bus multiplexes the two ingress paths (HTTP webhook, session socket)
// onto the reply pipeline.
type Bus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
