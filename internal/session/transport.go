package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FrameType tags a socket frame.
type FrameType string

const (
	FramePairing FrameType = "pairing" // server → client: pairing challenge
	FrameCreds   FrameType = "creds"   // server → client: credential issue/rotation
	FrameOpen    FrameType = "open"    // server → client: handshake complete
	FrameMessage FrameType = "message" // both directions: chat message
	FramePing    FrameType = "ping"    // server keepalive, echoed back
)

// Frame is the JSON envelope exchanged over the provider socket.
type Frame struct {
	Type        FrameType     `json:"type"`
	Challenge   string        `json:"challenge,omitempty"`
	Credentials *Credentials  `json:"credentials,omitempty"`
	Message     *MessageFrame `json:"message,omitempty"`
}

// MessageFrame is a chat message as carried on the socket.
type MessageFrame struct {
	ID        string  `json:"id,omitempty"`
	From      string  `json:"from,omitempty"`
	To        string  `json:"to,omitempty"`
	Text      *string `json:"text,omitempty"`
	Type      string  `json:"type,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
	FromMe    bool    `json:"fromMe,omitempty"`
}

// CloseInfo carries the close code and reason of a dropped connection.
type CloseInfo struct {
	Code   int
	Reason string
}

// CloseCodeLoggedOut is sent when the account revoked this session.
const CloseCodeLoggedOut = 4401

// CloseError is returned by Conn.ReadFrame when the connection dropped.
type CloseError struct {
	Info CloseInfo
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: %d %s", e.Info.Code, e.Info.Reason)
}

// closeInfoFromError recovers CloseInfo from a read error.
func closeInfoFromError(err error) CloseInfo {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Info
	}
	return CloseInfo{Code: 1006, Reason: err.Error()}
}

// LoggedOut reports whether the disconnect is a terminal revocation.
// A logged-out session must never reconnect; the operator has to re-pair.
func (ci CloseInfo) LoggedOut() bool {
	return ci.Code == CloseCodeLoggedOut || strings.Contains(strings.ToLower(ci.Reason), "logged out")
}

// Conn is a live framed connection to the provider.
type Conn interface {
	// ReadFrame blocks until a frame arrives, the context is cancelled,
	// or the connection closes.
	ReadFrame(ctx context.Context) (*Frame, error)
	// WriteFrame sends a frame. Implementations must be safe for use by
	// the single writer goroutine plus keepalive echoes.
	WriteFrame(ctx context.Context, f *Frame) error
	Close(code int, reason string)
}

// Transport dials the provider socket. Separated from the Manager so tests
// can drive the state machine with a fake connection.
type Transport interface {
	Dial(ctx context.Context, creds *Credentials) (Conn, error)
}
