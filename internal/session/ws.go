package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// WSTransport dials the provider's WebSocket endpoint.
type WSTransport struct {
	url       string
	userAgent string
}

func NewWSTransport(url string) *WSTransport {
	return &WSTransport{
		url:       url,
		userAgent: "PedeBot/1.0",
	}
}

// Dial opens the socket. Stored credentials, when present, are offered in
// headers so the server can resume the session instead of starting pairing.
func (t *WSTransport) Dial(ctx context.Context, creds *Credentials) (Conn, error) {
	h := http.Header{}
	h.Set("User-Agent", t.userAgent)
	if creds.Valid() {
		h.Set("X-Client-Id", creds.ClientID)
		h.Set("X-Client-Token", creds.ClientToken)
	}

	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	conn.SetReadLimit(1 << 20) // 1MB
	return &wsConn{conn: conn}, nil
}

// wsConn wraps coder/websocket with a mutex-guarded write method.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) ReadFrame(ctx context.Context) (*Frame, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, &CloseError{Info: parseCloseInfo(err)}
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse socket frame: %w", err)
	}
	return &f, nil
}

func (c *wsConn) WriteFrame(ctx context.Context, f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(code int, reason string) {
	c.conn.Close(websocket.StatusCode(code), reason)
}

// parseCloseInfo extracts the close code and reason from a read error.
func parseCloseInfo(err error) CloseInfo {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return CloseInfo{Code: int(ce.Code), Reason: ce.Reason}
	}
	return CloseInfo{Code: 1006, Reason: err.Error()}
}
