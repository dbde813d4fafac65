package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pedebot/internal/domain"
	"pedebot/internal/metrics"
)

// State of the provider session.
type State string

const (
	StateInit         State = "INIT"
	StatePairing      State = "PAIRING"
	StateOpen         State = "OPEN"
	StateClosed       State = "CLOSED"
	StateReconnecting State = "RECONNECTING"
	StateLoggedOut    State = "LOGGED_OUT"
)

var stateOrdinals = map[State]int64{
	StateInit:         0,
	StatePairing:      1,
	StateOpen:         2,
	StateClosed:       3,
	StateReconnecting: 4,
	StateLoggedOut:    5,
}

// ErrLoggedOut marks a terminal session revocation. No reconnect is
// attempted; the operator must re-pair.
var ErrLoggedOut = errors.New("session logged out by provider")

const (
	maxReconnects    = 10
	maxBackoff       = 60 * time.Second
	handshakeTimeout = 3 * time.Minute // pairing includes a human scanning a code
	msgBufferSize    = 64
)

// Manager owns the long-lived provider connection. It drives the connect/
// pairing/reconnect state machine, surfaces inbound messages, and is the
// sole holder of the outbound send capability.
type Manager struct {
	transport Transport
	creds     *FileStore
	logger    *slog.Logger

	mu    sync.RWMutex
	state State
	conn  Conn
	cred  *Credentials

	// sendMu enforces one send in flight at a time: the transport is not
	// assumed to interleave writes safely.
	sendMu sync.Mutex

	messages chan domain.Message
	pairing  chan string
}

func NewManager(transport Transport, creds *FileStore, logger *slog.Logger) *Manager {
	return &Manager{
		transport: transport,
		creds:     creds,
		logger:    logger,
		state:     StateInit,
		messages:  make(chan domain.Message, msgBufferSize),
		pairing:   make(chan string, 4),
	}
}

// Messages streams inbound customer messages received over the socket.
// Closed when Run returns.
func (m *Manager) Messages() <-chan domain.Message { return m.messages }

// PairingChallenges streams challenges to render to the operator.
func (m *Manager) PairingChallenges() <-chan string { return m.pairing }

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	metrics.SessionState.Set(stateOrdinals[s])
	m.logger.Debug("session state", "state", s)
}

// Run drives the session until ctx is cancelled, the provider logs the
// account out, or the reconnect budget is exhausted.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.messages)

	attempt := 0
	for {
		err := m.connect(ctx)
		if err == nil {
			attempt = 0
			ci := m.readLoop(ctx)
			m.closeConn(1000, "")
			m.setState(StateClosed)

			if ctx.Err() != nil {
				return nil
			}

			m.logger.Warn("session disconnected", "code", ci.Code, "reason", ci.Reason)
			if ci.LoggedOut() {
				return m.logout()
			}
			err = fmt.Errorf("disconnected: %d %s", ci.Code, ci.Reason)
		} else {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrLoggedOut) {
				return m.logout()
			}
		}

		attempt++
		if attempt > maxReconnects {
			m.setState(StateClosed)
			return fmt.Errorf("session gave up after %d reconnect attempts: %w", maxReconnects, err)
		}

		m.setState(StateReconnecting)
		metrics.SessionReconnects.Inc()
		delay := min(time.Duration(1<<uint(attempt))*time.Second, maxBackoff)
		m.logger.Info("session reconnecting", "attempt", attempt, "delay", delay, "err", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// connect dials the provider and completes the handshake, entering PAIRING
// when the server demands it. On success the session is OPEN.
func (m *Manager) connect(ctx context.Context) error {
	cred, err := m.creds.Load()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()

	m.setState(StateInit)

	conn, err := m.transport.Dial(ctx, cred)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	if err := m.handshake(ctx, conn); err != nil {
		conn.Close(1000, "handshake failed")
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.state = StateOpen
	m.mu.Unlock()
	metrics.SessionState.Set(stateOrdinals[StateOpen])
	m.logger.Info("session open")
	return nil
}

// handshake reads frames until the server confirms the session is open.
// Credential frames are persisted as they arrive, before the session is
// considered usable, so a crash mid-handshake never loses a rotation.
func (m *Manager) handshake(ctx context.Context, conn Conn) error {
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	for {
		f, err := conn.ReadFrame(hctx)
		if err != nil {
			if closeInfoFromError(err).LoggedOut() {
				return ErrLoggedOut
			}
			return fmt.Errorf("handshake: %w", err)
		}

		switch f.Type {
		case FramePairing:
			m.setState(StatePairing)
			select {
			case m.pairing <- f.Challenge:
			default:
				m.logger.Warn("pairing challenge dropped, channel full")
			}
		case FrameCreds:
			if err := m.storeCredentials(f.Credentials); err != nil {
				return err
			}
		case FrameOpen:
			return nil
		case FramePing:
			_ = conn.WriteFrame(hctx, &Frame{Type: FramePing})
		}
	}
}

// readLoop consumes frames while OPEN and returns the close info of the
// disconnect that ended it.
func (m *Manager) readLoop(ctx context.Context) CloseInfo {
	conn := m.connRef()
	for {
		f, err := conn.ReadFrame(ctx)
		if err != nil {
			return closeInfoFromError(err)
		}

		switch f.Type {
		case FrameMessage:
			if f.Message == nil || f.Message.FromMe {
				continue // the bot's own sends echo back on the socket
			}
			msg := frameToMessage(f.Message)
			select {
			case m.messages <- msg:
			case <-ctx.Done():
				return CloseInfo{Code: 1000, Reason: "shutdown"}
			}
		case FrameCreds:
			// Rotation while OPEN: persist before any future reconnect
			// could need it.
			if err := m.storeCredentials(f.Credentials); err != nil {
				m.logger.Error("credential rotation not persisted", "err", err)
			}
		case FramePing:
			_ = conn.WriteFrame(ctx, &Frame{Type: FramePing})
		}
	}
}

func frameToMessage(fm *MessageFrame) domain.Message {
	t := fm.Type
	if t == "" {
		t = "message"
	}
	return domain.Message{
		ID:        fm.ID,
		From:      fm.From,
		To:        fm.To,
		Text:      fm.Text,
		Type:      domain.ParseMessageType(t),
		Timestamp: fm.Timestamp,
	}
}

func (m *Manager) storeCredentials(c *Credentials) error {
	if c == nil {
		return nil
	}
	if c.PairedAt.IsZero() {
		c.PairedAt = time.Now().UTC()
	}
	if err := m.creds.Save(c); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	m.mu.Lock()
	m.cred = c
	m.mu.Unlock()
	m.logger.Info("credentials persisted", "clientId", c.ClientID)
	return nil
}

// logout enters the terminal LOGGED_OUT state and clears stored
// credentials so the next operator-driven start pairs fresh.
func (m *Manager) logout() error {
	m.setState(StateLoggedOut)
	if err := m.creds.Clear(); err != nil {
		m.logger.Warn("could not clear credentials", "err", err)
	}
	m.logger.Error("session logged out; re-pairing required")
	return ErrLoggedOut
}

// Send delivers text to a recipient over the live connection. Fails without
// retry when the session is not OPEN.
func (m *Manager) Send(ctx context.Context, to, text string) error {
	m.mu.RLock()
	state, conn := m.state, m.conn
	m.mu.RUnlock()

	if state != StateOpen || conn == nil {
		return fmt.Errorf("cannot send to %s (state %s): %w", to, state, domain.ErrNotConnected)
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	f := &Frame{
		Type: FrameMessage,
		Message: &MessageFrame{
			To:        to,
			Text:      &text,
			Type:      "message",
			Timestamp: time.Now().Unix(),
		},
	}
	if err := conn.WriteFrame(ctx, f); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

func (m *Manager) connRef() Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

func (m *Manager) closeConn(code int, reason string) {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		conn.Close(code, reason)
	}
}
