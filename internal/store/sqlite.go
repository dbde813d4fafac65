package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pedebot/internal/domain"
)

// SQLiteStore implements domain.EventStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS webhook_events (
		id           TEXT PRIMARY KEY,
		object       TEXT NOT NULL,
		payload      TEXT NOT NULL,
		received_at  DATETIME NOT NULL,
		processed    INTEGER NOT NULL DEFAULT 0,
		processed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_events_received ON webhook_events(received_at);

	CREATE TABLE IF NOT EXISTS messages (
		id           TEXT PRIMARY KEY,
		event_id     TEXT REFERENCES webhook_events(id),
		sender       TEXT NOT NULL,
		recipient    TEXT,
		body         TEXT,
		type         TEXT NOT NULL,
		ts           INTEGER NOT NULL,
		received_at  DATETIME NOT NULL,
		processed    INTEGER NOT NULL DEFAULT 0,
		processed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_messages_processed ON messages(processed, received_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveEvent durably stores a raw webhook payload before any extraction.
func (s *SQLiteStore) SaveEvent(ctx context.Context, object string, payload []byte) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (id, object, payload, received_at, processed)
		 VALUES (?, ?, ?, ?, 0)`,
		id, object, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("save event: %w", err)
	}
	return id, nil
}

// SaveMessage inserts a message keyed by its provider id. The insert is the
// idempotency check: ON CONFLICT DO NOTHING makes repeated webhook delivery
// of the same message a no-op, atomically.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *domain.Message) (bool, error) {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	var body any
	if msg.Text != nil {
		body = *msg.Text
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, event_id, sender, recipient, body, type, ts, received_at, processed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.EventID, msg.From, msg.To, body, string(msg.Type), msg.Timestamp, msg.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("save message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save message: %w", err)
	}
	if n == 0 {
		s.logger.Debug("duplicate message skipped", "id", msg.ID)
		return false, nil
	}
	return true, nil
}

func (s *SQLiteStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var processed bool
	err := s.db.QueryRowContext(ctx,
		`SELECT processed FROM messages WHERE id = ?`, messageID,
	).Scan(&processed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is processed: %w", err)
	}
	return processed, nil
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET processed = 1, processed_at = ? WHERE id = ?`,
		time.Now().UTC(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkEventProcessed(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET processed = 1, processed_at = ? WHERE id = ?`,
		time.Now().UTC(), eventID,
	)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

// Unprocessed returns messages that have not completed the reply pipeline,
// oldest first.
func (s *SQLiteStore) Unprocessed(ctx context.Context) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, sender, recipient, body, type, ts, received_at, processed, processed_at
		 FROM messages WHERE processed = 0 ORDER BY received_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("unprocessed: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// GetMessage looks up a single message by provider id. Returns nil when absent.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, sender, recipient, body, type, ts, received_at, processed, processed_at
		 FROM messages WHERE id = ?`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// GetEvent looks up a stored raw event by id. Returns nil when absent.
func (s *SQLiteStore) GetEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error) {
	var (
		ev          domain.WebhookEvent
		payload     string
		processedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, object, payload, received_at, processed, processed_at
		 FROM webhook_events WHERE id = ?`, eventID,
	).Scan(&ev.ID, &ev.Object, &payload, &ev.ReceivedAt, &ev.Processed, &processedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	ev.Payload = []byte(payload)
	if processedAt.Valid {
		ev.ProcessedAt = &processedAt.Time
	}
	return &ev, nil
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	var out []domain.Message
	for rows.Next() {
		var (
			m           domain.Message
			eventID     sql.NullString
			recipient   sql.NullString
			body        sql.NullString
			msgType     string
			processedAt sql.NullTime
		)
		if err := rows.Scan(&m.ID, &eventID, &m.From, &recipient, &body, &msgType,
			&m.Timestamp, &m.ReceivedAt, &m.Processed, &processedAt); err != nil {
			return nil, err
		}
		m.EventID = eventID.String
		m.To = recipient.String
		if body.Valid {
			text := body.String
			m.Text = &text
		}
		m.Type = domain.MessageType(msgType)
		if processedAt.Valid {
			m.ProcessedAt = &processedAt.Time
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
