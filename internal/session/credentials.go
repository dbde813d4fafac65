package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Credentials bind the session to a provider account. They are issued
// during pairing, rotated by the server while connected, and must survive
// process restarts so a crash never forces re-pairing.
type Credentials struct {
	ClientID    string    `json:"clientId"`
	ClientToken string    `json:"clientToken"`
	ServerToken string    `json:"serverToken"`
	SelfID      string    `json:"selfId,omitempty"` // the bot's own account id
	PairedAt    time.Time `json:"pairedAt"`
}

// Valid reports whether the credentials are usable for a re-login.
func (c *Credentials) Valid() bool {
	return c != nil && c.ClientID != "" && c.ClientToken != ""
}

// FileStore persists credentials as JSON under a session directory,
// keyed by session name.
type FileStore struct {
	dir  string
	name string
}

func NewFileStore(dir, name string) *FileStore {
	if name == "" {
		name = "default"
	}
	return &FileStore{dir: dir, name: name}
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, s.name+".creds.json")
}

// Load reads stored credentials. Returns (nil, nil) when none exist yet.
func (s *FileStore) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", s.path(), err)
	}
	return &c, nil
}

// Save writes credentials durably. Written to a temp file and renamed so a
// crash mid-write never corrupts the stored credentials.
func (s *FileStore) Save(c *Credentials) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

// Clear removes stored credentials (terminal logout).
func (s *FileStore) Clear() error {
	err := os.Remove(s.path())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
