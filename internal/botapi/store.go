package botapi

import (
	"sync"

	"pedebot/internal/domain"
)

// RecentStore is the bounded, mutex-guarded list of received messages
// served by GET /api/whatsapp/messages. Process-lifetime only; the oldest
// entries are evicted once the capacity is reached.
type RecentStore struct {
	mu   sync.RWMutex
	msgs []domain.Message
	cap  int
}

func NewRecentStore(capacity int) *RecentStore {
	if capacity <= 0 {
		capacity = 500
	}
	return &RecentStore{cap: capacity}
}

// Append records a received message, evicting the oldest when full.
func (s *RecentStore) Append(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = append(s.msgs, msg)
	if len(s.msgs) > s.cap {
		s.msgs = s.msgs[len(s.msgs)-s.cap:]
	}
}

// List returns a copy of the stored messages, oldest first.
func (s *RecentStore) List() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of stored messages.
func (s *RecentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}
