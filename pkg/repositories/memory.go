package repositories

import (
	"context"
	"sync"
)

// InMemoryRepository keeps the archive in process memory. It backs the
// server when no database is configured, and the tests.
type InMemoryRepository struct {
	mu       sync.RWMutex
	chat     []ChatRecord
	sessions []SessionRecord
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

func (r *InMemoryRepository) Close(ctx context.Context) error {
	return nil
}

func (r *InMemoryRepository) SaveChatMessage(ctx context.Context, rec ChatRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = append(r.chat, rec)
	return nil
}

func (r *InMemoryRepository) SaveSessionEvent(ctx context.Context, rec SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, rec)
	return nil
}

func (r *InMemoryRepository) ListRecentChat(ctx context.Context, roomID string, limit int) ([]ChatRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var records []ChatRecord
	for i := len(r.chat) - 1; i >= 0 && len(records) < limit; i-- {
		if r.chat[i].RoomID == roomID {
			records = append(records, r.chat[i])
		}
	}
	return records, nil
}

// SessionEvents returns all archived session events for a room.
func (r *InMemoryRepository) SessionEvents(roomID string) []SessionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var records []SessionRecord
	for _, rec := range r.sessions {
		if rec.RoomID == roomID {
			records = append(records, rec)
		}
	}
	return records
}
