// Package repositories archives chat messages and session lifecycle
// events. World state (positions, rooms) is deliberately not persisted:
// it is in-memory and process-lifetime only.
package repositories

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Session event types as stored in the archive.
const (
	SessionEventJoined = "joined"
	SessionEventLeft   = "left"
	SessionEventReaped = "reaped"
)

// ChatRecord is one archived chat message.
type ChatRecord struct {
	RoomID      string    `json:"roomId"`
	PlayerID    string    `json:"playerId"`
	DisplayName string    `json:"displayName"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// SessionRecord is one archived session lifecycle event.
type SessionRecord struct {
	RoomID    string    `json:"roomId"`
	PlayerID  string    `json:"playerId"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

type Repository interface {
	Close(ctx context.Context) error
	SaveChatMessage(ctx context.Context, rec ChatRecord) error
	SaveSessionEvent(ctx context.Context, rec SessionRecord) error
	ListRecentChat(ctx context.Context, roomID string, limit int) ([]ChatRecord, error)
}
