package sessions

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/coterie-games/townsquare/pkg/broadcast"
	"github.com/coterie-games/townsquare/pkg/log"
	"github.com/coterie-games/townsquare/pkg/messages"
	"github.com/coterie-games/townsquare/pkg/movement"
	"github.com/coterie-games/townsquare/pkg/queue"
	"github.com/coterie-games/townsquare/pkg/ratelimit"
	"github.com/coterie-games/townsquare/pkg/repositories"
	"github.com/coterie-games/townsquare/pkg/rooms"
	"github.com/coterie-games/townsquare/pkg/types"
)

var (
	// ErrInvalidHandshake is returned when the handshake is missing the
	// player or room identifier. No state is created.
	ErrInvalidHandshake = errors.New("invalid handshake")
	// ErrRoomFull is returned when admission would exceed the room's
	// capacity. The room's membership is unchanged.
	ErrRoomFull = rooms.ErrRoomFull
)

// Conn is the transport-level handle a session writes to. Deliver must
// not block; Close must be idempotent.
type Conn interface {
	Deliver(msg *messages.Message) bool
	Close()
}

// Manager admits connections into rooms and creates the session that
// orchestrates each connection end-to-end.
type Manager struct {
	registry     *rooms.Registry
	broadcaster  *broadcast.Engine
	archiveQueue queue.Queue

	bounds        types.Bounds
	maxSpeed      float64
	minInterval   time.Duration
	maxChatLength int
	now           func() time.Time
}

type NewManagerOptions struct {
	Registry    *rooms.Registry
	Broadcaster *broadcast.Engine
	// ArchiveQueue receives repositories.ChatRecord and
	// repositories.SessionRecord items for the archive worker. Optional.
	ArchiveQueue queue.Queue

	Bounds        types.Bounds
	MaxSpeed      float64
	MinInterval   time.Duration
	MaxChatLength int
	// Now is the clock used for rate limiting, timestamps, and liveness.
	// Defaults to time.Now.
	Now func() time.Time
}

func NewManager(opts NewManagerOptions) *Manager {
	broadcaster := opts.Broadcaster
	if broadcaster == nil {
		broadcaster = broadcast.NewEngine(opts.Registry)
	}
	bounds := opts.Bounds
	if bounds.Width <= 0 || bounds.Height <= 0 {
		bounds = types.DefaultBounds()
	}
	maxSpeed := opts.MaxSpeed
	if maxSpeed <= 0 {
		maxSpeed = movement.DefaultMaxSpeed
	}
	maxChatLength := opts.MaxChatLength
	if maxChatLength <= 0 {
		maxChatLength = messages.MaxChatMessageLength
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		registry:      opts.Registry,
		broadcaster:   broadcaster,
		archiveQueue:  opts.ArchiveQueue,
		bounds:        bounds,
		maxSpeed:      maxSpeed,
		minInterval:   opts.MinInterval,
		maxChatLength: maxChatLength,
		now:           now,
	}
}

// Admit performs the admission handshake: capacity check, room
// lookup-or-create, player insertion, initial snapshot to the new
// connection, and a join broadcast to the other members. The returned
// session owns the player's state until teardown.
func (m *Manager) Admit(playerID, roomID, displayName string, conn Conn) (*Session, error) {
	if playerID == "" || roomID == "" {
		return nil, ErrInvalidHandshake
	}
	if displayName == "" {
		displayName = playerID
	}

	now := m.now()
	state := &types.PlayerState{
		ID:           playerID,
		DisplayName:  displayName,
		Position:     m.bounds.Center(),
		Direction:    types.DirectionDown,
		IsMoving:     false,
		LastUpdateAt: now,
	}

	s := &Session{
		id:          uuid.NewString(),
		manager:     m,
		playerID:    playerID,
		roomID:      roomID,
		displayName: displayName,
		conn:        conn,
		limiter:     ratelimit.New(m.minInterval),
	}

	for {
		room := m.registry.GetOrCreate(roomID)
		err := room.Add(state, s)
		if err == nil {
			s.room = room
			break
		}
		// A join can race the registry deleting a just-emptied room; the
		// closed marker makes Add fail so we re-resolve and retry.
		if errors.Is(err, rooms.ErrRoomClosed) {
			continue
		}
		// A reconnect can reuse an id whose previous session has not torn
		// down yet. Evict the stale session through its ordinary teardown
		// and take its place.
		if errors.Is(err, rooms.ErrAlreadyMember) {
			if occupant, ok := room.Occupant(playerID); ok {
				occupant.Evict(TeardownReplaced)
			}
			continue
		}
		return nil, err
	}

	snapshot := s.room.Snapshot(playerID)
	worldState, err := messages.New(messages.MessageTypeServerWorldState, &messages.ServerWorldState{Players: snapshot})
	if err != nil {
		log.Error("Failed to build world state message: %v", err)
	} else {
		conn.Deliver(worldState)
	}

	joined, err := messages.New(messages.MessageTypeServerPlayerJoined, &messages.ServerPlayerJoined{Player: state.Copy()})
	if err != nil {
		log.Error("Failed to build player joined message: %v", err)
	} else {
		m.broadcaster.Publish(roomID, joined, playerID)
	}

	m.archive(repositories.SessionRecord{
		RoomID:    roomID,
		PlayerID:  playerID,
		Event:     repositories.SessionEventJoined,
		Timestamp: now,
	})

	log.Info("Player %s admitted to room %s (session %s)", playerID, roomID, s.id)
	return s, nil
}

func (m *Manager) archive(item interface{}) {
	if m.archiveQueue == nil {
		return
	}
	if err := m.archiveQueue.Enqueue(item); err != nil {
		log.Warn("Failed to enqueue archive record: %v", err)
	}
}
