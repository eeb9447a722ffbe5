package sessions

import (
	"encoding/json"
	"sync"

	"github.com/coterie-games/townsquare/pkg/log"
	"github.com/coterie-games/townsquare/pkg/messages"
	"github.com/coterie-games/townsquare/pkg/movement"
	"github.com/coterie-games/townsquare/pkg/ratelimit"
	"github.com/coterie-games/townsquare/pkg/repositories"
	"github.com/coterie-games/townsquare/pkg/rooms"
	"github.com/coterie-games/townsquare/pkg/types"
)

// Teardown reasons.
const (
	TeardownDisconnect = "disconnect"
	TeardownStale      = "stale"
	TeardownReplaced   = "replaced"
)

// Session is the live binding between one connection and one player
// state. Inbound messages are dispatched from the connection's
// sequential read loop, so per-connection ordering is preserved and the
// rate limiter needs no locking.
type Session struct {
	id          string
	manager     *Manager
	room        *rooms.Room
	playerID    string
	roomID      string
	displayName string
	conn        Conn
	limiter     *ratelimit.Limiter

	// hasMoved gates the first-update allowance in the validator.
	hasMoved bool

	teardown sync.Once
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) PlayerID() string {
	return s.playerID
}

func (s *Session) RoomID() string {
	return s.roomID
}

// Deliver implements rooms.Occupant.
func (s *Session) Deliver(msg *messages.Message) bool {
	return s.conn.Deliver(msg)
}

// Evict implements rooms.Occupant. It runs the ordinary teardown path;
// the reaper uses it to remove sessions whose liveness signal has gone
// silent.
func (s *Session) Evict(reason string) {
	s.Teardown(reason)
}

// HandleMessage dispatches one inbound message. Malformed payloads are
// dropped: a single connection's bad input never propagates beyond it.
func (s *Session) HandleMessage(msg *messages.Message) {
	switch msg.Type {
	case messages.MessageTypeClientMove:
		s.handleMove(msg.Payload)
	case messages.MessageTypeClientChat:
		s.handleChat(msg.Payload)
	case messages.MessageTypeClientInteract:
		s.handleInteract(msg.Payload)
	case messages.MessageTypeClientEmote:
		s.handleEmote(msg.Payload)
	case messages.MessageTypeClientPing:
		s.handlePing()
	default:
		log.Debug("Session %s received unknown message type %q", s.id, msg.Type)
	}
}

func (s *Session) handleMove(payload json.RawMessage) {
	now := s.manager.now()
	// Rejections here are silent: fast-polling clients are expected to
	// exceed the interval under normal operation.
	if !s.limiter.Allow(now) {
		return
	}

	move := &messages.ClientMove{}
	if err := json.Unmarshal(payload, move); err != nil {
		log.Debug("Session %s sent malformed move payload: %v", s.id, err)
		return
	}
	if !move.Direction.Valid() {
		log.Debug("Session %s sent unknown direction %q", s.id, move.Direction)
		return
	}

	current, ok := s.room.Get(s.playerID)
	if !ok {
		return
	}

	var prev *types.Position
	if s.hasMoved {
		prev = &current.Position
	}
	if !movement.Allowed(prev, move.Position, s.manager.maxSpeed) {
		reset, err := messages.New(messages.MessageTypeServerPositionReset, &messages.ServerPositionReset{Position: current.Position})
		if err != nil {
			log.Error("Failed to build position reset message: %v", err)
			return
		}
		s.conn.Deliver(reset)
		return
	}

	position := s.manager.bounds.Clamp(move.Position)
	updated := s.room.Update(s.playerID, func(p *types.PlayerState) {
		p.Position = position
		p.Direction = move.Direction
		p.IsMoving = move.IsMoving
		p.LastUpdateAt = now
	})
	if !updated {
		return
	}
	s.hasMoved = true

	moved, err := messages.New(messages.MessageTypeServerPlayerMoved, &messages.ServerPlayerMoved{
		PlayerID:  s.playerID,
		Position:  position,
		Direction: move.Direction,
		IsMoving:  move.IsMoving,
		Timestamp: now.UnixMilli(),
	})
	if err != nil {
		log.Error("Failed to build player moved message: %v", err)
		return
	}
	s.manager.broadcaster.Publish(s.roomID, moved, s.playerID)
}

func (s *Session) handleChat(payload json.RawMessage) {
	chat := &messages.ClientChat{}
	if err := json.Unmarshal(payload, chat); err != nil {
		log.Debug("Session %s sent malformed chat payload: %v", s.id, err)
		return
	}
	if chat.Message == "" || len([]rune(chat.Message)) > s.manager.maxChatLength {
		s.deliverError("invalid chat message")
		return
	}
	if _, ok := s.room.Get(s.playerID); !ok {
		return
	}

	now := s.manager.now()
	// Chat echoes to the sender too, so its UI treats all messages
	// uniformly.
	chatMessage, err := messages.New(messages.MessageTypeServerChatMessage, &messages.ServerChatMessage{
		PlayerID:    s.playerID,
		DisplayName: s.displayName,
		Message:     chat.Message,
		Timestamp:   now.UnixMilli(),
	})
	if err != nil {
		log.Error("Failed to build chat message: %v", err)
		return
	}
	s.manager.broadcaster.PublishAll(s.roomID, chatMessage)

	s.manager.archive(repositories.ChatRecord{
		RoomID:      s.roomID,
		PlayerID:    s.playerID,
		DisplayName: s.displayName,
		Message:     chat.Message,
		Timestamp:   now,
	})
}

func (s *Session) handleInteract(payload json.RawMessage) {
	interact := &messages.ClientInteract{}
	if err := json.Unmarshal(payload, interact); err != nil {
		log.Debug("Session %s sent malformed interact payload: %v", s.id, err)
		return
	}

	// The target may have just left; that is not an error.
	target, ok := s.room.Occupant(interact.TargetPlayerID)
	if !ok {
		return
	}

	now := s.manager.now()
	received, err := messages.New(messages.MessageTypeServerInteractionReceived, &messages.ServerInteractionReceived{
		FromID:    s.playerID,
		FromName:  s.displayName,
		Timestamp: now.UnixMilli(),
	})
	if err != nil {
		log.Error("Failed to build interaction received message: %v", err)
		return
	}
	initiated, err := messages.New(messages.MessageTypeServerInteractionInitiated, &messages.ServerInteractionInitiated{
		TargetID:  interact.TargetPlayerID,
		Timestamp: now.UnixMilli(),
	})
	if err != nil {
		log.Error("Failed to build interaction initiated message: %v", err)
		return
	}

	target.Deliver(received)
	s.conn.Deliver(initiated)
}

func (s *Session) handleEmote(payload json.RawMessage) {
	emote := &messages.ClientEmote{}
	if err := json.Unmarshal(payload, emote); err != nil {
		log.Debug("Session %s sent malformed emote payload: %v", s.id, err)
		return
	}
	if emote.Kind == "" {
		return
	}
	if _, ok := s.room.Get(s.playerID); !ok {
		return
	}

	emoted, err := messages.New(messages.MessageTypeServerPlayerEmoted, &messages.ServerPlayerEmoted{
		PlayerID:  s.playerID,
		Kind:      emote.Kind,
		Timestamp: s.manager.now().UnixMilli(),
	})
	if err != nil {
		log.Error("Failed to build player emoted message: %v", err)
		return
	}
	s.manager.broadcaster.Publish(s.roomID, emoted, s.playerID)
}

// handlePing is the heartbeat: it advances the liveness clock without
// moving the player.
func (s *Session) handlePing() {
	now := s.manager.now()
	updated := s.room.Update(s.playerID, func(p *types.PlayerState) {
		p.LastUpdateAt = now
	})
	if !updated {
		return
	}

	pong, err := messages.New(messages.MessageTypeServerPong, &messages.ServerPong{Timestamp: now.UnixMilli()})
	if err != nil {
		log.Error("Failed to build pong message: %v", err)
		return
	}
	s.conn.Deliver(pong)
}

// Teardown removes the player from its room, broadcasts the departure
// to the remaining members, and triggers registry cleanup. It is
// idempotent: a second invocation has no additional effect.
func (s *Session) Teardown(reason string) {
	s.teardown.Do(func() {
		removed := s.room.Remove(s.playerID)
		if removed {
			left, err := messages.New(messages.MessageTypeServerPlayerLeft, &messages.ServerPlayerLeft{PlayerID: s.playerID})
			if err != nil {
				log.Error("Failed to build player left message: %v", err)
			} else {
				s.manager.broadcaster.Publish(s.roomID, left, s.playerID)
			}
			s.manager.registry.RemoveIfEmpty(s.roomID)

			event := repositories.SessionEventLeft
			if reason == TeardownStale {
				event = repositories.SessionEventReaped
			}
			s.manager.archive(repositories.SessionRecord{
				RoomID:    s.roomID,
				PlayerID:  s.playerID,
				Event:     event,
				Timestamp: s.manager.now(),
			})
		}
		s.conn.Close()
		log.Info("Player %s left room %s (%s)", s.playerID, s.roomID, reason)
	})
}

func (s *Session) deliverError(message string) {
	errMsg, err := messages.New(messages.MessageTypeServerError, &messages.ServerError{Message: message})
	if err != nil {
		log.Error("Failed to build error message: %v", err)
		return
	}
	s.conn.Deliver(errMsg)
}
