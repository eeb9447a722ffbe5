package messages

import (
	"encoding/json"
	"fmt"

	"github.com/coterie-games/townsquare/pkg/types"
)

const (
	// MaxChatMessageLength is the maximum chat message length in runes.
	MaxChatMessageLength = 500
)

// Client -> server message types
const (
	MessageTypeClientMove     = "move"
	MessageTypeClientChat     = "chat"
	MessageTypeClientInteract = "interact"
	MessageTypeClientEmote    = "emote"
	MessageTypeClientPing     = "ping"
)

// Server -> client message types
const (
	MessageTypeServerWorldState           = "world:state"
	MessageTypeServerPlayerJoined         = "player:joined"
	MessageTypeServerPlayerMoved          = "player:moved"
	MessageTypeServerPositionReset        = "position:reset"
	MessageTypeServerPlayerLeft           = "player:left"
	MessageTypeServerPlayerEmoted         = "player:emoted"
	MessageTypeServerChatMessage          = "chat:message"
	MessageTypeServerInteractionInitiated = "interaction:initiated"
	MessageTypeServerInteractionReceived  = "interaction:received"
	MessageTypeServerError                = "error"
	MessageTypeServerPong                 = "pong"
)

// Message represents a generic message for serialization/deserialization.
// The sender's identity is bound to the connection at admission, so the
// envelope carries only the type tag and the payload.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New creates a Message with a marshaled payload.
func New(msgType string, payload interface{}) (*Message, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return &Message{Type: msgType, Payload: b}, nil
}

type ClientMove struct {
	Position  types.Position  `json:"position"`
	Direction types.Direction `json:"direction"`
	IsMoving  bool            `json:"isMoving"`
}

type ClientChat struct {
	Message string `json:"message"`
}

type ClientInteract struct {
	TargetPlayerID string `json:"targetPlayerId"`
}

type ClientEmote struct {
	Kind string `json:"kind"`
}

// ServerWorldState is the full room snapshot delivered immediately
// after admission. It excludes the receiving player.
type ServerWorldState struct {
	Players []types.PlayerState `json:"players"`
}

type ServerPlayerJoined struct {
	Player types.PlayerState `json:"player"`
}

// ServerPlayerMoved carries the server acceptance time, never a
// client-submitted timestamp.
type ServerPlayerMoved struct {
	PlayerID  string          `json:"playerId"`
	Position  types.Position  `json:"position"`
	Direction types.Direction `json:"direction"`
	IsMoving  bool            `json:"isMoving"`
	Timestamp int64           `json:"timestamp"`
}

// ServerPositionReset corrects the sender after a rejected move.
// It is a correction, not an error: the connection stays open.
type ServerPositionReset struct {
	Position types.Position `json:"position"`
}

type ServerPlayerLeft struct {
	PlayerID string `json:"playerId"`
}

type ServerPlayerEmoted struct {
	PlayerID  string `json:"playerId"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
}

type ServerChatMessage struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
}

type ServerInteractionInitiated struct {
	TargetID  string `json:"targetId"`
	Timestamp int64  `json:"timestamp"`
}

type ServerInteractionReceived struct {
	FromID    string `json:"fromId"`
	FromName  string `json:"fromName"`
	Timestamp int64  `json:"timestamp"`
}

type ServerError struct {
	Message string `json:"message"`
}

type ServerPong struct {
	Timestamp int64 `json:"timestamp"`
}
