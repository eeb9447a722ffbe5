// Package broadcast fans events out to the members of a room.
package broadcast

import (
	"github.com/coterie-games/townsquare/pkg/log"
	"github.com/coterie-games/townsquare/pkg/messages"
	"github.com/coterie-games/townsquare/pkg/rooms"
)

// Engine delivers events to every connection currently joined to a
// room. Delivery is best-effort and fire-and-forget: each connection
// has its own outbound queue, so a slow or closed connection degrades
// only itself, never the room.
type Engine struct {
	registry *rooms.Registry
}

func NewEngine(registry *rooms.Registry) *Engine {
	return &Engine{registry: registry}
}

// Publish delivers msg to every member of the room except excludeID.
// Pass an empty excludeID to include all members.
func (e *Engine) Publish(roomID string, msg *messages.Message, excludeID string) {
	room, ok := e.registry.Get(roomID)
	if !ok {
		return
	}
	dropped := 0
	for _, occupant := range room.Occupants(excludeID) {
		if !occupant.Deliver(msg) {
			dropped++
		}
	}
	if dropped > 0 {
		log.Debug("Dropped %s message for %d members of room %s", msg.Type, dropped, roomID)
	}
}

// PublishAll delivers msg to every member of the room, sender included.
func (e *Engine) PublishAll(roomID string, msg *messages.Message) {
	e.Publish(roomID, msg, "")
}
