package rooms

import (
	"errors"
	"sync"
	"time"

	"github.com/coterie-games/townsquare/pkg/messages"
	"github.com/coterie-games/townsquare/pkg/types"
)

var (
	// ErrRoomFull is returned when a join would exceed the room's capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrRoomClosed is returned when a join races the registry deleting an
	// emptied room. Callers should re-resolve the room and retry.
	ErrRoomClosed = errors.New("room is closed")
	// ErrAlreadyMember is returned when a join reuses a player id that is
	// still present in the room. Callers evict the existing occupant and
	// retry.
	ErrAlreadyMember = errors.New("player already in room")
)

// Occupant is the delivery and eviction surface a room holds for each
// member. It is implemented by the session that owns the member's
// connection.
type Occupant interface {
	// Deliver enqueues a message for the member's connection without
	// blocking. It reports whether the message was accepted.
	Deliver(msg *messages.Message) bool
	// Evict forces the owning session through its ordinary teardown path.
	Evict(reason string)
}

type member struct {
	state    *types.PlayerState
	occupant Occupant
}

// Room is a set of players keyed by player id, guarded by its own lock.
// Membership mutation and snapshot reads are mutually exclusive; player
// state is updated as a single step under the write lock so readers
// never observe a torn record.
type Room struct {
	id       string
	capacity int

	mu      sync.RWMutex
	members map[string]*member
	order   []string
	closed  bool
}

func newRoom(id string, capacity int) *Room {
	return &Room{
		id:       id,
		capacity: capacity,
		members:  make(map[string]*member),
	}
}

func (r *Room) ID() string {
	return r.id
}

// Add inserts a player atomically with the duplicate and capacity
// checks. Player ids are unique within a room: a second join with an id
// already present is refused rather than overwriting the member.
func (r *Room) Add(state *types.PlayerState, occupant Occupant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	if _, ok := r.members[state.ID]; ok {
		return ErrAlreadyMember
	}
	if len(r.members) >= r.capacity {
		return ErrRoomFull
	}
	r.order = append(r.order, state.ID)
	r.members[state.ID] = &member{state: state, occupant: occupant}
	return nil
}

// Remove deletes a player and reports whether it was present.
func (r *Room) Remove(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[playerID]; !ok {
		return false
	}
	delete(r.members, playerID)
	for i, id := range r.order {
		if id == playerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the current member count.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Snapshot returns a point-in-time copy of the room's membership in
// join order, excluding excludeID if non-empty.
func (r *Room) Snapshot(excludeID string) []types.PlayerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	players := make([]types.PlayerState, 0, len(r.members))
	for _, id := range r.order {
		if id == excludeID {
			continue
		}
		if m, ok := r.members[id]; ok {
			players = append(players, m.state.Copy())
		}
	}
	return players
}

// Get returns a copy of one player's state.
func (r *Room) Get(playerID string) (types.PlayerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[playerID]
	if !ok {
		return types.PlayerState{}, false
	}
	return m.state.Copy(), true
}

// Update applies fn to a player's state under the room's write lock and
// reports whether the player was present.
func (r *Room) Update(playerID string, fn func(*types.PlayerState)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[playerID]
	if !ok {
		return false
	}
	fn(m.state)
	return true
}

// Occupant returns the delivery handle for one member.
func (r *Room) Occupant(playerID string) (Occupant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[playerID]
	if !ok {
		return nil, false
	}
	return m.occupant, true
}

// Occupants returns the delivery handles of all members, excluding
// excludeID if non-empty.
func (r *Room) Occupants(excludeID string) []Occupant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	occupants := make([]Occupant, 0, len(r.members))
	for id, m := range r.members {
		if id == excludeID {
			continue
		}
		occupants = append(occupants, m.occupant)
	}
	return occupants
}

// StaleOccupants returns the occupants whose last accepted update is
// strictly before the cutoff.
func (r *Room) StaleOccupants(cutoff time.Time) []Occupant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stale []Occupant
	for _, m := range r.members {
		if m.state.LastUpdateAt.Before(cutoff) {
			stale = append(stale, m.occupant)
		}
	}
	return stale
}
