package rooms

import "sync"

const (
	// DefaultMaxPlayersPerRoom is the default room capacity.
	DefaultMaxPlayersPerRoom = 50
)

// Registry owns the process-wide mapping of room id to room. Rooms are
// created lazily on first join and destroyed the instant they empty, so
// no room exists with zero members at rest.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	maxPlayers int
}

// NewRegistry creates a registry. maxPlayersPerRoom <= 0 selects the
// default capacity.
func NewRegistry(maxPlayersPerRoom int) *Registry {
	if maxPlayersPerRoom <= 0 {
		maxPlayersPerRoom = DefaultMaxPlayersPerRoom
	}
	return &Registry{
		rooms:      make(map[string]*Room),
		maxPlayers: maxPlayersPerRoom,
	}
}

// GetOrCreate returns the existing room or atomically creates an empty
// one. It never fails.
func (g *Registry) GetOrCreate(id string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[id]
	if !ok {
		r = newRoom(id, g.maxPlayers)
		g.rooms[id] = r
	}
	return r
}

// Get returns a room without creating it.
func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[id]
	return r, ok
}

// RemoveIfEmpty deletes a room only if it has no members. The emptiness
// re-check happens under both the registry lock and the room lock, and
// the room is marked closed so a join racing the delete fails with
// ErrRoomClosed and retries against a fresh room.
func (g *Registry) RemoveIfEmpty(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[id]
	if !ok {
		return
	}
	r.mu.Lock()
	if len(r.members) == 0 {
		r.closed = true
		delete(g.rooms, id)
	}
	r.mu.Unlock()
}

// Rooms returns all current rooms.
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// Counts returns the number of rooms and the total player count.
func (g *Registry) Counts() (int, int) {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	players := 0
	for _, r := range rooms {
		players += r.Len()
	}
	return len(rooms), players
}
