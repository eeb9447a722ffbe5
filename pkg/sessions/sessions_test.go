package sessions

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coterie-games/townsquare/pkg/messages"
	"github.com/coterie-games/townsquare/pkg/queue"
	"github.com/coterie-games/townsquare/pkg/repositories"
	"github.com/coterie-games/townsquare/pkg/rooms"
	"github.com/coterie-games/townsquare/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeConn struct {
	mu        sync.Mutex
	delivered []*messages.Message
	closed    bool
}

func (c *fakeConn) Deliver(msg *messages.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, msg)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) ofType(msgType string) []*messages.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []*messages.Message
	for _, msg := range c.delivered {
		if msg.Type == msgType {
			matched = append(matched, msg)
		}
	}
	return matched
}

type testEnv struct {
	registry *rooms.Registry
	manager  *Manager
	clock    *fakeClock
	archive  *queue.InMemoryQueue
}

func newTestEnv(t *testing.T, maxPlayersPerRoom int) *testEnv {
	t.Helper()
	clock := newFakeClock()
	registry := rooms.NewRegistry(maxPlayersPerRoom)
	archive := queue.NewInMemoryQueue(256)
	manager := NewManager(NewManagerOptions{
		Registry:     registry,
		ArchiveQueue: archive,
		Now:          clock.Now,
	})
	return &testEnv{registry: registry, manager: manager, clock: clock, archive: archive}
}

func (e *testEnv) admit(t *testing.T, playerID string) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	sess, err := e.manager.Admit(playerID, "plaza", playerID, conn)
	require.NoError(t, err)
	return sess, conn
}

func moveMessage(t *testing.T, x, y float64) *messages.Message {
	t.Helper()
	msg, err := messages.New(messages.MessageTypeClientMove, &messages.ClientMove{
		Position:  types.Position{X: x, Y: y},
		Direction: types.DirectionRight,
		IsMoving:  true,
	})
	require.NoError(t, err)
	return msg
}

func chatMessage(t *testing.T, text string) *messages.Message {
	t.Helper()
	msg, err := messages.New(messages.MessageTypeClientChat, &messages.ClientChat{Message: text})
	require.NoError(t, err)
	return msg
}

// moveTo establishes a known position, consuming the unconditional
// first-update allowance, and steps past the rate limit interval.
func (e *testEnv) moveTo(t *testing.T, sess *Session, x, y float64) {
	t.Helper()
	e.clock.Advance(60 * time.Millisecond)
	sess.HandleMessage(moveMessage(t, x, y))
	e.clock.Advance(60 * time.Millisecond)
}

func TestAdmitInvalidHandshake(t *testing.T) {
	env := newTestEnv(t, 0)

	_, err := env.manager.Admit("", "plaza", "alice", &fakeConn{})
	assert.ErrorIs(t, err, ErrInvalidHandshake)

	_, err = env.manager.Admit("alice", "", "alice", &fakeConn{})
	assert.ErrorIs(t, err, ErrInvalidHandshake)

	// No state is created by a refused handshake.
	roomCount, playerCount := env.registry.Counts()
	assert.Equal(t, 0, roomCount)
	assert.Equal(t, 0, playerCount)
}

func TestAdmitSnapshotExcludesSelf(t *testing.T) {
	env := newTestEnv(t, 0)
	env.admit(t, "alice")
	_, bobConn := env.admit(t, "bob")

	snapshots := bobConn.ofType(messages.MessageTypeServerWorldState)
	require.Len(t, snapshots, 1)

	worldState := &messages.ServerWorldState{}
	require.NoError(t, json.Unmarshal(snapshots[0].Payload, worldState))
	require.Len(t, worldState.Players, 1)
	assert.Equal(t, "alice", worldState.Players[0].ID)
}

func TestAdmitBroadcastsJoinToOthers(t *testing.T) {
	env := newTestEnv(t, 0)
	_, aliceConn := env.admit(t, "alice")
	_, bobConn := env.admit(t, "bob")

	joins := aliceConn.ofType(messages.MessageTypeServerPlayerJoined)
	require.Len(t, joins, 1)
	joined := &messages.ServerPlayerJoined{}
	require.NoError(t, json.Unmarshal(joins[0].Payload, joined))
	assert.Equal(t, "bob", joined.Player.ID)
	assert.Equal(t, types.DirectionDown, joined.Player.Direction)
	assert.Equal(t, types.Position{X: 500, Y: 500}, joined.Player.Position)

	// The joiner does not observe its own join broadcast.
	assert.Empty(t, bobConn.ofType(messages.MessageTypeServerPlayerJoined))
}

func TestAdmitRoomFull(t *testing.T) {
	env := newTestEnv(t, 2)
	env.admit(t, "alice")
	env.admit(t, "bob")

	_, err := env.manager.Admit("carol", "plaza", "carol", &fakeConn{})
	assert.ErrorIs(t, err, ErrRoomFull)

	room, ok := env.registry.Get("plaza")
	require.True(t, ok)
	assert.Equal(t, 2, room.Len())
}

func TestAdmitReplacesStaleSessionWithSameID(t *testing.T) {
	env := newTestEnv(t, 0)
	stale, staleConn := env.admit(t, "alice")

	// The client redials before the dead connection's read loop noticed;
	// the rejoin evicts the stale session and takes its place.
	fresh, freshConn := env.admit(t, "alice")
	assert.True(t, staleConn.closed)

	room, ok := env.registry.Get("plaza")
	require.True(t, ok)
	assert.Equal(t, 1, room.Len())

	// The stale session's late teardown is a no-op: the room and the
	// fresh session's state survive it.
	stale.Teardown(TeardownDisconnect)
	room, ok = env.registry.Get("plaza")
	require.True(t, ok, "room still exists for the live session")
	assert.Equal(t, 1, room.Len())

	// The fresh session is fully live: its moves mutate state.
	env.clock.Advance(60 * time.Millisecond)
	fresh.HandleMessage(moveMessage(t, 505, 500))
	state, _ := mustGet(t, env, "alice")
	assert.Equal(t, types.Position{X: 505, Y: 500}, state.Position)
	assert.Empty(t, freshConn.ofType(messages.MessageTypeServerPositionReset))
}

func TestMoveAccepted(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, aliceConn := env.admit(t, "alice")
	_, bobConn := env.admit(t, "bob")

	env.moveTo(t, alice, 100, 100)
	alice.HandleMessage(moveMessage(t, 110, 100))

	room, _ := env.registry.Get("plaza")
	state, ok := room.Get("alice")
	require.True(t, ok)
	assert.Equal(t, types.Position{X: 110, Y: 100}, state.Position)
	assert.Equal(t, env.clock.Now(), state.LastUpdateAt)

	// Both accepted moves reach bob, none echo back to alice.
	assert.Len(t, bobConn.ofType(messages.MessageTypeServerPlayerMoved), 2)
	assert.Empty(t, aliceConn.ofType(messages.MessageTypeServerPlayerMoved))

	moved := &messages.ServerPlayerMoved{}
	lastMove := bobConn.ofType(messages.MessageTypeServerPlayerMoved)[1]
	require.NoError(t, json.Unmarshal(lastMove.Payload, moved))
	assert.Equal(t, "alice", moved.PlayerID)
	assert.Equal(t, types.Position{X: 110, Y: 100}, moved.Position)
	assert.Equal(t, env.clock.Now().UnixMilli(), moved.Timestamp)
}

func TestMoveRejectedResetsSender(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, aliceConn := env.admit(t, "alice")
	_, bobConn := env.admit(t, "bob")

	env.moveTo(t, alice, 100, 100)
	before, _ := mustGet(t, env, "alice")
	alice.HandleMessage(moveMessage(t, 200, 100))

	// State unchanged, correction to the sender only, nothing to bob.
	after, _ := mustGet(t, env, "alice")
	assert.Equal(t, before.Position, after.Position)
	assert.Equal(t, before.LastUpdateAt, after.LastUpdateAt)

	resets := aliceConn.ofType(messages.MessageTypeServerPositionReset)
	require.Len(t, resets, 1)
	reset := &messages.ServerPositionReset{}
	require.NoError(t, json.Unmarshal(resets[0].Payload, reset))
	assert.Equal(t, types.Position{X: 100, Y: 100}, reset.Position)

	assert.Len(t, bobConn.ofType(messages.MessageTypeServerPlayerMoved), 1)
}

func TestMoveFirstUpdateUnconditional(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, aliceConn := env.admit(t, "alice")

	// Far beyond the per-update cap, but the first update after spawn
	// is always accepted.
	env.clock.Advance(60 * time.Millisecond)
	alice.HandleMessage(moveMessage(t, 900, 900))

	state, _ := mustGet(t, env, "alice")
	assert.Equal(t, types.Position{X: 900, Y: 900}, state.Position)
	assert.Empty(t, aliceConn.ofType(messages.MessageTypeServerPositionReset))
}

func TestMoveClampedToBounds(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, _ := env.admit(t, "alice")

	env.clock.Advance(60 * time.Millisecond)
	alice.HandleMessage(moveMessage(t, -50, 2000))

	state, _ := mustGet(t, env, "alice")
	assert.Equal(t, types.Position{X: 0, Y: 1000}, state.Position)
}

func TestMoveRateLimited(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, aliceConn := env.admit(t, "alice")
	_, bobConn := env.admit(t, "bob")

	alice.HandleMessage(moveMessage(t, 505, 500))

	// 10ms later: silently dropped. No broadcast, no correction, no
	// state change.
	env.clock.Advance(10 * time.Millisecond)
	alice.HandleMessage(moveMessage(t, 510, 500))
	state, _ := mustGet(t, env, "alice")
	assert.Equal(t, types.Position{X: 505, Y: 500}, state.Position)
	assert.Len(t, bobConn.ofType(messages.MessageTypeServerPlayerMoved), 1)
	assert.Empty(t, aliceConn.ofType(messages.MessageTypeServerPositionReset))

	// 60ms after the first: admitted again.
	env.clock.Advance(50 * time.Millisecond)
	alice.HandleMessage(moveMessage(t, 510, 500))
	state, _ = mustGet(t, env, "alice")
	assert.Equal(t, types.Position{X: 510, Y: 500}, state.Position)
	assert.Len(t, bobConn.ofType(messages.MessageTypeServerPlayerMoved), 2)
}

func TestChatEchoesToAllIncludingSender(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, aliceConn := env.admit(t, "alice")
	_, bobConn := env.admit(t, "bob")

	alice.HandleMessage(chatMessage(t, "hello"))

	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		chats := conn.ofType(messages.MessageTypeServerChatMessage)
		require.Len(t, chats, 1)
		chat := &messages.ServerChatMessage{}
		require.NoError(t, json.Unmarshal(chats[0].Payload, chat))
		assert.Equal(t, "alice", chat.PlayerID)
		assert.Equal(t, "hello", chat.Message)
		assert.Equal(t, env.clock.Now().UnixMilli(), chat.Timestamp)
	}
}

func TestChatInvalidMessage(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, aliceConn := env.admit(t, "alice")
	_, bobConn := env.admit(t, "bob")

	alice.HandleMessage(chatMessage(t, ""))
	alice.HandleMessage(chatMessage(t, strings.Repeat("a", messages.MaxChatMessageLength+1)))

	assert.Empty(t, bobConn.ofType(messages.MessageTypeServerChatMessage))
	assert.Empty(t, aliceConn.ofType(messages.MessageTypeServerChatMessage))
	assert.Len(t, aliceConn.ofType(messages.MessageTypeServerError), 2)
}

func TestChatArchived(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, _ := env.admit(t, "alice")

	alice.HandleMessage(chatMessage(t, "hello"))

	items, err := env.archive.ReadAllMessages()
	require.NoError(t, err)
	var chats []repositories.ChatRecord
	for _, item := range items {
		if rec, ok := item.(repositories.ChatRecord); ok {
			chats = append(chats, rec)
		}
	}
	require.Len(t, chats, 1)
	assert.Equal(t, "plaza", chats[0].RoomID)
	assert.Equal(t, "hello", chats[0].Message)
}

func TestInteractNotifiesBothParties(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, aliceConn := env.admit(t, "alice")
	_, bobConn := env.admit(t, "bob")
	_, carolConn := env.admit(t, "carol")

	msg, err := messages.New(messages.MessageTypeClientInteract, &messages.ClientInteract{TargetPlayerID: "bob"})
	require.NoError(t, err)
	alice.HandleMessage(msg)

	received := bobConn.ofType(messages.MessageTypeServerInteractionReceived)
	require.Len(t, received, 1)
	payload := &messages.ServerInteractionReceived{}
	require.NoError(t, json.Unmarshal(received[0].Payload, payload))
	assert.Equal(t, "alice", payload.FromID)

	assert.Len(t, aliceConn.ofType(messages.MessageTypeServerInteractionInitiated), 1)

	// Not a room-wide broadcast.
	assert.Empty(t, carolConn.ofType(messages.MessageTypeServerInteractionReceived))
	assert.Empty(t, carolConn.ofType(messages.MessageTypeServerInteractionInitiated))
}

func TestInteractMissingTargetIsNoOp(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, aliceConn := env.admit(t, "alice")

	msg, err := messages.New(messages.MessageTypeClientInteract, &messages.ClientInteract{TargetPlayerID: "ghost"})
	require.NoError(t, err)
	alice.HandleMessage(msg)

	assert.Empty(t, aliceConn.ofType(messages.MessageTypeServerInteractionInitiated))
	assert.Empty(t, aliceConn.ofType(messages.MessageTypeServerError))
}

func TestEmoteBroadcastsToOthers(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, aliceConn := env.admit(t, "alice")
	_, bobConn := env.admit(t, "bob")

	msg, err := messages.New(messages.MessageTypeClientEmote, &messages.ClientEmote{Kind: "wave"})
	require.NoError(t, err)
	alice.HandleMessage(msg)

	emotes := bobConn.ofType(messages.MessageTypeServerPlayerEmoted)
	require.Len(t, emotes, 1)
	emoted := &messages.ServerPlayerEmoted{}
	require.NoError(t, json.Unmarshal(emotes[0].Payload, emoted))
	assert.Equal(t, "wave", emoted.Kind)

	assert.Empty(t, aliceConn.ofType(messages.MessageTypeServerPlayerEmoted))
}

func TestPingAdvancesLiveness(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, aliceConn := env.admit(t, "alice")

	before, _ := mustGet(t, env, "alice")
	env.clock.Advance(3 * time.Minute)
	alice.HandleMessage(&messages.Message{Type: messages.MessageTypeClientPing})

	after, _ := mustGet(t, env, "alice")
	assert.True(t, after.LastUpdateAt.After(before.LastUpdateAt))
	assert.Equal(t, before.Position, after.Position)
	assert.Len(t, aliceConn.ofType(messages.MessageTypeServerPong), 1)
}

func TestTeardownBroadcastsAndCleansUp(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, aliceConn := env.admit(t, "alice")
	bob, bobConn := env.admit(t, "bob")

	alice.Teardown(TeardownDisconnect)

	lefts := bobConn.ofType(messages.MessageTypeServerPlayerLeft)
	require.Len(t, lefts, 1)
	left := &messages.ServerPlayerLeft{}
	require.NoError(t, json.Unmarshal(lefts[0].Payload, left))
	assert.Equal(t, "alice", left.PlayerID)
	assert.True(t, aliceConn.closed)

	room, ok := env.registry.Get("plaza")
	require.True(t, ok)
	assert.Equal(t, 1, room.Len())

	// The last departure destroys the room.
	bob.Teardown(TeardownDisconnect)
	_, ok = env.registry.Get("plaza")
	assert.False(t, ok)
}

func TestTeardownIdempotent(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, _ := env.admit(t, "alice")
	_, bobConn := env.admit(t, "bob")

	alice.Teardown(TeardownDisconnect)
	alice.Teardown(TeardownDisconnect)

	assert.Len(t, bobConn.ofType(messages.MessageTypeServerPlayerLeft), 1)
}

func TestMessagesAfterTeardownAreDropped(t *testing.T) {
	env := newTestEnv(t, 0)
	alice, aliceConn := env.admit(t, "alice")
	_, bobConn := env.admit(t, "bob")

	alice.Teardown(TeardownDisconnect)
	env.clock.Advance(60 * time.Millisecond)
	alice.HandleMessage(moveMessage(t, 505, 500))

	assert.Empty(t, bobConn.ofType(messages.MessageTypeServerPlayerMoved))
	assert.Empty(t, aliceConn.ofType(messages.MessageTypeServerPositionReset))

	// Chat from the departed session neither broadcasts nor archives.
	alice.HandleMessage(chatMessage(t, "hello"))
	assert.Empty(t, bobConn.ofType(messages.MessageTypeServerChatMessage))
	items, err := env.archive.ReadAllMessages()
	require.NoError(t, err)
	for _, item := range items {
		_, isChat := item.(repositories.ChatRecord)
		assert.False(t, isChat, "no chat is archived for a departed player")
	}

	// And a heartbeat from it earns no pong.
	alice.HandleMessage(&messages.Message{Type: messages.MessageTypeClientPing})
	assert.Empty(t, aliceConn.ofType(messages.MessageTypeServerPong))
}

func mustGet(t *testing.T, env *testEnv, playerID string) (types.PlayerState, *rooms.Room) {
	t.Helper()
	room, ok := env.registry.Get("plaza")
	require.True(t, ok)
	state, ok := room.Get(playerID)
	require.True(t, ok)
	return state, room
}
