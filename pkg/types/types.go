package types

import (
	"math"
	"time"
)

// Direction is the facing of a player. It is a closed set: anything
// outside the four constants is rejected at the protocol boundary.
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// Valid reports whether d is one of the four known directions.
func (d Direction) Valid() bool {
	switch d {
	case DirectionUp, DirectionDown, DirectionLeft, DirectionRight:
		return true
	}
	return false
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistanceTo returns the Euclidean distance between two positions.
func (p Position) DistanceTo(other Position) float64 {
	return math.Hypot(other.X-p.X, other.Y-p.Y)
}

// PlayerState is the authoritative state of one connected player.
// It is owned by the session representing that player's connection;
// all mutation flows through the room that holds it.
type PlayerState struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Position    Position  `json:"position"`
	Direction   Direction `json:"direction"`
	IsMoving    bool      `json:"isMoving"`

	// LastUpdateAt is the server time of the last accepted
	// state-changing event (movement or heartbeat). It only advances
	// and is the sole liveness signal used by the reaper.
	LastUpdateAt time.Time `json:"-"`
}

// Copy returns a copy of the player state.
func (p *PlayerState) Copy() PlayerState {
	return PlayerState{
		ID:           p.ID,
		DisplayName:  p.DisplayName,
		Position:     p.Position,
		Direction:    p.Direction,
		IsMoving:     p.IsMoving,
		LastUpdateAt: p.LastUpdateAt,
	}
}

const (
	DefaultWorldWidth  = 1000.0
	DefaultWorldHeight = 1000.0
)

// Bounds is the world rectangle [0, Width] x [0, Height].
type Bounds struct {
	Width  float64
	Height float64
}

func DefaultBounds() Bounds {
	return Bounds{Width: DefaultWorldWidth, Height: DefaultWorldHeight}
}

// Center returns the spawn point for newly admitted players.
func (b Bounds) Center() Position {
	return Position{X: b.Width / 2, Y: b.Height / 2}
}

// Clamp returns p constrained to the world rectangle.
func (b Bounds) Clamp(p Position) Position {
	if p.X < 0 {
		p.X = 0
	}
	if p.Y < 0 {
		p.Y = 0
	}
	if p.X > b.Width {
		p.X = b.Width
	}
	if p.Y > b.Height {
		p.Y = b.Height
	}
	return p
}
