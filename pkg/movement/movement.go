// Package movement decides whether a proposed player position is
// accepted. It is a fixed per-update distance cap, not a physics
// simulation: the allowance never scales with elapsed time, so a client
// cannot bank distance by pausing between updates.
package movement

import "github.com/coterie-games/townsquare/pkg/types"

const (
	// DefaultMaxSpeed is the maximum accepted distance per update,
	// tuned for clients updating roughly every 50ms.
	DefaultMaxSpeed = 15.0
)

// Allowed reports whether the proposed position is reachable from prev
// within maxSpeed. A nil prev means the first update after spawn, which
// is accepted unconditionally.
func Allowed(prev *types.Position, proposed types.Position, maxSpeed float64) bool {
	if prev == nil {
		return true
	}
	return prev.DistanceTo(proposed) <= maxSpeed
}
