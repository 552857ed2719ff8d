// Package physics integrates actor velocity against world geometry once per
// tick.
package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Session is the per-actor motion state. It is mutated by the integrator
// every tick and by combat when a knockback impulse lands.
type Session struct {
	Velocity mgl64.Vec3
	Grounded bool
	// Knocked is set by a knockback impulse and cleared once the horizontal
	// velocity has decayed to zero.
	Knocked bool
}

// HorizontalSpeed is the XZ magnitude of the current velocity.
func (s *Session) HorizontalSpeed() float64 {
	if s == nil {
		return 0
	}
	return math.Hypot(s.Velocity[0], s.Velocity[2])
}

// Dominated reports whether an external impulse currently outweighs a
// movement request of the given per-tick speed.
func (s *Session) Dominated(speed float64) bool {
	if s == nil || !s.Knocked {
		return false
	}
	return s.HorizontalSpeed() > speed
}

// Reset clears all motion, used when an actor is teleported or dies.
func (s *Session) Reset() {
	if s == nil {
		return
	}
	*s = Session{}
}
