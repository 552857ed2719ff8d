// Package ai drives creature behaviour: target acquisition, pursuit, melee
// and idle wandering. The machine never moves an actor itself; it returns a
// horizontal movement request for the physics integrator.
package ai

import "github.com/go-gl/mathgl/mgl64"

type State uint8

const (
	StateIdle State = iota
	StateTarget
	StateAttack
	StateWander
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTarget:
		return "target"
	case StateAttack:
		return "attack"
	case StateWander:
		return "wander"
	default:
		return "unknown"
	}
}

// TargetRef names the current target without holding it. It must be
// resolved through an ObserverLookup on every use.
type TargetRef struct {
	ID string
}

func (r TargetRef) Empty() bool {
	return r.ID == ""
}

const cooldownMelee = "melee"

// Session is the per-actor behaviour memory.
type Session struct {
	State  State
	Target TargetRef

	StateEntered uint64
	LastSearch   uint64
	searched     bool

	// Cooldowns maps ability names to the tick they last fired.
	Cooldowns map[string]uint64
	WanderTo  mgl64.Vec3
}

// NewSession returns an idle session.
func NewSession() *Session {
	return &Session{State: StateIdle}
}

// LastAttack returns the tick of the latest melee swing.
func (s *Session) LastAttack() (uint64, bool) {
	if s == nil {
		return 0, false
	}
	tick, ok := s.Cooldowns[cooldownMelee]
	return tick, ok
}
