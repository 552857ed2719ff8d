// Package trigger is the veto surface exposed to the skill subsystem. Each
// hook runs before the matching state change commits; returning false cancels
// it. A nil hook allows.
package trigger

import (
	"mirage/server/internal/actor"
)

// DamageEvent describes a hit about to be applied.
type DamageEvent struct {
	Actor *actor.Actor
	// Raw is the incoming amount, Amount the value after mitigation.
	Raw      float64
	Amount   float64
	Attacker actor.Source
	// Lethal is set when Amount would reduce health to zero.
	Lethal bool
}

// DeathEvent describes a death transition about to commit.
type DeathEvent struct {
	Actor  *actor.Actor
	Killer actor.Source
}

// AttackEvent describes a melee swing at an observer.
type AttackEvent struct {
	Actor    *actor.Actor
	TargetID string
	Amount   float64
	Distance float64
}

// TargetChangeEvent describes a target switch. An empty NextID clears the
// target.
type TargetChangeEvent struct {
	Actor      *actor.Actor
	PreviousID string
	NextID     string
	Reason     string
}

// Hooks are called on the actor's owning shard with the actor guard held.
// They must not block or call back into the engine synchronously.
type Hooks struct {
	Spawn   func(*actor.Actor) bool
	Damaged func(DamageEvent) bool
	Attack  func(AttackEvent) bool
	Death   func(DeathEvent) bool

	// KillCredit decides whether the killer is attributed the kill. It
	// cannot stop the death itself.
	KillCredit   func(DeathEvent) bool
	TargetChange func(TargetChangeEvent) bool
}

func (h *Hooks) AllowSpawn(a *actor.Actor) bool {
	if h == nil || h.Spawn == nil {
		return true
	}
	return h.Spawn(a)
}

func (h *Hooks) AllowDamage(event DamageEvent) bool {
	if h == nil || h.Damaged == nil {
		return true
	}
	return h.Damaged(event)
}

func (h *Hooks) AllowAttack(event AttackEvent) bool {
	if h == nil || h.Attack == nil {
		return true
	}
	return h.Attack(event)
}

func (h *Hooks) AllowDeath(event DeathEvent) bool {
	if h == nil || h.Death == nil {
		return true
	}
	return h.Death(event)
}

func (h *Hooks) AllowKillCredit(event DeathEvent) bool {
	if h == nil || h.KillCredit == nil {
		return true
	}
	return h.KillCredit(event)
}

func (h *Hooks) AllowTargetChange(event TargetChangeEvent) bool {
	if h == nil || h.TargetChange == nil {
		return true
	}
	return h.TargetChange(event)
}
