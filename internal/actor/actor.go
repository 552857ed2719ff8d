// Package actor holds the mutable record of one simulated creature. An Actor
// is owned by the engine registry and only ever mutated from the executor
// shard that owns its region; the guard mutex serialises those writes against
// readers on other goroutines.
package actor

import (
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/oklog/ulid/v2"
	"github.com/sasha-s/go-deadlock"

	"mirage/server/internal/physics"
	"mirage/server/internal/world"
)

type Actor struct {
	mu deadlock.Mutex

	ID        ulid.ULID
	NetworkID int64
	Def       Definition

	World    string
	Position mgl64.Vec3
	Yaw      float64
	Pitch    float64

	health    HealthState
	alive     bool
	deathTick uint64

	Armor     float64
	Toughness float64

	// Ticks counts simulation steps lived.
	Ticks uint64

	Motion  physics.Session
	Viewers ViewerSet
	Ledger  DamageLedger

	// LastSent is the position most recently broadcast to viewers.
	LastSent    mgl64.Vec3
	LastSentYaw float64

	// RNG is the actor's private random stream, seeded from its id.
	RNG *rand.Rand
}

// New builds a live actor from def at pos. def is normalised first.
func New(id ulid.ULID, networkID int64, def Definition, worldName string, pos mgl64.Vec3) *Actor {
	def = def.Normalized()
	return &Actor{
		ID:        id,
		NetworkID: networkID,
		Def:       def,
		World:     worldName,
		Position:  pos,
		health:    HealthState{Health: def.Health, MaxHealth: def.Health},
		alive:     true,
		Armor:     def.Armor,
		Toughness: def.Toughness,
		LastSent:  pos,
		RNG:       world.NewDeterministicRNG(world.DefaultSeed, id.String()),
	}
}

// Reseed replaces the random stream with one rooted at seed.
func (a *Actor) Reseed(seed string) {
	a.RNG = world.NewDeterministicRNG(seed, a.Key())
}

// Vars exposes the actor to stat expressions.
func (a *Actor) Vars() map[string]any {
	return map[string]any{
		"name":       a.Def.Name,
		"health":     a.health.Health,
		"max_health": a.health.MaxHealth,
		"armor":      a.Armor,
		"toughness":  a.Toughness,
		"x":          a.Position[0],
		"y":          a.Position[1],
		"z":          a.Position[2],
		"ticks":      a.Ticks,
		"alive":      a.alive,
	}
}

func (a *Actor) Lock()   { a.mu.Lock() }
func (a *Actor) Unlock() { a.mu.Unlock() }

// Key is the string form of the actor id used in logs, ledgers and hooks.
func (a *Actor) Key() string {
	if a == nil {
		return ""
	}
	return a.ID.String()
}

func (a *Actor) Health() float64    { return a.health.Health }
func (a *Actor) MaxHealth() float64 { return a.health.MaxHealth }
func (a *Actor) Alive() bool        { return a != nil && a.alive }

// DeathTick is the engine tick on which the actor died, valid once dead.
func (a *Actor) DeathTick() uint64 { return a.deathTick }

// SetHealth clamps health into [0, MaxHealth]. Dead actors stay at zero.
func (a *Actor) SetHealth(health float64) bool {
	if a == nil || !a.alive {
		return false
	}
	return SetHealth(&a.health, a.health.MaxHealth, health)
}

// SetMaxHealth changes the ceiling and re-clamps current health.
func (a *Actor) SetMaxHealth(max float64) bool {
	if a == nil || !a.alive || max <= 0 {
		return false
	}
	return SetHealth(&a.health, max, a.health.Health)
}

// Heal restores up to amount health and returns what was applied.
func (a *Actor) Heal(amount float64) float64 {
	if a == nil || !a.alive || !(amount > 0) {
		return 0
	}
	before := a.health.Health
	a.SetHealth(before + amount)
	return a.health.Health - before
}

// MarkDead freezes the actor at zero health. It reports false when the actor
// was already dead so callers run the death transition once.
func (a *Actor) MarkDead(tick uint64) bool {
	if a == nil || !a.alive {
		return false
	}
	a.health.Health = 0
	a.alive = false
	a.deathTick = tick
	a.Motion.Reset()
	return true
}

// Body returns the physics footprint at the current position.
func (a *Actor) Body() physics.Body {
	return physics.Body{
		World:    a.World,
		Position: a.Position,
		Width:    a.Def.Width,
		Height:   a.Def.Height,
	}
}

// Eye is the point the actor looks from.
func (a *Actor) Eye() mgl64.Vec3 {
	return a.Position.Add(mgl64.Vec3{0, a.Def.Height * 0.85, 0})
}

// Snapshot is an immutable copy of the externally visible actor state.
type Snapshot struct {
	ID        string     `json:"id" msgpack:"id"`
	NetworkID int64      `json:"network_id" msgpack:"network_id"`
	Name      string     `json:"name" msgpack:"name"`
	World     string     `json:"world" msgpack:"world"`
	Position  mgl64.Vec3 `json:"position" msgpack:"position"`
	Yaw       float64    `json:"yaw" msgpack:"yaw"`
	Pitch     float64    `json:"pitch" msgpack:"pitch"`
	Health    float64    `json:"health" msgpack:"health"`
	MaxHealth float64    `json:"max_health" msgpack:"max_health"`
	Alive     bool       `json:"alive" msgpack:"alive"`
	Armor     float64    `json:"armor" msgpack:"armor"`
	Toughness float64    `json:"toughness" msgpack:"toughness"`
	Width     float64    `json:"width" msgpack:"width"`
	Height    float64    `json:"height" msgpack:"height"`
	Viewers   int        `json:"viewers" msgpack:"-"`
}

// Snapshot copies the actor. The caller must hold the guard or be the owning
// shard.
func (a *Actor) Snapshot() Snapshot {
	return Snapshot{
		ID:        a.Key(),
		NetworkID: a.NetworkID,
		Name:      a.Def.Name,
		World:     a.World,
		Position:  a.Position,
		Yaw:       a.Yaw,
		Pitch:     a.Pitch,
		Health:    a.health.Health,
		MaxHealth: a.health.MaxHealth,
		Alive:     a.alive,
		Armor:     a.Armor,
		Toughness: a.Toughness,
		Width:     a.Def.Width,
		Height:    a.Def.Height,
		Viewers:   a.Viewers.Len(),
	}
}

// SafeSnapshot takes the guard before copying.
func (a *Actor) SafeSnapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Snapshot()
}
