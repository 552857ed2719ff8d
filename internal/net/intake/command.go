// Package intake validates messages from connected viewers and turns them
// into observer updates or queued engine work.
package intake

import (
	"errors"
	"math"

	"mirage/server/internal/actor"
	"mirage/server/internal/combat"
	"mirage/server/internal/geom"
	"mirage/server/internal/net/proto"
	"mirage/server/internal/world"
)

const (
	RejectInvalid         = "invalid"
	RejectUnknownObserver = "unknown_observer"
	RejectUnknownTarget   = "unknown_target"
	RejectOutOfReach      = "out_of_reach"
	RejectNotTargetable   = "not_targetable"
	RejectQueueFull       = "queue_full"
)

const (
	DefaultReach     = 6.0
	DefaultMaxDamage = 40.0
)

// Engine is the subset of the simulation used to resolve attacks.
type Engine interface {
	LookupNetwork(networkID int64) (actor.Snapshot, bool)
	DamageAsync(id string, amount float64, src actor.Source, opts combat.Options) error
}

type Context struct {
	Engine    Engine
	Observers *world.Directory
	// Reach bounds the distance from which a viewer may attack.
	Reach     float64
	MaxDamage float64
	// Backpressure reports whether err means the engine queue was full.
	Backpressure func(error) bool
}

// Apply stages msg from observerID. It returns false and a reason when the
// message was rejected.
func Apply(ctx Context, observerID string, msg proto.ClientMessage) (bool, string) {
	if observerID == "" || ctx.Observers == nil {
		return false, RejectUnknownObserver
	}
	switch msg.Type {
	case proto.TypePosition:
		return applyPosition(ctx, observerID, msg)
	case proto.TypeAttack:
		return applyAttack(ctx, observerID, msg)
	case proto.TypeHeartbeat:
		if _, ok := ctx.Observers.Lookup(observerID); !ok {
			return false, RejectUnknownObserver
		}
		return true, ""
	default:
		return false, RejectInvalid
	}
}

func applyPosition(ctx Context, observerID string, msg proto.ClientMessage) (bool, string) {
	if !geom.Finite(msg.Position) {
		return false, RejectInvalid
	}
	updated := ctx.Observers.Update(observerID, func(o *world.Observer) {
		if msg.World != "" {
			o.World = msg.World
		}
		o.Position = msg.Position
		if msg.Alive != nil {
			o.Alive = *msg.Alive
		}
		if msg.Mode != "" {
			o.Mode = world.ParseGameMode(msg.Mode)
		}
	})
	if !updated {
		return false, RejectUnknownObserver
	}
	return true, ""
}

func applyAttack(ctx Context, observerID string, msg proto.ClientMessage) (bool, string) {
	if ctx.Engine == nil {
		return false, RejectQueueFull
	}
	if math.IsNaN(msg.Damage) || math.IsInf(msg.Damage, 0) || msg.Damage <= 0 {
		return false, RejectInvalid
	}
	observer, ok := ctx.Observers.Lookup(observerID)
	if !ok {
		return false, RejectUnknownObserver
	}
	if !observer.Alive || observer.Mode == world.Spectator {
		return false, RejectNotTargetable
	}
	target, ok := ctx.Engine.LookupNetwork(msg.Target)
	if !ok || !target.Alive {
		return false, RejectUnknownTarget
	}
	reach := ctx.Reach
	if !(reach > 0) {
		reach = DefaultReach
	}
	if target.World != observer.World || target.Position.Sub(observer.Position).Len() > reach {
		return false, RejectOutOfReach
	}
	maxDamage := ctx.MaxDamage
	if !(maxDamage > 0) {
		maxDamage = DefaultMaxDamage
	}
	amount := math.Min(msg.Damage, maxDamage)
	if err := ctx.Engine.DamageAsync(target.ID, amount, actor.PlayerSource(observerID, observer.Position), combat.Options{}); err != nil {
		if ctx.Backpressure != nil && ctx.Backpressure(err) {
			return false, RejectQueueFull
		}
		return false, RejectUnknownTarget
	}
	return true, ""
}

// IsBackpressure matches errors wrapping target.
func IsBackpressure(target error) func(error) bool {
	return func(err error) bool {
		return errors.Is(err, target)
	}
}
