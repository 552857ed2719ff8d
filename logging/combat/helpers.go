package combat

import (
	"context"

	"mirage/server/logging"
)

const (
	// EventDamage is emitted when an actor loses health to an attack.
	EventDamage logging.EventType = "combat.damage"
	// EventDamageVetoed is emitted when a damage hook cancels an attack.
	EventDamageVetoed logging.EventType = "combat.damage_vetoed"
	// EventDefeat is emitted once when an actor dies.
	EventDefeat logging.EventType = "combat.defeat"
	// EventAttack is emitted when an actor lands a melee attack on an observer.
	EventAttack logging.EventType = "combat.attack"
)

// DamagePayload captures the mitigation applied to a single hit.
type DamagePayload struct {
	Raw          float64 `json:"raw"`
	Amount       float64 `json:"amount"`
	TargetHealth float64 `json:"targetHealth"`
	Knockback    bool    `json:"knockback,omitempty"`
}

// DamageVetoedPayload records which stage cancelled a hit.
type DamageVetoedPayload struct {
	Raw   float64 `json:"raw"`
	Stage string  `json:"stage"`
}

// DefeatPayload describes the fatal blow.
type DefeatPayload struct {
	Drops    int     `json:"drops"`
	Credited bool    `json:"credited"`
	Total    float64 `json:"totalDamage"`
}

// AttackPayload describes a melee attack issued by an actor.
type AttackPayload struct {
	Amount   float64 `json:"amount"`
	Distance float64 `json:"distance"`
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	event.Category = logging.CategoryCombat
	pub.Publish(ctx, event)
}

// Damage publishes a combat damage event. actor is the damaged entity, the
// attacker (if known) is the sole target reference.
func Damage(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, attacker logging.EntityRef, payload DamagePayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventDamage,
		Tick:     tick,
		Actor:    actor,
		Targets:  refs(attacker),
		Severity: logging.SeverityInfo,
		Payload:  payload,
	})
}

// DamageVetoed publishes a debug event when a hook cancels damage.
func DamageVetoed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, attacker logging.EntityRef, payload DamageVetoedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventDamageVetoed,
		Tick:     tick,
		Actor:    actor,
		Targets:  refs(attacker),
		Severity: logging.SeverityDebug,
		Payload:  payload,
	})
}

// Defeat publishes the death of actor, crediting killer when present.
func Defeat(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, killer logging.EntityRef, payload DefeatPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventDefeat,
		Tick:     tick,
		Actor:    actor,
		Targets:  refs(killer),
		Severity: logging.SeverityInfo,
		Payload:  payload,
	})
}

// Attack publishes a melee attack from actor against target.
func Attack(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, target logging.EntityRef, payload AttackPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventAttack,
		Tick:     tick,
		Actor:    actor,
		Targets:  refs(target),
		Severity: logging.SeverityInfo,
		Payload:  payload,
	})
}

func refs(ref logging.EntityRef) []logging.EntityRef {
	if ref.ID == "" {
		return nil
	}
	return []logging.EntityRef{ref}
}
