// Package combat resolves damage, healing and death for actors and melee
// attacks issued by actors. Every Resolver method must run on the shard that
// owns the actor being mutated.
package combat

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"mirage/server/internal/actor"
	"mirage/server/internal/expr"
	"mirage/server/internal/net/proto"
	"mirage/server/internal/physics"
	"mirage/server/internal/trigger"
	"mirage/server/internal/world"
	"mirage/server/logging"
)

// Config tunes damage response.
type Config struct {
	// KnockbackThreshold is the damage at which knockback reaches its base
	// strength.
	KnockbackThreshold float64 `yaml:"knockback_threshold" json:"knockback_threshold"`
	MaxKnockbackScale  float64 `yaml:"max_knockback_scale" json:"max_knockback_scale"`
}

func DefaultConfig() Config {
	return Config{KnockbackThreshold: 5, MaxKnockbackScale: 2.5}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if !(c.KnockbackThreshold > 0) {
		c.KnockbackThreshold = def.KnockbackThreshold
	}
	if !(c.MaxKnockbackScale > 0) {
		c.MaxKnockbackScale = def.MaxKnockbackScale
	}
	return c
}

// Deps are the collaborators of a Resolver. Nil members are replaced with
// no-op implementations.
type Deps struct {
	Integrator *physics.Integrator
	Evaluator  *expr.Guarded
	Hooks      *trigger.Hooks
	Drops      DropTable
	DropSink   DropSink
	Transport  proto.Transport
	Publisher  logging.Publisher
	Tick       func() uint64
}

type Resolver struct {
	cfg        Config
	integrator *physics.Integrator
	eval       *expr.Guarded
	hooks      *trigger.Hooks
	drops      DropTable
	dropSink   DropSink
	transport  proto.Transport
	tick       func() uint64
	telemetry  recorder
}

func NewResolver(cfg Config, deps Deps) *Resolver {
	r := &Resolver{
		cfg:        cfg.normalized(),
		integrator: deps.Integrator,
		eval:       deps.Evaluator,
		hooks:      deps.Hooks,
		drops:      deps.Drops,
		dropSink:   deps.DropSink,
		transport:  deps.Transport,
		tick:       deps.Tick,
	}
	if r.integrator == nil {
		r.integrator = physics.NewIntegrator(physics.DefaultConfig())
	}
	if r.drops == nil {
		r.drops = DefinitionDrops{}
	}
	if r.transport == nil {
		r.transport = proto.Nop{}
	}
	if r.tick == nil {
		r.tick = func() uint64 { return 0 }
	}
	r.telemetry = newRecorder(deps.Publisher, r.tick)
	return r
}

// Options adjust a single damage application.
type Options struct {
	NoKnockback bool
	IgnoreArmor bool
}

// Outcome reports what ApplyDamage did.
type Outcome struct {
	Applied   bool
	Vetoed    bool
	Killed    bool
	Raw       float64
	Amount    float64
	Knockback mgl64.Vec3
	Drops     []ItemStack
}

const (
	vetoStageDamage = "damage"
	vetoStageDeath  = "death"
)

// ApplyDamage mitigates amount, consults the damage and death hooks and then
// commits the hit: ledger attribution, health, viewer packets, knockback for
// non-lethal hits and the death transition for lethal ones. A veto leaves the
// actor untouched. Dead or invulnerable actors ignore damage.
func (r *Resolver) ApplyDamage(a *actor.Actor, amount float64, src actor.Source, opts Options) Outcome {
	if a == nil || !a.Alive() || a.Def.Invulnerable || !(amount > 0) || math.IsInf(amount, 0) {
		return Outcome{}
	}
	outcome := Outcome{Raw: amount, Amount: amount}
	if !opts.IgnoreArmor {
		outcome.Amount = r.mitigate(a, amount)
	}
	lethal := a.Health()-outcome.Amount <= 0

	if !r.hooks.AllowDamage(trigger.DamageEvent{Actor: a, Raw: amount, Amount: outcome.Amount, Attacker: src, Lethal: lethal}) {
		r.telemetry.vetoed(a, src, amount, vetoStageDamage)
		outcome.Vetoed = true
		return outcome
	}
	if lethal && !r.hooks.AllowDeath(trigger.DeathEvent{Actor: a, Killer: src}) {
		r.telemetry.vetoed(a, src, amount, vetoStageDeath)
		outcome.Vetoed = true
		return outcome
	}

	outcome.Applied = true
	if src.Attributable() {
		a.Ledger.Record(src.ID, outcome.Amount)
	}
	a.SetHealth(a.Health() - outcome.Amount)

	viewers := a.Viewers.List()
	proto.BroadcastAnimation(r.transport, viewers, a.NetworkID, proto.AnimationHurt)

	if lethal {
		r.telemetry.damage(a, src, amount, outcome.Amount, false)
		outcome.Drops = r.die(a, src)
		outcome.Killed = true
		return outcome
	}

	proto.BroadcastMetadata(r.transport, viewers, a.NetworkID, proto.Metadata{proto.FieldHealth: a.Health()})
	if !opts.NoKnockback && !a.Def.NoKnockback && src.HasPosition {
		strength := KnockbackScale(outcome.Amount, r.cfg.KnockbackThreshold, r.cfg.MaxKnockbackScale)
		outcome.Knockback = r.integrator.ApplyKnockback(&a.Motion, src.Position, a.Position, strength, a.Def.KnockbackResistance, a.RNG)
	}
	r.telemetry.damage(a, src, amount, outcome.Amount, outcome.Knockback != (mgl64.Vec3{}))
	return outcome
}

// Kill forces the death transition, still subject to the death hook.
func (r *Resolver) Kill(a *actor.Actor, src actor.Source) Outcome {
	if a == nil || !a.Alive() {
		return Outcome{}
	}
	if !r.hooks.AllowDeath(trigger.DeathEvent{Actor: a, Killer: src}) {
		r.telemetry.vetoed(a, src, a.Health(), vetoStageDeath)
		return Outcome{Vetoed: true}
	}
	drops := r.die(a, src)
	return Outcome{Applied: true, Killed: true, Drops: drops}
}

// Heal restores health and tells viewers. It returns the amount applied.
func (r *Resolver) Heal(a *actor.Actor, amount float64) float64 {
	if a == nil {
		return 0
	}
	applied := a.Heal(amount)
	if applied > 0 {
		proto.BroadcastMetadata(r.transport, a.Viewers.List(), a.NetworkID, proto.Metadata{proto.FieldHealth: a.Health()})
	}
	return applied
}

// die runs the death transition once. Repeated calls return nil.
func (r *Resolver) die(a *actor.Actor, killer actor.Source) []ItemStack {
	if !a.MarkDead(r.tick()) {
		return nil
	}
	credited := killer.Attributable() && r.hooks.AllowKillCredit(trigger.DeathEvent{Actor: a, Killer: killer})

	drops := r.drops.Roll(a, a.RNG)
	if len(drops) > 0 && r.dropSink != nil {
		creditID := ""
		if credited {
			creditID = killer.ID
		}
		r.dropSink.Drop(a.World, a.Position, drops, creditID)
	}

	viewers := a.Viewers.List()
	proto.BroadcastMetadata(r.transport, viewers, a.NetworkID, proto.Metadata{proto.FieldHealth: 0.0})
	proto.BroadcastAnimation(r.transport, viewers, a.NetworkID, proto.AnimationDeath)
	r.telemetry.defeat(a, killer, credited, len(drops))
	return drops
}

func (r *Resolver) mitigate(a *actor.Actor, amount float64) float64 {
	if a.Def.DamageFormula != "" && r.eval != nil {
		ctx := expr.Context(a.Vars()).With("damage", amount)
		if value, ok := r.eval.TryNumber(a.Def.DamageFormula, ctx); ok {
			return clamp(value, 0, amount)
		}
	}
	return Mitigate(amount, a.Armor, a.Toughness)
}

// AttackDamage is the melee damage a deals to target, from the definition's
// attack formula when one is set.
func (r *Resolver) AttackDamage(a *actor.Actor, target world.Observer) float64 {
	base := a.Def.AttackDamage
	if a.Def.AttackFormula == "" || r.eval == nil {
		return base
	}
	ctx := expr.Context(a.Vars()).
		With("damage", base).
		With("target", target.ID).
		With("distance", a.Position.Sub(target.Position).Len())
	return math.Max(0, r.eval.Number(a.Def.AttackFormula, ctx, base))
}

// Attack swings at target through damager, subject to the attack hook. It
// reports whether the swing happened.
func (r *Resolver) Attack(a *actor.Actor, target world.Observer, damager world.PlayerDamager) bool {
	if a == nil || !a.Alive() || !target.CanBeTargeted() {
		return false
	}
	amount := r.AttackDamage(a, target)
	distance := a.Position.Sub(target.Position).Len()
	if !r.hooks.AllowAttack(trigger.AttackEvent{Actor: a, TargetID: target.ID, Amount: amount, Distance: distance}) {
		return false
	}
	proto.BroadcastAnimation(r.transport, a.Viewers.List(), a.NetworkID, proto.AnimationSwing)
	if damager != nil && amount > 0 {
		damager.DamagePlayer(target.ID, amount, a.Key())
	}
	r.telemetry.attack(a, target.ID, amount, distance)
	return true
}
