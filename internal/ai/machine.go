package ai

import (
	"context"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"mirage/server/internal/actor"
	"mirage/server/internal/combat"
	"mirage/server/internal/expr"
	"mirage/server/internal/geom"
	"mirage/server/internal/trigger"
	"mirage/server/internal/world"
	"mirage/server/logging"
	loggingai "mirage/server/logging/ai"
)

// ArrivalDistance is how close a wanderer must get to its destination.
const ArrivalDistance = 1.0

// ObserverEyeHeight is where actors aim when facing a player.
const ObserverEyeHeight = 1.62

const (
	reasonSearch   = "search"
	reasonInvalid  = "invalid"
	reasonOutRange = "out_of_range"
)

type Deps struct {
	Hooks     *trigger.Hooks
	Evaluator *expr.Guarded
	Combat    *combat.Resolver
	Damager   world.PlayerDamager
	Publisher logging.Publisher
}

type Machine struct {
	hooks     *trigger.Hooks
	eval      *expr.Guarded
	combat    *combat.Resolver
	damager   world.PlayerDamager
	publisher logging.Publisher
}

func NewMachine(deps Deps) *Machine {
	m := &Machine{
		hooks:     deps.Hooks,
		eval:      deps.Evaluator,
		combat:    deps.Combat,
		damager:   deps.Damager,
		publisher: deps.Publisher,
	}
	if m.publisher == nil {
		m.publisher = logging.NopPublisher{}
	}
	return m
}

// Env is the world as seen by one actor for one tick.
type Env struct {
	Tick uint64
	// Candidates are the observers in the actor's world.
	Candidates []world.Observer
	Lookup     world.ObserverLookup
}

// Decision is the outcome of one Step.
type Decision struct {
	// Move is the requested horizontal displacement for this tick.
	Move     mgl64.Vec3
	Attacked bool
	From     State
	To       State
}

// Step evaluates transitions for a and returns the movement it wants. Dead
// actors produce an empty decision.
func (m *Machine) Step(a *actor.Actor, s *Session, env Env) Decision {
	if a == nil || s == nil || !a.Alive() {
		return Decision{}
	}
	decision := Decision{From: s.State}

	target, hasTarget := m.resolveTarget(a, s, env)

	if (s.State == StateIdle || s.State == StateWander) && m.searchDue(a, s, env.Tick) {
		s.LastSearch = env.Tick
		s.searched = true
		if next, ok := m.search(a, env); ok && m.setTarget(a, s, env.Tick, next.ID, reasonSearch) {
			target, hasTarget = next, true
			m.transition(a, s, env.Tick, StateTarget)
		}
	}

	switch s.State {
	case StateIdle:
		if a.Def.WanderChance > 0 && world.RandomFloat(a.RNG) < a.Def.WanderChance {
			s.WanderTo = world.RandomOffset(a.RNG, a.Position, ArrivalDistance*2, a.Def.WanderRadius)
			m.transition(a, s, env.Tick, StateWander)
			decision.Move = m.approach(a, s.WanderTo, 0)
		}
	case StateWander:
		if geom.HorizontalDistance(a.Position, s.WanderTo) < ArrivalDistance {
			m.transition(a, s, env.Tick, StateIdle)
			break
		}
		decision.Move = m.approach(a, s.WanderTo, 0)
	case StateTarget, StateAttack:
		if !hasTarget {
			m.transition(a, s, env.Tick, StateIdle)
			break
		}
		distance := a.Position.Sub(target.Position).Len()
		if distance <= a.Def.AttackRange {
			if s.State != StateAttack {
				m.transition(a, s, env.Tick, StateAttack)
			}
			m.face(a, target.Position)
			decision.Attacked = m.attack(a, s, target, env.Tick)
		} else {
			if s.State != StateTarget {
				m.transition(a, s, env.Tick, StateTarget)
			}
			m.face(a, target.Position)
			decision.Move = m.approach(a, target.Position, a.Def.AttackRange*0.5)
		}
	}

	if decision.Move != (mgl64.Vec3{}) && a.Motion.Dominated(a.Def.Speed) {
		decision.Move = mgl64.Vec3{}
	}
	decision.To = s.State
	return decision
}

func (m *Machine) searchDue(a *actor.Actor, s *Session, tick uint64) bool {
	if a.Def.Passive {
		return false
	}
	if !s.searched {
		return true
	}
	interval := uint64(a.Def.SearchIntervalTicks)
	return tick < s.LastSearch || tick-s.LastSearch >= interval
}

// resolveTarget re-validates the held target. Invalid targets are dropped
// without consulting hooks since they may no longer exist.
func (m *Machine) resolveTarget(a *actor.Actor, s *Session, env Env) (world.Observer, bool) {
	if s.Target.Empty() {
		return world.Observer{}, false
	}
	var (
		observer world.Observer
		ok       bool
	)
	if env.Lookup != nil {
		observer, ok = env.Lookup.Lookup(s.Target.ID)
	}
	reason := ""
	switch {
	case !ok || !observer.CanBeTargeted() || observer.World != a.World:
		reason = reasonInvalid
	case a.Position.Sub(observer.Position).Len() > a.Def.FollowRange:
		reason = reasonOutRange
	}
	if reason != "" {
		m.clearTarget(a, s, env.Tick, reason)
		return world.Observer{}, false
	}
	return observer, true
}

// search picks the nearest valid candidate within follow range.
func (m *Machine) search(a *actor.Actor, env Env) (world.Observer, bool) {
	best, found := world.Observer{}, false
	bestDistance := math.Inf(1)
	for _, candidate := range env.Candidates {
		if candidate.World != a.World || !candidate.CanBeTargeted() {
			continue
		}
		distance := a.Position.Sub(candidate.Position).Len()
		if distance > a.Def.FollowRange || distance >= bestDistance {
			continue
		}
		if !m.conditionHolds(a, candidate, distance) {
			continue
		}
		best, found, bestDistance = candidate, true, distance
	}
	return best, found
}

func (m *Machine) conditionHolds(a *actor.Actor, candidate world.Observer, distance float64) bool {
	if a.Def.TargetCondition == "" || m.eval == nil {
		return true
	}
	ctx := expr.Context(a.Vars()).
		With("target", candidate.ID).
		With("target_mode", candidate.Mode.String()).
		With("distance", distance)
	return m.eval.Boolean(a.Def.TargetCondition, ctx, true)
}

func (m *Machine) setTarget(a *actor.Actor, s *Session, tick uint64, id, reason string) bool {
	previous := s.Target.ID
	if previous == id {
		return true
	}
	if !m.hooks.AllowTargetChange(trigger.TargetChangeEvent{Actor: a, PreviousID: previous, NextID: id, Reason: reason}) {
		return false
	}
	s.Target = TargetRef{ID: id}
	loggingai.TargetChanged(context.Background(), m.publisher, tick, logging.ActorRef(a.Key()), logging.ObserverRef(id), loggingai.TargetChangedPayload{
		Previous: previous,
		Reason:   reason,
	})
	return true
}

func (m *Machine) clearTarget(a *actor.Actor, s *Session, tick uint64, reason string) {
	previous := s.Target.ID
	s.Target = TargetRef{}
	loggingai.TargetChanged(context.Background(), m.publisher, tick, logging.ActorRef(a.Key()), logging.EntityRef{}, loggingai.TargetChangedPayload{
		Previous: previous,
		Reason:   reason,
	})
	if s.State == StateTarget || s.State == StateAttack {
		m.transition(a, s, tick, StateIdle)
	}
}

func (m *Machine) transition(a *actor.Actor, s *Session, tick uint64, next State) {
	if s.State == next {
		return
	}
	previous := s.State
	s.State = next
	s.StateEntered = tick
	loggingai.StateChanged(context.Background(), m.publisher, tick, logging.ActorRef(a.Key()), loggingai.StateChangedPayload{
		From: previous.String(),
		To:   next.String(),
	})
}

func (m *Machine) attack(a *actor.Actor, s *Session, target world.Observer, tick uint64) bool {
	if m.combat == nil {
		return false
	}
	cooldown := uint64(a.Def.AttackCooldownTicks)
	if combat.CooldownRemaining(s.Cooldowns, cooldownMelee, cooldown, tick) > 0 {
		return false
	}
	if !m.combat.Attack(a, target, m.damager) {
		return false
	}
	return combat.ReadyCooldown(&s.Cooldowns, cooldownMelee, cooldown, tick)
}

func (m *Machine) face(a *actor.Actor, point mgl64.Vec3) {
	yaw, pitch := geom.Look(a.Eye(), point.Add(mgl64.Vec3{0, ObserverEyeHeight, 0}))
	a.Yaw, a.Pitch = yaw, pitch
}

// approach returns a step of at most Speed toward dest, stopping stop short
// of it. The actor turns to face its heading.
func (m *Machine) approach(a *actor.Actor, dest mgl64.Vec3, stop float64) mgl64.Vec3 {
	delta := geom.Horizontal(dest.Sub(a.Position))
	distance := delta.Len()
	remaining := distance - stop
	if remaining <= geom.Epsilon || distance == 0 {
		return mgl64.Vec3{}
	}
	step := math.Min(a.Def.Speed, remaining)
	move := delta.Mul(step / distance)
	a.Yaw, _ = geom.Look(a.Position, a.Position.Add(move))
	a.Pitch = 0
	return move
}
