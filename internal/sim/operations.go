package sim

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"

	"mirage/server/internal/actor"
	"mirage/server/internal/combat"
	"mirage/server/internal/tasks"
	"mirage/server/internal/world"
)

// Damage applies damage on the actor's shard and waits for the outcome. It
// must not be called from a shard task or chain step; use DamageAsync there.
func (e *Engine) Damage(id string, amount float64, src actor.Source, opts combat.Options) (combat.Outcome, error) {
	var outcome combat.Outcome
	err := e.onActor(id, true, func(a *actor.Actor) {
		outcome = e.resolver.ApplyDamage(a, amount, src, opts)
	})
	return outcome, err
}

// DamageAsync queues damage on the actor's shard without waiting.
func (e *Engine) DamageAsync(id string, amount float64, src actor.Source, opts combat.Options) error {
	return e.onActor(id, false, func(a *actor.Actor) {
		e.resolver.ApplyDamage(a, amount, src, opts)
	})
}

// Kill forces the death transition, subject to the death hook.
func (e *Engine) Kill(id string, src actor.Source) (combat.Outcome, error) {
	var outcome combat.Outcome
	err := e.onActor(id, true, func(a *actor.Actor) {
		outcome = e.resolver.Kill(a, src)
	})
	return outcome, err
}

// Heal restores health and returns the amount actually applied.
func (e *Engine) Heal(id string, amount float64) (float64, error) {
	var healed float64
	err := e.onActor(id, true, func(a *actor.Actor) {
		healed = e.resolver.Heal(a, amount)
	})
	return healed, err
}

// DamageArea damages every live actor in worldName within radius of center.
// The work is dispatched to each region the sphere overlaps and the call
// waits for all of them. When the sphere spans more regions than are
// occupied only the occupied ones are visited. It returns the number of
// actors hit.
func (e *Engine) DamageArea(worldName string, center mgl64.Vec3, radius, amount float64, src actor.Source, opts combat.Options) (int, error) {
	if !(radius > 0) || math.IsInf(radius, 0) {
		return 0, fmt.Errorf("damage area: invalid radius %v", radius)
	}
	lo := world.RegionOf(worldName, center.Sub(mgl64.Vec3{radius, 0, radius}), e.cfg.RegionChunks)
	hi := world.RegionOf(worldName, center.Add(mgl64.Vec3{radius, 0, radius}), e.cfg.RegionChunks)

	var (
		wg       sync.WaitGroup
		hits     atomic.Int64
		firstErr error
	)
	for _, region := range e.registry.regionsWithin(worldName, lo, hi) {
		wg.Add(1)
		err := e.executor.Submit(region, func() {
			defer wg.Done()
			for _, en := range e.registry.inRegion(region) {
				a := en.actor
				a.Lock()
				if !en.removed.Load() && a.Alive() && a.World == worldName && a.Position.Sub(center).Len() <= radius {
					if e.resolver.ApplyDamage(a, amount, src, opts).Applied {
						hits.Add(1)
					}
				}
				a.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	wg.Wait()
	return int(hits.Load()), firstErr
}

// RunChain schedules chain for the actor. Its steps run on the actor's shard
// with the actor guard held, starting on the next tick at the earliest.
func (e *Engine) RunChain(id string, chain tasks.Chain) error {
	en, ok := e.registry.get(id)
	if !ok || en.removed.Load() {
		return fmt.Errorf("run chain %s: %w", id, ErrUnknownActor)
	}
	return e.tasks.Schedule(id, chain, e.CurrentTick()+1)
}

// Lookup returns a snapshot of the actor.
func (e *Engine) Lookup(id string) (actor.Snapshot, bool) {
	en, ok := e.registry.get(id)
	if !ok {
		return actor.Snapshot{}, false
	}
	return en.actor.SafeSnapshot(), true
}

// LookupNetwork resolves an actor by its network id.
func (e *Engine) LookupNetwork(networkID int64) (actor.Snapshot, bool) {
	en, ok := e.registry.byNetworkID(networkID)
	if !ok {
		return actor.Snapshot{}, false
	}
	return en.actor.SafeSnapshot(), true
}

// Actors returns a snapshot of every registered actor ordered by network id.
func (e *Engine) Actors() []actor.Snapshot {
	entries := e.registry.all()
	out := make([]actor.Snapshot, 0, len(entries))
	for _, en := range entries {
		out = append(out, en.actor.SafeSnapshot())
	}
	return out
}

// Stats is a point-in-time view of the engine for diagnostics.
type Stats struct {
	Tick        uint64            `json:"tick"`
	Running     bool              `json:"running"`
	Actors      int               `json:"actors"`
	Regions     int               `json:"regions"`
	Shards      []int             `json:"shards"`
	ChainOwners int               `json:"chainOwners"`
	Metrics     map[string]uint64 `json:"metrics,omitempty"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		Tick:        e.CurrentTick(),
		Running:     e.executor.Running(),
		Actors:      e.registry.Len(),
		Regions:     e.registry.Regions(),
		Shards:      e.executor.Occupancy(),
		ChainOwners: e.tasks.Owners(),
		Metrics:     e.deps.Metrics.Snapshot(),
	}
}

// onActor runs fn on the actor's shard with its guard held. When wait is
// set the call blocks until fn has run.
func (e *Engine) onActor(id string, wait bool, fn func(*actor.Actor)) error {
	en, ok := e.registry.get(id)
	if !ok || en.removed.Load() {
		return fmt.Errorf("%s: %w", id, ErrUnknownActor)
	}
	done := make(chan error, 1)
	err := e.executor.Submit(e.registry.regionOf(en), func() {
		result := ErrAborted
		defer func() { done <- result }()
		en.actor.Lock()
		defer en.actor.Unlock()
		// finalize may have run between dispatch and taking the guard.
		if en.removed.Load() {
			result = ErrUnknownActor
			return
		}
		fn(en.actor)
		result = nil
	})
	if err != nil {
		return err
	}
	if !wait {
		return nil
	}
	if err := <-done; err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	return nil
}
