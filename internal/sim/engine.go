// Package sim owns the actor table and advances every actor once per tick.
// Actors are partitioned by region; each region is stepped on one executor
// shard so an actor is only ever mutated by one goroutine at a time.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/oklog/ulid/v2"
	"github.com/sasha-s/go-deadlock"

	"mirage/server/internal/actor"
	"mirage/server/internal/ai"
	"mirage/server/internal/combat"
	"mirage/server/internal/expr"
	"mirage/server/internal/geom"
	"mirage/server/internal/net/proto"
	"mirage/server/internal/physics"
	"mirage/server/internal/tasks"
	"mirage/server/internal/telemetry"
	"mirage/server/internal/trigger"
	"mirage/server/internal/world"
	"mirage/server/logging"
	"mirage/server/logging/lifecycle"
	"mirage/server/logging/simulation"
)

var (
	ErrUnknownActor     = errors.New("sim: unknown actor")
	ErrDuplicateActor   = errors.New("sim: actor already registered")
	ErrSpawnVetoed      = errors.New("sim: spawn vetoed")
	ErrBackpressure     = errors.New("sim: shard queue full")
	ErrStopped          = errors.New("sim: engine is not running")
	ErrAborted          = errors.New("sim: task aborted")
	ErrMissingGeometry  = errors.New("sim: geometry is nil")
	ErrMissingObservers = errors.New("sim: observer directory is nil")
)

const (
	ReasonDied    = "died"
	ReasonRemoved = "removed"
	ReasonClosed  = "closed"
)

const (
	metricTicks        = "sim_ticks_total"
	metricActors       = "sim_actors"
	metricStepFailures = "sim_step_failures_total"
	metricBackpressure = "sim_region_backpressure_total"
	metricDespawned    = "sim_despawned_total"
	metricMovePackets  = "sim_move_packets_total"
	metricTeleports    = "sim_teleport_packets_total"
)

// Engine is one simulation instance. Every counter and table it uses is
// scoped to the instance.
type Engine struct {
	cfg       Config
	deps      Deps
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher
	transport proto.Transport
	hooks     *trigger.Hooks

	registry   *Registry
	executor   *Executor
	integrator *physics.Integrator
	resolver   *combat.Resolver
	machine    *ai.Machine
	tasks      *tasks.Scheduler

	tick   atomic.Uint64
	tickMu deadlock.Mutex
	closed atomic.Bool
}

// New builds an engine. Start must be called before Tick.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Geometry == nil {
		return nil, ErrMissingGeometry
	}
	if deps.Observers == nil {
		return nil, ErrMissingObservers
	}
	cfg = cfg.Normalized()
	if deps.Logger == nil {
		deps.Logger = telemetry.WrapLogger(log.Default())
	}
	if deps.Metrics == nil {
		deps.Metrics = logging.NewMetrics()
	}
	if deps.Clock == nil {
		deps.Clock = logging.SystemClock{}
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher{}
	}
	if deps.Transport == nil {
		deps.Transport = proto.Nop{}
	}
	if deps.Hooks == nil {
		deps.Hooks = &trigger.Hooks{}
	}
	if deps.Evaluator == nil {
		evaluator, err := expr.New(cfg.Expressions)
		if err != nil {
			return nil, err
		}
		deps.Evaluator = evaluator
	}

	metrics := telemetry.WrapMetrics(deps.Metrics)
	e := &Engine{
		cfg:        cfg,
		deps:       deps,
		logger:     deps.Logger,
		metrics:    metrics,
		publisher:  deps.Publisher,
		transport:  deps.Transport,
		hooks:      deps.Hooks,
		registry:   NewRegistry(),
		executor:   NewExecutor(cfg.Shards, cfg.ShardQueue, deps.Logger, metrics),
		integrator: physics.NewIntegrator(cfg.Physics),
		tasks:      tasks.NewScheduler(deps.Logger, metrics),
	}
	eval := expr.NewGuarded(deps.Evaluator, deps.Logger, metrics)
	e.resolver = combat.NewResolver(cfg.Combat, combat.Deps{
		Integrator: e.integrator,
		Evaluator:  eval,
		Hooks:      deps.Hooks,
		Drops:      deps.Drops,
		DropSink:   deps.DropSink,
		Transport:  deps.Transport,
		Publisher:  deps.Publisher,
		Tick:       e.CurrentTick,
	})
	e.machine = ai.NewMachine(ai.Deps{
		Hooks:     deps.Hooks,
		Evaluator: eval,
		Combat:    e.resolver,
		Damager:   deps.Damager,
		Publisher: deps.Publisher,
	})
	e.executor.onPanic = func(region string, recovered any) {
		e.metrics.Add(metricStepFailures, 1)
		simulation.StepFailed(context.Background(), e.publisher, e.CurrentTick(), logging.EntityRef{ID: region, Kind: logging.EntityKindWorld}, simulation.StepFailedPayload{
			Phase: "task",
			Error: fmt.Sprint(recovered),
		})
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Start launches the shard workers.
func (e *Engine) Start() {
	if e == nil || e.closed.Load() {
		return
	}
	e.executor.Start()
}

// Close stops the shards and tears down every actor. It is safe to call
// more than once.
func (e *Engine) Close() error {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	e.executor.Stop()
	for _, en := range e.registry.all() {
		e.finalize(en, ReasonClosed)
	}
	return nil
}

// CurrentTick returns the number of completed or in-flight ticks.
func (e *Engine) CurrentTick() uint64 {
	return e.tick.Load()
}

// Spawn creates an actor from def and registers it.
func (e *Engine) Spawn(def actor.Definition, worldName string, pos mgl64.Vec3) (*actor.Actor, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}
	if !geom.Finite(pos) {
		return nil, fmt.Errorf("spawn %s: position is not finite", def.Name)
	}
	a := actor.New(ulid.Make(), 0, def, worldName, pos)
	if err := e.Register(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Register assigns a network id to a, stores it and shows it to every
// observer in view range before returning.
func (e *Engine) Register(a *actor.Actor) error {
	if a == nil {
		return fmt.Errorf("register: %w", ErrUnknownActor)
	}
	if e.closed.Load() {
		return ErrStopped
	}
	a.Lock()
	defer a.Unlock()
	a.NetworkID = e.registry.NextNetworkID()
	a.Reseed(e.cfg.Seed)
	if !e.hooks.AllowSpawn(a) {
		return fmt.Errorf("register %s: %w", a.Def.Name, ErrSpawnVetoed)
	}
	en := &entry{
		actor:  a,
		ai:     ai.NewSession(),
		region: world.RegionOf(a.World, a.Position, e.cfg.RegionChunks),
	}
	if !e.registry.add(en) {
		return fmt.Errorf("register %s: %w", a.Key(), ErrDuplicateActor)
	}
	tick := e.CurrentTick()
	a.LastSent, a.LastSentYaw = a.Position, a.Yaw
	e.syncViewers(a, tick, e.deps.Observers.Snapshot()[a.World])

	lifecycle.ActorSpawned(context.Background(), e.publisher, tick, logging.ActorRef(a.Key()), lifecycle.ActorSpawnedPayload{
		Definition: a.Def.Name,
		NetworkID:  a.NetworkID,
		World:      a.World,
		X:          a.Position.X(),
		Y:          a.Position.Y(),
		Z:          a.Position.Z(),
		Viewers:    a.Viewers.Len(),
	})
	e.metrics.Store(metricActors, uint64(e.registry.Len()))
	return nil
}

// Unregister tears the actor down immediately, cancelling its chains and
// despawning it for every viewer. It must not be called from a chain step.
func (e *Engine) Unregister(id string) error {
	en, ok := e.registry.get(id)
	if !ok {
		return fmt.Errorf("unregister %s: %w", id, ErrUnknownActor)
	}
	if !e.finalize(en, ReasonRemoved) {
		return fmt.Errorf("unregister %s: %w", id, ErrUnknownActor)
	}
	return nil
}

// finalize removes en exactly once.
func (e *Engine) finalize(en *entry, reason string) bool {
	if !en.removed.CompareAndSwap(false, true) {
		return false
	}
	a := en.actor
	key := a.Key()
	e.registry.remove(key)
	e.tasks.CancelOwner(key)

	a.Lock()
	tick := e.CurrentTick()
	viewers := a.Viewers.Clear()
	for _, viewer := range viewers {
		e.transport.Despawn(viewer, a.NetworkID)
		lifecycle.ViewerRemoved(context.Background(), e.publisher, tick, logging.ActorRef(key), logging.ObserverRef(viewer), lifecycle.ViewerPayload{NetworkID: a.NetworkID})
	}
	a.Unlock()

	lifecycle.ActorDespawned(context.Background(), e.publisher, tick, logging.ActorRef(key), lifecycle.ActorDespawnedPayload{
		Reason:  reason,
		Viewers: len(viewers),
	})
	e.metrics.Add(metricDespawned, 1)
	e.metrics.Store(metricActors, uint64(e.registry.Len()))
	return true
}

// Tick advances every actor once, waits for all shards and then reaps dead
// actors whose grace window has passed.
func (e *Engine) Tick() (uint64, error) {
	if !e.executor.Running() {
		return e.CurrentTick(), ErrStopped
	}
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	tick := e.tick.Add(1)
	observers := e.deps.Observers.Snapshot()
	groups := e.registry.partition()

	var wg sync.WaitGroup
	for region, members := range groups {
		members := members
		candidates := observers[region.World]
		wg.Add(1)
		err := e.executor.Submit(region, func() {
			defer wg.Done()
			for _, en := range members {
				e.stepSafely(en, tick, candidates)
			}
		})
		if err != nil {
			wg.Done()
			e.metrics.Add(metricBackpressure, 1)
			simulation.RegionBackpressure(context.Background(), e.publisher, tick, simulation.RegionBackpressurePayload{
				Shard:  e.executor.ShardFor(region),
				Actors: len(members),
			})
			e.logger.Printf("[sim] region %s skipped tick %d: %v", region, tick, err)
		}
	}
	wg.Wait()

	e.reap(tick)
	e.metrics.Add(metricTicks, 1)
	e.metrics.Store(metricActors, uint64(e.registry.Len()))
	return tick, nil
}

func (e *Engine) stepSafely(en *entry, tick uint64, candidates []world.Observer) {
	if en.removed.Load() {
		return
	}
	a := en.actor
	defer func() {
		if recovered := recover(); recovered != nil {
			e.metrics.Add(metricStepFailures, 1)
			e.logger.Printf("[sim] actor %s step panicked at tick %d: %v", a.Key(), tick, recovered)
			simulation.StepFailed(context.Background(), e.publisher, tick, logging.ActorRef(a.Key()), simulation.StepFailedPayload{
				Phase: "step",
				Error: fmt.Sprint(recovered),
			})
		}
	}()
	a.Lock()
	defer a.Unlock()
	if en.removed.Load() {
		return
	}
	e.step(en, tick, candidates)
}

// step runs one actor: clock, chains, behaviour, physics, packets. The
// caller holds the actor guard.
func (e *Engine) step(en *entry, tick uint64, candidates []world.Observer) {
	a := en.actor
	key := a.Key()
	if !a.Alive() {
		e.tasks.RunDue(key, tick, false)
		return
	}
	a.Ticks++
	e.tasks.RunDue(key, tick, true)
	if !a.Alive() {
		return
	}

	decision := e.machine.Step(a, en.ai, ai.Env{
		Tick:       tick,
		Candidates: candidates,
		Lookup:     e.deps.Observers,
	})
	result := e.integrator.Step(&a.Motion, a.Body(), decision.Move, e.deps.Geometry)
	a.Position = result.Position

	e.syncMovement(a)
	e.syncViewers(a, tick, candidates)
	e.registry.relocate(en, world.RegionOf(a.World, a.Position, e.cfg.RegionChunks))
}

// syncMovement tells viewers about displacement and rotation since the last
// broadcast. Small changes are accumulated until they cross a threshold.
func (e *Engine) syncMovement(a *actor.Actor) {
	delta := a.Position.Sub(a.LastSent)
	distance := delta.Len()
	turn := math.Abs(math.Mod(a.Yaw-a.LastSentYaw+540, 360) - 180)
	viewers := a.Viewers.List()
	switch {
	case distance > e.cfg.TeleportDistance:
		for _, viewer := range viewers {
			e.transport.Teleport(viewer, a.NetworkID, a.Position, a.Yaw, a.Pitch)
		}
		e.metrics.Add(metricTeleports, uint64(len(viewers)))
	case distance >= e.cfg.MoveThreshold || turn >= e.cfg.RotationThreshold:
		for _, viewer := range viewers {
			e.transport.Move(viewer, a.NetworkID, delta, a.Yaw, a.Pitch)
		}
		e.metrics.Add(metricMovePackets, uint64(len(viewers)))
	default:
		return
	}
	a.LastSent, a.LastSentYaw = a.Position, a.Yaw
}

// syncViewers reconciles the viewer set against the observers in range.
func (e *Engine) syncViewers(a *actor.Actor, tick uint64, candidates []world.Observer) {
	inRange := make(map[string]struct{}, len(candidates))
	for _, observer := range candidates {
		if observer.World != a.World || observer.Position.Sub(a.Position).Len() > e.cfg.ViewDistance {
			continue
		}
		inRange[observer.ID] = struct{}{}
		if a.Viewers.Current(observer.ID, observer.Session) {
			continue
		}
		a.Viewers.Bind(observer.ID, observer.Session)
		e.transport.Spawn(observer.ID, a.Snapshot())
		lifecycle.ViewerAdded(context.Background(), e.publisher, tick, logging.ActorRef(a.Key()), logging.ObserverRef(observer.ID), lifecycle.ViewerPayload{NetworkID: a.NetworkID})
	}
	for _, viewer := range a.Viewers.List() {
		if _, ok := inRange[viewer]; ok {
			continue
		}
		a.Viewers.Remove(viewer)
		e.transport.Despawn(viewer, a.NetworkID)
		lifecycle.ViewerRemoved(context.Background(), e.publisher, tick, logging.ActorRef(a.Key()), logging.ObserverRef(viewer), lifecycle.ViewerPayload{NetworkID: a.NetworkID})
	}
}

func (e *Engine) reap(tick uint64) {
	for _, en := range e.registry.all() {
		a := en.actor
		a.Lock()
		due := !a.Alive() && tick >= a.DeathTick()+e.cfg.DeathGraceTicks
		a.Unlock()
		if due {
			e.finalize(en, ReasonDied)
		}
	}
}
