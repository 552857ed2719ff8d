package sim

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirage/server/internal/actor"
	"mirage/server/internal/ai"
	"mirage/server/internal/combat"
	"mirage/server/internal/expr"
	"mirage/server/internal/net/proto"
	"mirage/server/internal/tasks"
	"mirage/server/internal/telemetry"
	"mirage/server/internal/trigger"
	"mirage/server/internal/world"
	loggingcombat "mirage/server/logging/combat"
	"mirage/server/logging/lifecycle"
	"mirage/server/logging/simulation"
	"mirage/server/logging/sinks"
)

const testWorld = "overworld"

type fixture struct {
	engine    *Engine
	grid      *world.Grid
	observers *world.Directory
	transport *proto.Recorder
	events    *sinks.MemorySink
	hooks     *trigger.Hooks
	drops     atomic.Int64
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		grid:      world.NewGrid(),
		observers: world.NewDirectory(),
		transport: proto.NewRecorder(),
		events:    sinks.NewMemorySink(),
		hooks:     &trigger.Hooks{},
	}
	f.grid.Fill(testWorld, cube.Pos{-64, -1, -64}, cube.Pos{64, -1, 64}, world.Full)
	engine, err := New(cfg, Deps{
		Logger:    telemetry.LoggerFunc(func(string, ...any) {}),
		Publisher: f.events,
		Geometry:  f.grid,
		Observers: f.observers,
		Transport: f.transport,
		Hooks:     f.hooks,
		DropSink: combat.DropSinkFunc(func(string, mgl64.Vec3, []combat.ItemStack, string) {
			f.drops.Add(1)
		}),
	})
	require.NoError(t, err)
	f.engine = engine
	engine.Start()
	t.Cleanup(func() { _ = engine.Close() })
	return f
}

func (f *fixture) observe(id string, pos mgl64.Vec3) {
	f.observers.Upsert(world.Observer{ID: id, World: testWorld, Position: pos, Alive: true, Mode: world.Survival})
}

func (f *fixture) ticks(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.engine.Tick()
		require.NoError(t, err)
	}
}

func calm(name string) actor.Definition {
	return actor.Definition{Name: name, WanderChance: -1, Passive: true}
}

func TestNewRequiresGeometryAndObservers(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{Observers: world.NewDirectory()})
	assert.ErrorIs(t, err, ErrMissingGeometry)
	_, err = New(DefaultConfig(), Deps{Geometry: world.NewGrid()})
	assert.ErrorIs(t, err, ErrMissingObservers)
}

func TestExpressionsSelectEvaluator(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Expressions = expr.KindLiteral
	engine, err := New(cfg, Deps{Geometry: world.NewGrid(), Observers: world.NewDirectory()})
	require.NoError(t, err)
	assert.IsType(t, expr.Literal{}, engine.deps.Evaluator)

	cfg.Expressions = "unknown"
	engine, err = New(cfg, Deps{Geometry: world.NewGrid(), Observers: world.NewDirectory()})
	require.NoError(t, err)
	assert.Equal(t, expr.KindCompiled, engine.Config().Expressions)
	assert.IsType(t, &expr.Compiled{}, engine.deps.Evaluator)
}

func TestTickBeforeStartFails(t *testing.T) {
	engine, err := New(DefaultConfig(), Deps{Geometry: world.NewGrid(), Observers: world.NewDirectory()})
	require.NoError(t, err)
	_, err = engine.Tick()
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSpawnShowsActorToObserversInRange(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.observe("near", mgl64.Vec3{10, 0, 0})
	f.observe("far", mgl64.Vec3{500, 0, 0})

	a, err := f.engine.Spawn(calm("zombie"), testWorld, mgl64.Vec3{0.5, 0, 0.5})
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.NetworkID)
	assert.Len(t, f.transport.OfType(proto.TypeSpawn, "near"), 1)
	assert.Empty(t, f.transport.OfType(proto.TypeSpawn, "far"))
	snapshot, ok := f.engine.Lookup(a.Key())
	require.True(t, ok)
	assert.Equal(t, 1, snapshot.Viewers)
	assert.Len(t, f.events.OfType(lifecycle.EventActorSpawned), 1)
}

func TestNetworkIDsAreScopedToEngine(t *testing.T) {
	first := newFixture(t, DefaultConfig())
	second := newFixture(t, DefaultConfig())

	a1, err := first.engine.Spawn(calm("a"), testWorld, mgl64.Vec3{})
	require.NoError(t, err)
	a2, err := first.engine.Spawn(calm("b"), testWorld, mgl64.Vec3{})
	require.NoError(t, err)
	b1, err := second.engine.Spawn(calm("c"), testWorld, mgl64.Vec3{})
	require.NoError(t, err)

	assert.Equal(t, int64(1), a1.NetworkID)
	assert.Equal(t, int64(2), a2.NetworkID)
	assert.Equal(t, int64(1), b1.NetworkID)
}

func TestSpawnVetoLeavesRegistryEmpty(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.hooks.Spawn = func(*actor.Actor) bool { return false }

	_, err := f.engine.Spawn(calm("zombie"), testWorld, mgl64.Vec3{})
	assert.ErrorIs(t, err, ErrSpawnVetoed)
	assert.Zero(t, f.engine.Stats().Actors)
}

func TestTwoHitKillIsReapedOnceAfterGrace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeathGraceTicks = 5
	f := newFixture(t, cfg)
	f.observe("steve", mgl64.Vec3{4, 0, 0})
	def := calm("zombie")
	def.Health = 20
	def.Drops = []actor.Drop{{Item: "rotten_flesh", Amount: 1, Chance: 1}}
	a, err := f.engine.Spawn(def, testWorld, mgl64.Vec3{0.5, 0, 0.5})
	require.NoError(t, err)
	attacker := actor.PlayerSource("A", mgl64.Vec3{2, 0, 0})

	out, err := f.engine.Damage(a.Key(), 10, attacker, combat.Options{})
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.False(t, out.Killed)
	snapshot, _ := f.engine.Lookup(a.Key())
	assert.Equal(t, 10.0, snapshot.Health)
	a.Lock()
	assert.Equal(t, 10.0, a.Ledger.Total("A"))
	a.Unlock()
	assert.Empty(t, f.events.OfType(loggingcombat.EventDefeat))

	out, err = f.engine.Damage(a.Key(), 10, attacker, combat.Options{})
	require.NoError(t, err)
	assert.True(t, out.Killed)
	snapshot, _ = f.engine.Lookup(a.Key())
	assert.Zero(t, snapshot.Health)
	assert.False(t, snapshot.Alive)

	out, err = f.engine.Damage(a.Key(), 10, attacker, combat.Options{})
	require.NoError(t, err)
	assert.False(t, out.Applied)

	f.ticks(t, 4)
	_, stillThere := f.engine.Lookup(a.Key())
	assert.True(t, stillThere, "dead actor stays registered during the grace window")

	f.ticks(t, 10)
	_, stillThere = f.engine.Lookup(a.Key())
	assert.False(t, stillThere)

	assert.Len(t, f.events.OfType(loggingcombat.EventDefeat), 1)
	assert.Len(t, f.events.OfType(lifecycle.EventActorDespawned), 1)
	assert.Equal(t, int64(1), f.drops.Load())
	assert.Len(t, f.transport.OfType(proto.TypeDespawn, "steve"), 1)

	_, err = f.engine.Damage(a.Key(), 1, attacker, combat.Options{})
	assert.ErrorIs(t, err, ErrUnknownActor)
}

func TestPanickingActorDoesNotStopSiblings(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.observe("steve", mgl64.Vec3{3, 0, 0})
	f.hooks.TargetChange = func(ev trigger.TargetChangeEvent) bool {
		if ev.Actor.Def.Name == "faulty" {
			panic("broken trigger")
		}
		return true
	}
	faulty, err := f.engine.Spawn(actor.Definition{Name: "faulty", WanderChance: -1}, testWorld, mgl64.Vec3{0.5, 0, 0.5})
	require.NoError(t, err)
	healthy, err := f.engine.Spawn(actor.Definition{Name: "healthy", WanderChance: -1}, testWorld, mgl64.Vec3{1.5, 0, 0.5})
	require.NoError(t, err)

	f.ticks(t, 3)

	en, ok := f.engine.registry.get(healthy.Key())
	require.True(t, ok)
	assert.Equal(t, "steve", en.ai.Target.ID)
	assert.NotEqual(t, ai.StateIdle, en.ai.State)

	failed := f.events.OfType(simulation.EventStepFailed)
	require.NotEmpty(t, failed)
	assert.Equal(t, faulty.Key(), failed[0].Actor.ID)
	assert.Equal(t, uint64(len(failed)), f.engine.deps.Metrics.Value(metricStepFailures))
}

func TestViewerLeavesWhenObserverMovesAway(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.observe("steve", mgl64.Vec3{5, 0, 0})
	a, err := f.engine.Spawn(calm("zombie"), testWorld, mgl64.Vec3{0.5, 0, 0.5})
	require.NoError(t, err)

	f.observers.Update("steve", func(o *world.Observer) { o.Position = mgl64.Vec3{400, 0, 0} })
	f.ticks(t, 1)
	assert.Len(t, f.transport.OfType(proto.TypeDespawn, "steve"), 1)
	snapshot, _ := f.engine.Lookup(a.Key())
	assert.Zero(t, snapshot.Viewers)

	f.observers.Update("steve", func(o *world.Observer) { o.Position = mgl64.Vec3{5, 0, 0} })
	f.ticks(t, 1)
	assert.Len(t, f.transport.OfType(proto.TypeSpawn, "steve"), 2)
	assert.Len(t, f.events.OfType(lifecycle.EventViewerRemoved), 1)
}

func TestNewObserverSessionRespawnsActor(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.observers.Upsert(world.Observer{ID: "steve", World: testWorld, Position: mgl64.Vec3{5, 0, 0}, Alive: true, Session: 1})
	a, err := f.engine.Spawn(calm("zombie"), testWorld, mgl64.Vec3{0.5, 0, 0.5})
	require.NoError(t, err)
	f.ticks(t, 3)
	require.Len(t, f.transport.OfType(proto.TypeSpawn, "steve"), 1)

	f.observers.Update("steve", func(o *world.Observer) { o.Session = 2 })
	f.ticks(t, 1)
	assert.Len(t, f.transport.OfType(proto.TypeSpawn, "steve"), 2)
	snapshot, _ := f.engine.Lookup(a.Key())
	assert.Equal(t, 1, snapshot.Viewers)

	f.ticks(t, 3)
	assert.Len(t, f.transport.OfType(proto.TypeSpawn, "steve"), 2, "same session must not respawn")
}

func TestStepWaitingOnGuardSkipsFinalizedActor(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, err := f.engine.Spawn(calm("zombie"), testWorld, mgl64.Vec3{0.5, 0, 0.5})
	require.NoError(t, err)
	en, ok := f.engine.registry.get(a.Key())
	require.True(t, ok)
	f.observe("steve", mgl64.Vec3{5, 0, 0})
	candidates := f.observers.Snapshot()[testWorld]

	a.Lock()
	stepped := make(chan struct{})
	go func() {
		defer close(stepped)
		f.engine.stepSafely(en, 1, candidates)
	}()
	time.Sleep(20 * time.Millisecond)
	finalized := make(chan struct{})
	go func() {
		defer close(finalized)
		f.engine.finalize(en, ReasonRemoved)
	}()
	require.Eventually(t, en.removed.Load, time.Second, time.Millisecond)
	a.Unlock()
	<-stepped
	<-finalized

	spawns := len(f.transport.OfType(proto.TypeSpawn, "steve"))
	despawns := len(f.transport.OfType(proto.TypeDespawn, "steve"))
	assert.Equal(t, spawns, despawns, "viewer left holding a removed actor")
	assert.Zero(t, a.Viewers.Len())
}

func TestFallingActorSendsMovePackets(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.observe("steve", mgl64.Vec3{5, 0, 0})
	a, err := f.engine.Spawn(calm("zombie"), testWorld, mgl64.Vec3{0.5, 4, 0.5})
	require.NoError(t, err)

	f.ticks(t, 40)
	snapshot, _ := f.engine.Lookup(a.Key())
	assert.InDelta(t, 0, snapshot.Position.Y(), 1e-9)
	moves := f.transport.OfType(proto.TypeMove, "steve")
	require.NotEmpty(t, moves)

	var fallen float64
	for _, sent := range moves {
		fallen += sent.Packet.(proto.Move).Delta.Y()
	}
	assert.InDelta(t, -4, fallen, f.engine.Config().MoveThreshold)

	f.transport.Reset()
	f.ticks(t, 5)
	assert.Empty(t, f.transport.OfType(proto.TypeMove, ""), "resting actor sends nothing")
}

func TestLargeDisplacementTeleports(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.observe("steve", mgl64.Vec3{10, 0, 0})
	a, err := f.engine.Spawn(calm("zombie"), testWorld, mgl64.Vec3{0.5, 0, 0.5})
	require.NoError(t, err)

	require.NoError(t, f.engine.onActor(a.Key(), true, func(a *actor.Actor) {
		a.Position = mgl64.Vec3{20.5, 0, 0.5}
	}))
	f.ticks(t, 1)
	assert.Len(t, f.transport.OfType(proto.TypeTeleport, "steve"), 1)
}

func TestChainsRunOnTicksAndAreCancelledOnUnregister(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, err := f.engine.Spawn(calm("zombie"), testWorld, mgl64.Vec3{})
	require.NoError(t, err)
	var ran []uint64
	record := func(_ context.Context, tick uint64) error {
		ran = append(ran, tick)
		return nil
	}
	require.NoError(t, f.engine.RunChain(a.Key(), tasks.Chain{Steps: []tasks.Step{
		{Run: record},
		{Delay: 5, Run: record},
	}}))

	f.ticks(t, 2)
	require.Equal(t, []uint64{1}, ran)

	require.NoError(t, f.engine.Unregister(a.Key()))
	f.ticks(t, 10)
	assert.Equal(t, []uint64{1}, ran)
	assert.Zero(t, f.engine.Stats().ChainOwners)
	assert.ErrorIs(t, f.engine.Unregister(a.Key()), ErrUnknownActor)
	assert.ErrorIs(t, f.engine.RunChain(a.Key(), tasks.Chain{}), ErrUnknownActor)
}

func TestDeathStopsChainsExceptAfterDeath(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, err := f.engine.Spawn(calm("zombie"), testWorld, mgl64.Vec3{})
	require.NoError(t, err)
	var normal, posthumous int
	require.NoError(t, f.engine.RunChain(a.Key(), tasks.Chain{Steps: []tasks.Step{
		{Delay: 3, Run: func(context.Context, uint64) error { normal++; return nil }},
	}}))
	require.NoError(t, f.engine.RunChain(a.Key(), tasks.Chain{AfterDeath: true, Steps: []tasks.Step{
		{Delay: 3, Run: func(context.Context, uint64) error { posthumous++; return nil }},
	}}))

	_, err = f.engine.Kill(a.Key(), actor.EnvironmentSource("void"))
	require.NoError(t, err)
	f.ticks(t, 5)
	assert.Zero(t, normal)
	assert.Equal(t, 1, posthumous)
}

func TestDamageAreaCrossesRegions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RegionChunks = 1
	f := newFixture(t, cfg)
	near, err := f.engine.Spawn(calm("near"), testWorld, mgl64.Vec3{2, 0, 0})
	require.NoError(t, err)
	other, err := f.engine.Spawn(calm("other"), testWorld, mgl64.Vec3{20, 0, 0})
	require.NoError(t, err)
	far, err := f.engine.Spawn(calm("far"), testWorld, mgl64.Vec3{60, 0, 0})
	require.NoError(t, err)

	hits, err := f.engine.DamageArea(testWorld, mgl64.Vec3{8, 0, 0}, 15, 4, actor.EnvironmentSource("explosion"), combat.Options{NoKnockback: true})
	require.NoError(t, err)
	assert.Equal(t, 2, hits)

	for _, a := range []*actor.Actor{near, other} {
		snapshot, _ := f.engine.Lookup(a.Key())
		assert.Equal(t, 16.0, snapshot.Health, a.Def.Name)
	}
	snapshot, _ := f.engine.Lookup(far.Key())
	assert.Equal(t, 20.0, snapshot.Health)
}

func TestDamageAreaWithHugeRadiusVisitsOccupiedRegionsOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RegionChunks = 1
	cfg.ShardQueue = 8
	f := newFixture(t, cfg)
	for _, x := range []float64{2, 40, -40} {
		_, err := f.engine.Spawn(calm("target"), testWorld, mgl64.Vec3{x, 0, 0})
		require.NoError(t, err)
	}

	hits, err := f.engine.DamageArea(testWorld, mgl64.Vec3{}, 1e6, 1, actor.EnvironmentSource("meteor"), combat.Options{NoKnockback: true})
	require.NoError(t, err)
	assert.Equal(t, 3, hits)
}

func TestHealClampsToMax(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, err := f.engine.Spawn(calm("zombie"), testWorld, mgl64.Vec3{})
	require.NoError(t, err)
	_, err = f.engine.Damage(a.Key(), 5, actor.EnvironmentSource("fall"), combat.Options{})
	require.NoError(t, err)

	healed, err := f.engine.Heal(a.Key(), 50)
	require.NoError(t, err)
	assert.Equal(t, 5.0, healed)
	snapshot, _ := f.engine.Lookup(a.Key())
	assert.Equal(t, snapshot.MaxHealth, snapshot.Health)
}

func TestCloseDespawnsEverything(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.observe("steve", mgl64.Vec3{1, 0, 0})
	_, err := f.engine.Spawn(calm("a"), testWorld, mgl64.Vec3{})
	require.NoError(t, err)
	_, err = f.engine.Spawn(calm("b"), testWorld, mgl64.Vec3{})
	require.NoError(t, err)

	require.NoError(t, f.engine.Close())
	assert.Zero(t, f.engine.Stats().Actors)
	assert.Len(t, f.transport.OfType(proto.TypeDespawn, "steve"), 2)
	_, err = f.engine.Tick()
	assert.ErrorIs(t, err, ErrStopped)
}

type steppingClock struct {
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func TestLoopReportsBudgetOverrun(t *testing.T) {
	events := sinks.NewMemorySink()
	engine, err := New(DefaultConfig(), Deps{
		Geometry:  world.NewGrid(),
		Observers: world.NewDirectory(),
		Publisher: events,
		Clock:     &steppingClock{step: time.Second},
	})
	require.NoError(t, err)
	engine.Start()
	defer engine.Close()

	loop := NewLoop(engine, LoopHooks{})
	first := loop.Advance(time.Now(), 0.05)
	require.NoError(t, first.Err)
	second := loop.Advance(time.Now(), 0.05)

	overruns := events.OfType(simulation.EventTickBudgetOverrun)
	require.Len(t, overruns, 2)
	payload := overruns[1].Payload.(simulation.TickBudgetOverrunPayload)
	assert.Equal(t, uint64(2), payload.Streak)
	assert.Equal(t, uint64(2), second.Tick)
	assert.Equal(t, uint64(2), engine.deps.Metrics.Value(metricBudgetOverruns))
}
