package combat

import (
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirage/server/internal/actor"
	"mirage/server/internal/expr"
	"mirage/server/internal/net/proto"
	"mirage/server/internal/telemetry"
	"mirage/server/internal/trigger"
	"mirage/server/internal/world"
	loggingcombat "mirage/server/logging/combat"
	"mirage/server/logging/sinks"
)

type countingDrops struct {
	calls int
}

func (d *countingDrops) Roll(a *actor.Actor, rng *rand.Rand) []ItemStack {
	d.calls++
	return []ItemStack{{Item: "rotten_flesh", Amount: 1}}
}

type harness struct {
	resolver  *Resolver
	hooks     *trigger.Hooks
	drops     *countingDrops
	dropped   []string
	transport *proto.Recorder
	events    *sinks.MemorySink
}

func newHarness() *harness {
	h := &harness{
		hooks:     &trigger.Hooks{},
		drops:     &countingDrops{},
		transport: proto.NewRecorder(),
		events:    sinks.NewMemorySink(),
	}
	h.resolver = NewResolver(DefaultConfig(), Deps{
		Evaluator: expr.NewGuarded(expr.NewCompiled(), nil, telemetry.NopMetrics{}),
		Hooks:     h.hooks,
		Drops:     h.drops,
		DropSink: DropSinkFunc(func(_ string, _ mgl64.Vec3, items []ItemStack, killer string) {
			h.dropped = append(h.dropped, killer)
		}),
		Transport: h.transport,
		Publisher: h.events,
		Tick:      func() uint64 { return 77 },
	})
	return h
}

func newActor(def actor.Definition) *actor.Actor {
	a := actor.New(ulid.Make(), 1, def, "overworld", mgl64.Vec3{0, 64, 0})
	a.Viewers.Add("viewer")
	return a
}

func TestTwoHitKillScenario(t *testing.T) {
	h := newHarness()
	a := newActor(actor.Definition{Name: "zombie", Health: 20})
	attacker := actor.PlayerSource("A", mgl64.Vec3{2, 64, 0})

	first := h.resolver.ApplyDamage(a, 10, attacker, Options{})
	require.True(t, first.Applied)
	assert.False(t, first.Killed)
	assert.Equal(t, 10.0, a.Health())
	assert.Equal(t, 10.0, a.Ledger.Total("A"))
	assert.True(t, a.Alive())
	assert.Empty(t, h.events.OfType(loggingcombat.EventDefeat))

	second := h.resolver.ApplyDamage(a, 10, attacker, Options{})
	require.True(t, second.Killed)
	assert.Equal(t, 0.0, a.Health())
	assert.False(t, a.Alive())
	assert.Equal(t, uint64(77), a.DeathTick())
	assert.Len(t, h.events.OfType(loggingcombat.EventDefeat), 1)
	assert.Equal(t, 1, h.drops.calls)
	assert.Equal(t, []string{"A"}, h.dropped)

	deaths := 0
	for _, sent := range h.transport.OfType(proto.TypeAnimation, "viewer") {
		if sent.Packet.(proto.PlayAnimation).Kind == proto.AnimationDeath {
			deaths++
		}
	}
	assert.Equal(t, 1, deaths)
}

func TestDamageAfterDeathIsIgnored(t *testing.T) {
	h := newHarness()
	a := newActor(actor.Definition{Name: "zombie", Health: 5})
	src := actor.PlayerSource("A", mgl64.Vec3{})

	require.True(t, h.resolver.ApplyDamage(a, 50, src, Options{}).Killed)
	sent := len(h.transport.All())

	for range 3 {
		out := h.resolver.ApplyDamage(a, 50, src, Options{})
		assert.False(t, out.Applied)
		assert.False(t, out.Killed)
	}
	assert.False(t, h.resolver.Kill(a, src).Killed)

	assert.Equal(t, 0.0, a.Health())
	assert.False(t, a.Alive())
	assert.Len(t, h.events.OfType(loggingcombat.EventDefeat), 1)
	assert.Equal(t, 1, h.drops.calls)
	assert.Len(t, h.transport.All(), sent)
}

func TestDamageHookVetoLeavesActorUntouched(t *testing.T) {
	h := newHarness()
	h.hooks.Damaged = func(event trigger.DamageEvent) bool { return event.Attacker.ID != "blocked" }
	a := newActor(actor.Definition{Name: "zombie", Health: 20})

	out := h.resolver.ApplyDamage(a, 8, actor.PlayerSource("blocked", mgl64.Vec3{1, 64, 0}), Options{})

	assert.True(t, out.Vetoed)
	assert.False(t, out.Applied)
	assert.Equal(t, 20.0, a.Health())
	assert.Equal(t, 0, a.Ledger.Len())
	assert.Equal(t, mgl64.Vec3{}, a.Motion.Velocity)
	assert.Len(t, h.events.OfType(loggingcombat.EventDamageVetoed), 1)
	assert.Empty(t, h.transport.All())
}

func TestDeathHookVetoKeepsActorAlive(t *testing.T) {
	h := newHarness()
	h.hooks.Death = func(trigger.DeathEvent) bool { return false }
	a := newActor(actor.Definition{Name: "boss", Health: 10})

	out := h.resolver.ApplyDamage(a, 25, actor.PlayerSource("A", mgl64.Vec3{}), Options{})

	assert.True(t, out.Vetoed)
	assert.True(t, a.Alive())
	assert.Equal(t, 10.0, a.Health())
	assert.Equal(t, 0, h.drops.calls)

	// Non-lethal damage is unaffected by the death hook.
	assert.True(t, h.resolver.ApplyDamage(a, 4, actor.PlayerSource("A", mgl64.Vec3{}), Options{}).Applied)
	assert.Equal(t, 6.0, a.Health())
}

func TestKillCreditVetoOnlyDropsAttribution(t *testing.T) {
	h := newHarness()
	h.hooks.KillCredit = func(trigger.DeathEvent) bool { return false }
	a := newActor(actor.Definition{Name: "zombie", Health: 4})

	out := h.resolver.ApplyDamage(a, 10, actor.PlayerSource("A", mgl64.Vec3{}), Options{})

	require.True(t, out.Killed)
	assert.Equal(t, []string{""}, h.dropped)
	defeats := h.events.OfType(loggingcombat.EventDefeat)
	require.Len(t, defeats, 1)
	assert.Empty(t, defeats[0].Targets)
	assert.False(t, defeats[0].Payload.(loggingcombat.DefeatPayload).Credited)
}

func TestNonLethalHitKnocksBackAwayFromSource(t *testing.T) {
	h := newHarness()
	a := newActor(actor.Definition{Name: "zombie", Health: 20})

	out := h.resolver.ApplyDamage(a, 5, actor.PlayerSource("A", mgl64.Vec3{-3, 64, 0}), Options{})

	assert.Greater(t, out.Knockback[0], 0.0)
	assert.Greater(t, a.Motion.Velocity[1], 0.0)
	assert.True(t, a.Motion.Knocked)

	updates := h.transport.OfType(proto.TypeMetadata, "viewer")
	require.Len(t, updates, 1)
	assert.Equal(t, 15.0, updates[0].Packet.(proto.MetadataUpdate).Fields[proto.FieldHealth])
}

func TestKnockbackSuppression(t *testing.T) {
	h := newHarness()

	a := newActor(actor.Definition{Name: "zombie", Health: 20})
	h.resolver.ApplyDamage(a, 5, actor.PlayerSource("A", mgl64.Vec3{1, 64, 0}), Options{NoKnockback: true})
	assert.Equal(t, mgl64.Vec3{}, a.Motion.Velocity)

	b := newActor(actor.Definition{Name: "golem", Health: 20, NoKnockback: true})
	h.resolver.ApplyDamage(b, 5, actor.PlayerSource("A", mgl64.Vec3{1, 64, 0}), Options{})
	assert.Equal(t, mgl64.Vec3{}, b.Motion.Velocity)

	c := newActor(actor.Definition{Name: "zombie", Health: 20})
	h.resolver.ApplyDamage(c, 5, actor.EnvironmentSource("fire"), Options{})
	assert.Equal(t, mgl64.Vec3{}, c.Motion.Velocity)
	assert.Equal(t, 0, c.Ledger.Len())
}

func TestArmorAppliesUnlessIgnored(t *testing.T) {
	h := newHarness()
	a := newActor(actor.Definition{Name: "knight", Health: 20, Armor: 10})

	out := h.resolver.ApplyDamage(a, 10, actor.Source{}, Options{})
	assert.InDelta(t, 6, out.Amount, 1e-9)
	assert.InDelta(t, 14, a.Health(), 1e-9)

	out = h.resolver.ApplyDamage(a, 10, actor.Source{}, Options{IgnoreArmor: true})
	assert.InDelta(t, 10, out.Amount, 1e-9)
}

func TestDamageFormulaOverridesArmor(t *testing.T) {
	h := newHarness()
	a := newActor(actor.Definition{Name: "slime", Health: 20, Armor: 20, DamageFormula: "damage / 2"})

	out := h.resolver.ApplyDamage(a, 8, actor.Source{}, Options{})
	assert.InDelta(t, 4, out.Amount, 1e-9)

	// Results are clamped to the incoming damage.
	a.Def.DamageFormula = "damage * 10"
	out = h.resolver.ApplyDamage(a, 2, actor.Source{}, Options{})
	assert.InDelta(t, 2, out.Amount, 1e-9)
}

func TestBrokenDamageFormulaFallsBackToArmor(t *testing.T) {
	h := newHarness()
	a := newActor(actor.Definition{Name: "slime", Health: 20, Armor: 10, DamageFormula: "damage +"})

	out := h.resolver.ApplyDamage(a, 10, actor.Source{}, Options{})
	assert.InDelta(t, 6, out.Amount, 1e-9)
}

func TestInvulnerableActorIgnoresDamage(t *testing.T) {
	h := newHarness()
	a := newActor(actor.Definition{Name: "npc", Health: 20, Invulnerable: true})

	assert.False(t, h.resolver.ApplyDamage(a, 100, actor.Source{}, Options{}).Applied)
	assert.Equal(t, 20.0, a.Health())
}

func TestHealBroadcastsOnlyWhenApplied(t *testing.T) {
	h := newHarness()
	a := newActor(actor.Definition{Name: "zombie", Health: 20})

	assert.Equal(t, 0.0, h.resolver.Heal(a, 5))
	assert.Empty(t, h.transport.All())

	a.SetHealth(12)
	assert.Equal(t, 5.0, h.resolver.Heal(a, 5))
	assert.Equal(t, 1, h.transport.Count(proto.TypeMetadata))
}

func TestAttackHonoursHookAndDamagesPlayer(t *testing.T) {
	h := newHarness()
	a := newActor(actor.Definition{Name: "zombie", AttackDamage: 3, AttackFormula: "damage + 1"})
	target := world.Observer{ID: "p1", World: "overworld", Position: mgl64.Vec3{1, 64, 0}, Alive: true}

	var hits []float64
	damager := world.PlayerDamagerFunc(func(id string, amount float64, attacker string) {
		hits = append(hits, amount)
		assert.Equal(t, a.Key(), attacker)
	})

	require.True(t, h.resolver.Attack(a, target, damager))
	assert.Equal(t, []float64{4}, hits)
	assert.Len(t, h.events.OfType(loggingcombat.EventAttack), 1)

	h.hooks.Attack = func(trigger.AttackEvent) bool { return false }
	assert.False(t, h.resolver.Attack(a, target, damager))
	assert.Len(t, hits, 1)

	h.hooks.Attack = nil
	target.Mode = world.Creative
	assert.False(t, h.resolver.Attack(a, target, damager))
}
