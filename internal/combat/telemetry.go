package combat

import (
	"context"

	"mirage/server/internal/actor"
	"mirage/server/logging"
	loggingcombat "mirage/server/logging/combat"
)

// recorder publishes combat events for the resolver.
type recorder struct {
	publisher logging.Publisher
	tick      func() uint64
}

func newRecorder(publisher logging.Publisher, tick func() uint64) recorder {
	if publisher == nil {
		publisher = logging.NopPublisher{}
	}
	if tick == nil {
		tick = func() uint64 { return 0 }
	}
	return recorder{publisher: publisher, tick: tick}
}

func sourceRef(src actor.Source) logging.EntityRef {
	switch src.Kind {
	case actor.SourcePlayer:
		return logging.ObserverRef(src.ID)
	case actor.SourceActor:
		return logging.ActorRef(src.ID)
	case actor.SourceEnvironment:
		return logging.EntityRef{ID: src.ID, Kind: logging.EntityKindWorld}
	default:
		return logging.EntityRef{}
	}
}

func (r recorder) damage(a *actor.Actor, src actor.Source, raw, amount float64, knockback bool) {
	loggingcombat.Damage(context.Background(), r.publisher, r.tick(), logging.ActorRef(a.Key()), sourceRef(src), loggingcombat.DamagePayload{
		Raw:          raw,
		Amount:       amount,
		TargetHealth: a.Health(),
		Knockback:    knockback,
	})
}

func (r recorder) vetoed(a *actor.Actor, src actor.Source, raw float64, stage string) {
	loggingcombat.DamageVetoed(context.Background(), r.publisher, r.tick(), logging.ActorRef(a.Key()), sourceRef(src), loggingcombat.DamageVetoedPayload{
		Raw:   raw,
		Stage: stage,
	})
}

func (r recorder) defeat(a *actor.Actor, killer actor.Source, credited bool, drops int) {
	ref := logging.EntityRef{}
	if credited {
		ref = sourceRef(killer)
	}
	loggingcombat.Defeat(context.Background(), r.publisher, r.tick(), logging.ActorRef(a.Key()), ref, loggingcombat.DefeatPayload{
		Drops:    drops,
		Credited: credited,
		Total:    a.Ledger.Sum(),
	})
}

func (r recorder) attack(a *actor.Actor, target string, amount, distance float64) {
	loggingcombat.Attack(context.Background(), r.publisher, r.tick(), logging.ActorRef(a.Key()), logging.ObserverRef(target), loggingcombat.AttackPayload{
		Amount:   amount,
		Distance: distance,
	})
}
