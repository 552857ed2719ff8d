package combat

import (
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"

	"mirage/server/internal/actor"
)

// ItemStack is a rolled drop.
type ItemStack struct {
	Item   string `json:"item"`
	Amount int    `json:"amount"`
}

// DropTable computes the items an actor leaves behind.
type DropTable interface {
	Roll(a *actor.Actor, rng *rand.Rand) []ItemStack
}

// DropSink hands rolled items to the world. killer is empty when no one was
// credited.
type DropSink interface {
	Drop(world string, pos mgl64.Vec3, items []ItemStack, killer string)
}

type DropSinkFunc func(world string, pos mgl64.Vec3, items []ItemStack, killer string)

func (f DropSinkFunc) Drop(world string, pos mgl64.Vec3, items []ItemStack, killer string) {
	if f == nil {
		return
	}
	f(world, pos, items, killer)
}

// DefinitionDrops rolls each entry of the actor definition independently
// against its chance. Entries with a zero chance always drop.
type DefinitionDrops struct{}

func (DefinitionDrops) Roll(a *actor.Actor, rng *rand.Rand) []ItemStack {
	if a == nil || len(a.Def.Drops) == 0 {
		return nil
	}
	var out []ItemStack
	for _, drop := range a.Def.Drops {
		if drop.Item == "" {
			continue
		}
		if drop.Chance > 0 && drop.Chance < 1 {
			roll := 0.0
			if rng != nil {
				roll = rng.Float64()
			} else {
				roll = rand.Float64()
			}
			if roll >= drop.Chance {
				continue
			}
		}
		amount := drop.Amount
		if amount <= 0 {
			amount = 1
		}
		out = append(out, ItemStack{Item: drop.Item, Amount: amount})
	}
	return out
}
