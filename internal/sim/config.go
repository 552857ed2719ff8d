package sim

import (
	"math"

	"mirage/server/internal/combat"
	"mirage/server/internal/expr"
	"mirage/server/internal/physics"
	"mirage/server/internal/world"
)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	TickRate int `yaml:"tick_rate" json:"tick_rate"`
	// CatchupMaxTicks bounds how many tick budgets a delayed tick may report.
	CatchupMaxTicks int `yaml:"catchup_max_ticks" json:"catchup_max_ticks"`
	Shards          int `yaml:"shards" json:"shards"`
	ShardQueue      int `yaml:"shard_queue" json:"shard_queue"`
	// RegionChunks is the side length of a region in 16-block chunks.
	RegionChunks int `yaml:"region_chunks" json:"region_chunks"`
	// ViewDistance is the radius within which observers receive an actor.
	ViewDistance float64 `yaml:"view_distance" json:"view_distance"`
	// DeathGraceTicks is how long a dead actor stays registered.
	DeathGraceTicks uint64 `yaml:"death_grace_ticks" json:"death_grace_ticks"`
	// MoveThreshold is the smallest displacement worth a move packet.
	MoveThreshold float64 `yaml:"move_threshold" json:"move_threshold"`
	// RotationThreshold in degrees of yaw change forcing a move packet.
	RotationThreshold float64 `yaml:"rotation_threshold" json:"rotation_threshold"`
	// TeleportDistance is the displacement beyond which a teleport is sent
	// instead of a relative move.
	TeleportDistance float64 `yaml:"teleport_distance" json:"teleport_distance"`
	Seed             string  `yaml:"seed" json:"seed"`
	// Expressions selects the evaluator for definition formulas: "compiled"
	// or "literal".
	Expressions string `yaml:"expressions" json:"expressions"`

	Physics physics.Config `yaml:"physics" json:"physics"`
	Combat  combat.Config  `yaml:"combat" json:"combat"`
}

func DefaultConfig() Config {
	return Config{
		TickRate:          20,
		CatchupMaxTicks:   3,
		Shards:            4,
		ShardQueue:        1024,
		RegionChunks:      4,
		ViewDistance:      48,
		DeathGraceTicks:   20,
		MoveThreshold:     0.01,
		RotationThreshold: 1,
		TeleportDistance:  8,
		Seed:              world.DefaultSeed,
		Expressions:       expr.KindCompiled,
		Physics:           physics.DefaultConfig(),
		Combat:            combat.DefaultConfig(),
	}
}

// Normalized replaces invalid values with their defaults.
func (c Config) Normalized() Config {
	def := DefaultConfig()
	if c.TickRate <= 0 {
		c.TickRate = def.TickRate
	}
	if c.CatchupMaxTicks <= 0 {
		c.CatchupMaxTicks = def.CatchupMaxTicks
	}
	if c.Shards <= 0 {
		c.Shards = def.Shards
	}
	if c.ShardQueue <= 0 {
		c.ShardQueue = def.ShardQueue
	}
	if c.RegionChunks <= 0 {
		c.RegionChunks = def.RegionChunks
	}
	if !positive(c.ViewDistance) {
		c.ViewDistance = def.ViewDistance
	}
	if c.DeathGraceTicks == 0 {
		c.DeathGraceTicks = def.DeathGraceTicks
	}
	if !positive(c.MoveThreshold) {
		c.MoveThreshold = def.MoveThreshold
	}
	if !positive(c.RotationThreshold) {
		c.RotationThreshold = def.RotationThreshold
	}
	if !positive(c.TeleportDistance) {
		c.TeleportDistance = def.TeleportDistance
	}
	if c.Seed == "" {
		c.Seed = def.Seed
	}
	if !expr.ValidKind(c.Expressions) {
		c.Expressions = def.Expressions
	}
	c.Physics = c.Physics.Normalized()
	return c
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
