package actor

import (
	"fmt"
	"math"
	"strings"
)

// Drop is one entry of a creature's loot table.
type Drop struct {
	Item string `yaml:"item" json:"item"`
	// Amount is the stack size produced when the entry is picked.
	Amount int `yaml:"amount" json:"amount"`
	// Chance in [0, 1] that the entry is rolled at all.
	Chance float64 `yaml:"chance" json:"chance"`
}

// Definition is the declarative template a creature is spawned from.
type Definition struct {
	Name      string  `yaml:"name" json:"name" jsonschema:"required"`
	Health    float64 `yaml:"health" json:"health"`
	Armor     float64 `yaml:"armor" json:"armor"`
	Toughness float64 `yaml:"toughness" json:"toughness"`
	// DamageFormula, when set, replaces built-in armor mitigation. It sees
	// damage, armor, toughness, health and max_health.
	DamageFormula string `yaml:"damage_formula,omitempty" json:"damage_formula,omitempty"`

	AttackDamage float64 `yaml:"attack_damage" json:"attack_damage"`
	// AttackFormula computes outgoing melee damage from the attacker and
	// target context.
	AttackFormula string `yaml:"attack_formula,omitempty" json:"attack_formula,omitempty"`
	// TargetCondition must evaluate true for a candidate to be targeted.
	TargetCondition string `yaml:"target_condition,omitempty" json:"target_condition,omitempty"`

	// Speed is the horizontal distance covered per tick while moving.
	Speed               float64 `yaml:"speed" json:"speed"`
	FollowRange         float64 `yaml:"follow_range" json:"follow_range"`
	AttackRange         float64 `yaml:"attack_range" json:"attack_range"`
	AttackCooldownTicks int     `yaml:"attack_cooldown_ticks" json:"attack_cooldown_ticks"`
	SearchIntervalTicks int     `yaml:"search_interval_ticks" json:"search_interval_ticks"`
	KnockbackResistance float64 `yaml:"knockback_resistance" json:"knockback_resistance"`
	WanderRadius        float64 `yaml:"wander_radius" json:"wander_radius"`
	// WanderChance is the per-tick probability of leaving Idle to wander.
	// A negative value disables wandering.
	WanderChance float64 `yaml:"wander_chance" json:"wander_chance"`

	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`

	Drops []Drop `yaml:"drops,omitempty" json:"drops,omitempty"`

	Invulnerable bool `yaml:"invulnerable,omitempty" json:"invulnerable,omitempty"`
	NoKnockback  bool `yaml:"no_knockback,omitempty" json:"no_knockback,omitempty"`
	// Passive creatures never search for targets.
	Passive bool `yaml:"passive,omitempty" json:"passive,omitempty"`
}

const (
	DefaultHealth              = 20
	DefaultSpeed               = 0.23
	DefaultFollowRange         = 16
	DefaultAttackRange         = 2
	DefaultAttackCooldownTicks = 20
	DefaultSearchIntervalTicks = 10
	DefaultWanderRadius        = 8
	DefaultWanderChance        = 0.01
	DefaultWidth               = 0.6
	DefaultHeight              = 1.8
)

// Normalized fills unset or invalid tunables with defaults.
func (d Definition) Normalized() Definition {
	d.Name = strings.TrimSpace(d.Name)
	if !positive(d.Health) {
		d.Health = DefaultHealth
	}
	d.Armor = nonNegative(d.Armor)
	d.Toughness = nonNegative(d.Toughness)
	d.AttackDamage = nonNegative(d.AttackDamage)
	if !positive(d.Speed) {
		d.Speed = DefaultSpeed
	}
	if !positive(d.FollowRange) {
		d.FollowRange = DefaultFollowRange
	}
	if !positive(d.AttackRange) {
		d.AttackRange = DefaultAttackRange
	}
	if d.AttackCooldownTicks <= 0 {
		d.AttackCooldownTicks = DefaultAttackCooldownTicks
	}
	if d.SearchIntervalTicks <= 0 {
		d.SearchIntervalTicks = DefaultSearchIntervalTicks
	}
	d.KnockbackResistance = math.Min(1, nonNegative(d.KnockbackResistance))
	if !positive(d.WanderRadius) {
		d.WanderRadius = DefaultWanderRadius
	}
	switch {
	case d.WanderChance == 0 || math.IsNaN(d.WanderChance):
		d.WanderChance = DefaultWanderChance
	case d.WanderChance < 0:
		d.WanderChance = 0
	default:
		d.WanderChance = math.Min(1, d.WanderChance)
	}
	if !positive(d.Width) {
		d.Width = DefaultWidth
	}
	if !positive(d.Height) {
		d.Height = DefaultHeight
	}
	return d
}

// Validate reports definitions that cannot be spawned at all.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("definition has no name")
	}
	for i, drop := range d.Drops {
		if drop.Item == "" {
			return fmt.Errorf("definition %q: drop %d has no item", d.Name, i)
		}
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
