package physics

import "math"

// Config holds the per-tick integration constants. Defaults follow the host
// game's living-entity model so client-side prediction agrees with ours.
type Config struct {
	Gravity          float64 `yaml:"gravity" json:"gravity"`
	Drag             float64 `yaml:"drag" json:"drag"`
	TerminalVelocity float64 `yaml:"terminal_velocity" json:"terminal_velocity"`
	GroundFriction   float64 `yaml:"ground_friction" json:"ground_friction"`
	AirDrag          float64 `yaml:"air_drag" json:"air_drag"`
	Epsilon          float64 `yaml:"epsilon" json:"epsilon"`
	// StepHeight is the tallest ledge an actor climbs without jumping. It
	// also bounds the vertical window of the step-up ground probe.
	StepHeight          float64 `yaml:"step_height" json:"step_height"`
	KnockbackHorizontal float64 `yaml:"knockback_horizontal" json:"knockback_horizontal"`
	KnockbackVertical   float64 `yaml:"knockback_vertical" json:"knockback_vertical"`
}

func DefaultConfig() Config {
	return Config{
		Gravity:             0.08,
		Drag:                0.98,
		TerminalVelocity:    -3.92,
		GroundFriction:      0.546,
		AirDrag:             0.91,
		Epsilon:             0.003,
		StepHeight:          1,
		KnockbackHorizontal: 0.4,
		KnockbackVertical:   0.4,
	}
}

// Normalized replaces invalid values with their defaults.
func (c Config) Normalized() Config {
	def := DefaultConfig()
	if invalid(c.Gravity) || c.Gravity < 0 {
		c.Gravity = def.Gravity
	}
	if invalid(c.Drag) || c.Drag <= 0 || c.Drag > 1 {
		c.Drag = def.Drag
	}
	if invalid(c.TerminalVelocity) || c.TerminalVelocity >= 0 {
		c.TerminalVelocity = def.TerminalVelocity
	}
	if invalid(c.GroundFriction) || c.GroundFriction <= 0 || c.GroundFriction > 1 {
		c.GroundFriction = def.GroundFriction
	}
	if invalid(c.AirDrag) || c.AirDrag <= 0 || c.AirDrag > 1 {
		c.AirDrag = def.AirDrag
	}
	if invalid(c.Epsilon) || c.Epsilon <= 0 {
		c.Epsilon = def.Epsilon
	}
	if invalid(c.StepHeight) || c.StepHeight < 0 {
		c.StepHeight = def.StepHeight
	}
	if invalid(c.KnockbackHorizontal) || c.KnockbackHorizontal < 0 {
		c.KnockbackHorizontal = def.KnockbackHorizontal
	}
	if invalid(c.KnockbackVertical) || c.KnockbackVertical < 0 {
		c.KnockbackVertical = def.KnockbackVertical
	}
	return c
}

func invalid(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
