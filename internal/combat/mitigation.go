package combat

import "math"

const (
	// MaxArmorPoints is the armor value past which no further reduction is
	// granted.
	MaxArmorPoints = 20
	// MaxReduction caps the combined armor and toughness reduction.
	MaxReduction = 0.8
)

// Reduction returns the fraction of damage absorbed by armor and toughness.
// Each armor point absorbs 4% up to MaxArmorPoints. Hits above 10 damage
// gain an extra toughness-driven reduction of at most 20%. The result is in
// [0, MaxReduction].
func Reduction(damage, armor, toughness float64) float64 {
	if !(damage > 0) {
		return 0
	}
	armor = math.Max(0, armor)
	toughness = math.Max(0, toughness)

	reduction := math.Min(MaxArmorPoints, armor) / 25
	if damage > 10 && toughness > 0 {
		excess := math.Min(1, (damage-10)/10)
		reduction += math.Min(0.2, toughness/100*excess)
	}
	return clamp(reduction, 0, MaxReduction)
}

// Mitigate applies Reduction and returns the damage that gets through.
func Mitigate(damage, armor, toughness float64) float64 {
	if !(damage > 0) || math.IsInf(damage, 0) {
		return 0
	}
	return damage * (1 - Reduction(damage, armor, toughness))
}

// KnockbackScale sizes a knockback impulse from damage: linear up to
// threshold, logarithmic past it and never above maxScale.
func KnockbackScale(damage, threshold, maxScale float64) float64 {
	if !(damage > 0) || !(threshold > 0) {
		return 0
	}
	ratio := damage / threshold
	scale := ratio
	if ratio > 1 {
		scale = 1 + math.Log(ratio)
	}
	if maxScale > 0 && scale > maxScale {
		scale = maxScale
	}
	return scale
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
