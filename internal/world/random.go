package world

import (
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
)

// DefaultSeed roots every deterministic stream when no seed is configured.
const DefaultSeed = "mirage"

func DeterministicSeedValue(rootSeed, label string) int64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(rootSeed))
	hasher.Write([]byte{0})
	hasher.Write([]byte(label))
	sum := hasher.Sum64()
	if sum == 0 {
		sum = 1
	}
	return int64(sum)
}

// NewDeterministicRNG returns a stream derived from rootSeed and label, so
// each actor or subsystem can own an independent reproducible generator.
func NewDeterministicRNG(rootSeed, label string) *rand.Rand {
	seedValue := DeterministicSeedValue(rootSeed, label)
	return rand.New(rand.NewSource(seedValue))
}

func RandomFloat(rng *rand.Rand) float64 {
	if rng == nil {
		return rand.Float64()
	}
	return rng.Float64()
}

func RandomAngle(rng *rand.Rand) float64 {
	return RandomFloat(rng) * 2 * math.Pi
}

func RandomDistance(rng *rand.Rand, min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + RandomFloat(rng)*(max-min)
}

// RandomHorizontal returns a unit vector in the XZ plane.
func RandomHorizontal(rng *rand.Rand) mgl64.Vec3 {
	angle := RandomAngle(rng)
	return mgl64.Vec3{math.Cos(angle), 0, math.Sin(angle)}
}

// RandomOffset picks a point on the horizontal disc of the given radius
// around origin, at least minRadius away.
func RandomOffset(rng *rand.Rand, origin mgl64.Vec3, minRadius, radius float64) mgl64.Vec3 {
	dir := RandomHorizontal(rng)
	return origin.Add(dir.Mul(RandomDistance(rng, minRadius, radius)))
}
