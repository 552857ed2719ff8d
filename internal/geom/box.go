// Package geom holds the stateless volume and swept-collision primitives used
// by the physics integrator.
package geom

import (
	"math"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// Epsilon is the magnitude under which a velocity component is treated as zero.
const Epsilon = 0.003

// ActorBox returns the volume of an actor standing with its feet at feet.
// The box is centred on the horizontal axes.
func ActorBox(feet mgl64.Vec3, width, height float64) cube.BBox {
	half := width / 2
	return cube.Box(
		feet[0]-half, feet[1], feet[2]-half,
		feet[0]+half, feet[1]+height, feet[2]+half,
	)
}

// Feet returns the bottom-centre point of box.
func Feet(box cube.BBox) mgl64.Vec3 {
	min, max := box.Min(), box.Max()
	return mgl64.Vec3{(min[0] + max[0]) / 2, min[1], (min[2] + max[2]) / 2}
}

// Snap zeroes v when its magnitude is below Epsilon.
func Snap(v float64) float64 {
	if math.Abs(v) < Epsilon {
		return 0
	}
	return v
}

// SnapVec zeroes every component of v below Epsilon.
func SnapVec(v mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{Snap(v[0]), Snap(v[1]), Snap(v[2])}
}

// Horizontal drops the vertical component of v.
func Horizontal(v mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{v[0], 0, v[2]}
}

// HorizontalDistance is the distance between a and b ignoring height.
func HorizontalDistance(a, b mgl64.Vec3) float64 {
	return math.Hypot(b[0]-a[0], b[2]-a[2])
}

// Negligible reports whether every component of v is zero after snapping.
func Negligible(v mgl64.Vec3) bool {
	return Snap(v[0]) == 0 && Snap(v[1]) == 0 && Snap(v[2]) == 0
}

// Finite reports whether v holds no NaN or infinite component.
func Finite(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Look returns the yaw and pitch in degrees for an eye at from facing to,
// using the block-game convention: yaw 0 faces +Z and grows clockwise,
// negative pitch looks up.
func Look(from, to mgl64.Vec3) (yaw, pitch float64) {
	d := to.Sub(from)
	horizontal := math.Hypot(d[0], d[2])
	if horizontal == 0 && d[1] == 0 {
		return 0, 0
	}
	yaw = mgl64.RadToDeg(math.Atan2(-d[0], d[2]))
	pitch = mgl64.RadToDeg(-math.Atan2(d[1], horizontal))
	return yaw, pitch
}
