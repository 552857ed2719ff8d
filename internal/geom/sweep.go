package geom

import (
	"math"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// SweepResult is the outcome of moving a volume through a set of obstacles.
type SweepResult struct {
	// Motion is the displacement actually applied.
	Motion mgl64.Vec3
	// Box is the volume after Motion was applied.
	Box cube.BBox

	CollidedX bool
	CollidedY bool
	CollidedZ bool
	// Grounded is set when downward motion was stopped by an obstacle.
	Grounded bool
}

// Collided reports whether any axis was clipped.
func (r SweepResult) Collided() bool {
	return r.CollidedX || r.CollidedY || r.CollidedZ
}

// SweepArea returns the region that must be searched for obstacles when box
// moves by motion.
func SweepArea(box cube.BBox, motion mgl64.Vec3) cube.BBox {
	return box.Extend(motion)
}

// Sweep moves box by motion one axis at a time (Y, then X, then Z), clipping
// each axis so the box stops at the first obstacle it would touch. Sweeping
// along the path rather than testing the end point keeps fast movers from
// tunnelling through thin obstacles.
func Sweep(box cube.BBox, motion mgl64.Vec3, obstacles []cube.BBox) SweepResult {
	dx, dy, dz := motion[0], motion[1], motion[2]

	for _, obstacle := range obstacles {
		dy = box.YOffset(obstacle, dy)
	}
	box = box.Translate(mgl64.Vec3{0, dy, 0})

	for _, obstacle := range obstacles {
		dx = box.XOffset(obstacle, dx)
	}
	box = box.Translate(mgl64.Vec3{dx, 0, 0})

	for _, obstacle := range obstacles {
		dz = box.ZOffset(obstacle, dz)
	}
	box = box.Translate(mgl64.Vec3{0, 0, dz})

	result := SweepResult{
		Motion:    mgl64.Vec3{dx, dy, dz},
		Box:       box,
		CollidedX: clipped(motion[0], dx),
		CollidedY: clipped(motion[1], dy),
		CollidedZ: clipped(motion[2], dz),
	}
	result.Grounded = motion[1] < 0 && result.CollidedY
	return result
}

func clipped(requested, applied float64) bool {
	return math.Abs(requested-applied) > 1e-9
}
