package physics

import (
	"math"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"

	"mirage/server/internal/world"
)

// FindGround scans the block column under pos for a standable surface between
// up above and down below the feet. A surface is standable when the cells
// above it leave room for height. The surface nearest the feet wins, ties
// going to the higher one. found is false when no surface qualifies or any
// probed cell is not loaded.
func FindGround(geo world.Geometry, worldName string, pos mgl64.Vec3, height, up, down float64) (float64, bool) {
	if geo == nil {
		return 0, false
	}
	feet := pos[1]
	bx, bz := int(math.Floor(pos[0])), int(math.Floor(pos[2]))
	top := int(math.Floor(feet + up))
	bottom := int(math.Floor(feet-down)) - 1

	best, found := 0.0, false
	for y := top; y >= bottom; y-- {
		shape, ok := geo.Block(worldName, cube.Pos{bx, y, bz})
		if !ok {
			return 0, false
		}
		if !shape.Solid() {
			continue
		}
		surface := float64(y) + shape.Top()
		if surface > feet+up+1e-9 || surface < feet-down-1e-9 {
			continue
		}
		clear, ok := headroom(geo, worldName, bx, y, bz, surface, height)
		if !ok {
			return 0, false
		}
		if !clear {
			continue
		}
		if !found || closer(surface, best, feet) {
			best, found = surface, true
		}
	}
	return best, found
}

func closer(candidate, current, feet float64) bool {
	dc, dk := math.Abs(candidate-feet), math.Abs(current-feet)
	if math.Abs(dc-dk) < 1e-9 {
		return candidate > current
	}
	return dc < dk
}

func headroom(geo world.Geometry, worldName string, bx, groundY, bz int, surface, height float64) (bool, bool) {
	ceiling := surface + height
	for cy := groundY + 1; float64(cy) < ceiling; cy++ {
		shape, ok := geo.Block(worldName, cube.Pos{bx, cy, bz})
		if !ok {
			return false, false
		}
		if shape.Solid() {
			return false, true
		}
	}
	return true, true
}
