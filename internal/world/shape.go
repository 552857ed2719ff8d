package world

import (
	"github.com/df-mc/dragonfly/server/block/cube"
)

// Shape is the collision profile of a single block cell.
type Shape uint8

const (
	Air Shape = iota
	Full
	// Slab occupies the bottom half of its cell.
	Slab
	// Fence is a narrow post that rises half a block above its cell.
	Fence
)

func (s Shape) String() string {
	switch s {
	case Air:
		return "air"
	case Full:
		return "full"
	case Slab:
		return "slab"
	case Fence:
		return "fence"
	default:
		return "unknown"
	}
}

// Solid reports whether the shape blocks movement at all.
func (s Shape) Solid() bool {
	return s != Air
}

// Top returns the height of the walkable surface relative to the cell floor.
func (s Shape) Top() float64 {
	switch s {
	case Full:
		return 1
	case Slab:
		return 0.5
	case Fence:
		return 1.5
	default:
		return 0
	}
}

// Boxes returns the world-space collision volumes of the shape placed at pos.
func (s Shape) Boxes(pos cube.Pos) []cube.BBox {
	x, y, z := float64(pos.X()), float64(pos.Y()), float64(pos.Z())
	switch s {
	case Full:
		return []cube.BBox{cube.Box(x, y, z, x+1, y+1, z+1)}
	case Slab:
		return []cube.BBox{cube.Box(x, y, z, x+1, y+0.5, z+1)}
	case Fence:
		return []cube.BBox{cube.Box(x+0.375, y, z+0.375, x+0.625, y+1.5, z+0.625)}
	default:
		return nil
	}
}
