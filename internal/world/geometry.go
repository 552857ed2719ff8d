// Package world models the authoritative game world the simulation reads
// from but never mutates: block geometry, observing players and the spatial
// partitioning used to schedule actors.
package world

import (
	"math"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/sasha-s/go-deadlock"
)

// Geometry answers collision queries against world terrain. A false ok means
// the queried area is not loaded; callers must defer rather than guess.
type Geometry interface {
	Block(world string, pos cube.Pos) (Shape, bool)
	Collisions(world string, area cube.BBox) ([]cube.BBox, bool)
}

// ChunkPos addresses a 16x16 column of blocks.
type ChunkPos struct {
	X int32
	Z int32
}

// ChunkOf returns the column holding pos.
func ChunkOf(pos cube.Pos) ChunkPos {
	return ChunkPos{X: int32(pos.X() >> 4), Z: int32(pos.Z() >> 4)}
}

type cell struct {
	world string
	pos   cube.Pos
}

type chunkKey struct {
	world string
	chunk ChunkPos
}

// Grid is an in-memory voxel store implementing Geometry. Every chunk is
// loaded unless explicitly unloaded.
type Grid struct {
	mu       deadlock.RWMutex
	cells    map[cell]Shape
	unloaded map[chunkKey]struct{}
}

func NewGrid() *Grid {
	return &Grid{
		cells:    make(map[cell]Shape),
		unloaded: make(map[chunkKey]struct{}),
	}
}

// Set places shape at pos; Air clears the cell.
func (g *Grid) Set(world string, pos cube.Pos, shape Shape) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setLocked(world, pos, shape)
}

func (g *Grid) setLocked(world string, pos cube.Pos, shape Shape) {
	key := cell{world: world, pos: pos}
	if shape == Air {
		delete(g.cells, key)
		return
	}
	g.cells[key] = shape
}

// Fill sets every cell of the inclusive cuboid spanned by a and b.
func (g *Grid) Fill(world string, a, b cube.Pos, shape Shape) {
	if g == nil {
		return
	}
	minX, maxX := min(a.X(), b.X()), max(a.X(), b.X())
	minY, maxY := min(a.Y(), b.Y()), max(a.Y(), b.Y())
	minZ, maxZ := min(a.Z(), b.Z()), max(a.Z(), b.Z())

	g.mu.Lock()
	defer g.mu.Unlock()
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			for z := minZ; z <= maxZ; z++ {
				g.setLocked(world, cube.Pos{x, y, z}, shape)
			}
		}
	}
}

// Unload marks a chunk as missing so queries touching it report ok=false.
func (g *Grid) Unload(world string, chunk ChunkPos) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.unloaded[chunkKey{world: world, chunk: chunk}] = struct{}{}
	g.mu.Unlock()
}

func (g *Grid) Load(world string, chunk ChunkPos) {
	if g == nil {
		return
	}
	g.mu.Lock()
	delete(g.unloaded, chunkKey{world: world, chunk: chunk})
	g.mu.Unlock()
}

func (g *Grid) Block(world string, pos cube.Pos) (Shape, bool) {
	if g == nil {
		return Air, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.isUnloadedLocked(world, pos) {
		return Air, false
	}
	return g.cells[cell{world: world, pos: pos}], true
}

// Collisions returns the volumes of every solid cell that may touch area.
// The scan starts one cell below area so shapes taller than a block are
// included.
func (g *Grid) Collisions(world string, area cube.BBox) ([]cube.BBox, bool) {
	if g == nil {
		return nil, false
	}
	lo, hi := area.Min(), area.Max()
	minX, maxX := int(math.Floor(lo[0])), int(math.Floor(hi[0]))
	minY, maxY := int(math.Floor(lo[1]))-1, int(math.Floor(hi[1]))
	minZ, maxZ := int(math.Floor(lo[2])), int(math.Floor(hi[2]))

	g.mu.RLock()
	defer g.mu.RUnlock()

	var boxes []cube.BBox
	for x := minX; x <= maxX; x++ {
		for z := minZ; z <= maxZ; z++ {
			if g.isUnloadedLocked(world, cube.Pos{x, 0, z}) {
				return nil, false
			}
			for y := minY; y <= maxY; y++ {
				pos := cube.Pos{x, y, z}
				if shape, ok := g.cells[cell{world: world, pos: pos}]; ok {
					boxes = append(boxes, shape.Boxes(pos)...)
				}
			}
		}
	}
	return boxes, true
}

func (g *Grid) isUnloadedLocked(world string, pos cube.Pos) bool {
	if len(g.unloaded) == 0 {
		return false
	}
	_, missing := g.unloaded[chunkKey{world: world, chunk: ChunkOf(pos)}]
	return missing
}
