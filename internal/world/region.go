package world

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// RegionKey identifies a square group of chunks. All actors inside one
// region are stepped by the same executor shard.
type RegionKey struct {
	World string
	X     int32
	Z     int32
}

func (k RegionKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.World, k.X, k.Z)
}

// RegionOf returns the region containing pos when regions span regionChunks
// chunks per side.
func RegionOf(world string, pos mgl64.Vec3, regionChunks int) RegionKey {
	if regionChunks <= 0 {
		regionChunks = 1
	}
	span := float64(16 * regionChunks)
	return RegionKey{
		World: world,
		X:     int32(math.Floor(pos[0] / span)),
		Z:     int32(math.Floor(pos[2] / span)),
	}
}
