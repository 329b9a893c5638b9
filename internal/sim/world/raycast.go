package world

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"kiddoverse.ai/internal/sim/catalogs"
)

type Hit struct {
	// Block is the voxel that was hit.
	Block [3]int
	// Prev is the empty voxel sharing the entered face with Block; PlaceBlock
	// targets it. Equal to Block when the origin is inside a solid voxel.
	Prev [3]int
	ID   catalogs.BlockID
}

// Raycast walks the voxels crossed by the ray from origin along dir, one face
// at a time, for up to maxDist scene units and returns the first solid voxel.
// Unloaded space counts as air.
func (w *World) Raycast(origin, dir mgl32.Vec3, maxDist float32) (Hit, bool) {
	if dir.Len() == 0 || maxDist <= 0 {
		return Hit{}, false
	}
	dir = dir.Normalize()
	bs := w.cfg.BlockSize
	maxT := float64(maxDist) / bs

	w.mu.Lock()
	defer w.mu.Unlock()

	pos := w.BlockPosAt(origin)
	var (
		step   [3]int
		tMax   [3]float64
		tDelta [3]float64
	)
	for i := 0; i < 3; i++ {
		o := float64(origin[i]) / bs
		d := float64(dir[i])
		switch {
		case d > 0:
			step[i] = 1
			tMax[i] = (float64(pos[i]+1) - o) / d
			tDelta[i] = 1 / d
		case d < 0:
			step[i] = -1
			tMax[i] = (float64(pos[i]) - o) / d
			tDelta[i] = -1 / d
		default:
			tMax[i] = math.Inf(1)
			tDelta[i] = math.Inf(1)
		}
	}

	prev := pos
	for {
		if id := w.blockLocked(pos[0], pos[1], pos[2]); id != catalogs.Air {
			return Hit{Block: pos, Prev: prev, ID: id}, true
		}
		axis := 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		if tMax[axis] > maxT {
			return Hit{}, false
		}
		prev = pos
		pos[axis] += step[axis]
		tMax[axis] += tDelta[axis]
	}
}
