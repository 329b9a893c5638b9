package mesh

import (
	"math"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

// DrawGroup is a contiguous index range drawn with one material.
type DrawGroup struct {
	Start    int
	Count    int
	Material *Material
}

// Batch is the geometry of one chunk. Positions are relative to the chunk
// origin in scene units.
type Batch struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	UVs       []mgl32.Vec2
	Indices   []uint32
	Groups    []DrawGroup

	// Bounding sphere in chunk-local scene units.
	Center mgl32.Vec3
	Radius float32

	released atomic.Bool
}

func (b *Batch) Faces() int { return len(b.Indices) / 6 }

// Materials lists the distinct materials of the batch in group order.
func (b *Batch) Materials() []*Material {
	var out []*Material
	seen := map[*Material]bool{}
	for _, g := range b.Groups {
		if !seen[g.Material] {
			seen[g.Material] = true
			out = append(out, g.Material)
		}
	}
	return out
}

// Release drops the buffers. It is safe to call more than once.
func (b *Batch) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	b.Positions = nil
	b.Normals = nil
	b.UVs = nil
	b.Indices = nil
	b.Groups = nil
}

func (b *Batch) Released() bool { return b.released.Load() }

func (b *Batch) computeBounds() {
	if len(b.Positions) == 0 {
		return
	}
	lo, hi := b.Positions[0], b.Positions[0]
	for _, p := range b.Positions[1:] {
		for i := 0; i < 3; i++ {
			lo[i] = min(lo[i], p[i])
			hi[i] = max(hi[i], p[i])
		}
	}
	b.Center = lo.Add(hi).Mul(0.5)
	var r2 float32
	for _, p := range b.Positions {
		d := p.Sub(b.Center)
		r2 = max(r2, d.Dot(d))
	}
	b.Radius = float32(math.Sqrt(float64(r2)))
}
