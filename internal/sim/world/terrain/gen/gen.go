package gen

import (
	"errors"
	"fmt"
	"math"

	"kiddoverse.ai/internal/sim/catalogs"
)

// Generator fills chunks from a height field. It is a pure function of
// (seed, theme, chunk coordinate) and is safe for concurrent use.
type Generator struct {
	theme     catalogs.Theme
	noise     *Noise
	chunkSize int
}

func New(theme catalogs.Theme, seed int64, chunkSize int) (*Generator, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("terrain: chunk size %d", chunkSize)
	}
	if !theme.Resolved() {
		return nil, errors.New("terrain: theme " + theme.Name + " is not resolved against a block catalog")
	}
	return &Generator{theme: theme, noise: NewNoise(seed), chunkSize: chunkSize}, nil
}

func (g *Generator) Seed() int64           { return g.noise.Seed() }
func (g *Generator) ChunkSize() int        { return g.chunkSize }
func (g *Generator) Theme() catalogs.Theme { return g.theme }

// SurfaceHeight is the world y of the surface block in column (wx, wz).
func (g *Generator) SurfaceHeight(wx, wz int) int {
	tr := g.theme.Terrain
	n := g.noise.Eval2(float64(wx)*tr.NoiseScaleXZ, float64(wz)*tr.NoiseScaleXZ)
	return int(math.Floor(tr.BaseHeight + n*tr.Amplitude))
}

// Classify picks the block at worldY for a column whose surface is at surfaceY.
func (g *Generator) Classify(worldY, surfaceY int) catalogs.BlockID {
	p := g.theme.Palette
	switch {
	case worldY < surfaceY-g.theme.Terrain.StoneDepth:
		return p.DeepStone
	case worldY < surfaceY:
		return p.SubSurface
	case worldY == surfaceY:
		return p.Surface
	default:
		return catalogs.Air
	}
}

// Generate returns the voxels of chunk (cx, cy, cz), indexed
// y*S*S + z*S + x.
func (g *Generator) Generate(cx, cy, cz int) []catalogs.BlockID {
	s := g.chunkSize
	out := make([]catalogs.BlockID, s*s*s)
	ox, oy, oz := cx*s, cy*s, cz*s
	for lz := 0; lz < s; lz++ {
		for lx := 0; lx < s; lx++ {
			surfaceY := g.SurfaceHeight(ox+lx, oz+lz)
			if oy > surfaceY {
				continue
			}
			for ly := 0; ly < s; ly++ {
				out[(ly*s+lz)*s+lx] = g.Classify(oy+ly, surfaceY)
			}
		}
	}
	return out
}
