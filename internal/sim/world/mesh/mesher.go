package mesh

import (
	"log"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"kiddoverse.ai/internal/sim/catalogs"
)

// Input is one chunk's voxels plus a way to read beyond its boundary.
type Input struct {
	// Origin is the world voxel coordinate of the chunk's minimum corner.
	Origin [3]int
	Size   int
	// Blocks is indexed y*Size*Size + z*Size + x.
	Blocks []catalogs.BlockID
	// Neighbor reads world voxels outside the chunk. Nil reads as air.
	Neighbor func(x, y, z int) catalogs.BlockID
}

func (in Input) at(lx, ly, lz int) catalogs.BlockID {
	s := in.Size
	if lx >= 0 && ly >= 0 && lz >= 0 && lx < s && ly < s && lz < s {
		return in.Blocks[(ly*s+lz)*s+lx]
	}
	if in.Neighbor == nil {
		return catalogs.Air
	}
	return in.Neighbor(in.Origin[0]+lx, in.Origin[1]+ly, in.Origin[2]+lz)
}

// Mesher builds face-culled geometry: one quad per voxel face that borders
// air or a transparent block.
type Mesher struct {
	blocks    *catalogs.BlockCatalog
	materials *MaterialCache
	blockSize float32
	logger    *log.Logger

	mu      sync.Mutex
	unknown map[catalogs.BlockID]bool
}

func NewMesher(blocks *catalogs.BlockCatalog, materials *MaterialCache, blockSize float64, logger *log.Logger) *Mesher {
	if logger == nil {
		logger = log.Default()
	}
	if blockSize <= 0 {
		blockSize = 1
	}
	return &Mesher{
		blocks:    blocks,
		materials: materials,
		blockSize: float32(blockSize),
		logger:    logger,
		unknown:   map[catalogs.BlockID]bool{},
	}
}

func (m *Mesher) Materials() *MaterialCache { return m.materials }

func (m *Mesher) reportUnknown(id catalogs.BlockID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unknown[id] {
		return
	}
	m.unknown[id] = true
	m.logger.Printf("mesh: block id %d has no definition; skipping its faces", id)
}

func textureKey(def catalogs.BlockDef, class faceClass) string {
	switch class {
	case classTop:
		return def.Textures.TopKey()
	case classBottom:
		return def.Textures.BottomKey()
	default:
		return def.Textures.SideKey()
	}
}

// Build returns the chunk's visible faces, or nil when none are visible.
// Voxels are visited y, z, x so group boundaries are reproducible.
func (m *Mesher) Build(in Input) *Batch {
	s := in.Size
	b := &Batch{}
	half := m.blockSize / 2

	for ly := 0; ly < s; ly++ {
		for lz := 0; lz < s; lz++ {
			for lx := 0; lx < s; lx++ {
				id := in.Blocks[(ly*s+lz)*s+lx]
				if id == catalogs.Air {
					continue
				}
				def, ok := m.blocks.Def(id)
				if !ok {
					m.reportUnknown(id)
					continue
				}
				center := mgl32.Vec3{
					float32(lx)*m.blockSize + half,
					float32(ly)*m.blockSize + half,
					float32(lz)*m.blockSize + half,
				}
				for f := range faces {
					fd := &faces[f]
					n := in.at(lx+fd.dir[0], ly+fd.dir[1], lz+fd.dir[2])
					if !m.blocks.SeeThrough(n) {
						continue
					}
					mat := m.materials.Resolve(textureKey(def, fd.class), def)
					m.emit(b, fd, center, mat)
				}
			}
		}
	}

	if len(b.Indices) == 0 {
		return nil
	}
	b.computeBounds()
	return b
}

func (m *Mesher) emit(b *Batch, fd *faceDef, center mgl32.Vec3, mat *Material) {
	base := uint32(len(b.Positions))
	for i, c := range fd.corners {
		b.Positions = append(b.Positions, center.Add(c.Mul(m.blockSize)))
		b.Normals = append(b.Normals, fd.normal)
		b.UVs = append(b.UVs, quadUVs[i])
	}
	start := len(b.Indices)
	b.Indices = append(b.Indices, base, base+1, base+2, base, base+2, base+3)

	if n := len(b.Groups); n > 0 && b.Groups[n-1].Material == mat {
		b.Groups[n-1].Count += 6
		return
	}
	b.Groups = append(b.Groups, DrawGroup{Start: start, Count: 6, Material: mat})
}
