package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"kiddoverse.ai/internal/sim/catalogs"
	"kiddoverse.ai/internal/sim/world/logic/mathx"
	"kiddoverse.ai/internal/sim/world/mesh"
)

type ChunkKey struct {
	CX int
	CY int
	CZ int
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%d,%d,%d", k.CX, k.CY, k.CZ)
}

func (k ChunkKey) Add(dx, dy, dz int) ChunkKey {
	return ChunkKey{CX: k.CX + dx, CY: k.CY + dy, CZ: k.CZ + dz}
}

// Origin is the world voxel coordinate of the chunk's minimum corner.
func (k ChunkKey) Origin(size int) [3]int {
	return [3]int{k.CX * size, k.CY * size, k.CZ * size}
}

func (k ChunkKey) Array() [3]int { return [3]int{k.CX, k.CY, k.CZ} }

// Locate maps a world voxel coordinate to its chunk and local coordinate.
func Locate(x, y, z, size int) (ChunkKey, int, int, int) {
	cx, lx := mathx.Split(x, size)
	cy, ly := mathx.Split(y, size)
	cz, lz := mathx.Split(z, size)
	return ChunkKey{CX: cx, CY: cy, CZ: cz}, lx, ly, lz
}

// Chunk is a dense cube of block ids. Blocks is indexed y-outer, z-middle,
// x-inner and never changes length.
type Chunk struct {
	Key    ChunkKey
	Size   int
	Blocks []catalogs.BlockID

	// Mesh is the chunk's current geometry, nil when nothing is visible. The
	// scene owns its release.
	Mesh *mesh.Batch

	dirty      bool
	building   atomic.Bool
	lastAccess time.Time
}

// NewChunk wraps blocks, which must hold size³ ids. New chunks start dirty.
func NewChunk(key ChunkKey, size int, blocks []catalogs.BlockID, now time.Time) (*Chunk, error) {
	if size < 1 || len(blocks) != size*size*size {
		return nil, fmt.Errorf("chunk %s: %d blocks for size %d", key, len(blocks), size)
	}
	return &Chunk{Key: key, Size: size, Blocks: blocks, dirty: true, lastAccess: now}, nil
}

func (c *Chunk) InRange(lx, ly, lz int) bool {
	return lx >= 0 && ly >= 0 && lz >= 0 && lx < c.Size && ly < c.Size && lz < c.Size
}

func (c *Chunk) index(lx, ly, lz int) int {
	return (ly*c.Size+lz)*c.Size + lx
}

func (c *Chunk) At(lx, ly, lz int) catalogs.BlockID {
	if !c.InRange(lx, ly, lz) {
		return catalogs.Air
	}
	return c.Blocks[c.index(lx, ly, lz)]
}

// Set writes id and reports whether the voxel changed. Callers check InRange.
func (c *Chunk) Set(lx, ly, lz int, id catalogs.BlockID) bool {
	i := c.index(lx, ly, lz)
	if c.Blocks[i] == id {
		return false
	}
	c.Blocks[i] = id
	c.dirty = true
	return true
}

func (c *Chunk) Dirty() bool { return c.dirty }
func (c *Chunk) MarkDirty()  { c.dirty = true }
func (c *Chunk) ClearDirty() { c.dirty = false }

// BeginBuild claims the chunk for a mesh rebuild. It fails while another
// rebuild holds the claim.
func (c *Chunk) BeginBuild() bool { return c.building.CompareAndSwap(false, true) }
func (c *Chunk) EndBuild()        { c.building.Store(false) }
func (c *Chunk) Building() bool   { return c.building.Load() }

func (c *Chunk) Touch(now time.Time) {
	if now.After(c.lastAccess) {
		c.lastAccess = now
	}
}

func (c *Chunk) LastAccess() time.Time { return c.lastAccess }

func (c *Chunk) Digest() string {
	return Digest(c.Blocks)
}

// Digest hashes block ids as little-endian uint16s.
func Digest(blocks []catalogs.BlockID) string {
	h := sha256.New()
	buf := make([]byte, 2*len(blocks))
	for i, v := range blocks {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	h.Write(buf)
	return hex.EncodeToString(h.Sum(nil))
}
