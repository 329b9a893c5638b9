package store

import (
	"sort"

	"kiddoverse.ai/internal/sim/catalogs"
)

// ChunkStore maps resident chunk keys to chunks. It has no lock; the owner
// serializes access.
type ChunkStore struct {
	size   int
	chunks map[ChunkKey]*Chunk
}

func NewChunkStore(size int) *ChunkStore {
	return &ChunkStore{size: size, chunks: map[ChunkKey]*Chunk{}}
}

func (s *ChunkStore) ChunkSize() int { return s.size }
func (s *ChunkStore) Len() int       { return len(s.chunks) }

func (s *ChunkStore) Get(k ChunkKey) *Chunk {
	return s.chunks[k]
}

// Insert adds ch unless its key is already resident, in which case the
// resident chunk is returned unchanged.
func (s *ChunkStore) Insert(ch *Chunk) (*Chunk, bool) {
	if cur, ok := s.chunks[ch.Key]; ok {
		return cur, false
	}
	s.chunks[ch.Key] = ch
	return ch, true
}

func (s *ChunkStore) Delete(k ChunkKey) *Chunk {
	ch := s.chunks[k]
	delete(s.chunks, k)
	return ch
}

// Block reads a world voxel. Absent chunks read as air.
func (s *ChunkStore) Block(x, y, z int) (id catalogs.BlockID, resident bool) {
	k, lx, ly, lz := Locate(x, y, z, s.size)
	ch := s.chunks[k]
	if ch == nil {
		return catalogs.Air, false
	}
	return ch.At(lx, ly, lz), true
}

func lessKey(a, b ChunkKey) bool {
	if a.CX != b.CX {
		return a.CX < b.CX
	}
	if a.CY != b.CY {
		return a.CY < b.CY
	}
	return a.CZ < b.CZ
}

func (s *ChunkStore) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	return keys
}

// ByLastAccess returns resident chunks, least recently accessed first. Ties
// fall back to key order.
func (s *ChunkStore) ByLastAccess() []*Chunk {
	out := make([]*Chunk, 0, len(s.chunks))
	for _, ch := range s.chunks {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].lastAccess, out[j].lastAccess
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return lessKey(out[i].Key, out[j].Key)
	})
	return out
}

// Dirty returns chunks that need a rebuild and are not mid-build.
func (s *ChunkStore) Dirty() []*Chunk {
	var out []*Chunk
	for _, ch := range s.chunks {
		if ch.dirty && !ch.Building() {
			out = append(out, ch)
		}
	}
	return out
}

func (s *ChunkStore) Each(fn func(*Chunk)) {
	for _, ch := range s.chunks {
		fn(ch)
	}
}

// Shell lists the keys within r chunks of center on x and z and v chunks on
// y. The result is a box, ordered y, z, x.
func Shell(center ChunkKey, r, v int) []ChunkKey {
	out := make([]ChunkKey, 0, (2*r+1)*(2*r+1)*(2*v+1))
	for dy := -v; dy <= v; dy++ {
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				out = append(out, center.Add(dx, dy, dz))
			}
		}
	}
	return out
}

// InShell reports whether k lies in the box Shell(center, r, v) describes.
func InShell(k, center ChunkKey, r, v int) bool {
	dx, dy, dz := k.CX-center.CX, k.CY-center.CY, k.CZ-center.CZ
	return dx >= -r && dx <= r && dz >= -r && dz <= r && dy >= -v && dy <= v
}
