package world

import (
	"context"
	"fmt"

	"kiddoverse.ai/internal/sim/catalogs"
	"kiddoverse.ai/internal/sim/world/terrain/store"
)

// editAttempts bounds how often an edit regenerates a chunk that was evicted
// between generation and the write.
const editAttempts = 3

// Edit is the pending result of SetBlock, BreakBlock or PlaceBlock.
type Edit struct {
	done    chan struct{}
	changed bool
	err     error
}

func newEdit() *Edit { return &Edit{done: make(chan struct{})} }

func (e *Edit) finish(changed bool, err error) *Edit {
	e.changed, e.err = changed, err
	close(e.done)
	return e
}

// Done is closed once the edit has been applied or rejected.
func (e *Edit) Done() <-chan struct{} { return e.done }

// Wait blocks until the edit completes or ctx ends.
func (e *Edit) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Changed reports whether the edit modified the voxel. Valid after Done.
func (e *Edit) Changed() bool {
	<-e.done
	return e.changed
}

func (e *Edit) Err() error {
	<-e.done
	return e.err
}

// GetBlock returns the block at a world voxel coordinate. It never loads a
// chunk; unloaded space reads as air.
func (w *World) GetBlock(x, y, z int) catalogs.BlockID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blockLocked(x, y, z)
}

// SetBlock writes id at a world voxel coordinate, generating the owning
// chunk first when it is not resident. Writing the current value is a no-op.
func (w *World) SetBlock(x, y, z int, id catalogs.BlockID) *Edit {
	if !w.blocks.Known(id) {
		return newEdit().finish(false, fmt.Errorf("world: set %d,%d,%d: %w: %d", x, y, z, ErrUnknownBlock, id))
	}
	return w.edit(x, y, z, func(catalogs.BlockID) (catalogs.BlockID, error) { return id, nil })
}

// BreakBlock replaces a breakable block with air.
func (w *World) BreakBlock(x, y, z int) *Edit {
	return w.edit(x, y, z, func(cur catalogs.BlockID) (catalogs.BlockID, error) {
		if cur == catalogs.Air {
			return cur, nil
		}
		def, ok := w.blocks.Def(cur)
		if !ok || !def.Breakable {
			return cur, fmt.Errorf("world: break %d,%d,%d: %w", x, y, z, ErrUnbreakable)
		}
		return catalogs.Air, nil
	})
}

// PlaceBlock writes id only into an air cell.
func (w *World) PlaceBlock(x, y, z int, id catalogs.BlockID) *Edit {
	if id == catalogs.Air || !w.blocks.Known(id) {
		return newEdit().finish(false, fmt.Errorf("world: place %d,%d,%d: %w: %d", x, y, z, ErrUnknownBlock, id))
	}
	return w.edit(x, y, z, func(cur catalogs.BlockID) (catalogs.BlockID, error) {
		if cur != catalogs.Air {
			return cur, fmt.Errorf("world: place %d,%d,%d: %w", x, y, z, ErrOccupied)
		}
		return id, nil
	})
}

func (w *World) edit(x, y, z int, decide func(cur catalogs.BlockID) (catalogs.BlockID, error)) *Edit {
	key, lx, ly, lz := store.Locate(x, y, z, w.cfg.ChunkSize)
	pos := [3]int{x, y, z}
	e := newEdit()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return e.finish(false, ErrClosed)
	}
	if ch := w.chunks.Get(key); ch != nil {
		changed, err := w.applyLocked(ch, lx, ly, lz, pos, decide)
		w.mu.Unlock()
		return e.finish(changed, err)
	}
	w.bg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.bg.Done()
		for attempt := 0; attempt < editAttempts; attempt++ {
			ch, err := w.ensureChunk(key)
			if err != nil {
				e.finish(false, err)
				return
			}
			w.mu.Lock()
			if w.chunks.Get(key) != ch {
				w.mu.Unlock()
				continue
			}
			changed, err := w.applyLocked(ch, lx, ly, lz, pos, decide)
			w.mu.Unlock()
			e.finish(changed, err)
			return
		}
		e.finish(false, fmt.Errorf("world: chunk %s evicted before edit", key))
	}()
	return e
}

// applyLocked runs decide against the current voxel and writes the result.
// w.mu held.
func (w *World) applyLocked(ch *store.Chunk, lx, ly, lz int, pos [3]int, decide func(catalogs.BlockID) (catalogs.BlockID, error)) (bool, error) {
	next, err := decide(ch.At(lx, ly, lz))
	if err != nil {
		return false, err
	}
	changed, err := w.setBlockLocked(ch, lx, ly, lz, next)
	if err != nil || !changed {
		return false, err
	}
	p := pos
	w.logChunk(ChunkEvent{Kind: ChunkEdited, Chunk: ch.Key.Array(), Pos: &p, Block: uint16(next)})
	return true, nil
}

// setBlockLocked writes one voxel of ch. A write that changes nothing leaves
// every dirty flag alone. A change on a boundary plane also dirties the
// resident neighbor sharing that face. w.mu held.
func (w *World) setBlockLocked(ch *store.Chunk, lx, ly, lz int, id catalogs.BlockID) (bool, error) {
	if !ch.InRange(lx, ly, lz) {
		w.logger.Printf("world: chunk %s: local %d,%d,%d outside 0..%d", ch.Key, lx, ly, lz, ch.Size-1)
		return false, fmt.Errorf("world: chunk %s: %w", ch.Key, ErrOutOfRange)
	}
	if !ch.Set(lx, ly, lz, id) {
		return false, nil
	}
	ch.Touch(w.now())
	w.editsTotal.Add(1)

	last := ch.Size - 1
	local := [3]int{lx, ly, lz}
	for axis := 0; axis < 3; axis++ {
		var d [3]int
		switch local[axis] {
		case 0:
			d[axis] = -1
		case last:
			d[axis] = 1
		default:
			continue
		}
		if n := w.chunks.Get(ch.Key.Add(d[0], d[1], d[2])); n != nil {
			n.MarkDirty()
		}
		// A one-voxel chunk touches both faces on every axis.
		if last == 0 {
			if n := w.chunks.Get(ch.Key.Add(-d[0], -d[1], -d[2])); n != nil {
				n.MarkDirty()
			}
		}
	}
	return true, nil
}

// ChunkInfo describes one resident chunk.
type ChunkInfo struct {
	Key      [3]int `json:"key"`
	Dirty    bool   `json:"dirty"`
	Building bool   `json:"building,omitempty"`
	Faces    int    `json:"faces"`
	IdleMS   int64  `json:"idle_ms"`
}

// IsResident reports whether the chunk at key is loaded.
func (w *World) IsResident(key store.ChunkKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chunks.Get(key) != nil
}

// IsDirty reports whether the resident chunk at key awaits a rebuild.
func (w *World) IsDirty(key store.ChunkKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := w.chunks.Get(key)
	return ch != nil && ch.Dirty()
}

// ResidentChunks lists loaded chunks ordered by key.
func (w *World) ResidentChunks() []ChunkInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	keys := w.chunks.LoadedChunkKeys()
	out := make([]ChunkInfo, 0, len(keys))
	for _, k := range keys {
		ch := w.chunks.Get(k)
		info := ChunkInfo{
			Key:      k.Array(),
			Dirty:    ch.Dirty(),
			Building: ch.Building(),
			IdleMS:   now.Sub(ch.LastAccess()).Milliseconds(),
		}
		if ch.Mesh != nil {
			info.Faces = ch.Mesh.Faces()
		}
		out = append(out, info)
	}
	return out
}
