package world

import (
	"sort"

	"kiddoverse.ai/internal/sim/catalogs"
	"kiddoverse.ai/internal/sim/world/mesh"
	"kiddoverse.ai/internal/sim/world/terrain/store"
)

// meshPass rebuilds up to MaxRebuildsPerFrame dirty chunks, nearest to the
// viewpoint first.
func (w *World) meshPass() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	dirty := w.chunks.Dirty()
	if len(dirty) == 0 {
		return 0
	}
	c := w.view
	dist := func(k store.ChunkKey) int {
		dx, dy, dz := k.CX-c.CX, k.CY-c.CY, k.CZ-c.CZ
		return dx*dx + dy*dy + dz*dz
	}
	sort.Slice(dirty, func(i, j int) bool {
		di, dj := dist(dirty[i].Key), dist(dirty[j].Key)
		if di != dj {
			return di < dj
		}
		a, b := dirty[i].Key, dirty[j].Key
		if a.CY != b.CY {
			return a.CY < b.CY
		}
		if a.CZ != b.CZ {
			return a.CZ < b.CZ
		}
		return a.CX < b.CX
	})

	built := 0
	for _, ch := range dirty {
		if built >= w.cfg.MaxRebuildsPerFrame {
			break
		}
		if w.rebuildLocked(ch) {
			built++
		}
	}
	return built
}

// rebuildLocked replaces ch's mesh. It returns false when another rebuild of
// ch is already in flight. w.mu held.
func (w *World) rebuildLocked(ch *store.Chunk) bool {
	if !ch.BeginBuild() {
		return false
	}
	defer ch.EndBuild()

	key := ch.Key.Array()
	if ch.Mesh != nil {
		w.scene.Remove(key)
		ch.Mesh = nil
	}

	origin := ch.Key.Origin(ch.Size)
	batch := w.mesher.Build(mesh.Input{
		Origin:   origin,
		Size:     ch.Size,
		Blocks:   ch.Blocks,
		Neighbor: w.blockLocked,
	})
	ch.ClearDirty()
	w.rebuildsTotal.Add(1)

	ev := ChunkEvent{Kind: ChunkMeshed, Chunk: key}
	if batch != nil {
		ch.Mesh = batch
		w.scene.Put(key, w.sceneOrigin(origin), batch)
		ev.Faces = batch.Faces()
		ev.Materials = len(batch.Materials())
	}
	w.logChunk(ev)
	return true
}

// blockLocked reads a world voxel; chunks that are not resident read as air.
// w.mu held.
func (w *World) blockLocked(x, y, z int) catalogs.BlockID {
	id, _ := w.chunks.Block(x, y, z)
	return id
}
