package world

import (
	"context"
	"errors"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/go-gl/mathgl/mgl32"

	"kiddoverse.ai/internal/sim/catalogs"
	"kiddoverse.ai/internal/sim/world/terrain/store"
)

// LoadAround records p as the viewpoint and runs the load/unload pass for it
// before returning. The pass keeps running if ctx ends first.
func (w *World) LoadAround(ctx context.Context, p mgl32.Vec3) error {
	key := w.ChunkKeyAt(p)
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.view, w.hasView = key, true
	w.bg.Add(1)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer w.bg.Done()
		defer close(done)
		w.loadLatest()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadLatest runs the load/unload pass for the most recent viewpoint. Passes
// queued behind a running one collapse into a single pass.
func (w *World) loadLatest() {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()

	w.mu.Lock()
	center, ok, closed := w.view, w.hasView, w.closed
	w.mu.Unlock()
	if !ok || closed || (w.passed && w.passKey == center) {
		return
	}
	w.loadPass(center)
	w.passKey, w.passed = center, true
}

// loadPass makes the shell around center resident, then evicts. loadMu held.
func (w *World) loadPass(center store.ChunkKey) {
	shell := store.Shell(center, w.cfg.RenderDistance, w.cfg.VerticalRenderDistance)
	now := w.now()

	var missing []store.ChunkKey
	w.mu.Lock()
	for _, k := range shell {
		if ch := w.chunks.Get(k); ch != nil {
			ch.Touch(now)
		} else {
			missing = append(missing, k)
		}
	}
	w.mu.Unlock()

	var wg sync.WaitGroup
	for _, k := range missing {
		wg.Add(1)
		go func(k store.ChunkKey) {
			defer wg.Done()
			if _, err := w.ensureChunk(k); err != nil && !errors.Is(err, ErrClosed) {
				w.logger.Printf("world: ensure chunk %s: %v", k, err)
			}
		}(k)
	}
	wg.Wait()

	w.evict(center)
}

// ensureChunk returns the resident chunk at key, generating it on the pool
// when absent. Concurrent calls for one key share a single generation.
func (w *World) ensureChunk(key store.ChunkKey) (*store.Chunk, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	if ch := w.chunks.Get(key); ch != nil {
		ch.Touch(w.now())
		w.mu.Unlock()
		return ch, nil
	}
	w.mu.Unlock()

	v, err, _ := w.inflight.Do(key.String(), func() (any, error) {
		blocks, err := w.generate(key)
		if err != nil {
			return nil, err
		}
		ch, err := store.NewChunk(key, w.cfg.ChunkSize, blocks, w.now())
		if err != nil {
			return nil, err
		}

		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return nil, ErrClosed
		}
		ch, added := w.chunks.Insert(ch)
		w.mu.Unlock()

		if added {
			w.generatedTotal.Add(1)
			w.logChunk(ChunkEvent{
				Kind:   ChunkGenerated,
				Chunk:  key.Array(),
				Seed:   w.cfg.Seed,
				Theme:  w.theme.Name,
				Digest: store.Digest(blocks),
			})
		}
		return ch, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Chunk), nil
}

func (w *World) generate(key store.ChunkKey) ([]catalogs.BlockID, error) {
	var out []catalogs.BlockID
	task := w.pool.Submit(func() {
		out = w.gen.Generate(key.CX, key.CY, key.CZ)
	})
	if err := task.Wait(); err != nil {
		if errors.Is(err, pond.ErrPoolStopped) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return out, nil
}

// activeLocked reports whether k is inside the shell of center or of the
// latest recorded viewpoint. w.mu held.
func (w *World) activeLocked(k, center store.ChunkKey) bool {
	r, v := w.cfg.RenderDistance, w.cfg.VerticalRenderDistance
	if store.InShell(k, center, r, v) {
		return true
	}
	return w.hasView && store.InShell(k, w.view, r, v)
}

// evict drops the least recently accessed chunks while the population is
// over MaxChunks. Only chunks outside the active shell and idle for longer
// than UnloadDelay qualify, so the ceiling may stay exceeded.
func (w *World) evict(center store.ChunkKey) int {
	w.mu.Lock()
	if w.chunks.Len() <= w.cfg.MaxChunks {
		w.mu.Unlock()
		return 0
	}
	now := w.now()
	var dropped []store.ChunkKey
	for _, ch := range w.chunks.ByLastAccess() {
		if w.chunks.Len() <= w.cfg.MaxChunks {
			break
		}
		if w.activeLocked(ch.Key, center) || now.Sub(ch.LastAccess()) <= w.cfg.UnloadDelay {
			continue
		}
		w.scene.Remove(ch.Key.Array())
		ch.Mesh = nil
		w.chunks.Delete(ch.Key)
		dropped = append(dropped, ch.Key)
	}
	w.mu.Unlock()

	w.evictedTotal.Add(uint64(len(dropped)))
	for _, k := range dropped {
		w.logChunk(ChunkEvent{Kind: ChunkEvicted, Chunk: k.Array()})
	}
	return len(dropped)
}
