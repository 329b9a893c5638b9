package world

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// FrameStats summarizes one Update.
type FrameStats struct {
	Frame     uint64
	View      [3]int
	Moved     bool
	Generated int
	Rebuilt   int
	Evicted   int
	Edits     int
	Resident  int
	Dirty     int
	StepMS    float64
}

func (s FrameStats) busy() bool {
	return s.Moved || s.Generated > 0 || s.Rebuilt > 0 || s.Evicted > 0 || s.Edits > 0
}

// Update advances one frame for viewpoint p. Crossing into another chunk
// (or the first call) starts a background load/unload pass; every call then
// rebuilds up to MaxRebuildsPerFrame dirty meshes. Update must be called from
// a single goroutine.
func (w *World) Update(p mgl32.Vec3) FrameStats {
	start := time.Now()
	frame := w.frame.Add(1)
	key := w.ChunkKeyAt(p)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return FrameStats{Frame: frame, View: key.Array()}
	}
	moved := !w.hasView || w.view != key
	w.view, w.hasView = key, true
	if moved {
		w.bg.Add(1)
	}
	w.mu.Unlock()

	if moved {
		go func() {
			defer w.bg.Done()
			w.loadLatest()
		}()
	}

	rebuilt := w.meshPass()

	generated, evicted, edits := w.generatedTotal.Load(), w.evictedTotal.Load(), w.editsTotal.Load()
	stats := FrameStats{
		Frame:     frame,
		View:      key.Array(),
		Moved:     moved,
		Generated: int(generated - w.seenGenerated),
		Rebuilt:   rebuilt,
		Evicted:   int(evicted - w.seenEvicted),
		Edits:     int(edits - w.seenEdits),
	}
	w.seenGenerated, w.seenEvicted, w.seenEdits = generated, evicted, edits

	w.mu.Lock()
	stats.Resident = w.chunks.Len()
	stats.Dirty = len(w.chunks.Dirty())
	w.mu.Unlock()
	stats.StepMS = float64(time.Since(start).Microseconds()) / 1000.0

	w.metrics.Store(WorldMetrics{
		Frame:          frame,
		Theme:          w.theme.Name,
		Seed:           w.cfg.Seed,
		View:           stats.View,
		Resident:       stats.Resident,
		Dirty:          stats.Dirty,
		Meshed:         w.scene.Len(),
		Materials:      w.Materials().Len(),
		GeneratedTotal: generated,
		EvictedTotal:   evicted,
		RebuildsTotal:  w.rebuildsTotal.Load(),
		EditsTotal:     edits,
		StepMS:         stats.StepMS,
	})

	if w.frameLogger != nil && stats.busy() {
		_ = w.frameLogger.WriteFrame(FrameLogEntry{
			Frame:     stats.Frame,
			View:      stats.View,
			Moved:     stats.Moved,
			Generated: stats.Generated,
			Rebuilt:   stats.Rebuilt,
			Evicted:   stats.Evicted,
			Edits:     stats.Edits,
			Resident:  stats.Resident,
			Dirty:     stats.Dirty,
			StepMS:    stats.StepMS,
		})
	}
	return stats
}
