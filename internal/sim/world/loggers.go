package world

// FrameLogger records frames that did work. Implemented in
// internal/persistence/*.
type FrameLogger interface {
	WriteFrame(entry FrameLogEntry) error
}

// ChunkLogger records chunk lifecycle transitions.
type ChunkLogger interface {
	WriteChunkEvent(ev ChunkEvent) error
}

type FrameLogEntry struct {
	Frame     uint64  `json:"frame"`
	View      [3]int  `json:"view"`
	Moved     bool    `json:"moved,omitempty"`
	Generated int     `json:"generated,omitempty"`
	Rebuilt   int     `json:"rebuilt,omitempty"`
	Evicted   int     `json:"evicted,omitempty"`
	Edits     int     `json:"edits,omitempty"`
	Resident  int     `json:"resident"`
	Dirty     int     `json:"dirty"`
	StepMS    float64 `json:"step_ms"`
}

const (
	ChunkGenerated = "GENERATED"
	ChunkMeshed    = "MESHED"
	ChunkEvicted   = "EVICTED"
	ChunkEdited    = "EDITED"
)

type ChunkEvent struct {
	Frame uint64 `json:"frame"`
	Kind  string `json:"kind"`
	Chunk [3]int `json:"chunk"`

	// GENERATED
	Seed   int64  `json:"seed,omitempty"`
	Theme  string `json:"theme,omitempty"`
	Digest string `json:"digest,omitempty"`

	// MESHED
	Faces     int `json:"faces,omitempty"`
	Materials int `json:"materials,omitempty"`

	// EDITED
	Pos   *[3]int `json:"pos,omitempty"`
	Block uint16  `json:"block,omitempty"`
}

func (w *World) logChunk(ev ChunkEvent) {
	if w.chunkLogger == nil {
		return
	}
	ev.Frame = w.frame.Load()
	_ = w.chunkLogger.WriteChunkEvent(ev)
}
