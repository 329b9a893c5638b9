package world

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"kiddoverse.ai/internal/sim/catalogs"
	"kiddoverse.ai/internal/sim/world/logic/mathx"
	"kiddoverse.ai/internal/sim/world/mesh"
	"kiddoverse.ai/internal/sim/world/terrain/gen"
	"kiddoverse.ai/internal/sim/world/terrain/store"
)

var (
	ErrOutOfRange   = errors.New("local coordinate outside chunk")
	ErrUnknownBlock = errors.New("unknown block id")
	ErrUnbreakable  = errors.New("block is not breakable")
	ErrOccupied     = errors.New("cell is occupied")
	ErrClosed       = errors.New("world closed")
)

// World streams chunks around a viewpoint. Update is driven by a single
// frame goroutine; GetBlock, SetBlock and the query methods may be called
// from any goroutine.
type World struct {
	cfg    WorldConfig
	theme  catalogs.Theme
	blocks *catalogs.BlockCatalog
	gen    *gen.Generator
	mesher *mesh.Mesher
	scene  *mesh.Scene
	logger *log.Logger
	now    func() time.Time

	mu      sync.Mutex
	chunks  *store.ChunkStore
	view    store.ChunkKey
	hasView bool
	closed  bool

	// loadMu serializes load/unload passes; passKey is the center of the
	// last completed pass.
	loadMu  sync.Mutex
	passKey store.ChunkKey
	passed  bool

	pool     pond.Pool
	inflight singleflight.Group
	bg       sync.WaitGroup

	frame          atomic.Uint64
	generatedTotal atomic.Uint64
	evictedTotal   atomic.Uint64
	rebuildsTotal  atomic.Uint64
	editsTotal     atomic.Uint64
	metrics        atomic.Value

	// Totals seen by the previous Update; frame goroutine only.
	seenGenerated, seenEvicted, seenEdits uint64

	frameLogger FrameLogger
	chunkLogger ChunkLogger
}

// New builds a world for cfg.Theme. materials may be shared by several
// worlds; nil creates a private cache.
func New(cfg WorldConfig, cats *catalogs.Catalogs, materials *mesh.MaterialCache) (*World, error) {
	cfg.applyDefaults()
	if cats == nil || cats.Blocks == nil || cats.Themes == nil {
		return nil, errors.New("world: catalogs are required")
	}
	theme, err := cats.Themes.Get(cfg.Theme)
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	blocks, err := cats.Blocks.WithShading(theme.ShadingOverrides)
	if err != nil {
		return nil, fmt.Errorf("world: theme %s: %w", theme.Name, err)
	}
	g, err := gen.New(theme, cfg.Seed, cfg.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	if materials == nil {
		materials = mesh.NewMaterialCache(cats.Textures, cfg.Logger)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	return &World{
		cfg:    cfg,
		theme:  theme,
		blocks: blocks,
		gen:    g,
		mesher: mesh.NewMesher(blocks, materials, cfg.BlockSize, cfg.Logger),
		scene:  mesh.NewScene(),
		logger: cfg.Logger,
		now:    time.Now,
		chunks: store.NewChunkStore(cfg.ChunkSize),
		pool:   pond.NewPool(cfg.GenerationWorkers),
	}, nil
}

func (w *World) SetFrameLogger(l FrameLogger) { w.frameLogger = l }
func (w *World) SetChunkLogger(l ChunkLogger) { w.chunkLogger = l }

func (w *World) ID() string                     { return w.cfg.ID }
func (w *World) Config() WorldConfig            { return w.cfg }
func (w *World) Theme() catalogs.Theme          { return w.theme }
func (w *World) Blocks() *catalogs.BlockCatalog { return w.blocks }
func (w *World) Generator() *gen.Generator      { return w.gen }
func (w *World) Materials() *mesh.MaterialCache { return w.mesher.Materials() }

// Scene is the render aggregate: one node per meshed chunk.
func (w *World) Scene() *mesh.Scene { return w.scene }

// ChunkKeyAt maps a scene-space position to the chunk containing it.
func (w *World) ChunkKeyAt(p mgl32.Vec3) store.ChunkKey {
	span := float64(w.cfg.ChunkSize) * w.cfg.BlockSize
	return store.ChunkKey{
		CX: mathx.FloorInt(float64(p[0]) / span),
		CY: mathx.FloorInt(float64(p[1]) / span),
		CZ: mathx.FloorInt(float64(p[2]) / span),
	}
}

// BlockPosAt maps a scene-space position to world voxel coordinates.
func (w *World) BlockPosAt(p mgl32.Vec3) [3]int {
	bs := w.cfg.BlockSize
	return [3]int{
		mathx.FloorInt(float64(p[0]) / bs),
		mathx.FloorInt(float64(p[1]) / bs),
		mathx.FloorInt(float64(p[2]) / bs),
	}
}

func (w *World) sceneOrigin(origin [3]int) mgl32.Vec3 {
	bs := float32(w.cfg.BlockSize)
	return mgl32.Vec3{float32(origin[0]) * bs, float32(origin[1]) * bs, float32(origin[2]) * bs}
}

// Wait blocks until background load passes and pending edits finish.
func (w *World) Wait() { w.bg.Wait() }

// Close waits for background work, stops the generation pool and releases
// every mesh. The world cannot be used afterwards.
func (w *World) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.bg.Wait()
	w.pool.StopAndWait()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks.Each(func(ch *store.Chunk) { ch.Mesh = nil })
	w.scene.Clear()
	w.chunks = store.NewChunkStore(w.cfg.ChunkSize)
}
