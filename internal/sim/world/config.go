package world

import (
	"log"
	"time"

	"kiddoverse.ai/internal/sim/tuning"
)

type WorldConfig struct {
	ID    string
	Theme string
	Seed  int64

	ChunkSize int
	BlockSize float64

	RenderDistance         int
	VerticalRenderDistance int
	MaxChunks              int
	UnloadDelay            time.Duration
	MaxRebuildsPerFrame    int

	GenerationWorkers int
	FrameRateHz       int

	// Logger receives invariant violations and lookup misses. Nil means
	// log.Default().
	Logger *log.Logger
}

// ConfigFromTuning copies the streaming knobs of t into a WorldConfig.
func ConfigFromTuning(t tuning.Tuning, theme string, seed int64) WorldConfig {
	return WorldConfig{
		Theme:                  theme,
		Seed:                   seed,
		ChunkSize:              t.ChunkSize,
		BlockSize:              t.BlockSize,
		RenderDistance:         t.RenderDistance,
		VerticalRenderDistance: t.VerticalRenderDistance,
		MaxChunks:              t.MaxChunksToKeep,
		UnloadDelay:            t.UnloadDelay(),
		MaxRebuildsPerFrame:    t.MaxRebuildsPerFrame,
		GenerationWorkers:      t.GenerationWorkers,
		FrameRateHz:            t.FrameRateHz,
	}
}

func (c *WorldConfig) applyDefaults() {
	d := tuning.Defaults()
	if c.Theme == "" {
		c.Theme = "DEFAULT"
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.BlockSize <= 0 {
		c.BlockSize = d.BlockSize
	}
	if c.RenderDistance < 0 {
		c.RenderDistance = 0
	}
	if c.VerticalRenderDistance < 0 {
		c.VerticalRenderDistance = 0
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = tuning.DerivedMaxChunks(c.RenderDistance, c.VerticalRenderDistance)
	}
	if c.UnloadDelay < 0 {
		c.UnloadDelay = 0
	}
	if c.MaxRebuildsPerFrame <= 0 {
		c.MaxRebuildsPerFrame = d.MaxRebuildsPerFrame
	}
	if c.GenerationWorkers <= 0 {
		c.GenerationWorkers = 4
	}
	if c.FrameRateHz <= 0 {
		c.FrameRateHz = d.FrameRateHz
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}
