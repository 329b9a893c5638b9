package tuning

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ChunkSize int     `yaml:"chunk_size"`
	BlockSize float64 `yaml:"block_size"`

	RenderDistance         int `yaml:"render_distance"`
	VerticalRenderDistance int `yaml:"vertical_render_distance"`
	MaxChunksToKeep        int `yaml:"max_chunks_to_keep"`
	ChunkUnloadDelayMs     int `yaml:"chunk_unload_delay_ms"`
	MaxRebuildsPerFrame    int `yaml:"max_rebuilds_per_frame"`

	GenerationWorkers int `yaml:"generation_workers"`
	FrameRateHz       int `yaml:"frame_rate_hz"`

	ViewerEditRate        float64 `yaml:"viewer_edit_rate"`
	ViewerEditBurst       int     `yaml:"viewer_edit_burst"`
	ViewerChunksPerSecond float64 `yaml:"viewer_chunks_per_second"`
}

func Defaults() Tuning {
	return Tuning{
		ChunkSize:              16,
		BlockSize:              1,
		RenderDistance:         3,
		VerticalRenderDistance: 2,
		ChunkUnloadDelayMs:     30000,
		MaxRebuildsPerFrame:    2,
		FrameRateHz:            30,
		ViewerEditRate:         20,
		ViewerEditBurst:        40,
		ViewerChunksPerSecond:  120,
	}
}

// Load reads path over Defaults, then normalizes and validates the result.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills derived zero values.
func (t *Tuning) Normalize() {
	if t.MaxChunksToKeep <= 0 {
		t.MaxChunksToKeep = DerivedMaxChunks(t.RenderDistance, t.VerticalRenderDistance)
	}
	if t.GenerationWorkers <= 0 {
		t.GenerationWorkers = runtime.NumCPU()
	}
}

func (t Tuning) Validate() error {
	switch {
	case t.ChunkSize < 1:
		return errors.New("chunk_size must be >= 1")
	case t.BlockSize <= 0:
		return errors.New("block_size must be > 0")
	case t.RenderDistance < 0 || t.VerticalRenderDistance < 0:
		return errors.New("render distances must be >= 0")
	case t.MaxRebuildsPerFrame < 1:
		return errors.New("max_rebuilds_per_frame must be >= 1")
	case t.ChunkUnloadDelayMs < 0:
		return errors.New("chunk_unload_delay_ms must be >= 0")
	case t.FrameRateHz < 1 || t.FrameRateHz > 240:
		return errors.New("frame_rate_hz must be in [1,240]")
	case t.ViewerEditRate < 0 || t.ViewerEditBurst < 0 || t.ViewerChunksPerSecond < 0:
		return errors.New("viewer limits must be >= 0")
	}
	shell := (2*t.RenderDistance + 1) * (2*t.RenderDistance + 1) * (2*t.VerticalRenderDistance + 1)
	if t.MaxChunksToKeep > 0 && t.MaxChunksToKeep < shell {
		return fmt.Errorf("max_chunks_to_keep %d is below the active shell size %d", t.MaxChunksToKeep, shell)
	}
	return nil
}

// DerivedMaxChunks keeps one ring of margin beyond the shell on every axis.
func DerivedMaxChunks(r, v int) int {
	w := 2*r + 3
	return w * w * (2*v + 3)
}

func (t Tuning) UnloadDelay() time.Duration {
	return time.Duration(t.ChunkUnloadDelayMs) * time.Millisecond
}

func (t Tuning) FrameInterval() time.Duration {
	return time.Second / time.Duration(t.FrameRateHz)
}
